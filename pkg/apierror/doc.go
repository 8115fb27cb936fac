// Package apierror defines the structured error taxonomy shared by every
// FleetMesh API operation. Each failure class is identified by a numeric
// code drawn from a fixed per-subsystem range, resolves to a canned message
// template with optional remediation text, and can carry a per-node
// attribution map so that failures collected from a distributed fan-out are
// reported without losing which node produced which message.
//
// Errors come in two kinds:
//
//   - KindInternal: an unexpected failure inside FleetMesh itself or its
//     environment. Always a defect, never caused by the caller.
//   - KindUser: a well-formed rejection of a bad request. A normal outcome
//     that the transport layer renders as a client-facing error.
//
// The kind is orthogonal to the numeric code; both are carried explicitly
// rather than encoded in a type hierarchy so that handling can be checked
// exhaustively.
package apierror
