// Package ops holds the registry of business operations the distributed
// dispatcher can route. An operation is an opaque callable from the
// dispatcher's point of view: it receives the validated argument map and
// returns a JSON-serializable payload or a taxonomy error.
//
// The caller's permission set is threaded through the context as an
// opaque value. The dispatch core never inspects it; only operation
// handlers that enforce access control read it back.
//
// The package also provides the list-shaping helpers (offset, limit,
// sort, search) shared by collection-returning operations.
package ops
