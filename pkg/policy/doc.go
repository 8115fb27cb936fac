// Package policy answers "may this caller run this operation" for the
// management API, using OPA Rego policies. The engine ships with a
// built-in role-grant policy and can load site policies from a
// directory, hot-reloading them when files change.
//
// The engine also derives a caller's effective permission set as an
// opaque JSON document. The dispatch core threads that document to
// forwarded calls without interpreting it; only this package gives it
// meaning.
package policy
