// Package cluster models the manager cluster topology consumed by the
// distributed dispatch core: node identities and roles, the Directory that
// resolves the topology fresh for every dispatch, and the Channel over
// which calls travel between manager nodes.
//
// The cluster follows a master/worker model. Exactly one node is the
// master; it is the only node authorized to resolve topology and
// coordinate fan-out. Workers execute forwarded or fanned-out calls but
// never resolve topology themselves.
//
// Membership changes between requests, so the Directory is consulted at
// dispatch time and its Snapshot is never cached across calls.
package cluster
