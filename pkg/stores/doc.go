// Package stores provides the persistence layer for FleetMesh manager
// nodes: a SQLite-backed audit trail of dispatches and their per-node
// outcomes, plus the persisted node registry the directory seeds from.
package stores
