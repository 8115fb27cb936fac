// Package telemetry provides the observability stack for FleetMesh
// manager nodes: structured logging (zerolog), Prometheus metrics for
// the dispatch core, and OpenTelemetry tracing with OTLP or stdout
// export.
//
// Components take their logger explicitly and thread it through
// contexts; metrics and tracer instances are nil-safe so instrumented
// code paths never guard their calls.
package telemetry
