// Package config loads and validates FleetMesh manager configuration.
//
// The main configuration file is CUE or YAML; both decode into the same
// Config struct and pass the same structural validation. Cluster
// membership can be listed statically in the configuration or produced
// by a Starlark inventory script, which lets larger fleets compute
// their node lists instead of maintaining them by hand.
package config
