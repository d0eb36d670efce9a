// Package config defines the format-agnostic pipeline model, along with the
// Loader interface for reading it from various sources.
//
// The `config.Pipeline` is the single source of truth for the `matrix`,
// `trigger` and `graph` packages. Concrete loaders for YAML and HCL live in
// separate packages and only ever produce values of the types defined here.
package config
