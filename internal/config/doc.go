// Package config loads, validates, and normalizes conveyor configuration.
//
// Configuration comes from a TOML file (~/.config/conveyor/config.toml by
// default) layered over built-in defaults, with a small set of environment
// overrides applied last so deployments can tune queue behavior without
// shipping a file.
package config
