// Package daemon hosts the long-running conveyor process. It enforces
// single-instance execution with a lock file, serves the HTTP API, runs
// the periodic rescue sweep, and optionally drives the orchestrator.
package daemon
