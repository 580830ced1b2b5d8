// Package migration advances versioned corpus artifacts to a single target
// version.
//
// An Engine arbitrates artifact versions through registered detectors and
// chains registered strategies in memory before committing the result with
// one atomic write. An Orchestrator runs the engine over every matching file
// in a corpus root, collects per-artifact Problems without aborting the
// batch, and appends the applied steps to the corpus audit log.
package migration
