// Package versioning determines which schema version an artifact holds.
//
// Detectors declare a confidence ceiling and answer either a concrete version
// or an indeterminate result. VersionArbiter queries registered detectors in
// ceiling-descending order, keeping registration order for equal ceilings, and
// accepts the first determinate answer so that narrow, format-aware detectors
// preempt generic catch-all detectors.
package versioning
