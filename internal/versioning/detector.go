package versioning

import "fmt"

const (
	undeterminableVersionMessageConstant  = "unable to determine artifact version"
	undeterminableVersionTemplateConstant = "%s: %s"
)

// Artifact is the read-only view of a persisted artifact handed to detectors.
type Artifact struct {
	Path    string
	Content []byte
}

// DetectionResult carries either a detected version or an indeterminate outcome.
type DetectionResult struct {
	version     int
	determinate bool
}

// Detected builds a determinate result. Negative versions are treated as indeterminate.
func Detected(version int) DetectionResult {
	if version < 0 {
		return Indeterminate()
	}
	return DetectionResult{version: version, determinate: true}
}

// Indeterminate builds a result signalling the detector is not confident.
func Indeterminate() DetectionResult {
	return DetectionResult{}
}

// Version returns the detected version and whether the result is determinate.
func (result DetectionResult) Version() (int, bool) {
	return result.version, result.determinate
}

// IsDeterminate reports whether the detector produced a version.
func (result DetectionResult) IsDeterminate() bool {
	return result.determinate
}

// String renders the result for diagnostics.
func (result DetectionResult) String() string {
	if !result.determinate {
		return "indeterminate"
	}
	return fmt.Sprintf("%d", result.version)
}

// VersionDetector inspects an artifact and reports its version.
//
// Ceiling is the highest version the detector can vouch for; detectors with
// higher ceilings are consulted first. DetectVersion must be pure.
type VersionDetector interface {
	Ceiling() int
	DetectVersion(artifact Artifact) DetectionResult
}

// FuncDetector adapts a function into a VersionDetector.
type FuncDetector struct {
	CeilingValue int
	DetectFunc   func(artifact Artifact) DetectionResult
}

// Ceiling returns the configured ceiling.
func (detector FuncDetector) Ceiling() int {
	return detector.CeilingValue
}

// DetectVersion delegates to DetectFunc.
func (detector FuncDetector) DetectVersion(artifact Artifact) DetectionResult {
	if detector.DetectFunc == nil {
		return Indeterminate()
	}
	return detector.DetectFunc(artifact)
}

// UndeterminableVersionError reports that no detector was confident about an artifact.
type UndeterminableVersionError struct {
	Path string
}

// Error describes the undeterminable artifact.
func (undeterminableError UndeterminableVersionError) Error() string {
	return fmt.Sprintf(undeterminableVersionTemplateConstant, undeterminableVersionMessageConstant, undeterminableError.Path)
}

// Is matches ErrVersionUndeterminable.
func (undeterminableError UndeterminableVersionError) Is(target error) bool {
	return target == ErrVersionUndeterminable
}
