package versioning

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	markerExpressionRequiredMessageConstant = "marker expression must be provided"
	markerExpressionCompileTemplateConstant = "invalid marker expression %q: %w"
	markerExpressionGroupTemplateConstant   = "marker expression %q must declare a capture group for the version"
	fieldPathRequiredMessageConstant        = "field path must be provided"
	fieldPathSeparatorConstant              = "."
)

var (
	errMarkerExpressionRequired = errors.New(markerExpressionRequiredMessageConstant)
	errFieldPathRequired        = errors.New(fieldPathRequiredMessageConstant)
)

// MarkerDetector reads the version from the first capture group of a regular expression.
type MarkerDetector struct {
	expression *regexp.Regexp
	ceiling    int
}

// NewMarkerDetector compiles the expression and validates it exposes a capture group.
func NewMarkerDetector(expression string, ceiling int) (*MarkerDetector, error) {
	trimmedExpression := strings.TrimSpace(expression)
	if len(trimmedExpression) == 0 {
		return nil, errMarkerExpressionRequired
	}

	compiledExpression, compileError := regexp.Compile(trimmedExpression)
	if compileError != nil {
		return nil, fmt.Errorf(markerExpressionCompileTemplateConstant, trimmedExpression, compileError)
	}
	if compiledExpression.NumSubexp() < 1 {
		return nil, fmt.Errorf(markerExpressionGroupTemplateConstant, trimmedExpression)
	}

	return &MarkerDetector{expression: compiledExpression, ceiling: ceiling}, nil
}

// Ceiling returns the configured ceiling.
func (detector *MarkerDetector) Ceiling() int {
	return detector.ceiling
}

// DetectVersion returns the marker value, or indeterminate when the marker is absent or malformed.
func (detector *MarkerDetector) DetectVersion(artifact Artifact) DetectionResult {
	submatches := detector.expression.FindSubmatch(artifact.Content)
	if len(submatches) < 2 {
		return Indeterminate()
	}
	return parseVersion(string(submatches[1]))
}

// YAMLFieldDetector reads the version from a dotted key path inside a YAML document.
type YAMLFieldDetector struct {
	fieldPath []string
	ceiling   int
}

// NewYAMLFieldDetector builds a detector for the provided dotted path, e.g. "metadata.schema_version".
func NewYAMLFieldDetector(fieldPath string, ceiling int) (*YAMLFieldDetector, error) {
	trimmedPath := strings.TrimSpace(fieldPath)
	if len(trimmedPath) == 0 {
		return nil, errFieldPathRequired
	}
	return &YAMLFieldDetector{fieldPath: strings.Split(trimmedPath, fieldPathSeparatorConstant), ceiling: ceiling}, nil
}

// Ceiling returns the configured ceiling.
func (detector *YAMLFieldDetector) Ceiling() int {
	return detector.ceiling
}

// DetectVersion decodes the document and walks the configured path.
func (detector *YAMLFieldDetector) DetectVersion(artifact Artifact) DetectionResult {
	var document map[string]any
	if decodeError := yaml.Unmarshal(artifact.Content, &document); decodeError != nil {
		return Indeterminate()
	}

	var current any = document
	for _, segment := range detector.fieldPath {
		mapping, isMapping := current.(map[string]any)
		if !isMapping {
			return Indeterminate()
		}
		value, exists := mapping[segment]
		if !exists {
			return Indeterminate()
		}
		current = value
	}

	switch typedValue := current.(type) {
	case int:
		return Detected(typedValue)
	case string:
		return parseVersion(typedValue)
	default:
		return Indeterminate()
	}
}

// FixedVersionDetector reports the same version for every artifact.
//
// Registered with the lowest ceiling it acts as the catch-all for legacy
// artifacts that carry no version marker at all.
type FixedVersionDetector struct {
	version int
	ceiling int
}

// NewFixedVersionDetector constructs a catch-all detector.
func NewFixedVersionDetector(version int, ceiling int) *FixedVersionDetector {
	return &FixedVersionDetector{version: version, ceiling: ceiling}
}

// Ceiling returns the configured ceiling.
func (detector *FixedVersionDetector) Ceiling() int {
	return detector.ceiling
}

// DetectVersion always reports the configured version.
func (detector *FixedVersionDetector) DetectVersion(Artifact) DetectionResult {
	return Detected(detector.version)
}

func parseVersion(rawValue string) DetectionResult {
	parsedVersion, parseError := strconv.Atoi(strings.TrimSpace(rawValue))
	if parseError != nil {
		return Indeterminate()
	}
	return Detected(parsedVersion)
}
