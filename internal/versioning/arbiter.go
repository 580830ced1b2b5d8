package versioning

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	noDetectorsRegisteredMessageConstant = "no version detectors registered"
	nilDetectorMessageConstant           = "version detector must not be nil"
	detectorQueriedLogMessageConstant    = "Version detector queried"
	versionDetectedLogMessageConstant    = "Artifact version detected"
	logFieldPathConstant                 = "path"
	logFieldCeilingConstant              = "ceiling"
	logFieldDetectorIndexConstant        = "detector_index"
	logFieldResultConstant               = "result"
	logFieldVersionConstant              = "version"
)

var (
	// ErrNoDetectorsRegistered is a usage error returned when detection runs without detectors.
	ErrNoDetectorsRegistered = errors.New(noDetectorsRegisteredMessageConstant)
	// ErrVersionUndeterminable is matched by UndeterminableVersionError.
	ErrVersionUndeterminable = errors.New(undeterminableVersionMessageConstant)
	errNilDetector           = errors.New(nilDetectorMessageConstant)
)

// VersionArbiter queries detectors from the highest ceiling to the lowest.
type VersionArbiter struct {
	mutex     sync.RWMutex
	detectors []VersionDetector
	logger    *zap.Logger
}

// NewVersionArbiter constructs an empty arbiter.
func NewVersionArbiter(logger *zap.Logger) *VersionArbiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionArbiter{logger: logger}
}

// Register adds a detector. Detectors sharing a ceiling keep their registration order.
func (arbiter *VersionArbiter) Register(detector VersionDetector) error {
	if detector == nil {
		return errNilDetector
	}

	arbiter.mutex.Lock()
	defer arbiter.mutex.Unlock()

	arbiter.detectors = append(arbiter.detectors, detector)
	sort.SliceStable(arbiter.detectors, func(leftIndex int, rightIndex int) bool {
		return arbiter.detectors[leftIndex].Ceiling() > arbiter.detectors[rightIndex].Ceiling()
	})
	return nil
}

// Len returns the number of registered detectors.
func (arbiter *VersionArbiter) Len() int {
	arbiter.mutex.RLock()
	defer arbiter.mutex.RUnlock()
	return len(arbiter.detectors)
}

// Ordered returns the detectors in query order.
func (arbiter *VersionArbiter) Ordered() []VersionDetector {
	arbiter.mutex.RLock()
	defer arbiter.mutex.RUnlock()
	return append([]VersionDetector(nil), arbiter.detectors...)
}

// Detect returns the version reported by the first confident detector.
func (arbiter *VersionArbiter) Detect(artifact Artifact) (int, error) {
	orderedDetectors := arbiter.Ordered()
	if len(orderedDetectors) == 0 {
		return 0, ErrNoDetectorsRegistered
	}

	for detectorIndex, detector := range orderedDetectors {
		result := detector.DetectVersion(artifact)
		arbiter.logger.Debug(
			detectorQueriedLogMessageConstant,
			zap.String(logFieldPathConstant, artifact.Path),
			zap.Int(logFieldDetectorIndexConstant, detectorIndex),
			zap.Int(logFieldCeilingConstant, detector.Ceiling()),
			zap.Stringer(logFieldResultConstant, result),
		)

		if version, determinate := result.Version(); determinate {
			arbiter.logger.Debug(
				versionDetectedLogMessageConstant,
				zap.String(logFieldPathConstant, artifact.Path),
				zap.Int(logFieldVersionConstant, version),
			)
			return version, nil
		}
	}

	return 0, UndeterminableVersionError{Path: artifact.Path}
}
