package migration

import (
	"errors"
	"fmt"

	"github.com/temirov/corpusmigrate/internal/versioning"
)

// ProblemKind classifies a per-artifact migration failure.
type ProblemKind string

// Problem kinds reported for artifacts that could not be migrated.
const (
	KindVersionUndeterminable  ProblemKind = "VersionUndeterminable"
	KindNoApplicableStrategy   ProblemKind = "NoApplicableStrategy"
	KindMigrationDidNotAdvance ProblemKind = "MigrationDidNotAdvance"
	KindTargetOvershot         ProblemKind = "TargetOvershot"
	KindIOFailure              ProblemKind = "IOFailure"
	KindValidationFailure      ProblemKind = "ValidationFailure"
	KindStrategyFailure        ProblemKind = "StrategyFailure"
	KindIdentityCollision      ProblemKind = "IdentityCollision"
)

const (
	noApplicableStrategyMessageConstant    = "no migration strategy accepts the artifact version"
	migrationDidNotAdvanceMessageConstant  = "migration strategy did not advance the artifact version"
	targetOvershotMessageConstant          = "migration strategy advanced the artifact past the target version"
	ioFailureMessageConstant               = "artifact input/output failed"
	validationFailureMessageConstant       = "external validator rejected a value"
	strategyFailureMessageConstant         = "migration strategy failed"
	identityCollisionMessageConstant       = "migrated identity is already held by another artifact"
	duplicateStrategyMessageConstant       = "a migration strategy is already registered for this version"
	invalidTargetVersionMessageConstant    = "target version must not be negative"
	invalidStrategyMessageConstant         = "invalid migration strategy"
	kindPathErrorTemplateConstant          = "%s: %s"
	noApplicableStrategyTemplateConstant   = "%s: %s at version %d"
	didNotAdvanceErrorTemplateConstant     = "%s: %s reported version %d after %s"
	targetOvershotErrorTemplateConstant    = "%s: %s reached version %d after %s"
	validationFailureErrorTemplateConstant = "%s: %s rejected %q"
	identityCollisionErrorTemplateConstant = "%s: %s would become %q, held by %s"
	pathCauseErrorTemplateConstant         = "%s: %s: %v"
	unknownKindErrorTemplateConstant       = "%s: %v"
)

var (
	// ErrVersionUndeterminable matches failures where no detector recognized the artifact.
	ErrVersionUndeterminable = versioning.ErrVersionUndeterminable
	// ErrNoDetectorsRegistered is a usage error raised before any artifact is touched.
	ErrNoDetectorsRegistered = versioning.ErrNoDetectorsRegistered
	// ErrNoApplicableStrategy matches artifacts whose version has no registered strategy.
	ErrNoApplicableStrategy = errors.New(noApplicableStrategyMessageConstant)
	// ErrMigrationDidNotAdvance matches strategies that returned a version not greater than their input.
	ErrMigrationDidNotAdvance = errors.New(migrationDidNotAdvanceMessageConstant)
	// ErrTargetOvershot matches strategies that advanced beyond the engine target.
	ErrTargetOvershot = errors.New(targetOvershotMessageConstant)
	// ErrIOFailure matches artifacts that could not be read, stat'ed, or written.
	ErrIOFailure = errors.New(ioFailureMessageConstant)
	// ErrValidationFailure matches values rejected by the identifier validator.
	ErrValidationFailure = errors.New(validationFailureMessageConstant)
	// ErrStrategyFailure matches any other error raised by a strategy.
	ErrStrategyFailure = errors.New(strategyFailureMessageConstant)
	// ErrIdentityCollision matches artifacts whose migrated identity another artifact of the corpus already holds.
	ErrIdentityCollision = errors.New(identityCollisionMessageConstant)
	// ErrDuplicateStrategy is returned when two strategies claim the same source version.
	ErrDuplicateStrategy = errors.New(duplicateStrategyMessageConstant)
	// ErrInvalidTargetVersion is returned for negative targets.
	ErrInvalidTargetVersion = errors.New(invalidTargetVersionMessageConstant)
	// ErrInvalidStrategy is returned for strategies with malformed descriptors.
	ErrInvalidStrategy = errors.New(invalidStrategyMessageConstant)
)

var problemKindSentinels = map[ProblemKind]error{
	KindVersionUndeterminable:  ErrVersionUndeterminable,
	KindNoApplicableStrategy:   ErrNoApplicableStrategy,
	KindMigrationDidNotAdvance: ErrMigrationDidNotAdvance,
	KindTargetOvershot:         ErrTargetOvershot,
	KindIOFailure:              ErrIOFailure,
	KindValidationFailure:      ErrValidationFailure,
	KindStrategyFailure:        ErrStrategyFailure,
	KindIdentityCollision:      ErrIdentityCollision,
}

var orderedProblemKinds = []ProblemKind{
	KindVersionUndeterminable,
	KindNoApplicableStrategy,
	KindMigrationDidNotAdvance,
	KindTargetOvershot,
	KindIOFailure,
	KindValidationFailure,
	KindStrategyFailure,
	KindIdentityCollision,
}

// Sentinel returns the error value matched by errors.Is for the kind.
func (kind ProblemKind) Sentinel() error {
	return problemKindSentinels[kind]
}

// MigrationError describes why a single artifact could not be migrated.
//
// It unwraps to the sentinel of its Kind and to Cause, so callers can match
// either the failure class or the underlying error.
type MigrationError struct {
	Kind     ProblemKind
	Path     string
	Version  int
	Strategy string
	Value    string
	Holder   string
	Cause    error
}

// Error describes the failure.
func (migrationError *MigrationError) Error() string {
	sentinelMessage := string(migrationError.Kind)
	if sentinel := migrationError.Kind.Sentinel(); sentinel != nil {
		sentinelMessage = sentinel.Error()
	}

	switch migrationError.Kind {
	case KindVersionUndeterminable:
		return fmt.Sprintf(kindPathErrorTemplateConstant, sentinelMessage, migrationError.Path)
	case KindNoApplicableStrategy:
		return fmt.Sprintf(noApplicableStrategyTemplateConstant, sentinelMessage, migrationError.Path, migrationError.Version)
	case KindMigrationDidNotAdvance:
		return fmt.Sprintf(didNotAdvanceErrorTemplateConstant, sentinelMessage, migrationError.Path, migrationError.Version, migrationError.Strategy)
	case KindTargetOvershot:
		return fmt.Sprintf(targetOvershotErrorTemplateConstant, sentinelMessage, migrationError.Path, migrationError.Version, migrationError.Strategy)
	case KindValidationFailure:
		return fmt.Sprintf(validationFailureErrorTemplateConstant, sentinelMessage, migrationError.Path, migrationError.Value)
	case KindIdentityCollision:
		return fmt.Sprintf(identityCollisionErrorTemplateConstant, sentinelMessage, migrationError.Path, migrationError.Value, migrationError.Holder)
	}

	if migrationError.Cause == nil {
		return fmt.Sprintf(kindPathErrorTemplateConstant, sentinelMessage, migrationError.Path)
	}
	if len(migrationError.Path) == 0 {
		return fmt.Sprintf(unknownKindErrorTemplateConstant, sentinelMessage, migrationError.Cause)
	}
	return fmt.Sprintf(pathCauseErrorTemplateConstant, sentinelMessage, migrationError.Path, migrationError.Cause)
}

// Unwrap exposes the kind sentinel and the cause.
func (migrationError *MigrationError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if sentinel := migrationError.Kind.Sentinel(); sentinel != nil {
		unwrapped = append(unwrapped, sentinel)
	}
	if migrationError.Cause != nil {
		unwrapped = append(unwrapped, migrationError.Cause)
	}
	return unwrapped
}

// NewValidationFailure reports a value rejected by an external validator.
// Strategies may return it directly; the engine fills in the artifact path.
func NewValidationFailure(value string, cause error) error {
	return &MigrationError{Kind: KindValidationFailure, Value: value, Cause: cause}
}

// KindOf classifies an error returned for an artifact. Unclassified errors are strategy failures.
func KindOf(err error) ProblemKind {
	var migrationError *MigrationError
	if errors.As(err, &migrationError) {
		return migrationError.Kind
	}
	for _, kind := range orderedProblemKinds {
		if errors.Is(err, kind.Sentinel()) {
			return kind
		}
	}
	return KindStrategyFailure
}

// Problem records one artifact that failed during a folder migration.
type Problem struct {
	Kind ProblemKind
	Path string
	Err  error
}

// Error describes the problem.
func (problem Problem) Error() string {
	if problem.Err == nil {
		return fmt.Sprintf(kindPathErrorTemplateConstant, problem.Kind, problem.Path)
	}
	return problem.Err.Error()
}

// Unwrap exposes the underlying failure.
func (problem Problem) Unwrap() error {
	return problem.Err
}

func newProblem(path string, err error) Problem {
	return Problem{Kind: KindOf(err), Path: path, Err: err}
}
