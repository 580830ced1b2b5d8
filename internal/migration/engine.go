package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/bluele/gcache"
	"go.uber.org/zap"

	"github.com/temirov/corpusmigrate/internal/artifact"
	"github.com/temirov/corpusmigrate/internal/versioning"
)

const (
	defaultDetectionCacheSizeConstant     = 1024
	strategyPanicTemplateConstant         = "strategy panicked: %v"
	verificationMismatchTemplateConstant  = "%w: detected %s, expected %d"
	writtenVersionMismatchMessageConstant = "written artifact does not detect as the target version"
	strategyAppliedLogMessageConstant     = "Migration strategy applied"
	artifactUpToDateLogMessageConstant    = "Artifact already at target version"
	artifactCommittedLogMessageConstant   = "Artifact migration written"
	detectionCacheHitLogMessageConstant   = "Artifact version served from cache"
	logFieldPathConstant                  = "path"
	logFieldVersionConstant               = "version"
	logFieldStrategyConstant              = "strategy"
	logFieldFromVersionConstant           = "from_version"
	logFieldToVersionConstant             = "to_version"
	logFieldStepCountConstant             = "steps"
)

var errWrittenVersionMismatch = errors.New(writtenVersionMismatchMessageConstant)

// EngineOptions configures an Engine.
type EngineOptions struct {
	TargetVersion      int
	Store              *artifact.Store
	Logger             *zap.Logger
	Validator          IdentifierValidator
	IdentityResolver   IdentityResolver
	VerifyWrites       bool
	DetectionCacheSize int
}

// AppliedStep records one strategy application inside an artifact chain.
type AppliedStep struct {
	Strategy    string
	FromVersion int
	ToVersion   int
	OldIdentity string
	NewIdentity string
}

// ArtifactOutcome summarizes what happened to one artifact.
type ArtifactOutcome struct {
	Path             string
	OriginalVersion  int
	FinalVersion     int
	OriginalIdentity string
	FinalIdentity    string
	Steps            []AppliedStep
	Written          bool
}

// Migrated reports whether at least one strategy was applied.
func (outcome ArtifactOutcome) Migrated() bool {
	return len(outcome.Steps) > 0
}

// PreparedArtifact holds a chain result computed in memory and not yet written.
type PreparedArtifact struct {
	Outcome  ArtifactOutcome
	content  []byte
	cacheKey detectionCacheKey
}

// ArtifactPlan lists the strategies that would bring an artifact to the target version.
type ArtifactPlan struct {
	Path    string
	Version int
	Steps   []StrategyDescriptor
}

// Engine detects artifact versions and advances artifacts to the target version.
type Engine struct {
	targetVersion    int
	store            *artifact.Store
	logger           *zap.Logger
	arbiter          *versioning.VersionArbiter
	registry         *StrategyRegistry
	validator        IdentifierValidator
	identityResolver IdentityResolver
	verifyWrites     bool
	detectionCache   gcache.Cache
}

type detectionCacheKey struct {
	path             string
	size             int64
	modifiedUnixNano int64
}

// NewEngine constructs an Engine without detectors or strategies.
func NewEngine(options EngineOptions) (*Engine, error) {
	if options.TargetVersion < 0 {
		return nil, ErrInvalidTargetVersion
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := options.Store
	if store == nil {
		store = artifact.NewStore(nil)
	}

	identityResolver := options.IdentityResolver
	if identityResolver == nil {
		identityResolver = DefaultIdentity
	}

	var detectionCache gcache.Cache
	switch {
	case options.DetectionCacheSize == 0:
		detectionCache = gcache.New(defaultDetectionCacheSizeConstant).LRU().Build()
	case options.DetectionCacheSize > 0:
		detectionCache = gcache.New(options.DetectionCacheSize).LRU().Build()
	}

	return &Engine{
		targetVersion:    options.TargetVersion,
		store:            store,
		logger:           logger,
		arbiter:          versioning.NewVersionArbiter(logger),
		registry:         NewStrategyRegistry(),
		validator:        options.Validator,
		identityResolver: identityResolver,
		verifyWrites:     options.VerifyWrites,
		detectionCache:   detectionCache,
	}, nil
}

// TargetVersion returns the version every migrated artifact ends at.
func (engine *Engine) TargetVersion() int {
	return engine.targetVersion
}

// Store returns the artifact store used for reads and writes.
func (engine *Engine) Store() *artifact.Store {
	return engine.store
}

// RegisterVersionStrategy adds a version detector.
func (engine *Engine) RegisterVersionStrategy(detector versioning.VersionDetector) error {
	return engine.arbiter.Register(detector)
}

// RegisterMigrationStrategy adds a migration strategy; a version may be claimed by one strategy only.
func (engine *Engine) RegisterMigrationStrategy(strategy MigrationStrategy) error {
	return engine.registry.Register(strategy)
}

// DetectorCount reports the number of registered detectors.
func (engine *Engine) DetectorCount() int {
	return engine.arbiter.Len()
}

// Detectors returns the detectors in query order.
func (engine *Engine) Detectors() []versioning.VersionDetector {
	return engine.arbiter.Ordered()
}

// Strategies returns the registered strategy descriptors.
func (engine *Engine) Strategies() []StrategyDescriptor {
	return engine.registry.Descriptors()
}

// IdentityOf returns the identity an artifact at path starts a migration with.
func (engine *Engine) IdentityOf(path string) string {
	return engine.identityResolver(path)
}

// GetVersion detects the version of the artifact at path.
func (engine *Engine) GetVersion(executionContext context.Context, path string) (int, error) {
	if readinessError := engine.checkReady(executionContext); readinessError != nil {
		return 0, readinessError
	}

	info, statError := engine.store.Stat(path)
	if statError != nil {
		return 0, &MigrationError{Kind: KindIOFailure, Path: path, Cause: statError}
	}

	cacheKey := newDetectionCacheKey(path, info)
	if cachedVersion, cached := engine.cachedVersion(cacheKey); cached {
		engine.logger.Debug(detectionCacheHitLogMessageConstant, zap.String(logFieldPathConstant, path), zap.Int(logFieldVersionConstant, cachedVersion))
		return cachedVersion, nil
	}

	content, readError := engine.store.Read(path)
	if readError != nil {
		return 0, &MigrationError{Kind: KindIOFailure, Path: path, Cause: readError}
	}
	return engine.detectContent(cacheKey, content)
}

// NeedsMigration reports whether the artifact is at a version other than the target.
func (engine *Engine) NeedsMigration(executionContext context.Context, path string) (bool, error) {
	version, versionError := engine.GetVersion(executionContext, path)
	if versionError != nil {
		return false, versionError
	}
	return version != engine.targetVersion, nil
}

// MigrateArtifact advances the artifact at path to the target version.
//
// Every strategy runs in memory; the result replaces the artifact in a single
// atomic write only when the whole chain succeeded. On any error the artifact
// is left byte-identical.
func (engine *Engine) MigrateArtifact(executionContext context.Context, path string) (ArtifactOutcome, error) {
	prepared, prepareError := engine.PrepareArtifact(executionContext, path)
	if prepareError != nil {
		return prepared.Outcome, prepareError
	}
	return engine.CommitArtifact(prepared)
}

// PreviewArtifact runs the chain for path in memory without writing.
func (engine *Engine) PreviewArtifact(executionContext context.Context, path string) (ArtifactOutcome, error) {
	prepared, prepareError := engine.PrepareArtifact(executionContext, path)
	return prepared.Outcome, prepareError
}

// PrepareArtifact detects the artifact version and runs its chain in memory.
// Nothing is written until the result is passed to CommitArtifact.
func (engine *Engine) PrepareArtifact(executionContext context.Context, path string) (PreparedArtifact, error) {
	if readinessError := engine.checkReady(executionContext); readinessError != nil {
		return PreparedArtifact{Outcome: ArtifactOutcome{Path: path}}, readinessError
	}

	info, statError := engine.store.Stat(path)
	if statError != nil {
		return PreparedArtifact{Outcome: ArtifactOutcome{Path: path}}, &MigrationError{Kind: KindIOFailure, Path: path, Cause: statError}
	}
	content, readError := engine.store.Read(path)
	if readError != nil {
		return PreparedArtifact{Outcome: ArtifactOutcome{Path: path}}, &MigrationError{Kind: KindIOFailure, Path: path, Cause: readError}
	}

	cacheKey := newDetectionCacheKey(path, info)
	version, detectError := engine.detectContent(cacheKey, content)
	if detectError != nil {
		return PreparedArtifact{Outcome: ArtifactOutcome{Path: path}}, detectError
	}

	identity := engine.identityResolver(path)
	prepared := PreparedArtifact{
		Outcome: ArtifactOutcome{
			Path:             path,
			OriginalVersion:  version,
			FinalVersion:     version,
			OriginalIdentity: identity,
			FinalIdentity:    identity,
		},
		cacheKey: cacheKey,
	}

	if version == engine.targetVersion {
		engine.logger.Debug(artifactUpToDateLogMessageConstant, zap.String(logFieldPathConstant, path), zap.Int(logFieldVersionConstant, version))
		return prepared, nil
	}

	finalDocument, steps, chainError := engine.runChain(executionContext, Document{Path: path, Identity: identity, Version: version, Content: content})
	if chainError != nil {
		return prepared, chainError
	}
	prepared.Outcome.Steps = steps
	prepared.Outcome.FinalVersion = finalDocument.Version
	prepared.Outcome.FinalIdentity = finalDocument.Identity
	prepared.content = finalDocument.Content
	return prepared, nil
}

// CommitArtifact atomically writes a prepared chain result. Artifacts that
// needed no strategy are returned unchanged without touching the store.
func (engine *Engine) CommitArtifact(prepared PreparedArtifact) (ArtifactOutcome, error) {
	outcome := prepared.Outcome
	if !outcome.Migrated() {
		return outcome, nil
	}

	var verifier artifact.ContentVerifier
	if engine.verifyWrites {
		verifier = engine.targetVerifier(outcome.Path)
	}
	writeError := engine.store.WriteAtomically(outcome.Path, prepared.content, verifier)
	engine.forget(prepared.cacheKey)
	if writeError != nil {
		var migrationError *MigrationError
		if errors.As(writeError, &migrationError) {
			return outcome, writeError
		}
		return outcome, &MigrationError{Kind: KindIOFailure, Path: outcome.Path, Cause: writeError}
	}
	outcome.Written = true

	engine.logger.Debug(
		artifactCommittedLogMessageConstant,
		zap.String(logFieldPathConstant, outcome.Path),
		zap.Int(logFieldFromVersionConstant, outcome.OriginalVersion),
		zap.Int(logFieldToVersionConstant, outcome.FinalVersion),
		zap.Int(logFieldStepCountConstant, len(outcome.Steps)),
	)
	return outcome, nil
}

// Plan returns the descriptors that would advance an artifact at version to the target.
func (engine *Engine) Plan(version int) ([]StrategyDescriptor, error) {
	planned := make([]StrategyDescriptor, 0)
	currentVersion := version
	for currentVersion != engine.targetVersion {
		strategy, found := engine.registry.Lookup(currentVersion)
		if !found {
			return planned, &MigrationError{Kind: KindNoApplicableStrategy, Version: currentVersion}
		}
		descriptor := strategy.Descriptor()
		if descriptor.ToVersion <= currentVersion {
			return planned, &MigrationError{Kind: KindMigrationDidNotAdvance, Version: descriptor.ToVersion, Strategy: descriptor.Name}
		}
		if descriptor.ToVersion > engine.targetVersion {
			return planned, &MigrationError{Kind: KindTargetOvershot, Version: descriptor.ToVersion, Strategy: descriptor.Name}
		}
		planned = append(planned, descriptor)
		currentVersion = descriptor.ToVersion
	}
	return planned, nil
}

// PlanArtifact detects the artifact version and returns its plan.
func (engine *Engine) PlanArtifact(executionContext context.Context, path string) (ArtifactPlan, error) {
	version, versionError := engine.GetVersion(executionContext, path)
	if versionError != nil {
		return ArtifactPlan{Path: path}, versionError
	}

	steps, planError := engine.Plan(version)
	if planError != nil {
		var migrationError *MigrationError
		if errors.As(planError, &migrationError) {
			migrationError.Path = path
		}
		return ArtifactPlan{Path: path, Version: version, Steps: steps}, planError
	}
	return ArtifactPlan{Path: path, Version: version, Steps: steps}, nil
}

func (engine *Engine) checkReady(executionContext context.Context) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if engine.arbiter.Len() == 0 {
		return ErrNoDetectorsRegistered
	}
	return nil
}

func (engine *Engine) runChain(executionContext context.Context, document Document) (Document, []AppliedStep, error) {
	current := document
	steps := make([]AppliedStep, 0, 1)

	for current.Version != engine.targetVersion {
		strategy, found := engine.registry.Lookup(current.Version)
		if !found {
			return current, nil, &MigrationError{Kind: KindNoApplicableStrategy, Path: current.Path, Version: current.Version}
		}
		descriptor := strategy.Descriptor()

		next, applyError := applyStrategy(executionContext, strategy, current)
		if applyError != nil {
			return current, nil, classifyStrategyError(current.Path, current.Version, descriptor.Name, applyError)
		}
		next.Path = current.Path
		if len(strings.TrimSpace(next.Identity)) == 0 {
			next.Identity = current.Identity
		}

		if next.Version <= current.Version {
			return current, nil, &MigrationError{Kind: KindMigrationDidNotAdvance, Path: current.Path, Version: next.Version, Strategy: descriptor.Name}
		}
		if next.Version > engine.targetVersion {
			return current, nil, &MigrationError{Kind: KindTargetOvershot, Path: current.Path, Version: next.Version, Strategy: descriptor.Name}
		}
		if next.Identity != current.Identity && engine.validator != nil {
			if validationError := engine.validator.Validate(next.Identity); validationError != nil {
				return current, nil, &MigrationError{Kind: KindValidationFailure, Path: current.Path, Version: current.Version, Strategy: descriptor.Name, Value: next.Identity, Cause: validationError}
			}
		}

		steps = append(steps, AppliedStep{
			Strategy:    descriptor.Name,
			FromVersion: current.Version,
			ToVersion:   next.Version,
			OldIdentity: current.Identity,
			NewIdentity: next.Identity,
		})
		engine.logger.Debug(
			strategyAppliedLogMessageConstant,
			zap.String(logFieldPathConstant, current.Path),
			zap.String(logFieldStrategyConstant, descriptor.Name),
			zap.Int(logFieldFromVersionConstant, current.Version),
			zap.Int(logFieldToVersionConstant, next.Version),
		)
		current = next
	}
	return current, steps, nil
}

func (engine *Engine) detectContent(cacheKey detectionCacheKey, content []byte) (int, error) {
	version, detectError := engine.arbiter.Detect(versioning.Artifact{Path: cacheKey.path, Content: content})
	if detectError != nil {
		if errors.Is(detectError, ErrNoDetectorsRegistered) {
			return 0, detectError
		}
		return 0, &MigrationError{Kind: KindVersionUndeterminable, Path: cacheKey.path, Cause: detectError}
	}
	if engine.detectionCache != nil {
		_ = engine.detectionCache.Set(cacheKey, version)
	}
	return version, nil
}

func (engine *Engine) cachedVersion(cacheKey detectionCacheKey) (int, bool) {
	if engine.detectionCache == nil {
		return 0, false
	}
	cachedValue, cacheError := engine.detectionCache.Get(cacheKey)
	if cacheError != nil {
		return 0, false
	}
	version, isVersion := cachedValue.(int)
	return version, isVersion
}

func (engine *Engine) forget(cacheKey detectionCacheKey) {
	if engine.detectionCache == nil {
		return
	}
	engine.detectionCache.Remove(cacheKey)
}

func (engine *Engine) targetVerifier(path string) artifact.ContentVerifier {
	return func(content []byte) error {
		detection := versioning.Indeterminate()
		for _, detector := range engine.arbiter.Ordered() {
			detection = detector.DetectVersion(versioning.Artifact{Path: path, Content: content})
			if detection.IsDeterminate() {
				break
			}
		}
		detectedVersion, determinate := detection.Version()
		if determinate && detectedVersion == engine.targetVersion {
			return nil
		}
		return &MigrationError{
			Kind:    KindStrategyFailure,
			Path:    path,
			Version: detectedVersion,
			Cause:   fmt.Errorf(verificationMismatchTemplateConstant, errWrittenVersionMismatch, detection, engine.targetVersion),
		}
	}
}

func newDetectionCacheKey(path string, info fs.FileInfo) detectionCacheKey {
	return detectionCacheKey{path: path, size: info.Size(), modifiedUnixNano: info.ModTime().UnixNano()}
}

func applyStrategy(executionContext context.Context, strategy MigrationStrategy, document Document) (result Document, applyError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			applyError = fmt.Errorf(strategyPanicTemplateConstant, recovered)
		}
	}()

	privateContent := make([]byte, len(document.Content))
	copy(privateContent, document.Content)
	document.Content = privateContent
	return strategy.Apply(executionContext, document)
}

func classifyStrategyError(path string, version int, strategyName string, applyError error) error {
	var migrationError *MigrationError
	if errors.As(applyError, &migrationError) {
		classified := *migrationError
		if len(classified.Path) == 0 {
			classified.Path = path
		}
		if len(classified.Strategy) == 0 {
			classified.Strategy = strategyName
		}
		return &classified
	}
	return &MigrationError{Kind: KindStrategyFailure, Path: path, Version: version, Strategy: strategyName, Cause: applyError}
}
