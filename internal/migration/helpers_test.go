package migration_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/corpusmigrate/internal/artifact"
	"github.com/temirov/corpusmigrate/internal/migration"
	"github.com/temirov/corpusmigrate/internal/versioning"
)

const (
	testCorpusRootConstant           = "/corpus"
	testPatternConstant              = "*.fmt"
	testTargetVersionConstant        = 2
	testMarkerExpressionConstant     = `(?m)^version=(\d+)$`
	testMarkerTemplateConstant       = "version=%d"
	testRunIdentifierConstant        = "run-0001"
	testStrategyNameTemplateConstant = "v%d_to_v%d"
	migrationSubtestTemplateConstant = "%d_%s"
)

var (
	testVersionMarker = regexp.MustCompile(testMarkerExpressionConstant)
	testRecordedAt    = time.Date(2024, time.June, 1, 9, 30, 0, 0, time.UTC)
)

type engineFixture struct {
	withDefaultDetector bool
	strategies          []migration.MigrationStrategy
	validator           migration.IdentifierValidator
	verifyWrites        bool
	logger              *zap.Logger
}

func strategyName(fromVersion int, toVersion int) string {
	return fmt.Sprintf(testStrategyNameTemplateConstant, fromVersion, toVersion)
}

// markerStrategy rewrites or inserts the version marker.
func markerStrategy(fromVersion int, toVersion int) migration.MigrationStrategy {
	return migration.FuncStrategy{
		Definition: migration.StrategyDescriptor{
			Name:         strategyName(fromVersion, toVersion),
			FromVersions: []int{fromVersion},
			ToVersion:    toVersion,
		},
		ApplyFunc: func(_ context.Context, document migration.Document) (migration.Document, error) {
			marker := []byte(fmt.Sprintf(testMarkerTemplateConstant, toVersion))
			if testVersionMarker.Match(document.Content) {
				document.Content = testVersionMarker.ReplaceAll(document.Content, marker)
			} else {
				document.Content = append(append(marker, '\n'), document.Content...)
			}
			document.Version = toVersion
			return document, nil
		},
	}
}

func customStrategy(fromVersion int, toVersion int, applyFunc func(context.Context, migration.Document) (migration.Document, error)) migration.MigrationStrategy {
	return migration.FuncStrategy{
		Definition: migration.StrategyDescriptor{
			Name:         strategyName(fromVersion, toVersion),
			FromVersions: []int{fromVersion},
			ToVersion:    toVersion,
		},
		ApplyFunc: applyFunc,
	}
}

// prefixIdentityStrategy advances the marker and keeps the identity up to its first dash.
func prefixIdentityStrategy(fromVersion int, toVersion int) migration.MigrationStrategy {
	marker := markerStrategy(fromVersion, toVersion)
	return customStrategy(fromVersion, toVersion, func(executionContext context.Context, document migration.Document) (migration.Document, error) {
		migrated, applyError := marker.Apply(executionContext, document)
		if applyError != nil {
			return migrated, applyError
		}
		migrated.Identity, _, _ = strings.Cut(document.Identity, "-")
		return migrated, nil
	})
}

func standardStrategies() []migration.MigrationStrategy {
	return []migration.MigrationStrategy{markerStrategy(0, 1), markerStrategy(1, 2)}
}

func newTestEngine(testInstance *testing.T, fileSystem afero.Fs, fixture engineFixture) *migration.Engine {
	testInstance.Helper()

	engine, engineError := migration.NewEngine(migration.EngineOptions{
		TargetVersion: testTargetVersionConstant,
		Store:         artifact.NewStore(fileSystem),
		Logger:        fixture.logger,
		Validator:     fixture.validator,
		VerifyWrites:  fixture.verifyWrites,
	})
	require.NoError(testInstance, engineError)

	markerDetector, detectorError := versioning.NewMarkerDetector(testMarkerExpressionConstant, testTargetVersionConstant)
	require.NoError(testInstance, detectorError)
	require.NoError(testInstance, engine.RegisterVersionStrategy(markerDetector))
	if fixture.withDefaultDetector {
		require.NoError(testInstance, engine.RegisterVersionStrategy(versioning.NewFixedVersionDetector(0, 0)))
	}

	for _, strategy := range fixture.strategies {
		require.NoError(testInstance, engine.RegisterMigrationStrategy(strategy))
	}
	return engine
}

func fixedRunIdentifier() string {
	return testRunIdentifierConstant
}

func fixedClock() time.Time {
	return testRecordedAt
}

type rejectingValidator struct {
	rejected map[string]struct{}
}

var errRejectedIdentifier = errors.New("identifier rejected")

func (validator rejectingValidator) Validate(value string) error {
	if _, rejected := validator.rejected[value]; rejected {
		return errRejectedIdentifier
	}
	return nil
}

type recordingMetrics struct {
	mutex      sync.Mutex
	artifacts  map[string]int
	problems   map[string]int
	strategies map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		artifacts:  make(map[string]int),
		problems:   make(map[string]int),
		strategies: make(map[string]int),
	}
}

func (metrics *recordingMetrics) ObserveArtifact(outcome string) {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	metrics.artifacts[outcome]++
}

func (metrics *recordingMetrics) ObserveProblem(kind string) {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	metrics.problems[kind]++
}

func (metrics *recordingMetrics) ObserveStrategy(strategy string) {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	metrics.strategies[strategy]++
}
