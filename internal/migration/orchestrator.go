package migration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/corpusmigrate/internal/artifact"
	"github.com/temirov/corpusmigrate/internal/auditlog"
)

// Artifact outcomes reported to a MetricsRecorder.
const (
	OutcomeMigrated = "migrated"
	OutcomeUpToDate = "up_to_date"
	OutcomeFailed   = "failed"
)

const (
	engineRequiredMessageConstant          = "migration engine must be provided"
	enumerationErrorTemplateConstant       = "unable to enumerate corpus: %w"
	auditLoadErrorTemplateConstant         = "unable to load audit log: %w"
	auditAppendErrorTemplateConstant       = "unable to append audit record: %w"
	auditSaveErrorTemplateConstant         = "unable to save audit log: %w"
	lockReleaseErrorTemplateConstant       = "unable to release corpus lock: %w"
	artifactFailedLogMessageConstant       = "Artifact migration failed"
	artifactMigratedLogMessageConstant     = "Artifact migrated"
	folderMigrationLogMessageConstant      = "Folder migration completed"
	folderMigrationCanceledMessageConstant = "Folder migration canceled"
	folderMigrationAbortedMessageConstant  = "Folder migration aborted"
	staleLockReclaimedMessageConstant      = "Reclaimed corpus lock of a run that no longer exists"
	logFieldRunIdentifierConstant          = "run_id"
	logFieldRootConstant                   = "root"
	logFieldKindConstant                   = "kind"
	logFieldAttemptedConstant              = "attempted"
	logFieldCommittedConstant              = "committed"
	logFieldMigratedConstant               = "migrated"
	logFieldUpToDateConstant               = "up_to_date"
	logFieldProblemCountConstant           = "problems"
	logFieldDryRunConstant                 = "dry_run"
	logFieldWorkersConstant                = "workers"
	logFieldStaleRunConstant               = "stale_run_id"
	logFieldStalePIDConstant               = "stale_pid"
)

var errEngineRequired = errors.New(engineRequiredMessageConstant)

// MetricsRecorder receives counters for every processed artifact.
type MetricsRecorder interface {
	ObserveArtifact(outcome string)
	ObserveProblem(kind string)
	ObserveStrategy(strategy string)
}

// MigrationHandler is notified after an artifact migration has been written.
type MigrationHandler func(path string, records []auditlog.MigrationRecord)

// OrchestratorOptions configures folder migrations.
type OrchestratorOptions struct {
	Recursive        bool
	Workers          int
	DryRun           bool
	AuditLogName     string
	LockFileName     string
	MigrationHandler MigrationHandler
	Metrics          MetricsRecorder
	Logger           *zap.Logger
	RunIDGenerator   func() string
	Clock            func() time.Time
}

// FolderMigrationReport summarizes one folder migration.
//
// Committed counts every artifact that finished without a problem, including
// artifacts that were already current, so Committed == Attempted - len(Problems).
type FolderMigrationReport struct {
	RunID      string
	Root       string
	DryRun     bool
	Enumerated int
	Attempted  int
	Committed  int
	Migrated   int
	UpToDate   int
	Problems   []Problem
	Records    []auditlog.MigrationRecord
}

// Succeeded reports whether every attempted artifact reached the target version.
func (report FolderMigrationReport) Succeeded() bool {
	return len(report.Problems) == 0
}

// ProblemsError joins every problem into one error, or returns nil.
func (report FolderMigrationReport) ProblemsError() error {
	if len(report.Problems) == 0 {
		return nil
	}
	problemErrors := make([]error, 0, len(report.Problems))
	for _, problem := range report.Problems {
		problemErrors = append(problemErrors, problem)
	}
	return errors.Join(problemErrors...)
}

// Orchestrator migrates every matching artifact in a corpus root.
type Orchestrator struct {
	engine       *Engine
	store        *artifact.Store
	options      OrchestratorOptions
	logger       *zap.Logger
	handlerMutex sync.Mutex
}

type artifactResult struct {
	processed bool
	outcome   ArtifactOutcome
	records   []auditlog.MigrationRecord
	problem   *Problem
}

// NewOrchestrator constructs an Orchestrator around engine.
func NewOrchestrator(engine *Engine, options OrchestratorOptions) (*Orchestrator, error) {
	if engine == nil {
		return nil, errEngineRequired
	}

	if len(options.AuditLogName) == 0 {
		options.AuditLogName = auditlog.DefaultFileName
	}
	if len(options.LockFileName) == 0 {
		options.LockFileName = artifact.DefaultLockFileName
	}
	if options.Workers < 1 {
		options.Workers = 1
	}
	if options.RunIDGenerator == nil {
		options.RunIDGenerator = uuid.NewString
	}
	if options.Clock == nil {
		options.Clock = func() time.Time { return time.Now().UTC() }
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := engine.Store()
	store.Exclude(options.AuditLogName, options.LockFileName)

	return &Orchestrator{
		engine:  engine,
		store:   store,
		options: options,
		logger:  logger,
	}, nil
}

// Engine returns the engine driving each artifact.
func (orchestrator *Orchestrator) Engine() *Engine {
	return orchestrator.engine
}

// Migrate advances every artifact in root whose file name matches pattern.
//
// Per-artifact failures are returned as Problems in the report. The error is
// reserved for usage errors, lock contention, audit log persistence, and
// cancellation, which is honored between artifacts; the partial report is
// returned alongside it. The audit records of an artifact are saved before the
// artifact is written, so a failed save stops the run with that artifact and
// every later one untouched.
func (orchestrator *Orchestrator) Migrate(executionContext context.Context, root string, pattern string) (FolderMigrationReport, error) {
	if usageError := orchestrator.checkUsage(executionContext); usageError != nil {
		return FolderMigrationReport{Root: root, DryRun: orchestrator.options.DryRun}, usageError
	}

	paths, enumerateError := orchestrator.store.Enumerate(root, pattern, orchestrator.options.Recursive)
	if enumerateError != nil {
		return FolderMigrationReport{Root: root, DryRun: orchestrator.options.DryRun}, fmt.Errorf(enumerationErrorTemplateConstant, enumerateError)
	}
	return orchestrator.run(executionContext, root, paths, paths)
}

// MigratePaths advances the listed artifacts of root. Every artifact of root
// matching pattern still counts as an identity holder.
func (orchestrator *Orchestrator) MigratePaths(executionContext context.Context, root string, pattern string, paths []string) (FolderMigrationReport, error) {
	if usageError := orchestrator.checkUsage(executionContext); usageError != nil {
		return FolderMigrationReport{Root: root, DryRun: orchestrator.options.DryRun}, usageError
	}

	corpusPaths, enumerateError := orchestrator.store.Enumerate(root, pattern, orchestrator.options.Recursive)
	if enumerateError != nil {
		return FolderMigrationReport{Root: root, DryRun: orchestrator.options.DryRun}, fmt.Errorf(enumerationErrorTemplateConstant, enumerateError)
	}
	return orchestrator.run(executionContext, root, paths, append(corpusPaths, paths...))
}

// Plan lists the strategy chain of every matching artifact that needs migration.
func (orchestrator *Orchestrator) Plan(executionContext context.Context, root string, pattern string) ([]ArtifactPlan, []Problem, error) {
	if usageError := orchestrator.checkUsage(executionContext); usageError != nil {
		return nil, nil, usageError
	}

	paths, enumerateError := orchestrator.store.Enumerate(root, pattern, orchestrator.options.Recursive)
	if enumerateError != nil {
		return nil, nil, fmt.Errorf(enumerationErrorTemplateConstant, enumerateError)
	}

	plans := make([]ArtifactPlan, 0, len(paths))
	problems := make([]Problem, 0)
	for _, path := range paths {
		if contextError := executionContext.Err(); contextError != nil {
			return plans, problems, contextError
		}
		plan, planError := orchestrator.engine.PlanArtifact(executionContext, path)
		if planError != nil {
			problems = append(problems, newProblem(path, planError))
			continue
		}
		if len(plan.Steps) > 0 {
			plans = append(plans, plan)
		}
	}
	return plans, problems, nil
}

func (orchestrator *Orchestrator) checkUsage(executionContext context.Context) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if orchestrator.engine.DetectorCount() == 0 {
		return ErrNoDetectorsRegistered
	}
	return nil
}

func (orchestrator *Orchestrator) run(executionContext context.Context, root string, paths []string, heldPaths []string) (report FolderMigrationReport, runError error) {
	runID := orchestrator.options.RunIDGenerator()
	report = FolderMigrationReport{
		RunID:      runID,
		Root:       root,
		DryRun:     orchestrator.options.DryRun,
		Enumerated: len(paths),
		Problems:   make([]Problem, 0),
		Records:    make([]auditlog.MigrationRecord, 0),
	}
	if len(paths) == 0 {
		return report, nil
	}

	if !orchestrator.options.DryRun {
		runLock := artifact.NewRunLock(orchestrator.store.FileSystem(), root, orchestrator.options.LockFileName)
		if lockError := runLock.Acquire(artifact.NewLockInfo(runID, root)); lockError != nil {
			return report, lockError
		}
		if staleHolder, reclaimed := runLock.Reclaimed(); reclaimed {
			orchestrator.logger.Warn(
				staleLockReclaimedMessageConstant,
				zap.String(logFieldRunIdentifierConstant, runID),
				zap.String(logFieldStaleRunConstant, staleHolder.RunID),
				zap.Int(logFieldStalePIDConstant, staleHolder.PID),
			)
		}
		defer func() {
			if releaseError := runLock.Release(); releaseError != nil {
				runError = errors.Join(runError, fmt.Errorf(lockReleaseErrorTemplateConstant, releaseError))
			}
		}()
	}

	changeLog := auditlog.New(orchestrator.store, filepath.Join(root, orchestrator.options.AuditLogName))
	if loadError := changeLog.Load(); loadError != nil {
		return report, fmt.Errorf(auditLoadErrorTemplateConstant, loadError)
	}

	runContext, cancelRun := context.WithCancel(executionContext)
	defer cancelRun()
	journal := newCommitJournal(orchestrator.engine, changeLog, orchestrator.options.DryRun, cancelRun)
	journal.hold(heldPaths)

	results := make([]artifactResult, len(paths))
	orchestrator.process(runContext, runID, journal, paths, results)

	for _, result := range results {
		if !result.processed {
			continue
		}
		report.Attempted++
		if result.problem != nil {
			report.Problems = append(report.Problems, *result.problem)
			continue
		}
		report.Committed++
		if result.outcome.Migrated() {
			report.Migrated++
		} else {
			report.UpToDate++
		}
		report.Records = append(report.Records, result.records...)
	}

	if journalFailure := journal.abortCause(); journalFailure != nil {
		orchestrator.logger.Error(
			folderMigrationAbortedMessageConstant,
			zap.String(logFieldRunIdentifierConstant, runID),
			zap.String(logFieldRootConstant, root),
			zap.Int(logFieldAttemptedConstant, report.Attempted),
			zap.Error(journalFailure),
		)
		return report, journalFailure
	}

	if report.Attempted < report.Enumerated {
		if contextError := executionContext.Err(); contextError != nil {
			orchestrator.logger.Warn(
				folderMigrationCanceledMessageConstant,
				zap.String(logFieldRunIdentifierConstant, runID),
				zap.String(logFieldRootConstant, root),
				zap.Int(logFieldAttemptedConstant, report.Attempted),
				zap.Error(contextError),
			)
			return report, contextError
		}
	}

	orchestrator.logger.Info(
		folderMigrationLogMessageConstant,
		zap.String(logFieldRunIdentifierConstant, runID),
		zap.String(logFieldRootConstant, root),
		zap.Bool(logFieldDryRunConstant, report.DryRun),
		zap.Int(logFieldWorkersConstant, orchestrator.options.Workers),
		zap.Int(logFieldAttemptedConstant, report.Attempted),
		zap.Int(logFieldCommittedConstant, report.Committed),
		zap.Int(logFieldMigratedConstant, report.Migrated),
		zap.Int(logFieldUpToDateConstant, report.UpToDate),
		zap.Int(logFieldProblemCountConstant, len(report.Problems)),
	)
	return report, nil
}

func (orchestrator *Orchestrator) process(executionContext context.Context, runID string, journal *commitJournal, paths []string, results []artifactResult) {
	if orchestrator.options.Workers <= 1 {
		for pathIndex, path := range paths {
			if executionContext.Err() != nil {
				return
			}
			results[pathIndex] = orchestrator.migrateOne(executionContext, runID, journal, path)
		}
		return
	}

	var workerGroup errgroup.Group
	workerGroup.SetLimit(orchestrator.options.Workers)
	for pathIndex, path := range paths {
		if executionContext.Err() != nil {
			break
		}
		workerGroup.Go(func() error {
			if executionContext.Err() != nil {
				return nil
			}
			results[pathIndex] = orchestrator.migrateOne(executionContext, runID, journal, path)
			return nil
		})
	}
	_ = workerGroup.Wait()
}

func (orchestrator *Orchestrator) migrateOne(executionContext context.Context, runID string, journal *commitJournal, path string) artifactResult {
	prepared, prepareError := orchestrator.engine.PrepareArtifact(executionContext, path)
	if prepareError != nil {
		if errors.Is(prepareError, context.Canceled) || errors.Is(prepareError, context.DeadlineExceeded) {
			var classified *MigrationError
			if !errors.As(prepareError, &classified) {
				return artifactResult{}
			}
		}
		return orchestrator.failed(prepared.Outcome, prepareError)
	}

	records := orchestrator.recordsFor(runID, prepared.Outcome)
	outcome, commitError := journal.commit(prepared, records)
	if commitError != nil {
		var aborted *runAborted
		if errors.As(commitError, &aborted) {
			return artifactResult{}
		}
		return orchestrator.failed(outcome, commitError)
	}

	if !outcome.Migrated() {
		orchestrator.observeArtifact(OutcomeUpToDate)
		return artifactResult{processed: true, outcome: outcome, records: records}
	}

	orchestrator.observeArtifact(OutcomeMigrated)
	for _, step := range outcome.Steps {
		orchestrator.observeStrategy(step.Strategy)
	}
	orchestrator.logger.Info(
		artifactMigratedLogMessageConstant,
		zap.String(logFieldPathConstant, path),
		zap.Int(logFieldFromVersionConstant, outcome.OriginalVersion),
		zap.Int(logFieldToVersionConstant, outcome.FinalVersion),
		zap.Int(logFieldStepCountConstant, len(outcome.Steps)),
		zap.Bool(logFieldDryRunConstant, orchestrator.options.DryRun),
	)

	if outcome.Written && orchestrator.options.MigrationHandler != nil {
		orchestrator.handlerMutex.Lock()
		orchestrator.options.MigrationHandler(path, records)
		orchestrator.handlerMutex.Unlock()
	}
	return artifactResult{processed: true, outcome: outcome, records: records}
}

func (orchestrator *Orchestrator) failed(outcome ArtifactOutcome, migrationError error) artifactResult {
	problem := newProblem(outcome.Path, migrationError)
	orchestrator.logger.Warn(
		artifactFailedLogMessageConstant,
		zap.String(logFieldPathConstant, outcome.Path),
		zap.String(logFieldKindConstant, string(problem.Kind)),
		zap.Error(migrationError),
	)
	orchestrator.observeArtifact(OutcomeFailed)
	orchestrator.observeProblem(problem.Kind)
	return artifactResult{processed: true, outcome: outcome, problem: &problem}
}

func (orchestrator *Orchestrator) recordsFor(runID string, outcome ArtifactOutcome) []auditlog.MigrationRecord {
	if len(outcome.Steps) == 0 {
		return nil
	}
	recordedAt := orchestrator.options.Clock()
	records := make([]auditlog.MigrationRecord, 0, len(outcome.Steps))
	for _, step := range outcome.Steps {
		records = append(records, auditlog.MigrationRecord{
			RunID:       runID,
			RecordedAt:  recordedAt,
			Path:        outcome.Path,
			OldIdentity: step.OldIdentity,
			NewIdentity: step.NewIdentity,
			FromVersion: step.FromVersion,
			ToVersion:   step.ToVersion,
			Strategy:    step.Strategy,
		})
	}
	return records
}

func (orchestrator *Orchestrator) observeArtifact(outcome string) {
	if orchestrator.options.Metrics != nil {
		orchestrator.options.Metrics.ObserveArtifact(outcome)
	}
}

func (orchestrator *Orchestrator) observeProblem(kind ProblemKind) {
	if orchestrator.options.Metrics != nil {
		orchestrator.options.Metrics.ObserveProblem(string(kind))
	}
}

func (orchestrator *Orchestrator) observeStrategy(strategy string) {
	if orchestrator.options.Metrics != nil {
		orchestrator.options.Metrics.ObserveStrategy(strategy)
	}
}
