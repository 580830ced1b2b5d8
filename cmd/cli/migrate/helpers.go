package migrate

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/corpusmigrate/internal/artifact"
	"github.com/temirov/corpusmigrate/internal/metrics"
	"github.com/temirov/corpusmigrate/internal/migration"
	"github.com/temirov/corpusmigrate/internal/recipes"
	"github.com/temirov/corpusmigrate/internal/utils"
	flagutils "github.com/temirov/corpusmigrate/internal/utils/flags"
	pathutils "github.com/temirov/corpusmigrate/internal/utils/path"
)

const (
	validatorBuildErrorTemplateConstant    = "unable to configure identifier validator: %w"
	engineBuildErrorTemplateConstant       = "unable to configure migration engine: %w"
	catalogInstallErrorTemplateConstant    = "unable to install migration recipes: %w"
	orchestratorBuildErrorTemplateConstant = "unable to configure migration run: %w"
	problemLineTemplateConstant            = "PROBLEM %s %s: %v\n"
	missingDetectorsErrorTemplateConstant  = "%w; add version detectors under migration.detectors in %s"
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider yields the migration configuration loaded by the application.
type ConfigurationProvider func() CommandConfiguration

// runSettings is the configuration after positional arguments and flags are applied.
type runSettings struct {
	configuration CommandConfiguration
	root          string
	dryRun        bool
	metricsFile   string
}

var (
	corpusRootResolver     = pathutils.NewRootResolver()
	commandContextAccessor = utils.NewCommandContextAccessor()
)

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func resolveConfiguration(provider ConfigurationProvider) CommandConfiguration {
	if provider == nil {
		return DefaultCommandConfiguration()
	}
	provided := provider()
	return provided.Sanitize()
}

func resolveFileSystem(fileSystem afero.Fs) afero.Fs {
	if fileSystem == nil {
		return afero.NewOsFs()
	}
	return fileSystem
}

func displayCommandHelp(command *cobra.Command) error {
	if command == nil {
		return nil
	}
	return command.Help()
}

// resolveRunSettings applies flags over configuration. The first positional argument, when present, is the corpus root.
func resolveRunSettings(command *cobra.Command, arguments []string, provider ConfigurationProvider) (runSettings, error) {
	configuration := resolveConfiguration(provider)

	configuration.Pattern = flagutils.ResolveString(command, flagutils.PatternFlagName, configuration.Pattern)
	configuration.TargetVersion = flagutils.ResolveInt(command, flagutils.TargetFlagName, configuration.TargetVersion)
	configuration.Recursive = flagutils.ResolveBool(command, flagutils.RecursiveFlagName, configuration.Recursive)
	configuration.Workers = flagutils.ResolveInt(command, flagutils.WorkersFlagName, configuration.Workers)

	if validationError := configuration.Validate(); validationError != nil {
		return runSettings{}, validationError
	}

	positionalRoot := ""
	if len(arguments) > 0 {
		positionalRoot = arguments[0]
	}

	return runSettings{
		configuration: configuration,
		root:          corpusRootResolver.Resolve(positionalRoot, configuration.Root),
		dryRun:        flagutils.ResolveBool(command, flagutils.DryRunFlagName, false),
		metricsFile:   flagutils.ResolveString(command, flagutils.MetricsFileFlagName, ""),
	}, nil
}

// buildEngine wires the configured detectors, strategies, and identifier validator into an engine.
func buildEngine(configuration CommandConfiguration, fileSystem afero.Fs, logger *zap.Logger) (*migration.Engine, error) {
	identifierValidator, validatorError := recipes.NewIdentifierValidator(configuration.Validator)
	if validatorError != nil {
		return nil, fmt.Errorf(validatorBuildErrorTemplateConstant, validatorError)
	}

	engine, engineError := migration.NewEngine(migration.EngineOptions{
		TargetVersion:      configuration.TargetVersion,
		Store:              artifact.NewStore(fileSystem),
		Logger:             logger,
		Validator:          identifierValidator,
		VerifyWrites:       configuration.VerifyWrites,
		DetectionCacheSize: configuration.DetectionCacheSize,
	})
	if engineError != nil {
		return nil, fmt.Errorf(engineBuildErrorTemplateConstant, engineError)
	}

	if installError := configuration.Catalog().Install(engine); installError != nil {
		return nil, fmt.Errorf(catalogInstallErrorTemplateConstant, installError)
	}
	return engine, nil
}

func buildOrchestrator(engine *migration.Engine, settings runSettings, logger *zap.Logger, recorder *metrics.Recorder, handler migration.MigrationHandler) (*migration.Orchestrator, error) {
	options := migration.OrchestratorOptions{
		Recursive:        settings.configuration.Recursive,
		Workers:          settings.configuration.Workers,
		DryRun:           settings.dryRun,
		AuditLogName:     settings.configuration.AuditLog,
		LockFileName:     settings.configuration.LockFile,
		MigrationHandler: handler,
		Logger:           logger,
	}
	if recorder != nil {
		options.Metrics = recorder
	}

	orchestrator, orchestratorError := migration.NewOrchestrator(engine, options)
	if orchestratorError != nil {
		return nil, fmt.Errorf(orchestratorBuildErrorTemplateConstant, orchestratorError)
	}
	return orchestrator, nil
}

func newRecorder(settings runSettings) *metrics.Recorder {
	if len(settings.metricsFile) == 0 {
		return nil
	}
	return metrics.NewRecorder()
}

func printProblems(output *utils.OutputWriter, problems []migration.Problem) {
	for _, problem := range problems {
		output.Printf(problemLineTemplateConstant, problem.Kind, problem.Path, problem.Err)
	}
}

// explainRunError points usage errors caused by an empty recipe catalog at the configuration that produced it.
func explainRunError(command *cobra.Command, runError error) error {
	if runError == nil || !errors.Is(runError, migration.ErrNoDetectorsRegistered) {
		return runError
	}
	return fmt.Errorf(missingDetectorsErrorTemplateConstant, runError, commandContextAccessor.ConfigurationSource(command.Context()))
}
