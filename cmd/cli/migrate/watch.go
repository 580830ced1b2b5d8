package migrate

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/corpusmigrate/internal/auditlog"
	"github.com/temirov/corpusmigrate/internal/migration"
	"github.com/temirov/corpusmigrate/internal/utils"
	flagutils "github.com/temirov/corpusmigrate/internal/utils/flags"
)

const (
	watchCommandUseConstant              = "watch [root]"
	watchCommandShortDescriptionConstant = "Migrate artifacts as they are created or modified"
	watchCommandLongDescriptionConstant  = "watch observes the corpus root and migrates every matching artifact that is created or modified until interrupted. Problems are printed and never stop the watch."
	debounceFlagNameConstant             = "debounce"
	debounceFlagUsageConstant            = "Quiet period collecting changes before they are migrated"
	watchMetricsErrorLogMessageConstant  = "Unable to write metrics"
)

// WatchCommandBuilder assembles the watch command.
type WatchCommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	// ContextDecorator wraps the command context; interrupt and terminate signals cancel it when nil.
	ContextDecorator func(context.Context) (context.Context, context.CancelFunc)
}

// Build constructs the watch command.
func (builder *WatchCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   watchCommandUseConstant,
		Short: watchCommandShortDescriptionConstant,
		Long:  watchCommandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.run,
	}

	flagutils.BindCorpusFlags(command, flagutils.CorpusFlagDefinitions{Workers: true, MetricsFile: true})
	command.Flags().Duration(debounceFlagNameConstant, 0, debounceFlagUsageConstant)

	return command, nil
}

func (builder *WatchCommandBuilder) run(command *cobra.Command, arguments []string) error {
	settings, settingsError := resolveRunSettings(command, arguments, builder.ConfigurationProvider)
	if settingsError != nil {
		if helpError := displayCommandHelp(command); helpError != nil {
			return helpError
		}
		return settingsError
	}

	debounce, debounceError := flagutils.ResolveDuration(command, debounceFlagNameConstant, settings.configuration.WatchDebounce)
	if debounceError != nil {
		return debounceError
	}

	logger := resolveLogger(builder.LoggerProvider)
	engine, engineError := buildEngine(settings.configuration, afero.NewOsFs(), logger)
	if engineError != nil {
		return engineError
	}

	output := utils.NewOutputWriter(command.OutOrStdout())
	recorder := newRecorder(settings)
	handler := func(path string, records []auditlog.MigrationRecord) {
		printRecords(output, migratedLineTemplateConstant, path, records)
	}

	orchestrator, orchestratorError := buildOrchestrator(engine, settings, logger, recorder, handler)
	if orchestratorError != nil {
		return orchestratorError
	}

	watcher, watcherError := migration.NewWatcher(orchestrator, settings.root, settings.configuration.Pattern, migration.WatcherOptions{
		Debounce: debounce,
		ReportHandler: func(report migration.FolderMigrationReport) {
			printProblems(output, report.Problems)
			if metricsError := writeMetrics(recorder, settings.metricsFile, logger); metricsError != nil {
				logger.Warn(watchMetricsErrorLogMessageConstant, zap.Error(metricsError))
			}
		},
	})
	if watcherError != nil {
		return watcherError
	}

	watchContext, cancel := builder.decorateContext(command.Context())
	defer cancel()

	return explainRunError(command, watcher.Run(watchContext))
}

func (builder *WatchCommandBuilder) decorateContext(parentContext context.Context) (context.Context, context.CancelFunc) {
	if parentContext == nil {
		parentContext = context.Background()
	}
	if builder.ContextDecorator != nil {
		return builder.ContextDecorator(parentContext)
	}
	return signal.NotifyContext(parentContext, os.Interrupt, syscall.SIGTERM)
}
