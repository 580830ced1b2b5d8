package migrate

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/corpusmigrate/internal/auditlog"
	"github.com/temirov/corpusmigrate/internal/metrics"
	"github.com/temirov/corpusmigrate/internal/migration"
	"github.com/temirov/corpusmigrate/internal/utils"
	flagutils "github.com/temirov/corpusmigrate/internal/utils/flags"
)

const (
	migrateCommandUseConstant              = "migrate [root]"
	migrateCommandShortDescriptionConstant = "Migrate every matching artifact to the target version"
	migrateCommandLongDescriptionConstant  = "migrate detects the version of every artifact in the corpus root, applies the registered strategies until each reaches the target version, and appends the applied steps to the audit log."
	failOnProblemsFlagNameConstant         = "fail-on-problems"
	failOnProblemsFlagUsageConstant        = "Exit with an error when any artifact could not be migrated"
	migratedLineTemplateConstant           = "MIGRATED %s: %d -> %d\n"
	previewLineTemplateConstant            = "WOULD MIGRATE %s: %d -> %d\n"
	summaryLineTemplateConstant            = "run %s: %d enumerated, %d migrated, %d up to date, %d problems\n"
	dryRunSummaryLineTemplateConstant      = "dry run: %d enumerated, %d would migrate, %d up to date, %d problems\n"
	problemsErrorTemplateConstant          = "%w: %d artifacts could not be migrated: %w"
	metricsWriteLogMessageConstant         = "Metrics written"
	metricsPathLogFieldConstant            = "path"
	problemsReportedMessageConstant        = "migration finished with problems"
)

// ErrProblemsReported marks runs that failed because --fail-on-problems saw at least one problem.
var ErrProblemsReported = errors.New(problemsReportedMessageConstant)

// CommandBuilder assembles the migrate command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	FileSystem            afero.Fs
}

// Build constructs the migrate command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   migrateCommandUseConstant,
		Short: migrateCommandShortDescriptionConstant,
		Long:  migrateCommandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.run,
	}

	flagutils.BindCorpusFlags(command, flagutils.CorpusFlagDefinitions{Workers: true, DryRun: true, MetricsFile: true})
	command.Flags().Bool(failOnProblemsFlagNameConstant, false, failOnProblemsFlagUsageConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	settings, settingsError := resolveRunSettings(command, arguments, builder.ConfigurationProvider)
	if settingsError != nil {
		if helpError := displayCommandHelp(command); helpError != nil {
			return helpError
		}
		return settingsError
	}

	logger := resolveLogger(builder.LoggerProvider)
	engine, engineError := buildEngine(settings.configuration, resolveFileSystem(builder.FileSystem), logger)
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

	report, migrationError := orchestrator.Migrate(command.Context(), settings.root, settings.configuration.Pattern)

	if settings.dryRun {
		printPreview(output, report.Records)
	}
	printProblems(output, report.Problems)
	printSummary(output, report)

	if metricsError := writeMetrics(recorder, settings.metricsFile, logger); metricsError != nil {
		return metricsError
	}
	if migrationError != nil {
		return explainRunError(command, migrationError)
	}

	failOnProblems := flagutils.ResolveBool(command, failOnProblemsFlagNameConstant, false)
	if failOnProblems && !report.Succeeded() {
		return fmt.Errorf(problemsErrorTemplateConstant, ErrProblemsReported, len(report.Problems), report.ProblemsError())
	}
	return nil
}

// printRecords prints the overall version change of one artifact, collapsing a chain into its endpoints.
func printRecords(output *utils.OutputWriter, template string, path string, records []auditlog.MigrationRecord) {
	if len(records) == 0 {
		return
	}
	output.Printf(template, path, records[0].FromVersion, records[len(records)-1].ToVersion)
}

// printPreview prints one line per artifact. Records of one artifact are adjacent in a report.
func printPreview(output *utils.OutputWriter, records []auditlog.MigrationRecord) {
	for startIndex := 0; startIndex < len(records); {
		endIndex := startIndex + 1
		for endIndex < len(records) && records[endIndex].Path == records[startIndex].Path {
			endIndex++
		}
		printRecords(output, previewLineTemplateConstant, records[startIndex].Path, records[startIndex:endIndex])
		startIndex = endIndex
	}
}

func printSummary(output *utils.OutputWriter, report migration.FolderMigrationReport) {
	if report.DryRun {
		output.Printf(dryRunSummaryLineTemplateConstant, report.Enumerated, report.Migrated, report.UpToDate, len(report.Problems))
		return
	}
	output.Printf(summaryLineTemplateConstant, report.RunID, report.Enumerated, report.Migrated, report.UpToDate, len(report.Problems))
}

func writeMetrics(recorder *metrics.Recorder, path string, logger *zap.Logger) error {
	if recorder == nil {
		return nil
	}
	if writeError := recorder.WriteTextfile(path); writeError != nil {
		return writeError
	}
	logger.Debug(metricsWriteLogMessageConstant, zap.String(metricsPathLogFieldConstant, path))
	return nil
}
