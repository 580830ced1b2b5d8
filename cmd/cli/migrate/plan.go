package migrate

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/temirov/corpusmigrate/internal/migration"
	"github.com/temirov/corpusmigrate/internal/utils"
	flagutils "github.com/temirov/corpusmigrate/internal/utils/flags"
)

const (
	planCommandUseConstant              = "plan [root]"
	planCommandShortDescriptionConstant = "List artifacts that need migration and their strategy chains"
	planCommandLongDescriptionConstant  = "plan detects the version of every matching artifact and prints the strategies that would take it to the target version. Nothing is written."
	planLineTemplateConstant            = "%s: %d -> %d via %s\n"
	planStepTemplateConstant            = "%s(%d->%d)"
	planStepSeparatorConstant           = ", "
	planSummaryTemplateConstant         = "%d artifacts need migration, %d problems\n"
)

// PlanCommandBuilder assembles the plan command.
type PlanCommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	FileSystem            afero.Fs
}

// Build constructs the plan command.
func (builder *PlanCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   planCommandUseConstant,
		Short: planCommandShortDescriptionConstant,
		Long:  planCommandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.run,
	}

	flagutils.BindCorpusFlags(command, flagutils.CorpusFlagDefinitions{})

	return command, nil
}

func (builder *PlanCommandBuilder) run(command *cobra.Command, arguments []string) error {
	settings, settingsError := resolveRunSettings(command, arguments, builder.ConfigurationProvider)
	if settingsError != nil {
		if helpError := displayCommandHelp(command); helpError != nil {
			return helpError
		}
		return settingsError
	}
	settings.dryRun = true

	logger := resolveLogger(builder.LoggerProvider)
	engine, engineError := buildEngine(settings.configuration, resolveFileSystem(builder.FileSystem), logger)
	if engineError != nil {
		return engineError
	}

	orchestrator, orchestratorError := buildOrchestrator(engine, settings, logger, nil, nil)
	if orchestratorError != nil {
		return orchestratorError
	}

	plans, problems, planError := orchestrator.Plan(command.Context(), settings.root, settings.configuration.Pattern)
	if planError != nil {
		return explainRunError(command, planError)
	}

	output := utils.NewOutputWriter(command.OutOrStdout())
	for _, plan := range plans {
		printPlan(output, plan, engine.TargetVersion())
	}
	printProblems(output, problems)
	output.Printf(planSummaryTemplateConstant, len(plans), len(problems))
	return nil
}

func printPlan(output *utils.OutputWriter, plan migration.ArtifactPlan, targetVersion int) {
	steps := make([]string, 0, len(plan.Steps))
	fromVersion := plan.Version
	for _, step := range plan.Steps {
		steps = append(steps, fmt.Sprintf(planStepTemplateConstant, step.Name, fromVersion, step.ToVersion))
		fromVersion = step.ToVersion
	}
	output.Printf(planLineTemplateConstant, plan.Path, plan.Version, targetVersion, strings.Join(steps, planStepSeparatorConstant))
}
