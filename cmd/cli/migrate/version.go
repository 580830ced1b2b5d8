package migrate

import (
	"errors"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/temirov/corpusmigrate/internal/utils"
	flagutils "github.com/temirov/corpusmigrate/internal/utils/flags"
)

const (
	versionCommandUseConstant              = "version <file>"
	versionCommandShortDescriptionConstant = "Print the detected version of an artifact"
	versionCommandLongDescriptionConstant  = "version runs the configured detectors against one artifact and prints the version they agree on together with the target version."
	artifactPathRequiredMessageConstant    = "artifact path required; provide it as the positional argument"
	versionLineTemplateConstant            = "%s: version %d, target %d, %s\n"
	versionCurrentStatusConstant           = "up to date"
	versionPendingStatusConstant           = "needs migration"
)

// VersionCommandBuilder assembles the version command.
type VersionCommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	FileSystem            afero.Fs
}

// Build constructs the version command.
func (builder *VersionCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   versionCommandUseConstant,
		Short: versionCommandShortDescriptionConstant,
		Long:  versionCommandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.run,
	}

	command.Flags().Int(flagutils.TargetFlagName, 0, flagutils.TargetFlagUsage)

	return command, nil
}

func (builder *VersionCommandBuilder) run(command *cobra.Command, arguments []string) error {
	artifactPath := ""
	if len(arguments) > 0 {
		artifactPath = strings.TrimSpace(arguments[0])
	}
	if len(artifactPath) == 0 {
		if helpError := displayCommandHelp(command); helpError != nil {
			return helpError
		}
		return errors.New(artifactPathRequiredMessageConstant)
	}

	configuration := resolveConfiguration(builder.ConfigurationProvider)
	configuration.TargetVersion = flagutils.ResolveInt(command, flagutils.TargetFlagName, configuration.TargetVersion)
	if validationError := configuration.Validate(); validationError != nil {
		return validationError
	}

	engine, engineError := buildEngine(configuration, resolveFileSystem(builder.FileSystem), resolveLogger(builder.LoggerProvider))
	if engineError != nil {
		return engineError
	}

	resolvedPath := corpusRootResolver.Expand(artifactPath)
	version, versionError := engine.GetVersion(command.Context(), resolvedPath)
	if versionError != nil {
		return explainRunError(command, versionError)
	}

	needsMigration, needsMigrationError := engine.NeedsMigration(command.Context(), resolvedPath)
	if needsMigrationError != nil {
		return needsMigrationError
	}
	status := versionCurrentStatusConstant
	if needsMigration {
		status = versionPendingStatusConstant
	}

	output := utils.NewOutputWriter(command.OutOrStdout())
	output.Printf(versionLineTemplateConstant, resolvedPath, version, engine.TargetVersion(), status)
	return nil
}
