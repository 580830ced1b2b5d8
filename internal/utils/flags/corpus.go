// Package flags binds the corpus selection flags shared by migration commands
// and resolves flag values against configured defaults.
package flags

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Shared flag names and usage strings.
const (
	PatternFlagName      = "pattern"
	PatternFlagUsage     = "File name glob selecting artifacts"
	TargetFlagName       = "target"
	TargetFlagUsage      = "Version every artifact is migrated to"
	RecursiveFlagName    = "recursive"
	RecursiveFlagUsage   = "Descend into subdirectories of the corpus root"
	WorkersFlagName      = "workers"
	WorkersFlagUsage     = "Number of artifacts migrated concurrently"
	DryRunFlagName       = "dry-run"
	DryRunFlagUsage      = "Report what would change without writing"
	MetricsFileFlagName  = "metrics-file"
	MetricsFileFlagUsage = "Write Prometheus counters to this textfile after the run"
)

const (
	durationFlagErrorTemplate = "unable to read --%s: %w"
	negativeDurationTemplate  = "--%s must not be negative, got %s"
)

// CorpusFlagDefinitions selects the optional flags bound next to pattern, target, and recursive.
type CorpusFlagDefinitions struct {
	Workers     bool
	DryRun      bool
	MetricsFile bool
}

// BindCorpusFlags registers the corpus selection flags on command. Defaults are zero values;
// configured defaults are applied through the Resolve helpers.
func BindCorpusFlags(command *cobra.Command, definitions CorpusFlagDefinitions) {
	if command == nil {
		return
	}

	flagSet := command.Flags()
	flagSet.String(PatternFlagName, "", PatternFlagUsage)
	flagSet.Int(TargetFlagName, 0, TargetFlagUsage)
	flagSet.Bool(RecursiveFlagName, false, RecursiveFlagUsage)
	if definitions.Workers {
		flagSet.Int(WorkersFlagName, 0, WorkersFlagUsage)
	}
	if definitions.DryRun {
		flagSet.Bool(DryRunFlagName, false, DryRunFlagUsage)
	}
	if definitions.MetricsFile {
		flagSet.String(MetricsFileFlagName, "", MetricsFileFlagUsage)
	}
}

// ResolveString returns the flag value when the user set it, otherwise configured.
func ResolveString(command *cobra.Command, flagName string, configured string) string {
	if !changed(command, flagName) {
		return configured
	}
	value, valueError := command.Flags().GetString(flagName)
	if valueError != nil {
		return configured
	}
	return value
}

// ResolveInt returns the flag value when the user set it, otherwise configured.
func ResolveInt(command *cobra.Command, flagName string, configured int) int {
	if !changed(command, flagName) {
		return configured
	}
	value, valueError := command.Flags().GetInt(flagName)
	if valueError != nil {
		return configured
	}
	return value
}

// ResolveBool returns the flag value when the user set it, otherwise configured.
func ResolveBool(command *cobra.Command, flagName string, configured bool) bool {
	if !changed(command, flagName) {
		return configured
	}
	value, valueError := command.Flags().GetBool(flagName)
	if valueError != nil {
		return configured
	}
	return value
}

// ResolveDuration returns the flag value when the user set it, otherwise configured.
// A changed flag that cannot be read as a duration, or holds a negative one, is an error.
func ResolveDuration(command *cobra.Command, flagName string, configured time.Duration) (time.Duration, error) {
	if !changed(command, flagName) {
		return configured, nil
	}
	value, valueError := command.Flags().GetDuration(flagName)
	if valueError != nil {
		return configured, fmt.Errorf(durationFlagErrorTemplate, flagName, valueError)
	}
	if value < 0 {
		return configured, fmt.Errorf(negativeDurationTemplate, flagName, value)
	}
	return value, nil
}

func changed(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}
	flag := command.Flags().Lookup(flagName)
	return flag != nil && flag.Changed
}
