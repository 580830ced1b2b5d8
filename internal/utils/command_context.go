package utils

import "context"

const (
	configurationFilePathContextKeyConstant = commandContextKey("configurationFilePath")
	embeddedConfigurationSourceConstant     = "embedded defaults"
)

type commandContextKey string

// CommandContextAccessor stores invocation details in command contexts so
// subcommands can explain where their migration recipes came from.
type CommandContextAccessor struct{}

// NewCommandContextAccessor constructs a CommandContextAccessor instance.
func NewCommandContextAccessor() CommandContextAccessor {
	return CommandContextAccessor{}
}

// WithConfigurationFilePath records the configuration file that was loaded. An empty path means only embedded defaults applied.
func (accessor CommandContextAccessor) WithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, configurationFilePathContextKeyConstant, configurationFilePath)
}

// ConfigurationFilePath returns the recorded configuration file, reporting false when none was loaded.
func (accessor CommandContextAccessor) ConfigurationFilePath(executionContext context.Context) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	configurationFilePath, recorded := executionContext.Value(configurationFilePathContextKeyConstant).(string)
	if !recorded || len(configurationFilePath) == 0 {
		return "", false
	}
	return configurationFilePath, true
}

// ConfigurationSource names the loaded configuration file, or the embedded defaults.
func (accessor CommandContextAccessor) ConfigurationSource(executionContext context.Context) string {
	if configurationFilePath, recorded := accessor.ConfigurationFilePath(executionContext); recorded {
		return configurationFilePath
	}
	return embeddedConfigurationSourceConstant
}
