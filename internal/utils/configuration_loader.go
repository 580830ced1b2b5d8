package utils

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configurationReadErrorTemplateConstant          = "failed to read configuration: %w"
	configurationUnmarshalErrorTemplateConstant     = "failed to parse configuration: %w"
	embeddedConfigurationMergeErrorTemplateConstant = "failed to merge embedded configuration: %w"
	listSeparatorConstant                           = ","
	environmentKeySeparatorConstant                 = "_"
)

// environmentKeyReplacer maps nested keys such as migration.target_version onto PREFIX_MIGRATION_TARGET_VERSION.
var environmentKeyReplacer = strings.NewReplacer(".", environmentKeySeparatorConstant, "-", environmentKeySeparatorConstant)

// ConfigurationLoader layers embedded defaults, a configuration file, and environment variables with Viper.
// Later layers win: embedded data, then explicit defaults, then the file, then the environment.
type ConfigurationLoader struct {
	configurationName         string
	configurationType         string
	environmentPrefix         string
	searchPaths               []string
	embeddedConfiguration     []byte
	embeddedConfigurationType string
	rejectUnknownKeys         bool
}

// LoadedConfiguration surfaces metadata about the resolved configuration.
type LoadedConfiguration struct {
	// ConfigFileUsed is empty when no file was found and only embedded data and defaults applied.
	ConfigFileUsed string
	// EmbeddedConfigurationApplied reports whether embedded data was merged.
	EmbeddedConfigurationApplied bool
}

// NewConfigurationLoader creates a loader that searches known paths and respects an environment prefix.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName: configurationName,
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
		searchPaths:       slices.Clone(searchPaths),
	}
}

// SetEmbeddedConfiguration stores configuration data merged underneath user-provided configuration files.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(configurationData []byte, configurationType string) {
	if loader == nil {
		return
	}
	loader.embeddedConfigurationType = strings.TrimSpace(configurationType)
	loader.embeddedConfiguration = nil
	if len(configurationData) > 0 {
		loader.embeddedConfiguration = bytes.Clone(configurationData)
	}
}

// RejectUnknownKeys makes LoadConfiguration fail on keys that do not map onto the target, so misspelled
// recipe fields surface instead of silently disabling a detector or strategy.
func (loader *ConfigurationLoader) RejectUnknownKeys(reject bool) {
	if loader == nil {
		return
	}
	loader.rejectUnknownKeys = reject
}

// LoadConfiguration populates targetConfiguration from every configuration layer.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, targetConfiguration any) (LoadedConfiguration, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigName(loader.configurationName)

	embeddedApplied, embeddedError := loader.mergeEmbeddedConfiguration(viperInstance)
	if embeddedError != nil {
		return LoadedConfiguration{}, embeddedError
	}

	viperInstance.SetConfigType(loader.configurationType)
	for _, searchPath := range loader.searchPaths {
		viperInstance.AddConfigPath(searchPath)
	}
	viperInstance.SetEnvPrefix(loader.environmentPrefix)
	viperInstance.SetEnvKeyReplacer(environmentKeyReplacer)
	viperInstance.AutomaticEnv()
	for defaultKey, defaultValue := range defaultValues {
		viperInstance.SetDefault(defaultKey, defaultValue)
	}

	if readError := loader.mergeConfigurationFile(viperInstance, configurationFilePath); readError != nil {
		return LoadedConfiguration{}, readError
	}

	unmarshalError := viperInstance.Unmarshal(targetConfiguration, viper.DecodeHook(configurationDecodeHook()), func(decoderConfiguration *mapstructure.DecoderConfig) {
		decoderConfiguration.ErrorUnused = loader.rejectUnknownKeys
	})
	if unmarshalError != nil {
		return LoadedConfiguration{}, fmt.Errorf(configurationUnmarshalErrorTemplateConstant, unmarshalError)
	}

	return LoadedConfiguration{
		ConfigFileUsed:               viperInstance.ConfigFileUsed(),
		EmbeddedConfigurationApplied: embeddedApplied,
	}, nil
}

func (loader *ConfigurationLoader) mergeEmbeddedConfiguration(viperInstance *viper.Viper) (bool, error) {
	if len(loader.embeddedConfiguration) == 0 {
		return false, nil
	}

	embeddedType := loader.configurationType
	if len(loader.embeddedConfigurationType) > 0 {
		embeddedType = loader.embeddedConfigurationType
	}
	viperInstance.SetConfigType(embeddedType)
	if mergeError := viperInstance.MergeConfig(bytes.NewReader(loader.embeddedConfiguration)); mergeError != nil {
		return false, fmt.Errorf(embeddedConfigurationMergeErrorTemplateConstant, mergeError)
	}
	return true, nil
}

// mergeConfigurationFile reads the explicit file when given, otherwise searches the configured paths.
// A missing file is only an error when it was named explicitly.
func (loader *ConfigurationLoader) mergeConfigurationFile(viperInstance *viper.Viper, configurationFilePath string) error {
	if len(configurationFilePath) > 0 {
		viperInstance.SetConfigFile(configurationFilePath)
	}

	readError := viperInstance.MergeInConfig()
	if readError == nil {
		return nil
	}
	var notFoundError viper.ConfigFileNotFoundError
	if errors.As(readError, &notFoundError) {
		return nil
	}
	return fmt.Errorf(configurationReadErrorTemplateConstant, readError)
}

// configurationDecodeHook accepts durations such as "250ms" and comma separated lists from environment variables.
func configurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(listSeparatorConstant),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}
