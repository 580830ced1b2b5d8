package utils_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/corpusmigrate/internal/utils"
)

const (
	testEnvironmentPrefixConstant     = "TESTCORPUSMIGRATE"
	testLogLevelKeyConstant           = "common.log_level"
	testLogLevelEnvironmentName       = testEnvironmentPrefixConstant + "_COMMON_LOG_LEVEL"
	testConfigFileNameConstant        = "config.yaml"
	testConfigContentTemplateConstant = "common:\n  log_level: %s\n"
	testConfigurationNameConstant     = "config"
	testConfigurationTypeConstant     = "yaml"
)

type configurationFixture struct {
	Common configurationCommonFixture `mapstructure:"common"`
}

type configurationCommonFixture struct {
	LogLevel string `mapstructure:"log_level"`
}

type migrationConfigurationFixture struct {
	Migration migrationSectionFixture `mapstructure:"migration"`
}

type migrationSectionFixture struct {
	WatchDebounce time.Duration     `mapstructure:"watch_debounce"`
	Excluded      []string          `mapstructure:"excluded"`
	Detectors     []detectorFixture `mapstructure:"detectors"`
}

type detectorFixture struct {
	Kind    string         `mapstructure:"kind"`
	Ceiling int            `mapstructure:"ceiling"`
	Options map[string]any `mapstructure:"options"`
}

func writeLogLevelConfiguration(t *testing.T, directory string, logLevel string) string {
	t.Helper()
	configurationFilePath := filepath.Join(directory, testConfigFileNameConstant)
	require.NoError(t, os.WriteFile(configurationFilePath, []byte(fmt.Sprintf(testConfigContentTemplateConstant, logLevel)), 0o600))
	return configurationFilePath
}

func TestConfigurationLoaderLayerPrecedence(t *testing.T) {
	testCases := []struct {
		name                string
		embeddedLogLevel    string
		fileLogLevel        string
		environmentLogLevel string
		expectedLogLevel    string
	}{
		{name: "defaults_only", expectedLogLevel: "info"},
		{name: "embedded_configuration_overrides_defaults", embeddedLogLevel: "debug", expectedLogLevel: "debug"},
		{name: "file_overrides_embedded", embeddedLogLevel: "info", fileLogLevel: "debug", expectedLogLevel: "debug"},
		{name: "environment_overrides_file", embeddedLogLevel: "info", fileLogLevel: "warn", environmentLogLevel: "error", expectedLogLevel: "error"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configurationDirectory := t.TempDir()
			configurationFilePath := ""
			if len(testCase.fileLogLevel) > 0 {
				configurationFilePath = writeLogLevelConfiguration(t, configurationDirectory, testCase.fileLogLevel)
			}
			if len(testCase.environmentLogLevel) > 0 {
				t.Setenv(testLogLevelEnvironmentName, testCase.environmentLogLevel)
			}

			configurationLoader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, []string{configurationDirectory})
			if len(testCase.embeddedLogLevel) > 0 {
				configurationLoader.SetEmbeddedConfiguration([]byte(fmt.Sprintf(testConfigContentTemplateConstant, testCase.embeddedLogLevel)), testConfigurationTypeConstant)
			}

			loadedConfiguration := configurationFixture{}
			metadata, loadError := configurationLoader.LoadConfiguration(configurationFilePath, map[string]any{testLogLevelKeyConstant: "info"}, &loadedConfiguration)
			require.NoError(t, loadError)
			require.Equal(t, testCase.expectedLogLevel, loadedConfiguration.Common.LogLevel)
			require.Equal(t, configurationFilePath, metadata.ConfigFileUsed)
			require.Equal(t, len(testCase.embeddedLogLevel) > 0, metadata.EmbeddedConfigurationApplied)
		})
	}
}

func TestConfigurationLoaderSearchPaths(t *testing.T) {
	testCases := []struct {
		name            string
		selectsUserPath bool
	}{
		{name: "working_directory"},
		{name: "user_configuration_directory", selectsUserPath: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			workingDirectoryPath := t.TempDir()
			userConfigurationDirectoryPath := filepath.Join(t.TempDir(), "corpus-migrate")
			require.NoError(t, os.MkdirAll(userConfigurationDirectoryPath, 0o755))

			selectedDirectory := workingDirectoryPath
			if testCase.selectsUserPath {
				selectedDirectory = userConfigurationDirectoryPath
			}
			configurationFilePath := writeLogLevelConfiguration(t, selectedDirectory, "debug")

			configurationLoader := utils.NewConfigurationLoader(
				testConfigurationNameConstant,
				testConfigurationTypeConstant,
				testEnvironmentPrefixConstant,
				[]string{workingDirectoryPath, userConfigurationDirectoryPath},
			)

			loadedConfiguration := configurationFixture{}
			metadata, loadError := configurationLoader.LoadConfiguration("", map[string]any{testLogLevelKeyConstant: "info"}, &loadedConfiguration)
			require.NoError(t, loadError)
			require.Equal(t, "debug", loadedConfiguration.Common.LogLevel)
			require.Equal(t, configurationFilePath, metadata.ConfigFileUsed)
		})
	}
}

func TestConfigurationLoaderDecodesMigrationSection(t *testing.T) {
	configurationDirectory := t.TempDir()
	configurationFilePath := filepath.Join(configurationDirectory, testConfigFileNameConstant)
	configurationContent := "migration:\n  watch_debounce: 750ms\n  detectors:\n    - kind: marker\n      ceiling: 3\n      options:\n        expression: 'version=(\\d+)'\n    - kind: fixed\n"
	require.NoError(t, os.WriteFile(configurationFilePath, []byte(configurationContent), 0o600))

	t.Setenv(testEnvironmentPrefixConstant+"_MIGRATION_EXCLUDED", "drafts,archive")

	configurationLoader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, []string{configurationDirectory})
	configurationLoader.RejectUnknownKeys(true)

	loadedConfiguration := migrationConfigurationFixture{}
	_, loadError := configurationLoader.LoadConfiguration(configurationFilePath, map[string]any{"migration.excluded": []string{}}, &loadedConfiguration)
	require.NoError(t, loadError)

	require.Equal(t, 750*time.Millisecond, loadedConfiguration.Migration.WatchDebounce)
	require.Equal(t, []string{"drafts", "archive"}, loadedConfiguration.Migration.Excluded)
	require.Len(t, loadedConfiguration.Migration.Detectors, 2)
	require.Equal(t, "marker", loadedConfiguration.Migration.Detectors[0].Kind)
	require.Equal(t, 3, loadedConfiguration.Migration.Detectors[0].Ceiling)
	require.Equal(t, `version=(\d+)`, loadedConfiguration.Migration.Detectors[0].Options["expression"])
	require.Equal(t, "fixed", loadedConfiguration.Migration.Detectors[1].Kind)
}

func TestConfigurationLoaderFailures(t *testing.T) {
	testCases := []struct {
		name              string
		fileContent       string
		explicitPath      string
		rejectUnknownKeys bool
		embedded          string
		expectedErrorText string
	}{
		{
			name:              "unknown_key_rejected",
			fileContent:       "migration:\n  detectors:\n    - kind: marker\n      celing: 2\n",
			rejectUnknownKeys: true,
			expectedErrorText: "failed to parse configuration",
		},
		{
			name:              "malformed_file",
			fileContent:       "migration: [unterminated\n",
			expectedErrorText: "failed to read configuration",
		},
		{
			name:              "explicit_file_missing",
			explicitPath:      "missing.yaml",
			expectedErrorText: "failed to read configuration",
		},
		{
			name:              "malformed_embedded_configuration",
			embedded:          "common: [",
			expectedErrorText: "failed to merge embedded configuration",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configurationDirectory := t.TempDir()
			configurationFilePath := ""
			if len(testCase.fileContent) > 0 {
				configurationFilePath = filepath.Join(configurationDirectory, testConfigFileNameConstant)
				require.NoError(t, os.WriteFile(configurationFilePath, []byte(testCase.fileContent), 0o600))
			}
			if len(testCase.explicitPath) > 0 {
				configurationFilePath = filepath.Join(configurationDirectory, testCase.explicitPath)
			}

			configurationLoader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, []string{configurationDirectory})
			configurationLoader.RejectUnknownKeys(testCase.rejectUnknownKeys)
			if len(testCase.embedded) > 0 {
				configurationLoader.SetEmbeddedConfiguration([]byte(testCase.embedded), testConfigurationTypeConstant)
			}

			loadedConfiguration := migrationConfigurationFixture{}
			_, loadError := configurationLoader.LoadConfiguration(configurationFilePath, nil, &loadedConfiguration)
			require.Error(t, loadError)
			require.Contains(t, loadError.Error(), testCase.expectedErrorText)
		})
	}
}
