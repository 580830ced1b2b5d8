package cli_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/temirov/corpusmigrate/cmd/cli"
	migratecmd "github.com/temirov/corpusmigrate/cmd/cli/migrate"
	"github.com/temirov/corpusmigrate/internal/auditlog"
)

const (
	testConfigurationFileNameConstant          = "config.yaml"
	testConfigurationSearchPathEnvironmentName = "CORPUSMIGRATE_CONFIG_SEARCH_PATH"
	testMigrateCommandNameConstant             = "migrate"
	testApplicationNameConstant                = "corpus-migrate"
	testConfigurationTemplateConstant          = `common:
  log_level: %s
  log_format: structured
migration:
  root: %s
  pattern: "*.ldml"
  target_version: 2
  workers: 2
  watch_debounce: 1s
  detectors:
    - kind: fixed
      ceiling: 0
      options:
        version: 0
    - kind: marker
      ceiling: 2
      options:
        expression: '<version number="(\d+)"/>'
  strategies:
    - name: add_version_marker
      from: [0]
      to: 1
      version_marker:
        insert_after: '<ldml>\n'
        template: "<version number=\"{version}\"/>\n"
    - name: territory_to_region
      from: [1]
      to: 2
      replacements:
        - pattern: '<territory>(\w+)</territory>'
          replacement: '<region code="$1"/>'
      identity:
        pattern: '^(\w+)$'
        replacement: '${1}_v2'
      version_marker:
        pattern: '<version number="(\d+)"/>'
`
	testEnglishArtifactConstant = "<ldml>\n<territory>US</territory>\n</ldml>\n"
	testFrenchArtifactConstant  = "<ldml>\n<version number=\"1\"/>\n<territory>FR</territory>\n</ldml>\n"
	testMigratedEnglishConstant = "<ldml>\n<version number=\"2\"/>\n<region code=\"US\"/>\n</ldml>\n"
	testMigratedFrenchConstant  = "<ldml>\n<version number=\"2\"/>\n<region code=\"FR\"/>\n</ldml>\n"
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	corpusDirectory := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpusDirectory, "en.ldml"), []byte(testEnglishArtifactConstant), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(corpusDirectory, "fr.ldml"), []byte(testFrenchArtifactConstant), 0o644))
	return corpusDirectory
}

func writeConfigurationFile(t *testing.T, directory string, logLevel string, corpusDirectory string) string {
	t.Helper()
	configurationPath := filepath.Join(directory, testConfigurationFileNameConstant)
	configurationContent := fmt.Sprintf(testConfigurationTemplateConstant, logLevel, corpusDirectory)
	require.NoError(t, os.WriteFile(configurationPath, []byte(configurationContent), 0o600))
	return configurationPath
}

func TestApplicationMigratesCorpusFromConfiguration(t *testing.T) {
	testCases := []struct {
		name            string
		useExplicitFlag bool
		additionalFlags []string
	}{
		{name: "SearchPathConfiguration"},
		{name: "ExplicitConfigurationFlag", useExplicitFlag: true},
		{name: "LogFormatOverride", additionalFlags: []string{"--log-format", "console", "--log-level", "debug"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			corpusDirectory := writeCorpus(t)
			configurationDirectory := t.TempDir()
			configurationPath := writeConfigurationFile(t, configurationDirectory, "info", corpusDirectory)

			arguments := []string{testApplicationNameConstant}
			if testCase.useExplicitFlag {
				t.Setenv(testConfigurationSearchPathEnvironmentName, t.TempDir())
				arguments = append(arguments, "--config", configurationPath)
			} else {
				t.Setenv(testConfigurationSearchPathEnvironmentName, configurationDirectory)
			}
			arguments = append(arguments, testCase.additionalFlags...)
			arguments = append(arguments, testMigrateCommandNameConstant)

			originalArgs := os.Args
			defer func() {
				os.Args = originalArgs
			}()
			os.Args = arguments

			require.NoError(t, cli.NewApplication().Execute())

			englishContent, englishReadError := os.ReadFile(filepath.Join(corpusDirectory, "en.ldml"))
			require.NoError(t, englishReadError)
			require.Equal(t, testMigratedEnglishConstant, string(englishContent))

			frenchContent, frenchReadError := os.ReadFile(filepath.Join(corpusDirectory, "fr.ldml"))
			require.NoError(t, frenchReadError)
			require.Equal(t, testMigratedFrenchConstant, string(frenchContent))

			require.FileExists(t, filepath.Join(corpusDirectory, auditlog.DefaultFileName))
		})
	}
}

func TestApplicationInitializeForCommand(t *testing.T) {
	testCases := []struct {
		name              string
		logLevel          string
		commandUse        string
		expectedErrorText string
	}{
		{name: "ValidConfiguration", logLevel: "info", commandUse: testMigrateCommandNameConstant},
		{name: "InvalidLogLevel", logLevel: "verbose", commandUse: testMigrateCommandNameConstant, expectedErrorText: "unable to create logger"},
		{name: "UnknownCommand", logLevel: "info", commandUse: "branch-migrate", expectedErrorText: "unknown command"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configurationDirectory := t.TempDir()
			writeConfigurationFile(t, configurationDirectory, testCase.logLevel, "/srv/corpus")
			t.Setenv(testConfigurationSearchPathEnvironmentName, configurationDirectory)

			application := cli.NewApplication()
			initializationError := application.InitializeForCommand(testCase.commandUse)
			if len(testCase.expectedErrorText) > 0 {
				require.Error(t, initializationError)
				require.Contains(t, initializationError.Error(), testCase.expectedErrorText)
				return
			}
			require.NoError(t, initializationError)

			configuration := application.Configuration().Migration
			require.Equal(t, "/srv/corpus", configuration.Root)
			require.Equal(t, "*.ldml", configuration.Pattern)
			require.Equal(t, 2, configuration.TargetVersion)
			require.Equal(t, 2, configuration.Workers)
			require.Equal(t, time.Second, configuration.WatchDebounce)
			require.Len(t, configuration.Detectors, 2)
			require.Equal(t, "marker", configuration.Detectors[1].Kind)
			require.Len(t, configuration.Strategies, 2)
			require.Equal(t, []int{1}, configuration.Strategies[1].From)
			require.NotNil(t, configuration.Strategies[1].Identity)
			require.Equal(t, "${1}_v2", configuration.Strategies[1].Identity.Replacement)
			require.NoError(t, configuration.Validate())
		})
	}
}

func TestApplicationEmbeddedDefaultsProvideMigrationConfiguration(t *testing.T) {
	t.Setenv(testConfigurationSearchPathEnvironmentName, t.TempDir())

	application := cli.NewApplication()
	require.NoError(t, application.InitializeForCommand(testMigrateCommandNameConstant))

	defaults := migratecmd.DefaultCommandConfiguration()
	configuration := application.Configuration().Migration.Sanitize()
	require.Equal(t, defaults.Root, configuration.Root)
	require.Equal(t, defaults.Pattern, configuration.Pattern)
	require.Equal(t, defaults.TargetVersion, configuration.TargetVersion)
	require.Equal(t, defaults.Workers, configuration.Workers)
	require.Equal(t, defaults.AuditLog, configuration.AuditLog)
	require.Equal(t, defaults.LockFile, configuration.LockFile)
	require.Equal(t, defaults.VerifyWrites, configuration.VerifyWrites)
	require.Equal(t, defaults.DetectionCacheSize, configuration.DetectionCacheSize)
	require.Equal(t, defaults.WatchDebounce, configuration.WatchDebounce)
	require.Empty(t, configuration.Detectors)
	require.Empty(t, configuration.Strategies)
	require.Equal(t, "info", application.Configuration().Common.LogLevel)
	require.Equal(t, "structured", application.Configuration().Common.LogFormat)
}

func TestApplicationEnvironmentOverridesConfiguration(t *testing.T) {
	t.Setenv(testConfigurationSearchPathEnvironmentName, t.TempDir())
	t.Setenv("CORPUSMIGRATE_MIGRATION_WORKERS", "4")
	t.Setenv("CORPUSMIGRATE_MIGRATION_PATTERN", "*.xml")

	application := cli.NewApplication()
	require.NoError(t, application.InitializeForCommand(testMigrateCommandNameConstant))

	configuration := application.Configuration().Migration
	require.Equal(t, 4, configuration.Workers)
	require.Equal(t, "*.xml", configuration.Pattern)
}

func TestEmbeddedDefaultConfigurationParses(t *testing.T) {
	configurationData, configurationType := cli.EmbeddedDefaultConfiguration()
	viperInstance := viper.New()
	viperInstance.SetConfigType(configurationType)
	require.NoError(t, viperInstance.ReadConfig(bytes.NewReader(configurationData)))

	require.Equal(t, auditlog.DefaultFileName, viperInstance.GetString("migration.audit_log"))
	require.Equal(t, "250ms", viperInstance.GetString("migration.watch_debounce"))
	require.True(t, viperInstance.GetBool("migration.verify"))
}

func TestApplicationRejectsUnsupportedLogLevelFlag(t *testing.T) {
	t.Setenv(testConfigurationSearchPathEnvironmentName, t.TempDir())

	originalArgs := os.Args
	defer func() {
		os.Args = originalArgs
	}()
	os.Args = []string{testApplicationNameConstant, "--log-level", "verbose", testMigrateCommandNameConstant, t.TempDir()}

	executionError := cli.NewApplication().Execute()
	require.Error(t, executionError)
	require.Contains(t, executionError.Error(), `unsupported value "verbose"`)
}

func TestApplicationRejectsMisspelledRecipeKeys(t *testing.T) {
	configurationDirectory := t.TempDir()
	configurationContent := "migration:\n  strategies:\n    - name: add_version_marker\n      from: [0]\n      to: 1\n      replacement:\n        - pattern: x\n"
	require.NoError(t, os.WriteFile(filepath.Join(configurationDirectory, testConfigurationFileNameConstant), []byte(configurationContent), 0o600))
	t.Setenv(testConfigurationSearchPathEnvironmentName, configurationDirectory)

	initializationError := cli.NewApplication().InitializeForCommand(testMigrateCommandNameConstant)
	require.Error(t, initializationError)
	require.Contains(t, initializationError.Error(), "unable to load configuration")
	require.Contains(t, initializationError.Error(), "replacement")
}
