package cli

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
)

const (
	configurationNameConstant                = "config"
	configurationTypeConstant                = "yaml"
	configurationSearchPathEnvironmentName   = "CORPUSMIGRATE_CONFIG_SEARCH_PATH"
	defaultConfigurationSearchPathConstant   = "."
	userConfigurationDirectoryNameConstant   = "corpus-migrate"
	configurationSearchPathSeparatorConstant = string(os.PathListSeparator)
)

// default_config.yaml carries an empty recipe catalog; corpora supply detectors and strategies in their own config.yaml.
//
//go:embed default_config.yaml
var embeddedDefaultConfigurationContent []byte

// EmbeddedDefaultConfiguration returns a copy of the built-in configuration and its format.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return bytes.Clone(embeddedDefaultConfigurationContent), configurationTypeConstant
}

// configurationSearchPaths lists the directories searched for config.yaml: the working directory, then the
// user configuration directory. A non-empty CORPUSMIGRATE_CONFIG_SEARCH_PATH replaces both.
func configurationSearchPaths() []string {
	if override := strings.TrimSpace(os.Getenv(configurationSearchPathEnvironmentName)); len(override) > 0 {
		searchPaths := make([]string, 0)
		for _, searchPath := range strings.Split(override, configurationSearchPathSeparatorConstant) {
			if trimmedPath := strings.TrimSpace(searchPath); len(trimmedPath) > 0 {
				searchPaths = append(searchPaths, trimmedPath)
			}
		}
		return searchPaths
	}

	searchPaths := []string{defaultConfigurationSearchPathConstant}
	if userConfigurationDirectory, directoryError := os.UserConfigDir(); directoryError == nil {
		searchPaths = append(searchPaths, filepath.Join(userConfigurationDirectory, userConfigurationDirectoryNameConstant))
	}
	return searchPaths
}
