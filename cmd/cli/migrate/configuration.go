package migrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/temirov/corpusmigrate/internal/artifact"
	"github.com/temirov/corpusmigrate/internal/auditlog"
	"github.com/temirov/corpusmigrate/internal/recipes"
)

const (
	defaultRootConstant                       = "."
	defaultPatternConstant                    = "*"
	defaultWorkersConstant                    = 1
	defaultDetectionCacheSizeConstant         = 1024
	defaultWatchDebounceConstant              = 250 * time.Millisecond
	configurationRootKeyConstant              = "root"
	configurationPatternKeyConstant           = "pattern"
	configurationTargetVersionKeyConstant     = "target_version"
	configurationRecursiveKeyConstant         = "recursive"
	configurationWorkersKeyConstant           = "workers"
	configurationAuditLogKeyConstant          = "audit_log"
	configurationLockKeyConstant              = "lock"
	configurationVerifyKeyConstant            = "verify"
	configurationCacheSizeKeyConstant         = "detection_cache_size"
	configurationWatchDebounceKeyConstant     = "watch_debounce"
	configurationKeySeparatorConstant         = "."
	invalidConfigurationErrorTemplateConstant = "invalid migration configuration: %w"
)

// CommandConfiguration captures configuration values shared by the migration commands.
type CommandConfiguration struct {
	Root               string                   `mapstructure:"root"`
	Pattern            string                   `mapstructure:"pattern" validate:"required"`
	TargetVersion      int                      `mapstructure:"target_version" validate:"gte=0"`
	Recursive          bool                     `mapstructure:"recursive"`
	Workers            int                      `mapstructure:"workers" validate:"gte=1,lte=64"`
	AuditLog           string                   `mapstructure:"audit_log" validate:"required,excludesall=/\\"`
	LockFile           string                   `mapstructure:"lock" validate:"required,excludesall=/\\"`
	VerifyWrites       bool                     `mapstructure:"verify"`
	DetectionCacheSize int                      `mapstructure:"detection_cache_size" validate:"gte=-1"`
	WatchDebounce      time.Duration            `mapstructure:"watch_debounce" validate:"gte=0"`
	Validator          recipes.ValidatorRecipe  `mapstructure:"validator"`
	Detectors          []recipes.DetectorRecipe `mapstructure:"detectors"`
	Strategies         []recipes.StrategyRecipe `mapstructure:"strategies"`
}

// DefaultCommandConfiguration provides baseline values for the migration commands.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		Root:               defaultRootConstant,
		Pattern:            defaultPatternConstant,
		TargetVersion:      0,
		Recursive:          false,
		Workers:            defaultWorkersConstant,
		AuditLog:           auditlog.DefaultFileName,
		LockFile:           artifact.DefaultLockFileName,
		VerifyWrites:       true,
		DetectionCacheSize: defaultDetectionCacheSizeConstant,
		WatchDebounce:      defaultWatchDebounceConstant,
	}
}

// DefaultConfigurationValues produces Viper defaults for the migration section rooted at rootKey.
func DefaultConfigurationValues(rootKey string) map[string]any {
	defaults := DefaultCommandConfiguration()
	prefix := rootKey + configurationKeySeparatorConstant
	return map[string]any{
		prefix + configurationRootKeyConstant:          defaults.Root,
		prefix + configurationPatternKeyConstant:       defaults.Pattern,
		prefix + configurationTargetVersionKeyConstant: defaults.TargetVersion,
		prefix + configurationRecursiveKeyConstant:     defaults.Recursive,
		prefix + configurationWorkersKeyConstant:       defaults.Workers,
		prefix + configurationAuditLogKeyConstant:      defaults.AuditLog,
		prefix + configurationLockKeyConstant:          defaults.LockFile,
		prefix + configurationVerifyKeyConstant:        defaults.VerifyWrites,
		prefix + configurationCacheSizeKeyConstant:     defaults.DetectionCacheSize,
		prefix + configurationWatchDebounceKeyConstant: defaults.WatchDebounce,
	}
}

// Sanitize trims values and restores defaults for blank or unset fields.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	defaults := DefaultCommandConfiguration()
	sanitized := configuration

	sanitized.Root = strings.TrimSpace(configuration.Root)
	sanitized.Pattern = strings.TrimSpace(configuration.Pattern)
	if len(sanitized.Pattern) == 0 {
		sanitized.Pattern = defaults.Pattern
	}
	sanitized.AuditLog = strings.TrimSpace(configuration.AuditLog)
	if len(sanitized.AuditLog) == 0 {
		sanitized.AuditLog = defaults.AuditLog
	}
	sanitized.LockFile = strings.TrimSpace(configuration.LockFile)
	if len(sanitized.LockFile) == 0 {
		sanitized.LockFile = defaults.LockFile
	}
	if sanitized.Workers == 0 {
		sanitized.Workers = defaults.Workers
	}
	if sanitized.WatchDebounce == 0 {
		sanitized.WatchDebounce = defaults.WatchDebounce
	}

	return sanitized
}

// Validate reports every field outside its accepted range.
func (configuration CommandConfiguration) Validate() error {
	if validationError := validator.New(validator.WithRequiredStructEnabled()).Struct(configuration); validationError != nil {
		return fmt.Errorf(invalidConfigurationErrorTemplateConstant, validationError)
	}
	return nil
}

// Catalog returns the detector and strategy recipes of the configuration.
func (configuration CommandConfiguration) Catalog() recipes.Catalog {
	return recipes.Catalog{Detectors: configuration.Detectors, Strategies: configuration.Strategies}
}
