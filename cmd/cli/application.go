package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	migratecmd "github.com/temirov/corpusmigrate/cmd/cli/migrate"
	"github.com/temirov/corpusmigrate/internal/utils"
	flagutils "github.com/temirov/corpusmigrate/internal/utils/flags"
)

const (
	applicationNameConstant                  = "corpus-migrate"
	applicationShortDescriptionConstant      = "Migrate versioned artifact corpora to a target version"
	applicationLongDescriptionConstant       = "corpus-migrate detects the format version of every artifact in a corpus, chains the configured migration strategies up to the target version, and records each step in an audit log."
	configFileFlagNameConstant               = "config"
	configFileFlagUsageConstant              = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                 = "log-level"
	logLevelFlagUsageConstant                = "Override the configured log level"
	logFormatFlagNameConstant                = "log-format"
	logFormatFlagUsageConstant               = "Override the configured log format"
	versionFlagNameConstant                  = "version"
	versionFlagUsageConstant                 = "Print the application version and exit"
	versionOutputTemplateConstant            = "%s version: %s\n"
	unknownVersionConstant                   = "unknown"
	commonConfigurationKeyConstant           = "common"
	commonLogLevelConfigKeyConstant          = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant         = commonConfigurationKeyConstant + ".log_format"
	migrationConfigurationKeyConstant        = "migration"
	environmentPrefixConstant                = "CORPUSMIGRATE"
	configurationInitializedMessageConstant  = "Configuration initialized"
	configurationLogLevelFieldConstant       = "log_level"
	configurationLogFormatFieldConstant      = "log_format"
	configurationTargetVersionFieldConstant  = "target_version"
	configurationDetectorCountFieldConstant  = "detectors"
	configurationStrategyCountFieldConstant  = "strategies"
	configurationFileFieldConstant           = "config_file"
	configurationLoadErrorTemplateConstant   = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant      = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant          = "unable to flush logger: %w"
	unknownCommandErrorTemplateConstant      = "unknown command %q"
	logFieldCommandNameConstant              = "command_name"
	commandRegistrationErrorTemplateConstant = "unable to register %s command: %w"
	migrateCommandRegistrationNameConstant   = "migrate"
	versionCommandRegistrationNameConstant   = "version"
	planCommandRegistrationNameConstant      = "plan"
	watchCommandRegistrationNameConstant     = "watch"
)

var ignorableLoggerSyncErrors = []error{syscall.ENOTSUP, syscall.EINVAL, syscall.ENOTTY}

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common    ApplicationCommonConfiguration  `mapstructure:"common"`
	Migration migratecmd.CommandConfiguration `mapstructure:"migration"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type commandBuilder interface {
	Build() (*cobra.Command, error)
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          *utils.LoggerFactory
	logger                 *zap.Logger
	configuration          ApplicationConfiguration
	configurationFilePath  string
	logLevelFlagValue      string
	logFormatFlagValue     string
	versionFlagValue       bool
	commandContextAccessor utils.CommandContextAccessor
	versionResolver        func(context.Context) string
	exitFunction           func(int)
	registrationErrors     []error
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		configurationSearchPaths(),
	)
	configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())
	configurationLoader.RejectUnknownKeys(true)

	application := &Application{
		configurationLoader:    configurationLoader,
		loggerFactory:          utils.NewLoggerFactory(),
		logger:                 zap.NewNop(),
		commandContextAccessor: utils.NewCommandContextAccessor(),
		versionResolver:        resolveBuildVersion,
		exitFunction:           os.Exit,
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	logLevelValue := flagutils.NewChoiceValue(&application.logLevelFlagValue, string(utils.LogLevelInfo), utils.SupportedLogLevels())
	cobraCommand.PersistentFlags().Var(logLevelValue, logLevelFlagNameConstant, logLevelValue.Usage(logLevelFlagUsageConstant))
	logFormatValue := flagutils.NewChoiceValue(&application.logFormatFlagValue, string(utils.LogFormatStructured), utils.SupportedLogFormats())
	cobraCommand.PersistentFlags().Var(logFormatValue, logFormatFlagNameConstant, logFormatValue.Usage(logFormatFlagUsageConstant))
	cobraCommand.Flags().BoolVar(&application.versionFlagValue, versionFlagNameConstant, false, versionFlagUsageConstant)

	loggerProvider := func() *zap.Logger {
		return application.logger
	}
	configurationProvider := func() migratecmd.CommandConfiguration {
		return application.configuration.Migration
	}

	application.registerCommand(cobraCommand, migrateCommandRegistrationNameConstant, &migratecmd.CommandBuilder{
		LoggerProvider:        loggerProvider,
		ConfigurationProvider: configurationProvider,
	})
	application.registerCommand(cobraCommand, versionCommandRegistrationNameConstant, &migratecmd.VersionCommandBuilder{
		LoggerProvider:        loggerProvider,
		ConfigurationProvider: configurationProvider,
	})
	application.registerCommand(cobraCommand, planCommandRegistrationNameConstant, &migratecmd.PlanCommandBuilder{
		LoggerProvider:        loggerProvider,
		ConfigurationProvider: configurationProvider,
	})
	application.registerCommand(cobraCommand, watchCommandRegistrationNameConstant, &migratecmd.WatchCommandBuilder{
		LoggerProvider:        loggerProvider,
		ConfigurationProvider: configurationProvider,
	})

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	if application.versionRequested() {
		fmt.Fprintf(application.rootCommand.OutOrStdout(), versionOutputTemplateConstant, applicationNameConstant, application.versionResolver(context.Background()))
		application.exitFunction(0)
		return nil
	}

	if registrationError := errors.Join(application.registrationErrors...); registrationError != nil {
		return registrationError
	}

	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// InitializeForCommand loads configuration as if the named subcommand were about to run.
func (application *Application) InitializeForCommand(commandUse string) error {
	for _, subcommand := range application.rootCommand.Commands() {
		if subcommand.Name() == strings.TrimSpace(commandUse) {
			subcommand.SetContext(application.rootCommand.Context())
			return application.initializeConfiguration(subcommand)
		}
	}
	return fmt.Errorf(unknownCommandErrorTemplateConstant, commandUse)
}

// Configuration returns the configuration loaded by the last initialization.
func (application *Application) Configuration() ApplicationConfiguration {
	return application.configuration
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) registerCommand(rootCommand *cobra.Command, commandName string, builder commandBuilder) {
	command, buildError := builder.Build()
	if buildError != nil {
		application.registrationErrors = append(application.registrationErrors, fmt.Errorf(commandRegistrationErrorTemplateConstant, commandName, buildError))
		return
	}
	rootCommand.AddCommand(command)
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultConfigurationValues(), &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	// Choice flags only write their target when set on the command line.
	if len(application.logLevelFlagValue) > 0 {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}
	if len(application.logFormatFlagValue) > 0 {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	logger, loggerCreationError := application.loggerFactory.CreateLogger(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}
	application.logger = logger

	parentContext := command.Context()
	if parentContext == nil {
		parentContext = context.Background()
	}
	commandContext := application.commandContextAccessor.WithConfigurationFilePath(parentContext, loadedConfiguration.ConfigFileUsed)
	command.SetContext(commandContext)
	command.Root().SetContext(commandContext)

	application.logger.Debug(
		configurationInitializedMessageConstant,
		zap.String(logFieldCommandNameConstant, command.Name()),
		zap.String(configurationFileFieldConstant, application.commandContextAccessor.ConfigurationSource(commandContext)),
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.Int(configurationTargetVersionFieldConstant, application.configuration.Migration.TargetVersion),
		zap.Int(configurationDetectorCountFieldConstant, len(application.configuration.Migration.Detectors)),
		zap.Int(configurationStrategyCountFieldConstant, len(application.configuration.Migration.Strategies)),
	)
	return nil
}

// versionRequested inspects the raw arguments so --version short-circuits configuration loading.
func (application *Application) versionRequested() bool {
	for _, argument := range os.Args[1:] {
		if argument == "--"+versionFlagNameConstant {
			return true
		}
	}
	return false
}

// flushLogger syncs the logger, ignoring the errors returned when standard error is a terminal or pipe.
func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}
	syncError := application.logger.Sync()
	for _, ignorableError := range ignorableLoggerSyncErrors {
		if errors.Is(syncError, ignorableError) {
			return nil
		}
	}
	return syncError
}

// defaultConfigurationValues seeds Viper with every key the embedded configuration may omit.
func defaultConfigurationValues() map[string]any {
	defaultValues := migratecmd.DefaultConfigurationValues(migrationConfigurationKeyConstant)
	defaultValues[commonLogLevelConfigKeyConstant] = string(utils.LogLevelInfo)
	defaultValues[commonLogFormatConfigKeyConstant] = string(utils.LogFormatStructured)
	return defaultValues
}

func resolveBuildVersion(context.Context) string {
	buildInfo, available := debug.ReadBuildInfo()
	if !available || len(buildInfo.Main.Version) == 0 {
		return unknownVersionConstant
	}
	return buildInfo.Main.Version
}
