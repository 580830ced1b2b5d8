package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	unsupportedLogLevelTemplateConstant  = "unsupported log level %q; expected one of %s"
	unsupportedLogFormatTemplateConstant = "unsupported log format %q; expected one of %s"
	supportedValuesSeparatorConstant     = ", "
	samplingTickConstant                 = time.Second
	samplingInitialConstant              = 100
	samplingThereafterConstant           = 100
)

// LogLevel enumerates supported logging granularities.
type LogLevel string

// Supported log levels, from most to least verbose.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat enumerates supported logger output encodings.
type LogFormat string

const (
	// LogFormatStructured emits one JSON object per line, suited to log collectors and long watch sessions.
	LogFormatStructured LogFormat = "structured"
	// LogFormatConsole emits human-readable lines for interactive migration runs.
	LogFormatConsole LogFormat = "console"
)

type logLevelDefinition struct {
	level    LogLevel
	zapLevel zapcore.Level
}

type logFormatDefinition struct {
	format      LogFormat
	encoderFunc func() zapcore.Encoder
	sampled     bool
}

var logLevelDefinitions = []logLevelDefinition{
	{level: LogLevelDebug, zapLevel: zapcore.DebugLevel},
	{level: LogLevelInfo, zapLevel: zapcore.InfoLevel},
	{level: LogLevelWarn, zapLevel: zapcore.WarnLevel},
	{level: LogLevelError, zapLevel: zapcore.ErrorLevel},
}

var logFormatDefinitions = []logFormatDefinition{
	{format: LogFormatStructured, encoderFunc: newStructuredEncoder, sampled: true},
	{format: LogFormatConsole, encoderFunc: newConsoleEncoder},
}

// SupportedLogLevels lists accepted log levels from most to least verbose.
func SupportedLogLevels() []string {
	levels := make([]string, 0, len(logLevelDefinitions))
	for _, definition := range logLevelDefinitions {
		levels = append(levels, string(definition.level))
	}
	return levels
}

// SupportedLogFormats lists accepted log formats.
func SupportedLogFormats() []string {
	formats := make([]string, 0, len(logFormatDefinitions))
	for _, definition := range logFormatDefinitions {
		formats = append(formats, string(definition.format))
	}
	return formats
}

// LoggerFactory builds zap.Logger instances with consistent configuration.
type LoggerFactory struct{}

// NewLoggerFactory constructs a new logger factory.
func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{}
}

// CreateLogger produces a zap.Logger writing to standard error so command output on standard out stays parseable.
// Values are matched case-insensitively after trimming.
func (factory *LoggerFactory) CreateLogger(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (*zap.Logger, error) {
	return factory.CreateLoggerWithSink(requestedLogLevel, requestedLogFormat, zapcore.Lock(os.Stderr))
}

// CreateLoggerWithSink produces a zap.Logger writing to sink.
func (factory *LoggerFactory) CreateLoggerWithSink(requestedLogLevel LogLevel, requestedLogFormat LogFormat, sink zapcore.WriteSyncer) (*zap.Logger, error) {
	levelDefinition, levelFound := findLogLevel(requestedLogLevel)
	if !levelFound {
		return nil, fmt.Errorf(unsupportedLogLevelTemplateConstant, requestedLogLevel, strings.Join(SupportedLogLevels(), supportedValuesSeparatorConstant))
	}

	formatDefinition, formatFound := findLogFormat(requestedLogFormat)
	if !formatFound {
		return nil, fmt.Errorf(unsupportedLogFormatTemplateConstant, requestedLogFormat, strings.Join(SupportedLogFormats(), supportedValuesSeparatorConstant))
	}

	core := zapcore.NewCore(formatDefinition.encoderFunc(), sink, zap.NewAtomicLevelAt(levelDefinition.zapLevel))
	if formatDefinition.sampled {
		core = zapcore.NewSamplerWithOptions(core, samplingTickConstant, samplingInitialConstant, samplingThereafterConstant)
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel), zap.ErrorOutput(sink)), nil
}

func findLogLevel(requestedLogLevel LogLevel) (logLevelDefinition, bool) {
	normalized := LogLevel(strings.ToLower(strings.TrimSpace(string(requestedLogLevel))))
	for _, definition := range logLevelDefinitions {
		if definition.level == normalized {
			return definition, true
		}
	}
	return logLevelDefinition{}, false
}

func findLogFormat(requestedLogFormat LogFormat) (logFormatDefinition, bool) {
	normalized := LogFormat(strings.ToLower(strings.TrimSpace(string(requestedLogFormat))))
	for _, definition := range logFormatDefinitions {
		if definition.format == normalized {
			return definition, true
		}
	}
	return logFormatDefinition{}, false
}

func newStructuredEncoder() zapcore.Encoder {
	encoderConfiguration := zap.NewProductionEncoderConfig()
	encoderConfiguration.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfiguration.EncodeDuration = zapcore.StringDurationEncoder
	return zapcore.NewJSONEncoder(encoderConfiguration)
}

func newConsoleEncoder() zapcore.Encoder {
	encoderConfiguration := zap.NewDevelopmentEncoderConfig()
	encoderConfiguration.EncodeDuration = zapcore.StringDurationEncoder
	return zapcore.NewConsoleEncoder(encoderConfiguration)
}
