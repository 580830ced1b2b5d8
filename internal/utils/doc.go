// Package utils holds the ambient plumbing shared by corpus-migrate commands:
// the Viper-backed ConfigurationLoader, the zap LoggerFactory, command context
// accessors, and the OutputWriter used for command output.
package utils
