// Package cli builds the corpus-migrate root command. It layers embedded
// defaults, config.yaml, CORPUSMIGRATE_* environment variables, and flags into
// one configuration, then hands the migration section to the migrate, plan,
// version, and watch subcommands.
package cli
