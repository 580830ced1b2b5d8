// Package migrate provides the corpus migration commands: migrate, version,
// plan, and watch. Each command builds a migration engine from the configured
// detector and strategy recipes and drives it over a corpus root.
package migrate
