package migration

import (
	"path/filepath"
	"strings"
)

// IdentifierValidator checks artifact identities produced by strategies.
type IdentifierValidator interface {
	Validate(candidate string) error
}

// IdentityResolver derives the logical identity of an artifact from its path.
type IdentityResolver func(path string) string

// DefaultIdentity returns the file name without its extension.
func DefaultIdentity(path string) string {
	baseName := filepath.Base(path)
	return strings.TrimSuffix(baseName, filepath.Ext(baseName))
}
