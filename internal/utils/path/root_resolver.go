// Package pathutils normalizes corpus root paths supplied through flags and configuration.
package pathutils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	homeShortcutConstant      = "~"
	homeShortcutSlashConstant = "~/"
	currentDirectoryConstant  = "."
)

// HomeDirectoryProvider resolves the current user's home directory.
type HomeDirectoryProvider func() (string, error)

// RootResolver picks the effective corpus root and expands a leading "~".
type RootResolver struct {
	homeDirectoryProvider HomeDirectoryProvider
	homeDirectory         string
	homeDirectoryError    error
	homeDirectoryOnce     sync.Once
}

// NewRootResolver constructs a resolver backed by os.UserHomeDir.
func NewRootResolver() *RootResolver {
	return NewRootResolverWithProvider(os.UserHomeDir)
}

// NewRootResolverWithProvider constructs a resolver with a custom home directory lookup.
func NewRootResolverWithProvider(provider HomeDirectoryProvider) *RootResolver {
	if provider == nil {
		provider = os.UserHomeDir
	}
	return &RootResolver{homeDirectoryProvider: provider}
}

// Resolve returns the first non-blank candidate, expanded and cleaned. Blank input yields ".".
func (resolver *RootResolver) Resolve(candidates ...string) string {
	for _, candidate := range candidates {
		trimmedCandidate := strings.TrimSpace(candidate)
		if len(trimmedCandidate) == 0 {
			continue
		}
		return filepath.Clean(resolver.Expand(trimmedCandidate))
	}
	return currentDirectoryConstant
}

// Expand replaces a leading "~" with the home directory. Other paths are returned unchanged.
func (resolver *RootResolver) Expand(candidatePath string) string {
	if resolver == nil || !strings.HasPrefix(candidatePath, homeShortcutConstant) {
		return candidatePath
	}

	homeDirectory := resolver.resolveHomeDirectory()
	if len(homeDirectory) == 0 {
		return candidatePath
	}

	if candidatePath == homeShortcutConstant {
		return homeDirectory
	}

	for _, prefix := range []string{homeShortcutSlashConstant, homeShortcutConstant + string(os.PathSeparator)} {
		if strings.HasPrefix(candidatePath, prefix) {
			return filepath.Join(homeDirectory, strings.TrimPrefix(candidatePath, prefix))
		}
	}

	// "~user" forms are not expanded.
	return candidatePath
}

func (resolver *RootResolver) resolveHomeDirectory() string {
	resolver.homeDirectoryOnce.Do(func() {
		resolver.homeDirectory, resolver.homeDirectoryError = resolver.homeDirectoryProvider()
	})
	if resolver.homeDirectoryError != nil {
		return ""
	}
	return resolver.homeDirectory
}
