package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const (
	// TemporaryFilePrefix marks in-flight write targets so enumeration can skip them.
	TemporaryFilePrefix                       = ".corpus-migrate-"
	temporaryFileSuffixConstant               = ".tmp"
	temporaryFilePatternConstant              = TemporaryFilePrefix + "*" + temporaryFileSuffixConstant
	defaultFilePermissionsConstant            = 0o644
	rootRequiredMessageConstant               = "corpus root must be provided"
	patternRequiredMessageConstant            = "file pattern must be provided"
	rootNotDirectoryTemplateConstant          = "corpus root is not a directory: %s"
	rootInspectErrorTemplateConstant          = "unable to inspect corpus root %s: %w"
	invalidPatternTemplateConstant            = "invalid file pattern %q: %w"
	enumerateErrorTemplateConstant            = "unable to enumerate %s: %w"
	readErrorTemplateConstant                 = "unable to read %s: %w"
	statErrorTemplateConstant                 = "unable to stat %s: %w"
	temporaryCreateErrorTemplateConstant      = "unable to create temporary file beside %s: %w"
	temporaryWriteErrorTemplateConstant       = "unable to write temporary file %s: %w"
	temporaryPermissionsErrorTemplateConstant = "unable to set permissions on %s: %w"
	verificationErrorTemplateConstant         = "written content for %s failed verification: %w"
	renameErrorTemplateConstant               = "unable to replace %s: %w"
)

var (
	// ErrRootRequired is returned when enumeration receives an empty root.
	ErrRootRequired = errors.New(rootRequiredMessageConstant)
	// ErrPatternRequired is returned when enumeration receives an empty pattern.
	ErrPatternRequired = errors.New(patternRequiredMessageConstant)
)

// ContentVerifier inspects bytes read back from a temporary write target before it replaces the original.
type ContentVerifier func(content []byte) error

// Store reads, enumerates, and atomically replaces artifacts on an afero filesystem.
type Store struct {
	fileSystem    afero.Fs
	mutex         sync.RWMutex
	excludedNames map[string]struct{}
}

// NewStore constructs a Store. A nil filesystem selects the operating system filesystem.
func NewStore(fileSystem afero.Fs) *Store {
	if fileSystem == nil {
		fileSystem = afero.NewOsFs()
	}
	return &Store{fileSystem: fileSystem, excludedNames: make(map[string]struct{})}
}

// FileSystem exposes the underlying filesystem.
func (store *Store) FileSystem() afero.Fs {
	return store.fileSystem
}

// Exclude hides file names (not paths) from enumeration, e.g. the audit log and lock file.
func (store *Store) Exclude(fileNames ...string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, fileName := range fileNames {
		trimmedName := strings.TrimSpace(fileName)
		if len(trimmedName) == 0 {
			continue
		}
		store.excludedNames[trimmedName] = struct{}{}
	}
}

// Enumerate lists regular files under root whose base name matches pattern, sorted lexically.
func (store *Store) Enumerate(root string, pattern string, recursive bool) ([]string, error) {
	trimmedRoot := strings.TrimSpace(root)
	if len(trimmedRoot) == 0 {
		return nil, ErrRootRequired
	}
	trimmedPattern := strings.TrimSpace(pattern)
	if len(trimmedPattern) == 0 {
		return nil, ErrPatternRequired
	}
	if _, patternError := filepath.Match(trimmedPattern, ""); patternError != nil {
		return nil, fmt.Errorf(invalidPatternTemplateConstant, trimmedPattern, patternError)
	}

	rootInfo, rootError := store.fileSystem.Stat(trimmedRoot)
	if rootError != nil {
		return nil, fmt.Errorf(rootInspectErrorTemplateConstant, trimmedRoot, rootError)
	}
	if !rootInfo.IsDir() {
		return nil, fmt.Errorf(rootNotDirectoryTemplateConstant, trimmedRoot)
	}

	var matchedPaths []string
	if recursive {
		walkError := afero.Walk(store.fileSystem, trimmedRoot, func(path string, info fs.FileInfo, walkError error) error {
			if walkError != nil {
				return walkError
			}
			if info.IsDir() {
				return nil
			}
			if store.matches(info, trimmedPattern) {
				matchedPaths = append(matchedPaths, path)
			}
			return nil
		})
		if walkError != nil {
			return nil, fmt.Errorf(enumerateErrorTemplateConstant, trimmedRoot, walkError)
		}
	} else {
		entries, readDirectoryError := afero.ReadDir(store.fileSystem, trimmedRoot)
		if readDirectoryError != nil {
			return nil, fmt.Errorf(enumerateErrorTemplateConstant, trimmedRoot, readDirectoryError)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if store.matches(entry, trimmedPattern) {
				matchedPaths = append(matchedPaths, filepath.Join(trimmedRoot, entry.Name()))
			}
		}
	}

	sort.Strings(matchedPaths)
	return matchedPaths, nil
}

// Read returns the artifact content.
func (store *Store) Read(path string) ([]byte, error) {
	content, readError := afero.ReadFile(store.fileSystem, path)
	if readError != nil {
		return nil, fmt.Errorf(readErrorTemplateConstant, path, readError)
	}
	return content, nil
}

// Stat returns artifact metadata.
func (store *Store) Stat(path string) (fs.FileInfo, error) {
	info, statError := store.fileSystem.Stat(path)
	if statError != nil {
		return nil, fmt.Errorf(statErrorTemplateConstant, path, statError)
	}
	return info, nil
}

// WriteAtomically replaces path with content through a verified temporary sibling file.
//
// The original file is untouched unless the rename succeeds. The replacement
// keeps the original permission bits.
func (store *Store) WriteAtomically(path string, content []byte, verifier ContentVerifier) error {
	originalInfo, statError := store.Stat(path)
	if statError != nil {
		return statError
	}
	return store.writeThroughTemporary(path, content, originalInfo.Mode().Perm(), verifier)
}

// ReplaceFile atomically writes content to path, creating the file when it does not exist.
func (store *Store) ReplaceFile(path string, content []byte) error {
	permissions := fs.FileMode(defaultFilePermissionsConstant)
	existingInfo, statError := store.fileSystem.Stat(path)
	switch {
	case statError == nil:
		permissions = existingInfo.Mode().Perm()
	case !IsNotExist(statError):
		return fmt.Errorf(statErrorTemplateConstant, path, statError)
	}
	return store.writeThroughTemporary(path, content, permissions, nil)
}

func (store *Store) writeThroughTemporary(path string, content []byte, permissions fs.FileMode, verifier ContentVerifier) (writeError error) {
	temporaryFile, createError := afero.TempFile(store.fileSystem, filepath.Dir(path), temporaryFilePatternConstant)
	if createError != nil {
		return fmt.Errorf(temporaryCreateErrorTemplateConstant, path, createError)
	}
	temporaryPath := temporaryFile.Name()

	defer func() {
		if writeError != nil {
			_ = store.fileSystem.Remove(temporaryPath)
		}
	}()

	if _, copyError := temporaryFile.Write(content); copyError != nil {
		_ = temporaryFile.Close()
		return fmt.Errorf(temporaryWriteErrorTemplateConstant, temporaryPath, copyError)
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		_ = temporaryFile.Close()
		return fmt.Errorf(temporaryWriteErrorTemplateConstant, temporaryPath, syncError)
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		return fmt.Errorf(temporaryWriteErrorTemplateConstant, temporaryPath, closeError)
	}
	if chmodError := store.fileSystem.Chmod(temporaryPath, permissions); chmodError != nil {
		return fmt.Errorf(temporaryPermissionsErrorTemplateConstant, temporaryPath, chmodError)
	}

	if verifier != nil {
		writtenContent, readBackError := afero.ReadFile(store.fileSystem, temporaryPath)
		if readBackError != nil {
			return fmt.Errorf(temporaryWriteErrorTemplateConstant, temporaryPath, readBackError)
		}
		if verificationError := verifier(writtenContent); verificationError != nil {
			return fmt.Errorf(verificationErrorTemplateConstant, path, verificationError)
		}
	}

	if renameError := store.fileSystem.Rename(temporaryPath, path); renameError != nil {
		return fmt.Errorf(renameErrorTemplateConstant, path, renameError)
	}
	return nil
}

// IsTemporaryName reports whether a file name belongs to an in-flight write target.
func IsTemporaryName(fileName string) bool {
	return strings.HasPrefix(fileName, TemporaryFilePrefix) && strings.HasSuffix(fileName, temporaryFileSuffixConstant)
}

// IsNotExist reports whether the error chain describes a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Admits reports whether a file name passes enumeration filters and matches pattern.
func (store *Store) Admits(fileName string, pattern string) bool {
	if IsTemporaryName(fileName) {
		return false
	}

	store.mutex.RLock()
	_, excluded := store.excludedNames[fileName]
	store.mutex.RUnlock()
	if excluded {
		return false
	}

	matched, _ := filepath.Match(pattern, fileName)
	return matched
}

func (store *Store) matches(info fs.FileInfo, pattern string) bool {
	if !info.Mode().IsRegular() {
		return false
	}
	return store.Admits(info.Name(), pattern)
}
