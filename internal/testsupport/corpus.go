// Package testsupport provides fixtures shared by package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

const (
	corpusDirectoryPermissionsConstant = 0o755
	corpusFilePermissionsConstant      = 0o644
)

// WriteCorpus materializes a txtar archive beneath root and returns the written paths in archive order.
func WriteCorpus(testInstance testing.TB, fileSystem afero.Fs, root string, archiveText string) []string {
	testInstance.Helper()

	archive := txtar.Parse([]byte(archiveText))
	require.NoError(testInstance, fileSystem.MkdirAll(root, corpusDirectoryPermissionsConstant))

	writtenPaths := make([]string, 0, len(archive.Files))
	for _, archiveFile := range archive.Files {
		filePath := filepath.Join(root, filepath.FromSlash(archiveFile.Name))
		require.NoError(testInstance, fileSystem.MkdirAll(filepath.Dir(filePath), corpusDirectoryPermissionsConstant))
		require.NoError(testInstance, afero.WriteFile(fileSystem, filePath, archiveFile.Data, corpusFilePermissionsConstant))
		writtenPaths = append(writtenPaths, filePath)
	}
	return writtenPaths
}

// ReadCorpus snapshots every regular file beneath root keyed by slash-separated relative path.
func ReadCorpus(testInstance testing.TB, fileSystem afero.Fs, root string) map[string]string {
	testInstance.Helper()

	snapshot := make(map[string]string)
	walkError := afero.Walk(fileSystem, root, func(path string, info os.FileInfo, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if info.IsDir() {
			return nil
		}
		content, readError := afero.ReadFile(fileSystem, path)
		if readError != nil {
			return readError
		}
		relativePath, relativeError := filepath.Rel(root, path)
		if relativeError != nil {
			return relativeError
		}
		snapshot[filepath.ToSlash(relativePath)] = string(content)
		return nil
	})
	require.NoError(testInstance, walkError)
	return snapshot
}
