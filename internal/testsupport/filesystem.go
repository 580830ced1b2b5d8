package testsupport

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

const (
	openOperationConstant   = "open"
	renameOperationConstant = "rename"
	writeFlagsMaskConstant  = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND
)

// RecordingFs wraps an afero filesystem, recording mutations and injecting failures.
type RecordingFs struct {
	afero.Fs
	mutex          sync.Mutex
	failingReads   map[string]error
	failingRenames map[string]error
	renamedTargets []string
	openedForWrite []string
}

// NewRecordingFs wraps base.
func NewRecordingFs(base afero.Fs) *RecordingFs {
	return &RecordingFs{
		Fs:             base,
		failingReads:   make(map[string]error),
		failingRenames: make(map[string]error),
	}
}

// FailReads makes every read-only open of path fail with cause.
func (recordingFs *RecordingFs) FailReads(path string, cause error) {
	recordingFs.mutex.Lock()
	defer recordingFs.mutex.Unlock()
	recordingFs.failingReads[filepath.Clean(path)] = cause
}

// FailRenamesTo makes every rename onto path fail with cause.
func (recordingFs *RecordingFs) FailRenamesTo(path string, cause error) {
	recordingFs.mutex.Lock()
	defer recordingFs.mutex.Unlock()
	recordingFs.failingRenames[filepath.Clean(path)] = cause
}

// RenamedTargets lists the destinations of successful renames in call order.
func (recordingFs *RecordingFs) RenamedTargets() []string {
	recordingFs.mutex.Lock()
	defer recordingFs.mutex.Unlock()
	return append([]string(nil), recordingFs.renamedTargets...)
}

// OpenedForWrite lists every path opened with a write flag in call order.
func (recordingFs *RecordingFs) OpenedForWrite() []string {
	recordingFs.mutex.Lock()
	defer recordingFs.mutex.Unlock()
	return append([]string(nil), recordingFs.openedForWrite...)
}

// Open fails for paths registered with FailReads.
func (recordingFs *RecordingFs) Open(name string) (afero.File, error) {
	if readError := recordingFs.readFailure(name); readError != nil {
		return nil, &os.PathError{Op: openOperationConstant, Path: name, Err: readError}
	}
	return recordingFs.Fs.Open(name)
}

// OpenFile records writable opens and fails read-only opens registered with FailReads.
func (recordingFs *RecordingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&writeFlagsMaskConstant == 0 {
		if readError := recordingFs.readFailure(name); readError != nil {
			return nil, &os.PathError{Op: openOperationConstant, Path: name, Err: readError}
		}
	} else {
		recordingFs.mutex.Lock()
		recordingFs.openedForWrite = append(recordingFs.openedForWrite, filepath.Clean(name))
		recordingFs.mutex.Unlock()
	}
	return recordingFs.Fs.OpenFile(name, flag, perm)
}

// Rename records the destination or fails for targets registered with FailRenamesTo.
func (recordingFs *RecordingFs) Rename(oldName string, newName string) error {
	cleanedTarget := filepath.Clean(newName)

	recordingFs.mutex.Lock()
	renameError, failing := recordingFs.failingRenames[cleanedTarget]
	recordingFs.mutex.Unlock()
	if failing {
		return &os.LinkError{Op: renameOperationConstant, Old: oldName, New: newName, Err: renameError}
	}

	if renameError := recordingFs.Fs.Rename(oldName, newName); renameError != nil {
		return renameError
	}
	recordingFs.mutex.Lock()
	recordingFs.renamedTargets = append(recordingFs.renamedTargets, cleanedTarget)
	recordingFs.mutex.Unlock()
	return nil
}

func (recordingFs *RecordingFs) readFailure(name string) error {
	recordingFs.mutex.Lock()
	defer recordingFs.mutex.Unlock()
	return recordingFs.failingReads[filepath.Clean(name)]
}
