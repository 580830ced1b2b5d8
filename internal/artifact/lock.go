package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

const (
	// DefaultLockFileName is created in the corpus root for the duration of a run.
	DefaultLockFileName            = ".corpus-migrate.lock"
	lockFilePermissionsConstant    = 0o644
	corpusLockedMessageConstant    = "corpus is locked by another migration run"
	corpusLockedTemplateConstant   = "%w: run %s started at %s (PID: %d on %s); remove %s if that run no longer exists"
	lockUnreadableTemplateConstant = "%w: lock file %s cannot be read: %v"
	lockCreateErrorTemplate        = "unable to create lock file %s: %w"
	lockEncodeErrorTemplate        = "unable to encode lock info: %w"
	lockReadErrorTemplate          = "unable to read lock file %s: %w"
	lockDecodeErrorTemplate        = "unable to decode lock file %s: %w"
	lockRemoveErrorTemplate        = "unable to remove lock file %s: %w"
	staleLockRemoveErrorTemplate   = "unable to remove stale lock file %s: %w"
)

// ErrCorpusLocked is returned when another run holds the corpus lock.
var ErrCorpusLocked = errors.New(corpusLockedMessageConstant)

// LockInfo describes the run holding a corpus lock.
type LockInfo struct {
	RunID     string `json:"run_id"`
	Root      string `json:"root"`
	StartTime string `json:"start_time"`
	PID       int    `json:"pid"`
	Host      string `json:"host"`
}

// NewLockInfo captures the current process as lock holder.
func NewLockInfo(runID string, root string) LockInfo {
	return LockInfo{
		RunID:     runID,
		Root:      root,
		StartTime: time.Now().Format(time.RFC3339),
		PID:       os.Getpid(),
		Host:      currentHost(),
	}
}

// ProcessCheck reports whether a process with pid is running on this host.
type ProcessCheck func(pid int) bool

// RunLock guards a corpus root against concurrent writers.
//
// A lock left behind by a process that no longer runs on this host is
// reclaimed; locks recorded by other hosts are never reclaimed.
type RunLock struct {
	fileSystem   afero.Fs
	lockPath     string
	processCheck ProcessCheck
	reclaimed    *LockInfo
}

// NewRunLock constructs a lock stored as fileName inside root.
func NewRunLock(fileSystem afero.Fs, root string, fileName string) *RunLock {
	if fileSystem == nil {
		fileSystem = afero.NewOsFs()
	}
	if len(fileName) == 0 {
		fileName = DefaultLockFileName
	}
	return &RunLock{fileSystem: fileSystem, lockPath: filepath.Join(root, fileName), processCheck: ProcessRunning}
}

// WithProcessCheck replaces the check deciding whether a recorded holder still runs.
func (lock *RunLock) WithProcessCheck(check ProcessCheck) *RunLock {
	if check != nil {
		lock.processCheck = check
	}
	return lock
}

// Path returns the lock file location.
func (lock *RunLock) Path() string {
	return lock.lockPath
}

// Acquire creates the lock file exclusively, reclaiming it once when its holder is gone.
func (lock *RunLock) Acquire(info LockInfo) error {
	encodedInfo, encodeError := json.MarshalIndent(info, "", "  ")
	if encodeError != nil {
		return fmt.Errorf(lockEncodeErrorTemplate, encodeError)
	}

	lock.reclaimed = nil
	createError := lock.create(encodedInfo)
	if !errors.Is(createError, ErrCorpusLocked) {
		return createError
	}

	existingInfo, infoError := lock.Info()
	if infoError != nil || !lock.isStale(existingInfo) {
		return createError
	}
	if removeError := lock.fileSystem.Remove(lock.lockPath); removeError != nil && !IsNotExist(removeError) {
		return fmt.Errorf(staleLockRemoveErrorTemplate, lock.lockPath, removeError)
	}
	if retryError := lock.create(encodedInfo); retryError != nil {
		return retryError
	}
	lock.reclaimed = &existingInfo
	return nil
}

// Reclaimed returns the holder of a stale lock replaced by the last Acquire.
func (lock *RunLock) Reclaimed() (LockInfo, bool) {
	if lock.reclaimed == nil {
		return LockInfo{}, false
	}
	return *lock.reclaimed, true
}

func (lock *RunLock) create(encodedInfo []byte) error {
	lockFile, openError := lock.fileSystem.OpenFile(lock.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockFilePermissionsConstant)
	if openError != nil {
		if errors.Is(openError, os.ErrExist) || lock.IsLocked() {
			existingInfo, infoError := lock.Info()
			if infoError != nil {
				return fmt.Errorf(lockUnreadableTemplateConstant, ErrCorpusLocked, lock.lockPath, infoError)
			}
			return fmt.Errorf(corpusLockedTemplateConstant, ErrCorpusLocked, existingInfo.RunID, existingInfo.StartTime, existingInfo.PID, existingInfo.Host, lock.lockPath)
		}
		return fmt.Errorf(lockCreateErrorTemplate, lock.lockPath, openError)
	}

	if _, writeError := lockFile.Write(encodedInfo); writeError != nil {
		_ = lockFile.Close()
		_ = lock.fileSystem.Remove(lock.lockPath)
		return fmt.Errorf(lockCreateErrorTemplate, lock.lockPath, writeError)
	}
	if closeError := lockFile.Close(); closeError != nil {
		_ = lock.fileSystem.Remove(lock.lockPath)
		return fmt.Errorf(lockCreateErrorTemplate, lock.lockPath, closeError)
	}
	return nil
}

func (lock *RunLock) isStale(info LockInfo) bool {
	if len(info.Host) == 0 || info.Host != currentHost() {
		return false
	}
	return !lock.processCheck(info.PID)
}

// Release removes the lock file; releasing an absent lock is not an error.
func (lock *RunLock) Release() error {
	removeError := lock.fileSystem.Remove(lock.lockPath)
	if removeError != nil && !IsNotExist(removeError) {
		return fmt.Errorf(lockRemoveErrorTemplate, lock.lockPath, removeError)
	}
	return nil
}

// IsLocked reports whether the lock file exists.
func (lock *RunLock) IsLocked() bool {
	_, statError := lock.fileSystem.Stat(lock.lockPath)
	return statError == nil
}

// Info reads the lock holder description.
func (lock *RunLock) Info() (LockInfo, error) {
	encodedInfo, readError := afero.ReadFile(lock.fileSystem, lock.lockPath)
	if readError != nil {
		return LockInfo{}, fmt.Errorf(lockReadErrorTemplate, lock.lockPath, readError)
	}

	var info LockInfo
	if decodeError := json.Unmarshal(encodedInfo, &info); decodeError != nil {
		return LockInfo{}, fmt.Errorf(lockDecodeErrorTemplate, lock.lockPath, decodeError)
	}
	return info, nil
}

// ProcessRunning reports whether pid names a live process on this host.
// Processes owned by other users count as running.
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, findError := os.FindProcess(pid)
	if findError != nil {
		return false
	}
	signalError := process.Signal(syscall.Signal(0))
	if signalError == nil {
		return true
	}
	return !errors.Is(signalError, os.ErrProcessDone) && !errors.Is(signalError, syscall.ESRCH)
}

func currentHost() string {
	hostName, hostError := os.Hostname()
	if hostError != nil {
		return ""
	}
	return hostName
}
