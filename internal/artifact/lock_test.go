package artifact_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/temirov/corpusmigrate/internal/artifact"
)

const (
	testFirstRunIdentifierConstant  = "run-one"
	testSecondRunIdentifierConstant = "run-two"
)

func TestRunLockAcquireAndRelease(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	require.NoError(testInstance, fileSystem.MkdirAll(testCorpusRootConstant, 0o755))

	lock := artifact.NewRunLock(fileSystem, testCorpusRootConstant, "")
	require.Equal(testInstance, filepath.Join(testCorpusRootConstant, artifact.DefaultLockFileName), lock.Path())
	require.False(testInstance, lock.IsLocked())

	require.NoError(testInstance, lock.Acquire(artifact.NewLockInfo(testFirstRunIdentifierConstant, testCorpusRootConstant)))
	require.True(testInstance, lock.IsLocked())

	info, infoError := lock.Info()
	require.NoError(testInstance, infoError)
	require.Equal(testInstance, testFirstRunIdentifierConstant, info.RunID)
	require.Equal(testInstance, testCorpusRootConstant, info.Root)
	require.Equal(testInstance, os.Getpid(), info.PID)

	require.NoError(testInstance, lock.Release())
	require.False(testInstance, lock.IsLocked())
	require.NoError(testInstance, lock.Release())
}

func TestRunLockRejectsSecondHolder(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	require.NoError(testInstance, fileSystem.MkdirAll(testCorpusRootConstant, 0o755))

	firstLock := artifact.NewRunLock(fileSystem, testCorpusRootConstant, artifact.DefaultLockFileName)
	require.NoError(testInstance, firstLock.Acquire(artifact.NewLockInfo(testFirstRunIdentifierConstant, testCorpusRootConstant)))

	secondLock := artifact.NewRunLock(fileSystem, testCorpusRootConstant, artifact.DefaultLockFileName)
	acquireError := secondLock.Acquire(artifact.NewLockInfo(testSecondRunIdentifierConstant, testCorpusRootConstant))
	require.ErrorIs(testInstance, acquireError, artifact.ErrCorpusLocked)
	require.Contains(testInstance, acquireError.Error(), testFirstRunIdentifierConstant)

	require.NoError(testInstance, firstLock.Release())
	require.NoError(testInstance, secondLock.Acquire(artifact.NewLockInfo(testSecondRunIdentifierConstant, testCorpusRootConstant)))
}

func TestRunLockReportsUnreadableHolder(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	lockPath := filepath.Join(testCorpusRootConstant, artifact.DefaultLockFileName)
	require.NoError(testInstance, afero.WriteFile(fileSystem, lockPath, []byte("not json"), 0o644))

	acquireError := artifact.NewRunLock(fileSystem, testCorpusRootConstant, "").Acquire(artifact.NewLockInfo(testFirstRunIdentifierConstant, testCorpusRootConstant))
	require.ErrorIs(testInstance, acquireError, artifact.ErrCorpusLocked)
	require.Contains(testInstance, acquireError.Error(), lockPath)
}

func TestRunLockReclaimsStaleHolder(testInstance *testing.T) {
	hostName, hostError := os.Hostname()
	require.NoError(testInstance, hostError)

	testCases := []struct {
		name            string
		holder          artifact.LockInfo
		processCheck    artifact.ProcessCheck
		expectReclaimed bool
	}{
		{
			name:            "exited_process",
			holder:          artifact.LockInfo{RunID: testFirstRunIdentifierConstant, PID: 4242, Host: hostName},
			processCheck:    func(int) bool { return false },
			expectReclaimed: true,
		},
		{
			name:            "invalid_pid",
			holder:          artifact.LockInfo{RunID: testFirstRunIdentifierConstant, PID: 0, Host: hostName},
			expectReclaimed: true,
		},
		{
			name:   "running_process",
			holder: artifact.LockInfo{RunID: testFirstRunIdentifierConstant, PID: os.Getpid(), Host: hostName},
		},
		{
			name:         "other_host",
			holder:       artifact.LockInfo{RunID: testFirstRunIdentifierConstant, PID: 4242, Host: hostName + ".elsewhere"},
			processCheck: func(int) bool { return false },
		},
		{
			name:         "unknown_host",
			holder:       artifact.LockInfo{RunID: testFirstRunIdentifierConstant, PID: 4242},
			processCheck: func(int) bool { return false },
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			fileSystem := afero.NewMemMapFs()
			holderLock := artifact.NewRunLock(fileSystem, testCorpusRootConstant, "")
			require.NoError(testInstance, holderLock.Acquire(testCase.holder))

			lock := artifact.NewRunLock(fileSystem, testCorpusRootConstant, "").WithProcessCheck(testCase.processCheck)
			acquireError := lock.Acquire(artifact.NewLockInfo(testSecondRunIdentifierConstant, testCorpusRootConstant))

			reclaimedHolder, reclaimed := lock.Reclaimed()
			if !testCase.expectReclaimed {
				require.ErrorIs(testInstance, acquireError, artifact.ErrCorpusLocked)
				require.Contains(testInstance, acquireError.Error(), lock.Path())
				require.False(testInstance, reclaimed)
				return
			}

			require.NoError(testInstance, acquireError)
			require.True(testInstance, reclaimed)
			require.Equal(testInstance, testFirstRunIdentifierConstant, reclaimedHolder.RunID)

			info, infoError := lock.Info()
			require.NoError(testInstance, infoError)
			require.Equal(testInstance, testSecondRunIdentifierConstant, info.RunID)
			require.Equal(testInstance, os.Getpid(), info.PID)
		})
	}
}

func TestProcessRunning(testInstance *testing.T) {
	require.True(testInstance, artifact.ProcessRunning(os.Getpid()))
	require.False(testInstance, artifact.ProcessRunning(0))
	require.False(testInstance, artifact.ProcessRunning(-1))
}
