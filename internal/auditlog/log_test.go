package auditlog_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/temirov/corpusmigrate/internal/artifact"
	"github.com/temirov/corpusmigrate/internal/auditlog"
	"github.com/temirov/corpusmigrate/internal/testsupport"
)

const (
	testCorpusRootConstant       = "/corpus"
	testRunIdentifierConstant    = "4f1c2a52-0000-4000-8000-000000000001"
	auditSubtestTemplateConstant = "%d_%s"
	testExistingLogConstant      = `records:
    - run_id: earlier
      recorded_at: 2024-01-02T03:04:05Z
      path: /corpus/en.ldml
      old_identity: en
      new_identity: en
      from_version: 0
      to_version: 1
      strategy: zero_to_one
`
)

func newRecord(path string, fromVersion int, toVersion int, oldIdentity string, newIdentity string) auditlog.MigrationRecord {
	return auditlog.MigrationRecord{
		RunID:       testRunIdentifierConstant,
		RecordedAt:  time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
		Path:        path,
		OldIdentity: oldIdentity,
		NewIdentity: newIdentity,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Strategy:    fmt.Sprintf("v%d_to_v%d", fromVersion, toVersion),
	}
}

func TestLogLoadMissingFileIsEmpty(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	changeLog := auditlog.New(artifact.NewStore(fileSystem), filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName))

	require.NoError(testInstance, changeLog.Load())
	require.Empty(testInstance, changeLog.Records())
	require.Zero(testInstance, changeLog.Pending())
}

func TestLogAppendAndSaveRoundTrip(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	testsupport.WriteCorpus(testInstance, fileSystem, testCorpusRootConstant, "-- "+auditlog.DefaultFileName+" --\n"+testExistingLogConstant)
	store := artifact.NewStore(fileSystem)
	logPath := filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName)

	changeLog := auditlog.New(store, logPath)
	require.NoError(testInstance, changeLog.Load())
	require.Len(testInstance, changeLog.Records(), 1)

	appended := newRecord("/corpus/en.ldml", 1, 2, "en", "en-Latn")
	require.NoError(testInstance, changeLog.Append(appended))
	require.Equal(testInstance, 1, changeLog.Pending())
	require.NoError(testInstance, changeLog.Save())
	require.Zero(testInstance, changeLog.Pending())

	reloaded := auditlog.New(store, logPath)
	require.NoError(testInstance, reloaded.Load())
	records := reloaded.Records()
	require.Len(testInstance, records, 2)
	require.Equal(testInstance, "earlier", records[0].RunID)
	require.Equal(testInstance, appended, records[1])
}

func TestLogSaveWithoutLoadKeepsPersistedRecords(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	testsupport.WriteCorpus(testInstance, fileSystem, testCorpusRootConstant, "-- "+auditlog.DefaultFileName+" --\n"+testExistingLogConstant)
	store := artifact.NewStore(fileSystem)
	logPath := filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName)

	changeLog := auditlog.New(store, logPath)
	require.NoError(testInstance, changeLog.Append(newRecord("/corpus/fr.ldml", 0, 1, "fr", "fr")))
	require.NoError(testInstance, changeLog.Save())

	reloaded := auditlog.New(store, logPath)
	require.NoError(testInstance, reloaded.Load())
	require.Len(testInstance, reloaded.Records(), 2)
}

func TestLogSaveWithoutPendingRecordsDoesNotWrite(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	require.NoError(testInstance, fileSystem.MkdirAll(testCorpusRootConstant, 0o755))
	changeLog := auditlog.New(artifact.NewStore(fileSystem), filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName))

	require.NoError(testInstance, changeLog.Load())
	require.NoError(testInstance, changeLog.Save())
	require.Empty(testInstance, testsupport.ReadCorpus(testInstance, fileSystem, testCorpusRootConstant))
}

func TestLogRetractRemovesNewestRecords(testInstance *testing.T) {
	testCases := []struct {
		name              string
		saveBeforeRetract bool
		retractCount      int
		expectError       bool
		expectedPersisted []string
	}{
		{name: "pending_records", retractCount: 1, expectedPersisted: []string{"/corpus/en.ldml", "/corpus/fr.ldml"}},
		{name: "saved_records", saveBeforeRetract: true, retractCount: 2, expectedPersisted: []string{"/corpus/en.ldml"}},
		{name: "nothing", saveBeforeRetract: true, retractCount: 0, expectedPersisted: []string{"/corpus/en.ldml", "/corpus/fr.ldml", "/corpus/de.ldml"}},
		{name: "more_than_held", retractCount: 5, expectError: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(auditSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			fileSystem := afero.NewMemMapFs()
			testsupport.WriteCorpus(testInstance, fileSystem, testCorpusRootConstant, "-- "+auditlog.DefaultFileName+" --\n"+testExistingLogConstant)
			store := artifact.NewStore(fileSystem)
			logPath := filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName)

			changeLog := auditlog.New(store, logPath)
			require.NoError(testInstance, changeLog.Load())
			require.NoError(testInstance, changeLog.Append(newRecord("/corpus/fr.ldml", 0, 1, "fr", "fr")))
			require.NoError(testInstance, changeLog.Append(newRecord("/corpus/de.ldml", 0, 1, "de", "de")))
			if testCase.saveBeforeRetract {
				require.NoError(testInstance, changeLog.Save())
			}

			retractError := changeLog.Retract(testCase.retractCount)
			if testCase.expectError {
				require.Error(testInstance, retractError)
				return
			}
			require.NoError(testInstance, retractError)
			require.NoError(testInstance, changeLog.Save())

			reloaded := auditlog.New(store, logPath)
			require.NoError(testInstance, reloaded.Load())
			persistedPaths := make([]string, 0)
			for _, record := range reloaded.Records() {
				persistedPaths = append(persistedPaths, record.Path)
			}
			require.Equal(testInstance, testCase.expectedPersisted, persistedPaths)
		})
	}
}

func TestLogAppendRejectsMalformedRecords(testInstance *testing.T) {
	testCases := []struct {
		name   string
		record auditlog.MigrationRecord
	}{
		{name: "missing_path", record: newRecord("", 0, 1, "a", "a")},
		{name: "missing_strategy", record: auditlog.MigrationRecord{Path: "/corpus/a.fmt", FromVersion: 0, ToVersion: 1}},
		{name: "non_advancing", record: newRecord("/corpus/a.fmt", 2, 2, "a", "a")},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(auditSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			changeLog := auditlog.New(artifact.NewStore(afero.NewMemMapFs()), filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName))
			require.Error(testInstance, changeLog.Append(testCase.record))
			require.Zero(testInstance, changeLog.Pending())
		})
	}
}

func TestLogLoadRejectsMalformedDocument(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	testsupport.WriteCorpus(testInstance, fileSystem, testCorpusRootConstant, "-- "+auditlog.DefaultFileName+" --\nrecords: [\n")

	changeLog := auditlog.New(artifact.NewStore(fileSystem), filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName))
	require.Error(testInstance, changeLog.Load())
}

func TestLogResolveIdentity(testInstance *testing.T) {
	changeLog := auditlog.New(artifact.NewStore(afero.NewMemMapFs()), filepath.Join(testCorpusRootConstant, auditlog.DefaultFileName))
	require.NoError(testInstance, changeLog.Append(newRecord("/corpus/a.fmt", 0, 1, "en-x-old", "en-x-interim")))
	require.NoError(testInstance, changeLog.Append(newRecord("/corpus/a.fmt", 1, 2, "en-x-interim", "en-Latn")))
	require.NoError(testInstance, changeLog.Append(newRecord("/corpus/b.fmt", 0, 1, "cycle-a", "cycle-b")))
	require.NoError(testInstance, changeLog.Append(newRecord("/corpus/c.fmt", 0, 1, "cycle-b", "cycle-a")))

	testCases := []struct {
		name             string
		identity         string
		expectedIdentity string
	}{
		{name: "chained_renames", identity: "en-x-old", expectedIdentity: "en-Latn"},
		{name: "intermediate_identity", identity: "en-x-interim", expectedIdentity: "en-Latn"},
		{name: "unchanged_identity", identity: "fr", expectedIdentity: "fr"},
		{name: "cycle_terminates", identity: "cycle-a", expectedIdentity: "cycle-b"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(auditSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectedIdentity, changeLog.ResolveIdentity(testCase.identity))
		})
	}
}
