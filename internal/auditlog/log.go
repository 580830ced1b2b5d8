package auditlog

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/temirov/corpusmigrate/internal/artifact"
)

const (
	// DefaultFileName is the audit log file kept in the corpus root.
	DefaultFileName                       = "idchangelog.yaml"
	recordPathRequiredMessageConstant     = "audit record path must be provided"
	recordStrategyRequiredMessageConstant = "audit record strategy must be provided"
	recordVersionOrderTemplateConstant    = "audit record for %s must advance the version (%d -> %d)"
	loadErrorTemplateConstant             = "unable to load audit log %s: %w"
	decodeErrorTemplateConstant           = "unable to decode audit log %s: %w"
	encodeErrorTemplateConstant           = "unable to encode audit log %s: %w"
	saveErrorTemplateConstant             = "unable to save audit log %s: %w"
	retractCountTemplateConstant          = "cannot retract %d of %d audit records"
)

var (
	errRecordPathRequired     = errors.New(recordPathRequiredMessageConstant)
	errRecordStrategyRequired = errors.New(recordStrategyRequiredMessageConstant)
)

// MigrationRecord captures one applied strategy. Records are never edited once appended.
type MigrationRecord struct {
	RunID       string    `yaml:"run_id"`
	RecordedAt  time.Time `yaml:"recorded_at"`
	Path        string    `yaml:"path"`
	OldIdentity string    `yaml:"old_identity"`
	NewIdentity string    `yaml:"new_identity"`
	FromVersion int       `yaml:"from_version"`
	ToVersion   int       `yaml:"to_version"`
	Strategy    string    `yaml:"strategy"`
}

// IdentityChanged reports whether the record renamed the artifact.
func (record MigrationRecord) IdentityChanged() bool {
	return record.OldIdentity != record.NewIdentity
}

type logDocument struct {
	Records []MigrationRecord `yaml:"records"`
}

// Log is the append-only change log of a corpus. A single writer is assumed.
type Log struct {
	store        *artifact.Store
	path         string
	mutex        sync.Mutex
	records      []MigrationRecord
	pendingCount int
	retracted    bool
	loaded       bool
}

// New constructs a log persisted at path through store.
func New(store *artifact.Store, path string) *Log {
	if store == nil {
		store = artifact.NewStore(nil)
	}
	return &Log{store: store, path: path}
}

// Path returns the log file location.
func (changeLog *Log) Path() string {
	return changeLog.path
}

// Load reads persisted records. A missing file is an empty log.
func (changeLog *Log) Load() error {
	persistedRecords, readError := changeLog.readPersisted()
	if readError != nil {
		return readError
	}

	changeLog.mutex.Lock()
	defer changeLog.mutex.Unlock()
	changeLog.records = persistedRecords
	changeLog.pendingCount = 0
	changeLog.retracted = false
	changeLog.loaded = true
	return nil
}

// Append adds a record to the in-memory log. It is persisted by Save.
func (changeLog *Log) Append(record MigrationRecord) error {
	if len(strings.TrimSpace(record.Path)) == 0 {
		return errRecordPathRequired
	}
	if len(strings.TrimSpace(record.Strategy)) == 0 {
		return errRecordStrategyRequired
	}
	if record.ToVersion <= record.FromVersion {
		return fmt.Errorf(recordVersionOrderTemplateConstant, record.Path, record.FromVersion, record.ToVersion)
	}

	changeLog.mutex.Lock()
	defer changeLog.mutex.Unlock()
	changeLog.records = append(changeLog.records, record)
	changeLog.pendingCount++
	return nil
}

// Pending reports how many records were appended since the last Load or Save.
func (changeLog *Log) Pending() int {
	changeLog.mutex.Lock()
	defer changeLog.mutex.Unlock()
	return changeLog.pendingCount
}

// Retract removes the newest count records, saved or not. It is reserved for
// records describing an artifact write that did not happen; Save persists it.
func (changeLog *Log) Retract(count int) error {
	changeLog.mutex.Lock()
	defer changeLog.mutex.Unlock()

	if count < 0 || count > len(changeLog.records) {
		return fmt.Errorf(retractCountTemplateConstant, count, len(changeLog.records))
	}
	if count == 0 {
		return nil
	}
	changeLog.records = changeLog.records[:len(changeLog.records)-count]
	if count <= changeLog.pendingCount {
		changeLog.pendingCount -= count
		return nil
	}
	changeLog.pendingCount = 0
	changeLog.retracted = true
	return nil
}

// Save atomically persists the log when records are pending or were retracted.
func (changeLog *Log) Save() error {
	changeLog.mutex.Lock()
	defer changeLog.mutex.Unlock()

	if changeLog.pendingCount == 0 && !changeLog.retracted {
		return nil
	}

	if !changeLog.loaded {
		persistedRecords, readError := changeLog.readPersisted()
		if readError != nil {
			return readError
		}
		changeLog.records = append(persistedRecords, changeLog.records...)
		changeLog.loaded = true
	}

	encodedLog, encodeError := yaml.Marshal(logDocument{Records: changeLog.records})
	if encodeError != nil {
		return fmt.Errorf(encodeErrorTemplateConstant, changeLog.path, encodeError)
	}
	if writeError := changeLog.store.ReplaceFile(changeLog.path, encodedLog); writeError != nil {
		return fmt.Errorf(saveErrorTemplateConstant, changeLog.path, writeError)
	}
	changeLog.pendingCount = 0
	changeLog.retracted = false
	return nil
}

// Records returns a copy of every record in append order.
func (changeLog *Log) Records() []MigrationRecord {
	changeLog.mutex.Lock()
	defer changeLog.mutex.Unlock()
	copied := make([]MigrationRecord, len(changeLog.records))
	copy(copied, changeLog.records)
	return copied
}

// ResolveIdentity follows recorded identity changes from identity to the newest identity.
func (changeLog *Log) ResolveIdentity(identity string) string {
	changeLog.mutex.Lock()
	successors := make(map[string]string)
	for _, record := range changeLog.records {
		if record.IdentityChanged() {
			successors[record.OldIdentity] = record.NewIdentity
		}
	}
	changeLog.mutex.Unlock()

	visited := map[string]struct{}{identity: {}}
	current := identity
	for {
		successor, renamed := successors[current]
		if !renamed {
			return current
		}
		if _, seen := visited[successor]; seen {
			return current
		}
		visited[successor] = struct{}{}
		current = successor
	}
}

func (changeLog *Log) readPersisted() ([]MigrationRecord, error) {
	encodedLog, readError := changeLog.store.Read(changeLog.path)
	if readError != nil {
		if artifact.IsNotExist(readError) {
			return nil, nil
		}
		return nil, fmt.Errorf(loadErrorTemplateConstant, changeLog.path, readError)
	}

	var document logDocument
	if decodeError := yaml.Unmarshal(encodedLog, &document); decodeError != nil {
		return nil, fmt.Errorf(decodeErrorTemplateConstant, changeLog.path, decodeError)
	}
	return document.Records, nil
}
