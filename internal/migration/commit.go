package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/temirov/corpusmigrate/internal/auditlog"
)

const auditRetractErrorTemplateConstant = "unable to retract audit records of %s: %w"

// runAborted marks a failure that stops the whole run instead of one artifact.
type runAborted struct {
	cause error
}

func (aborted *runAborted) Error() string {
	return aborted.cause.Error()
}

func (aborted *runAborted) Unwrap() error {
	return aborted.cause
}

// commitJournal serializes the writes of one run. The audit records of an
// artifact are saved before the artifact is written, and a migrated identity
// is claimed against every identity held in the corpus before anything
// changes on disk.
type commitJournal struct {
	engine     *Engine
	changeLog  *auditlog.Log
	dryRun     bool
	cancelRun  context.CancelFunc
	mutex      sync.Mutex
	holders    map[string]string
	identities map[string]string
	failure    error
}

func newCommitJournal(engine *Engine, changeLog *auditlog.Log, dryRun bool, cancelRun context.CancelFunc) *commitJournal {
	return &commitJournal{
		engine:     engine,
		changeLog:  changeLog,
		dryRun:     dryRun,
		cancelRun:  cancelRun,
		holders:    make(map[string]string),
		identities: make(map[string]string),
	}
}

// hold registers the identity every path currently carries. The first path wins a shared identity.
func (journal *commitJournal) hold(paths []string) {
	journal.mutex.Lock()
	defer journal.mutex.Unlock()

	for _, path := range paths {
		if _, registered := journal.identities[path]; registered {
			continue
		}
		identity := journal.engine.IdentityOf(path)
		if journal.changeLog != nil {
			identity = journal.changeLog.ResolveIdentity(identity)
		}
		journal.identities[path] = identity
		if _, held := journal.holders[identity]; !held {
			journal.holders[identity] = path
		}
	}
}

// abortCause returns the error that aborted the run, if any.
func (journal *commitJournal) abortCause() error {
	journal.mutex.Lock()
	defer journal.mutex.Unlock()
	return journal.failure
}

func (journal *commitJournal) commit(prepared PreparedArtifact, records []auditlog.MigrationRecord) (ArtifactOutcome, error) {
	journal.mutex.Lock()
	defer journal.mutex.Unlock()

	outcome := prepared.Outcome
	if journal.failure != nil {
		return outcome, &runAborted{cause: journal.failure}
	}
	if collisionError := journal.checkIdentity(outcome); collisionError != nil {
		return outcome, collisionError
	}
	if journal.dryRun || !outcome.Migrated() {
		journal.settle(outcome)
		return outcome, nil
	}

	if persistError := journal.persist(records); persistError != nil {
		return outcome, journal.abort(persistError)
	}

	committed, writeError := journal.engine.CommitArtifact(prepared)
	if writeError != nil {
		if retractError := journal.retract(len(records)); retractError != nil {
			return committed, journal.abort(errors.Join(writeError, fmt.Errorf(auditRetractErrorTemplateConstant, outcome.Path, retractError)))
		}
		return committed, writeError
	}
	journal.settle(committed)
	return committed, nil
}

func (journal *commitJournal) checkIdentity(outcome ArtifactOutcome) error {
	if outcome.FinalIdentity == outcome.OriginalIdentity {
		return nil
	}
	holder, held := journal.holders[outcome.FinalIdentity]
	if !held || holder == outcome.Path {
		return nil
	}
	return &MigrationError{
		Kind:    KindIdentityCollision,
		Path:    outcome.Path,
		Version: outcome.OriginalVersion,
		Value:   outcome.FinalIdentity,
		Holder:  holder,
	}
}

func (journal *commitJournal) settle(outcome ArtifactOutcome) {
	if outcome.FinalIdentity == outcome.OriginalIdentity {
		return
	}
	if previous, registered := journal.identities[outcome.Path]; registered && journal.holders[previous] == outcome.Path {
		delete(journal.holders, previous)
	}
	journal.identities[outcome.Path] = outcome.FinalIdentity
	journal.holders[outcome.FinalIdentity] = outcome.Path
}

func (journal *commitJournal) persist(records []auditlog.MigrationRecord) error {
	for recordIndex, record := range records {
		if appendError := journal.changeLog.Append(record); appendError != nil {
			_ = journal.changeLog.Retract(recordIndex)
			return fmt.Errorf(auditAppendErrorTemplateConstant, appendError)
		}
	}
	if saveError := journal.changeLog.Save(); saveError != nil {
		_ = journal.changeLog.Retract(len(records))
		return fmt.Errorf(auditSaveErrorTemplateConstant, saveError)
	}
	return nil
}

func (journal *commitJournal) retract(count int) error {
	if retractError := journal.changeLog.Retract(count); retractError != nil {
		return retractError
	}
	return journal.changeLog.Save()
}

func (journal *commitJournal) abort(cause error) error {
	journal.failure = cause
	if journal.cancelRun != nil {
		journal.cancelRun()
	}
	return &runAborted{cause: cause}
}
