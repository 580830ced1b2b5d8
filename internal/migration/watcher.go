package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/temirov/corpusmigrate/internal/artifact"
)

const (
	defaultWatchDebounceConstant         = 250 * time.Millisecond
	watcherCreateErrorTemplateConstant   = "unable to create file watcher: %w"
	watcherAddErrorTemplateConstant      = "unable to watch %s: %w"
	watchPatternErrorTemplateConstant    = "invalid file pattern %q: %w"
	watchStartedLogMessageConstant       = "Watching corpus for changes"
	watchBatchLogMessageConstant         = "Migrating changed artifacts"
	watchSkippedLockedLogMessageConstant = "Corpus locked by another run; changes deferred"
	watchErrorLogMessageConstant         = "File watcher reported an error"
	logFieldPatternConstant              = "pattern"
	logFieldChangedCountConstant         = "changed"
)

// WatcherOptions configures watch mode.
type WatcherOptions struct {
	Debounce      time.Duration
	ReportHandler func(report FolderMigrationReport)
}

// Watcher re-migrates artifacts as they are created or modified.
//
// Changes are collected for the debounce window and migrated as one batch
// through the orchestrator, so the same failure boundary applies. Watching
// requires the operating system filesystem.
type Watcher struct {
	orchestrator  *Orchestrator
	root          string
	pattern       string
	debounce      time.Duration
	reportHandler func(report FolderMigrationReport)
	logger        *zap.Logger
}

// NewWatcher constructs a Watcher for root.
func NewWatcher(orchestrator *Orchestrator, root string, pattern string, options WatcherOptions) (*Watcher, error) {
	if orchestrator == nil {
		return nil, errEngineRequired
	}
	if len(strings.TrimSpace(root)) == 0 {
		return nil, artifact.ErrRootRequired
	}
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, artifact.ErrPatternRequired
	}
	if _, patternError := filepath.Match(pattern, ""); patternError != nil {
		return nil, fmt.Errorf(watchPatternErrorTemplateConstant, pattern, patternError)
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultWatchDebounceConstant
	}

	return &Watcher{
		orchestrator:  orchestrator,
		root:          root,
		pattern:       pattern,
		debounce:      debounce,
		reportHandler: options.ReportHandler,
		logger:        orchestrator.logger,
	}, nil
}

// Run watches until the context is canceled. Per-artifact failures are reported, never returned.
func (watcher *Watcher) Run(executionContext context.Context) error {
	fileWatcher, creationError := fsnotify.NewWatcher()
	if creationError != nil {
		return fmt.Errorf(watcherCreateErrorTemplateConstant, creationError)
	}
	defer fileWatcher.Close()

	if addError := watcher.addDirectories(fileWatcher, watcher.root); addError != nil {
		return addError
	}

	watcher.logger.Info(
		watchStartedLogMessageConstant,
		zap.String(logFieldRootConstant, watcher.root),
		zap.String(logFieldPatternConstant, watcher.pattern),
	)

	pendingPaths := make(map[string]struct{})
	var debounceTimer *time.Timer
	var debounceChannel <-chan time.Time

	for {
		select {
		case <-executionContext.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil
		case event, open := <-fileWatcher.Events:
			if !open {
				return nil
			}
			if event.Has(fsnotify.Create) && watcher.orchestrator.options.Recursive {
				if info, statError := os.Stat(event.Name); statError == nil && info.IsDir() {
					if addError := watcher.addDirectories(fileWatcher, event.Name); addError != nil {
						watcher.logger.Warn(watchErrorLogMessageConstant, zap.Error(addError))
					}
					continue
				}
			}
			if !watcher.relevant(event) {
				continue
			}
			pendingPaths[filepath.Clean(event.Name)] = struct{}{}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(watcher.debounce)
				debounceChannel = debounceTimer.C
			} else {
				debounceTimer.Reset(watcher.debounce)
			}
		case <-debounceChannel:
			debounceTimer = nil
			debounceChannel = nil
			retry, flushError := watcher.flush(executionContext, pendingPaths)
			if flushError != nil {
				return flushError
			}
			if retry {
				debounceTimer = time.NewTimer(watcher.debounce)
				debounceChannel = debounceTimer.C
			}
		case watchError, open := <-fileWatcher.Errors:
			if !open {
				return nil
			}
			watcher.logger.Warn(watchErrorLogMessageConstant, zap.Error(watchError))
		}
	}
}

func (watcher *Watcher) flush(executionContext context.Context, pendingPaths map[string]struct{}) (bool, error) {
	changedPaths := make([]string, 0, len(pendingPaths))
	for changedPath := range pendingPaths {
		changedPaths = append(changedPaths, changedPath)
	}
	sort.Strings(changedPaths)

	watcher.logger.Debug(watchBatchLogMessageConstant, zap.Int(logFieldChangedCountConstant, len(changedPaths)))
	report, migrationError := watcher.orchestrator.MigratePaths(executionContext, watcher.root, watcher.pattern, changedPaths)
	if migrationError != nil {
		switch {
		case errors.Is(migrationError, context.Canceled), errors.Is(migrationError, context.DeadlineExceeded):
			return false, nil
		case errors.Is(migrationError, artifact.ErrCorpusLocked):
			watcher.logger.Warn(watchSkippedLockedLogMessageConstant, zap.Error(migrationError))
			return true, nil
		default:
			return false, migrationError
		}
	}

	for _, changedPath := range changedPaths {
		delete(pendingPaths, changedPath)
	}
	if watcher.reportHandler != nil {
		watcher.reportHandler(report)
	}
	return false, nil
}

func (watcher *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if !watcher.orchestrator.options.Recursive && filepath.Clean(filepath.Dir(event.Name)) != filepath.Clean(watcher.root) {
		return false
	}
	return watcher.orchestrator.store.Admits(filepath.Base(event.Name), watcher.pattern)
}

func (watcher *Watcher) addDirectories(fileWatcher *fsnotify.Watcher, directory string) error {
	if !watcher.orchestrator.options.Recursive {
		if addError := fileWatcher.Add(directory); addError != nil {
			return fmt.Errorf(watcherAddErrorTemplateConstant, directory, addError)
		}
		return nil
	}

	return filepath.WalkDir(directory, func(path string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if !entry.IsDir() {
			return nil
		}
		if addError := fileWatcher.Add(path); addError != nil {
			return fmt.Errorf(watcherAddErrorTemplateConstant, path, addError)
		}
		return nil
	})
}
