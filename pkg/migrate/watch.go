package migrate

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-runs the migration whenever Messages writes to the source
// database. It watches the containing directory because SQLite writes land
// in the -wal/-shm sidecar files as often as in chat.db itself, and
// debounces so a burst of writes triggers a single run.
//
// Blocks until ctx is cancelled. One migration runs at startup before any
// file event.
func (o *Orchestrator) Watch(ctx context.Context, sourcePath string, debounce time.Duration) error {
	log := o.Log.With().Str("component", "watch").Logger()

	if _, err := o.Run(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(sourcePath)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(sourcePath)
	log.Info().Str("path", dir).Msg("Watching for chat.db changes via fsnotify")

	// debounceTimer is nil when idle, non-nil when a change was detected
	// and we're waiting for writes to settle before re-running.
	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// chat.db, chat.db-wal, chat.db-shm
			if !strings.HasPrefix(filepath.Base(evt.Name), base) {
				continue
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(debounce)
				debounceCh = debounceTimer.C
			} else {
				debounceTimer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("fsnotify error")

		case <-debounceCh:
			debounceTimer = nil
			debounceCh = nil
			report, err := o.Run(ctx)
			if err != nil {
				// The source can be mid-checkpoint when we read it; log
				// and wait for the next settle instead of giving up.
				log.Warn().Err(err).Msg("Triggered migration run failed")
				continue
			}
			log.Info().Str("coverage", report.String()).Msg("Re-migrated after source change")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
