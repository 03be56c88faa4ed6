package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader is implemented by repositories that can re-read their source.
type Reloader interface {
	Path() string
	Reload() (*Snapshot, error)
}

// Watcher reloads the catalog whenever the admin surface rewrites the file.
// It watches the parent directory because editors and the admin bot replace
// the file rather than writing it in place.
type Watcher struct {
	repo        Reloader
	logger      *zap.Logger
	debounceDur time.Duration
	onReload    func(*Snapshot)
}

// NewWatcher creates a watcher for repo. onReload may be nil.
func NewWatcher(repo Reloader, logger *zap.Logger, debounce time.Duration, onReload func(*Snapshot)) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		repo:        repo,
		logger:      logger,
		debounceDur: debounce,
		onReload:    onReload,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer fsw.Close()

	path, err := filepath.Abs(w.repo.Path())
	if err != nil {
		return fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	w.logger.Info("watching catalog", zap.String("path", path))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounceDur)
			} else {
				timer.Reset(w.debounceDur)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			snap, err := w.repo.Reload()
			if err != nil {
				w.logger.Error("catalog reload failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			if w.onReload != nil {
				w.onReload(snap)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
