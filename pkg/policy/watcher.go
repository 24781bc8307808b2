package policy

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maestro-ai/maestro/pkg/config"
)

// Watcher triggers engine reloads on SIGHUP and, when enabled, on policy
// file changes. Editors replace files rather than writing in place, so
// the parent directory is watched and events are debounced.
type Watcher struct {
	engine *Engine
	cfg    config.PolicyConfig
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher wires reload triggers for the engine. Call Start to begin
// watching and Stop on shutdown.
func NewWatcher(engine *Engine, cfg config.PolicyConfig) *Watcher {
	return &Watcher{engine: engine, cfg: cfg, done: make(chan struct{})}
}

// Start launches the watch loop. Returns an error only when file
// watching was requested and the watch cannot be established.
func (w *Watcher) Start(ctx context.Context) error {
	var fsw *fsnotify.Watcher
	if w.cfg.WatchFile && w.cfg.Path != "" {
		var err error
		fsw, err = fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := fsw.Add(filepath.Dir(w.cfg.Path)); err != nil {
			_ = fsw.Close()
			return err
		}
		slog.Info("Watching policy file", "path", w.cfg.Path)
	}

	var sighup chan os.Signal
	if w.cfg.ReloadOnSignalEnabled() {
		sighup = make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx, sighup, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, sighup chan os.Signal, fsw *fsnotify.Watcher) {
	defer close(w.done)
	if sighup != nil {
		defer signal.Stop(sighup)
	}
	if fsw != nil {
		defer func() { _ = fsw.Close() }()
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if fsw != nil {
		events = fsw.Events
		errs = fsw.Errors
	}

	// Debounce timer for file events.
	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-sighup:
			slog.Info("Reloading policy on SIGHUP")
			w.reload(ctx)

		case evt := <-events:
			if filepath.Clean(evt.Name) != filepath.Clean(w.cfg.Path) {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(250 * time.Millisecond)
			} else {
				debounce.Reset(250 * time.Millisecond)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			slog.Info("Reloading policy on file change", "path", w.cfg.Path)
			w.reload(ctx)

		case err := <-errs:
			if err != nil {
				slog.Error("Policy file watch error", "error", err)
			}
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if err := w.engine.Reload(ctx); err != nil {
		slog.Error("Policy reload failed, keeping active document", "error", err)
	}
}

// Stop terminates the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}
