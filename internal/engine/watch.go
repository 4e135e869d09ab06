package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDelay = 100 * time.Millisecond

// Watch reloads the model whenever the file at path is written or replaced,
// until ctx is done. The file's directory must exist. A file that fails to
// load is logged and the current model kept.
func (e *Engine) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	e.logger.Info("watching model file", zap.String("path", path))

	// Events for one save arrive in a burst; the first starts the delay and
	// the rest are absorbed by it.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if pending == nil {
				pending = time.After(reloadDelay)
			}
		case <-pending:
			pending = nil
			e.reloadIfChanged(path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

func (e *Engine) reloadIfChanged(path string) {
	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("reload model", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	snap, err := decodeModel(bufio.NewReader(f))
	if err != nil {
		e.logger.Warn("reload model", zap.String("path", path), zap.Error(err))
		return
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if cur := e.current.Load(); cur != nil && cur.ID == snap.ID {
		return
	}
	e.publish(snap)
	e.logger.Info("model reloaded", zap.String("path", path), zap.String("model_id", snap.ID))
}
