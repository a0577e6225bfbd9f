package arbitrate

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads the plugin directory on create/write/remove events,
// matching the roles registry's fsnotify pattern. Reload failures are
// logged, not propagated: a bad manifest on disk must not take down an
// already-running engine.
func (l *Loader) Watch(logger *slog.Logger) (stop func(), err error) {
	if l.dir == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				matched, _ := filepath.Match(l.fileGlob, filepath.Base(event.Name))
				if !matched {
					continue
				}
				if loaded, err := l.Reload(); err != nil {
					logger.Warn("arbitration plugin reload failed", "error", err)
				} else {
					logger.Info("arbitration plugins reloaded", "strategies", loaded)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("arbitration plugin watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
