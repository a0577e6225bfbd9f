package roles

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the registry's backing config file
// and calls Reload on every write event, logging (but not propagating)
// reload failures so a malformed edit never kills the watcher goroutine.
// The returned stop function closes the watcher; callers should defer it.
func (r *Registry) Watch(logger *slog.Logger) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
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
				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					if logger != nil {
						logger.Warn("roles registry reload failed", "error", err, "path", r.path)
					}
					continue
				}
				if logger != nil {
					logger.Info("roles registry reloaded", "path", r.path)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Warn("roles registry watcher error", "error", werr)
				}
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
