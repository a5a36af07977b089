package registry

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Event reports a unit file appearing at a status. Renames surface as a
// create of the new name, so a transition produces one Event with the new
// status.
type Event struct {
	ID     string
	Status Status
}

// Watch streams unit lifecycle events until ctx is cancelled. The channel
// is closed on cancellation or watcher failure; events that cannot be
// parsed as unit files are ignored.
func (r *Registry) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// A rename fires Rename on the old name and Create on the
				// new one; only the Create carries the current status.
				if !ev.Op.Has(fsnotify.Create) {
					continue
				}
				id, status, parseErr := ParseFileName(filepath.Base(ev.Name))
				if parseErr != nil {
					continue
				}
				select {
				case out <- Event{ID: id, Status: status}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("unit watcher error", zap.Error(err))
			}
		}
	}()
	return out, nil
}
