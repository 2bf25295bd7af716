package feed

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// notify sends on ch without blocking; pending events coalesce into one.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Ticker emits a focus event every interval until ctx is done.
func Ticker(ctx context.Context, every time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				notify(ch)
			}
		}
	}()
	return ch
}

// WatchFile emits a focus event whenever path, or a SQLite sidecar of it
// (-wal, -journal, -shm), is written. The directory is watched rather than
// the file so that replaced files keep being tracked.
func WatchFile(ctx context.Context, path string, logger *zap.Logger) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("feed: creating file watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("feed: resolving %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("feed: watching %s: %w", filepath.Dir(abs), err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(event.Name, abs) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					notify(ch)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", zap.Error(err))
			}
		}
	}()
	return ch, nil
}

// Merge fans several event channels into one. The result is never closed;
// readers stop on ctx instead.
func Merge(ctx context.Context, sources ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)
	for _, src := range sources {
		go func(src <-chan struct{}) {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-src:
					if !ok {
						return
					}
					notify(out)
				}
			}
		}(src)
	}
	return out
}
