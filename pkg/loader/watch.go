package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/cfgtree/pkg/source"
)

// Watch loads name, passes the result to fn, and loads again whenever one
// of the local files read by the last load changes. Changes arriving within
// the debounce interval are coalesced into one reload. Watch blocks until
// ctx is cancelled and then returns nil.
//
// Directories rather than files are watched so that editors replacing a
// file by rename are noticed.
func (l *Loader) Watch(ctx context.Context, name string, fn func(*Result)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	logger := l.tel.Logger.NewComponentLogger("watcher").WithSource(name)

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	defer func() {
		l.tel.Metrics.AddActiveWatches(-float64(len(files)))
	}()

	// track replaces the watched set with the sources of res.
	track := func(res *Result) {
		l.tel.Metrics.AddActiveWatches(-float64(len(files)))
		clear(files)
		for _, src := range res.Sources {
			if source.Scheme(src) != "" {
				continue
			}
			abs, err := filepath.Abs(src)
			if err != nil {
				continue
			}
			files[abs] = true
			dir := filepath.Dir(abs)
			if dirs[dir] {
				continue
			}
			if err := watcher.Add(dir); err != nil {
				logger.WithError(err).WithField("dir", dir).Warn("failed to watch directory")
				continue
			}
			dirs[dir] = true
		}
		// A top-level file that failed to open is still worth watching.
		if len(res.Sources) == 0 && source.Scheme(name) == "" {
			if abs, err := filepath.Abs(name); err == nil {
				files[abs] = true
				if dir := filepath.Dir(abs); !dirs[dir] && watcher.Add(dir) == nil {
					dirs[dir] = true
				}
			}
		}
		l.tel.Metrics.AddActiveWatches(float64(len(files)))
	}

	res, _ := l.Load(ctx, name)
	track(res)
	fn(res)

	logger.WithField("files", len(files)).Info("watching for changes")

	// Debounce reload events
	var pending <-chan time.Time
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !files[filepath.Clean(event.Name)] {
				continue
			}
			logger.WithField("file", event.Name).WithField("op", event.Op.String()).Debug("source changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(l.debounce)
			pending = timer.C

		case <-pending:
			pending = nil
			res, err := l.Load(ctx, name)
			l.tel.Metrics.RecordReload(err == nil)
			_ = l.tel.Events.PublishReload(res.ID, name)
			track(res)
			fn(res)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("watcher error")
		}
	}
}
