package config

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PolicyWatcher is a PolicySource that reloads the guard policy file when it
// changes on disk. A reload that fails to parse keeps the previous policy.
type PolicyWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	current atomic.Pointer[GuardPolicy]
	log     zerolog.Logger
	done    chan struct{}
}

// WatchPolicy loads the policy file and starts watching it for changes.
func WatchPolicy(path string, log zerolog.Logger) (*PolicyWatcher, error) {
	pol, err := LoadGuardPolicy(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating policy watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops the
	// watch if it is attached to the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching policy dir: %w", err)
	}

	pw := &PolicyWatcher{
		path:    path,
		watcher: w,
		log:     log,
		done:    make(chan struct{}),
	}
	pw.current.Store(pol)
	go pw.run()
	return pw, nil
}

func (pw *PolicyWatcher) run() {
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(pw.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pol, err := LoadGuardPolicy(pw.path)
			if err != nil {
				pw.log.Error().Err(err).Msg("policy reload failed, keeping previous")
				continue
			}
			pw.current.Store(pol)
			pw.log.Info().Str("path", pw.path).Msg("guard policy reloaded")
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.log.Error().Err(err).Msg("policy watcher error")
		case <-pw.done:
			return
		}
	}
}

// Policy returns the most recently loaded policy.
func (pw *PolicyWatcher) Policy() *GuardPolicy {
	return pw.current.Load()
}

// Close stops watching.
func (pw *PolicyWatcher) Close() error {
	close(pw.done)
	return pw.watcher.Close()
}
