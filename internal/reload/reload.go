// Package reload watches the config file on disk and pushes parsed
// updates into the Service Router Cache, debounced so a burst of
// filesystem events from a single edit produces one reload.
package reload

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/router"
	"github.com/compozy/mcpgate/pkg/logger"
)

const debounceWindow = 2 * time.Second

// Supervisor watches Path and, on every settled change, parses it and
// calls Cache.Reload with the result. A 2-second timer is armed on the
// first qualifying event and left untouched by any further event that
// arrives while it is armed: the timer is never reset or extended, so
// a burst of writes that all land within the window fires exactly
// once, 2 seconds after the first of them. An event after the timer
// has fired arms a new one.
type Supervisor struct {
	path    string
	cache   *router.Cache
	log     logger.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	armed   bool
	stopped bool
}

// New builds a Supervisor over path, feeding reloads into cache. Call
// Start to begin watching.
func New(path string, cache *router.Cache, log logger.Logger) (*Supervisor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &Supervisor{
		path:    path,
		cache:   cache,
		log:     log,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the watch loop until Stop is called. It returns
// immediately; the loop runs on its own goroutine.
func (s *Supervisor) Start() {
	target := filepath.Clean(s.path)

	go func() {
		for {
			select {
			case <-s.done:
				return
			case event, ok := <-s.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.arm()
			case err, ok := <-s.watcher.Errors:
				if !ok {
					return
				}
				s.log.Error("config watch error", "error", err)
			}
		}
	}()
}

// arm starts the debounce timer on the first qualifying event and is a
// no-op for every further call until the timer fires, per-instance:
// it never resets or extends an already-running timer.
func (s *Supervisor) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed || s.stopped {
		return
	}
	s.armed = true
	time.AfterFunc(debounceWindow, s.fire)
}

func (s *Supervisor) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.armed = false
	s.mu.Unlock()
	s.reload()
}

// Stop ends the watch loop and releases the underlying watcher. Any
// timer armed but not yet fired will observe stopped and skip reload.
func (s *Supervisor) Stop() error {
	close(s.done)
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return s.watcher.Close()
}

func (s *Supervisor) reload() {
	next, err := gateconfig.Load(s.path)
	if err != nil {
		s.log.Error("config reload failed, keeping previous snapshot", "error", err, "path", s.path)
		return
	}
	evicted := s.cache.Reload(next)
	s.log.Info("config reloaded", "path", s.path, "evicted", evicted)
}
