// Package spool drives sessions from a directory of request files. Each
// *.json file holds one create request; the session lives as long as the
// file does.
package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"player-session/internal/events"
	"player-session/internal/session"
)

// Sessions is the part of session.Manager the watcher drives.
type Sessions interface {
	Create(req session.Request) (int64, error)
	Listen(id int64, c events.Consumer) error
	Dispose(id int64)
}

// Watcher monitors a directory and keeps one session per request file.
type Watcher struct {
	mu       sync.RWMutex
	dir      string
	active   map[string]int64
	watcher  *fsnotify.Watcher
	sessions Sessions
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a Watcher for dir and starts a session for every
// request file already present.
func NewWatcher(dir string, sessions Sessions) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		active:   make(map[string]int64),
		watcher:  fw,
		sessions: sessions,
		stopCh:   make(chan struct{}),
	}
	w.scan()
	return w, nil
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Warnf("[spool] scan error: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isRequestFile(entry.Name()) {
			continue
		}
		w.load(filepath.Join(w.dir, entry.Name()))
	}
	log.Infof("[spool] %d sessions from %s", len(w.Files()), w.dir)
}

// Files returns the sorted paths of request files with a live session.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	files := make([]string, 0, len(w.active))
	for f := range w.active {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Session returns the session id created for path.
func (w *Watcher) Session(path string) (int64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	id, ok := w.active[path]
	return id, ok
}

// Start watches the directory until Stop is called.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	log.Infof("[spool] monitoring: %s", w.dir)

	for {
		select {
		case <-w.stopCh:
			log.Info("[spool] stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isRequestFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.unload(event.Name)
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.load(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("[spool] error: %v", err)
		}
	}
}

// Stop halts the watch loop. Sessions already created are left running.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

// load creates the session for path unless it already has one. A file
// that is still being written fails to parse and is retried on the next
// write event.
func (w *Watcher) load(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.active[path]; ok {
		return
	}
	req, err := readRequest(path)
	if err != nil {
		log.Warnf("[spool] %s: %v", filepath.Base(path), err)
		return
	}
	id, err := w.sessions.Create(req)
	if err != nil {
		log.Warnf("[spool] %s: create failed: %v", filepath.Base(path), err)
		return
	}
	if err := w.sessions.Listen(id, &logConsumer{id: id}); err != nil {
		log.Warnf("[spool] %s: listen: %v", filepath.Base(path), err)
	}
	w.active[path] = id
	log.Infof("[spool] %s -> session %d", filepath.Base(path), id)
}

func (w *Watcher) unload(path string) {
	w.mu.Lock()
	id, ok := w.active[path]
	delete(w.active, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	w.sessions.Dispose(id)
	log.Infof("[spool] %s removed, session %d disposed", filepath.Base(path), id)
}

var errEmptyURI = errors.New("uri is required")

func readRequest(path string) (session.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Request{}, err
	}
	var rj session.RequestJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return session.Request{}, fmt.Errorf("parse: %w", err)
	}
	if rj.URI == "" {
		return session.Request{}, errEmptyURI
	}
	return rj.Request()
}

func isRequestFile(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}

// logConsumer keeps a spooled session's event stream flowing into the log.
type logConsumer struct {
	id int64
}

func (c *logConsumer) Success(e events.Event) {
	log.Debugf("[spool] session %d: %s", c.id, e.Kind)
}

func (c *logConsumer) Error(code, message string, _ any) {
	log.Warnf("[spool] session %d: %s: %s", c.id, code, message)
}

func (c *logConsumer) EndOfStream() {
	log.Debugf("[spool] session %d: end of stream", c.id)
}
