package session

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"player-session/internal/events"
)

// maxDisposed bounds the remembered disposed ids. Older ids fall back to
// ErrNotFound.
const maxDisposed = 4096

// Manager is the host-facing command surface: it creates sessions and
// routes commands to them by id.
type Manager struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[int64]*Controller
	// ids of disposed sessions, oldest first in disposedOrder; target ids
	// are never reused
	disposed      map[int64]struct{}
	disposedOrder []int64
	maxDisposed   int
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:        deps,
		sessions:    make(map[int64]*Controller),
		disposed:    make(map[int64]struct{}),
		maxDisposed: maxDisposed,
	}
}

// Create starts a session and returns its id.
func (m *Manager) Create(req Request) (int64, error) {
	c, err := New(req, m.deps)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.sessions[c.ID()] = c
	m.mu.Unlock()
	return c.ID(), nil
}

// Get returns a live session, ErrDisposed for a disposed one and
// ErrNotFound otherwise.
func (m *Manager) Get(id int64) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.sessions[id]; ok {
		return c, nil
	}
	if _, ok := m.disposed[id]; ok {
		return nil, ErrDisposed
	}
	return nil, ErrNotFound
}

func (m *Manager) Play(id int64) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.Play()
}

func (m *Manager) Pause(id int64) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.Pause()
}

func (m *Manager) SetLooping(id int64, looping bool) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.SetLooping(looping)
}

func (m *Manager) SetVolume(id int64, v float64) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.SetVolume(v)
}

func (m *Manager) SetPlaybackSpeed(id int64, speed float64) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.SetPlaybackSpeed(speed)
}

func (m *Manager) SeekTo(id int64, positionMs int64) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.SeekTo(positionMs)
}

func (m *Manager) Position(id int64) (int64, error) {
	c, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	return c.Position()
}

func (m *Manager) SendBufferingUpdate(id int64) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.SendBufferingUpdate()
}

// Listen attaches consumer to the session's event stream, replacing any
// previous consumer. Events produced so far are replayed first.
func (m *Manager) Listen(id int64, consumer events.Consumer) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	c.Events().SetDelegate(consumer)
	return nil
}

// Cancel detaches consumer if it is still the session's listener.
// Events are buffered again until the next Listen.
func (m *Manager) Cancel(id int64, consumer events.Consumer) {
	c, err := m.Get(id)
	if err != nil {
		return
	}
	c.Events().Detach(consumer)
}

// Dispose disposes and forgets a session. Unknown ids are not an error, so
// repeated disposal is harmless.
func (m *Manager) Dispose(id int64) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.rememberDisposedLocked(id)
	}
	m.mu.Unlock()
	if ok {
		c.Dispose()
	}
}

func (m *Manager) rememberDisposedLocked(id int64) {
	m.disposed[id] = struct{}{}
	m.disposedOrder = append(m.disposedOrder, id)
	for len(m.disposedOrder) > m.maxDisposed {
		delete(m.disposed, m.disposedOrder[0])
		m.disposedOrder = m.disposedOrder[1:]
	}
}

// DisposeAll disposes every session concurrently and waits for them, or
// for ctx.
func (m *Manager) DisposeAll(ctx context.Context) error {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[int64]*Controller)
	for id := range all {
		m.rememberDisposedLocked(id)
	}
	m.mu.Unlock()

	if len(all) == 0 {
		return nil
	}
	log.Infof("[session] disposing %d session(s)", len(all))

	g, _ := errgroup.WithContext(ctx)
	for _, c := range all {
		g.Go(func() error {
			c.Dispose()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IDs lists live sessions in ascending order.
func (m *Manager) IDs() []int64 {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
