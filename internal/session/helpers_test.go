package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"player-session/internal/engine"
	"player-session/internal/engine/enginetest"
	"player-session/internal/events"
	"player-session/internal/notification"
	"player-session/internal/surface"
)

// recorder is an events.Consumer keeping everything it gets.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
	errors []string
	ended  bool
}

func (r *recorder) Success(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Error(code, message string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code+": "+message)
}

func (r *recorder) EndOfStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) count(k events.Kind) int {
	n := 0
	for _, got := range r.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

type fixture struct {
	eng     *enginetest.Engine
	targets *surface.Registry
	deps    Deps
}

func newFixture() *fixture {
	eng := enginetest.New()
	targets := surface.NewRegistry(1920, 1080)
	return &fixture{
		eng:     eng,
		targets: targets,
		deps: Deps{
			Engine:        enginetest.Factory(eng),
			Targets:       targets,
			SeekIncrement: 10 * time.Second,
		},
	}
}

// start creates a controller and attaches a recorder to it.
func (f *fixture) start(t *testing.T, req Request) (*Controller, *recorder) {
	t.Helper()
	if req.URI == "" {
		req.URI = "https://example.com/video.mp4"
	}
	c, err := New(req, f.deps)
	require.NoError(t, err)
	t.Cleanup(c.Dispose)
	rec := &recorder{}
	c.Events().SetDelegate(rec)
	return c, rec
}

func (f *fixture) emit(states ...engine.State) {
	for _, s := range states {
		f.eng.Emit(engine.StateChanged(s))
	}
}

// orderSession is a MediaSession that notes, on release, whether the
// engine had already been released.
type orderSession struct {
	notification.NoOpSession
	eng *enginetest.Engine

	mu                   sync.Mutex
	engineReleasedBefore bool
	released             int
	metadata             []notification.Metadata
}

func (s *orderSession) UpdateMetadata(m notification.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, m)
	return nil
}

func (s *orderSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	s.engineReleasedBefore = s.eng.Record().ReleaseCount > 0
	return nil
}

type orderHost struct{ session *orderSession }

func (h orderHost) NewSession(string) (notification.MediaSession, error) {
	return h.session, nil
}

// countingLoader fails every request and counts them.
type countingLoader struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) Decode([]byte) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil, errors.New("no decoder")
}

func (l *countingLoader) Load(context.Context, string) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil, errors.New("offline")
}

func (l *countingLoader) Export(image.Image) (string, error) { return "", errors.New("no dir") }
