package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"player-session/internal/engine"
	"player-session/internal/engine/enginetest"
	"player-session/internal/events"
	"player-session/internal/surface"
)

// multiFactory hands out a fresh test engine per session.
type multiFactory struct {
	mu      sync.Mutex
	engines []*enginetest.Engine
}

func (f *multiFactory) New(engine.Options) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := enginetest.New()
	f.engines = append(f.engines, e)
	return e, nil
}

func newTestManager() (*Manager, *multiFactory, *surface.Registry) {
	f := &multiFactory{}
	targets := surface.NewRegistry(1280, 720)
	return NewManager(Deps{Engine: f.New, Targets: targets}), f, targets
}

func TestManagerRoutesCommands(t *testing.T) {
	m, f, targets := newTestManager()

	a, err := m.Create(Request{URI: "https://example.com/a.mp4"})
	require.NoError(t, err)
	b, err := m.Create(Request{URI: "https://example.com/b.m3u8"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, []int64{a, b}, m.IDs())
	assert.Equal(t, 2, targets.Len())

	require.NoError(t, m.SetVolume(b, 3))
	require.NoError(t, m.SeekTo(a, 2000))
	assert.Equal(t, 1.0, f.engines[1].Record().Volume)
	assert.Equal(t, 1.0, f.engines[0].Record().Volume, "untouched")
	assert.Equal(t, []time.Duration{2 * time.Second}, f.engines[0].Record().Seeks)

	pos, err := m.Position(a)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), pos)

	require.NoError(t, m.Play(a))
	require.NoError(t, m.Pause(a))
	require.NoError(t, m.SetLooping(a, true))
	require.NoError(t, m.SetPlaybackSpeed(a, 2))
	require.NoError(t, m.SendBufferingUpdate(a))
	assert.Equal(t, engine.RepeatAll, f.engines[0].Record().Repeat)
	assert.Equal(t, 2.0, f.engines[0].Record().Speed)

	m.Dispose(a)
	m.Dispose(a)
	assert.Equal(t, 1, f.engines[0].Record().ReleaseCount)
	assert.ErrorIs(t, m.Play(a), ErrDisposed)
	assert.ErrorIs(t, m.Play(999), ErrNotFound)
	assert.Equal(t, []int64{b}, m.IDs())
}

func TestManagerCreateError(t *testing.T) {
	m, _, targets := newTestManager()
	_, err := m.Create(Request{URI: ""})
	require.Error(t, err)
	assert.Empty(t, m.IDs())
	assert.Zero(t, targets.Len())
}

func TestManagerListenAndCancel(t *testing.T) {
	m, f, _ := newTestManager()
	id, err := m.Create(Request{URI: "https://example.com/a.mp4"})
	require.NoError(t, err)
	eng := f.engines[0]

	eng.Emit(engine.StateChanged(engine.StateBuffering))

	first := &recorder{}
	require.NoError(t, m.Listen(id, first))
	assert.Equal(t, []events.Kind{events.KindBufferingStart, events.KindBufferingUpdate}, first.kinds())

	// A second listener takes over; cancelling the first leaves it alone.
	second := &recorder{}
	require.NoError(t, m.Listen(id, second))
	m.Cancel(id, first)
	eng.Emit(engine.StateChanged(engine.StateReady))
	assert.Equal(t, []events.Kind{events.KindInitialized, events.KindBufferingEnd}, second.kinds())

	// Detached: events wait for the next listener.
	m.Cancel(id, second)
	eng.Emit(engine.StateChanged(engine.StateEnded))
	third := &recorder{}
	require.NoError(t, m.Listen(id, third))
	assert.Equal(t, []events.Kind{events.KindCompleted}, third.kinds())

	m.Dispose(id)
	assert.True(t, third.ended)
	assert.ErrorIs(t, m.Listen(id, third), ErrDisposed)
}

func TestManagerDisposeAll(t *testing.T) {
	m, f, targets := newTestManager()
	for i := 0; i < 5; i++ {
		_, err := m.Create(Request{URI: "https://example.com/a.mp4"})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.DisposeAll(ctx))

	assert.Empty(t, m.IDs())
	assert.Zero(t, targets.Len())
	for _, e := range f.engines {
		assert.Equal(t, 1, e.Record().ReleaseCount)
	}
	require.NoError(t, m.DisposeAll(ctx))
}

func TestManagerForgetsOldestDisposedIDs(t *testing.T) {
	m, _, _ := newTestManager()
	m.maxDisposed = 2

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := m.Create(Request{URI: "https://example.com/a.mp4"})
		require.NoError(t, err)
		ids = append(ids, id)
		m.Dispose(id)
	}

	_, err := m.Get(ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range ids[1:] {
		_, err := m.Get(id)
		assert.ErrorIs(t, err, ErrDisposed)
	}
	assert.Len(t, m.disposed, 2)
	assert.Len(t, m.disposedOrder, 2)
}
