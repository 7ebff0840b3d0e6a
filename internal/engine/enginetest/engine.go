// Package enginetest provides an in-memory engine.Engine whose callbacks are
// driven by the test.
package enginetest

import (
	"sync"
	"time"

	"player-session/internal/engine"
	"player-session/internal/media"
	"player-session/internal/surface"
)

// Engine records every command and lets a test raise callbacks with Emit.
type Engine struct {
	mu sync.Mutex

	listener  engine.Listener
	source    media.Descriptor
	surface   *surface.Surface
	exclusive bool
	prepared  bool

	playWhenReady bool
	playing       bool
	repeat        engine.RepeatMode
	volume        float64
	speed         float64
	seeks         []time.Duration

	position time.Duration
	buffered time.Duration
	duration time.Duration
	format   engine.VideoFormat
	hasVideo bool

	stopCount      int
	releaseCount   int
	setSurfaceNils int
	PrepareErr     error
}

// New returns an engine at volume 1 and speed 1.
func New() *Engine {
	return &Engine{volume: 1, speed: 1}
}

// Factory returns an engine.Factory that always hands out e.
func Factory(e *Engine) engine.Factory {
	return func(engine.Options) (engine.Engine, error) { return e, nil }
}

// Emit delivers ev to the installed listener on the calling goroutine.
func (e *Engine) Emit(ev engine.Event) {
	e.mu.Lock()
	l := e.listener
	released := e.releaseCount > 0
	e.mu.Unlock()
	if l != nil && !released {
		l(ev)
	}
}

// SetVideo sets what VideoFormat reports.
func (e *Engine) SetVideo(f engine.VideoFormat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.format = f
	e.hasVideo = true
}

// SetTimes sets what Position, BufferedPosition and Duration report.
func (e *Engine) SetTimes(position, buffered, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position, e.buffered, e.duration = position, buffered, duration
}

// SetPlaying sets what IsPlaying reports, as if the engine changed on its own.
func (e *Engine) SetPlaying(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = playing
	e.playWhenReady = playing
}

// HasListener reports whether a listener is installed.
func (e *Engine) HasListener() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener != nil
}

// Record is a copy of what an Engine has been told.
type Record struct {
	Source         media.Descriptor
	HasSurface     bool
	Exclusive      bool
	Prepared       bool
	PlayWhenReady  bool
	Repeat         engine.RepeatMode
	Volume         float64
	Speed          float64
	Seeks          []time.Duration
	StopCount      int
	ReleaseCount   int
	SetSurfaceNils int
}

// Record returns the recorded calls; safe while callbacks are running.
func (e *Engine) Record() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Record{
		Source:         e.source,
		HasSurface:     e.surface != nil,
		Exclusive:      e.exclusive,
		Prepared:       e.prepared,
		PlayWhenReady:  e.playWhenReady,
		Repeat:         e.repeat,
		Volume:         e.volume,
		Speed:          e.speed,
		Seeks:          append([]time.Duration(nil), e.seeks...),
		StopCount:      e.stopCount,
		ReleaseCount:   e.releaseCount,
		SetSurfaceNils: e.setSurfaceNils,
	}
}

func (e *Engine) SetListener(l engine.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) SetSource(d media.Descriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = d
	return nil
}

func (e *Engine) SetSurface(s *surface.Surface) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == nil {
		e.setSurfaceNils++
	}
	e.surface = s
	return nil
}

func (e *Engine) SetAudioAttributes(exclusive bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exclusive = exclusive
}

func (e *Engine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.PrepareErr != nil {
		return e.PrepareErr
	}
	e.prepared = true
	return nil
}

func (e *Engine) SetPlayWhenReady(play bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playWhenReady = play
}

func (e *Engine) PlayWhenReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playWhenReady
}

func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *Engine) SetRepeatMode(m engine.RepeatMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repeat = m
}

func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *Engine) SetPlaybackSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
}

func (e *Engine) SeekTo(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, pos)
	e.position = pos
}

func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *Engine) BufferedPosition() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *Engine) VideoFormat() (engine.VideoFormat, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format, e.hasVideo
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCount++
}

func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseCount++
	e.listener = nil
}

var _ engine.Engine = (*Engine)(nil)
