// Package session implements the playback session controller and the
// manager that maps host commands onto sessions.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"player-session/internal/engine"
	"player-session/internal/events"
	"player-session/internal/media"
	"player-session/internal/metadata"
	"player-session/internal/notification"
	"player-session/internal/surface"
)

var (
	ErrDisposed          = errors.New("session disposed")
	ErrNotFound          = errors.New("session not found")
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Options are the playback options of one session.
type Options struct {
	// MixWithOthers plays alongside other audio instead of taking
	// exclusive focus.
	MixWithOthers bool
}

// Request describes a session to create.
type Request struct {
	URI        string
	FormatHint *string
	Headers    map[string]string
	Options    Options
	Metadata   *metadata.Video
	// Geometry places the render target; nil means fullscreen.
	Geometry *surface.Geometry
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Engine        engine.Factory
	EngineOptions engine.Options
	Targets       *surface.Registry
	// Host enables the notification pairing when the request has metadata.
	// Nil disables notifications.
	Host          notification.Host
	Loader        notification.ImageLoader
	SeekIncrement time.Duration
}

// Controller owns one engine and turns its callbacks into the session's
// event stream.
type Controller struct {
	id         int64
	descriptor media.Descriptor
	options    Options
	engine     engine.Engine
	target     *surface.Target
	surface    *surface.Surface
	sink       *events.QueuingSink
	pairing    *notification.Pairing

	mu          sync.Mutex
	initialized bool
	buffering   bool
	disposed    bool
	// A seek or play-when-ready change issued through this controller and
	// not yet reported back by the engine. Engines may coalesce rapid
	// requests into one report, so these are flags rather than counts.
	localSeek          bool
	localPlayWhenReady bool
}

// New resolves the source, binds an engine to it and starts preparation.
// No event is produced before New returns unless the engine calls back
// during Prepare.
func New(req Request, deps Deps) (*Controller, error) {
	desc, err := media.Resolve(req.URI, req.FormatHint, req.Headers)
	if err != nil {
		return nil, err
	}

	geometry := surface.Fullscreen()
	if req.Geometry != nil {
		geometry = *req.Geometry
	}
	target, err := deps.Targets.CreateTarget(geometry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	eng, err := deps.Engine(deps.EngineOptions)
	if err != nil {
		target.Release()
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	c := &Controller{
		id:         target.ID(),
		descriptor: desc,
		options:    req.Options,
		engine:     eng,
		target:     target,
		sink:       events.NewQueuingSink(),
	}
	eng.SetListener(c.onEngineEvent)

	if err := c.bind(); err != nil {
		c.Dispose()
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	if deps.Host != nil && req.Metadata != nil {
		pairing, err := notification.NewPairing(deps.Host, req.Metadata, deps.Loader, eng, deps.SeekIncrement)
		if err != nil {
			log.Warnf("[session:%d] notification disabled: %v", c.id, err)
		} else {
			c.pairing = pairing
		}
	}

	if err := eng.Prepare(); err != nil {
		c.Dispose()
		return nil, fmt.Errorf("%w: prepare: %v", ErrEngineUnavailable, err)
	}

	log.Infof("[session:%d] created %s source %s (mixWithOthers=%v, notification=%v)",
		c.id, desc.Kind, desc.URI, req.Options.MixWithOthers, c.pairing != nil)
	return c, nil
}

func (c *Controller) bind() error {
	if err := c.engine.SetSource(c.descriptor); err != nil {
		return fmt.Errorf("set source: %w", err)
	}
	surf, err := surface.New(c.target)
	if err != nil {
		return fmt.Errorf("surface: %w", err)
	}
	c.surface = surf
	if err := c.engine.SetSurface(surf); err != nil {
		return fmt.Errorf("set surface: %w", err)
	}
	c.engine.SetAudioAttributes(!c.options.MixWithOthers)
	return nil
}

// ID is the session id, equal to the render target id.
func (c *Controller) ID() int64 { return c.id }

func (c *Controller) Descriptor() media.Descriptor { return c.descriptor }

// Events is the session's outward event stream.
func (c *Controller) Events() *events.QueuingSink { return c.sink }

// Pairing returns the notification pairing, or nil.
func (c *Controller) Pairing() *notification.Pairing { return c.pairing }

func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// onEngineEvent is the engine listener. The engine never runs it
// concurrently with itself.
func (c *Controller) onEngineEvent(ev engine.Event) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}

	switch ev.Type {
	case engine.EventStateChanged:
		c.onStateLocked(ev.State)

	case engine.EventPositionDiscontinuity:
		if ev.Discontinuity != engine.DiscontinuitySeek {
			break
		}
		if c.localSeek {
			c.localSeek = false
			break
		}
		c.sink.Success(events.RemotePlaybackUpdate(ev.Position, c.engine.IsPlaying()))

	case engine.EventPlayWhenReadyChanged:
		if ev.PlayWhenReadyReason != engine.ReasonUserRequest {
			break
		}
		if c.localPlayWhenReady {
			c.localPlayWhenReady = false
			break
		}
		c.sink.Success(events.RemotePlaybackUpdate(c.engine.Position(), c.engine.IsPlaying()))

	case engine.EventPlayerError:
		c.setBufferingLocked(false)
		log.Warnf("[session:%d] engine error: %v", c.id, ev.Err)
		c.sink.Error(events.ErrorCodeVideo, fmt.Sprintf("Video player had error %v", ev.Err), nil)
	}

	pairing := c.pairing
	c.mu.Unlock()

	if pairing != nil {
		pairing.Invalidate()
	}
}

func (c *Controller) onStateLocked(s engine.State) {
	switch s {
	case engine.StateBuffering:
		if !c.buffering {
			c.buffering = true
			c.sink.Success(events.BufferingStart())
			c.sendBufferingUpdateLocked()
		}
	case engine.StateReady:
		if !c.initialized {
			c.initialized = true
			c.sink.Success(c.initializedEvent())
			log.Debugf("[session:%d] initialized", c.id)
		}
	case engine.StateEnded:
		c.sink.Success(events.Completed())
	}

	if s != engine.StateBuffering {
		c.setBufferingLocked(false)
	}
}

func (c *Controller) setBufferingLocked(buffering bool) {
	if c.buffering == buffering {
		return
	}
	c.buffering = buffering
	if buffering {
		c.sink.Success(events.BufferingStart())
	} else {
		c.sink.Success(events.BufferingEnd())
	}
}

// initializedEvent reports display-oriented dimensions: 90 and 270 degree
// tracks are swapped, 180 degree tracks carry a correction.
func (c *Controller) initializedEvent() events.Event {
	format, ok := c.engine.VideoFormat()
	if !ok {
		return events.Initialized(c.engine.Duration(), nil)
	}
	size := &events.VideoSize{Width: format.Width, Height: format.Height}
	switch format.RotationDegrees {
	case 90, 270:
		size.Width, size.Height = format.Height, format.Width
	case 180:
		size.RotationCorrection = 180
	}
	return events.Initialized(c.engine.Duration(), size)
}

func (c *Controller) sendBufferingUpdateLocked() {
	c.sink.Success(events.BufferingUpdate(c.engine.BufferedPosition()))
}

// SendBufferingUpdate emits an extra bufferingUpdate sample.
func (c *Controller) SendBufferingUpdate() error {
	return c.withEngine(func(engine.Engine) {
		c.sendBufferingUpdateLocked()
	})
}

// withEngine runs fn under the session lock unless the session is disposed.
func (c *Controller) withEngine(fn func(e engine.Engine)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	fn(c.engine)
	return nil
}

func (c *Controller) Play() error {
	return c.setPlayWhenReady(true)
}

func (c *Controller) Pause() error {
	return c.setPlayWhenReady(false)
}

func (c *Controller) setPlayWhenReady(play bool) error {
	return c.withEngine(func(e engine.Engine) {
		if e.PlayWhenReady() != play {
			c.localPlayWhenReady = true
		}
		e.SetPlayWhenReady(play)
	})
}

func (c *Controller) SetLooping(looping bool) error {
	return c.withEngine(func(e engine.Engine) {
		e.SetRepeatMode(lo.Ternary(looping, engine.RepeatAll, engine.RepeatOff))
	})
}

// SetVolume clamps v to [0, 1].
func (c *Controller) SetVolume(v float64) error {
	return c.withEngine(func(e engine.Engine) {
		e.SetVolume(lo.Clamp(v, 0.0, 1.0))
	})
}

func (c *Controller) SetPlaybackSpeed(speed float64) error {
	if !(speed > 0) {
		return fmt.Errorf("%w: playback speed %v", ErrInvalidArgument, speed)
	}
	return c.withEngine(func(e engine.Engine) {
		e.SetPlaybackSpeed(speed)
	})
}

// SeekTo requests an absolute seek. The engine's discontinuity callback
// reports completion.
func (c *Controller) SeekTo(positionMs int64) error {
	return c.withEngine(func(e engine.Engine) {
		c.localSeek = true
		e.SeekTo(time.Duration(max(positionMs, 0)) * time.Millisecond)
	})
}

// Position returns the current position in milliseconds.
func (c *Controller) Position() (int64, error) {
	var pos time.Duration
	err := c.withEngine(func(e engine.Engine) {
		pos = e.Position()
	})
	return pos.Milliseconds(), err
}

// Dispose releases everything the session owns. Only the first call has
// an effect.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	initialized := c.initialized
	c.mu.Unlock()

	if initialized {
		c.engine.Stop()
	}
	if c.surface != nil {
		if err := c.engine.SetSurface(nil); err != nil {
			log.Debugf("[session:%d] unbind surface: %v", c.id, err)
		}
		c.surface.Release()
	}
	// The pairing observes the engine and must go first.
	if c.pairing != nil {
		c.pairing.Release()
	}
	c.engine.Release()
	c.target.Release()

	c.sink.EndOfStream()
	c.sink.SetDelegate(nil)
	log.Infof("[session:%d] disposed", c.id)
}
