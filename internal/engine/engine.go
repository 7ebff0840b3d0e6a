// Package engine is the native media-playback engine a session drives.
// The default backend runs mpv as a subprocess and talks to it over its
// JSON IPC socket, which needs no CGO. Building with -tags libvlc selects a
// libVLC backend through CGO bindings instead.
package engine

import (
	"fmt"
	"time"

	"player-session/internal/media"
	"player-session/internal/surface"
)

// State is the engine's playback state.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateReady
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateReady:
		return "ready"
	case StateEnded:
		return "ended"
	default:
		return "idle"
	}
}

// DiscontinuityReason explains a jump in playback position.
type DiscontinuityReason int

const (
	DiscontinuityAutoTransition DiscontinuityReason = iota
	DiscontinuitySeek
	DiscontinuityInternal
)

// PlayWhenReadyReason explains a play-when-ready change.
type PlayWhenReadyReason int

const (
	// ReasonUserRequest is any request made through the engine API or the
	// engine's own controls.
	ReasonUserRequest PlayWhenReadyReason = iota
	ReasonEndOfItem
	ReasonAudioFocusLoss
)

// EventType tags an engine Event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventPositionDiscontinuity
	EventPlayWhenReadyChanged
	EventPlayerError
)

// Event is one engine callback. Only the fields for Type are meaningful.
type Event struct {
	Type EventType

	// EventStateChanged
	State State

	// EventPositionDiscontinuity
	Discontinuity DiscontinuityReason
	Position      time.Duration

	// EventPlayWhenReadyChanged
	PlayWhenReady       bool
	PlayWhenReadyReason PlayWhenReadyReason

	// EventPlayerError
	Err error
}

func (e Event) String() string {
	switch e.Type {
	case EventStateChanged:
		return "state=" + e.State.String()
	case EventPositionDiscontinuity:
		return fmt.Sprintf("discontinuity reason=%d pos=%s", e.Discontinuity, e.Position)
	case EventPlayWhenReadyChanged:
		return fmt.Sprintf("playWhenReady=%v reason=%d", e.PlayWhenReady, e.PlayWhenReadyReason)
	case EventPlayerError:
		return fmt.Sprintf("error=%v", e.Err)
	default:
		return "unknown"
	}
}

// StateChanged, Discontinuity, PlayWhenReadyChanged and PlayerError build
// events; backends and test engines use them.
func StateChanged(s State) Event { return Event{Type: EventStateChanged, State: s} }

func Discontinuity(reason DiscontinuityReason, pos time.Duration) Event {
	return Event{Type: EventPositionDiscontinuity, Discontinuity: reason, Position: pos}
}

func PlayWhenReadyChanged(pwr bool, reason PlayWhenReadyReason) Event {
	return Event{Type: EventPlayWhenReadyChanged, PlayWhenReady: pwr, PlayWhenReadyReason: reason}
}

func PlayerError(err error) Event { return Event{Type: EventPlayerError, Err: err} }

// Listener receives engine callbacks. A backend never runs two listener
// calls for the same engine concurrently.
type Listener func(Event)

// RepeatMode controls looping at whole-item granularity.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
)

// VideoFormat describes the active video track as decoded, before rotation.
type VideoFormat struct {
	Width           int
	Height          int
	RotationDegrees int
}

// Engine is a single-item playback engine. Command methods return without
// waiting for the engine to apply them; their effects are reported through
// the Listener.
type Engine interface {
	// SetListener installs the callback handler. It is called once, before
	// Prepare.
	SetListener(l Listener)
	SetSource(d media.Descriptor) error
	SetSurface(s *surface.Surface) error
	// SetAudioAttributes configures movie audio. exclusive requests audio
	// focus so other audio is paused or ducked.
	SetAudioAttributes(exclusive bool)
	// Prepare starts loading the source asynchronously.
	Prepare() error

	SetPlayWhenReady(play bool)
	PlayWhenReady() bool
	IsPlaying() bool
	SetRepeatMode(m RepeatMode)
	SetVolume(v float64)
	// SetPlaybackSpeed changes the rate; pitch stays natural.
	SetPlaybackSpeed(speed float64)
	SeekTo(pos time.Duration)

	Position() time.Duration
	BufferedPosition() time.Duration
	Duration() time.Duration
	VideoFormat() (VideoFormat, bool)

	Stop()
	Release()
}

// Options configures a new engine.
type Options struct {
	// Path to the engine binary for subprocess backends. Empty searches PATH.
	Path string
	// Args are extra backend-specific arguments.
	Args []string
}

// Factory creates engines. Sessions take a Factory so tests can substitute
// a scripted engine.
type Factory func(opts Options) (Engine, error)

// New creates an engine with the backend selected at build time.
func New(opts Options) (Engine, error) {
	return newBackend(opts)
}

// Backend names the compiled-in backend.
func Backend() string {
	return backendName
}
