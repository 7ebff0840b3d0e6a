// Package events defines the normalized playback events a session publishes
// and the queuing sink that holds them until a listener attaches.
package events

import (
	"time"

	"github.com/samber/lo"
)

// Kind tags an Event.
type Kind string

const (
	KindInitialized          Kind = "initialized"
	KindBufferingStart       Kind = "bufferingStart"
	KindBufferingEnd         Kind = "bufferingEnd"
	KindBufferingUpdate      Kind = "bufferingUpdate"
	KindCompleted            Kind = "completed"
	KindRemotePlaybackUpdate Kind = "remotePlaybackUpdate"
)

// ErrorCodeVideo is the category token for engine runtime errors.
const ErrorCodeVideo = "VideoError"

// Event is one normalized record. Only the fields belonging to Kind are set;
// the rest are omitted from JSON.
type Event struct {
	Kind               Kind       `json:"event"`
	Duration           *int64     `json:"duration,omitempty"`
	Width              *int       `json:"width,omitempty"`
	Height             *int       `json:"height,omitempty"`
	RotationCorrection *int       `json:"rotationCorrection,omitempty"`
	Values             [][2]int64 `json:"values,omitempty"`
	Position           *int64     `json:"position,omitempty"`
	Playing            *bool      `json:"playing,omitempty"`
}

// VideoSize is the display-oriented size reported with Initialized.
type VideoSize struct {
	Width              int
	Height             int
	RotationCorrection int
}

// Initialized builds the one-shot ready event. size is nil when the source
// has no video track.
func Initialized(duration time.Duration, size *VideoSize) Event {
	e := Event{Kind: KindInitialized, Duration: lo.ToPtr(duration.Milliseconds())}
	if size != nil {
		e.Width = lo.ToPtr(size.Width)
		e.Height = lo.ToPtr(size.Height)
		if size.RotationCorrection != 0 {
			e.RotationCorrection = lo.ToPtr(size.RotationCorrection)
		}
	}
	return e
}

func BufferingStart() Event { return Event{Kind: KindBufferingStart} }
func BufferingEnd() Event   { return Event{Kind: KindBufferingEnd} }
func Completed() Event      { return Event{Kind: KindCompleted} }

// BufferingUpdate reports the buffered ranges. This engine always buffers
// contiguously from the start, so there is exactly one range.
func BufferingUpdate(buffered time.Duration) Event {
	return Event{
		Kind:   KindBufferingUpdate,
		Values: [][2]int64{{0, buffered.Milliseconds()}},
	}
}

// RemotePlaybackUpdate reports a position or play state change that did not
// originate from a command on this session.
func RemotePlaybackUpdate(position time.Duration, playing bool) Event {
	return Event{
		Kind:     KindRemotePlaybackUpdate,
		Position: lo.ToPtr(position.Milliseconds()),
		Playing:  lo.ToPtr(playing),
	}
}
