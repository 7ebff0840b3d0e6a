package notification

import (
	"errors"
	"time"
)

const (
	// ID is the system notification id used for every session.
	ID = 64856
	// ChannelID names the notification channel.
	ChannelID = "player-session.media_notification_channel"
	// SessionTag names the media session.
	SessionTag = "player-session"
)

// ErrActionDisabled is returned for transport actions a session never offers.
var ErrActionDisabled = errors.New("action disabled")

// Action is a transport control request from the system.
type Action int

const (
	ActionPlay Action = iota
	ActionPause
	ActionPlayPause
	ActionFastForward
	ActionRewind
	ActionSeekTo
	ActionSeekBy
	ActionStop
	ActionNext
	ActionPrevious
)

func (a Action) String() string {
	switch a {
	case ActionPlay:
		return "play"
	case ActionPause:
		return "pause"
	case ActionPlayPause:
		return "playPause"
	case ActionFastForward:
		return "fastForward"
	case ActionRewind:
		return "rewind"
	case ActionSeekTo:
		return "seekTo"
	case ActionSeekBy:
		return "seekBy"
	case ActionStop:
		return "stop"
	case ActionNext:
		return "next"
	case ActionPrevious:
		return "previous"
	default:
		return "unknown"
	}
}

// Command is one action with its argument. Position is used by
// ActionSeekTo, Offset by ActionSeekBy.
type Command struct {
	Action   Action
	Position time.Duration
	Offset   time.Duration
}

// CommandHandler applies a command coming from the system.
type CommandHandler func(Command) error

// PlaybackStatus is what the media session shows.
type PlaybackStatus int

const (
	StatusStopped PlaybackStatus = iota
	StatusPlaying
	StatusPaused
)

func (s PlaybackStatus) String() string {
	switch s {
	case StatusPlaying:
		return "Playing"
	case StatusPaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Metadata is the media session's view of the current item.
type Metadata struct {
	Title    string
	Subtitle string
	ArtPath  string
	Duration time.Duration
}

// MediaSession is a system media session.
type MediaSession interface {
	SetActive(active bool) error
	UpdateMetadata(m Metadata) error
	UpdatePlaybackState(status PlaybackStatus, position time.Duration) error
	SetCommandHandler(h CommandHandler)
	Release() error
}

// Host creates media sessions. It is the platform capability a pairing
// needs; without one, sessions run without a notification.
type Host interface {
	NewSession(tag string) (MediaSession, error)
}

// NoOpHost creates sessions that do nothing. Used when no system media
// session is reachable.
type NoOpHost struct{}

func (NoOpHost) NewSession(string) (MediaSession, error) { return NoOpSession{}, nil }

// NoOpSession is a MediaSession that does nothing.
type NoOpSession struct{}

func (NoOpSession) SetActive(bool) error                                    { return nil }
func (NoOpSession) UpdateMetadata(Metadata) error                           { return nil }
func (NoOpSession) UpdatePlaybackState(PlaybackStatus, time.Duration) error { return nil }
func (NoOpSession) SetCommandHandler(CommandHandler)                        {}
func (NoOpSession) Release() error                                          { return nil }
