package notification

import (
	"fmt"
	"sync"
	"time"
)

// Player is the part of the engine a pairing observes and drives.
type Player interface {
	SetPlayWhenReady(play bool)
	PlayWhenReady() bool
	IsPlaying() bool
	SeekTo(pos time.Duration)
	Position() time.Duration
	Duration() time.Duration
}

// Connector routes media session commands to the attached player. Play,
// pause, fast-forward, rewind and seeking are enabled; stop, next and
// previous are not.
type Connector struct {
	session       MediaSession
	seekIncrement time.Duration

	mu     sync.Mutex
	player Player
}

func NewConnector(session MediaSession, seekIncrement time.Duration) *Connector {
	c := &Connector{session: session, seekIncrement: seekIncrement}
	session.SetCommandHandler(c.Handle)
	return c
}

// SetPlayer attaches p, or detaches with nil. Once SetPlayer(nil) returns no
// command reaches the previous player.
func (c *Connector) SetPlayer(p Player) {
	c.mu.Lock()
	c.player = p
	c.mu.Unlock()
}

// Handle applies cmd to the attached player. Without a player every
// command is ignored.
func (c *Connector) Handle(cmd Command) error {
	switch cmd.Action {
	case ActionStop, ActionNext, ActionPrevious:
		return fmt.Errorf("%s: %w", cmd.Action, ErrActionDisabled)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.player
	if p == nil {
		return nil
	}

	switch cmd.Action {
	case ActionPlay:
		p.SetPlayWhenReady(true)
	case ActionPause:
		p.SetPlayWhenReady(false)
	case ActionPlayPause:
		p.SetPlayWhenReady(!p.PlayWhenReady())
	case ActionFastForward:
		c.seekLocked(p, p.Position()+c.seekIncrement)
	case ActionRewind:
		c.seekLocked(p, p.Position()-c.seekIncrement)
	case ActionSeekTo:
		c.seekLocked(p, cmd.Position)
	case ActionSeekBy:
		c.seekLocked(p, p.Position()+cmd.Offset)
	default:
		return fmt.Errorf("unknown action %d", cmd.Action)
	}
	return nil
}

func (c *Connector) seekLocked(p Player, pos time.Duration) {
	if d := p.Duration(); d > 0 && pos > d {
		pos = d
	}
	p.SeekTo(max(pos, 0))
}
