package notification

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"player-session/internal/metadata"
)

// Pairing is the notification, media session and connector of one
// playback session. They are created and torn down together and only
// observe the player.
type Pairing struct {
	Notification *Notification
	Session      MediaSession
	Connector    *Connector

	once sync.Once
}

// NewPairing creates an active media session for p with meta's title,
// subtitle and artwork.
func NewPairing(host Host, meta *metadata.Video, loader ImageLoader, p Player, seekIncrement time.Duration) (*Pairing, error) {
	session, err := host.NewSession(SessionTag)
	if err != nil {
		return nil, fmt.Errorf("media session: %w", err)
	}
	if err := session.SetActive(true); err != nil {
		session.Release()
		return nil, fmt.Errorf("activate media session: %w", err)
	}

	connector := NewConnector(session, seekIncrement)
	connector.SetPlayer(p)

	n := NewNotification(NewDescriptorAdapter(meta, loader), session)
	n.SetPlayer(p)

	return &Pairing{Notification: n, Session: session, Connector: connector}, nil
}

// Invalidate pushes the player's current state to the notification.
func (p *Pairing) Invalidate() {
	p.Notification.Invalidate()
}

// Release detaches the notification and connector from the player, then
// deactivates and releases the media session. Safe to call more than once.
func (p *Pairing) Release() {
	p.once.Do(func() {
		p.Notification.SetPlayer(nil)
		p.Connector.SetPlayer(nil)
		if err := p.Session.SetActive(false); err != nil {
			log.Debugf("[notification] deactivate: %v", err)
		}
		if err := p.Session.Release(); err != nil {
			log.Debugf("[notification] release: %v", err)
		}
	})
}
