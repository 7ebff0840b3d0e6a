package notification

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Notification publishes the attached player's item and transport state to
// the media session.
type Notification struct {
	ID        int
	ChannelID string

	adapter *DescriptorAdapter
	session MediaSession

	mu       sync.Mutex
	player   Player
	artPath  string
	duration time.Duration
}

func NewNotification(adapter *DescriptorAdapter, session MediaSession) *Notification {
	return &Notification{
		ID:        ID,
		ChannelID: ChannelID,
		adapter:   adapter,
		session:   session,
	}
}

// Actions lists the transport actions the notification offers.
func (n *Notification) Actions() []Action {
	return []Action{ActionRewind, ActionPlayPause, ActionFastForward}
}

// SetPlayer attaches p and publishes its item, or detaches with nil.
func (n *Notification) SetPlayer(p Player) {
	n.mu.Lock()
	n.player = p
	n.mu.Unlock()

	if p == nil {
		n.adapter.Close()
		return
	}
	n.publishMetadata()
	n.adapter.LargeIcon(n.onArtwork)
	n.Invalidate()
}

func (n *Notification) onArtwork(art Artwork) {
	n.mu.Lock()
	if n.player == nil {
		n.mu.Unlock()
		return
	}
	n.artPath = art.Path
	n.mu.Unlock()
	n.publishMetadata()
}

func (n *Notification) publishMetadata() {
	n.mu.Lock()
	m := Metadata{
		Title:    n.adapter.Title(),
		Subtitle: n.adapter.Subtitle(),
		ArtPath:  n.artPath,
		Duration: n.duration,
	}
	n.mu.Unlock()
	if err := n.session.UpdateMetadata(m); err != nil {
		log.Debugf("[notification] metadata: %v", err)
	}
}

// Invalidate republishes the transport state, and the item when its
// duration became known.
func (n *Notification) Invalidate() {
	n.mu.Lock()
	p := n.player
	n.mu.Unlock()
	if p == nil {
		return
	}

	status := StatusPaused
	if p.IsPlaying() {
		status = StatusPlaying
	}

	n.mu.Lock()
	d := p.Duration()
	changed := d != n.duration
	n.duration = d
	n.mu.Unlock()
	if changed {
		n.publishMetadata()
	}

	if err := n.session.UpdatePlaybackState(status, p.Position()); err != nil {
		log.Debugf("[notification] playback state: %v", err)
	}
}
