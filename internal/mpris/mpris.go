// Package mpris exposes a playback session on the D-Bus session bus as an
// MPRIS media player, the system media session of Linux desktops.
package mpris

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"player-session/internal/notification"
)

const (
	busPrefix   = "org.mpris.MediaPlayer2."
	objectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	trackPath   = dbus.ObjectPath("/org/mpris/MediaPlayer2/track/0")
	rootIface   = "org.mpris.MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"

	errNotSupported = "org.mpris.MediaPlayer2.Player.Error.NotSupported"
)

// Host creates MPRIS sessions on the user's session bus.
type Host struct{}

func (Host) NewSession(tag string) (notification.MediaSession, error) {
	return NewSession(tag)
}

// Available reports whether the session bus can be reached.
func Available() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("session bus: %w", err)
	}
	return conn.Close()
}

// Session is one MPRIS player. Its bus name is owned only while active.
type Session struct {
	conn  *dbus.Conn
	props *prop.Properties
	name  string
	tag   string

	mu       sync.Mutex
	handler  notification.CommandHandler
	active   bool
	released bool
}

// NewSession connects to the session bus and exports the MPRIS objects.
func NewSession(tag string) (*Session, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}

	s := &Session{conn: conn, name: busName(tag), tag: tag}
	if err := s.export(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Debugf("[mpris] session %s ready", s.name)
	return s, nil
}

func (s *Session) export() error {
	if err := s.conn.Export(root{s}, objectPath, rootIface); err != nil {
		return fmt.Errorf("export %s: %w", rootIface, err)
	}
	if err := s.conn.Export(player{s}, objectPath, playerIface); err != nil {
		return fmt.Errorf("export %s: %w", playerIface, err)
	}

	ro := func(v any) *prop.Prop { return &prop.Prop{Value: v, Emit: prop.EmitTrue} }
	props, err := prop.Export(s.conn, objectPath, prop.Map{
		rootIface: {
			"CanQuit":             ro(false),
			"CanRaise":            ro(false),
			"HasTrackList":        ro(false),
			"Identity":            ro(s.tag),
			"SupportedUriSchemes": ro([]string{}),
			"SupportedMimeTypes":  ro([]string{}),
		},
		playerIface: {
			"PlaybackStatus": ro(notification.StatusStopped.String()),
			"Rate":           ro(1.0),
			"MinimumRate":    ro(1.0),
			"MaximumRate":    ro(1.0),
			"Metadata":       ro(metadataMap(notification.Metadata{})),
			"Volume":         ro(1.0),
			"Position":       {Value: int64(0), Emit: prop.EmitFalse},
			"CanGoNext":      ro(false),
			"CanGoPrevious":  ro(false),
			"CanPlay":        ro(true),
			"CanPause":       ro(true),
			"CanSeek":        ro(true),
			"CanControl":     ro(true),
		},
	})
	if err != nil {
		return fmt.Errorf("export properties: %w", err)
	}
	s.props = props

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{Name: rootIface, Methods: introspect.Methods(root{s}), Properties: props.Introspection(rootIface)},
			{Name: playerIface, Methods: introspect.Methods(player{s}), Properties: props.Introspection(playerIface)},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}
	return nil
}

// SetActive claims or releases the bus name, which shows or hides the
// player in desktop media controls.
func (s *Session) SetActive(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.active == active {
		return nil
	}
	if active {
		reply, err := s.conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
		if err != nil {
			return fmt.Errorf("request name %s: %w", s.name, err)
		}
		if reply != dbus.RequestNameReplyPrimaryOwner {
			return fmt.Errorf("request name %s: already taken", s.name)
		}
	} else if _, err := s.conn.ReleaseName(s.name); err != nil {
		return fmt.Errorf("release name %s: %w", s.name, err)
	}
	s.active = active
	return nil
}

func (s *Session) UpdateMetadata(m notification.Metadata) error {
	if s.isReleased() {
		return nil
	}
	if err := s.props.Set(playerIface, "Metadata", dbus.MakeVariant(metadataMap(m))); err != nil {
		return err
	}
	return nil
}

func (s *Session) UpdatePlaybackState(status notification.PlaybackStatus, position time.Duration) error {
	if s.isReleased() {
		return nil
	}
	if err := s.props.Set(playerIface, "PlaybackStatus", dbus.MakeVariant(status.String())); err != nil {
		return err
	}
	// Position never emits PropertiesChanged; clients poll it.
	s.props.SetMust(playerIface, "Position", position.Microseconds())
	return nil
}

func (s *Session) SetCommandHandler(h notification.CommandHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Release closes the bus connection. Safe to call more than once.
func (s *Session) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.handler = nil
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Session) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) dispatch(cmd notification.Command) *dbus.Error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	err := h(cmd)
	if err == nil {
		if cmd.Action == notification.ActionSeekTo {
			s.conn.Emit(objectPath, playerIface+".Seeked", cmd.Position.Microseconds())
		}
		return nil
	}
	if errors.Is(err, notification.ErrActionDisabled) {
		return dbus.NewError(errNotSupported, []any{err.Error()})
	}
	return dbus.MakeFailedError(err)
}

// root implements org.mpris.MediaPlayer2.
type root struct{ s *Session }

func (root) Raise() *dbus.Error { return nil }
func (root) Quit() *dbus.Error  { return nil }

// player implements org.mpris.MediaPlayer2.Player.
type player struct{ s *Session }

func (p player) Next() *dbus.Error {
	return p.s.dispatch(notification.Command{Action: notification.ActionNext})
}

func (p player) Previous() *dbus.Error {
	return p.s.dispatch(notification.Command{Action: notification.ActionPrevious})
}

func (p player) Pause() *dbus.Error {
	return p.s.dispatch(notification.Command{Action: notification.ActionPause})
}

func (p player) PlayPause() *dbus.Error {
	return p.s.dispatch(notification.Command{Action: notification.ActionPlayPause})
}

func (p player) Stop() *dbus.Error {
	return p.s.dispatch(notification.Command{Action: notification.ActionStop})
}

func (p player) Play() *dbus.Error {
	return p.s.dispatch(notification.Command{Action: notification.ActionPlay})
}

// Seek moves by offset microseconds.
func (p player) Seek(offset int64) *dbus.Error {
	return p.s.dispatch(notification.Command{
		Action: notification.ActionSeekBy,
		Offset: time.Duration(offset) * time.Microsecond,
	})
}

// SetPosition is ignored for stale track ids, as MPRIS requires.
func (p player) SetPosition(track dbus.ObjectPath, position int64) *dbus.Error {
	if track != trackPath || position < 0 {
		return nil
	}
	return p.s.dispatch(notification.Command{
		Action:   notification.ActionSeekTo,
		Position: time.Duration(position) * time.Microsecond,
	})
}

func (p player) OpenUri(string) *dbus.Error {
	return dbus.NewError(errNotSupported, []any{"OpenUri is not supported"})
}

func metadataMap(m notification.Metadata) map[string]dbus.Variant {
	md := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(trackPath),
		"xesam:title":   dbus.MakeVariant(m.Title),
	}
	if m.Subtitle != "" {
		md["xesam:artist"] = dbus.MakeVariant([]string{m.Subtitle})
	}
	if m.Duration > 0 {
		md["mpris:length"] = dbus.MakeVariant(m.Duration.Microseconds())
	}
	if m.ArtPath != "" {
		md["mpris:artUrl"] = dbus.MakeVariant("file://" + m.ArtPath)
	}
	return md
}

// busName builds a unique well-known name for one session, e.g.
// org.mpris.MediaPlayer2.player_session.instance1a2b3c4d.
func busName(tag string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, tag)
	if clean == "" || (clean[0] >= '0' && clean[0] <= '9') {
		clean = "p" + clean
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return busPrefix + clean + ".instance" + id[:8]
}
