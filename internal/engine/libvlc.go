//go:build libvlc

// libVLC backend: CGO bindings to libVLC. A ListPlayer holding a one-item
// MediaList gives whole-item looping through its playback mode.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	libvlc "github.com/adrg/libvlc-go/v3"
	log "github.com/sirupsen/logrus"

	"player-session/internal/media"
	"player-session/internal/surface"
)

const backendName = "libvlc"

// ErrReleased is returned by configuration calls on a released engine.
var ErrReleased = errors.New("engine released")

var (
	vlcMu    sync.Mutex
	vlcUsers int
)

// acquireVLC initializes libVLC for the first engine and counts users so
// the library is released with the last one.
func acquireVLC(extra []string) error {
	vlcMu.Lock()
	defer vlcMu.Unlock()
	if vlcUsers == 0 {
		flags := []string{
			"--no-osd",
			"--no-video-title-show",
			"--file-caching=3000",
			"--network-caching=3000",
			"--quiet",
		}
		if err := libvlc.Init(append(flags, extra...)...); err != nil {
			return fmt.Errorf("libvlc init failed: %w", err)
		}
	}
	vlcUsers++
	return nil
}

func releaseVLC() {
	vlcMu.Lock()
	defer vlcMu.Unlock()
	vlcUsers--
	if vlcUsers == 0 {
		libvlc.Release()
	}
}

// vlcEvents are the libVLC player events translated into engine events.
var vlcEvents = []libvlc.Event{
	libvlc.MediaPlayerOpening,
	libvlc.MediaPlayerBuffering,
	libvlc.MediaPlayerPlaying,
	libvlc.MediaPlayerPaused,
	libvlc.MediaPlayerEndReached,
	libvlc.MediaPlayerEncounteredError,
}

type vlcEngine struct {
	// libVLC invokes callbacks on its own threads and forbids calling back
	// into the library from them; events are handed to one dispatcher.
	raw   chan libvlc.Event
	synth chan Event
	done  chan struct{}

	mu         sync.Mutex
	listener   Listener
	source     media.Descriptor
	surface    *surface.Surface
	exclusive  bool
	prepared   bool
	released   bool
	listPlayer *libvlc.ListPlayer
	player     *libvlc.Player
	mediaList  *libvlc.MediaList
	eventIDs   []libvlc.EventID

	playWhenReady bool
	playing       bool
	repeat        RepeatMode
	volume        float64
	speed         float64
	startAt       time.Duration
	state         State
}

func newBackend(opts Options) (Engine, error) {
	if err := acquireVLC(opts.Args); err != nil {
		return nil, err
	}
	return &vlcEngine{
		raw:    make(chan libvlc.Event, 64),
		synth:  make(chan Event, 8),
		done:   make(chan struct{}),
		volume: 1,
		speed:  1,
	}, nil
}

func (e *vlcEngine) SetListener(l Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

func (e *vlcEngine) SetSource(d media.Descriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.source = d
	return nil
}

func (e *vlcEngine) SetSurface(s *surface.Surface) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.surface = s
	return nil
}

// SetAudioAttributes is recorded only; libVLC routes audio per output module.
func (e *vlcEngine) SetAudioAttributes(exclusive bool) {
	e.mu.Lock()
	e.exclusive = exclusive
	e.mu.Unlock()
}

func (e *vlcEngine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if e.prepared {
		return nil
	}
	if e.source.URI == "" {
		return fmt.Errorf("prepare: no source set")
	}

	listPlayer, err := libvlc.NewListPlayer()
	if err != nil {
		return fmt.Errorf("list player creation failed: %w", err)
	}
	player, err := listPlayer.Player()
	if err != nil {
		listPlayer.Release()
		return fmt.Errorf("list player has no media player: %w", err)
	}
	list, err := libvlc.NewMediaList()
	if err != nil {
		listPlayer.Release()
		return fmt.Errorf("media list creation failed: %w", err)
	}
	m, err := e.newMedia()
	if err != nil {
		list.Release()
		listPlayer.Release()
		return err
	}
	if err := list.AddMedia(m); err != nil {
		m.Release()
		list.Release()
		listPlayer.Release()
		return fmt.Errorf("add media failed: %w", err)
	}
	if err := listPlayer.SetMediaList(list); err != nil {
		list.Release()
		listPlayer.Release()
		return fmt.Errorf("set media list failed: %w", err)
	}

	e.listPlayer = listPlayer
	e.player = player
	e.mediaList = list
	e.prepared = true

	em, err := player.EventManager()
	if err != nil {
		return fmt.Errorf("event manager: %w", err)
	}
	for _, ev := range vlcEvents {
		id, err := em.Attach(ev, e.onVLCEvent, nil)
		if err != nil {
			return fmt.Errorf("attach event %d: %w", ev, err)
		}
		e.eventIDs = append(e.eventIDs, id)
	}
	go e.dispatch()
	if e.startAt > 0 {
		e.synth <- Discontinuity(DiscontinuitySeek, e.startAt)
	}

	e.applyLocked()
	if err := listPlayer.Play(); err != nil {
		return fmt.Errorf("play failed: %w", err)
	}
	if !e.playWhenReady {
		// ListPlayer has no paused start; pause as soon as it opens.
		listPlayer.SetPause(true)
	}
	log.Debugf("[libvlc] prepared %s (%s)", e.source.URI, e.source.Kind)
	return nil
}

func (e *vlcEngine) newMedia() (*libvlc.Media, error) {
	var (
		m   *libvlc.Media
		err error
	)
	if e.source.Network || media.IsNetwork(e.source.URI) {
		m, err = libvlc.NewMediaFromURL(e.source.URI)
	} else {
		m, err = libvlc.NewMediaFromPath(e.source.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("media %s: %w", e.source.URI, err)
	}
	if e.source.Network {
		opts := []string{":http-user-agent=" + media.UserAgent}
		if ref, ok := e.source.Headers["Referer"]; ok {
			opts = append(opts, ":http-referrer="+ref)
		}
		if err := m.AddOptions(opts...); err != nil {
			log.Warnf("[libvlc] media options: %v", err)
		}
	}
	if e.startAt > 0 {
		m.AddOptions(fmt.Sprintf(":start-time=%.3f", e.startAt.Seconds()))
	}
	return m, nil
}

// applyLocked pushes desired state into libVLC.
func (e *vlcEngine) applyLocked() {
	if e.player == nil {
		return
	}
	if err := e.player.SetVolume(int(e.volume * 100)); err != nil {
		log.Debugf("[libvlc] volume: %v", err)
	}
	if err := e.player.SetPlaybackRate(float32(e.speed)); err != nil {
		log.Debugf("[libvlc] rate: %v", err)
	}
	if e.surface != nil {
		e.player.SetFullScreen(e.surface.Fullscreen())
	}
	e.listPlayer.SetPlaybackMode(playbackMode(e.repeat))
}

func (e *vlcEngine) onVLCEvent(ev libvlc.Event, _ interface{}) {
	select {
	case e.raw <- ev:
	case <-e.done:
	}
}

func (e *vlcEngine) dispatch() {
	for {
		select {
		case <-e.done:
			return
		case ev := <-e.raw:
			for _, out := range e.translate(ev) {
				e.emit(out)
			}
		case ev := <-e.synth:
			e.emit(ev)
		}
	}
}

func (e *vlcEngine) translate(ev libvlc.Event) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	switch ev {
	case libvlc.MediaPlayerOpening:
		out = e.setStateLocked(out, StateBuffering)
	case libvlc.MediaPlayerBuffering:
		// Buffering repeats with cache progress during playback; only the
		// initial fill counts as a state change.
		if e.state == StateIdle {
			out = e.setStateLocked(out, StateBuffering)
		}
	case libvlc.MediaPlayerPlaying:
		out = e.setStateLocked(out, StateReady)
		out = e.setPlayingLocked(out, true)
	case libvlc.MediaPlayerPaused:
		out = e.setStateLocked(out, StateReady)
		out = e.setPlayingLocked(out, false)
	case libvlc.MediaPlayerEndReached:
		if e.repeat == RepeatAll {
			out = append(out, Discontinuity(DiscontinuityAutoTransition, 0))
		} else {
			out = e.setStateLocked(out, StateEnded)
		}
	case libvlc.MediaPlayerEncounteredError:
		out = e.setStateLocked(out, StateIdle)
		out = append(out, PlayerError(fmt.Errorf("libvlc: playback of %s failed", e.source.URI)))
	}
	return out
}

func (e *vlcEngine) setStateLocked(out []Event, s State) []Event {
	if e.state == s {
		return out
	}
	e.state = s
	return append(out, StateChanged(s))
}

func (e *vlcEngine) setPlayingLocked(out []Event, playing bool) []Event {
	if e.playing == playing {
		return out
	}
	e.playing = playing
	e.playWhenReady = playing
	return append(out, PlayWhenReadyChanged(playing, ReasonUserRequest))
}

func (e *vlcEngine) emit(ev Event) {
	e.mu.Lock()
	l := e.listener
	released := e.released
	e.mu.Unlock()
	if l != nil && !released {
		l(ev)
	}
}

func (e *vlcEngine) SetPlayWhenReady(play bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.playWhenReady = play
	if e.listPlayer != nil {
		if err := e.listPlayer.SetPause(!play); err != nil {
			log.Debugf("[libvlc] pause: %v", err)
		}
	}
}

func (e *vlcEngine) PlayWhenReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playWhenReady
}

func (e *vlcEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing && e.state == StateReady
}

func (e *vlcEngine) SetRepeatMode(m RepeatMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repeat = m
	if e.listPlayer != nil {
		e.listPlayer.SetPlaybackMode(playbackMode(m))
	}
}

func (e *vlcEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	e.applyLocked()
}

// SetPlaybackSpeed relies on libVLC's default scaletempo filter for pitch.
func (e *vlcEngine) SetPlaybackSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
	e.applyLocked()
}

// SeekTo reports its own discontinuity; libVLC has no seek-completed event.
func (e *vlcEngine) SeekTo(pos time.Duration) {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	if e.player == nil {
		e.startAt = pos
		e.mu.Unlock()
		return
	}
	err := e.player.SetMediaTime(int(pos.Milliseconds()))
	e.mu.Unlock()
	if err != nil {
		log.Warnf("[libvlc] seek: %v", err)
		return
	}
	select {
	case e.synth <- Discontinuity(DiscontinuitySeek, pos):
	case <-e.done:
	default:
		log.Warnf("[libvlc] seek event dropped, dispatcher busy")
	}
}

func (e *vlcEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player == nil {
		return 0
	}
	ms, err := e.player.MediaTime()
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// BufferedPosition is the play position; libVLC exposes no cache extent.
func (e *vlcEngine) BufferedPosition() time.Duration {
	return e.Position()
}

func (e *vlcEngine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player == nil {
		return 0
	}
	ms, err := e.player.MediaLength()
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// VideoFormat reports dimensions with rotation 0; libVLC applies track
// orientation itself when rendering.
func (e *vlcEngine) VideoFormat() (VideoFormat, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player == nil {
		return VideoFormat{}, false
	}
	w, h, err := e.player.VideoDimensions()
	if err != nil || w == 0 || h == 0 {
		return VideoFormat{}, false
	}
	return VideoFormat{Width: int(w), Height: int(h)}, true
}

func (e *vlcEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listPlayer != nil {
		e.listPlayer.Stop()
	}
}

func (e *vlcEngine) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	e.listener = nil
	close(e.done)

	if e.player != nil && len(e.eventIDs) > 0 {
		if em, err := e.player.EventManager(); err == nil {
			em.Detach(e.eventIDs...)
		}
	}
	if e.listPlayer != nil {
		e.listPlayer.Stop()
		e.listPlayer.Release()
		e.listPlayer = nil
		e.player = nil
	}
	if e.mediaList != nil {
		e.mediaList.Release()
		e.mediaList = nil
	}
	e.mu.Unlock()

	releaseVLC()
	log.Debugf("[libvlc] released")
}

func playbackMode(m RepeatMode) libvlc.PlaybackMode {
	if m == RepeatAll {
		return libvlc.Loop
	}
	return libvlc.Default
}

// Locate reports the backend library in use; libVLC is linked at build time.
func Locate(string) (string, error) {
	return "libvlc " + libvlc.Version().String(), nil
}
