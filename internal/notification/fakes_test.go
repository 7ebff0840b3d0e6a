package notification

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// fakeLoader resolves images without I/O. Load blocks until the uri's gate
// channel is closed when one is registered.
type fakeLoader struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	decodes int
	loads   []string
	failAll bool
}

func (l *fakeLoader) Decode(data []byte) (image.Image, error) {
	l.mu.Lock()
	l.decodes++
	fail := l.failAll
	l.mu.Unlock()
	if fail {
		return nil, errors.New("bad image")
	}
	return image.NewRGBA(image.Rect(0, 0, len(data), 1)), nil
}

func (l *fakeLoader) Load(ctx context.Context, uri string) (image.Image, error) {
	l.mu.Lock()
	l.loads = append(l.loads, uri)
	gate := l.gates[uri]
	fail := l.failAll
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("fetch failed")
	}
	return image.NewRGBA(image.Rect(0, 0, len(uri), 1)), nil
}

func (l *fakeLoader) Export(image.Image) (string, error) {
	return "/tmp/art.png", nil
}

func (l *fakeLoader) gate(uri string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gates == nil {
		l.gates = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	l.gates[uri] = ch
	return ch
}

// fakePlayer is a Player with settable state.
type fakePlayer struct {
	mu            sync.Mutex
	playWhenReady bool
	playing       bool
	position      time.Duration
	duration      time.Duration
	seeks         []time.Duration
}

func (p *fakePlayer) SetPlayWhenReady(play bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playWhenReady = play
}

func (p *fakePlayer) PlayWhenReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playWhenReady
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) SeekTo(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, pos)
	p.position = pos
}

func (p *fakePlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// recordingSession logs every call in order.
type recordingSession struct {
	mu       sync.Mutex
	calls    []string
	metadata []Metadata
	statuses []PlaybackStatus
	handler  CommandHandler
}

func (s *recordingSession) log(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *recordingSession) SetActive(active bool) error {
	if active {
		s.log("active")
	} else {
		s.log("inactive")
	}
	return nil
}

func (s *recordingSession) UpdateMetadata(m Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, m)
	return nil
}

func (s *recordingSession) UpdatePlaybackState(status PlaybackStatus, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *recordingSession) SetCommandHandler(h CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *recordingSession) Release() error {
	s.log("release")
	return nil
}

func (s *recordingSession) lastMetadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.metadata) == 0 {
		return Metadata{}
	}
	return s.metadata[len(s.metadata)-1]
}

func (s *recordingSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type recordingHost struct {
	session *recordingSession
	tag     string
	err     error
}

func (h *recordingHost) NewSession(tag string) (MediaSession, error) {
	if h.err != nil {
		return nil, h.err
	}
	h.tag = tag
	return h.session, nil
}
