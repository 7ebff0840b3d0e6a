//go:build !libvlc

// mpv backend: one mpv subprocess per engine, controlled over its JSON IPC
// socket. mpv owns its window; the surface geometry positions it.
package engine

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"player-session/internal/media"
	"player-session/internal/surface"
)

const backendName = "mpv"

// Observed property ids.
const (
	propPause = iota + 1
	propPausedForCache
	propEOFReached
	propTimePos
	propCacheTime
	propDuration
	propVideoParams
)

var observed = map[int]string{
	propPause:          "pause",
	propPausedForCache: "paused-for-cache",
	propEOFReached:     "eof-reached",
	propTimePos:        "time-pos",
	propCacheTime:      "demuxer-cache-time",
	propDuration:       "duration",
	propVideoParams:    "video-params",
}

// loopMargin is how close to the end time-pos must be for a seek under
// loop-file to count as mpv wrapping around.
const loopMargin = 500 * time.Millisecond

// ErrReleased is returned by configuration calls on a released engine.
var ErrReleased = errors.New("engine released")

type mpvEngine struct {
	path  string
	extra []string

	// cbMu serializes listener calls from the read loop and process reaper.
	cbMu sync.Mutex

	mu       sync.Mutex
	listener Listener
	source   media.Descriptor
	surface  *surface.Surface
	// exclusive audio, requested through SetAudioAttributes
	exclusive bool
	prepared  bool
	released  bool

	cmd        *exec.Cmd
	exited     chan struct{}
	socketPath string
	conn       *ipcConn

	// desired state, applied on connect and on every change after
	playWhenReady bool
	repeat        RepeatMode
	volume        float64
	speed         float64
	// seek requested before the file loaded; mpv rejects seek until then
	startAt  time.Duration
	startSet bool

	// observed state
	playing        bool // play-when-ready as last reported by mpv
	state          State
	fileLoaded     bool
	pausedForCache bool
	seekPending    bool
	loopPending    bool
	eofReached     bool
	position       time.Duration
	buffered       time.Duration
	duration       time.Duration
	video          VideoFormat
	hasVideo       bool
}

func newBackend(opts Options) (Engine, error) {
	path, err := findMPV(opts.Path)
	if err != nil {
		return nil, err
	}
	return &mpvEngine{
		path:   path,
		extra:  opts.Args,
		volume: 1,
		speed:  1,
		exited: make(chan struct{}),
	}, nil
}

func (e *mpvEngine) SetListener(l Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

func (e *mpvEngine) SetSource(d media.Descriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if d.Kind == media.SmoothStreaming {
		log.Warnf("[mpv] smooth streaming has no native demuxer; mpv will sniff %s", d.URI)
	}
	e.source = d
	return nil
}

func (e *mpvEngine) SetSurface(s *surface.Surface) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.surface = s
	if e.conn != nil && s == nil {
		// Without a surface there is nothing to draw into.
		e.sendLocked("set_property", "vid", "no")
	}
	return nil
}

func (e *mpvEngine) SetAudioAttributes(exclusive bool) {
	e.mu.Lock()
	e.exclusive = exclusive
	e.mu.Unlock()
}

// Prepare launches mpv in the background. Events start flowing once the
// IPC socket is connected and the file starts loading.
func (e *mpvEngine) Prepare() error {
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

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Errorf("generate socket name: %w", err)
	}
	e.socketPath = filepath.Join(os.TempDir(), fmt.Sprintf("player-session-%x.sock", randomBytes))

	args := e.buildArgs()
	cmd := exec.Command(e.path, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mpv start failed: %w", err)
	}
	e.cmd = cmd
	e.prepared = true

	go func() {
		err := cmd.Wait()
		close(e.exited)
		e.onExit(err)
	}()
	go e.connect()

	log.Debugf("[mpv] started pid %d: %s", cmd.Process.Pid, strings.Join(args, " "))
	return nil
}

// buildArgs builds the mpv command line. The source is loaded over IPC once
// the socket is up, so desired state can be applied first.
func (e *mpvEngine) buildArgs() []string {
	args := []string{
		"--no-terminal",
		"--really-quiet",
		"--idle=yes",       // keep running after stop so the socket stays valid
		"--keep-open=yes",  // stay on the last frame; eof-reached signals the end
		"--force-window=yes",
		"--osd-level=0",
		"--no-input-default-bindings",
		"--cache=yes",
		"--input-ipc-server=" + e.socketPath,
		"--pause=" + yesNo(!e.playWhenReady),
		"--audio-exclusive=" + yesNo(e.exclusive), // only some audio outputs honor it
	}

	if e.surface != nil {
		if e.surface.Fullscreen() {
			args = append(args, "--fullscreen")
		} else {
			r := e.surface.Rect()
			args = append(args,
				"--no-border",
				fmt.Sprintf("--geometry=%dx%d+%d+%d", r.W, r.H, r.X, r.Y),
			)
		}
	} else {
		args = append(args, "--vid=no")
	}

	return append(args, e.extra...)
}

func (e *mpvEngine) connect() {
	conn, err := dialIPC(e.socketPath, e.exited)
	if err != nil {
		e.emit(PlayerError(fmt.Errorf("mpv ipc: %w", err)))
		return
	}

	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		conn.close()
		return
	}
	e.conn = conn

	for id, name := range observed {
		e.sendLocked("observe_property", id, name)
	}
	e.sendLocked("set_property", "pause", !e.playWhenReady)
	e.sendLocked("set_property", "volume", e.volume*100)
	e.sendLocked("set_property", "speed", e.speed)
	e.sendLocked("set_property", "loop-file", loopValue(e.repeat))
	if e.startSet {
		e.startSet = false
		e.sendLocked("set_property", "start", formatSeconds(e.startAt))
		// The start offset is reported like a seek once playback begins.
		e.seekPending = true
	}
	if e.source.Network {
		e.sendLocked("set_property", "user-agent", media.UserAgent)
		if len(e.source.Headers) > 0 {
			e.sendLocked("set_property", "http-header-fields", headerFields(e.source.Headers))
		}
	}
	switch e.source.Kind {
	case media.HLS:
		e.sendLocked("set_property", "demuxer-lavf-format", "hls")
	case media.DASH:
		e.sendLocked("set_property", "demuxer-lavf-format", "dash")
	}
	e.sendLocked("loadfile", e.source.URI, "replace")
	e.mu.Unlock()

	if err := conn.readLoop(e.handle); err != nil {
		log.Debugf("[mpv] ipc read: %v", err)
	}
}

// handle runs on the read loop goroutine, so listener calls for one engine
// never overlap.
func (e *mpvEngine) handle(msg ipcMessage) {
	var out []Event

	e.mu.Lock()
	switch msg.Event {
	case "":
		if msg.Error != "" && msg.Error != "success" {
			log.Debugf("[mpv] request %d: %s", msg.RequestID, msg.Error)
		}
	case "start-file":
		e.fileLoaded = false
		e.eofReached = false
		out = e.setStateLocked(out, StateBuffering)
	case "file-loaded":
		e.fileLoaded = true
		if e.startSet {
			e.startSet = false
			e.sendLocked("seek", formatSeconds(e.startAt), "absolute+exact")
		}
	case "seek":
		// loop-file restarts through the ordinary seek path.
		if e.repeat == RepeatAll && e.atEndLocked() {
			e.loopPending = true
		} else {
			e.seekPending = true
		}
		e.eofReached = false
	case "playback-restart":
		switch {
		case e.seekPending:
			e.seekPending = false
			e.loopPending = false
			out = append(out, Discontinuity(DiscontinuitySeek, e.position))
		case e.loopPending:
			e.loopPending = false
			out = append(out, Discontinuity(DiscontinuityAutoTransition, e.position))
		}
		if !e.pausedForCache {
			out = e.setStateLocked(out, StateReady)
		}
	case "end-file":
		if msg.Reason == "error" {
			out = e.setStateLocked(out, StateIdle)
			out = append(out, PlayerError(fmt.Errorf("mpv: %s", msg.FileError)))
		}
	case "property-change":
		out = e.propertyLocked(out, msg)
	}
	e.mu.Unlock()

	for _, ev := range out {
		e.emit(ev)
	}
}

func (e *mpvEngine) propertyLocked(out []Event, msg ipcMessage) []Event {
	switch msg.ID {
	case propPause:
		var paused bool
		if json.Unmarshal(msg.Data, &paused) == nil && e.playing == paused {
			e.playing = !paused
			// A change made from mpv's own controls becomes the new request.
			e.playWhenReady = e.playing
			out = append(out, PlayWhenReadyChanged(e.playing, ReasonUserRequest))
		}
	case propPausedForCache:
		var waiting bool
		if json.Unmarshal(msg.Data, &waiting) != nil {
			break
		}
		e.pausedForCache = waiting
		if waiting {
			out = e.setStateLocked(out, StateBuffering)
		} else if e.fileLoaded && e.state == StateBuffering {
			out = e.setStateLocked(out, StateReady)
		}
	case propEOFReached:
		var eof bool
		if json.Unmarshal(msg.Data, &eof) != nil {
			break
		}
		e.eofReached = eof
		if eof {
			out = e.setStateLocked(out, StateEnded)
		}
	case propTimePos:
		e.position = decodeSeconds(msg.Data)
	case propCacheTime:
		e.buffered = decodeSeconds(msg.Data)
	case propDuration:
		e.duration = decodeSeconds(msg.Data)
	case propVideoParams:
		var vp struct {
			W      int `json:"w"`
			H      int `json:"h"`
			Rotate int `json:"rotate"`
		}
		if len(msg.Data) > 0 && string(msg.Data) != "null" && json.Unmarshal(msg.Data, &vp) == nil && vp.W > 0 {
			e.video = VideoFormat{Width: vp.W, Height: vp.H, RotationDegrees: vp.Rotate}
			e.hasVideo = true
		}
	}
	return out
}

func (e *mpvEngine) atEndLocked() bool {
	if e.eofReached {
		return true
	}
	return e.duration > 0 && e.duration-e.position <= loopMargin
}

func (e *mpvEngine) setStateLocked(out []Event, s State) []Event {
	if e.state == s {
		return out
	}
	e.state = s
	return append(out, StateChanged(s))
}

func (e *mpvEngine) emit(ev Event) {
	e.mu.Lock()
	l := e.listener
	released := e.released
	e.mu.Unlock()
	if l == nil || released {
		return
	}
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	l(ev)
}

func (e *mpvEngine) onExit(err error) {
	e.mu.Lock()
	released := e.released
	e.mu.Unlock()
	if released {
		return
	}
	if err == nil {
		err = errors.New("process exited")
	}
	e.emit(PlayerError(fmt.Errorf("mpv: %w", err)))
}

// sendLocked issues a command without waiting for mpv's reply. Commands
// before the socket is connected are covered by connect's initial sync.
func (e *mpvEngine) sendLocked(args ...any) {
	if e.conn == nil {
		return
	}
	if _, err := e.conn.send(args...); err != nil {
		log.Warnf("[mpv] %v: %v", args[0], err)
	}
}

func (e *mpvEngine) SetPlayWhenReady(play bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.playWhenReady = play
	e.sendLocked("set_property", "pause", !play)
}

func (e *mpvEngine) PlayWhenReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playWhenReady
}

func (e *mpvEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing && e.state == StateReady
}

func (e *mpvEngine) SetRepeatMode(m RepeatMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repeat = m
	e.sendLocked("set_property", "loop-file", loopValue(m))
}

func (e *mpvEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	e.sendLocked("set_property", "volume", v*100)
}

func (e *mpvEngine) SetPlaybackSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
	// audio-pitch-correction keeps pitch natural at any speed.
	e.sendLocked("set_property", "audio-pitch-correction", true)
	e.sendLocked("set_property", "speed", speed)
}

func (e *mpvEngine) SeekTo(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil || !e.fileLoaded {
		// Applied by connect or on file-loaded.
		e.startAt, e.startSet = pos, true
		return
	}
	e.sendLocked("seek", formatSeconds(pos), "absolute+exact")
}

func (e *mpvEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *mpvEngine) BufferedPosition() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(e.buffered, e.position)
}

func (e *mpvEngine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *mpvEngine) VideoFormat() (VideoFormat, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.video, e.hasVideo
}

func (e *mpvEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendLocked("stop")
}

// Release quits mpv and drops the listener. It is safe to call more than
// once and before Prepare.
func (e *mpvEngine) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	e.listener = nil
	e.sendLocked("quit")
	conn := e.conn
	cmd := e.cmd
	e.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	if cmd != nil && cmd.Process != nil {
		go func() {
			select {
			case <-e.exited:
			case <-time.After(2 * time.Second):
				cmd.Process.Kill()
			}
			os.Remove(e.socketPath)
		}()
	}
}

func loopValue(m RepeatMode) string {
	if m == RepeatAll {
		return "inf"
	}
	return "no"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func decodeSeconds(raw json.RawMessage) time.Duration {
	var secs float64
	if json.Unmarshal(raw, &secs) != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// headerFields renders headers as mpv's http-header-fields string list,
// sorted so the option is stable.
func headerFields(headers map[string]string) []string {
	fields := make([]string, 0, len(headers))
	for k, v := range headers {
		fields = append(fields, k+": "+v)
	}
	sort.Strings(fields)
	return fields
}

// findMPV locates the mpv executable.
func findMPV(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("mpv not found at %s: %w", configured, err)
		}
		return configured, nil
	}
	if path, err := exec.LookPath("mpv"); err == nil {
		return path, nil
	}
	for _, c := range []string{"/usr/bin/mpv", "/usr/local/bin/mpv", "/opt/homebrew/bin/mpv", "/snap/bin/mpv"} {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("mpv not found: install with sudo apt install mpv")
}

// Locate reports the engine binary that New would use.
func Locate(configured string) (string, error) {
	return findMPV(configured)
}
