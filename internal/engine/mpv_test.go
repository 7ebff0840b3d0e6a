//go:build !libvlc

package engine

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"player-session/internal/media"
	"player-session/internal/surface"
)

func newTestMPV(t *testing.T) (*mpvEngine, *[]Event) {
	t.Helper()
	e := &mpvEngine{volume: 1, speed: 1, exited: make(chan struct{})}
	var got []Event
	e.SetListener(func(ev Event) { got = append(got, ev) })
	return e, &got
}

func prop(id int, data string) ipcMessage {
	return ipcMessage{Event: "property-change", ID: id, Name: observed[id], Data: json.RawMessage(data)}
}

func TestMPVStartupSequence(t *testing.T) {
	e, got := newTestMPV(t)

	e.handle(ipcMessage{Event: "start-file"})
	e.handle(prop(propDuration, "95.5"))
	e.handle(prop(propVideoParams, `{"w":1920,"h":1080,"rotate":90}`))
	e.handle(ipcMessage{Event: "file-loaded"})
	e.handle(ipcMessage{Event: "playback-restart"})

	assert.Equal(t, []Event{StateChanged(StateBuffering), StateChanged(StateReady)}, *got)
	assert.Equal(t, 95500*time.Millisecond, e.Duration())
	f, ok := e.VideoFormat()
	require.True(t, ok)
	assert.Equal(t, VideoFormat{Width: 1920, Height: 1080, RotationDegrees: 90}, f)
	assert.False(t, e.IsPlaying(), "still paused")
}

func TestMPVVideoParamsNull(t *testing.T) {
	e, _ := newTestMPV(t)
	e.handle(prop(propVideoParams, "null"))
	_, ok := e.VideoFormat()
	assert.False(t, ok)
}

func TestMPVPauseChanges(t *testing.T) {
	e, got := newTestMPV(t)
	e.handle(ipcMessage{Event: "start-file"})
	e.handle(ipcMessage{Event: "playback-restart"})
	*got = nil

	e.handle(prop(propPause, "true")) // already paused: nothing changes
	e.handle(prop(propPause, "false"))
	assert.True(t, e.IsPlaying())
	assert.True(t, e.PlayWhenReady())
	e.handle(prop(propPause, "true"))

	assert.Equal(t, []Event{
		PlayWhenReadyChanged(true, ReasonUserRequest),
		PlayWhenReadyChanged(false, ReasonUserRequest),
	}, *got)
}

func TestMPVSeekReportsDiscontinuity(t *testing.T) {
	e, got := newTestMPV(t)
	e.handle(ipcMessage{Event: "start-file"})
	e.handle(ipcMessage{Event: "file-loaded"})
	e.handle(ipcMessage{Event: "playback-restart"})
	*got = nil

	e.handle(ipcMessage{Event: "seek"})
	e.handle(prop(propTimePos, "42.25"))
	e.handle(ipcMessage{Event: "playback-restart"})
	// A restart without a seek is not a discontinuity.
	e.handle(ipcMessage{Event: "playback-restart"})

	assert.Equal(t, []Event{Discontinuity(DiscontinuitySeek, 42250*time.Millisecond)}, *got)
}

func TestMPVLoopRestartIsAutoTransition(t *testing.T) {
	e, got := newTestMPV(t)
	e.SetRepeatMode(RepeatAll)
	e.handle(ipcMessage{Event: "start-file"})
	e.handle(prop(propDuration, "10"))
	e.handle(ipcMessage{Event: "file-loaded"})
	e.handle(ipcMessage{Event: "playback-restart"})
	*got = nil

	for i := 0; i < 2; i++ {
		e.handle(prop(propTimePos, "9.98"))
		e.handle(ipcMessage{Event: "seek"})
		e.handle(prop(propTimePos, "0"))
		e.handle(ipcMessage{Event: "playback-restart"})
	}
	// Seeking from the middle of the file is still a seek.
	e.handle(prop(propTimePos, "4"))
	e.handle(ipcMessage{Event: "seek"})
	e.handle(prop(propTimePos, "7"))
	e.handle(ipcMessage{Event: "playback-restart"})

	assert.Equal(t, []Event{
		Discontinuity(DiscontinuityAutoTransition, 0),
		Discontinuity(DiscontinuityAutoTransition, 0),
		Discontinuity(DiscontinuitySeek, 7*time.Second),
	}, *got)
}

func TestMPVSeekAtEndWithoutLoopIsSeek(t *testing.T) {
	e, got := newTestMPV(t)
	e.handle(ipcMessage{Event: "start-file"})
	e.handle(prop(propDuration, "10"))
	e.handle(ipcMessage{Event: "file-loaded"})
	e.handle(ipcMessage{Event: "playback-restart"})
	e.handle(prop(propTimePos, "10"))
	e.handle(prop(propEOFReached, "true"))
	*got = nil

	e.handle(ipcMessage{Event: "seek"})
	e.handle(prop(propTimePos, "0"))
	e.handle(ipcMessage{Event: "playback-restart"})

	assert.Equal(t, []Event{
		Discontinuity(DiscontinuitySeek, 0),
		StateChanged(StateReady),
	}, *got)
}

func TestMPVSeekBeforeFileLoadedWaitsForIt(t *testing.T) {
	e, got := newTestMPV(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	e.conn = &ipcConn{conn: client}

	cmds := make(chan []any, 4)
	go func() {
		r := bufio.NewReader(server)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			var cmd ipcCommand
			if json.Unmarshal(line, &cmd) == nil {
				cmds <- cmd.Command
			}
		}
	}()

	e.handle(ipcMessage{Event: "start-file"})
	e.SeekTo(30 * time.Second)
	assert.True(t, e.startSet, "held until the file is loaded")

	e.handle(ipcMessage{Event: "file-loaded"})
	select {
	case cmd := <-cmds:
		assert.Equal(t, []any{"seek", "30.000", "absolute+exact"}, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("seek not sent on file-loaded")
	}
	assert.False(t, e.startSet)

	e.handle(ipcMessage{Event: "seek"})
	e.handle(prop(propTimePos, "30"))
	e.handle(ipcMessage{Event: "playback-restart"})
	// A later seek from elsewhere gets its own discontinuity.
	e.handle(ipcMessage{Event: "seek"})
	e.handle(prop(propTimePos, "50"))
	e.handle(ipcMessage{Event: "playback-restart"})

	assert.Equal(t, []Event{
		StateChanged(StateBuffering),
		Discontinuity(DiscontinuitySeek, 30*time.Second),
		StateChanged(StateReady),
		Discontinuity(DiscontinuitySeek, 50*time.Second),
	}, *got)
}

func TestMPVCacheStall(t *testing.T) {
	e, got := newTestMPV(t)
	e.handle(ipcMessage{Event: "start-file"})
	e.handle(ipcMessage{Event: "file-loaded"})
	e.handle(ipcMessage{Event: "playback-restart"})
	*got = nil

	e.handle(prop(propCacheTime, "30"))
	e.handle(prop(propTimePos, "10"))
	e.handle(prop(propPausedForCache, "true"))
	e.handle(prop(propPausedForCache, "false"))

	assert.Equal(t, []Event{StateChanged(StateBuffering), StateChanged(StateReady)}, *got)
	assert.Equal(t, 30*time.Second, e.BufferedPosition())
}

func TestMPVEndAndError(t *testing.T) {
	e, got := newTestMPV(t)
	e.handle(ipcMessage{Event: "start-file"})
	e.handle(ipcMessage{Event: "file-loaded"})
	e.handle(ipcMessage{Event: "playback-restart"})
	e.handle(prop(propEOFReached, "false"))
	e.handle(prop(propEOFReached, "true"))
	e.handle(ipcMessage{Event: "end-file", Reason: "eof"})
	e.handle(ipcMessage{Event: "end-file", Reason: "error", FileError: "unrecognized file format"})

	require.Len(t, *got, 5)
	assert.Equal(t, StateChanged(StateEnded), (*got)[2])
	assert.Equal(t, StateChanged(StateIdle), (*got)[3])
	assert.Equal(t, EventPlayerError, (*got)[4].Type)
	assert.ErrorContains(t, (*got)[4].Err, "unrecognized file format")
}

func TestMPVReleaseStopsEvents(t *testing.T) {
	e, got := newTestMPV(t)
	e.Release()
	e.Release()
	e.handle(ipcMessage{Event: "start-file"})
	assert.Empty(t, *got)
	assert.ErrorIs(t, e.SetSource(media.Descriptor{URI: "x"}), ErrReleased)
	assert.ErrorIs(t, e.Prepare(), ErrReleased)
}

func TestMPVSeekBeforeConnectBecomesStart(t *testing.T) {
	e, _ := newTestMPV(t)
	e.SeekTo(5 * time.Second)
	assert.Equal(t, 5*time.Second, e.startAt)
	assert.True(t, e.startSet)

	e.SeekTo(0)
	assert.True(t, e.startSet, "a seek to zero is still applied")
	assert.Zero(t, e.startAt)
}

func TestMPVBuildArgs(t *testing.T) {
	targets := surface.NewRegistry(1000, 500)

	e, _ := newTestMPV(t)
	e.socketPath = "/tmp/x.sock"
	e.exclusive = true
	e.extra = []string{"--hwdec=auto"}
	tgt, err := targets.CreateTarget(surface.Geometry{X: 10, Y: 20, Width: 50, Height: 40})
	require.NoError(t, err)
	s, err := surface.New(tgt)
	require.NoError(t, err)
	require.NoError(t, e.SetSurface(s))

	args := e.buildArgs()
	assert.Contains(t, args, "--input-ipc-server=/tmp/x.sock")
	assert.Contains(t, args, "--pause=yes")
	assert.Contains(t, args, "--audio-exclusive=yes")
	assert.Contains(t, args, "--geometry=500x200+100+100")
	assert.Equal(t, "--hwdec=auto", args[len(args)-1])

	e.surface = nil
	assert.Contains(t, e.buildArgs(), "--vid=no")
}

func TestMPVHelpers(t *testing.T) {
	assert.Equal(t, "inf", loopValue(RepeatAll))
	assert.Equal(t, "no", loopValue(RepeatOff))
	assert.Equal(t, "12.500", formatSeconds(12500*time.Millisecond))
	assert.Equal(t, time.Duration(0), decodeSeconds(json.RawMessage("null")))
	assert.Equal(t, []string{"Authorization: Bearer a,b", "Referer: https://example.com"},
		headerFields(map[string]string{"Referer": "https://example.com", "Authorization": "Bearer a,b"}))
}
