package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"player-session/internal/engine"
	"player-session/internal/engine/enginetest"
	"player-session/internal/session"
	"player-session/internal/surface"
)

type engines struct {
	mu   sync.Mutex
	list []*enginetest.Engine
	err  error
}

func (f *engines) New(engine.Options) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := enginetest.New()
	f.list = append(f.list, e)
	return e, nil
}

func (f *engines) last() *enginetest.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list[len(f.list)-1]
}

func newTestServer(t *testing.T) (*httptest.Server, *engines) {
	t.Helper()
	f := &engines{}
	m := session.NewManager(session.Deps{
		Engine:  f.New,
		Targets: surface.NewRegistry(1280, 720),
	})
	srv := NewServer(m,
		WithHealth(func() any { return map[string]bool{"mpris": false} }),
		WithPingInterval(50*time.Millisecond),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, f
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if buf.Len() > 0 {
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out), buf.String())
	}
	return resp, out
}

func create(t *testing.T, ts *httptest.Server, body string) string {
	t.Helper()
	resp, out := do(t, http.MethodPost, ts.URL+"/api/sessions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	id, ok := out["textureId"].(float64)
	require.True(t, ok)
	return ts.URL + "/api/sessions/" + strconv.FormatInt(int64(id), 10)
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	create(t, ts, `{"uri":"https://example.com/a.mp4"}`)

	resp, out := do(t, http.MethodGet, ts.URL+"/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, engine.Backend(), out["backend"])
	assert.Equal(t, float64(1), out["sessions"])
	assert.Equal(t, map[string]any{"mpris": false}, out["details"])
}

func TestCreateSession(t *testing.T) {
	ts, f := newTestServer(t)
	base := create(t, ts, `{
		"uri": "https://example.com/live/index.m3u8",
		"httpHeaders": {"Referer": "https://example.com"},
		"mixWithOthers": true,
		"geometry": {"x": 0, "y": 0, "width": 50, "height": 50}
	}`)
	assert.True(t, strings.HasPrefix(base, ts.URL))

	rec := f.last().Record()
	assert.True(t, rec.Prepared)
	assert.False(t, rec.Exclusive)
	assert.Equal(t, "https://example.com/live/index.m3u8", rec.Source.URI)
	assert.Equal(t, "https://example.com", rec.Source.Headers["Referer"])
}

func TestCreateSessionErrors(t *testing.T) {
	ts, f := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"uri":`, http.StatusBadRequest, codeInvalidRequest},
		{"missing uri", `{}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown hint", `{"uri":"https://example.com/a","formatHint":"flv"}`, http.StatusBadRequest, codeUnsupportedFormat},
		{"metadata without title", `{"uri":"https://example.com/a.mp4","metadata":{"subtitle":"s"}}`, http.StatusBadRequest, codeInvalidMetadata},
		{"bad geometry", `{"uri":"https://example.com/a.mp4","geometry":{"x":80,"y":0,"width":40,"height":10}}`, http.StatusBadRequest, codeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := do(t, http.MethodPost, ts.URL+"/api/sessions", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(out))
		})
	}

	f.mu.Lock()
	f.err = errors.New("no backend")
	f.mu.Unlock()
	resp, out := do(t, http.MethodPost, ts.URL+"/api/sessions", `{"uri":"https://example.com/a.mp4"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, codeEngineUnavailable, errorCode(out))
}

func TestSessionCommands(t *testing.T) {
	ts, f := newTestServer(t)
	base := create(t, ts, `{"uri":"https://example.com/a.mp4"}`)
	eng := f.last()

	for _, c := range []struct{ method, path, body string }{
		{http.MethodPost, "/play", ""},
		{http.MethodPut, "/looping", `{"looping":true}`},
		{http.MethodPut, "/volume", `{"volume":0.25}`},
		{http.MethodPut, "/speed", `{"speed":1.5}`},
		{http.MethodPost, "/seek", `{"position":4500}`},
		{http.MethodPost, "/buffering", ""},
	} {
		resp, out := do(t, c.method, base+c.path, c.body)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, "%s %s: %v", c.method, c.path, out)
	}

	rec := eng.Record()
	assert.True(t, rec.PlayWhenReady)
	assert.Equal(t, engine.RepeatAll, rec.Repeat)
	assert.Equal(t, 0.25, rec.Volume)
	assert.Equal(t, 1.5, rec.Speed)
	assert.Equal(t, []time.Duration{4500 * time.Millisecond}, rec.Seeks)

	resp, out := do(t, http.MethodGet, base+"/position", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4500), out["position"])

	resp, _ = do(t, http.MethodPost, base+"/pause", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, eng.Record().PlayWhenReady)
}

func TestSessionCommandErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	base := create(t, ts, `{"uri":"https://example.com/a.mp4"}`)

	resp, out := do(t, http.MethodPut, base+"/speed", `{"speed":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeInvalidArgument, errorCode(out))

	resp, out = do(t, http.MethodPut, base+"/volume", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeInvalidRequest, errorCode(out))

	resp, out = do(t, http.MethodPost, ts.URL+"/api/sessions/abc/play", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeInvalidRequest, errorCode(out))

	resp, out = do(t, http.MethodPost, ts.URL+"/api/sessions/999/play", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, codeNotFound, errorCode(out))

	resp, _ = do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "dispose is idempotent")

	resp, out = do(t, http.MethodPost, base+"/play", "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, codeDisposed, errorCode(out))
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/events"
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(msg, &out))
	return out
}

func TestEventStream(t *testing.T) {
	ts, f := newTestServer(t)
	base := create(t, ts, `{"uri":"https://example.com/a.mp4"}`)
	eng := f.last()

	// Produced before anyone listens; replayed on attach.
	eng.SetTimes(0, 0, 90*time.Second)
	eng.Emit(engine.StateChanged(engine.StateBuffering))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "bufferingStart", readFrame(t, conn)["event"])
	assert.Equal(t, "bufferingUpdate", readFrame(t, conn)["event"])

	eng.Emit(engine.StateChanged(engine.StateReady))
	init := readFrame(t, conn)
	assert.Equal(t, "initialized", init["event"])
	assert.Equal(t, float64(90000), init["duration"])
	assert.Equal(t, "bufferingEnd", readFrame(t, conn)["event"])

	eng.Emit(engine.PlayerError(errors.New("decoder gone")))
	frame := readFrame(t, conn)
	assert.Equal(t, "VideoError", errorCode(frame))

	resp, _ := do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, closeEndOfStream, ce.Text)
}

func TestWSConsumerOverflow(t *testing.T) {
	c := newWSConsumer()
	for i := 0; i < maxQueuedFrames; i++ {
		c.Error("VideoError", "frame", nil)
	}
	frames, ended, overflow := c.drain()
	assert.Len(t, frames, maxQueuedFrames)
	assert.False(t, ended)
	assert.False(t, overflow)

	for i := 0; i <= maxQueuedFrames; i++ {
		c.Error("VideoError", "frame", nil)
	}
	c.Error("VideoError", "after", nil)
	c.EndOfStream()
	frames, ended, overflow = c.drain()
	assert.Empty(t, frames, "a stalled queue is dropped, not trimmed")
	assert.True(t, ended)
	assert.True(t, overflow)
}

func TestEventStreamUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL+"/api/sessions/42"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStreamReattach(t *testing.T) {
	ts, f := newTestServer(t)
	base := create(t, ts, `{"uri":"https://example.com/a.mp4"}`)
	eng := f.last()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.NoError(t, err)
	eng.Emit(engine.StateChanged(engine.StateBuffering))
	assert.Equal(t, "bufferingStart", readFrame(t, first)["event"])
	assert.Equal(t, "bufferingUpdate", readFrame(t, first)["event"])
	first.Close()

	// Give the handler time to see the close and detach.
	time.Sleep(100 * time.Millisecond)
	eng.Emit(engine.StateChanged(engine.StateEnded))

	second, _, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, "completed", readFrame(t, second)["event"])
	assert.Equal(t, "bufferingEnd", readFrame(t, second)["event"])
}
