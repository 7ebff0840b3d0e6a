package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	socketWaitRetries = 20
	socketWaitDelay   = 150 * time.Millisecond
	writeDeadline     = time.Second
	maxMessageSize    = 1 << 20
)

// ipcCommand is the JSON structure sent to mpv's IPC socket.
type ipcCommand struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// ipcMessage is anything mpv writes back: command replies carry request_id
// and error, events carry event plus event-specific fields.
type ipcMessage struct {
	Event     string          `json:"event"`
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
}

// ipcConn is a persistent connection to one mpv instance. Writes are
// serialized; reads happen on the single goroutine running readLoop.
type ipcConn struct {
	conn   net.Conn
	wmu    sync.Mutex
	nextID atomic.Int64
}

// dialIPC waits for mpv to create its socket and connects to it.
func dialIPC(socketPath string, exited <-chan struct{}) (*ipcConn, error) {
	var lastErr error
	for i := 0; i < socketWaitRetries; i++ {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			return &ipcConn{conn: conn}, nil
		}
		lastErr = err
		select {
		case <-exited:
			return nil, fmt.Errorf("mpv exited before its socket was ready")
		case <-time.After(socketWaitDelay):
		}
	}
	return nil, fmt.Errorf("connect %s: %w", socketPath, lastErr)
}

// send writes one newline-delimited command and returns its request id.
// The reply is delivered to readLoop's handler.
func (c *ipcConn) send(args ...any) (int64, error) {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(ipcCommand{Command: args, RequestID: id})
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return id, nil
}

// readLoop dispatches every message mpv sends until the connection closes.
func (c *ipcConn) readLoop(handle func(ipcMessage)) error {
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 0, 64<<10), maxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg ipcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // skip unparseable lines
		}
		handle(msg)
	}
	return sc.Err()
}

func (c *ipcConn) close() error {
	return c.conn.Close()
}
