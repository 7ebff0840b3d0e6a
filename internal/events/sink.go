package events

import "sync"

// Consumer receives events from a QueuingSink. Calls are serialized and must
// not call back into the sink.
type Consumer interface {
	Success(e Event)
	Error(code, message string, details any)
	EndOfStream()
}

type entryType int

const (
	entrySuccess entryType = iota
	entryError
	entryEnd
)

type entry struct {
	typ     entryType
	event   Event
	code    string
	message string
	details any
}

// QueuingSink buffers events while no consumer is attached and replays them,
// in production order, to the next consumer. Once EndOfStream has been
// queued every later event is dropped.
type QueuingSink struct {
	mu       sync.Mutex
	delegate Consumer
	queue    []entry
	done     bool
}

// NewQueuingSink returns an empty sink with no consumer.
func NewQueuingSink() *QueuingSink {
	return &QueuingSink{}
}

// SetDelegate swaps the active consumer. Buffered events are delivered to a
// new consumer before SetDelegate returns. A nil consumer detaches; events
// produced afterwards are buffered again.
func (s *QueuingSink) SetDelegate(c Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = c
	s.flushLocked()
}

// Detach detaches c if it is the active consumer, leaving a newer
// consumer in place. It reports whether c was detached.
func (s *QueuingSink) Detach(c Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delegate == nil || s.delegate != c {
		return false
	}
	s.delegate = nil
	return true
}

// Success queues e and delivers it if a consumer is attached.
func (s *QueuingSink) Success(e Event) {
	s.enqueue(entry{typ: entrySuccess, event: e})
}

// Error queues an error record. It does not end the stream.
func (s *QueuingSink) Error(code, message string, details any) {
	s.enqueue(entry{typ: entryError, code: code, message: message, details: details})
}

// EndOfStream queues the terminal marker. Later events are dropped.
func (s *QueuingSink) EndOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.queue = append(s.queue, entry{typ: entryEnd})
	s.done = true
	s.flushLocked()
}

// Pending returns the number of undelivered entries.
func (s *QueuingSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *QueuingSink) enqueue(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.queue = append(s.queue, e)
	s.flushLocked()
}

// flushLocked delivers under the lock so that a write racing an attach is
// neither duplicated nor reordered.
func (s *QueuingSink) flushLocked() {
	if s.delegate == nil {
		return
	}
	for _, e := range s.queue {
		switch e.typ {
		case entrySuccess:
			s.delegate.Success(e.event)
		case entryError:
			s.delegate.Error(e.code, e.message, e.details)
		case entryEnd:
			s.delegate.EndOfStream()
		}
	}
	clear(s.queue)
	s.queue = s.queue[:0]
}
