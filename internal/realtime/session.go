package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe-gateway/internal/audio"
	"github.com/lexiqai/scribe-gateway/internal/observability"
)

// EventTranscription is the only outbound event type
const EventTranscription = "transcription"

// Event is a JSON message pushed to the client
type Event struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Conn is the outbound half of a streaming connection.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session holds the state of one live transcription stream
type Session struct {
	ID string

	conn   Conn
	buffer *audio.FileBuffer

	// Cancelling ctx is the only way to stop the session's transcription loop
	ctx    context.Context
	cancel context.CancelFunc

	lastObservedSize atomic.Int64
	startedAt        time.Time

	writeMu      sync.Mutex
	writeTimeout time.Duration

	logger  zerolog.Logger
	metrics *observability.SessionMetrics
}

// Info is a read-only view of a session
type Info struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	BufferedBytes    int64     `json:"buffered_bytes"`
	LastObservedSize int64     `json:"last_observed_size"`
}

// Context is cancelled when the session is torn down
func (s *Session) Context() context.Context {
	return s.ctx
}

// Buffer returns the session's audio buffer
func (s *Session) Buffer() *audio.FileBuffer {
	return s.buffer
}

// LastObservedSize returns the buffer length at the last completed transcription
func (s *Session) LastObservedSize() int64 {
	return s.lastObservedSize.Load()
}

// Send writes one event to the client. Safe for concurrent use.
func (s *Session) Send(ev Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteJSON(ev)
}

// Info returns a snapshot of the session's counters
func (s *Session) Info() Info {
	return Info{
		ID:               s.ID,
		StartedAt:        s.startedAt,
		BufferedBytes:    s.buffer.Len(),
		LastObservedSize: s.LastObservedSize(),
	}
}
