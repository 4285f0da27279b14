package realtime

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe-gateway/internal/audio"
	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/stt"
)

// ErrShuttingDown is returned for connections accepted after Shutdown
var ErrShuttingDown = errors.New("session manager is shutting down")

// Manager owns the lifecycle of every streaming session: it creates the
// session on connect, runs its transcription loop next to the ingester,
// and tears everything down exactly once when the stream ends.
type Manager struct {
	store       *Store
	transcriber stt.Transcriber
	interval    time.Duration
	maxFrame    int64
	upgrader    websocket.Upgrader

	// Parent of every session context
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders loops.Add against Shutdown's loops.Wait
	mu       sync.Mutex
	stopping bool
	loops    sync.WaitGroup
	logger   zerolog.Logger
}

// NewManager creates a manager that transcribes through t
func NewManager(cfg *config.Config, store *Store, t stt.Transcriber) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:       store,
		transcriber: t,
		interval:    cfg.TranscribeInterval,
		maxFrame:    cfg.MaxFrameBytes,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(cfg.CORSAllowedOrigins),
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: observability.GetLogger().With().Str("component", "realtime").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Store returns the session registry
func (m *Manager) Store() *Store {
	return m.store
}

// HandleStream upgrades the request and runs the session until the stream ends
func (m *Manager) HandleStream(w http.ResponseWriter, r *http.Request) {
	if m.isStopping() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		m.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		observability.RecordError("upgrade", "realtime")
		return
	}

	if err := m.Serve(conn); err != nil {
		m.logger.Error().Err(err).Msg("Failed to start streaming session")
	}
}

// Serve runs one session over an established connection and returns after teardown
func (m *Manager) Serve(conn *websocket.Conn) error {
	if !m.reserveLoop() {
		conn.Close()
		return ErrShuttingDown
	}
	if m.maxFrame > 0 {
		conn.SetReadLimit(m.maxFrame)
	}

	sess, err := m.store.Create(m.ctx, conn)
	if err != nil {
		m.loops.Done()
		conn.Close()
		observability.RecordError("session_create", "realtime")
		return err
	}
	sess.metrics.RecordSessionStart()
	if m.ctx.Err() != nil {
		// Shutdown already took its snapshot of the store
		m.loops.Done()
		m.Teardown(sess.ID)
		return ErrShuttingDown
	}
	sess.logger.Info().Str("buffer", sess.buffer.Path()).Msg("Streaming session started")

	go m.transcribeLoop(sess)

	defer m.Teardown(sess.ID)
	defer func() {
		if r := recover(); r != nil {
			sess.logger.Error().Interface("panic", r).Msg("Stream ingestion panicked")
			sess.metrics.RecordError("panic", "ingest")
		}
	}()

	m.ingest(sess, conn)
	return nil
}

// reserveLoop counts a transcription loop up front, unless Shutdown has begun
func (m *Manager) reserveLoop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping {
		return false
	}
	m.loops.Add(1)
	return true
}

func (m *Manager) isStopping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

// ingest appends binary frames to the session buffer until the connection fails
func (m *Manager) ingest(sess *Session, conn *websocket.Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				sess.logger.Debug().Err(err).Msg("Client closed stream")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(payload) == 0 {
				continue
			}
			if _, err := sess.buffer.Write(payload); err != nil {
				if !errors.Is(err, audio.ErrBufferClosed) {
					sess.logger.Error().Err(err).Msg("Failed to append audio")
					sess.metrics.RecordError("buffer_write", "ingest")
				}
				return
			}
			sess.metrics.RecordAudioBytes(len(payload))

		case websocket.TextMessage:
			// Reserved for control messages
			sess.logger.Debug().Int("bytes", len(payload)).Msg("Ignoring text frame")
		}
	}
}

// transcribeLoop re-transcribes the whole buffer every interval until the session is cancelled
func (m *Manager) transcribeLoop(sess *Session) {
	defer m.loops.Done()

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-timer.C:
		}

		if _, ok := m.store.Get(sess.ID); !ok {
			return
		}

		if err := m.runCycle(sess); err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			if errors.Is(err, audio.ErrBufferClosed) {
				return
			}
			sess.logger.Warn().Err(err).Msg("Transcription cycle failed")
			sess.metrics.RecordError("transcription", "realtime")
		}

		// Next sleep starts only after this cycle has finished
		timer.Reset(m.interval)
	}
}

// runCycle transcribes the current buffer contents once and pushes non-empty text to the client
func (m *Manager) runCycle(sess *Session) error {
	if sess.buffer.Len() == 0 {
		sess.metrics.RecordCycle("skipped", 0)
		return nil
	}

	snap, err := sess.buffer.Snapshot()
	if err != nil {
		return err
	}
	defer func() {
		if err := snap.Close(); err != nil {
			sess.logger.Error().Err(err).Msg("Failed to release buffer snapshot")
		}
	}()

	size := snap.Size()
	start := time.Now()

	text, err := m.transcriber.Transcribe(sess.ctx, snap, filepath.Base(sess.buffer.Path()))
	latency := time.Since(start)
	if err != nil {
		sess.metrics.RecordCycle("error", latency)
		return err
	}
	sess.lastObservedSize.Store(size)

	text = strings.TrimSpace(text)
	if text == "" {
		sess.metrics.RecordCycle("empty", latency)
		return nil
	}
	sess.metrics.RecordCycle("success", latency)

	if err := sess.Send(Event{Type: EventTranscription, Text: text}); err != nil {
		sess.logger.Debug().Err(err).Msg("Dropped transcription for closed connection")
		return nil
	}

	sess.logger.Debug().
		Int64("bytes", size).
		Dur("latency", latency).
		Int("chars", len(text)).
		Msg("Transcription sent")
	return nil
}

// Teardown removes the session, cancels its loop, and deletes its buffer.
// It reports whether this call did the work; later calls for the same id do nothing.
func (m *Manager) Teardown(id string) bool {
	sess, ok := m.store.Remove(id)
	if !ok {
		return false
	}

	sess.cancel()

	size := sess.buffer.Len()
	if err := sess.buffer.Remove(); err != nil {
		sess.logger.Error().Err(err).Msg("Failed to delete session buffer")
		sess.metrics.RecordError("cleanup", "buffer")
	}
	if err := sess.conn.Close(); err != nil {
		sess.logger.Debug().Err(err).Msg("Connection already closed")
	}
	sess.metrics.RecordSessionEnd()

	sess.logger.Info().
		Int64("bytes", size).
		Dur("duration", time.Since(sess.startedAt)).
		Msg("Streaming session closed")
	return true
}

// Shutdown stops accepting streams, tears down every live session, and waits
// for their transcription loops to exit or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()
	m.cancel()

	for _, id := range m.store.IDs() {
		m.Teardown(id)
	}

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
