package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/scribe-gateway/internal/audio"
	"github.com/lexiqai/scribe-gateway/internal/observability"
)

// Store is the registry of live sessions.
// The lock only guards the map; buffer I/O never happens under it.
type Store struct {
	dir          string
	ext          string
	writeTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty store whose buffers live under dir
func NewStore(dir, ext string, writeTimeout time.Duration) *Store {
	return &Store{
		dir:          dir,
		ext:          ext,
		writeTimeout: writeTimeout,
		sessions:     make(map[string]*Session),
	}
}

// Create registers a new session for conn with a fresh id and an empty buffer.
// The session's context is derived from parent.
func (s *Store) Create(parent context.Context, conn Conn) (*Session, error) {
	id := uuid.New().String()

	buffer, err := audio.NewFileBuffer(s.dir, "stream_"+id+s.ext)
	if err != nil {
		return nil, fmt.Errorf("allocate buffer for session %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(parent)
	sess := &Session{
		ID:           id,
		conn:         conn,
		buffer:       buffer,
		ctx:          ctx,
		cancel:       cancel,
		startedAt:    time.Now(),
		writeTimeout: s.writeTimeout,
		logger:       observability.WithSessionID(id),
		metrics:      observability.NewSessionMetrics(id),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return sess, nil
}

// Remove unregisters and returns the session. The second call for an id returns false.
func (s *Store) Remove(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return sess, ok
}

// Get looks up a live session
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

// Count returns the number of live sessions
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns the ids of all live sessions
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// List returns info for all live sessions, oldest first
func (s *Store) List() []Info {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}
