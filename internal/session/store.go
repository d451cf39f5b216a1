package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/your-org/idverify/internal/observability"
)

// ErrNoEmbedding is returned when Create is called without a bound
// embedding. Sessions only exist for documents with a detected face.
var ErrNoEmbedding = errors.New("session requires a document embedding")

type entry struct {
	embedding []float32
	createdAt time.Time
}

// MemoryStore binds single-use verification sessions to document
// embeddings. All operations are atomic with respect to each other, so
// concurrent claims on the same id resolve at most once.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]entry),
		ttl:      ttl,
	}
}

// Create stores the embedding under a fresh random id and returns it.
func (s *MemoryStore) Create(embedding []float32) (string, error) {
	if len(embedding) == 0 {
		return "", ErrNoEmbedding
	}

	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sessions[id] = entry{embedding: embedding, createdAt: time.Now()}
	s.mu.Unlock()

	observability.SessionsCreated.Inc()
	observability.ActiveSessions.Inc()
	return id, nil
}

// Get returns the bound embedding without consuming the session.
// Unknown, expired, and already-consumed ids are indistinguishable.
func (s *MemoryStore) Get(id string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || s.expired(e) {
		return nil, false
	}
	return e.embedding, true
}

// Claim atomically removes the session and returns its embedding.
// The verify path claims up front: the session is spent no matter how
// the attempt ends, and a concurrent claim on the same id loses.
func (s *MemoryStore) Claim(id string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	delete(s.sessions, id)
	observability.ActiveSessions.Dec()
	if s.expired(e) {
		return nil, false
	}
	return e.embedding, true
}

// Consume removes the session. Consuming an absent id is a no-op.
func (s *MemoryStore) Consume(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		observability.ActiveSessions.Dec()
	}
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps expired sessions until ctx is cancelled. Call this in a
// goroutine; abandoned flows would otherwise accumulate forever.
func (s *MemoryStore) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.sessions {
		if s.expired(e) {
			delete(s.sessions, id)
			observability.ActiveSessions.Dec()
			observability.SessionsExpired.Inc()
		}
	}
}

func (s *MemoryStore) expired(e entry) bool {
	return s.ttl > 0 && time.Since(e.createdAt) > s.ttl
}

// newSessionID returns a 128-bit random token, hex encoded.
func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
