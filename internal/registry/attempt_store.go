package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// attemptExpiry bounds how long an abandoned authorization attempt keeps its
// correlation entry around.
const attemptExpiry = 10 * time.Minute

type attempt struct {
	ProviderID   string
	CodeVerifier string
	CreatedAt    time.Time
}

// AttemptStore correlates an in-flight authorization attempt (its state
// token) with the PKCE code verifier generated for it. Entries are single
// use: consumed during the matching token exchange or torn down when the
// user abandons the attempt.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]attempt

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewAttemptStore() *AttemptStore {
	s := &AttemptStore{
		attempts:    make(map[string]attempt),
		stopCleanup: make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Begin registers a new attempt and returns its state token. The verifier
// may be empty for non-PKCE attempts.
func (s *AttemptStore) Begin(providerID, codeVerifier string) string {
	state := uuid.NewString()

	s.mu.Lock()
	s.attempts[state] = attempt{
		ProviderID:   providerID,
		CodeVerifier: codeVerifier,
		CreatedAt:    time.Now(),
	}
	s.mu.Unlock()

	return state
}

// ConsumeVerifier atomically retrieves and deletes the verifier stored for a
// state token, guaranteeing exactly-once use.
func (s *AttemptStore) ConsumeVerifier(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.attempts[state]
	if !exists {
		return "", false
	}

	delete(s.attempts, state)

	if time.Since(entry.CreatedAt) > attemptExpiry {
		return "", false
	}

	return entry.CodeVerifier, true
}

// Cancel tears down the correlation entry for an abandoned attempt.
func (s *AttemptStore) Cancel(state string) {
	s.mu.Lock()
	delete(s.attempts, state)
	s.mu.Unlock()
}

// Len reports the number of pending attempts.
func (s *AttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// Stop stops the background cleanup goroutine.
func (s *AttemptStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *AttemptStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *AttemptStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for state, entry := range s.attempts {
		if time.Since(entry.CreatedAt) > attemptExpiry {
			delete(s.attempts, state)
			count++
		}
	}

	if count > 0 {
		log.Debug().Int("count", count).Msg("Cleaned up expired authorization attempts")
	}
}
