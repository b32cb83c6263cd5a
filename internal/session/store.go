package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/stream"
)

// Token identifies the current socket session. Every REST subscribe call
// carries it and every socket update is stamped with it.
type Token struct {
	Hash string
}

func (t Token) IsZero() bool {
	return t.Hash == ""
}

// Store holds the current session token and announces rotations.
type Store struct {
	mu      sync.RWMutex
	current Token
	changes *stream.Hub[Token]
	logger  *zap.Logger
}

// NewStore creates an empty Store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		changes: stream.NewHub[Token]("session", true, logger),
		logger:  logger,
	}
}

// Current returns the active token, if a session has been established.
func (s *Store) Current() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, !s.current.IsZero()
}

// Set installs hash as the active token. It reports whether the token
// changed; only changes are published.
func (s *Store) Set(hash string) bool {
	s.mu.Lock()
	if s.current.Hash == hash {
		s.mu.Unlock()
		return false
	}
	prev := s.current
	s.current = Token{Hash: hash}
	next := s.current
	s.mu.Unlock()

	s.logger.Info("session token changed",
		zap.String("previous", MaskToken(prev.Hash)),
		zap.String("current", MaskToken(hash)),
	)
	s.changes.Publish(next)
	return true
}

// Clear forgets the active token. Subscribers are not notified; the next
// Set publishes the replacement.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = Token{}
}

// Subscribe streams token changes, starting with the latest one.
func (s *Store) Subscribe() *stream.Subscriber[Token] {
	return s.changes.Subscribe()
}

func (s *Store) Close() {
	s.changes.Close()
}

// MaskToken returns a masked version of a token for logging.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
