package realtime

import (
	"sync"
	"time"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
)

// Session is the handler's view of one live connection. The identity is unset until a
// successful authenticate and never changes afterwards.
type Session struct {
	ID        domain.ConnectionID
	CreatedAt time.Time

	mu       sync.RWMutex
	identity *domain.UserIdentity
}

func (s *Session) Identity() (domain.UserIdentity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return domain.UserIdentity{}, false
	}
	return *s.identity, true
}

func (s *Session) setIdentity(who domain.UserIdentity) {
	s.mu.Lock()
	s.identity = &who
	s.mu.Unlock()
}
