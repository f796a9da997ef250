package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/screener-back/pkg/models"
)

// Session is one connected websocket client
type Session struct {
	ID            string
	UserID        int64
	Authenticated bool
	Plan          models.Plan
	Group         string
	CreatedAt     time.Time

	// Send is the outbound queue; the hub closes the session when it
	// overflows.
	Send chan []byte

	// Done is closed exactly once when the session should shut down.
	Done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	currency string
	baseline map[string]uint64 // symbol -> last pushed table revision
	lastSeen time.Time
}

// Currency returns the session's current quote currency
func (s *Session) Currency() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currency
}

// SetCurrency switches the quote currency and clears the delta baseline
// in the same critical section, so no stale rows survive the switch.
func (s *Session) SetCurrency(currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currency == currency {
		return
	}
	s.currency = currency
	s.baseline = make(map[string]uint64)
}

// BaselineCopy returns the currency and a copy of the baseline as one
// consistent pair.
func (s *Session) BaselineCopy() (string, map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]uint64, len(s.baseline))
	for k, v := range s.baseline {
		cp[k] = v
	}
	return s.currency, cp
}

// AdvanceBaseline records pushed revisions, but only if the currency has
// not changed since the delta was computed.
func (s *Session) AdvanceBaseline(currency string, rows []*models.SymbolMetrics) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currency != currency {
		return false
	}
	for _, row := range rows {
		s.baseline[row.Symbol] = row.Revision
	}
	return true
}

// Close signals the session's pumps to shut down. Safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// Touch refreshes the liveness timestamp
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the liveness timestamp
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Registry tracks connected sessions
type Registry struct {
	logger *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:   logger.WithField("component", "session-registry"),
		sessions: make(map[string]*Session),
	}
}

// Register creates and tracks a new session
func (r *Registry) Register(userID int64, authenticated bool, plan models.Plan, sendBuffer int) *Session {
	now := time.Now()
	s := &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		Authenticated: authenticated,
		Plan:          plan,
		Group:         plan.Group(),
		CreatedAt:     now,
		Send:          make(chan []byte, sendBuffer),
		Done:          make(chan struct{}),
		currency:      "USDT",
		baseline:      make(map[string]uint64),
		lastSeen:      now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session_id": s.ID,
		"plan":       s.Plan,
		"group":      s.Group,
		"sessions":   count,
	}).Info("Session registered")

	return s
}

// Unregister removes a session. Safe to call twice.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.logger.WithFields(logrus.Fields{
			"session_id": s.ID,
			"sessions":   count,
		}).Info("Session unregistered")
	}
}

// Get returns one session
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all sessions
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ListForUser returns sessions belonging to one user
func (r *Registry) ListForUser(userID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Authenticated && s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of tracked sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stale returns sessions idle longer than maxIdle
func (r *Registry) Stale(maxIdle time.Duration) []*Session {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
