package workers

import "sync"

// UserSession tracks the currently logged-in user session on the service
// side, so the close worker can correlate a session-end notification with
// the username/session-type/session-id a prior login established.
type UserSession struct {
	mu          sync.Mutex
	username    string
	sessionType string
	sessionID   string
	active      bool
}

// Set records a successful login.
func (s *UserSession) Set(username, sessionType, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.sessionType = sessionType
	s.sessionID = sessionID
	s.active = true
}

// Clear drops the current session, e.g. after an explicit logout.
func (s *UserSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.sessionType, s.sessionID, s.active = "", "", "", false
}

// Snapshot returns the current session fields and whether one is active.
func (s *UserSession) Snapshot() (username, sessionType, sessionID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.sessionType, s.sessionID, s.active
}
