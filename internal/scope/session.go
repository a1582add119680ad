package scope

import (
	"slices"
	"sync"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region session-store
type sessionKey struct {
	SessionID string
	ProjectID string
	Lane      string
}

type session struct {
	layer  ruleset.Layer
	tokens map[string]uint64
}

// SessionStore holds run-scope overrides in memory. Nothing here is ever
// persisted or promoted to project defaults.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[sessionKey]*session)}
}

// Apply writes one run-scope edit. Each field keeps its own token: fields that
// already settled under a token at least as new are left alone, and the write
// is discarded only when that holds for every field it touches.
func (s *SessionStore) Apply(req Request, token uint64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sessionKey{SessionID: req.SessionID, ProjectID: req.ProjectID, Lane: req.Lane}
	sess, ok := s.sessions[k]
	if !ok {
		sess = &session{layer: ruleset.Layer{}, tokens: make(map[string]uint64)}
		s.sessions[k] = sess
	}

	fields := req.fields()
	var fresh []string
	for _, path := range fields {
		if last, ok := sess.tokens[path]; ok && last >= token {
			continue
		}
		sess.tokens[path] = token
		fresh = append(fresh, path)
	}
	if len(fields) > 0 && len(fresh) == 0 {
		return StatusDiscarded
	}

	next := sess.layer.Clone()
	for _, path := range req.Reset {
		if slices.Contains(fresh, path) {
			delete(next, path)
		}
	}
	for path, v := range req.Set.Clone() {
		if slices.Contains(fresh, path) {
			next[path] = v
		}
	}
	sess.layer = next
	return StatusCommitted
}

// Layer returns a copy of the run-scope overrides for a session, or nil.
func (s *SessionStore) Layer(sessionID, projectID, lane string) ruleset.Layer {
	if sessionID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{SessionID: sessionID, ProjectID: projectID, Lane: lane}]
	if !ok {
		return nil
	}
	return sess.layer.Clone()
}

// End drops every run-scope override of a session and reports how many
// (project, lane) layers were discarded.
func (s *SessionStore) End(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.sessions {
		if k.SessionID == sessionID {
			delete(s.sessions, k)
			n++
		}
	}
	return n
}

// #endregion session-store
