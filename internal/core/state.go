package core

import (
	"sync"
)

// SessionState is the canonical per-session mutable state that other
// components (cache invalidation, perception degradation, executor
// serialisation) read and update: the single place a session's URL,
// last analysis, and recent-error count live, so that no two components
// need back-references to each other.
type SessionState struct {
	mu sync.RWMutex

	sessionID       string
	url             string
	lastAnalysis    *PageAnalysis
	consecutiveErrs int
	degraded        bool
	records         []ToolExecutionRecord
	maxRecords      int
}

func newSessionState(sessionID string, maxRecords int) *SessionState {
	if maxRecords <= 0 {
		maxRecords = 256
	}
	return &SessionState{sessionID: sessionID, maxRecords: maxRecords}
}

// URL returns the last-known URL for this session.
func (s *SessionState) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// SetURL updates the session's current URL, e.g. on NavigationCompleted.
func (s *SessionState) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// LastAnalysis returns the most recently recorded perception result, if any.
func (s *SessionState) LastAnalysis() *PageAnalysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAnalysis
}

// RecordAnalysis stores a completed analysis as the session's "last
// analysis" pointer. This must happen synchronously with emitting
// AnalysisCompleted; callers publish the event immediately
// after calling this.
func (s *SessionState) RecordAnalysis(pa PageAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := pa
	s.lastAnalysis = &cp
	if pa.Err != nil {
		s.consecutiveErrs++
		if s.consecutiveErrs >= 5 {
			s.degraded = true
		}
	} else {
		s.consecutiveErrs = 0
		s.degraded = false
	}
}

// Degraded reports whether perception has failed 5 or more consecutive
// times for this session.
func (s *SessionState) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// AppendRecord adds a ToolExecutionRecord to the session's bounded ring
// buffer, evicting the oldest entry once maxRecords is exceeded.
func (s *SessionState) AppendRecord(rec ToolExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.maxRecords {
		s.records = s.records[len(s.records)-s.maxRecords:]
	}
}

// Records returns a snapshot of the session's execution history.
func (s *SessionState) Records() []ToolExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolExecutionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// EstimatedComplexity derives the adaptive-mode-selection complexity
// signal from the most recent analysis's element count, normalised to
// [0,1], or 0.5 when no analysis exists yet.
func (s *SessionState) EstimatedComplexity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastAnalysis == nil {
		return 0.5
	}
	const saturation = 200.0 // element count considered "maximally complex"
	c := float64(s.lastAnalysis.ElementCount) / saturation
	if c > 1 {
		c = 1
	}
	return c
}

// StateStore holds one SessionState per live session. It is deliberately
// the only component that owns a map keyed by session id outside of the
// pool itself; the cache and perception engine never hold this map
// directly, avoiding a cyclic state<->cache<->perception reference — they
// reach state only through the EventBus or through values their caller
// passes in per call.
type StateStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

func NewStateStore() *StateStore {
	return &StateStore{sessions: make(map[string]*SessionState)}
}

// Create allocates state for a new session. Called by the Intent
// Coordinator the first time it handles a session it has no state for.
func (s *StateStore) Create(sessionID string) *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newSessionState(sessionID, 256)
	s.sessions[sessionID] = st
	return st
}

// Get returns the state for a session, or nil if unknown.
func (s *StateStore) Get(sessionID string) *SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// Remove discards a session's state.
func (s *StateStore) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports the number of tracked sessions, for diagnostics.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
