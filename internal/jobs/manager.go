package jobs

import (
	"errors"
	"fmt"
	"sync"

	"lcars-os/internal/domain"
)

// ErrSessionActive is returned when starting a second active dictation session.
var ErrSessionActive = errors.New("dictation session already active")

// ErrNoActiveSession is returned when cancel is requested for idle state.
var ErrNoActiveSession = errors.New("no active dictation session")

// ErrUnchanged is returned when the session already has the requested status.
var ErrUnchanged = errors.New("dictation session status unchanged")

// Manager tracks the single allowed active dictation session and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.DictationSession
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.DictationSession{
			Status: domain.DictationStatusIdle,
		},
	}
}

// Start registers a new session and moves it to listening state.
func (m *Manager) Start(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isActive(m.current.Status) {
		return ErrSessionActive
	}

	m.current = domain.DictationSession{
		ID:     sessionID,
		Status: domain.DictationStatusListening,
	}
	return nil
}

// Transition validates and applies state transitions for the current session.
func (m *Manager) Transition(status domain.DictationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(status)
}

// TransitionFor applies status only while sessionID is still current, so a
// late exit from a replaced helper cannot touch the new session.
func (m *Manager) TransitionFor(sessionID string, status domain.DictationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID != sessionID {
		return fmt.Errorf("session %s is not current", sessionID)
	}
	return m.transitionLocked(status)
}

func (m *Manager) transitionLocked(status domain.DictationStatus) error {
	if m.current.ID == "" && status != domain.DictationStatusIdle {
		return fmt.Errorf("cannot transition without an active session")
	}
	if status == m.current.Status {
		return ErrUnchanged
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Current returns a snapshot of the current session.
func (m *Manager) Current() domain.DictationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsActive reports whether a helper is listening or finishing.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isActive(m.current.Status)
}

// Cancel moves an active session to cancelled state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isActive(m.current.Status) {
		return ErrNoActiveSession
	}
	m.current.Status = domain.DictationStatusCancelled
	return nil
}

func isActive(status domain.DictationStatus) bool {
	switch status {
	case domain.DictationStatusListening, domain.DictationStatusStopping:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed session state machine edges.
func isValidTransition(from, to domain.DictationStatus) bool {
	switch from {
	case domain.DictationStatusIdle:
		return to == domain.DictationStatusListening
	case domain.DictationStatusListening:
		return to == domain.DictationStatusStopping || isTerminal(to)
	case domain.DictationStatusStopping:
		return isTerminal(to)
	case domain.DictationStatusDone, domain.DictationStatusFailed, domain.DictationStatusCancelled:
		return to == domain.DictationStatusListening || to == domain.DictationStatusIdle
	default:
		return false
	}
}

func isTerminal(status domain.DictationStatus) bool {
	return status == domain.DictationStatusDone ||
		status == domain.DictationStatusFailed ||
		status == domain.DictationStatusCancelled
}
