package domain

// DictationStatus tracks the host-side view of one dictation helper run.
type DictationStatus string

const (
	DictationStatusIdle      DictationStatus = "idle"
	DictationStatusListening DictationStatus = "listening"
	DictationStatusStopping  DictationStatus = "stopping"
	DictationStatusDone      DictationStatus = "done"
	DictationStatusFailed    DictationStatus = "failed"
	DictationStatusCancelled DictationStatus = "cancelled"
)

// DictationSession stores the active session identity and lifecycle status.
type DictationSession struct {
	ID     string          `json:"id"`
	Status DictationStatus `json:"status"`
}

// DictationUpdateKind classifies a change observed on a session's result files.
type DictationUpdateKind string

const (
	DictationUpdatePartial DictationUpdateKind = "partial"
	DictationUpdateFinal   DictationUpdateKind = "final"
	DictationUpdateError   DictationUpdateKind = "error"
	DictationUpdateStopped DictationUpdateKind = "stopped"
)

// DictationUpdate is pushed to the UI when a session's result files change.
type DictationUpdate struct {
	SessionID string              `json:"sessionId"`
	Kind      DictationUpdateKind `json:"kind"`
	Text      string              `json:"text,omitempty"`
}
