package dictation

import (
	"context"
	"errors"
	"fmt"
)

// Permission is a capability the recognizer must be granted before capture.
type Permission int

const (
	PermissionSpeech Permission = iota
	PermissionMicrophone
)

// String returns the permission name.
func (p Permission) String() string {
	switch p {
	case PermissionSpeech:
		return "speech"
	case PermissionMicrophone:
		return "microphone"
	default:
		return fmt.Sprintf("permission(%d)", int(p))
	}
}

// ErrUnavailable is returned by Prepare when no recognizer exists for the locale.
var ErrUnavailable = errors.New("recognizer unavailable")

// Callback receives recognition results. Implementations of Recognizer may
// invoke it from any goroutine, concurrently with the session's poll loop.
type Callback interface {
	// OnPartial delivers an interim transcript that may still be revised.
	OnPartial(text string)
	// OnFinal delivers a transcript the engine marked complete.
	OnFinal(text string)
	// OnError reports a recognition stream failure.
	OnError(err error)
}

// Recognizer is the platform speech capability used by a Session.
type Recognizer interface {
	// RequestPermission reports whether p is granted.
	RequestPermission(ctx context.Context, p Permission) (bool, error)
	// Prepare constructs the recognizer for locale, returning ErrUnavailable
	// when none can serve it.
	Prepare(ctx context.Context, locale string) error
	// StartCapture starts audio capture and attaches recognition. Results
	// flow to cb until ctx is cancelled.
	StartCapture(ctx context.Context, cb Callback) error
	// Stop ends audio capture and the recognition input feed. Trailing
	// results may still be delivered afterwards.
	Stop() error
}
