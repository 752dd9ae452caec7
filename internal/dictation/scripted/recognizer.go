// Package scripted provides a dictation.Recognizer that replays a transcript
// script instead of listening to a microphone.
//
// Script lines, blank lines and '#' comments ignored:
//
//	deny: speech|microphone   refuse a permission
//	unavailable               fail Prepare
//	partial: <text>           emit an interim result
//	final: <text>             emit a final result
//	error: <text>             emit a stream error
//	sleep: <duration>         wait, e.g. 500ms
package scripted

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"lcars-os/internal/dictation"
)

// ScriptEnv names the script file used by the helper's scripted recognizer.
const ScriptEnv = "LCARS_DICTATION_SCRIPT"

// StepKind is one script instruction.
type StepKind string

const (
	StepPartial StepKind = "partial"
	StepFinal   StepKind = "final"
	StepError   StepKind = "error"
	StepSleep   StepKind = "sleep"
)

// Step is a parsed script line.
type Step struct {
	Kind  StepKind
	Text  string
	Delay time.Duration
}

// Script is a parsed recognizer script.
type Script struct {
	Denied      map[dictation.Permission]bool
	Unavailable bool
	Steps       []Step
}

// Recognizer replays a Script.
type Recognizer struct {
	script Script

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a recognizer for script.
func New(script Script) *Recognizer {
	return &Recognizer{
		script: script,
		stopCh: make(chan struct{}),
	}
}

// Load reads a script file.
func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return Parse(string(data))
}

// FromEnv loads the script named by ScriptEnv; an unset variable yields an
// empty script that never hears anything.
func FromEnv() (Script, error) {
	path := strings.TrimSpace(os.Getenv(ScriptEnv))
	if path == "" {
		return Script{}, nil
	}
	return Load(path)
}

// Parse parses script text.
func Parse(raw string) (Script, error) {
	script := Script{Denied: map[dictation.Permission]bool{}}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "unavailable" {
			script.Unavailable = true
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Script{}, fmt.Errorf("line %d: expected <kind>: <value>", lineNo)
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "deny":
			switch value {
			case "speech":
				script.Denied[dictation.PermissionSpeech] = true
			case "microphone":
				script.Denied[dictation.PermissionMicrophone] = true
			default:
				return Script{}, fmt.Errorf("line %d: unknown permission %q", lineNo, value)
			}
		case string(StepPartial), string(StepFinal), string(StepError):
			script.Steps = append(script.Steps, Step{Kind: StepKind(strings.TrimSpace(key)), Text: value})
		case string(StepSleep):
			d, err := time.ParseDuration(value)
			if err != nil {
				return Script{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			script.Steps = append(script.Steps, Step{Kind: StepSleep, Delay: d})
		default:
			return Script{}, fmt.Errorf("line %d: unknown kind %q", lineNo, key)
		}
	}
	return script, scanner.Err()
}

// RequestPermission grants everything the script does not deny.
func (r *Recognizer) RequestPermission(ctx context.Context, p dictation.Permission) (bool, error) {
	return !r.script.Denied[p], nil
}

// Prepare fails when the script marks the recognizer unavailable.
func (r *Recognizer) Prepare(ctx context.Context, locale string) error {
	if r.script.Unavailable {
		return fmt.Errorf("locale %s: %w", locale, dictation.ErrUnavailable)
	}
	return nil
}

// StartCapture replays the steps in a goroutine.
func (r *Recognizer) StartCapture(ctx context.Context, cb dictation.Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("capture already started")
	}
	r.done = make(chan struct{})
	go r.replay(ctx, cb)
	return nil
}

// Stop ends the replay. If an interim result is pending it is delivered as a
// trailing final, the way an engine finalizes on end of audio.
func (r *Recognizer) Stop() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	return nil
}

// Done is closed once the replay goroutine exits.
func (r *Recognizer) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Recognizer) replay(ctx context.Context, cb dictation.Callback) {
	defer close(r.done)

	pending := ""
	for _, step := range r.script.Steps {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			if pending != "" {
				cb.OnFinal(pending)
			}
			return
		default:
		}

		switch step.Kind {
		case StepPartial:
			pending = step.Text
			cb.OnPartial(step.Text)
		case StepFinal:
			pending = ""
			cb.OnFinal(step.Text)
		case StepError:
			cb.OnError(errors.New(step.Text))
		case StepSleep:
			timer := time.NewTimer(step.Delay)
			select {
			case <-timer.C:
			case <-r.stopCh:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}

	select {
	case <-r.stopCh:
		if pending != "" {
			cb.OnFinal(pending)
		}
	case <-ctx.Done():
	}
}
