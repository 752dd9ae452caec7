package dictation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRecognizer scripts permission answers and recognition callbacks.
type fakeRecognizer struct {
	speechDenied bool
	micDenied    bool
	permErr      error
	prepareErr   error
	startErr     error

	// script runs in its own goroutine once capture starts.
	script func(ctx context.Context, cb Callback)
	// onStop runs synchronously from Stop, e.g. to emit a trailing final.
	onStop func(cb Callback)

	mu      sync.Mutex
	cb      Callback
	locale  string
	stopped int
	asked   []Permission
}

func (f *fakeRecognizer) RequestPermission(ctx context.Context, p Permission) (bool, error) {
	f.mu.Lock()
	f.asked = append(f.asked, p)
	f.mu.Unlock()
	if f.permErr != nil {
		return false, f.permErr
	}
	switch p {
	case PermissionSpeech:
		return !f.speechDenied, nil
	default:
		return !f.micDenied, nil
	}
}

func (f *fakeRecognizer) Prepare(ctx context.Context, locale string) error {
	f.mu.Lock()
	f.locale = locale
	f.mu.Unlock()
	return f.prepareErr
}

func (f *fakeRecognizer) StartCapture(ctx context.Context, cb Callback) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	if f.script != nil {
		go f.script(ctx, cb)
	}
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	f.stopped++
	cb := f.cb
	f.mu.Unlock()
	if f.onStop != nil && cb != nil {
		f.onStop(cb)
	}
	return nil
}

func (f *fakeRecognizer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type testTiming struct {
	duration time.Duration
	poll     time.Duration
	grace    time.Duration
}

var fastTiming = testTiming{duration: 80 * time.Millisecond, poll: 10 * time.Millisecond, grace: 30 * time.Millisecond}

func newTestSession(t *testing.T, rec Recognizer, timing testTiming) *Session {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.txt")
	return NewSession(Options{
		Config:       Config{Duration: timing.duration, OutputPath: out},
		Recognizer:   rec,
		PollInterval: timing.poll,
		GracePeriod:  timing.grace,
		Logger:       zerolog.Nop(),
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func assertMissing(t *testing.T, paths ...string) {
	t.Helper()
	for _, path := range paths {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s exists, want missing (err=%v)", filepath.Base(path), err)
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestSessionTimeoutWithoutSpeechWritesEmptyOutput covers the silent-room run.
func TestSessionTimeoutWithoutSpeechWritesEmptyOutput(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec, fastTiming)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	files := s.Files()
	if got := readFile(t, files.Output); got != "" {
		t.Fatalf("output = %q, want empty", got)
	}
	assertMissing(t, files.Partial, files.Stop, files.Err)
	if s.State() != StateDone {
		t.Fatalf("state = %s, want DONE", s.State())
	}
	if s.StopReason() != StopReasonTimeout {
		t.Fatalf("stop reason = %s, want timeout", s.StopReason())
	}
	if rec.stopCount() != 1 {
		t.Fatalf("recognizer stopped %d times, want 1", rec.stopCount())
	}
	if rec.locale != DefaultLocale {
		t.Fatalf("locale = %q, want %q", rec.locale, DefaultLocale)
	}
}

// TestSessionWritesListeningSentinel checks the partial file while capturing.
func TestSessionWritesListeningSentinel(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec, testTiming{duration: time.Hour, poll: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, time.Second, func() bool { return s.State() == StateCapturing })
	if got := readFile(t, s.Files().Partial); got != ListeningSentinel {
		t.Fatalf("partial = %q, want %q", got, ListeningSentinel)
	}

	if err := os.WriteFile(s.Files().Stop, []byte("stop"), 0o644); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

// TestSessionStopSignalEndsWithinPollAndGrace checks stop-file latency bounds.
func TestSessionStopSignalEndsWithinPollAndGrace(t *testing.T) {
	timing := testTiming{duration: time.Hour, poll: 20 * time.Millisecond, grace: 40 * time.Millisecond}
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec, timing)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitFor(t, time.Second, func() bool { return s.State() == StateCapturing })

	signalled := time.Now()
	if err := os.WriteFile(s.Files().Stop, []byte("stop"), 0o644); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after stop signal")
	}

	// One poll interval plus the grace period, with scheduling slack.
	if elapsed := time.Since(signalled); elapsed > timing.poll+timing.grace+200*time.Millisecond {
		t.Fatalf("stop took %s", elapsed)
	}
	if s.StopReason() != StopReasonSignal {
		t.Fatalf("stop reason = %s, want stop_file", s.StopReason())
	}
	assertMissing(t, s.Files().Partial, s.Files().Stop)
	if got := readFile(t, s.Files().Output); got != "" {
		t.Fatalf("output = %q, want empty", got)
	}
}

// TestSessionPromotesPartialOnStop checks interim text becomes the transcript.
func TestSessionPromotesPartialOnStop(t *testing.T) {
	rec := &fakeRecognizer{script: func(ctx context.Context, cb Callback) {
		cb.OnPartial("captain's log")
		cb.OnPartial("captain's log stardate")
	}}
	s := newTestSession(t, rec, fastTiming)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := readFile(t, s.Files().Output); got != "captain's log stardate" {
		t.Fatalf("output = %q", got)
	}
	assertMissing(t, s.Files().Partial, s.Files().Err)
}

// TestSessionTrailingFinalDuringGraceWins checks the grace period is honored.
func TestSessionTrailingFinalDuringGraceWins(t *testing.T) {
	rec := &fakeRecognizer{
		script: func(ctx context.Context, cb Callback) { cb.OnPartial("engage") },
		onStop: func(cb Callback) {
			go func() {
				time.Sleep(5 * time.Millisecond)
				cb.OnFinal("Engage.")
			}()
		},
	}
	s := newTestSession(t, rec, fastTiming)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := readFile(t, s.Files().Output); got != "Engage." {
		t.Fatalf("output = %q, want final text", got)
	}
	assertMissing(t, s.Files().Partial)
}

// TestSessionKeepsListeningAfterFinal preserves the multi-utterance behavior:
// a final result does not end the session, later results extend it.
func TestSessionKeepsListeningAfterFinal(t *testing.T) {
	finalWritten := make(chan struct{})
	resume := make(chan struct{})
	rec := &fakeRecognizer{script: func(ctx context.Context, cb Callback) {
		cb.OnFinal("Tea.")
		close(finalWritten)
		select {
		case <-resume:
		case <-ctx.Done():
			return
		}
		cb.OnPartial("Tea. Earl Grey")
		cb.OnFinal("Tea. Earl Grey. Hot.")
	}}
	s := newTestSession(t, rec, testTiming{duration: time.Hour, poll: 10 * time.Millisecond, grace: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	<-finalWritten
	time.Sleep(30 * time.Millisecond)
	if s.State() != StateCapturing {
		t.Fatalf("state after final = %s, want CAPTURING", s.State())
	}
	if got := readFile(t, s.Files().Output); got != "Tea." {
		t.Fatalf("output = %q", got)
	}

	close(resume)
	waitFor(t, time.Second, func() bool {
		data, _ := os.ReadFile(s.Files().Output)
		return string(data) == "Tea. Earl Grey. Hot."
	})
	if err := os.WriteFile(s.Files().Stop, nil, 0o644); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := readFile(t, s.Files().Output); got != "Tea. Earl Grey. Hot." {
		t.Fatalf("output = %q", got)
	}
}

// TestSessionSuppressesLateStreamError checks a transcript is never clobbered.
func TestSessionSuppressesLateStreamError(t *testing.T) {
	rec := &fakeRecognizer{script: func(ctx context.Context, cb Callback) {
		cb.OnFinal("Make it so.")
		cb.OnError(errors.New("stream reset"))
	}}
	s := newTestSession(t, rec, fastTiming)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := readFile(t, s.Files().Output); got != "Make it so." {
		t.Fatalf("output = %q", got)
	}
	assertMissing(t, s.Files().Err)
	if s.StopReason() != StopReasonTimeout {
		t.Fatalf("stop reason = %s, want timeout", s.StopReason())
	}
}

// TestSessionStreamErrorWithoutTranscriptFails checks the error file is terminal.
func TestSessionStreamErrorWithoutTranscriptFails(t *testing.T) {
	rec := &fakeRecognizer{script: func(ctx context.Context, cb Callback) {
		cb.OnPartial("red al")
		cb.OnError(errors.New("audio route changed"))
	}}
	s := newTestSession(t, rec, testTiming{duration: time.Hour, poll: 10 * time.Millisecond, grace: 10 * time.Millisecond})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := readFile(t, s.Files().Err); got != "recognition failed: audio route changed" {
		t.Fatalf("err file = %q", got)
	}
	assertMissing(t, s.Files().Output, s.Files().Partial, s.Files().Stop)
	if s.StopReason() != StopReasonError {
		t.Fatalf("stop reason = %s, want stream_error", s.StopReason())
	}
}

// TestSessionSpeechDeniedFails checks the authorization failure path.
func TestSessionSpeechDeniedFails(t *testing.T) {
	rec := &fakeRecognizer{speechDenied: true}
	s := newTestSession(t, rec, fastTiming)

	err := s.Run(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.State != StateAuth {
		t.Fatalf("Run() error = %v, want AUTH setup error", err)
	}
	if got := readFile(t, s.Files().Err); got != MsgNotAuthorized {
		t.Fatalf("err file = %q, want %q", got, MsgNotAuthorized)
	}
	assertMissing(t, s.Files().Output, s.Files().Partial)
	if s.State() != StateFail {
		t.Fatalf("state = %s, want FAIL", s.State())
	}
	if len(rec.asked) != 1 {
		t.Fatalf("asked permissions = %v, want speech only", rec.asked)
	}
}

// TestSessionSetupFailures checks each remaining FAIL cause and message.
func TestSessionSetupFailures(t *testing.T) {
	cases := []struct {
		name    string
		rec     *fakeRecognizer
		state   State
		message string
	}{
		{"microphone denied", &fakeRecognizer{micDenied: true}, StateMicAuth, MsgMicrophoneDenied},
		{"permission error", &fakeRecognizer{permErr: errors.New("tcc")}, StateAuth, MsgNotAuthorized},
		{"recognizer unavailable", &fakeRecognizer{prepareErr: ErrUnavailable}, StateEngineInit, MsgRecognizerUnavailable},
		{"engine start", &fakeRecognizer{startErr: errors.New("no input device")}, StateEngineInit, "audio engine failed: no input device"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSession(t, tc.rec, fastTiming)
			err := s.Run(context.Background())

			var setupErr *SetupError
			if !errors.As(err, &setupErr) {
				t.Fatalf("Run() error = %v, want *SetupError", err)
			}
			if setupErr.State != tc.state || setupErr.Message != tc.message {
				t.Fatalf("setup error = %+v", setupErr)
			}
			if got := readFile(t, s.Files().Err); got != tc.message {
				t.Fatalf("err file = %q, want %q", got, tc.message)
			}
			assertMissing(t, s.Files().Output)
		})
	}
}

// TestSessionRemovesStaleFilesAtInit checks leftovers from a previous run.
func TestSessionRemovesStaleFilesAtInit(t *testing.T) {
	rec := &fakeRecognizer{speechDenied: true}
	s := newTestSession(t, rec, fastTiming)
	for _, path := range s.Files().All() {
		if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	_ = s.Run(context.Background())

	assertMissing(t, s.Files().Output, s.Files().Partial, s.Files().Stop)
	if got := readFile(t, s.Files().Err); got != MsgNotAuthorized {
		t.Fatalf("err file = %q", got)
	}
}

// TestSessionCancelBehavesLikeStop checks context cancellation still cleans up.
func TestSessionCancelBehavesLikeStop(t *testing.T) {
	rec := &fakeRecognizer{script: func(ctx context.Context, cb Callback) { cb.OnPartial("shields up") }}
	s := newTestSession(t, rec, testTiming{duration: time.Hour, poll: 10 * time.Millisecond, grace: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitFor(t, time.Second, func() bool { return s.State() == StateCapturing })
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.StopReason() != StopReasonCancelled {
		t.Fatalf("stop reason = %s", s.StopReason())
	}
	if got := readFile(t, s.Files().Output); got != "shields up" {
		t.Fatalf("output = %q", got)
	}
}

// TestSessionConcurrentCallbacksLeaveOneArtifact hammers callbacks against
// the poll loop and checks the exclusivity invariant at exit.
func TestSessionConcurrentCallbacksLeaveOneArtifact(t *testing.T) {
	rec := &fakeRecognizer{script: func(ctx context.Context, cb Callback) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					select {
					case <-ctx.Done():
						return
					default:
					}
					switch (i + j) % 3 {
					case 0:
						cb.OnPartial(strings.Repeat("a", j))
					case 1:
						cb.OnFinal("final")
					default:
						cb.OnError(errors.New("flaky"))
					}
				}
			}(i)
		}
		wg.Wait()
	}}
	s := newTestSession(t, rec, fastTiming)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	_, outErr := os.Stat(s.Files().Output)
	_, errErr := os.Stat(s.Files().Err)
	outExists, errExists := outErr == nil, errErr == nil
	if outExists == errExists {
		t.Fatalf("output exists=%v err exists=%v, want exactly one", outExists, errExists)
	}
	assertMissing(t, s.Files().Partial, s.Files().Stop)
}

// TestStateString covers names used in logs.
func TestStateString(t *testing.T) {
	if StateMicAuth.String() != "MIC_AUTH" || State(42).String() != "UNKNOWN(42)" {
		t.Fatal("unexpected state names")
	}
	if !StateFail.IsTerminal() || StateStopping.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}
