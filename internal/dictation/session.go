package dictation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is how often the stop file and elapsed time are checked.
	DefaultPollInterval = time.Second

	// DefaultGracePeriod is how long a trailing final result is awaited after
	// capture stops.
	DefaultGracePeriod = 3 * time.Second

	// DefaultLocale is the recognition locale.
	DefaultLocale = "en-US"
)

// State is one step of the helper lifecycle.
type State int

const (
	StateInit State = iota
	StateAuth
	StateMicAuth
	StateEngineInit
	StateCapturing
	StateStopping
	StateDone
	StateFail
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAuth:
		return "AUTH"
	case StateMicAuth:
		return "MIC_AUTH"
	case StateEngineInit:
		return "ENGINE_INIT"
	case StateCapturing:
		return "CAPTURING"
	case StateStopping:
		return "STOPPING"
	case StateDone:
		return "DONE"
	case StateFail:
		return "FAIL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// IsTerminal reports whether the state ends the run.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFail
}

// Setup failure messages written to the error file.
const (
	MsgNotAuthorized         = "not authorized"
	MsgMicrophoneDenied      = "microphone denied"
	MsgRecognizerUnavailable = "recognizer unavailable"
)

// SetupError is a fatal failure before or while entering CAPTURING.
type SetupError struct {
	State   State
	Message string
	Err     error
}

// Error formats setup failures for logs.
func (e *SetupError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.State, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.State, e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *SetupError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StopReason records what moved the session out of CAPTURING.
type StopReason string

const (
	StopReasonSignal    StopReason = "stop_file"
	StopReasonTimeout   StopReason = "timeout"
	StopReasonError     StopReason = "stream_error"
	StopReasonCancelled StopReason = "cancelled"
)

// Options configures a Session.
type Options struct {
	Config       Config
	Recognizer   Recognizer
	Locale       string
	PollInterval time.Duration
	GracePeriod  time.Duration
	Logger       zerolog.Logger
	// OnState, when set, observes every transition.
	OnState func(State)
}

// Session runs one bounded capture-and-transcription pass, reporting only
// through the result files.
type Session struct {
	cfg     Config
	files   ResultSet
	rec     Recognizer
	locale  string
	poll    time.Duration
	grace   time.Duration
	logger  zerolog.Logger
	onState func(State)

	stateMu sync.RWMutex
	state   State

	// mu serializes result-file writes between recognition callbacks and the
	// poll loop. File existence under mu is the terminal-artifact guard.
	mu          sync.Mutex
	partialSeen bool
	finished    bool
	streamErr   chan struct{}
	stopReason  StopReason
}

// NewSession builds a session in INIT state.
func NewSession(opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.Locale == "" {
		opts.Locale = DefaultLocale
	}
	if opts.Config.Duration <= 0 {
		opts.Config.Duration = DefaultDuration
	}
	if opts.Config.OutputPath == "" {
		opts.Config.OutputPath = DefaultOutputPath()
	}

	return &Session{
		cfg:       opts.Config,
		files:     NewResultSet(opts.Config.OutputPath),
		rec:       opts.Recognizer,
		locale:    opts.Locale,
		poll:      opts.PollInterval,
		grace:     opts.GracePeriod,
		logger:    opts.Logger,
		onState:   opts.OnState,
		state:     StateInit,
		streamErr: make(chan struct{}, 1),
	}
}

// Files returns the session's result paths.
func (s *Session) Files() ResultSet {
	return s.files
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// StopReason returns why capture ended; empty until STOPPING.
func (s *Session) StopReason() StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

// Run drives the session to DONE or FAIL. Cancelling ctx behaves like a stop
// signal. A non-nil error is always a *SetupError from the FAIL path.
func (s *Session) Run(ctx context.Context) error {
	s.transition(StateInit)
	s.files.RemoveAll()
	s.logger.Info().
		Str("output", s.files.Output).
		Dur("duration", s.cfg.Duration).
		Msg("Dictation session starting")

	s.transition(StateAuth)
	if ok, err := s.rec.RequestPermission(ctx, PermissionSpeech); err != nil || !ok {
		return s.fail(StateAuth, MsgNotAuthorized, err)
	}

	s.transition(StateMicAuth)
	if ok, err := s.rec.RequestPermission(ctx, PermissionMicrophone); err != nil || !ok {
		return s.fail(StateMicAuth, MsgMicrophoneDenied, err)
	}

	s.transition(StateEngineInit)
	if err := s.rec.Prepare(ctx, s.locale); err != nil {
		return s.fail(StateEngineInit, MsgRecognizerUnavailable, err)
	}

	// Capture outlives ctx so a cancelled run still gets its grace period.
	captureCtx, cancelCapture := context.WithCancel(context.Background())
	defer cancelCapture()

	if err := s.rec.StartCapture(captureCtx, callback{s}); err != nil {
		_ = s.rec.Stop()
		return s.fail(StateEngineInit, "audio engine failed: "+err.Error(), err)
	}

	s.mu.Lock()
	if !s.partialSeen {
		_ = writeQuiet(s.files.Partial, ListeningSentinel)
	}
	s.mu.Unlock()
	s.transition(StateCapturing)

	reason := s.capture(ctx)

	s.mu.Lock()
	s.stopReason = reason
	s.mu.Unlock()
	s.transition(StateStopping)
	s.logger.Info().Str("reason", string(reason)).Msg("Dictation capture stopping")

	if err := s.rec.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Stop capture")
	}
	if s.grace > 0 {
		timer := time.NewTimer(s.grace)
		<-timer.C
	}

	s.finish()
	cancelCapture()
	s.transition(StateDone)
	s.logger.Info().Msg("Dictation session done")
	return nil
}

// capture runs the poll loop until a stop condition and returns its reason.
func (s *Session) capture(ctx context.Context) StopReason {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return StopReasonCancelled
		case <-s.streamErr:
			return StopReasonError
		case <-ticker.C:
			elapsed += s.poll
			if fileExists(s.files.Stop) {
				return StopReasonSignal
			}
			if elapsed >= s.cfg.Duration {
				return StopReasonTimeout
			}
		}
	}
}

// finish writes the terminal artifact if none exists and removes the
// transient files.
func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fileExists(s.files.Output) && !fileExists(s.files.Err) {
		text, err := readTrimmed(s.files.Partial)
		if err != nil || text == ListeningSentinel {
			text = ""
		}
		_ = writeQuiet(s.files.Output, text)
	}
	removeQuiet(s.files.Partial)
	removeQuiet(s.files.Stop)
	s.finished = true
}

// fail writes the error file and moves to FAIL without touching partial or
// stop files.
func (s *Session) fail(state State, message string, cause error) error {
	_ = writeQuiet(s.files.Err, message)
	s.transition(StateFail)
	s.logger.Error().Err(cause).Str("state", state.String()).Msg(message)
	return &SetupError{State: state, Message: message, Err: cause}
}

func (s *Session) transition(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()

	s.logger.Debug().Str("state", state.String()).Msg("Dictation state")
	if s.onState != nil {
		s.onState(state)
	}
}

func (s *Session) handlePartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.partialSeen = true
	_ = writeQuiet(s.files.Partial, text)
}

func (s *Session) handleFinal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	// The transcript wins over an earlier stream error.
	_ = writeQuiet(s.files.Output, text)
	removeQuiet(s.files.Err)
	removeQuiet(s.files.Partial)
	s.logger.Info().Int("chars", len(text)).Msg("Final transcript written")
}

func (s *Session) handleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || fileExists(s.files.Output) {
		s.logger.Warn().Err(err).Msg("Recognition error suppressed")
		return
	}
	_ = writeQuiet(s.files.Err, "recognition failed: "+err.Error())
	s.logger.Error().Err(err).Msg("Recognition failed")

	select {
	case s.streamErr <- struct{}{}:
	default:
	}
}

// callback adapts Session to the Callback interface without exporting the
// handlers on Session itself.
type callback struct{ s *Session }

func (c callback) OnPartial(text string) { c.s.handlePartial(text) }
func (c callback) OnFinal(text string)   { c.s.handleFinal(text) }
func (c callback) OnError(err error)     { c.s.handleError(err) }
