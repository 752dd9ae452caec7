package dictation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lcars-os/internal/domain"
	"lcars-os/internal/jobs"
	"lcars-os/internal/logging"
	"lcars-os/internal/observability"
)

const (
	sessionPrefix = "dictation_"
	sessionSuffix = ".txt"

	// PollFinalPrefix, PollPartialPrefix and PollWaiting are the Poll results
	// the UI understands.
	PollFinalPrefix   = "FINAL:"
	PollPartialPrefix = "PARTIAL:"
	PollWaiting       = "WAITING"

	// MsgTimedOut is returned by Wait when the helper exits without leaving a
	// transcript or an error.
	MsgTimedOut = "dictation timed out — no speech detected or permissions denied"

	// MsgCancelled is returned by Wait when the helper was killed by Cancel,
	// Shutdown or a newer session.
	MsgCancelled = "dictation cancelled"

	// maxFinishedRuns bounds how many exited runs are kept for a late Wait.
	maxFinishedRuns = 8

	outcomeDone      = "done"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// ErrUnknownSession is returned for ids the controller never launched.
var ErrUnknownSession = errors.New("unknown dictation session")

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	DataDir      string
	HelperBinary string
	// HelperArgs are appended after --config.
	HelperArgs []string
	Manager    *jobs.Manager
	Events     *jobs.EventBus
	Metrics    *observability.Metrics
	// OnEvent observes every status event after it is recorded.
	OnEvent func(jobs.Event)
}

// Controller launches the dictation helper and reads its result files.
type Controller struct {
	dataDir    string
	binary     string
	helperArgs []string
	manager    *jobs.Manager
	events     *jobs.EventBus
	metrics    *observability.Metrics
	onEvent    func(jobs.Event)
	logger     zerolog.Logger
	start      helperStarter

	mu      sync.Mutex
	runs    map[string]*helperRun
	current *helperRun
}

// helperRun is one launched helper process.
type helperRun struct {
	id    string
	files ResultSet
	proc  helperProcess
	done    chan struct{}
	started time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	killed  bool
	exitErr error
	stderr  string
}

// NewController creates a controller over dataDir.
func NewController(opts ControllerOptions) *Controller {
	if opts.Manager == nil {
		opts.Manager = jobs.NewManager()
	}
	if opts.Events == nil {
		opts.Events = jobs.NewEventBus(0)
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.DefaultMetrics
	}
	return &Controller{
		dataDir:    opts.DataDir,
		binary:     opts.HelperBinary,
		helperArgs: opts.HelperArgs,
		manager:    opts.Manager,
		events:     opts.Events,
		metrics:    opts.Metrics,
		onEvent:    opts.OnEvent,
		logger:     logging.WithComponent("dictation"),
		start:      startExecHelper,
		runs:       make(map[string]*helperRun),
	}
}

// NewSessionID returns a random hex session id.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateSessionID rejects ids that would escape the data dir.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is empty")
	}
	for _, r := range id {
		ok := r == '-' || r == '_' ||
			(r >= '0' && r <= '9') ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z')
		if !ok {
			return fmt.Errorf("invalid session id %q", id)
		}
	}
	return nil
}

// SessionOutputPath is the transcript path for a session.
func SessionOutputPath(dataDir, sessionID string) string {
	return filepath.Join(dataDir, sessionPrefix+sessionID+sessionSuffix)
}

// ParseSessionFile maps a data dir file name to its session id and the
// result file it is. ok is false for files outside the protocol.
func ParseSessionFile(name string) (sessionID string, file string, ok bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, sessionPrefix) || name == ConfigFileName {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, sessionPrefix)

	file = ""
	for _, suffix := range []string{partialSuffix, errSuffix, stopSuffix} {
		if strings.HasSuffix(rest, sessionSuffix+suffix) {
			file = suffix
			rest = strings.TrimSuffix(rest, suffix)
			break
		}
	}
	if !strings.HasSuffix(rest, sessionSuffix) {
		return "", "", false
	}
	sessionID = strings.TrimSuffix(rest, sessionSuffix)
	if ValidateSessionID(sessionID) != nil {
		return "", "", false
	}
	return sessionID, file, true
}

// ConfigPath is the helper config the controller writes before each launch.
func (c *Controller) ConfigPath() string {
	return filepath.Join(c.dataDir, ConfigFileName)
}

// Start launches the helper for a new session and returns its id. Any helper
// still running from an earlier session is killed first.
func (c *Controller) Start(ctx context.Context, durationSecs float64, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	duration := DefaultDuration
	if d, ok := durationFromSeconds(durationSecs); ok {
		duration = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.current; prev != nil {
		c.killLocked(prev)
	}
	if prev := c.manager.Current(); c.manager.Cancel() == nil {
		// The replaced run's own exit no longer matches the manager's session.
		c.publishStatus(prev.ID, domain.DictationStatusCancelled, MsgCancelled)
	}
	c.pruneLocked()

	files := NewResultSet(SessionOutputPath(c.dataDir, sessionID))
	files.RemoveAll()

	cfg := Config{Duration: duration, OutputPath: files.Output}
	if err := WriteConfig(c.ConfigPath(), cfg); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}

	if err := c.manager.Start(sessionID); err != nil {
		return "", err
	}

	args := append([]string{"--config", c.ConfigPath()}, c.helperArgs...)
	// The helper outlives the request that started it.
	proc, err := c.start(context.WithoutCancel(ctx), c.binary, args)
	if err != nil {
		_ = c.manager.TransitionFor(sessionID, domain.DictationStatusFailed)
		c.publishStatus(sessionID, domain.DictationStatusFailed, err.Error())
		c.metrics.DictationFinished.WithLabelValues(outcomeFailed).Inc()
		c.logger.Error().Err(err).Str("helper", c.binary).Msg("Launch dictation helper")
		return "", fmt.Errorf("failed to launch dictation helper: %w", err)
	}

	run := &helperRun{
		id:      sessionID,
		files:   files,
		proc:    proc,
		done:    make(chan struct{}),
		started: time.Now(),
		logger:  logging.WithSession("dictation", sessionID),
	}
	c.runs[sessionID] = run
	c.current = run
	c.metrics.DictationStarted.Inc()
	c.publishStatus(sessionID, domain.DictationStatusListening, "")
	run.logger.Info().
		Dur("duration", duration).
		Str("helper", c.binary).
		Msg("Dictation helper launched")

	go c.await(run)
	return sessionID, nil
}

// Poll reports the session's progress from its result files, in precedence
// order FINAL, error, PARTIAL, WAITING.
func (c *Controller) Poll(sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	files := NewResultSet(SessionOutputPath(c.dataDir, sessionID))

	if fileExists(files.Output) {
		text, _ := readTrimmed(files.Output)
		return PollFinalPrefix + text, nil
	}
	if fileExists(files.Err) {
		data, _ := os.ReadFile(files.Err)
		return "", errors.New(string(data))
	}
	if fileExists(files.Partial) {
		text, _ := readTrimmed(files.Partial)
		return PollPartialPrefix + text, nil
	}
	return PollWaiting, nil
}

// Stop asks the helper to finish by creating the stop file.
func (c *Controller) Stop(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	files := NewResultSet(SessionOutputPath(c.dataDir, sessionID))
	if err := writeQuiet(files.Stop, "stop"); err != nil {
		return fmt.Errorf("failed to signal stop: %w", err)
	}
	if err := c.manager.TransitionFor(sessionID, domain.DictationStatusStopping); err == nil {
		c.publishStatus(sessionID, domain.DictationStatusStopping, "")
	}
	return nil
}

// Wait blocks until the session's helper exits and returns the outcome. The
// session's result files and its run record are consumed, so a second Wait for
// the same id reports ErrUnknownSession.
func (c *Controller) Wait(ctx context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	run, ok := c.runs[sessionID]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	select {
	case <-run.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	c.mu.Lock()
	delete(c.runs, sessionID)
	c.mu.Unlock()

	files := run.files
	if fileExists(files.Output) {
		text, err := readTrimmed(files.Output)
		if err != nil {
			return "", fmt.Errorf("failed to read result: %w", err)
		}
		removeQuiet(files.Output)
		removeQuiet(files.Partial)
		removeQuiet(files.Stop)
		return text, nil
	}
	if fileExists(files.Err) {
		data, err := os.ReadFile(files.Err)
		if err != nil {
			return "", errors.New("unknown error")
		}
		removeQuiet(files.Err)
		return "", errors.New(strings.TrimSpace(string(data)))
	}

	run.mu.Lock()
	killed, exitErr, stderr := run.killed, run.exitErr, run.stderr
	run.mu.Unlock()
	switch {
	case killed:
		return "", errors.New(MsgCancelled)
	case exitErr != nil && stderr != "":
		// A helper that crashed before its error file leaves only stderr.
		return "", fmt.Errorf("dictation failed: %s", stderr)
	default:
		return "", errors.New(MsgTimedOut)
	}
}

// Cancel kills the session's helper without waiting for a transcript.
func (c *Controller) Cancel(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	c.killLocked(run)
	return nil
}

// Shutdown kills the running helper, if any.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.killLocked(c.current)
	}
}

// Current returns the host-side session state.
func (c *Controller) Current() domain.DictationSession {
	return c.manager.Current()
}

// Events returns session events after seq.
func (c *Controller) Events(sinceSeq int64) []jobs.Event {
	return c.events.Since(sinceSeq)
}

func (c *Controller) killLocked(run *helperRun) {
	select {
	case <-run.done:
		return
	default:
	}
	run.mu.Lock()
	run.killed = true
	run.mu.Unlock()
	if err := run.proc.Kill(); err != nil {
		run.logger.Warn().Err(err).Msg("Kill dictation helper")
	}
}

// pruneLocked drops the oldest exited runs nobody waited for.
func (c *Controller) pruneLocked() {
	var finished []*helperRun
	for _, run := range c.runs {
		select {
		case <-run.done:
			finished = append(finished, run)
		default:
		}
	}
	if len(finished) <= maxFinishedRuns {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].started.Before(finished[j].started) })
	for _, run := range finished[:len(finished)-maxFinishedRuns] {
		delete(c.runs, run.id)
	}
}

// await records the helper's exit and settles the session state.
func (c *Controller) await(run *helperRun) {
	exitErr := run.proc.Wait()

	run.mu.Lock()
	run.exitErr = exitErr
	run.stderr = run.proc.Stderr()
	killed := run.killed
	run.mu.Unlock()

	status := domain.DictationStatusFailed
	outcome := outcomeFailed
	message := ""
	switch {
	case fileExists(run.files.Output):
		status, outcome = domain.DictationStatusDone, outcomeDone
	case fileExists(run.files.Err):
		text, _ := readTrimmed(run.files.Err)
		message = text
	case killed:
		status, outcome = domain.DictationStatusCancelled, outcomeCancelled
	case exitErr != nil:
		message = exitErr.Error()
	default:
		message = MsgTimedOut
	}

	c.metrics.DictationFinished.WithLabelValues(outcome).Inc()
	if err := c.manager.TransitionFor(run.id, status); err == nil {
		c.publishStatus(run.id, status, message)
	}

	c.mu.Lock()
	if c.current == run {
		c.current = nil
	}
	c.mu.Unlock()

	run.logger.Info().
		Str("outcome", outcome).
		AnErr("exitErr", exitErr).
		Msg("Dictation helper exited")
	close(run.done)
}

func (c *Controller) publishStatus(sessionID string, status domain.DictationStatus, message string) {
	event := c.events.Publish(jobs.Event{
		SessionID: sessionID,
		Type:      jobs.EventTypeStatus,
		Status:    status,
		Message:   message,
	})
	if c.onEvent != nil {
		c.onEvent(event)
	}
}

// CleanupSessionFiles removes session result files left in dataDir by earlier
// runs. The helper config and anything else outside the protocol are kept.
func CleanupSessionFiles(dataDir string) (int, error) {
	entries, err := os.ReadDir(dataDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read data dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if _, _, ok := ParseSessionFile(name); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(dataDir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}
