package dictation

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

const stderrLimit = 4096

// helperProcess is a launched dictation helper.
type helperProcess interface {
	Wait() error
	Kill() error
	// Stderr returns the tail of the helper's stderr once it exited.
	Stderr() string
}

// helperStarter launches the helper binary.
type helperStarter func(ctx context.Context, binary string, args []string) (helperProcess, error)

type execHelper struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
}

func startExecHelper(ctx context.Context, binary string, args []string) (helperProcess, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execHelper{cmd: cmd, stderr: stderr}, nil
}

func (e *execHelper) Wait() error { return e.cmd.Wait() }

func (e *execHelper) Kill() error {
	if e.cmd.Process == nil {
		return nil
	}
	return e.cmd.Process.Kill()
}

func (e *execHelper) Stderr() string { return e.stderr.String() }

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
