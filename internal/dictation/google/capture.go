package google

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// DefaultCaptureBinary records the microphone.
const DefaultCaptureBinary = "ffmpeg"

// audioSource yields raw LINEAR16 mono audio until stopped.
type audioSource interface {
	Start(ctx context.Context) (io.ReadCloser, error)
	// Stop asks the source to flush and end its stream.
	Stop() error
	// Available reports whether the source can run on this host.
	Available() error
}

// DefaultCaptureCommand builds the ffmpeg command line for the host's audio
// input framework.
func DefaultCaptureCommand(goos string, sampleRate int) []string {
	args := []string{DefaultCaptureBinary, "-hide_banner", "-loglevel", "error", "-nostdin"}
	switch goos {
	case "darwin":
		args = append(args, "-f", "avfoundation", "-i", ":default")
	case "windows":
		args = append(args, "-f", "dshow", "-i", "audio=default")
	default:
		args = append(args, "-f", "pulse", "-i", "default")
	}
	return append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	)
}

// ParseCaptureCommand splits a user-supplied command line on whitespace.
func ParseCaptureCommand(raw string, sampleRate int) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return DefaultCaptureCommand(runtime.GOOS, sampleRate)
	}
	return fields
}

// commandSource runs a capture process and streams its stdout.
type commandSource struct {
	argv     []string
	lookPath func(string) (string, error)

	mu  sync.Mutex
	cmd *exec.Cmd
}

func newCommandSource(argv []string) *commandSource {
	return &commandSource{argv: argv, lookPath: exec.LookPath}
}

func (c *commandSource) Available() error {
	if len(c.argv) == 0 {
		return fmt.Errorf("capture command is empty")
	}
	if _, err := c.lookPath(c.argv[0]); err != nil {
		return fmt.Errorf("capture command %q not found: %w", c.argv[0], err)
	}
	return nil
}

func (c *commandSource) Start(ctx context.Context) (io.ReadCloser, error) {
	if err := c.Available(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stderr = io.Discard
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()
	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

func (c *commandSource) Stop() error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// ffmpeg flushes and exits on interrupt; Windows has no such signal.
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

// processReader reaps the capture process when the stream is closed.
type processReader struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (p *processReader) Close() error {
	var err error
	p.once.Do(func() {
		err = p.ReadCloser.Close()
		_ = p.cmd.Wait()
	})
	return err
}
