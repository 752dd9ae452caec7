// Package provider talks to the external lcars-metrics helper.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"lcars-os/internal/domain"
	"lcars-os/internal/logging"
	"lcars-os/internal/observability"
)

const (
	SubcommandMetrics = "metrics"
	SubcommandComms   = "comms"
)

// CommandError is a subcommand-aware provider failure with captured output.
type CommandError struct {
	Subcommand string     `json:"subcommand"`
	Message    string     `json:"message"`
	Log        CommandLog `json:"log"`
	Err        error      `json:"-"`
}

// Error formats provider failures for logs and UI.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	if e.Log.Command == "" {
		return fmt.Sprintf("%s: %s", e.Subcommand, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Subcommand, e.Message, e.Log.Command, e.Log.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Options configures a Client.
type Options struct {
	Binary           string
	Timeout          time.Duration
	MetricsPerSecond float64
	Metrics          *observability.Metrics
}

// Client runs the metrics provider and decodes its JSON output.
type Client struct {
	binary  string
	timeout time.Duration
	runner  commandRunner
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu   sync.Mutex
	last *domain.SystemMetrics
}

// NewClient constructs a client backed by os/exec.
func NewClient(opts Options) *Client {
	return newClient(opts, &execRunner{})
}

func newClient(opts Options, runner commandRunner) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MetricsPerSecond <= 0 {
		opts.MetricsPerSecond = 2
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.DefaultMetrics
	}
	return &Client{
		binary:  opts.Binary,
		timeout: opts.Timeout,
		runner:  runner,
		limiter: rate.NewLimiter(rate.Limit(opts.MetricsPerSecond), 1),
		metrics: opts.Metrics,
		logger:  logging.WithComponent("provider"),
	}
}

// Metrics returns a host metrics snapshot. When spawns are throttled and a
// previous snapshot exists, that snapshot is returned instead.
func (c *Client) Metrics(ctx context.Context) (domain.SystemMetrics, error) {
	if !c.limiter.Allow() {
		c.mu.Lock()
		last := c.last
		c.mu.Unlock()
		if last != nil {
			c.metrics.MetricsThrottled.Inc()
			return *last, nil
		}
	}

	var out domain.SystemMetrics
	if err := c.run(ctx, SubcommandMetrics, &out); err != nil {
		return domain.SystemMetrics{}, err
	}

	c.mu.Lock()
	c.last = &out
	c.mu.Unlock()
	return out, nil
}

// Comms returns a fresh comms status. Callers normally go through CommsCache.
func (c *Client) Comms(ctx context.Context) (domain.CommsStatus, error) {
	var out domain.CommsStatus
	if err := c.run(ctx, SubcommandComms, &out); err != nil {
		return domain.CommsStatus{}, err
	}
	if out.BluetoothDevices == nil {
		out.BluetoothDevices = []string{}
	}
	return out, nil
}

// run executes one subcommand under the client timeout and decodes stdout into v.
func (c *Client) run(ctx context.Context, subcommand string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	res, runErr := c.runner.Run(ctx, c.binary, subcommand)
	c.metrics.ProviderLatency.WithLabelValues(subcommand).Observe(time.Since(started).Seconds())

	log := CommandLog{
		Command:  c.binary,
		Args:     []string{subcommand},
		ExitCode: res.ExitCode,
		Stdout:   string(res.Stdout),
		Stderr:   res.Stderr,
	}
	if runErr != nil {
		msg := "metrics provider failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("metrics provider timed out after %s", c.timeout)
		}
		c.observe(subcommand, "error")
		c.logger.Warn().Err(runErr).Str("subcommand", subcommand).Int("exitCode", res.ExitCode).Msg(msg)
		return &CommandError{Subcommand: subcommand, Message: msg, Log: log, Err: runErr}
	}

	if err := json.Unmarshal(res.Stdout, v); err != nil {
		c.observe(subcommand, "decode_error")
		return &CommandError{Subcommand: subcommand, Message: "metrics provider returned invalid JSON", Log: log, Err: err}
	}

	c.observe(subcommand, "ok")
	return nil
}

func (c *Client) observe(subcommand, outcome string) {
	c.metrics.ProviderCalls.WithLabelValues(subcommand, outcome).Inc()
}
