package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"lcars-os/internal/observability"
)

// fakeRunner simulates provider execution.
type fakeRunner struct {
	calls int
	run   func(ctx context.Context, name string, args ...string) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls++
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

const metricsJSON = `{"cpu_usage":12.5,"cpu_brand":"Apple M2","memory_total":16,"memory_used":8,
"memory_usage_percent":50,"disk_total":1000,"disk_used":250,"disk_usage_percent":25,
"network_rx_bytes":10,"network_tx_bytes":20,"uptime_seconds":3600,"battery_percent":-1,
"battery_charging":false,"thermal_pressure":"NOMINAL"}`

func newTestClient(runner commandRunner, perSecond float64) *Client {
	return newClient(Options{
		Binary:           "lcars-metrics",
		Timeout:          time.Second,
		MetricsPerSecond: perSecond,
		Metrics:          observability.Discard(),
	}, runner)
}

// TestClientMetricsDecodesJSON checks the metrics subcommand and decoding.
func TestClientMetricsDecodesJSON(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		if name != "lcars-metrics" || len(args) != 1 || args[0] != "metrics" {
			t.Fatalf("command = %s %v", name, args)
		}
		return commandResult{Stdout: []byte(metricsJSON)}, nil
	}}

	got, err := newTestClient(runner, 100).Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	if got.CPUBrand != "Apple M2" || got.UptimeSeconds != 3600 || got.ThermalPressure != "NOMINAL" {
		t.Fatalf("metrics = %+v", got)
	}
}

// TestClientMapsExitFailureToCommandError checks captured output on failure.
func TestClientMapsExitFailureToCommandError(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stderr: "Usage: lcars-metrics [metrics|comms]", ExitCode: 1}, errors.New("exit status 1")
	}}

	_, err := newTestClient(runner, 100).Comms(context.Background())
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if cmdErr.Subcommand != SubcommandComms || cmdErr.Log.ExitCode != 1 {
		t.Fatalf("command error = %+v", cmdErr)
	}
	if cmdErr.Log.Stderr == "" {
		t.Fatal("expected stderr to be captured")
	}
}

// TestClientRejectsInvalidJSON checks decode failures.
func TestClientRejectsInvalidJSON(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stdout: []byte("not json")}, nil
	}}

	_, err := newTestClient(runner, 100).Metrics(context.Background())
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Message != "metrics provider returned invalid JSON" {
		t.Fatalf("error = %v", err)
	}
}

// TestClientTimeoutMessage checks the deadline is applied to the subprocess.
func TestClientTimeoutMessage(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		<-ctx.Done()
		return commandResult{ExitCode: -1}, ctx.Err()
	}}
	client := newClient(Options{Binary: "lcars-metrics", Timeout: 20 * time.Millisecond, Metrics: observability.Discard()}, runner)

	_, err := client.Metrics(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

// TestClientMetricsThrottledReturnsLastSnapshot checks the spawn limiter.
func TestClientMetricsThrottledReturnsLastSnapshot(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stdout: []byte(metricsJSON)}, nil
	}}
	client := newTestClient(runner, 0.001)

	first, err := client.Metrics(context.Background())
	if err != nil {
		t.Fatalf("first Metrics() error = %v", err)
	}
	second, err := client.Metrics(context.Background())
	if err != nil {
		t.Fatalf("second Metrics() error = %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.calls)
	}
	if first != second {
		t.Fatalf("throttled snapshot = %+v, want %+v", second, first)
	}
}

// TestClientCommsNormalizesDeviceList keeps the JSON array non-null.
func TestClientCommsNormalizesDeviceList(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stdout: []byte(`{"wifi":"Enterprise","bluetooth_enabled":true,"volume_percent":40,"brightness_percent":-1}`)}, nil
	}}

	got, err := newTestClient(runner, 100).Comms(context.Background())
	if err != nil {
		t.Fatalf("Comms() error = %v", err)
	}
	if got.WiFi != "Enterprise" || got.BluetoothDevices == nil {
		t.Fatalf("comms = %+v", got)
	}
}
