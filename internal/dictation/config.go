// Package dictation implements the one-shot speech dictation helper and the
// host-side controller that drives it through a file protocol.
//
// The helper reads a two-line config once, captures speech until a stop file
// appears or the configured duration elapses, and reports through files
// derived from the output path:
//
//	<out>          final transcript
//	<out>.partial  "LISTENING", then the live interim transcript
//	<out>.err      human-readable failure
//	<out>.stop     created by the controller to request early termination
package dictation

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lcars-os/internal/config"
)

const (
	// DefaultDuration is the listening cap when the config does not set one.
	DefaultDuration = 1800 * time.Second

	// ConfigFileName is the helper config inside the data dir.
	ConfigFileName = "dictation_config.txt"

	defaultOutputName = "dictation.txt"
)

// Config is the helper's launch configuration.
type Config struct {
	Duration   time.Duration
	OutputPath string
}

// DefaultConfigPath is the fixed config location the helper reads at launch.
func DefaultConfigPath() string {
	return filepath.Join(config.DefaultDataDir(), ConfigFileName)
}

// DefaultOutputPath is the transcript location used when the config omits one.
func DefaultOutputPath() string {
	return filepath.Join(config.DefaultDataDir(), defaultOutputName)
}

// DefaultConfig returns both defaults.
func DefaultConfig() Config {
	return Config{Duration: DefaultDuration, OutputPath: DefaultOutputPath()}
}

// ReadConfig loads the config file. A missing or unreadable file yields the
// defaults; each line falls back independently.
func ReadConfig(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig()
	}
	return ParseConfig(string(data))
}

// ParseConfig parses "<duration_seconds>\n<output_path>\n".
func ParseConfig(raw string) Config {
	cfg := DefaultConfig()

	scanner := bufio.NewScanner(strings.NewReader(raw))
	lineNo := 0
	for scanner.Scan() && lineNo < 2 {
		line := strings.TrimSpace(scanner.Text())
		switch lineNo {
		case 0:
			if d, ok := parseSeconds(line); ok {
				cfg.Duration = d
			}
		case 1:
			if line != "" {
				cfg.OutputPath = line
			}
		}
		lineNo++
	}
	return cfg
}

// WriteConfig writes the two-line config the helper expects.
func WriteConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	content := fmt.Sprintf("%s\n%s\n", formatSeconds(cfg.Duration), cfg.OutputPath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func parseSeconds(s string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return durationFromSeconds(secs)
}

// durationFromSeconds accepts only finite positive values.
func durationFromSeconds(secs float64) (time.Duration, bool) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
