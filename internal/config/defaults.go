package config

import (
	"os"
	"path/filepath"
	"time"

	"lcars-os/internal/domain"
)

const (
	defaultMetricsBinary    = "lcars-metrics"
	defaultDictationBinary  = "lcars-dictation"
	defaultProviderTimeout  = 10 * time.Second
	defaultCommsTTL         = 30 * time.Second
	defaultMetricsPerSecond = 2
	defaultLogLevel         = "info"
)

// HomeDir returns the user's home directory, falling back to the working directory.
func HomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return homeDir
}

// DefaultDataDir is the per-user directory holding helper files, logs and settings.
func DefaultDataDir() string {
	return filepath.Join(HomeDir(), ".lcars-os")
}

// DefaultSettingsPath is where the bridge persists its settings document.
func DefaultSettingsPath() string {
	return filepath.Join(DefaultDataDir(), "settings.json")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		MetricsBinary:    defaultMetricsBinary,
		DictationBinary:  defaultDictationBinary,
		DataDir:          DefaultDataDir(),
		ProviderTimeout:  defaultProviderTimeout,
		CommsTTL:         defaultCommsTTL,
		MetricsPerSecond: defaultMetricsPerSecond,
		LogLevel:         defaultLogLevel,
	}
}

// Normalize trims user input and fills fields an older settings file left empty.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.MetricsBinary = trimOr(settings.MetricsBinary, defaults.MetricsBinary)
	settings.DictationBinary = trimOr(settings.DictationBinary, defaults.DictationBinary)
	settings.DataDir = trimOr(settings.DataDir, defaults.DataDir)
	settings.LogLevel = trimOr(settings.LogLevel, defaults.LogLevel)
	settings.DebugAddr = trimOr(settings.DebugAddr, "")
	if settings.ProviderTimeout <= 0 {
		settings.ProviderTimeout = defaults.ProviderTimeout
	}
	if settings.CommsTTL <= 0 {
		settings.CommsTTL = defaults.CommsTTL
	}
	if settings.MetricsPerSecond <= 0 {
		settings.MetricsPerSecond = defaults.MetricsPerSecond
	}
	return settings
}
