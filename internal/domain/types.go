package domain

import "time"

// Settings contains user-adjustable runtime configuration for the host bridge.
type Settings struct {
	MetricsBinary    string        `json:"metricsBinary"`
	DictationBinary  string        `json:"dictationBinary"`
	DataDir          string        `json:"dataDir"`
	ProviderTimeout  time.Duration `json:"providerTimeout"`
	CommsTTL         time.Duration `json:"commsTTL"`
	MetricsPerSecond float64       `json:"metricsPerSecond"`
	LogLevel         string        `json:"logLevel"`
	DebugAddr        string        `json:"debugAddr"`
}

// FileEntry is one row of a single-directory listing.
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}
