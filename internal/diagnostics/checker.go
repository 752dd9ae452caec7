package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lcars-os/internal/domain"
)

// CredentialsEnv points Google client libraries at a service account key.
const CredentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"

// Checker validates external helpers and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	getenv     func(string) string
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		getenv:     os.Getenv,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkBinary("metrics_provider", "Metrics provider", settings.MetricsBinary, domain.DiagnosticStatusFail,
			"Build the lcars-metrics provider and put it on PATH, or set metricsBinary in settings."),
		c.checkBinary("dictation_helper", "Dictation helper", settings.DictationBinary, domain.DiagnosticStatusWarn,
			"Install lcars-dictation to enable Captain's Log voice dictation."),
		c.checkBinary("audio_capture", "Audio capture", "ffmpeg", domain.DiagnosticStatusWarn,
			"Install ffmpeg so the dictation helper can record the microphone."),
		c.checkCredentials(),
		c.checkDataDir(settings.DataDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkBinary verifies a helper executable resolves on PATH or at its
// configured location. missing is the status reported when it does not.
func (c *Checker) checkBinary(id, name, binary string, missing domain.DiagnosticStatus, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	binary = strings.TrimSpace(binary)
	if binary == "" {
		item.Status = missing
		item.Message = fmt.Sprintf("%s is not configured.", name)
		item.Hint = hint
		return item
	}

	if strings.ContainsRune(binary, filepath.Separator) {
		info, err := c.stat(binary)
		switch {
		case err != nil:
			item.Status = missing
			if errors.Is(err, os.ErrNotExist) {
				item.Message = fmt.Sprintf("Binary does not exist: %s", binary)
			} else {
				item.Message = fmt.Sprintf("Cannot access binary: %s", binary)
			}
			item.Hint = hint
		case info.IsDir() || info.Mode().Perm()&0o111 == 0:
			item.Status = missing
			item.Message = fmt.Sprintf("Not an executable file: %s", binary)
			item.Hint = "Check the file permissions or point settings at the binary itself."
		default:
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Found at %s", binary)
			item.Path = binary
		}
		return item
	}

	path, err := c.lookPath(binary)
	if err != nil {
		item.Status = missing
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", binary)
		item.Hint = hint
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	item.Path = path
	return item
}

// checkCredentials reports whether cloud speech recognition can authenticate
// with an explicit key file.
func (c *Checker) checkCredentials() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "speech_credentials",
		Name: "Speech credentials",
	}

	path := strings.TrimSpace(c.getenv(CredentialsEnv))
	if path == "" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("%s is not set; application default credentials will be tried.", CredentialsEnv)
		item.Hint = "Run `gcloud auth application-default login` or point the variable at a service account key."
		return item
	}
	if _, err := c.stat(path); err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Credentials file not readable: %s", path)
		item.Hint = "Fix the path in " + CredentialsEnv + "."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Using credentials at %s", path)
	item.Path = path
	return item
}

// checkDataDir validates data directory existence and write access.
func (c *Checker) checkDataDir(dataDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "data_dir",
		Name: "Data directory",
		Path: dataDir,
	}

	if strings.TrimSpace(dataDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Data directory is empty."
		item.Hint = "Set dataDir to a writable location for settings and dictation files."
		return item
	}

	if err := c.mkdirAll(dataDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create data directory: %s", dataDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dataDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Data directory is not writable: %s", dataDir)
		item.Hint = "Dictation results are exchanged through this directory; it must be writable."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dataDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	getenv func(string) string,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		getenv:     getenv,
	}
}
