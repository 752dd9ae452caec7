package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"lcars-os/internal/config"
	"lcars-os/internal/domain"
)

// FixDiagnostic applies a local remediation for one failed diagnostic item.
func (a *App) FixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case "metrics_provider":
		settings.MetricsBinary, settingsChanged, fixErr = locateBinary(a.homeDir, settings.MetricsBinary, "lcars-metrics")
	case "dictation_helper":
		settings.DictationBinary, settingsChanged, fixErr = locateBinary(a.homeDir, settings.DictationBinary, "lcars-dictation")
	case "data_dir":
		settings, settingsChanged, fixErr = fixDataDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
		a.configureProvider(settings)
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

// ensureLocalBinOnPATH prepends the per-user helper directory to PATH so
// helpers installed there resolve by name.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	entries := filepath.SplitList(current)
	for _, entry := range entries {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".lcars-os", "bin")
}

// locateBinary searches the places a helper is usually installed next to the
// host and returns its absolute path.
func locateBinary(homeDir, configured, name string) (string, bool, error) {
	candidates := binaryCandidates(homeDir, name)
	for _, candidate := range candidates {
		if isExecutable(candidate) {
			return candidate, candidate != configured, nil
		}
	}
	return configured, false, fmt.Errorf("cannot locate %s; install it into %s", name, localBinDir(homeDir))
}

func binaryCandidates(homeDir, name string) []string {
	if goruntime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}

	candidates := []string{filepath.Join(localBinDir(homeDir), name)}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(dir, name))
		if goruntime.GOOS == "darwin" {
			// Inside an app bundle helpers live in Contents/Resources.
			candidates = append(candidates, filepath.Join(dir, "..", "Resources", name))
		}
	}
	return candidates
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if goruntime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func fixDataDir(settings domain.Settings) (domain.Settings, bool, error) {
	dataDir := strings.TrimSpace(settings.DataDir)
	changed := false
	if dataDir == "" {
		dataDir = config.DefaultSettings().DataDir
		settings.DataDir = dataDir
		changed = true
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return settings, changed, fmt.Errorf("data directory %s is not writable: %w", dataDir, err)
		}
		return settings, changed, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	return settings, changed, nil
}
