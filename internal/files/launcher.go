package files

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
)

// ErrUnsupported is returned for operations that only exist on macOS.
var ErrUnsupported = errors.New("not supported on this platform")

// starter launches a detached process; replaced in tests.
var starter = func(cmd *exec.Cmd) error { return cmd.Start() }

// combinedOutput runs a process to completion; replaced in tests.
var combinedOutput = func(cmd *exec.Cmd) ([]byte, []byte, error) {
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return []byte(stdout.String()), []byte(stderr.String()), err
}

// OpenFile opens path with the platform's default handler.
func OpenFile(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		return fmt.Errorf("cannot open file: path is empty")
	}
	if err := starter(openCommand(goruntime.GOOS, target)); err != nil {
		return fmt.Errorf("cannot open file: %w", err)
	}
	return nil
}

// LaunchApp starts an application by name.
func LaunchApp(name string) error {
	app := strings.TrimSpace(name)
	if app == "" {
		return fmt.Errorf("cannot launch: app name is empty")
	}
	if err := starter(launchCommand(goruntime.GOOS, app)); err != nil {
		return fmt.Errorf("cannot launch %s: %w", app, err)
	}
	return nil
}

// PurgeMemory asks macOS to purge inactive memory with admin privileges.
func PurgeMemory() (string, error) {
	if goruntime.GOOS != "darwin" {
		return "", fmt.Errorf("purge memory: %w", ErrUnsupported)
	}

	cmd := exec.Command("osascript", "-e", `do shell script "purge" with administrator privileges`)
	_, stderr, err := combinedOutput(cmd)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("purge failed: %s", strings.TrimSpace(string(stderr)))
		}
		return "", fmt.Errorf("failed to execute: %w", err)
	}
	return "Memory purged successfully", nil
}

// openCommand builds the file-manager invocation for goos.
func openCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "darwin":
		return exec.Command("open", path)
	case "windows":
		return exec.Command("explorer", filepath.Clean(path))
	default:
		return exec.Command("xdg-open", path)
	}
}

// launchCommand builds the app launcher invocation for goos.
func launchCommand(goos, name string) *exec.Cmd {
	switch goos {
	case "darwin":
		return exec.Command("open", "-a", name)
	case "windows":
		return exec.Command("cmd", "/c", "start", "", name)
	default:
		return exec.Command("gtk-launch", name)
	}
}
