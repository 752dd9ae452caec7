package bootstrap

import (
	"lcars-os/internal/domain"
	"lcars-os/internal/files"
)

// GetSystemMetrics returns one snapshot from the metrics provider.
func (a *App) GetSystemMetrics() (domain.SystemMetrics, error) {
	a.mu.Lock()
	source := a.provider
	a.mu.Unlock()

	metrics, err := source.Metrics(a.requestContext())
	if err != nil {
		a.logger.Debug().Err(err).Msg("Metrics request failed")
		return domain.SystemMetrics{}, err
	}
	return metrics, nil
}

// GetCommsStatus returns connectivity status, cached for the comms TTL.
func (a *App) GetCommsStatus() (domain.CommsStatus, error) {
	a.mu.Lock()
	cache := a.comms
	a.mu.Unlock()

	status, err := cache.Get(a.requestContext())
	if err != nil {
		a.logger.Debug().Err(err).Msg("Comms request failed")
		return domain.CommsStatus{}, err
	}
	return status, nil
}

// ListDirectory lists one directory for the file browser.
func (a *App) ListDirectory(path string) ([]domain.FileEntry, error) {
	return files.ListDirectory(path)
}

// OpenFile opens path with the platform default handler.
func (a *App) OpenFile(path string) error {
	if err := files.OpenFile(path); err != nil {
		a.logger.Warn().Err(err).Str("path", path).Msg("Open file")
		return err
	}
	return nil
}

// GetHomeDir returns the user's home directory.
func (a *App) GetHomeDir() (string, error) {
	return files.HomeDir()
}

// LaunchApp starts an installed application by name.
func (a *App) LaunchApp(name string) error {
	if err := files.LaunchApp(name); err != nil {
		a.logger.Warn().Err(err).Str("app", name).Msg("Launch app")
		return err
	}
	a.logger.Info().Str("app", name).Msg("Application launched")
	return nil
}

// PurgeMemory asks the OS to drop inactive memory.
func (a *App) PurgeMemory() (string, error) {
	return files.PurgeMemory()
}

// SaveTasks persists the task list document.
func (a *App) SaveTasks(data string) error {
	return a.tasks.Save(data)
}

// LoadTasks returns the task list document, "[]" when none was saved.
func (a *App) LoadTasks() (string, error) {
	return a.tasks.Load()
}

// SaveLog persists the captain's log document.
func (a *App) SaveLog(data string) error {
	return a.captainsLog.Save(data)
}

// LoadLog returns the captain's log document, "[]" when none was saved.
func (a *App) LoadLog() (string, error) {
	return a.captainsLog.Load()
}
