package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"lcars-os/internal/config"
	"lcars-os/internal/diagnostics"
	"lcars-os/internal/dictation"
	"lcars-os/internal/domain"
	"lcars-os/internal/jobs"
	"lcars-os/internal/logging"
	"lcars-os/internal/observability"
	"lcars-os/internal/persist"
	"lcars-os/internal/provider"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	// EventDictationUpdate carries a domain.DictationUpdate to the UI.
	EventDictationUpdate = "dictation:update"
	// EventDictationStatus carries a jobs.Event status change to the UI.
	EventDictationStatus = "dictation:status"

	serviceName = "lcars-os"
)

// metricsSource serves the metrics panel.
type metricsSource interface {
	Metrics(ctx context.Context) (domain.SystemMetrics, error)
}

// commsSource serves the comms panel.
type commsSource interface {
	Get(ctx context.Context) (domain.CommsStatus, error)
}

// blobStore persists one JSON document.
type blobStore interface {
	Load() (string, error)
	Save(data string) error
}

// dictationController drives the dictation helper.
type dictationController interface {
	Start(ctx context.Context, durationSecs float64, sessionID string) (string, error)
	Poll(sessionID string) (string, error)
	Stop(sessionID string) error
	Wait(ctx context.Context, sessionID string) (string, error)
	Cancel(sessionID string) error
	Current() domain.DictationSession
	Shutdown()
}

// App wires configuration, the metrics provider, persistence, dictation and
// the UI runtime.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	homeDir     string
	logger      zerolog.Logger
	logCloser   io.Closer
	metrics     *observability.Metrics

	provider    metricsSource
	comms       commsSource
	tasks       blobStore
	captainsLog blobStore
	dictation   dictationController
	events      *jobs.EventBus
	watcher     *dictation.Watcher
	debug       *observability.Server

	// emit pushes runtime events; replaced in tests.
	emit func(ctx context.Context, name string, data ...interface{})

	mu         sync.Mutex
	runtimeCtx context.Context
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir := config.HomeDir()
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(config.DefaultSettingsPath())
	settings, loadErr := store.Load()
	if loadErr != nil && !errors.Is(loadErr, config.ErrCorruptSettings) {
		return nil, fmt.Errorf("load settings: %w", loadErr)
	}

	logCfg := logging.DefaultConfig(serviceName)
	logCfg.Level = settings.LogLevel
	logCfg.LogDir = filepath.Join(settings.DataDir, "logs")
	logger, closer := logging.Init(logCfg)
	if loadErr != nil {
		logger.Warn().Err(loadErr).Msg("Starting with default settings")
	}

	app := newApp(settings, store, observability.DefaultMetrics)
	app.assets = assets
	app.logger = logger
	app.logCloser = closer
	app.checker = diagnostics.NewChecker()
	app.Diagnostics = app.checker.Run(settings)

	if settings.DebugAddr != "" {
		server, err := observability.NewServer(settings.DebugAddr)
		if err != nil {
			logger.Warn().Err(err).Str("addr", settings.DebugAddr).Msg("Debug server disabled")
		} else {
			app.debug = server
		}
	}

	logger.Info().
		Str("dataDir", settings.DataDir).
		Bool("diagnosticFailures", app.Diagnostics.HasFailures).
		Msg("LCARS OS host initialized")
	return app, nil
}

// newApp wires services for settings without touching global process state.
func newApp(settings domain.Settings, store config.Store, metrics *observability.Metrics) *App {
	baseCtx, cancel := context.WithCancel(context.Background())
	homeDir := config.HomeDir()

	a := &App{
		Settings:    settings,
		Store:       store,
		homeDir:     homeDir,
		logger:      logging.WithComponent("bridge"),
		metrics:     metrics,
		tasks:       persist.NewBlobStore(persist.TasksPath(homeDir), "tasks"),
		captainsLog: persist.NewBlobStore(persist.CaptainsLogPath(homeDir), "captain's log"),
		events:      jobs.NewEventBus(1000),
		emit:        wailsruntime.EventsEmit,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
	}
	a.configureProvider(settings)
	a.dictation = dictation.NewController(dictation.ControllerOptions{
		DataDir:      settings.DataDir,
		HelperBinary: settings.DictationBinary,
		Manager:      jobs.NewManager(),
		Events:       a.events,
		Metrics:      metrics,
		OnEvent: func(event jobs.Event) {
			a.push(EventDictationStatus, event)
		},
	})
	return a
}

// configureProvider rebuilds the metrics client and comms cache for settings.
func (a *App) configureProvider(settings domain.Settings) {
	client := provider.NewClient(provider.Options{
		Binary:           settings.MetricsBinary,
		Timeout:          settings.ProviderTimeout,
		MetricsPerSecond: settings.MetricsPerSecond,
		Metrics:          a.metrics,
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider = client
	a.comms = provider.NewCommsCache(client, settings.CommsTTL, a.metrics)
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:            "LCARS OS",
		Width:            1440,
		Height:           900,
		BackgroundColour: &options.RGBA{R: 0, G: 0, B: 0, A: 255},
		AssetServer:      assetOptions,
		OnStartup:        a.Startup,
		OnShutdown:       a.Shutdown,
		Bind:             []interface{}{a},
	})
}

// Startup stores the Wails runtime context and starts background services.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	settings := a.Settings
	a.mu.Unlock()

	removed, err := dictation.CleanupSessionFiles(settings.DataDir)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Clean stale dictation files")
	} else if removed > 0 {
		a.logger.Info().Int("removed", removed).Msg("Removed stale dictation files")
	}

	watcher, err := dictation.NewWatcher(settings.DataDir, a.publishDictationUpdate)
	if err == nil {
		err = watcher.Start(a.baseCtx)
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("Dictation watcher unavailable; UI falls back to polling")
		if watcher != nil {
			watcher.Stop()
		}
	} else {
		a.watcher = watcher
	}

	if a.debug != nil {
		a.debug.Start()
		a.logger.Info().Str("addr", settings.DebugAddr).Msg("Debug server listening")
	}
}

// Shutdown stops the helper, the watcher and the debug server.
func (a *App) Shutdown(ctx context.Context) {
	a.dictation.Shutdown()
	a.cancelBase()
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.debug != nil {
		if err := a.debug.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Debug server shutdown")
		}
	}

	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	a.logger.Info().Msg("LCARS OS host stopped")
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics
// and the provider. Data dir and helper changes apply on the next launch.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.configureProvider(normalized)
	a.refreshDiagnosticsFromSettings(normalized)
	logging.SetLevel(normalized.LogLevel)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

// PickDirectory opens a native directory picker, e.g. for the file browser
// or the data dir setting.
func (a *App) PickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(title) == "" {
		title = "Select directory"
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            title,
		DefaultDirectory: a.homeDir,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// push sends a runtime event to the UI when the runtime is up.
func (a *App) push(name string, payload interface{}) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	emit := a.emit
	a.mu.Unlock()
	if ctx != nil && emit != nil {
		emit(ctx, name, payload)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// requestContext is the parent for provider calls; it ends at shutdown.
func (a *App) requestContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.baseCtx == nil {
		return context.Background()
	}
	return a.baseCtx
}
