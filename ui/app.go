package ui

import (
	"context"
	"fmt"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/config"
	"github.com/yllada/datagate-shell/engine"
	"github.com/yllada/datagate-shell/ipc"
	"github.com/yllada/datagate-shell/journal"
	"github.com/yllada/datagate-shell/keyring"
	"github.com/yllada/datagate-shell/vpn"
)

// AppOptions tune how an App is assembled.
type AppOptions struct {
	Version string
	// ConfigPath is where SaveConfig writes. Empty means the default path.
	ConfigPath string
	// ForwardLogs mirrors logger output into the log panel.
	ForwardLogs bool
	// NoJournal skips opening the lifecycle journal.
	NoJournal bool
	// NoNotifications disables desktop notifications regardless of config.
	NoNotifications bool
	// Credentials overrides the default keyring.
	Credentials *keyring.Keyring
}

// App wires the engine supervisor, controller and shells together.
type App struct {
	Config     *config.Config
	ConfigPath string
	Version    string
	Store      *Store
	Supervisor *engine.Supervisor
	Controller *vpn.Controller
	Monitor    *vpn.StatusMonitor
	Profiles   *vpn.ProfileManager
	Catalog    *vpn.ServerCatalog
	Servers    *vpn.ServerSelector
	// Credentials holds saved profile passwords.
	Credentials *keyring.Keyring
	// Journal is nil when the journal could not be opened.
	Journal *journal.Journal
}

// NewApp assembles an App from cfg.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	profiles, err := vpn.NewDefaultProfileManager()
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	catalog, err := loadCatalog()
	if err != nil {
		common.LogWarn("Server catalog unavailable: %v", err)
		catalog = &vpn.ServerCatalog{}
	}
	selector := vpn.NewServerSelector(catalog)

	credentials := opts.Credentials
	if credentials == nil {
		credentials = keyring.Default()
	}

	app := &App{
		Config:     cfg,
		ConfigPath: opts.ConfigPath,
		Version:    opts.Version,
		Store:      NewStore(common.MaxLogLines),
		Profiles:   profiles,
		Catalog:    catalog,
		Servers:    selector,

		Credentials: credentials,
	}

	payload := vpn.NewPayloadBuilder(profiles, selector, credentials, func() string {
		return cfg.ActiveProfile
	})

	app.Supervisor = engine.NewSupervisor(engine.Config{
		Namespace:    cfg.PipeNamespace,
		SessionID:    cfg.SessionID,
		Dialer:       ipc.UnixDialer{Dir: cfg.SocketDirectory()},
		Resolver:     engine.PathResolver{Override: cfg.EnginePath},
		Payload:      payload,
		Timeouts:     engine.TimeoutsFromConfig(cfg.Timeouts),
		CleanupStale: true,
	})

	ctrlOpts := vpn.ControllerOptions{
		SessionID:   cfg.SessionID,
		ForwardLogs: opts.ForwardLogs,
		NoReconnect: !cfg.AutoReconnect,
	}

	if !opts.NoJournal {
		if j, err := journal.OpenDefault(ctx); err != nil {
			common.LogWarn("Journal disabled: %v", err)
		} else {
			app.Journal = j
			ctrlOpts.Journal = j
		}
	}

	if cfg.ShowNotifications && !opts.NoNotifications {
		if n, err := NewDesktopNotifier(); err != nil {
			common.LogDebug("Desktop notifications unavailable: %v", err)
		} else {
			ctrlOpts.Notifier = n
		}
	}

	app.Controller = vpn.NewController(app.Supervisor, app.Store, ctrlOpts)
	monitorCfg := vpn.DefaultMonitorConfig()
	monitorCfg.Interval = cfg.Timeouts.StatusPoll
	if cfg.Timeouts.GetStatus > 0 {
		monitorCfg.Timeout = cfg.Timeouts.GetStatus
	}
	app.Monitor = vpn.NewStatusMonitor(app.Controller, monitorCfg)
	app.Monitor.SetOnHealthChange(func(oldState, newState vpn.HealthState) {
		common.LogDebug("Engine health %s -> %s", oldState, newState)
	})

	return app, nil
}

// Start attaches to a running engine and begins status polling.
func (a *App) Start(ctx context.Context) error {
	err := a.Controller.Load(ctx)
	a.Monitor.Start()
	return err
}

// Connect, Disconnect and RefreshStatus satisfy Actions.
func (a *App) Connect(ctx context.Context) error { return a.Controller.Connect(ctx) }

func (a *App) Disconnect(ctx context.Context) error { return a.Controller.Disconnect(ctx) }

// RefreshStatus also rereads the server catalog so edits apply to the next
// connect without a restart.
func (a *App) RefreshStatus(ctx context.Context) error {
	if err := a.ReloadServers(); err != nil {
		common.LogWarn("Server catalog not reloaded: %v", err)
	}
	return a.Controller.RefreshStatus(ctx)
}

// ReloadServers rereads the catalog file and hands it to the selector.
// The current catalog stays in place when the file cannot be parsed.
func (a *App) ReloadServers() error {
	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	a.Catalog = catalog
	a.Servers.SetCatalog(catalog)
	return nil
}

func loadCatalog() (*vpn.ServerCatalog, error) {
	path, err := vpn.DefaultServersPath()
	if err != nil {
		return nil, err
	}
	return vpn.LoadServerCatalog(path)
}

// RunTerminal runs the interactive terminal shell until it quits or ctx ends.
func (a *App) RunTerminal(ctx context.Context) error {
	return RunTerminal(ctx, a.Store, a, ThemeFor(a.Config.Theme))
}

// RunTray runs the system tray shell. It blocks until the tray quits.
func (a *App) RunTray(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tray := NewTrayShell(ctx, a.Store, a, cancel)
	go func() {
		<-ctx.Done()
		tray.Quit()
	}()
	tray.Run()
}

// SaveConfig persists the configuration to ConfigPath.
func (a *App) SaveConfig() error {
	if a.ConfigPath != "" {
		return a.Config.SaveTo(a.ConfigPath)
	}
	return a.Config.Save()
}

// Close stops polling, shuts the engine down and releases resources.
func (a *App) Close() error {
	a.Monitor.Stop()
	a.Controller.Shutdown()
	return a.closeJournal()
}

// Detach stops polling and drops the engine connection without stopping
// the engine, so a started session keeps running after the shell exits.
func (a *App) Detach() error {
	a.Monitor.Stop()
	a.Controller.Detach()
	return a.closeJournal()
}

func (a *App) closeJournal() error {
	if a.Journal == nil {
		return nil
	}
	return a.Journal.Close()
}
