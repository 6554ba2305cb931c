// Package main provides the entry point for the DataGate shell.
// The shell supervises a separate engine process over local IPC channels,
// starts and stops its session, and mirrors the engine state in a terminal
// shell, a system tray icon or plain command output.
//
// Features:
//   - Attach to a running engine or spawn one on demand
//   - Automatic reconnect with capped exponential backoff
//   - Profile and server catalog management
//   - Secure credential storage using the system keyring
//   - Command-line interface for scripting and automation
//
// Usage:
//
//	datagate-shell [options]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/yllada/datagate-shell/cli"
	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/config"
	"github.com/yllada/datagate-shell/ui"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

type options struct {
	showVersion bool
	verbose     bool
	showHelp    bool
	configPath  string
	tray        bool
	plain       bool

	status     bool
	connect    bool
	profile    string
	disconnect bool
	profiles   bool
	servers    bool
	history    int

	importFile  string
	name        string
	username    string
	setPassword string
	remove      string
}

func (o options) cliMode() bool {
	return o.status || o.connect || o.disconnect || o.profiles || o.servers || o.history > 0 ||
		o.importFile != "" || o.setPassword != "" || o.remove != ""
}

func parseFlags(args []string) (options, error) {
	var o options
	flags := pflag.NewFlagSet("datagate-shell", pflag.ContinueOnError)
	flags.Usage = cli.PrintHelp

	flags.BoolVar(&o.showVersion, "version", false, "Show version and exit")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVarP(&o.showHelp, "help", "h", false, "Show help message")
	flags.StringVar(&o.configPath, "config", "", "Use an alternate configuration file")
	flags.BoolVar(&o.tray, "tray", false, "Run the system tray shell")
	flags.BoolVar(&o.plain, "plain", false, "Print engine events instead of the terminal shell")

	flags.BoolVar(&o.status, "status", false, "Show the engine session status")
	flags.StringVar(&o.profile, "connect", "", "Start a session, optionally switching profile")
	flags.Lookup("connect").NoOptDefVal = " "
	flags.BoolVar(&o.disconnect, "disconnect", false, "Stop the running session")
	flags.BoolVar(&o.profiles, "profiles", false, "List configured profiles")
	flags.BoolVar(&o.servers, "servers", false, "List the server catalog")
	flags.IntVar(&o.history, "history", 0, "Show the last N journal entries")
	flags.StringVar(&o.importFile, "import", "", "Import an OpenVPN config as a new profile")
	flags.StringVar(&o.name, "name", "", "Profile name for --import")
	flags.StringVar(&o.username, "username", "", "Username for --import")
	flags.StringVar(&o.setPassword, "set-password", "", "Save a password for a profile")
	flags.StringVar(&o.remove, "remove", "", "Delete a profile and its saved password")

	if err := flags.Parse(args); err != nil {
		return o, err
	}
	o.connect = flags.Changed("connect")
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Handle help flag
	if opts.showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	// Handle version flag
	if opts.showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	interactive := !opts.cliMode() && !opts.tray && !opts.plain && term.IsTerminal(int(os.Stdout.Fd()))

	// Initialize logger with structured logging and file output
	logLevel := common.LevelInfo
	if opts.verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
		Quiet:       interactive || (opts.cliMode() && !opts.verbose),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		common.LogWarn("Using default configuration: %v", err)
		cfg = config.DefaultConfig()
	}

	app, err := ui.NewApp(ctx, cfg, ui.AppOptions{
		Version:     appVersion,
		ConfigPath:  opts.configPath,
		ForwardLogs: interactive || opts.tray,
		NoJournal:   opts.profiles || opts.servers || opts.importFile != "" || opts.setPassword != "" || opts.remove != "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if opts.cliMode() {
		if err := runCLI(ctx, app, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	if err := app.Start(ctx); err != nil {
		common.LogInfo("No running engine to attach to: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			common.LogWarn("Shutdown: %v", err)
		}
	}()

	switch {
	case opts.tray:
		app.RunTray(ctx)
	case interactive:
		if err := app.RunTerminal(ctx); err != nil {
			common.LogError("Terminal shell failed: %v", err)
		}
	default:
		runPlain(ctx, app)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// runCLI handles command-line interface operations.
// It accepts a context for graceful shutdown support.
func runCLI(ctx context.Context, app *ui.App, opts options) error {
	cliApp := cli.New(app)

	// Check if context is already cancelled before proceeding
	select {
	case <-ctx.Done():
		common.LogInfo("Operation cancelled before execution")
		return nil
	default:
	}

	switch {
	case opts.profiles:
		return cliApp.ListProfiles()
	case opts.servers:
		return cliApp.ListServers()
	case opts.importFile != "":
		return cliApp.ImportProfile(opts.importFile, opts.name, opts.username)
	case opts.setPassword != "":
		return cliApp.SetPassword(opts.setPassword)
	case opts.remove != "":
		return cliApp.RemoveProfile(opts.remove)
	case opts.history > 0:
		defer app.Detach()
		return cliApp.History(ctx, opts.history)
	case opts.connect:
		return cliApp.Connect(ctx, strings.TrimSpace(opts.profile))
	case opts.disconnect:
		return cliApp.Disconnect(ctx)
	default:
		return cliApp.Status(ctx)
	}
}

// runPlain connects and prints status changes until ctx ends. Log lines
// reach stdout through the logger.
func runPlain(ctx context.Context, app *ui.App) {
	changes, unsubscribe := app.Store.Subscribe()
	defer unsubscribe()

	if err := app.Connect(ctx); err != nil {
		common.LogWarn("Connect failed: %v", err)
	}

	last := ""
	for {
		snap := app.Store.Snapshot()
		if snap.StatusText != last {
			fmt.Printf("[%s] %s\n", snap.Status, snap.StatusText)
			last = snap.StatusText
		}

		select {
		case <-ctx.Done():
			return
		case <-changes:
		}
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
