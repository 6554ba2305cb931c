// Package cli provides command-line interface functionality for DataGate.
// This allows users to drive the engine session from scripts without
// launching an interactive shell.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/journal"
	"github.com/yllada/datagate-shell/ui"
	"github.com/yllada/datagate-shell/vpn"
)

// CLI represents the command-line interface.
type CLI struct {
	app *ui.App
	out io.Writer
	// readPassword reads a secret without echoing it.
	readPassword func() (string, error)
}

// New creates a new CLI instance around an assembled App.
func New(app *ui.App) *CLI {
	return &CLI{app: app, out: os.Stdout, readPassword: readStdinPassword}
}

// readStdinPassword reads from the terminal with echo off, or takes the
// first line when stdin is piped.
func readStdinPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(data), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Status attaches to a running engine and prints the session state.
func (c *CLI) Status(ctx context.Context) error {
	err := c.app.Controller.Load(ctx)
	defer c.app.Detach()

	snap := c.app.Store.Snapshot()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STATUS\t%s\n", snap.Status)
	fmt.Fprintf(w, "DETAIL\t%s\n", snap.StatusText)
	fmt.Fprintf(w, "SESSION\t%s\n", c.app.Config.SessionID)
	fmt.Fprintf(w, "PROFILE\t%s\n", c.activeProfileName())
	if info, ok := c.app.Supervisor.Process(); ok {
		fmt.Fprintf(w, "ENGINE PID\t%d\n", info.PID)
	}
	w.Flush()

	if errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Connect starts a session and waits until the engine reports it connected.
// nameOrID, when set, makes that profile active first. The engine keeps
// running after the command returns.
func (c *CLI) Connect(ctx context.Context, nameOrID string) error {
	if nameOrID != "" {
		profile := findProfile(c.app.Profiles.List(), nameOrID)
		if profile == nil {
			return fmt.Errorf("profile not found: %s", nameOrID)
		}
		if c.app.Config.ActiveProfile != profile.ID {
			c.app.Config.ActiveProfile = profile.ID
			if err := c.app.SaveConfig(); err != nil {
				common.LogWarn("Could not persist active profile: %v", err)
			}
		}
	}

	name := c.activeProfileName()
	fmt.Fprintf(c.out, "Connecting to %s...\n", name)
	defer c.app.Detach()

	if err := c.app.Controller.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, common.ConnectionTimeout)
	defer cancel()

	snap, err := c.app.Store.WaitFor(waitCtx, func(s ui.Snapshot) bool {
		return s.Status == common.StatusConnected
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("connection timed out (%s)", c.app.Store.Snapshot().StatusText)
		}
		return err
	}

	if id := c.app.Config.ActiveProfile; id != "" {
		if err := c.app.Profiles.MarkUsed(id); err != nil {
			common.LogDebug("Could not mark profile used: %v", err)
		}
	}
	fmt.Fprintf(c.out, "✓ %s\n", snap.StatusText)
	return nil
}

// Disconnect attaches to a running engine and stops its session.
func (c *CLI) Disconnect(ctx context.Context) error {
	defer c.app.Detach()

	if err := c.app.Controller.Load(ctx); err != nil {
		fmt.Fprintln(c.out, "No running engine.")
		return nil
	}

	fmt.Fprintln(c.out, "Disconnecting...")
	if err := c.app.Controller.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	fmt.Fprintln(c.out, "✓ Disconnected")
	return nil
}

// ListProfiles lists all configured profiles.
func (c *CLI) ListProfiles() error {
	renderProfiles(c.out, c.app.Profiles.List(), c.app.Config.ActiveProfile, c.app.Credentials.Exists)
	return nil
}

// ImportProfile copies an OpenVPN configuration into a new profile. The
// name defaults to the file name without its extension.
func (c *CLI) ImportProfile(path, name, username string) error {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	profile := &vpn.Profile{
		Name:             name,
		ConfigPath:       path,
		Username:         username,
		VerifyServerCert: true,
	}
	if err := c.app.Profiles.Add(profile); err != nil {
		return fmt.Errorf("failed to import profile: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Imported %s (%s)\n", profile.Name, shortID(profile.ID))
	return nil
}

// SetPassword reads a password and saves it in the keyring for a profile.
func (c *CLI) SetPassword(nameOrID string) error {
	profile := findProfile(c.app.Profiles.List(), nameOrID)
	if profile == nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
	}

	fmt.Fprintf(c.out, "Password for %s: ", profile.Name)
	password, err := c.readPassword()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if err := c.app.Credentials.Store(profile.ID, password); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}

	if !profile.SavePassword {
		profile.SavePassword = true
		if err := c.app.Profiles.Update(profile); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
	}
	if profile.Username == "" {
		fmt.Fprintf(c.out, "Note: %s has no username, so the password is not sent\n", profile.Name)
	}
	fmt.Fprintf(c.out, "✓ Password saved for %s\n", profile.Name)
	return nil
}

// RemoveProfile deletes a profile with its configuration copy and saved
// password.
func (c *CLI) RemoveProfile(nameOrID string) error {
	profile := findProfile(c.app.Profiles.List(), nameOrID)
	if profile == nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
	}
	if err := c.app.Profiles.Remove(profile.ID); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	if err := c.app.Credentials.Delete(profile.ID); err != nil {
		common.LogWarn("Could not delete saved password for %s: %v", profile.Name, err)
	}

	if c.app.Config.ActiveProfile == profile.ID {
		c.app.Config.ActiveProfile = ""
		if err := c.app.SaveConfig(); err != nil {
			common.LogWarn("Could not persist active profile: %v", err)
		}
	}
	fmt.Fprintf(c.out, "✓ Removed %s\n", profile.Name)
	return nil
}

// ListServers lists the server catalog in selection order.
func (c *CLI) ListServers() error {
	renderServers(c.out, c.app.Catalog)
	return nil
}

// History prints the most recent journal entries.
func (c *CLI) History(ctx context.Context, limit int) error {
	if c.app.Journal == nil {
		return errors.New("journal is not available")
	}
	entries, err := c.app.Journal.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	renderHistory(c.out, entries)
	return nil
}

func (c *CLI) activeProfileName() string {
	id := c.app.Config.ActiveProfile
	if id == "" {
		return "-"
	}
	if profile, err := c.app.Profiles.Get(id); err == nil {
		return profile.Name
	}
	if profile, err := c.app.Profiles.GetByName(id); err == nil {
		return profile.Name
	}
	return id
}

// findProfile finds a profile by name, ID or ID prefix (case-insensitive).
func findProfile(profiles []*vpn.Profile, nameOrID string) *vpn.Profile {
	nameOrID = strings.ToLower(strings.TrimSpace(nameOrID))
	if nameOrID == "" {
		return nil
	}

	for _, profile := range profiles {
		if strings.ToLower(profile.Name) == nameOrID ||
			strings.ToLower(profile.ID) == nameOrID ||
			strings.HasPrefix(strings.ToLower(profile.ID), nameOrID) {
			return profile
		}
	}

	return nil
}

// renderProfiles prints the profile table. saved reports whether a
// password is stored for a profile ID.
func renderProfiles(out io.Writer, profiles []*vpn.Profile, active string, saved func(id string) bool) {
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No profiles configured.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tID\tNAME\tSERVER\tLISTEN\tPASSWORD\tLAST USED")
	fmt.Fprintln(w, " \t--\t----\t------\t------\t--------\t---------")

	for _, profile := range profiles {
		marker := " "
		if profile.ID == active {
			marker = "*"
		}

		server := profile.Server
		if server == "" {
			server = "auto"
		}

		password := "-"
		if saved != nil && saved(profile.ID) {
			password = "saved"
		}

		lastUsed := "never"
		if !profile.LastUsed.IsZero() {
			lastUsed = formatDuration(time.Since(profile.LastUsed)) + " ago"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s:%d\t%s\t%s\n",
			marker, shortID(profile.ID), profile.Name, server, profile.ListenIP, profile.ListenPort, password, lastUsed)
	}

	w.Flush()
}

func renderServers(out io.Writer, catalog *vpn.ServerCatalog) {
	if catalog == nil || len(catalog.Servers) == 0 {
		fmt.Fprintln(out, "No servers configured.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENDPOINT\tONLINE\tCLIENTS")
	fmt.Fprintln(w, "--\t----\t--------\t------\t-------")

	for _, srv := range catalog.Ranked() {
		online := "no"
		if srv.Online {
			online = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s:%d%s\t%s\t%d\n",
			srv.ID, srv.Name, srv.Host, srv.Port, srv.Path, online, srv.Clients)
	}

	w.Flush()
}

func renderHistory(out io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tSTATE\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Time.Local().Format("2006-01-02 15:04:05"), e.Kind, e.State, e.Detail)
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`DataGate - Command Line Interface

Usage:
  datagate-shell [OPTIONS]

Options:
  --version          Show version and exit
  --verbose          Enable verbose logging
  --config PATH      Use an alternate configuration file
  --status           Show the engine session status
  --connect[=NAME]   Start a session (optionally switching profile)
  --disconnect       Stop the running session
  --profiles         List configured profiles
  --import FILE      Import an OpenVPN config as a new profile
  --name NAME        Profile name for --import (default: file name)
  --username USER    Username for --import
  --set-password P   Save a password for profile P in the keyring
  --remove P         Delete profile P and its saved password
  --servers          List the server catalog in selection order
  --history N        Show the last N journal entries
  --tray             Run the system tray shell
  --plain            Print engine events instead of the terminal shell
  --help             Show this help message

Examples:
  datagate-shell --status
  datagate-shell --connect=Office
  datagate-shell --disconnect
  datagate-shell --history 50
  datagate-shell --import office.ovpn --name Office --username alice
  echo "$PASS" | datagate-shell --set-password Office

Notes:
  - Sessions started from the CLI keep running after the command exits
  - Profiles with saved passwords connect without prompting
  - Run without options to launch the terminal shell`)
}
