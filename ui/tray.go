// Package ui provides the user-facing shells for the DataGate shell.
// This file contains the system tray shell.
package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/yllada/datagate-shell/common"
)

// trayView is what the tray shows for one snapshot.
type trayView struct {
	Status         string
	Tooltip        string
	Uptime         string
	ShowConnect    bool
	ShowDisconnect bool
	ShowUptime     bool
}

func buildTrayView(s Snapshot, connectedSince, now time.Time) trayView {
	v := trayView{Tooltip: fmt.Sprintf("%s - %s", common.AppName, s.StatusText)}

	switch s.Status {
	case common.StatusConnected:
		v.Status = "●  " + s.StatusText
		v.ShowDisconnect = true
		if !connectedSince.IsZero() {
			v.ShowUptime = true
			v.Uptime = "    ⏱ Uptime: " + formatUptime(now.Sub(connectedSince))
		}
	case common.StatusConnecting:
		v.Status = "⟳  " + s.StatusText
		v.ShowDisconnect = true
	case common.StatusDisconnecting:
		v.Status = "⟳  " + s.StatusText
	default:
		v.Status = "○  " + s.StatusText
		v.ShowConnect = true
	}
	return v
}

func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// TrayShell manages the system tray icon and menu.
type TrayShell struct {
	ctx     context.Context
	store   *Store
	actions Actions
	onQuit  func()

	mu             sync.Mutex
	statusItem     *systray.MenuItem
	uptimeItem     *systray.MenuItem
	connectItem    *systray.MenuItem
	disconnectItem *systray.MenuItem
	lastStatus     common.ConnectionStatus
	connectedSince time.Time
	stop           chan struct{}
}

// NewTrayShell creates a tray shell. onQuit runs when the user picks Quit.
func NewTrayShell(ctx context.Context, store *Store, actions Actions, onQuit func()) *TrayShell {
	return &TrayShell{
		ctx:     ctx,
		store:   store,
		actions: actions,
		onQuit:  onQuit,
		stop:    make(chan struct{}),
	}
}

// Run starts the tray and blocks until Quit.
func (t *TrayShell) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *TrayShell) Quit() {
	systray.Quit()
}

func (t *TrayShell) onReady() {
	systray.SetIcon(StatusIcon(common.StatusIdle))
	systray.SetTitle(common.AppName)
	systray.SetTooltip(common.AppName + " - Idle")

	t.statusItem = systray.AddMenuItem("○  Idle", "Current session status")
	t.statusItem.Disable()
	t.uptimeItem = systray.AddMenuItem("    ⏱ Uptime: --:--:--", "Session duration")
	t.uptimeItem.Disable()
	t.uptimeItem.Hide()

	systray.AddSeparator()

	t.connectItem = systray.AddMenuItem("Connect", "Start the session")
	t.disconnectItem = systray.AddMenuItem("⏹  Disconnect", "Stop the session")
	t.disconnectItem.Hide()

	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Close "+common.AppName)

	go t.clicks(t.connectItem, "connect", t.actions.Connect)
	go t.clicks(t.disconnectItem, "disconnect", t.actions.Disconnect)
	go func() {
		select {
		case <-quitItem.ClickedCh:
			if t.onQuit != nil {
				t.onQuit()
			}
			systray.Quit()
		case <-t.stop:
		}
	}()

	go t.watch()
}

func (t *TrayShell) clicks(item *systray.MenuItem, name string, fn func(context.Context) error) {
	for {
		select {
		case <-t.stop:
			return
		case <-item.ClickedCh:
			go func() {
				if err := fn(t.ctx); err != nil {
					common.LogWarn("Tray %s: %v", name, err)
				}
			}()
		}
	}
}

// watch renders store changes and ticks the uptime counter.
func (t *TrayShell) watch() {
	changes, unsubscribe := t.store.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	t.render()
	for {
		select {
		case <-t.stop:
			return
		case <-changes:
			t.render()
		case <-ticker.C:
			t.render()
		}
	}
}

func (t *TrayShell) render() {
	snap := t.store.Snapshot()

	t.mu.Lock()
	if snap.Status != t.lastStatus {
		if snap.Status == common.StatusConnected {
			t.connectedSince = time.Now()
		} else {
			t.connectedSince = time.Time{}
		}
		t.lastStatus = snap.Status
		systray.SetIcon(StatusIcon(snap.Status))
	}
	view := buildTrayView(snap, t.connectedSince, time.Now())
	t.mu.Unlock()

	systray.SetTooltip(view.Tooltip)
	t.statusItem.SetTitle(view.Status)
	t.uptimeItem.SetTitle(view.Uptime)
	showIf(t.uptimeItem, view.ShowUptime)
	showIf(t.connectItem, view.ShowConnect)
	showIf(t.disconnectItem, view.ShowDisconnect)
}

func showIf(item *systray.MenuItem, show bool) {
	if show {
		item.Show()
	} else {
		item.Hide()
	}
}

func (t *TrayShell) onExit() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	common.LogInfo("Tray shell stopped")
}
