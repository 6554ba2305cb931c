// Package ui provides the user-facing shells for the DataGate shell.
// This file contains desktop notifications over the session D-Bus.
package ui

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/datagate-shell/common"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = notifyDest + ".Notify"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a desktop notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

// icon returns the freedesktop icon name for the notification.
func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "network-vpn-error"
	case NotificationSuccess:
		return "network-vpn"
	default:
		return "network-vpn-disconnected"
	}
}

// urgency maps the type to the freedesktop urgency hint (0 low, 1 normal, 2 critical).
func (n Notification) urgency() byte {
	switch n.Type {
	case NotificationError:
		return 2
	case NotificationWarning:
		return 1
	default:
		return 0
	}
}

// classify picks a notification type from the controller's titles.
func classify(title string) NotificationType {
	switch title {
	case "Connected":
		return NotificationSuccess
	case "Engine stopped":
		return NotificationError
	case "Disconnected":
		return NotificationWarning
	default:
		return NotificationInfo
	}
}

// busObject is the part of a D-Bus object the notifier calls.
type busObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DesktopNotifier sends notifications through org.freedesktop.Notifications.
// It implements common.Notifier.
type DesktopNotifier struct {
	mu      sync.Mutex
	obj     busObject
	enabled bool
	lastID  uint32
}

var _ common.Notifier = (*DesktopNotifier)(nil)

// NewDesktopNotifier connects to the session bus.
func NewDesktopNotifier() (*DesktopNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus unavailable: %w", err)
	}
	return &DesktopNotifier{
		obj:     conn.Object(notifyDest, notifyPath),
		enabled: true,
	}, nil
}

// SetEnabled turns notifications on or off.
func (d *DesktopNotifier) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Notify sends a notification with a type derived from the title.
func (d *DesktopNotifier) Notify(title, message string) error {
	return d.Show(Notification{Title: title, Message: message, Type: classify(title)})
}

// Show sends n, replacing the previous notification from this shell.
func (d *DesktopNotifier) Show(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return nil
	}

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(n.urgency()),
	}
	call := d.obj.Call(notifyMethod, 0,
		common.AppName, d.lastID, n.icon(), n.Title, n.Message,
		[]string{}, hints, int32(-1))
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err == nil {
		d.lastID = id
	}
	return nil
}
