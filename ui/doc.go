// Package ui provides the user-facing shells for DataGate.
//
// All shells render from a single Store, which implements common.UI and is
// driven by the vpn.Controller. The Store is safe for concurrent use, so
// controller goroutines may update it directly.
//
// # Shells
//
//   - Model / RunTerminal: interactive terminal shell built on bubbletea
//   - TrayShell: system tray icon and menu
//   - DesktopNotifier: freedesktop notifications over the session bus
//
// # Composition
//
// App is the composition root. It loads profiles and the server catalog,
// builds the engine Supervisor and the Controller, opens the journal and
// starts the status monitor.
//
// # File Organization
//
//   - app.go: App composition root
//   - store.go: shared UI state and change subscriptions
//   - tui.go: terminal shell
//   - tray.go: system tray shell
//   - icons.go: icon generation for the tray
//   - styles.go: lipgloss themes and styles
//   - notifications.go: desktop notification integration
package ui
