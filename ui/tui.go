// Package ui provides the user-facing shells for the DataGate shell.
// This file contains the interactive terminal shell.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/datagate-shell/common"
)

// Actions are the user commands a shell can trigger.
// *vpn.Controller implements it.
type Actions interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	RefreshStatus(ctx context.Context) error
}

// KeyMap defines the key bindings of the terminal shell.
type KeyMap struct {
	Connect    key.Binding
	Disconnect key.Binding
	Refresh    key.Binding
	Quit       key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Connect: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "connect"),
	),
	Disconnect: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "disconnect"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// headerLines is the number of rows above the log box.
const headerLines = 5

type storeChangedMsg struct{}

type actionResultMsg struct {
	action string
	err    error
}

// Model is the bubbletea model of the terminal shell.
type Model struct {
	ctx         context.Context
	store       *Store
	actions     Actions
	keys        KeyMap
	styles      Styles
	spinner     spinner.Model
	viewport    viewport.Model
	changes     <-chan struct{}
	unsubscribe func()
	snap        Snapshot
	lastErr     string
	width       int
	height      int
	ready       bool
}

// NewModel creates the terminal shell. Actions run under ctx.
func NewModel(ctx context.Context, store *Store, actions Actions, theme Theme) Model {
	changes, unsubscribe := store.Subscribe()
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(theme.Connecting)

	return Model{
		ctx:         ctx,
		store:       store,
		actions:     actions,
		keys:        DefaultKeyMap,
		styles:      NewStyles(theme),
		spinner:     sp,
		viewport:    viewport.New(0, 0),
		changes:     changes,
		unsubscribe: unsubscribe,
		snap:        store.Snapshot(),
	}
}

// Close releases the store subscription.
func (model Model) Close() {
	if model.unsubscribe != nil {
		model.unsubscribe()
	}
}

// waitForChange blocks until the store signals, then reports it.
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func (model Model) runAction(name string, fn func(context.Context) error) tea.Cmd {
	ctx := model.ctx
	return func() tea.Msg {
		return actionResultMsg{action: name, err: fn(ctx)}
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return tea.Batch(model.spinner.Tick, waitForChange(model.changes))
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.viewport.Width = max(message.Width-4, 10)
		model.viewport.Height = max(message.Height-headerLines-3, 3)
		model.ready = true
		model.refreshLog()
		return model, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit
		case key.Matches(message, model.keys.Connect):
			return model, model.runAction("connect", model.actions.Connect)
		case key.Matches(message, model.keys.Disconnect):
			return model, model.runAction("disconnect", model.actions.Disconnect)
		case key.Matches(message, model.keys.Refresh):
			return model, model.runAction("refresh", model.actions.RefreshStatus)
		}
		var cmd tea.Cmd
		model.viewport, cmd = model.viewport.Update(message)
		return model, cmd

	case storeChangedMsg:
		model.snap = model.store.Snapshot()
		model.refreshLog()
		return model, waitForChange(model.changes)

	case actionResultMsg:
		if message.err != nil {
			model.lastErr = fmt.Sprintf("%s: %v", message.action, message.err)
		} else {
			model.lastErr = ""
		}
		return model, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		model.spinner, cmd = model.spinner.Update(message)
		return model, cmd
	}

	return model, nil
}

// refreshLog reloads the log viewport, following the tail when the view
// was already at the bottom.
func (model *Model) refreshLog() {
	follow := model.viewport.AtBottom() || model.viewport.TotalLineCount() == 0
	model.viewport.SetContent(strings.Join(model.snap.Logs, "\n"))
	if follow {
		model.viewport.GotoBottom()
	}
}

func transitioning(status common.ConnectionStatus) bool {
	return status == common.StatusConnecting || status == common.StatusDisconnecting
}

// View implements tea.Model.
func (model Model) View() string {
	var b strings.Builder

	b.WriteString(model.styles.Title.Render(common.AppName))
	b.WriteString("  ")
	b.WriteString(model.styles.Badge(model.snap.Status))
	if transitioning(model.snap.Status) {
		b.WriteString(" ")
		b.WriteString(model.spinner.View())
	}
	b.WriteString("\n")

	b.WriteString(model.styles.Status.Render(model.snap.StatusText))
	b.WriteString("\n")
	b.WriteString(model.styles.Detail.Render(model.snap.Detail))
	b.WriteString("\n")
	if model.lastErr != "" {
		b.WriteString(model.styles.Detail.Render(model.lastErr))
	}
	b.WriteString("\n")

	if model.ready {
		b.WriteString(model.styles.Log.Render(model.viewport.View()))
		b.WriteString("\n")
	}

	help := []string{
		model.keys.Connect.Help().Key + " " + model.keys.Connect.Help().Desc,
		model.keys.Disconnect.Help().Key + " " + model.keys.Disconnect.Help().Desc,
		model.keys.Refresh.Help().Key + " " + model.keys.Refresh.Help().Desc,
		model.keys.Quit.Help().Key + " " + model.keys.Quit.Help().Desc,
	}
	b.WriteString(model.styles.Help.Render(strings.Join(help, " • ")))

	return b.String()
}

// RunTerminal runs the terminal shell until the user quits or ctx ends.
func RunTerminal(ctx context.Context, store *Store, actions Actions, theme Theme) error {
	model := NewModel(ctx, store, actions, theme)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
