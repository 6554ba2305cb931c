// Package vpn provides VPN session management functionality.
// This file contains the Controller, the connection state machine that
// drives the engine supervisor from user intent and engine events.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/ipc"
	"github.com/yllada/datagate-shell/journal"
)

// errNotStarted is returned by Connect when the engine declined to start.
var errNotStarted = errors.New("session not started")

// Engine is the supervisor surface the Controller drives.
// *engine.Supervisor implements it.
type Engine interface {
	Events() <-chan ipc.EngineEvent
	Attach(ctx context.Context) error
	AttachOrStart(ctx context.Context) error
	IsAttached() bool
	GetState(ctx context.Context) (string, error)
	StartSession(ctx context.Context) (bool, error)
	StopSessionSafe(ctx context.Context)
	Detach()
	Close() error
}

// Recorder stores lifecycle entries. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// ControllerOptions holds the optional collaborators of a Controller.
type ControllerOptions struct {
	// SessionID labels journal entries.
	SessionID string
	// Policy computes reconnect delays. Defaults to DefaultReconnectDelay.
	Policy ReconnectPolicy
	// After is the clock used to wait out reconnect delays.
	// Defaults to time.After.
	After func(time.Duration) <-chan time.Time
	// Journal records state transitions when set.
	Journal Recorder
	// Notifier shows desktop notifications when set.
	Notifier common.Notifier
	// ForwardLogs sends every logger line to the UI log panel.
	ForwardLogs bool
	// NoReconnect disables automatic reconnects.
	NoReconnect bool
}

// Controller is the connection state machine.
// Connect and Disconnect sequences are serialized by a single-flight lock;
// status refreshes run outside it.
type Controller struct {
	engine   Engine
	ui       common.UI
	opts     ControllerOptions
	opLock   *semaphore.Weighted
	lifetime context.Context
	cancel   context.CancelFunc

	mu               sync.Mutex
	status           common.ConnectionStatus
	statusText       string
	desired          bool
	attempts         int
	inFlight         bool
	reconnectPending bool
	reconnectCancel  chan struct{}

	removeSink func()
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewController creates a Controller in the Idle state and starts
// consuming engine events.
func NewController(engine Engine, ui common.UI, opts ControllerOptions) *Controller {
	if opts.Policy == nil {
		opts.Policy = DefaultReconnectDelay
	}
	if opts.After == nil {
		opts.After = time.After
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:   engine,
		ui:       ui,
		opts:     opts,
		opLock:   semaphore.NewWeighted(1),
		lifetime: ctx,
		cancel:   cancel,
	}

	if opts.ForwardLogs {
		c.removeSink = common.GetLogger().AddSink(ui.AppendLog)
	}

	c.apply(common.StatusIdle, "Idle")
	ui.AppendLog("UI ready.")

	c.wg.Add(1)
	go c.eventLoop()

	return c
}

// Status returns the current state and status line.
func (c *Controller) Status() (common.ConnectionStatus, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.statusText
}

// Desired reports whether the user wants the session up.
func (c *Controller) Desired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}

// Attempts returns the reconnect attempt counter.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Busy reports whether a Connect or Disconnect sequence holds the lock.
func (c *Controller) Busy() bool {
	if c.opLock.TryAcquire(1) {
		c.opLock.Release(1)
		return false
	}
	return true
}

// Load attaches to an already running engine without starting one and
// refreshes the displayed status.
func (c *Controller) Load(ctx context.Context) error {
	ctx, cancel := c.bind(ctx)
	defer cancel()

	c.mu.Lock()
	c.desired = false
	c.mu.Unlock()

	c.apply(common.StatusConnecting, "Attaching...")
	if err := c.engine.Attach(ctx); err != nil {
		common.LogError("Attach failed: %v", err)
		c.apply(common.StatusIdle, fmt.Sprintf("Idle (attach failed: %v)", err))
		return err
	}
	return c.RefreshStatus(ctx)
}

// RefreshStatus queries the engine state and updates the UI.
func (c *Controller) RefreshStatus(ctx context.Context) error {
	ctx, cancel := c.bind(ctx)
	defer cancel()

	if !c.engine.IsAttached() {
		c.apply(common.StatusIdle, "Idle (not attached)")
		return nil
	}

	state, err := c.engine.GetState(ctx)
	if err != nil {
		common.LogWarn("Status refresh failed: %v", err)
		return err
	}
	c.applyEngineState(state)
	return nil
}

// Connect marks the session as desired and runs the connect sequence
// unless one is already running or the session is up.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.desired = true
	c.mu.Unlock()
	return c.ensureConnected(ctx)
}

func (c *Controller) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight || c.status == common.StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.inFlight = true
	c.mu.Unlock()

	ctx, cancel := c.bind(ctx)
	defer cancel()

	if err := c.opLock.Acquire(ctx, 1); err != nil {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		return err
	}

	err := c.runConnect(ctx)

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
	c.opLock.Release(1)

	if err != nil {
		c.scheduleReconnect()
	}
	return err
}

func (c *Controller) runConnect(ctx context.Context) error {
	c.apply(common.StatusConnecting, "Connecting...")

	if err := c.engine.AttachOrStart(ctx); err != nil {
		return c.connectFailed(err)
	}

	state, err := c.engine.GetState(ctx)
	if err != nil {
		return c.connectFailed(err)
	}
	if !common.IsIdleState(state) {
		c.apply(common.StatusConnected, connectedText(state))
		return nil
	}

	started, err := c.engine.StartSession(ctx)
	if err != nil {
		return c.connectFailed(err)
	}
	if !started {
		c.apply(common.StatusIdle, "Idle (start failed)")
		return errNotStarted
	}

	c.apply(common.StatusConnecting, "Connecting (waiting for events)...")
	return nil
}

func (c *Controller) connectFailed(err error) error {
	common.LogError("Connect failed: %v", err)
	c.apply(common.StatusIdle, fmt.Sprintf("Idle (error: %v)", err))
	return err
}

// Disconnect clears the desired flag, cancels a pending reconnect and
// stops the session. It always ends in Idle once the lock is taken.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.desired = false
	c.cancelReconnectLocked()
	c.mu.Unlock()

	ctx, cancel := c.bind(ctx)
	defer cancel()

	if err := c.opLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.opLock.Release(1)

	c.apply(common.StatusDisconnecting, "Disconnecting...")
	c.engine.StopSessionSafe(ctx)
	c.apply(common.StatusIdle, "Idle")
	return nil
}

func (c *Controller) cancelReconnectLocked() {
	if c.reconnectCancel != nil {
		close(c.reconnectCancel)
		c.reconnectCancel = nil
	}
	c.reconnectPending = false
}

// scheduleReconnect waits out the policy delay for the next attempt and
// runs the connect sequence again if the session is still desired.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	if c.opts.NoReconnect || !c.desired || c.reconnectPending || c.lifetime.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.opts.Policy(attempt)
	cancelled := make(chan struct{})
	c.reconnectPending = true
	c.reconnectCancel = cancelled
	c.mu.Unlock()

	c.apply(common.StatusConnecting, fmt.Sprintf("Reconnecting in %.0fs...", delay.Seconds()))
	common.LogInfo("Reconnect scheduled. Attempt=%d, Delay=%s", attempt, delay)
	c.record(journal.KindReconnect, "", fmt.Sprintf("attempt %d in %s", attempt, delay))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case <-c.opts.After(delay):
		case <-cancelled:
			return
		case <-c.lifetime.Done():
			return
		}

		c.mu.Lock()
		if c.reconnectCancel != cancelled {
			c.mu.Unlock()
			return
		}
		c.reconnectPending = false
		c.reconnectCancel = nil
		again := c.desired
		c.mu.Unlock()

		if again {
			c.ensureConnected(c.lifetime)
		}
	}()
}

func (c *Controller) eventLoop() {
	defer c.wg.Done()
	events := c.engine.Events()
	for {
		select {
		case <-c.lifetime.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) handleEvent(ev ipc.EngineEvent) {
	switch e := ev.(type) {
	case ipc.EventStateChanged:
		c.ui.SetStatusText("State: " + orPlaceholder(e.State, "?"))
		c.applyEngineState(e.State)

	case ipc.EventConnected:
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		text := "Connected"
		if e.VpnIPv4 != "" {
			text = fmt.Sprintf("Connected (%s)", e.VpnIPv4)
		}
		c.apply(common.StatusConnected, text)
		c.notify("Connected", text)

	case ipc.EventDisconnected:
		reason := orPlaceholder(e.Reason, "Unknown")
		common.LogInfo("Disconnected: %s", reason)
		c.applyIdle(fmt.Sprintf("Idle (disconnected: %s)", reason))
		c.notify("Disconnected", reason)
		c.scheduleReconnect()

	case ipc.EventEngineExited:
		text := fmt.Sprintf("Idle (engine exited with code %d)", e.ExitCode)
		c.record(journal.KindEngine, "", text)
		c.applyIdle(text)
		c.notify("Engine stopped", fmt.Sprintf("The engine exited with code %d", e.ExitCode))
		c.scheduleReconnect()

	case ipc.EventTransportClosed:
		c.applyIdle("Idle (engine connection lost)")
		c.scheduleReconnect()

	case ipc.EventError:
		common.LogError("Engine error %s: %s", orPlaceholder(e.Code, "UNKNOWN"), e.Message)

	case ipc.EventOther:
		common.LogDebug("Unhandled engine event %s", e.RawType)
	}
}

// applyIdle shows an idle status unless a reconnect countdown is already
// on screen, which stays until the attempt runs.
func (c *Controller) applyIdle(text string) {
	c.mu.Lock()
	pending := c.reconnectPending
	c.mu.Unlock()
	if pending {
		common.LogInfo("%s while reconnect pending", text)
		return
	}
	c.apply(common.StatusIdle, text)
}

func (c *Controller) applyEngineState(state string) {
	if common.IsIdleState(state) {
		c.apply(common.StatusIdle, "Idle")
		return
	}
	c.apply(common.StatusConnected, connectedText(state))
}

func (c *Controller) apply(status common.ConnectionStatus, text string) {
	c.mu.Lock()
	changed := c.status != status || c.statusText != text
	c.status = status
	c.statusText = text
	c.mu.Unlock()

	c.ui.ApplyState(status, text)
	if changed {
		c.record(journal.KindState, status.String(), text)
	}
}

func (c *Controller) record(kind, state, detail string) {
	if c.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.opts.Journal.Record(ctx, journal.Entry{
		SessionID: c.opts.SessionID,
		Kind:      kind,
		State:     state,
		Detail:    detail,
	})
	if err != nil {
		common.LogDebug("Journal write failed: %v", err)
	}
}

func (c *Controller) notify(title, message string) {
	if c.opts.Notifier == nil {
		return
	}
	if err := c.opts.Notifier.Notify(title, message); err != nil {
		common.LogDebug("Notification failed: %v", err)
	}
}

// bind derives a context that also ends with the controller lifetime.
func (c *Controller) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Shutdown cancels pending work and disposes the engine connection,
// terminating an engine this shell started.
func (c *Controller) Shutdown() {
	c.stop(func() {
		if err := c.engine.Close(); err != nil {
			common.LogWarn("Engine shutdown: %v", err)
		}
	})
}

// Detach cancels pending work and drops the engine connection while
// leaving the engine process running.
func (c *Controller) Detach() {
	c.stop(c.engine.Detach)
}

func (c *Controller) stop(release func()) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.cancelReconnectLocked()
		c.mu.Unlock()

		release()
		c.wg.Wait()

		if c.removeSink != nil {
			c.removeSink()
		}
	})
}

func connectedText(state string) string {
	return fmt.Sprintf("Connected (%s)", orPlaceholder(state, "unknown"))
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
