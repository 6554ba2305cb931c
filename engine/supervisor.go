package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/ipc"
)

// Config configures a Supervisor.
type Config struct {
	Namespace string
	SessionID string
	// Dialer opens the channel endpoints.
	Dialer ipc.Dialer
	// Resolver locates the engine executable. A resolver failure still
	// allows attaching to a running engine.
	Resolver common.EnginePathResolver
	// Payload builds the StartSession payload.
	Payload  common.PayloadBuilder
	Timeouts Timeouts
	// LogDir receives spawned engine output. Empty means the app log dir.
	LogDir string
	// CleanupStale kills leftover engines before the first spawn.
	CleanupStale bool
}

// Supervisor sequences attach, start and stop for one engine session.
type Supervisor struct {
	cfg Config

	mu        sync.Mutex
	transport *ipc.Transport
	staleDone bool
	closed    bool

	events chan ipc.EngineEvent
	stop   chan struct{}

	cleaner *staleCleaner
}

// NewSupervisor creates a supervisor. No transport exists until the first
// attach.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Namespace == "" {
		cfg.Namespace = common.DefaultPipeNamespace
	}
	if cfg.SessionID == "" {
		cfg.SessionID = common.DefaultSessionID
	}
	cfg.Timeouts.fill()
	return &Supervisor{
		cfg:     cfg,
		events:  make(chan ipc.EngineEvent, ipc.DefaultEventQueue),
		stop:    make(chan struct{}),
		cleaner: newStaleCleaner(),
	}
}

// SessionID returns the supervised session.
func (s *Supervisor) SessionID() string { return s.cfg.SessionID }

// Events returns engine events from every transport this supervisor
// creates. The channel is never closed.
func (s *Supervisor) Events() <-chan ipc.EngineEvent { return s.events }

// ensureTransport creates the transport on first use.
func (s *Supervisor) ensureTransport() (*ipc.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("supervisor closed: %w", common.ErrTransportClosed)
	}
	if s.transport != nil {
		return s.transport, nil
	}

	var enginePath string
	if s.cfg.Resolver != nil {
		path, err := s.cfg.Resolver.ResolveEnginePath()
		if err != nil {
			common.LogWarn("Engine executable unavailable, attach only: %v", err)
		} else {
			enginePath = path
		}
	}

	t := ipc.NewTransport(ipc.Options{
		Namespace:      s.cfg.Namespace,
		SessionID:      s.cfg.SessionID,
		EnginePath:     enginePath,
		Dialer:         s.cfg.Dialer,
		LogDir:         s.cfg.LogDir,
		AttachProbe:    s.cfg.Timeouts.AttachProbe,
		SpawnConnect:   s.cfg.Timeouts.SpawnConnect,
		EarlyExitGrace: s.cfg.Timeouts.EarlyExitGrace,
		ConnectSlice:   s.cfg.Timeouts.ConnectSlice,
		ShutdownGrace:  s.cfg.Timeouts.ShutdownGrace,
	})
	events, err := t.Events()
	if err != nil {
		t.Dispose()
		return nil, err
	}
	go s.forward(events)

	s.transport = t
	return t, nil
}

func (s *Supervisor) forward(events <-chan ipc.EngineEvent) {
	for ev := range events {
		select {
		case s.events <- ev:
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) current() *ipc.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// IsAttached reports whether both channels are connected.
func (s *Supervisor) IsAttached() bool {
	t := s.current()
	return t != nil && t.IsConnected()
}

// Process returns the owned engine process, if any.
func (s *Supervisor) Process() (ipc.ProcessInfo, bool) {
	t := s.current()
	if t == nil {
		return ipc.ProcessInfo{}, false
	}
	return t.Process()
}

// Attach connects to an engine that is already running. It never spawns.
func (s *Supervisor) Attach(ctx context.Context) error {
	t, err := s.ensureTransport()
	if err != nil {
		return err
	}
	if t.IsConnected() {
		return nil
	}

	attachCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.AttachOnly)
	defer cancel()
	if err := t.TryConnectExisting(attachCtx, s.cfg.Timeouts.AttachOnly); err != nil {
		return fmt.Errorf("%w: %v", common.ErrAttachFailed, describe(t.LastAttachError(), err))
	}
	common.LogInfo("Engine attached (session %s)", s.cfg.SessionID)
	return nil
}

// AttachOrStart tries a short attach and, if no engine answers, resets the
// transport and starts one.
func (s *Supervisor) AttachOrStart(ctx context.Context) error {
	t, err := s.ensureTransport()
	if err != nil {
		return err
	}
	if t.IsConnected() {
		return nil
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, s.cfg.Timeouts.AttachOrStartProbe)
	err = t.TryConnectExisting(probeCtx, s.cfg.Timeouts.AttachProbe)
	cancelProbe()
	if err == nil {
		common.LogInfo("Engine attached (existing)")
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
	}
	common.LogInfo("Attach failed: %v. Starting engine process...", describe(t.LastAttachError(), err))

	t.ResetConnection()
	s.cleanupStaleOnce(t)

	startCtx, cancelStart := context.WithTimeout(ctx, s.cfg.Timeouts.StartBudget)
	defer cancelStart()
	if err := t.StartOrAttach(startCtx); err != nil {
		return err
	}
	common.LogInfo("Engine connected")
	return nil
}

// cleanupStaleOnce runs before the first spawn, only when nothing answered
// the probe and we do not own a live engine.
func (s *Supervisor) cleanupStaleOnce(t *ipc.Transport) {
	s.mu.Lock()
	if s.staleDone || !s.cfg.CleanupStale || s.cfg.Resolver == nil {
		s.mu.Unlock()
		return
	}
	s.staleDone = true
	s.mu.Unlock()

	if info, ok := t.Process(); ok && info.Running {
		return
	}
	path, err := s.cfg.Resolver.ResolveEnginePath()
	if err != nil {
		return
	}
	if killed := s.cleaner.Run(path); len(killed) > 0 {
		common.LogInfo("Removed %d stale engine process(es)", len(killed))
	}
}

func (s *Supervisor) attached() (*ipc.Transport, error) {
	t := s.current()
	if t == nil || !t.IsConnected() {
		return nil, fmt.Errorf("engine not attached: %w", common.ErrNotConnected)
	}
	return t, nil
}

// GetState asks the engine for its session state. A rejected request
// yields an empty state, which callers treat as idle.
func (s *Supervisor) GetState(ctx context.Context) (string, error) {
	t, err := s.attached()
	if err != nil {
		return "", err
	}

	statusCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.GetStatus)
	defer cancel()
	reply, err := t.SendCommand(statusCtx, ipc.CommandGetStatus, nil)
	if err != nil {
		return "", err
	}
	if !reply.OK {
		common.LogWarn("GetStatus failed: %v", ipc.NewCommandError(ipc.CommandGetStatus, reply))
		return "", nil
	}
	return stateOf(reply.Payload), nil
}

func stateOf(payload json.RawMessage) string {
	var p struct {
		State json.RawMessage `json:"state"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &p) != nil || len(p.State) == 0 {
		return ""
	}
	var state string
	if err := json.Unmarshal(p.State, &state); err != nil {
		return strings.Trim(string(p.State), `"`)
	}
	return state
}

// StartSession builds the session payload and asks the engine to start.
// It returns false without error when the builder has nothing to start
// or fails, and a *ipc.CommandError when the engine rejects the request.
func (s *Supervisor) StartSession(ctx context.Context) (bool, error) {
	t, err := s.attached()
	if err != nil {
		return false, err
	}
	if s.cfg.Payload == nil {
		common.LogWarn("StartSession skipped: no payload builder")
		return false, nil
	}

	payload, err := s.cfg.Payload.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			common.LogInfo("StartSession skipped: canceled")
		} else {
			common.LogWarn("Building session payload failed: %v", err)
		}
		return false, nil
	}
	if payload == nil {
		common.LogInfo("StartSession skipped: nothing to start")
		return false, nil
	}

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.StartSession)
	defer cancel()
	reply, err := t.SendCommand(startCtx, ipc.CommandStartSession, payload)
	if err != nil {
		return false, err
	}
	if !reply.OK {
		cerr := ipc.NewCommandError(ipc.CommandStartSession, reply)
		common.LogWarn("StartSession failed: %s - %s", orUnknown(cerr.Code), orUnknown(cerr.Message))
		return false, cerr
	}
	return true, nil
}

// StopSessionSafe asks the engine to stop the session. Every failure,
// including a timeout, is logged and swallowed.
func (s *Supervisor) StopSessionSafe(ctx context.Context) {
	t := s.current()
	if t == nil {
		common.LogInfo("StopSession skipped: no transport")
		return
	}
	common.LogInfo("StopSession start (attached=%v)", t.IsConnected())

	stopCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.StopSession)
	defer cancel()

	start := time.Now()
	reply, err := t.SendCommand(stopCtx, ipc.CommandStopSession, nil)
	switch {
	case err == nil && reply.OK:
		common.LogInfo("StopSession ok in %v", time.Since(start).Round(time.Millisecond))
	case err == nil:
		common.LogWarn("StopSession failed: %v", ipc.NewCommandError(ipc.CommandStopSession, reply))
	case ctx.Err() != nil:
		common.LogWarn("StopSession canceled: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		common.LogWarn("StopSession timed out after %v", s.cfg.Timeouts.StopSession)
	default:
		common.LogWarn("StopSession error: %v", err)
	}
}

// Close disposes the transport, stopping an owned engine.
func (s *Supervisor) Close() error {
	t, ok := s.shut()
	if !ok || t == nil {
		return nil
	}
	return t.Dispose()
}

// Detach stops event forwarding and drops the connection but leaves the
// engine running, owned or not. The supervisor cannot attach again.
func (s *Supervisor) Detach() {
	if t, ok := s.shut(); ok && t != nil {
		t.Release()
	}
}

// shut marks the supervisor closed and stops forward. ok is false when it
// was already closed.
func (s *Supervisor) shut() (*ipc.Transport, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	s.closed = true
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	close(s.stop)
	return t, true
}

func describe(last, err error) error {
	if last != nil {
		return last
	}
	return err
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
