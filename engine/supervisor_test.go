package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/ipc"
	"github.com/yllada/datagate-shell/ipc/ipctest"
)

const (
	testNamespace = "dg.test"
	testSession   = "s1"
)

type payloadFunc func(ctx context.Context) (json.RawMessage, error)

func (f payloadFunc) Build(ctx context.Context) (json.RawMessage, error) { return f(ctx) }

type staticResolver struct {
	path string
	err  error
}

func (r staticResolver) ResolveEnginePath() (string, error) { return r.path, r.err }

func fastTimeouts() Timeouts {
	return Timeouts{
		AttachProbe:        200 * time.Millisecond,
		AttachOnly:         300 * time.Millisecond,
		AttachOrStartProbe: time.Second,
		SpawnConnect:       300 * time.Millisecond,
		StartBudget:        2 * time.Second,
		EarlyExitGrace:     50 * time.Millisecond,
		ConnectSlice:       100 * time.Millisecond,
		GetStatus:          time.Second,
		StartSession:       time.Second,
		StopSession:        200 * time.Millisecond,
		ShutdownGrace:      200 * time.Millisecond,
	}
}

func newTestSupervisor(t *testing.T, dir string, mutate func(*Config)) *Supervisor {
	t.Helper()
	cfg := Config{
		Namespace: testNamespace,
		SessionID: testSession,
		Dialer:    ipc.UnixDialer{Dir: dir},
		Resolver:  staticResolver{err: common.ErrEngineNotFound},
		Payload: payloadFunc(func(context.Context) (json.RawMessage, error) {
			return json.RawMessage(`{"host":"vpn.example.net","port":"443"}`), nil
		}),
		Timeouts: fastTimeouts(),
		LogDir:   dir,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewSupervisor(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSupervisor_AttachFailsWithoutEngine(t *testing.T) {
	s := newTestSupervisor(t, ipctest.SocketDir(t), nil)

	start := time.Now()
	err := s.Attach(context.Background())
	if !errors.Is(err, common.ErrAttachFailed) {
		t.Fatalf("Attach() error = %v, want ErrAttachFailed", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Attach() should give up within its timeout")
	}
	if s.IsAttached() {
		t.Error("IsAttached() should be false")
	}
}

func TestSupervisor_GetStateIdleThenStart(t *testing.T) {
	dir := ipctest.SocketDir(t)
	engine := ipctest.Start(t, dir, testNamespace, testSession)
	engine.Handle(func(cmd ipctest.Command) string {
		switch cmd.Type {
		case ipc.CommandGetStatus:
			return ipctest.OK(cmd.ID, map[string]string{"state": "idle"})
		case ipc.CommandStartSession:
			return ipctest.OK(cmd.ID, nil)
		}
		return ""
	})
	s := newTestSupervisor(t, dir, nil)

	if err := s.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	state, err := s.GetState(context.Background())
	if err != nil || state != "idle" {
		t.Fatalf("GetState() = %q, %v, want idle", state, err)
	}
	if !common.IsIdleState(state) {
		t.Fatal("idle state should be idle-equivalent")
	}

	started, err := s.StartSession(context.Background())
	if err != nil || !started {
		t.Fatalf("StartSession() = %v, %v", started, err)
	}

	var sawStart bool
	for i := 0; i < 2; i++ {
		cmd := <-engine.Commands()
		if cmd.Type == ipc.CommandStartSession {
			sawStart = true
			if string(cmd.Payload) != `{"host":"vpn.example.net","port":"443"}` {
				t.Errorf("StartSession payload = %s", cmd.Payload)
			}
		}
	}
	if !sawStart {
		t.Error("engine never received StartSession")
	}
}

func TestSupervisor_StartSessionRejected(t *testing.T) {
	dir := ipctest.SocketDir(t)
	engine := ipctest.Start(t, dir, testNamespace, testSession)
	engine.Handle(func(cmd ipctest.Command) string {
		return ipctest.Fail(cmd.ID, "NO_PROFILE", "missing")
	})
	s := newTestSupervisor(t, dir, nil)
	if err := s.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}

	started, err := s.StartSession(context.Background())
	if started {
		t.Error("StartSession() should report not started")
	}
	var cerr *ipc.CommandError
	if !errors.As(err, &cerr) || cerr.Code != "NO_PROFILE" || cerr.Message != "missing" {
		t.Errorf("StartSession() error = %v, want NO_PROFILE command error", err)
	}
}

func TestSupervisor_StartSessionNothingToStart(t *testing.T) {
	dir := ipctest.SocketDir(t)
	engine := ipctest.Start(t, dir, testNamespace, testSession)
	engine.Handle(ipctest.StatusHandler("idle"))

	tests := []struct {
		name    string
		builder common.PayloadBuilder
	}{
		{"nil payload", payloadFunc(func(context.Context) (json.RawMessage, error) { return nil, nil })},
		{"builder error", payloadFunc(func(context.Context) (json.RawMessage, error) { return nil, errors.New("no profile file") })},
		{"no builder", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor(t, dir, func(c *Config) { c.Payload = tt.builder })
			if err := s.Attach(context.Background()); err != nil {
				t.Fatal(err)
			}
			started, err := s.StartSession(context.Background())
			if started || err != nil {
				t.Errorf("StartSession() = %v, %v, want false, nil", started, err)
			}
		})
	}
}

func TestSupervisor_GetStateRejectedIsEmpty(t *testing.T) {
	dir := ipctest.SocketDir(t)
	engine := ipctest.Start(t, dir, testNamespace, testSession)
	engine.Handle(func(cmd ipctest.Command) string {
		return ipctest.Fail(cmd.ID, "BUSY", "")
	})
	s := newTestSupervisor(t, dir, nil)
	s.Attach(context.Background())

	state, err := s.GetState(context.Background())
	if err != nil || state != "" {
		t.Errorf("GetState() = %q, %v, want empty state", state, err)
	}
}

func TestSupervisor_GetStateNotAttached(t *testing.T) {
	s := newTestSupervisor(t, ipctest.SocketDir(t), nil)
	if _, err := s.GetState(context.Background()); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("GetState() error = %v, want ErrNotConnected", err)
	}
}

func TestSupervisor_StopSessionSafeReturnsOnSilentEngine(t *testing.T) {
	dir := ipctest.SocketDir(t)
	ipctest.Start(t, dir, testNamespace, testSession) // never replies
	s := newTestSupervisor(t, dir, nil)
	if err := s.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.StopSessionSafe(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopSessionSafe() did not return after its timeout")
	}
}

func TestSupervisor_StopSessionSafeWithoutTransport(t *testing.T) {
	s := newTestSupervisor(t, ipctest.SocketDir(t), nil)
	s.StopSessionSafe(context.Background())
}

func TestSupervisor_AttachOrStartPrefersRunningEngine(t *testing.T) {
	dir := ipctest.SocketDir(t)
	ipctest.Start(t, dir, testNamespace, testSession)

	marker := filepath.Join(dir, "spawned")
	script := filepath.Join(t.TempDir(), "engine")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ntouch "+marker+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	s := newTestSupervisor(t, dir, func(c *Config) {
		c.Resolver = staticResolver{path: script}
	})

	if err := s.AttachOrStart(context.Background()); err != nil {
		t.Fatalf("AttachOrStart() error = %v", err)
	}
	if _, owned := s.Process(); owned {
		t.Error("no process should be owned after attaching")
	}
	if common.FileExists(marker) {
		t.Error("AttachOrStart() spawned a second engine")
	}
}

func TestSupervisor_AttachOrStartWithoutEngineBinary(t *testing.T) {
	s := newTestSupervisor(t, ipctest.SocketDir(t), nil)

	err := s.AttachOrStart(context.Background())
	if !errors.Is(err, common.ErrEngineNotFound) {
		t.Errorf("AttachOrStart() error = %v, want ErrEngineNotFound", err)
	}
}

func TestSupervisor_ForwardsEventsAcrossReattach(t *testing.T) {
	dir := ipctest.SocketDir(t)
	engine := ipctest.Start(t, dir, testNamespace, testSession)
	s := newTestSupervisor(t, dir, nil)

	if err := s.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine.Emit(`{"type":"Connected","payload":{"vpnIpv4":"10.0.0.2"}}`)
	expectEvent(t, s.Events(), ipc.EventConnected{VpnIPv4: "10.0.0.2"})

	engine.Drop()
	deadline := time.Now().Add(2 * time.Second)
	for s.IsAttached() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine.Emit(`{"type":"Disconnected","payload":{"reason":"bye"}}`)
	expectEvent(t, s.Events(), ipc.EventDisconnected{Reason: "bye"})
}

func TestSupervisor_CloseIsIdempotent(t *testing.T) {
	s := newTestSupervisor(t, ipctest.SocketDir(t), nil)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(context.Background()); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Attach() after Close() error = %v", err)
	}
}

func TestSupervisor_DetachLeavesOwnedEngineRunning(t *testing.T) {
	dir := ipctest.SocketDir(t)
	script := filepath.Join(t.TempDir(), "engine")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 30\n"), 0755); err != nil {
		t.Fatal(err)
	}
	s := newTestSupervisor(t, dir, func(c *Config) {
		c.Resolver = staticResolver{path: script}
	})

	// The script never opens the channels, so the start times out with
	// the engine still owned and running.
	if err := s.AttachOrStart(context.Background()); err == nil {
		t.Fatal("AttachOrStart() should time out against a silent engine")
	}
	info, ok := s.Process()
	if !ok || !info.Owned || !info.Running {
		t.Fatalf("Process() = %+v, %v, want owned running engine", info, ok)
	}
	t.Cleanup(func() { unix.Kill(-info.PID, unix.SIGKILL) })

	s.Detach()
	s.Detach()

	if err := unix.Kill(info.PID, 0); err != nil {
		t.Errorf("engine %d gone after Detach(): %v", info.PID, err)
	}
	if err := s.Attach(context.Background()); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Attach() after Detach() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() after Detach() error = %v", err)
	}
	if err := unix.Kill(info.PID, 0); err != nil {
		t.Errorf("Close() after Detach() stopped engine %d: %v", info.PID, err)
	}
}

func TestSupervisor_DetachStopsForwarding(t *testing.T) {
	dir := ipctest.SocketDir(t)
	engine := ipctest.Start(t, dir, testNamespace, testSession)
	s := newTestSupervisor(t, dir, nil)

	if err := s.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine.Emit(`{"type":"Connected","payload":{"vpnIpv4":"10.0.0.2"}}`)
	expectEvent(t, s.Events(), ipc.EventConnected{VpnIPv4: "10.0.0.2"})

	// Nobody reads Events any more, so forwarding and the transport's
	// queue both fill up.
	for i := 0; i < 2*ipc.DefaultEventQueue+8; i++ {
		engine.Emit(`{"type":"Log","payload":{"line":"tick"}}`)
	}
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Detach()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Detach() blocked behind undelivered events")
	}
	if s.IsAttached() {
		t.Error("IsAttached() should be false after Detach()")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() after Detach() error = %v", err)
	}
}

func expectEvent(t *testing.T, ch <-chan ipc.EngineEvent, want ipc.EngineEvent) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Errorf("event = %#v, want %#v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %#v", want)
	}
}
