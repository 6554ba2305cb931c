package vpn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRefresher struct {
	mu    sync.Mutex
	busy  bool
	err   error
	calls int
}

func (r *fakeRefresher) RefreshStatus(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *fakeRefresher) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

func (r *fakeRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{HealthHealthy, "Healthy"},
		{HealthDegraded, "Degraded"},
		{HealthUnhealthy, "Unhealthy"},
		{HealthUnknown, "Unknown"},
		{HealthState(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("HealthState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDefaultMonitorConfig(t *testing.T) {
	config := DefaultMonitorConfig()

	if config.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", config.Interval)
	}
	if config.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %v, want 3", config.FailureThreshold)
	}
	if config.Timeout <= 0 {
		t.Error("Timeout should be positive")
	}
}

func TestStatusMonitor_StartStop(t *testing.T) {
	target := &fakeRefresher{}
	m := NewStatusMonitor(target, MonitorConfig{Interval: 10 * time.Millisecond})

	if m.IsRunning() {
		t.Error("Monitor should not be running initially")
	}

	m.Start()
	if !m.IsRunning() {
		t.Error("Monitor should be running after Start()")
	}
	m.Start()

	eventually(t, 2*time.Second, func() bool { return target.callCount() >= 2 })

	m.Stop()
	if m.IsRunning() {
		t.Error("Monitor should not be running after Stop()")
	}
	m.Stop()

	calls := target.callCount()
	time.Sleep(50 * time.Millisecond)
	if target.callCount() != calls {
		t.Error("refresh ran after Stop()")
	}
}

func TestStatusMonitor_ZeroIntervalDisabled(t *testing.T) {
	m := NewStatusMonitor(&fakeRefresher{}, MonitorConfig{})
	m.Start()
	if m.IsRunning() {
		t.Error("Monitor with zero interval should not start")
	}
}

func TestStatusMonitor_Check(t *testing.T) {
	target := &fakeRefresher{err: errors.New("timeout")}
	m := NewStatusMonitor(target, MonitorConfig{Interval: time.Hour, FailureThreshold: 2})

	var changes []HealthState
	m.SetOnHealthChange(func(_, newState HealthState) { changes = append(changes, newState) })

	ctx := context.Background()
	m.Check(ctx)
	if got := m.Health(); got.State != HealthDegraded || got.ConsecutiveFails != 1 {
		t.Errorf("after 1 failure: %+v", got)
	}
	m.Check(ctx)
	if got := m.Health().State; got != HealthUnhealthy {
		t.Errorf("after 2 failures: %v, want Unhealthy", got)
	}

	target.mu.Lock()
	target.err = nil
	target.mu.Unlock()
	m.Check(ctx)
	if got := m.Health(); got.State != HealthHealthy || got.ConsecutiveFails != 0 || got.LastSuccess.IsZero() {
		t.Errorf("after success: %+v", got)
	}

	want := []HealthState{HealthDegraded, HealthUnhealthy, HealthHealthy}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestStatusMonitor_SkipsWhileBusy(t *testing.T) {
	target := &fakeRefresher{busy: true}
	m := NewStatusMonitor(target, MonitorConfig{Interval: time.Hour})

	m.Check(context.Background())

	if target.callCount() != 0 {
		t.Error("refresh should be skipped while busy")
	}
	if m.Health().Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", m.Health().Skipped)
	}
}

func TestStatusMonitor_PollsController(t *testing.T) {
	f := newControllerFixture(t, nil)
	m := NewStatusMonitor(f.ctrl, MonitorConfig{Interval: time.Hour})

	m.Check(context.Background())

	if _, text := f.status(); text != "Idle (not attached)" {
		t.Errorf("status text = %q, want Idle (not attached)", text)
	}
}
