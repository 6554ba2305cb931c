package vpn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/ipc"
	"github.com/yllada/datagate-shell/journal"
)

type fakeEngine struct {
	events chan ipc.EngineEvent

	mu               sync.Mutex
	attached         bool
	attachErr        error
	attachOrStartErr error
	stateErr         error
	state            string
	started          bool
	startErr         error
	calls            []string
	closed           bool
	detached         bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:  make(chan ipc.EngineEvent, 16),
		state:   "Idle",
		started: true,
	}
}

func (f *fakeEngine) call(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeEngine) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeEngine) set(fn func(f *fakeEngine)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeEngine) Events() <-chan ipc.EngineEvent { return f.events }

func (f *fakeEngine) Attach(ctx context.Context) error {
	f.call("Attach")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr == nil {
		f.attached = true
	}
	return f.attachErr
}

func (f *fakeEngine) AttachOrStart(ctx context.Context) error {
	f.call("AttachOrStart")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachOrStartErr == nil {
		f.attached = true
	}
	return f.attachOrStartErr
}

func (f *fakeEngine) IsAttached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func (f *fakeEngine) GetState(ctx context.Context) (string, error) {
	f.call("GetState")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.stateErr
}

func (f *fakeEngine) StartSession(ctx context.Context) (bool, error) {
	f.call("StartSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.startErr
}

func (f *fakeEngine) StopSessionSafe(ctx context.Context) { f.call("StopSession") }

func (f *fakeEngine) Detach() {
	f.mu.Lock()
	f.detached = true
	f.mu.Unlock()
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type uiState struct {
	status common.ConnectionStatus
	text   string
}

type fakeUI struct {
	mu         sync.Mutex
	states     []uiState
	statusText string
	logs       []string
}

func (u *fakeUI) SetStatusText(text string) {
	u.mu.Lock()
	u.statusText = text
	u.mu.Unlock()
}

func (u *fakeUI) ApplyState(status common.ConnectionStatus, text string) {
	u.mu.Lock()
	u.states = append(u.states, uiState{status, text})
	u.mu.Unlock()
}

func (u *fakeUI) AppendLog(line string) {
	u.mu.Lock()
	u.logs = append(u.logs, line)
	u.mu.Unlock()
}

func (u *fakeUI) last() uiState {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.states) == 0 {
		return uiState{}
	}
	return u.states[len(u.states)-1]
}

func (u *fakeUI) hasLog(line string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, l := range u.logs {
		if l == line {
			return true
		}
	}
	return false
}

// fakeClock hands out a shared channel so tests decide when a reconnect
// delay elapses.
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
	fire   chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{fire: make(chan time.Time)}
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return c.fire
}

func (c *fakeClock) requested() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.fire <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect was waiting on the clock")
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *fakeRecorder) Record(ctx context.Context, e journal.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) kinds() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]int)
	for _, e := range r.entries {
		m[e.Kind]++
	}
	return m
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(title, message string) error {
	n.mu.Lock()
	n.titles = append(n.titles, title)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
