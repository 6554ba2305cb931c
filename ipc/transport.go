package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yllada/datagate-shell/common"
)

// Options configures a Transport.
type Options struct {
	Namespace string
	SessionID string
	// EnginePath is the executable spawned by StartOrAttach. Empty means
	// attach only.
	EnginePath string
	// Dialer opens channel endpoints. Required.
	Dialer Dialer
	// LogDir receives the engine output files. Empty means the app log dir.
	LogDir string

	AttachProbe    time.Duration // StartOrAttach's attach attempt before spawning
	SpawnConnect   time.Duration // connect budget after a spawn
	EarlyExitGrace time.Duration // wait for an instant crash after spawn
	ConnectSlice   time.Duration // single dial attempt
	RetryPause     time.Duration // pause between dial attempts
	ShutdownGrace  time.Duration // SIGTERM to SIGKILL
	// CommandTimeout bounds commands whose context has no deadline.
	// Zero means wait for the context only.
	CommandTimeout time.Duration
	// EventQueue is the capacity of the event channel.
	EventQueue int
}

func (o *Options) setDefaults() {
	if o.Namespace == "" {
		o.Namespace = common.DefaultPipeNamespace
	}
	if o.SessionID == "" {
		o.SessionID = common.DefaultSessionID
	}
	if o.AttachProbe <= 0 {
		o.AttachProbe = common.AttachProbeTimeout
	}
	if o.SpawnConnect <= 0 {
		o.SpawnConnect = common.SpawnConnectTimeout
	}
	if o.EarlyExitGrace <= 0 {
		o.EarlyExitGrace = common.EarlyExitGrace
	}
	if o.ConnectSlice <= 0 {
		o.ConnectSlice = common.ConnectSlice
	}
	if o.RetryPause <= 0 {
		o.RetryPause = 100 * time.Millisecond
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = common.ShutdownGrace
	}
	if o.LogDir == "" {
		o.LogDir = common.GetLogDir()
	}
	if o.LogDir == "" {
		o.LogDir = os.TempDir()
	}
}

// link is one connected pair of channels and the loops reading them.
type link struct {
	control net.Conn
	events  net.Conn

	writeMu sync.Mutex

	done        chan struct{}
	closeOnce   sync.Once
	lostOnce    sync.Once
	intentional atomic.Bool
	loops       sync.WaitGroup
}

func (l *link) shutdown() {
	l.closeOnce.Do(func() {
		l.control.Close()
		l.events.Close()
		close(l.done)
	})
}

func (l *link) alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *link) write(ctx context.Context, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		l.control.SetWriteDeadline(deadline)
		defer l.control.SetWriteDeadline(time.Time{})
	}
	_, err := l.control.Write(frame)
	return err
}

// Transport is a command/reply channel plus an event stream to one engine.
// It is safe for concurrent use.
type Transport struct {
	opts        Options
	controlName string
	eventsName  string

	corr *Correlator
	disp *Dispatcher

	mu            sync.Mutex
	link          *link
	proc          *engineProcess
	owned         bool
	lastAttachErr error
	disposed      bool
}

// NewTransport creates a transport. Nothing is dialed or spawned until
// TryConnectExisting or StartOrAttach is called.
func NewTransport(opts Options) *Transport {
	opts.setDefaults()
	control, events := ChannelNames(opts.Namespace, opts.SessionID)
	return &Transport{
		opts:        opts,
		controlName: control,
		eventsName:  events,
		corr:        NewCorrelator(),
		disp:        NewDispatcher(opts.EventQueue),
	}
}

// SessionID returns the session this transport talks to.
func (t *Transport) SessionID() string { return t.opts.SessionID }

// Events returns the typed event stream. It can be called once; the
// channel is closed by Dispose.
func (t *Transport) Events() (<-chan EngineEvent, error) {
	return t.disp.Subscribe()
}

// IsConnected reports whether both channels are currently up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.link != nil && t.link.alive()
}

// Done returns a channel closed when the current connection ends. When not
// connected the returned channel is already closed.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.link.done
}

// LastAttachError returns the error of the most recent failed connect.
func (t *Transport) LastAttachError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAttachErr
}

// Process returns the engine process handle, if this transport spawned one.
func (t *Transport) Process() (ProcessInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil {
		return ProcessInfo{}, false
	}
	return t.proc.info(t.owned), true
}

// Pending returns the number of commands awaiting a reply.
func (t *Transport) Pending() int { return t.corr.Len() }

// TryConnectExisting connects both channels of an engine that is already
// listening, retrying until timeout while the endpoints are not available
// yet. Access denied and cancellation end the attempt immediately.
func (t *Transport) TryConnectExisting(ctx context.Context, timeout time.Duration) error {
	err := t.connect(ctx, timeout)
	t.mu.Lock()
	t.lastAttachErr = err
	t.mu.Unlock()
	return err
}

func (t *Transport) connect(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return &TransportError{Op: "connect", Err: common.ErrTransportClosed}
	}
	if t.link != nil && t.link.alive() {
		t.mu.Unlock()
		return nil
	}
	proc := t.proc
	t.mu.Unlock()
	if proc != nil && proc.exited() {
		proc = nil
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}
		if proc != nil && proc.exited() {
			return proc.exitError(false)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr == nil {
				lastErr = common.ErrTimeout
			}
			return &TransportError{
				Op:       "connect",
				Endpoint: t.controlName,
				Err:      fmt.Errorf("%w after %v: %v", common.ErrTimeout, timeout, lastErr),
			}
		}

		control, events, err := t.dialPair(ctx, min(t.opts.ConnectSlice, remaining))
		if err == nil {
			return t.install(control, events)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
		}
		if isAccessDenied(err) {
			return &TransportError{
				Op:       "connect",
				Endpoint: t.controlName,
				Err:      fmt.Errorf("%w: %v", common.ErrPermissionDenied, err),
			}
		}
		if !isNotYetAvailable(err) {
			common.LogDebug("Engine dial failed, retrying: %v", err)
		}
		lastErr = err

		pause := min(t.opts.RetryPause, time.Until(deadline))
		if pause > 0 {
			var exited <-chan struct{}
			if proc != nil {
				exited = proc.done
			}
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
			case <-exited:
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// dialPair connects both channels as one unit. If the events channel
// fails the control connection is closed again.
func (t *Transport) dialPair(ctx context.Context, slice time.Duration) (net.Conn, net.Conn, error) {
	sliceCtx, cancel := context.WithTimeout(ctx, slice)
	defer cancel()

	control, err := t.opts.Dialer.Dial(sliceCtx, t.controlName)
	if err != nil {
		return nil, nil, err
	}
	events, err := t.opts.Dialer.Dial(sliceCtx, t.eventsName)
	if err != nil {
		control.Close()
		return nil, nil, err
	}
	return control, events, nil
}

// install makes a freshly dialed pair current and starts its read loops.
func (t *Transport) install(control, events net.Conn) error {
	l := &link{control: control, events: events, done: make(chan struct{})}

	t.mu.Lock()
	if t.disposed || (t.link != nil && t.link.alive()) {
		t.mu.Unlock()
		control.Close()
		events.Close()
		if t.disposed {
			return &TransportError{Op: "connect", Err: common.ErrTransportClosed}
		}
		return nil
	}
	t.link = l
	t.mu.Unlock()

	l.loops.Add(2)
	go t.controlLoop(l)
	go t.eventsLoop(l)
	common.LogInfo("Connected to engine session %s", t.opts.SessionID)
	return nil
}

func (t *Transport) currentLink() *link {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil || !t.link.alive() {
		return nil
	}
	return t.link
}

// StartOrAttach attaches to a running engine or spawns one and connects.
func (t *Transport) StartOrAttach(ctx context.Context) error {
	if t.IsConnected() {
		return nil
	}

	err := t.TryConnectExisting(ctx, t.opts.AttachProbe)
	if err == nil {
		t.mu.Lock()
		if t.proc != nil && t.proc.exited() {
			t.proc = nil
			t.owned = false
		}
		owned := t.owned
		t.mu.Unlock()
		common.LogInfo("Attached to running engine (owned=%v)", owned)
		return nil
	}
	if errors.Is(err, common.ErrCancelled) || errors.Is(err, common.ErrPermissionDenied) {
		return err
	}

	t.mu.Lock()
	proc := t.proc
	t.mu.Unlock()
	if proc != nil && !proc.exited() {
		common.LogInfo("Engine process %d still running, reconnecting", proc.pid)
		return t.TryConnectExisting(ctx, t.opts.SpawnConnect)
	}

	if t.opts.EnginePath == "" {
		return fmt.Errorf("%w: no engine path configured", common.ErrEngineNotFound)
	}

	proc, err = t.spawn()
	if err != nil {
		return err
	}

	grace := time.NewTimer(t.opts.EarlyExitGrace)
	defer grace.Stop()
	select {
	case <-proc.done:
		perr := proc.exitError(true)
		t.mu.Lock()
		t.lastAttachErr = perr
		t.mu.Unlock()
		return perr
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
	case <-grace.C:
	}

	return t.TryConnectExisting(ctx, t.opts.SpawnConnect)
}

func (t *Transport) spawn() (*engineProcess, error) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil, &TransportError{Op: "spawn", Err: common.ErrTransportClosed}
	}
	t.mu.Unlock()

	proc, err := spawnEngine(t.opts.EnginePath, t.opts.SessionID, t.opts.LogDir, func(line string) {
		common.LogInfo("engine: %s", line)
	})
	if err != nil {
		t.mu.Lock()
		t.lastAttachErr = err
		t.mu.Unlock()
		return nil, err
	}

	t.mu.Lock()
	t.proc = proc
	t.owned = true
	t.mu.Unlock()

	common.LogInfo("Spawned engine %s (pid %d, session %s)", t.opts.EnginePath, proc.pid, t.opts.SessionID)
	go t.watchExit(proc)
	return proc, nil
}

// watchExit fails pending commands and raises EventEngineExited when an
// owned engine exits on its own.
func (t *Transport) watchExit(proc *engineProcess) {
	<-proc.done

	t.mu.Lock()
	if t.proc != proc || t.disposed {
		t.mu.Unlock()
		return
	}
	l := t.link
	t.link = nil
	t.mu.Unlock()

	perr := proc.exitError(false)
	common.LogWarn("Engine exited with code %d", perr.ExitCode)

	if l != nil {
		l.intentional.Store(true)
		l.shutdown()
	}
	t.corr.FailAll(perr)
	t.disp.Dispatch(EventEngineExited{ExitCode: perr.ExitCode, Err: perr})
}

// SendCommand sends one command and waits for its reply. A reply with
// ok=false is returned as is; the caller decides what it means.
func (t *Transport) SendCommand(ctx context.Context, commandType string, payload json.RawMessage) (Reply, error) {
	l := t.currentLink()
	if l == nil {
		return Reply{}, &TransportError{Op: "send", Endpoint: t.controlName, Err: common.ErrNotConnected}
	}

	id := common.GenerateID()
	var deadline time.Time
	if _, ok := ctx.Deadline(); !ok && t.opts.CommandTimeout > 0 {
		deadline = time.Now().Add(t.opts.CommandTimeout)
	}

	req, err := t.corr.Register(id, deadline)
	if err != nil {
		return Reply{}, err
	}

	frame, err := EncodeCommand(Command{ID: id, Type: commandType, Payload: payload})
	if err != nil {
		t.corr.Remove(id)
		return Reply{}, err
	}

	// If the write fails after the connection was lost, the entry has
	// already been failed and Await reports that instead.
	if err := l.write(ctx, frame); err != nil && t.corr.Remove(id) {
		return Reply{}, &TransportError{Op: "write", Endpoint: t.controlName, Err: err}
	}

	common.LogDebug("Sent %s (id %s)", commandType, id)
	return t.corr.Await(ctx, req)
}

func (t *Transport) controlLoop(l *link) {
	defer l.loops.Done()
	frames := newFrameReader(l.control)
	for {
		line, err := frames.Next()
		if errors.Is(err, errFrameTooLong) {
			common.LogWarn("Dropped oversized control frame")
			continue
		}
		if err != nil {
			t.connectionLost(l, t.controlName, err)
			return
		}
		if len(line) == 0 {
			continue
		}

		reply, err := DecodeReply(line)
		if err != nil {
			common.LogWarn("%v", err)
			continue
		}
		if !t.corr.Complete(reply) {
			common.LogDebug("Dropped reply for unknown id %s", reply.ID)
		}
	}
}

func (t *Transport) eventsLoop(l *link) {
	defer l.loops.Done()
	frames := newFrameReader(l.events)
	for {
		line, err := frames.Next()
		if errors.Is(err, errFrameTooLong) {
			common.LogWarn("Dropped oversized event frame")
			continue
		}
		if err != nil {
			t.connectionLost(l, t.eventsName, err)
			return
		}
		if len(line) == 0 {
			continue
		}

		wire, err := DecodeEvent(line)
		if err != nil {
			common.LogDebug("%v", err)
			continue
		}
		ev, ok := MapEvent(wire)
		if !ok {
			continue
		}
		if logEv, isLog := ev.(EventLog); isLog {
			common.LogInfo("engine: %s", logEv.Line)
		}
		t.disp.Dispatch(ev)
	}
}

// connectionLost runs once per link, from whichever loop ends first.
func (t *Transport) connectionLost(l *link, endpoint string, cause error) {
	l.lostOnce.Do(func() {
		intentional := l.intentional.Load()
		l.shutdown()

		t.mu.Lock()
		if t.link == l {
			t.link = nil
		}
		t.mu.Unlock()

		if intentional {
			return
		}
		if cause == nil || errors.Is(cause, io.EOF) || isExpectedClose(cause) {
			cause = io.EOF
		}
		err := &TransportError{
			Op:       "read",
			Endpoint: endpoint,
			Err:      fmt.Errorf("%w: %v", common.ErrTransportClosed, cause),
		}
		if n := t.corr.FailAll(err); n > 0 {
			common.LogWarn("Connection to engine lost, failed %d pending command(s)", n)
		} else {
			common.LogWarn("Connection to engine lost: %v", cause)
		}
		t.disp.Dispatch(EventTransportClosed{Err: err})
	})
}

// ResetConnection drops the current connection and fails pending commands
// without touching the engine process, so StartOrAttach can run again.
func (t *Transport) ResetConnection() {
	t.mu.Lock()
	l := t.link
	t.link = nil
	t.mu.Unlock()

	if l != nil {
		l.intentional.Store(true)
		l.shutdown()
	}
	t.corr.FailAll(&TransportError{Op: "reset", Endpoint: t.controlName, Err: common.ErrTransportClosed})
}

// Dispose closes the channels, fails pending commands, stops the engine if
// this transport spawned it, and closes the event stream.
func (t *Transport) Dispose() error {
	return t.dispose(true)
}

// Release is Dispose without stopping the engine. An owned engine keeps
// running with its output files and the transport cannot connect again.
func (t *Transport) Release() {
	t.dispose(false)
}

func (t *Transport) dispose(stopEngine bool) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	t.disposed = true
	l := t.link
	t.link = nil
	proc, owned := t.proc, t.owned
	t.proc = nil
	t.owned = false
	t.mu.Unlock()

	if l != nil {
		l.intentional.Store(true)
		l.shutdown()
	}
	t.corr.FailAll(&TransportError{Op: "dispose", Endpoint: t.controlName, Err: common.ErrTransportClosed})

	var err error
	if proc != nil && owned && stopEngine {
		common.LogInfo("Stopping engine process %d", proc.pid)
		err = proc.terminate(t.opts.ShutdownGrace)
	}

	// Close first so a loop blocked on a full queue can return.
	t.disp.Close()
	if l != nil {
		l.loops.Wait()
	}
	return err
}
