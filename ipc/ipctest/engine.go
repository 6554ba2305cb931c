// Package ipctest provides an in-process fake engine that speaks the
// newline-delimited JSON protocol over real unix sockets.
package ipctest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Command is a command frame as received by the fake engine.
type Command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler answers a command with a raw reply line. Returning "" sends
// nothing, which simulates an engine that never replies.
type Handler func(cmd Command) string

// SocketDir creates a short temporary directory for sockets. t.TempDir
// paths can exceed the unix socket path limit for long test names.
func SocketDir(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dg")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// Engine listens on the control and events sockets of one session.
type Engine struct {
	t         testing.TB
	control   net.Listener
	events    net.Listener
	commands  chan Command
	eventConn chan net.Conn

	mu          sync.Mutex
	handler     Handler
	controlConn net.Conn
	eventsConn  net.Conn
	accepted    int
	closed      bool
}

// Start listens on <dir>/<namespace>.<session>.control and .events.
func Start(t testing.TB, dir, namespace, session string) *Engine {
	t.Helper()
	base := filepath.Join(dir, fmt.Sprintf("%s.%s", namespace, session))

	control, err := net.Listen("unix", base+".control")
	if err != nil {
		t.Fatalf("listen control: %v", err)
	}
	events, err := net.Listen("unix", base+".events")
	if err != nil {
		control.Close()
		t.Fatalf("listen events: %v", err)
	}

	e := &Engine{
		t:         t,
		control:   control,
		events:    events,
		commands:  make(chan Command, 64),
		eventConn: make(chan net.Conn, 8),
	}
	go e.acceptControl()
	go e.acceptEvents()
	t.Cleanup(e.Close)
	return e
}

// Handle installs an automatic responder.
func (e *Engine) Handle(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Commands returns every command the engine received.
func (e *Engine) Commands() <-chan Command { return e.commands }

// Accepted returns how many control connections were accepted.
func (e *Engine) Accepted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted
}

func (e *Engine) acceptControl() {
	for {
		conn, err := e.control.Accept()
		if err != nil {
			return
		}
		e.mu.Lock()
		e.controlConn = conn
		e.accepted++
		e.mu.Unlock()
		go e.serve(conn)
	}
}

func (e *Engine) acceptEvents() {
	for {
		conn, err := e.events.Accept()
		if err != nil {
			return
		}
		e.mu.Lock()
		e.eventsConn = conn
		e.mu.Unlock()
		select {
		case e.eventConn <- conn:
		default:
		}
	}
}

func (e *Engine) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			continue
		}
		select {
		case e.commands <- cmd:
		default:
		}

		e.mu.Lock()
		h := e.handler
		e.mu.Unlock()
		if h == nil {
			continue
		}
		if line := h(cmd); line != "" {
			e.writeLine(conn, line)
		}
	}
}

func (e *Engine) writeLine(conn net.Conn, line string) {
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		e.t.Logf("fake engine write: %v", err)
	}
}

// Reply writes a raw line on the current control connection.
func (e *Engine) Reply(line string) {
	e.mu.Lock()
	conn := e.controlConn
	e.mu.Unlock()
	if conn == nil {
		e.t.Errorf("fake engine: no control connection")
		return
	}
	e.writeLine(conn, line)
}

// Emit writes a raw line on the events connection, waiting for the client
// to connect if needed.
func (e *Engine) Emit(line string) {
	e.mu.Lock()
	conn := e.eventsConn
	e.mu.Unlock()
	if conn == nil {
		select {
		case conn = <-e.eventConn:
		case <-time.After(2 * time.Second):
			e.t.Errorf("fake engine: events connection never accepted")
			return
		}
	}
	e.writeLine(conn, line)
}

// Drop closes the accepted connections, which the client sees as EOF.
// The listeners stay up so the client can reconnect.
func (e *Engine) Drop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controlConn != nil {
		e.controlConn.Close()
		e.controlConn = nil
	}
	if e.eventsConn != nil {
		e.eventsConn.Close()
		e.eventsConn = nil
	}
	for {
		select {
		case <-e.eventConn:
		default:
			return
		}
	}
}

// Close stops listening and drops every connection.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.control.Close()
	e.events.Close()
	e.Drop()
}

// OK builds a successful reply line.
func OK(id string, payload any) string {
	frame := map[string]any{"id": id, "ok": true}
	if payload != nil {
		frame["payload"] = payload
	}
	data, _ := json.Marshal(frame)
	return string(data)
}

// Fail builds a rejected reply line.
func Fail(id, code, message string) string {
	data, _ := json.Marshal(map[string]any{
		"id":    id,
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
	return string(data)
}

// StatusHandler answers GetStatus with state, StartSession and StopSession
// with ok.
func StatusHandler(state string) Handler {
	return func(cmd Command) string {
		switch cmd.Type {
		case "GetStatus":
			return OK(cmd.ID, map[string]string{"state": state})
		default:
			return OK(cmd.ID, nil)
		}
	}
}
