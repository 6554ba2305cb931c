package ipc

import (
	"fmt"
	"strings"

	"github.com/yllada/datagate-shell/common"
)

// TransportError reports a failure of the channel itself: connect timeout,
// IO failure, access denied, or loss of the connection.
type TransportError struct {
	Op       string // "connect", "write", "read", "reset", "dispose"
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("ipc %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ipc %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a single frame that could not be parsed.
// It is logged and the frame is skipped.
type ProtocolError struct {
	Channel string
	Line    string
	Err     error
}

func (e *ProtocolError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("ipc %s: malformed frame %q: %v", e.Channel, line, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CommandError is a reply that arrived with ok=false.
type CommandError struct {
	Type    string
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("engine rejected %s: %s: %s", e.Type, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("engine rejected %s: %s", e.Type, e.Code)
	case e.Message != "":
		return fmt.Sprintf("engine rejected %s: %s", e.Type, e.Message)
	default:
		return fmt.Sprintf("engine rejected %s", e.Type)
	}
}

// NewCommandError builds a CommandError from a not-ok reply.
func NewCommandError(commandType string, reply Reply) *CommandError {
	e := &CommandError{Type: commandType}
	if reply.Error != nil {
		e.Code = reply.Error.Code
		e.Message = reply.Error.Message
	}
	return e
}

// ProcessError reports that the engine failed to start or exited.
type ProcessError struct {
	ExitCode   int
	LastStdout string
	LastStderr string
	Early      bool // exited during the start grace period
}

func (e *ProcessError) Error() string {
	var b strings.Builder
	if e.Early {
		fmt.Fprintf(&b, "engine exited early with code %d", e.ExitCode)
	} else {
		fmt.Fprintf(&b, "engine exited with code %d", e.ExitCode)
	}
	fmt.Fprintf(&b, " (last stdout: %s, last stderr: %s)", orNull(e.LastStdout), orNull(e.LastStderr))
	return b.String()
}

func (e *ProcessError) Unwrap() error { return common.ErrEngineExited }

func orNull(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
