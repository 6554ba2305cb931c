package ipc

import (
	"encoding/json"
	"fmt"
)

// Command types issued by the shell.
const (
	CommandGetStatus    = "GetStatus"
	CommandStartSession = "StartSession"
	CommandStopSession  = "StopSession"
)

// Event types the engine emits.
const (
	EventTypeLog          = "Log"
	EventTypeStateChanged = "StateChanged"
	EventTypeConnected    = "Connected"
	EventTypeDisconnected = "Disconnected"
	EventTypeError        = "Error"
)

// Command is a client to engine request on the control channel.
type Command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ReplyError describes why the engine rejected a command.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply is the engine's answer to exactly one Command.
type Reply struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ReplyError     `json:"error,omitempty"`
}

// Event is an unsolicited notification on the events channel.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChannelNames returns the control and events channel names for a session.
func ChannelNames(namespace, sessionID string) (control, events string) {
	base := fmt.Sprintf("%s.%s", namespace, sessionID)
	return base + ".control", base + ".events"
}
