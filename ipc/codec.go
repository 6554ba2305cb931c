package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxFrameSize bounds a single inbound line. Longer lines are discarded.
const MaxFrameSize = 4 << 20

var (
	errFrameTooLong = errors.New("frame exceeds maximum size")
	errMissingID    = errors.New("reply has no id")
	errMissingType  = errors.New("event has no type")
)

// EncodeCommand serializes cmd as one newline-terminated frame.
// An empty payload is sent as an empty object.
func EncodeCommand(cmd Command) ([]byte, error) {
	if len(bytes.TrimSpace(cmd.Payload)) == 0 {
		cmd.Payload = json.RawMessage("{}")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", cmd.Type, err)
	}
	return append(data, '\n'), nil
}

// DecodeReply parses a reply frame. It tries the typed schema first and
// falls back to field-by-field parsing so that type drift in individual
// fields does not lose the id.
func DecodeReply(line []byte) (Reply, error) {
	var reply Reply
	if err := json.Unmarshal(line, &reply); err == nil {
		if isNull(reply.Payload) {
			reply.Payload = nil
		}
		if reply.ID == "" {
			return Reply{}, &ProtocolError{Channel: "control", Line: string(line), Err: errMissingID}
		}
		return reply, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Reply{}, &ProtocolError{Channel: "control", Line: string(line), Err: err}
	}

	for key, raw := range fields {
		switch strings.ToLower(key) {
		case "id":
			reply.ID = looseString(raw)
		case "ok":
			reply.OK = looseBool(raw)
		case "payload":
			if !isNull(raw) {
				reply.Payload = raw
			}
		case "error":
			reply.Error = looseReplyError(raw)
		}
	}
	if reply.ID == "" {
		return Reply{}, &ProtocolError{Channel: "control", Line: string(line), Err: errMissingID}
	}
	return reply, nil
}

// DecodeEvent parses an event frame.
func DecodeEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, &ProtocolError{Channel: "events", Line: string(line), Err: err}
	}
	if strings.TrimSpace(ev.Type) == "" {
		return Event{}, &ProtocolError{Channel: "events", Line: string(line), Err: errMissingType}
	}
	return ev, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// looseString accepts a JSON string or any scalar rendered as text.
func looseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if isNull(raw) {
		return ""
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return ""
	}
	return string(trimmed)
}

// looseBool accepts true/false, "true"/"false", and 1/0.
func looseBool(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	s := looseString(raw)
	if v, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
		return v
	}
	return false
}

// looseReplyError accepts an object with code/message fields of any scalar
// type, or a bare string used as the message.
func looseReplyError(raw json.RawMessage) *ReplyError {
	if isNull(raw) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if msg := looseString(raw); msg != "" {
			return &ReplyError{Message: msg}
		}
		return nil
	}
	re := &ReplyError{}
	for key, v := range fields {
		switch strings.ToLower(key) {
		case "code":
			re.Code = looseString(v)
		case "message":
			re.Message = looseString(v)
		}
	}
	return re
}

// frameReader splits a stream into newline-delimited frames.
type frameReader struct {
	r   *bufio.Reader
	max int
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64*1024), max: MaxFrameSize}
}

// Next returns the next frame with surrounding whitespace removed. It returns
// errFrameTooLong for an oversized frame, after which reading may continue.
func (f *frameReader) Next() ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := f.r.ReadLine()
		if err != nil {
			return nil, err
		}
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > f.max {
				tooLong = true
				buf = nil
			}
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return nil, errFrameTooLong
	}
	return bytes.TrimSpace(buf), nil
}
