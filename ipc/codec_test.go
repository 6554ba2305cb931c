package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload json.RawMessage
		want    string
	}{
		{"empty payload", nil, `{"id":"a1","type":"GetStatus","payload":{}}` + "\n"},
		{"blank payload", json.RawMessage("  "), `{"id":"a1","type":"GetStatus","payload":{}}` + "\n"},
		{"object payload", json.RawMessage(`{"host":"h"}`), `{"id":"a1","type":"GetStatus","payload":{"host":"h"}}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCommand(Command{ID: "a1", Type: CommandGetStatus, Payload: tt.payload})
			if err != nil {
				t.Fatalf("EncodeCommand() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeCommand() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := EncodeCommand(Command{ID: "a1", Type: "X", Payload: json.RawMessage("{bad")}); err == nil {
		t.Error("EncodeCommand() should reject invalid payload JSON")
	}
}

func TestDecodeReply(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantID   string
		wantOK   bool
		wantCode string
		wantMsg  string
		wantLoad string
		wantErr  bool
	}{
		{
			name:     "typed reply",
			line:     `{"id":"r1","ok":true,"payload":{"state":"idle"}}`,
			wantID:   "r1",
			wantOK:   true,
			wantLoad: `{"state":"idle"}`,
		},
		{
			name:     "typed error",
			line:     `{"id":"r2","ok":false,"error":{"code":"NO_PROFILE","message":"missing"}}`,
			wantID:   "r2",
			wantCode: "NO_PROFILE",
			wantMsg:  "missing",
		},
		{
			name:   "null payload",
			line:   `{"id":"r3","ok":true,"payload":null}`,
			wantID: "r3",
			wantOK: true,
		},
		{
			name:   "numeric id falls back",
			line:   `{"id":42,"ok":true}`,
			wantID: "42",
			wantOK: true,
		},
		{
			name:   "string ok falls back",
			line:   `{"id":"r4","ok":"true","payload":{"a":1}}`,
			wantID: "r4", wantOK: true, wantLoad: `{"a":1}`,
		},
		{
			name:    "string error falls back",
			line:    `{"id":"r5","ok":false,"error":"engine busy"}`,
			wantID:  "r5",
			wantMsg: "engine busy",
		},
		{
			name:     "numeric error code falls back",
			line:     `{"Id":"r6","OK":0,"Error":{"Code":17,"Message":"denied"}}`,
			wantID:   "r6",
			wantCode: "17",
			wantMsg:  "denied",
		},
		{name: "missing id", line: `{"ok":true}`, wantErr: true},
		{name: "not json", line: `hello engine`, wantErr: true},
		{name: "array", line: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := DecodeReply([]byte(tt.line))
			if tt.wantErr {
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Fatalf("DecodeReply() error = %v, want *ProtocolError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeReply() error = %v", err)
			}
			if reply.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", reply.ID, tt.wantID)
			}
			if reply.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", reply.OK, tt.wantOK)
			}
			if string(reply.Payload) != tt.wantLoad {
				t.Errorf("Payload = %s, want %s", reply.Payload, tt.wantLoad)
			}
			var code, msg string
			if reply.Error != nil {
				code, msg = reply.Error.Code, reply.Error.Message
			}
			if code != tt.wantCode || msg != tt.wantMsg {
				t.Errorf("Error = %q/%q, want %q/%q", code, msg, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"StateChanged","payload":{"state":"connecting"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if ev.Type != EventTypeStateChanged {
		t.Errorf("Type = %q, want StateChanged", ev.Type)
	}

	for _, line := range []string{`{"payload":{}}`, `{"type":"  "}`, `not json`} {
		if _, err := DecodeEvent([]byte(line)); err == nil {
			t.Errorf("DecodeEvent(%q) should fail", line)
		}
	}
}

func TestFrameReader(t *testing.T) {
	input := "first\r\n\n  second  \n" + strings.Repeat("x", 300) + "\nthird"
	fr := newFrameReader(strings.NewReader(input))
	fr.max = 100

	want := []struct {
		line string
		err  error
	}{
		{"first", nil},
		{"", nil},
		{"second", nil},
		{"", errFrameTooLong},
		{"third", nil},
		{"", io.EOF},
	}

	for i, w := range want {
		got, err := fr.Next()
		if !errors.Is(err, w.err) {
			t.Fatalf("frame %d: error = %v, want %v", i, err, w.err)
		}
		if !bytes.Equal(got, []byte(w.line)) && !(len(got) == 0 && w.line == "") {
			t.Errorf("frame %d = %q, want %q", i, got, w.line)
		}
	}
}

func TestChannelNames(t *testing.T) {
	control, events := ChannelNames("datagate.engine", "dev")
	if control != "datagate.engine.dev.control" {
		t.Errorf("control = %q", control)
	}
	if events != "datagate.engine.dev.events" {
		t.Errorf("events = %q", events)
	}
}
