// Package engine supervises one engine session on top of an ipc.Transport.
//
// The Supervisor creates its transport lazily, attaches to an engine that is
// already running or spawns one, and exposes the three session commands the
// shell needs: GetStatus, StartSession and StopSession. Engine events are
// forwarded to a single channel that outlives transport resets.
package engine
