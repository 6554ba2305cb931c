// Package ipc implements the local wire protocol between the shell and the
// engine process.
//
// Two unix domain sockets are derived from the session identifier:
//
//	<namespace>.<sessionId>.control   commands and replies (duplex)
//	<namespace>.<sessionId>.events    unsolicited engine events (one-way)
//
// Every frame is one line of JSON. Commands carry a fresh id and are matched
// to replies by that id, so replies may arrive in any order. Events are read
// by a single loop and delivered in the order the engine wrote them.
//
// A Transport either attaches to an engine that is already listening or
// spawns one and then connects. It never terminates a process it did not
// start.
package ipc
