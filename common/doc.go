// Package common provides shared constants, types, utilities, and interfaces
// used throughout the DataGate shell.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: file names, engine defaults, and the timeout table
//   - Errors: sentinel errors shared by the ipc, engine, and vpn packages
//   - Interfaces: the UI sinks, payload builder, and credential storage
//   - Logger: leveled logging with file rotation and UI sinks
//
// # Usage
//
//	import "github.com/yllada/datagate-shell/common"
//
//	common.LogInfo("Attaching to session %s", sessionID)
//
//	if errors.Is(err, common.ErrEngineNotFound) {
//	    // ask the user to install the engine
//	}
package common
