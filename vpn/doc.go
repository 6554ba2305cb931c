// Package vpn provides VPN session management functionality for the DataGate shell.
//
// This package sits between the user-facing shells and the engine supervisor:
//
//   - Session control: Connecting, disconnecting, and reconnecting with backoff
//   - Status tracking: Mapping engine states and events onto the displayed state
//   - Profile management: Creating, updating, and deleting engine profiles
//   - Server selection: Picking and rotating relay servers from the catalog
//
// # Architecture
//
// The package is organized around these types:
//
//   - Controller: The connection state machine (Idle, Connecting, Connected,
//     Disconnecting) driven by user intent and engine events
//   - StatusMonitor: Optional periodic status refresh
//   - ProfileManager: Handles persistence and management of engine profiles
//   - ServerSelector: Ranks WSS servers and rotates between them
//   - PayloadBuilder: Assembles the StartSession payload
//
// # Connection Flow
//
// A typical connection flow:
//
//  1. User triggers Connect through a shell
//  2. Controller attaches to a running engine or starts one
//  3. If the engine is idle, the Controller sends StartSession with the
//     payload built from the active profile and the selected server
//  4. Engine events move the state to Connected, or to Idle with a
//     scheduled reconnect while the session is still desired
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Connect and
// Disconnect sequences are serialized by the Controller; status refreshes
// are not.
package vpn
