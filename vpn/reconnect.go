// Package vpn provides VPN session management functionality.
// This file contains the reconnect backoff policy.
package vpn

import "time"

// ReconnectPolicy maps a reconnect attempt number to the delay before it.
type ReconnectPolicy func(attempt int) time.Duration

// DefaultReconnectDelay is the production backoff: 2s, 4s, 8s, then 15s
// for every later attempt.
func DefaultReconnectDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return 2 * time.Second
	case attempt == 2:
		return 4 * time.Second
	case attempt == 3:
		return 8 * time.Second
	default:
		return 15 * time.Second
	}
}
