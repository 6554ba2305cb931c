// Package vpn provides VPN session management functionality.
// This file contains the StatusMonitor, which periodically refreshes the
// displayed session status from the engine and tracks probe health.
package vpn

import (
	"context"
	"sync"
	"time"

	"github.com/yllada/datagate-shell/common"
)

// HealthState represents the health of the engine status probe.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// MonitorConfig holds configuration for the status monitor.
type MonitorConfig struct {
	// Interval is how often to refresh the status. Zero disables polling.
	Interval time.Duration
	// Timeout bounds one refresh.
	Timeout time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
}

// DefaultMonitorConfig returns sensible defaults for status polling.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:         30 * time.Second,
		Timeout:          common.GetStatusTimeout,
		FailureThreshold: 3,
	}
}

// StatusRefresher is what the monitor polls. *Controller implements it.
type StatusRefresher interface {
	RefreshStatus(ctx context.Context) error
	Busy() bool
}

// MonitorHealth is a snapshot of the probe health.
type MonitorHealth struct {
	State            HealthState
	LastCheck        time.Time
	LastSuccess      time.Time
	ConsecutiveFails int
	Skipped          int
}

// StatusMonitor refreshes the session status on an interval.
// Ticks that land while a connect or disconnect is in progress are skipped.
type StatusMonitor struct {
	mu             sync.RWMutex
	config         MonitorConfig
	target         StatusRefresher
	running        bool
	stopChan       chan struct{}
	done           chan struct{}
	health         MonitorHealth
	onHealthChange func(oldState, newState HealthState)
}

// NewStatusMonitor creates a monitor for target.
func NewStatusMonitor(target StatusRefresher, config MonitorConfig) *StatusMonitor {
	defaults := DefaultMonitorConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	return &StatusMonitor{
		config: config,
		target: target,
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (m *StatusMonitor) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = callback
}

// Start begins the polling loop. It does nothing when the interval is zero.
func (m *StatusMonitor) Start() {
	m.mu.Lock()
	if m.running || m.config.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stopChan, m.done
	m.mu.Unlock()

	common.LogInfo("Status monitor started (interval: %v)", m.config.Interval)

	go m.runLoop(stop, done)
}

// Stop stops the polling loop and waits for it to exit.
func (m *StatusMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	done := m.done
	m.mu.Unlock()

	<-done
	common.LogInfo("Status monitor stopped")
}

// IsRunning returns whether the monitor is currently running.
func (m *StatusMonitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Health returns a copy of the current probe health.
func (m *StatusMonitor) Health() MonitorHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

func (m *StatusMonitor) runLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			m.Check(ctx)
			cancel()
		}
	}
}

// Check runs one refresh unless a transition holds the controller lock,
// then rotates the log file if it grew past its limit.
func (m *StatusMonitor) Check(ctx context.Context) {
	defer common.GetLogger().CheckRotation()

	if m.target.Busy() {
		m.mu.Lock()
		m.health.Skipped++
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	err := m.target.RefreshStatus(ctx)
	cancel()

	m.mu.Lock()
	now := time.Now()
	m.health.LastCheck = now
	oldState := m.health.State

	if err != nil {
		m.health.ConsecutiveFails++
		common.LogWarn("Status check failed (attempt %d/%d): %v",
			m.health.ConsecutiveFails, m.config.FailureThreshold, err)
		if m.health.ConsecutiveFails >= m.config.FailureThreshold {
			m.health.State = HealthUnhealthy
		} else {
			m.health.State = HealthDegraded
		}
	} else {
		m.health.ConsecutiveFails = 0
		m.health.LastSuccess = now
		m.health.State = HealthHealthy
	}

	newState := m.health.State
	callback := m.onHealthChange
	m.mu.Unlock()

	if oldState != newState {
		common.LogInfo("Status probe health changed: %s -> %s", oldState, newState)
		if callback != nil {
			callback(oldState, newState)
		}
	}
}
