package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/yllada/datagate-shell/common"
)

func TestBuildTrayView(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		snap           Snapshot
		since          time.Time
		wantPrefix     string
		showConnect    bool
		showDisconnect bool
		uptime         string
	}{
		{"idle", Snapshot{Status: common.StatusIdle, StatusText: "Idle"}, time.Time{}, "○", true, false, ""},
		{"connecting", Snapshot{Status: common.StatusConnecting, StatusText: "Reconnecting in 2s..."}, time.Time{}, "⟳", false, true, ""},
		{"disconnecting", Snapshot{Status: common.StatusDisconnecting, StatusText: "Disconnecting..."}, time.Time{}, "⟳", false, false, ""},
		{"connected", Snapshot{Status: common.StatusConnected, StatusText: "Connected (10.8.0.2)"}, now.Add(-(time.Hour + 2*time.Minute + 3*time.Second)), "●", false, true, "01:02:03"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := buildTrayView(tt.snap, tt.since, now)
			if !strings.HasPrefix(v.Status, tt.wantPrefix) || !strings.HasSuffix(v.Status, tt.snap.StatusText) {
				t.Errorf("Status = %q", v.Status)
			}
			if v.Tooltip != "DataGate - "+tt.snap.StatusText {
				t.Errorf("Tooltip = %q", v.Tooltip)
			}
			if v.ShowConnect != tt.showConnect || v.ShowDisconnect != tt.showDisconnect {
				t.Errorf("connect=%v disconnect=%v", v.ShowConnect, v.ShowDisconnect)
			}
			if tt.uptime != "" && !strings.HasSuffix(v.Uptime, tt.uptime) {
				t.Errorf("Uptime = %q, want suffix %q", v.Uptime, tt.uptime)
			}
			if tt.uptime == "" && v.ShowUptime {
				t.Error("uptime should be hidden")
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	if got := formatUptime(90 * time.Second); got != "00:01:30" {
		t.Errorf("formatUptime(90s) = %q", got)
	}
}
