package engine

import (
	"testing"
	"time"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/config"
)

func TestTimeoutsFromConfig(t *testing.T) {
	got := TimeoutsFromConfig(config.Timeouts{AttachProbe: 3 * time.Second, StatusPoll: time.Minute})

	if got.AttachProbe != 3*time.Second {
		t.Errorf("AttachProbe = %v, want 3s", got.AttachProbe)
	}
	if got.StopSession != common.StopSessionTimeout {
		t.Errorf("StopSession = %v, want default %v", got.StopSession, common.StopSessionTimeout)
	}
	if got.StartBudget != common.StartBudget {
		t.Errorf("StartBudget = %v, want default %v", got.StartBudget, common.StartBudget)
	}
}

func TestDefaultTimeoutsMatchTable(t *testing.T) {
	def := DefaultTimeouts()
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"attach probe", def.AttachProbe, time.Second},
		{"attach only", def.AttachOnly, 8 * time.Second},
		{"start budget", def.StartBudget, 12 * time.Second},
		{"early exit grace", def.EarlyExitGrace, 150 * time.Millisecond},
		{"connect slice", def.ConnectSlice, 500 * time.Millisecond},
		{"get status", def.GetStatus, 5 * time.Second},
		{"start session", def.StartSession, 20 * time.Second},
		{"stop session", def.StopSession, 20 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}
