package engine

import (
	"time"

	"github.com/yllada/datagate-shell/common"
	"github.com/yllada/datagate-shell/config"
)

// Timeouts bounds every supervised operation.
type Timeouts struct {
	AttachProbe        time.Duration // single attach attempt in AttachOrStart
	AttachOnly         time.Duration // Attach
	AttachOrStartProbe time.Duration // overall budget of the probe in AttachOrStart
	SpawnConnect       time.Duration
	StartBudget        time.Duration // StartOrAttach after a failed probe
	EarlyExitGrace     time.Duration
	ConnectSlice       time.Duration
	GetStatus          time.Duration
	StartSession       time.Duration
	StopSession        time.Duration
	ShutdownGrace      time.Duration
}

// DefaultTimeouts returns the production values.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		AttachProbe:        common.AttachProbeTimeout,
		AttachOnly:         common.AttachOnlyTimeout,
		AttachOrStartProbe: common.AttachOrStartBudget,
		SpawnConnect:       common.SpawnConnectTimeout,
		StartBudget:        common.StartBudget,
		EarlyExitGrace:     common.EarlyExitGrace,
		ConnectSlice:       common.ConnectSlice,
		GetStatus:          common.GetStatusTimeout,
		StartSession:       common.StartSessionTimeout,
		StopSession:        common.StopSessionTimeout,
		ShutdownGrace:      common.ShutdownGrace,
	}
}

// TimeoutsFromConfig converts the user configuration.
func TimeoutsFromConfig(c config.Timeouts) Timeouts {
	t := Timeouts{
		AttachProbe:        c.AttachProbe,
		AttachOnly:         c.AttachOnly,
		AttachOrStartProbe: c.AttachOrStartProbe,
		SpawnConnect:       c.SpawnConnect,
		StartBudget:        c.StartBudget,
		EarlyExitGrace:     c.EarlyExitGrace,
		ConnectSlice:       c.ConnectSlice,
		GetStatus:          c.GetStatus,
		StartSession:       c.StartSession,
		StopSession:        c.StopSession,
		ShutdownGrace:      c.ShutdownGrace,
	}
	t.fill()
	return t
}

// fill replaces zero values with defaults.
func (t *Timeouts) fill() {
	def := DefaultTimeouts()
	for _, f := range []struct{ val, def *time.Duration }{
		{&t.AttachProbe, &def.AttachProbe},
		{&t.AttachOnly, &def.AttachOnly},
		{&t.AttachOrStartProbe, &def.AttachOrStartProbe},
		{&t.SpawnConnect, &def.SpawnConnect},
		{&t.StartBudget, &def.StartBudget},
		{&t.EarlyExitGrace, &def.EarlyExitGrace},
		{&t.ConnectSlice, &def.ConnectSlice},
		{&t.GetStatus, &def.GetStatus},
		{&t.StartSession, &def.StartSession},
		{&t.StopSession, &def.StopSession},
		{&t.ShutdownGrace, &def.ShutdownGrace},
	} {
		if *f.val <= 0 {
			*f.val = *f.def
		}
	}
}
