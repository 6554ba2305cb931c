package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	entries := []Entry{
		{Time: base, SessionID: "dev", Kind: KindState, State: "Connecting", Detail: "Connecting..."},
		{Time: base.Add(time.Second), SessionID: "dev", Kind: KindState, State: "Connected", Detail: "Connected (10.8.0.2)"},
		{Time: base.Add(2 * time.Second), SessionID: "dev", Kind: KindReconnect, Detail: "attempt 1 in 2s"},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(got))
	}
	if got[0].Kind != KindReconnect || got[1].State != "Connected" {
		t.Errorf("Recent() order = %+v", got)
	}
	if !got[1].Time.Equal(base.Add(time.Second)) {
		t.Errorf("Time = %v, want %v", got[1].Time, base.Add(time.Second))
	}
	if got[0].ID == 0 {
		t.Error("ID should be assigned")
	}
}

func TestJournal_RecordDefaultsTime(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	before := time.Now()
	if err := j.Record(ctx, Entry{SessionID: "dev", Kind: KindEngine, Detail: "exited"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() returned %d entries, want 1", len(got))
	}
	if got[0].Time.Before(before.Add(-time.Second)) {
		t.Errorf("Time = %v, want around %v", got[0].Time, before)
	}
}

func TestJournal_Prune(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		if err := j.Record(ctx, Entry{Time: now.Add(-age), SessionID: "dev", Kind: KindState}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := j.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}

	got, _ := j.Recent(ctx, 10)
	if len(got) != 1 {
		t.Errorf("remaining entries = %d, want 1", len(got))
	}
}

func TestJournal_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := j.Record(ctx, Entry{SessionID: "dev", Kind: KindState, State: "Idle"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	j.Close()

	j2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j2.Close()

	got, err := j2.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].State != "Idle" {
		t.Errorf("Recent() after reopen = %+v", got)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Error("Open(\"\") should fail")
	}
}
