// Package ui provides the user-facing shells for the DataGate shell.
// This file contains the Store, the thread-safe sink every shell renders from.
package ui

import (
	"context"
	"sync"

	"github.com/yllada/datagate-shell/common"
)

// Snapshot is a copy of the displayed session state.
type Snapshot struct {
	Status     common.ConnectionStatus
	StatusText string
	// Detail is the free-form line set by SetStatusText.
	Detail  string
	Logs    []string
	Version uint64
}

// Store implements common.UI. It keeps the latest state and a bounded log
// and wakes subscribers whenever anything changes.
type Store struct {
	mu         sync.Mutex
	status     common.ConnectionStatus
	statusText string
	detail     string
	logs       []string
	maxLines   int
	version    uint64
	subs       map[int]chan struct{}
	nextSub    int
}

var _ common.UI = (*Store)(nil)

// NewStore creates a store that keeps at most maxLines log lines.
// A non-positive maxLines uses common.MaxLogLines.
func NewStore(maxLines int) *Store {
	if maxLines <= 0 {
		maxLines = common.MaxLogLines
	}
	return &Store{
		statusText: common.StatusIdle.String(),
		maxLines:   maxLines,
		subs:       make(map[int]chan struct{}),
	}
}

// SetStatusText sets the free-form detail line.
func (s *Store) SetStatusText(text string) {
	s.mu.Lock()
	s.detail = text
	s.changedLocked()
	s.mu.Unlock()
}

// ApplyState sets the state and its status line.
func (s *Store) ApplyState(status common.ConnectionStatus, text string) {
	s.mu.Lock()
	s.status = status
	s.statusText = text
	s.changedLocked()
	s.mu.Unlock()
}

// AppendLog adds a line, dropping the oldest once the limit is reached.
func (s *Store) AppendLog(line string) {
	s.mu.Lock()
	if len(s.logs) >= s.maxLines {
		n := copy(s.logs, s.logs[len(s.logs)-s.maxLines+1:])
		s.logs = s.logs[:n]
	}
	s.logs = append(s.logs, line)
	s.changedLocked()
	s.mu.Unlock()
}

func (s *Store) changedLocked() {
	s.version++
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:     s.status,
		StatusText: s.statusText,
		Detail:     s.detail,
		Logs:       append([]string(nil), s.logs...),
		Version:    s.version,
	}
}

// Subscribe returns a channel that receives a signal after changes.
// Signals coalesce; read Snapshot for the latest state.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// WaitFor blocks until cond holds for the current snapshot or ctx ends.
func (s *Store) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	changes, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for {
		snap := s.Snapshot()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changes:
		}
	}
}
