// Package loading implements the transaction loading-state side
// channel: a host can report indeterminate or queue-style progress
// while a long-running action computes its first render batch.
package loading

import (
	"context"
	"log/slog"
	"sync"
)

// Snapshot is the current loading display, sent to the dashboard on
// every Start/Update/CompleteOne call.
type Snapshot struct {
	Title          *string
	Description    *string
	ItemsInQueue   *int
	ItemsCompleted *int
}

// SendFunc delivers one loading snapshot for a transaction. It is
// typically bound to an rpc.Client's SEND_LOADING_CALL.
type SendFunc func(ctx context.Context, transactionID string, snap Snapshot) error

// State is the per-transaction loading indicator, grounded on
// TransactionLoadingState from the original implementation.
type State struct {
	transactionID string
	send          SendFunc
	logger        *slog.Logger

	mu      sync.Mutex
	started bool
	snap    Snapshot
}

// New returns a loading state for transactionID. No message is sent
// until Start or Update is called.
func New(transactionID string, send SendFunc, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{transactionID: transactionID, send: send, logger: logger}
}

// Start begins (or restarts) the loading display with a fresh title,
// description and queue size. itemsInQueue, if non-nil, resets
// itemsCompleted to 0.
func (s *State) Start(ctx context.Context, title, description *string, itemsInQueue *int) error {
	s.mu.Lock()
	s.started = true
	s.snap = Snapshot{Title: title, Description: description, ItemsInQueue: itemsInQueue}
	if itemsInQueue != nil {
		zero := 0
		s.snap.ItemsCompleted = &zero
	}
	snap := s.snap
	s.mu.Unlock()

	return s.send(ctx, s.transactionID, snap)
}

// Update merges the given fields into the current snapshot. If nothing
// has been started yet it promotes itself to Start, logging a warning
// since calling Update before Start is not the intended sequence.
func (s *State) Update(ctx context.Context, title, description *string, itemsInQueue *int) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.logger.Warn("loading.update called before loading.start; starting implicitly")
		return s.Start(ctx, title, description, itemsInQueue)
	}

	if title != nil {
		s.snap.Title = title
	}
	if description != nil {
		s.snap.Description = description
	}
	if itemsInQueue != nil {
		s.snap.ItemsInQueue = itemsInQueue
	}
	snap := s.snap
	s.mu.Unlock()

	return s.send(ctx, s.transactionID, snap)
}

// CompleteOne increments itemsCompleted by one. It is a no-op (with a
// warning) if itemsInQueue was never set, since there is no queue to
// advance through.
func (s *State) CompleteOne(ctx context.Context) error {
	s.mu.Lock()
	if s.snap.ItemsInQueue == nil {
		s.mu.Unlock()
		s.logger.Warn("loading.complete_one called without itemsInQueue; ignoring")
		return nil
	}

	completed := 0
	if s.snap.ItemsCompleted != nil {
		completed = *s.snap.ItemsCompleted
	}
	completed++
	s.snap.ItemsCompleted = &completed
	snap := s.snap
	s.mu.Unlock()

	return s.send(ctx, s.transactionID, snap)
}

// Resend re-delivers the current snapshot unchanged. Used after a
// reconnect replaces the underlying transport; a no-op if Start has
// never been called.
func (s *State) Resend(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	snap := s.snap
	s.mu.Unlock()
	if !started {
		return nil
	}
	return s.send(ctx, s.transactionID, snap)
}
