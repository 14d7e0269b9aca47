package settlement

import (
	"context"
	"errors"
	"sync"
)

// ErrExternalLedgerUnavailable marks a failed report to the position ledger.
// It is logged, never returned to trading callers.
var ErrExternalLedgerUnavailable = errors.New("external ledger unavailable")

// LedgerReporter receives the economic effect of committed fills.
type LedgerReporter interface {
	OnFill(ctx context.Context, u PositionUpdate) error
	OnVolumeDelta(ctx context.Context, u VolumeUpdate) error
}

// MemoryReporter records every report. Fail makes subsequent calls return
// ErrExternalLedgerUnavailable.
type MemoryReporter struct {
	mu        sync.Mutex
	positions []PositionUpdate
	volumes   []VolumeUpdate
	fail      bool
}

func NewMemoryReporter() *MemoryReporter { return &MemoryReporter{} }

func (r *MemoryReporter) OnFill(_ context.Context, u PositionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrExternalLedgerUnavailable
	}
	r.positions = append(r.positions, u)
	return nil
}

func (r *MemoryReporter) OnVolumeDelta(_ context.Context, u VolumeUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrExternalLedgerUnavailable
	}
	r.volumes = append(r.volumes, u)
	return nil
}

func (r *MemoryReporter) Fail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func (r *MemoryReporter) Positions() []PositionUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PositionUpdate(nil), r.positions...)
}

func (r *MemoryReporter) Volumes() []VolumeUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]VolumeUpdate(nil), r.volumes...)
}
