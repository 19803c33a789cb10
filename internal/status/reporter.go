package status

import (
	"context"
	"log"
	"sync"

	"github.com/unattachedgray/feedbuffet/internal/store"
)

// Reporter advertises pipeline progress through the singleton status row.
// Reporting is observability, never a gate: upsert failures are logged and
// swallowed so the pipeline keeps moving. The mutex serializes writers so
// concurrent stages cannot interleave upserts.
type Reporter struct {
	store  *store.Store
	logger *log.Logger
	mu     sync.Mutex
}

// NewReporter wires a reporter over the store.
func NewReporter(st *store.Store, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{store: st, logger: logger}
}

// Report overwrites the status row with an active state. Percent is
// advisory and not validated; callers pass non-decreasing values per run.
func (r *Reporter) Report(ctx context.Context, text string, percent int) {
	r.upsert(ctx, text, percent, true)
}

// Close overwrites the status row with an inactive state, marking run
// completion or terminal failure.
func (r *Reporter) Close(ctx context.Context, text string, percent int) {
	r.upsert(ctx, text, percent, false)
}

func (r *Reporter) upsert(ctx context.Context, text string, percent int, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.UpsertPipelineStatus(ctx, text, percent, active); err != nil {
		r.logger.Printf("status update failed: %v", err)
	}
}
