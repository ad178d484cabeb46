// Package session implements the session manager (spec §4.6): binds a
// parse job to a client-facing handle, enforces a concurrent-session
// cap with keep-alive-aware eviction, isolates parser panics, and
// resolves same-file lock conflicts. Modeled directly on the
// teacher's tabsMu/tabs map pattern (app/app.go) generalized from
// "one open file per tab" to "one parse session per request."
package session

import (
	"context"

	"github.com/plc-visualizer/backend/internal/entrystore"
	"github.com/plc-visualizer/backend/internal/models"
)

// backend is the read surface a session delegates queries to: either a
// real entrystore.Store (fast path / bracket-PLC slow path) or an
// in-memory fallback (other dialects, merge path). entrystore.Store
// already implements every method below.
type backend interface {
	Len() (int64, error)
	GetEntries(ctx context.Context, offsetStart, offsetEndExclusive int64) ([]models.LogEntry, error)
	QueryEntries(ctx context.Context, filter entrystore.Filter, page, pageSize int) ([]models.LogEntry, int64, error)
	GetChunk(ctx context.Context, startTs, endTs int64, signalKeys []string) ([]models.LogEntry, error)
	GetValuesAtTime(ctx context.Context, ts int64, signalKeys []string) ([]models.LogEntry, error)
	GetBoundaryValues(ctx context.Context, startTs, endTs int64, signalKeys []string) (entrystore.BoundaryValues, error)
	GetIndexByTime(ctx context.Context, filter entrystore.Filter, ts int64) (int64, error)
	GetTimeTree(ctx context.Context, filter entrystore.Filter) ([]entrystore.TimeTreeNode, error)
	GetSignals() ([]string, error)
	GetSignalTypes() (map[string]models.SignalType, error)
	GetCategories(ctx context.Context) ([]string, error)
	GetTimeRange() (entrystore.TimeRange, error)
	Close() error
}

var _ backend = (*entrystore.Store)(nil)
