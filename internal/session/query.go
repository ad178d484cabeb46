package session

import (
	"context"
	"errors"

	"github.com/plc-visualizer/backend/internal/entrystore"
	"github.com/plc-visualizer/backend/internal/models"
)

// ErrSessionNotReady is returned by every query delegation method when
// the session is unknown or has not yet reached complete (spec §5: "a
// cancelled query returns a not-found shape rather than partial data"
// generalizes naturally to "not ready" too).
var ErrSessionNotReady = errors.New("session: not found or not ready")

func (m *Manager) GetEntries(ctx context.Context, id string, start, end int64) ([]models.LogEntry, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return nil, ctx.Err()
	}
	return b.GetEntries(ctx, start, end)
}

func (m *Manager) QueryEntries(ctx context.Context, id string, filter entrystore.Filter, page, pageSize int) ([]models.LogEntry, int64, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, 0, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return nil, 0, ctx.Err()
	}
	return b.QueryEntries(ctx, filter, page, pageSize)
}

func (m *Manager) GetChunk(ctx context.Context, id string, startTs, endTs int64, signalKeys []string) ([]models.LogEntry, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return nil, ctx.Err()
	}
	return b.GetChunk(ctx, startTs, endTs, signalKeys)
}

func (m *Manager) GetValuesAtTime(ctx context.Context, id string, ts int64, signalKeys []string) ([]models.LogEntry, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return nil, ctx.Err()
	}
	return b.GetValuesAtTime(ctx, ts, signalKeys)
}

func (m *Manager) GetBoundaryValues(ctx context.Context, id string, startTs, endTs int64, signalKeys []string) (entrystore.BoundaryValues, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return entrystore.BoundaryValues{}, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return entrystore.BoundaryValues{}, ctx.Err()
	}
	return b.GetBoundaryValues(ctx, startTs, endTs, signalKeys)
}

func (m *Manager) GetIndexByTime(ctx context.Context, id string, filter entrystore.Filter, ts int64) (int64, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return -1, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return -1, ctx.Err()
	}
	return b.GetIndexByTime(ctx, filter, ts)
}

func (m *Manager) GetTimeTree(ctx context.Context, id string, filter entrystore.Filter) ([]entrystore.TimeTreeNode, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return nil, ctx.Err()
	}
	return b.GetTimeTree(ctx, filter)
}

func (m *Manager) GetSignals(id string) ([]string, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, ErrSessionNotReady
	}
	return b.GetSignals()
}

func (m *Manager) GetSignalTypes(id string) (map[string]models.SignalType, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, ErrSessionNotReady
	}
	return b.GetSignalTypes()
}

func (m *Manager) GetCategories(ctx context.Context, id string) ([]string, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return nil, ErrSessionNotReady
	}
	if ctxDone(ctx) {
		return nil, ctx.Err()
	}
	return b.GetCategories(ctx)
}

func (m *Manager) GetTimeRange(id string) (entrystore.TimeRange, error) {
	b, ok := m.backendFor(id)
	if !ok {
		return entrystore.TimeRange{}, ErrSessionNotReady
	}
	return b.GetTimeRange()
}
