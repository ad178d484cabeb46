package query

import (
	"context"

	"github.com/plc-visualizer/backend/internal/entrystore"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/session"
)

// Manager wraps a session.Manager with a concurrency cap on heavy
// reads (spec §4.7/§5) and JPath sub-value extraction (spec §4.3
// domain-stack addition) on top of the session layer's raw entries.
type Manager struct {
	sessions *session.Manager
	sem      *semaphore
}

// New wraps sessions with a query semaphore of the given capacity (use
// defaultQuerySemaphore if capacity <= 0).
func New(sessions *session.Manager, capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultQuerySemaphore
	}
	return &Manager{sessions: sessions, sem: newSemaphore(capacity)}
}

// withSlot acquires a semaphore slot for the duration of fn, returning
// fn's error or the context's cancellation error if the slot could not
// be acquired in time.
func withSlot[T any](ctx context.Context, m *Manager, zero T, fn func() (T, error)) (T, error) {
	if err := m.sem.acquire(ctx); err != nil {
		return zero, err
	}
	defer m.sem.release()
	return fn()
}

// splitJPathKeys separates signalKeys into their store-queryable base
// names and a map from base name back to JPath expression, so the
// underlying store is queried by plain signal identity while the
// sub-value extraction happens here.
func splitJPathKeys(keys []string) (bases []string, exprByBase map[string]string) {
	if len(keys) == 0 {
		return nil, nil
	}
	bases = make([]string, len(keys))
	for i, k := range keys {
		base, expr, ok := parseSignalJPath(k)
		bases[i] = base
		if ok {
			if exprByBase == nil {
				exprByBase = make(map[string]string)
			}
			exprByBase[base] = expr
		}
	}
	return bases, exprByBase
}

// applyJPath rewrites each entry's Value in place when its signal has
// a registered JPath expression and the value parses as JSON under it;
// entries whose extraction fails keep their raw Value (spec: "regex
// failures degrade to substring" is the closest documented precedent
// for "extraction failure degrades to raw value").
func applyJPath(entries []models.LogEntry, exprByBase map[string]string) []models.LogEntry {
	if len(exprByBase) == 0 {
		return entries
	}
	for i := range entries {
		expr, ok := exprByBase[entries[i].SignalKey()]
		if !ok {
			continue
		}
		if extracted, ok := evaluateJPath(entries[i].Value, expr); ok {
			entries[i].Value = extracted
		}
	}
	return entries
}

func (m *Manager) GetEntries(ctx context.Context, sessionID string, start, end int64) ([]models.LogEntry, error) {
	return withSlot(ctx, m, []models.LogEntry(nil), func() ([]models.LogEntry, error) {
		return m.sessions.GetEntries(ctx, sessionID, start, end)
	})
}

func (m *Manager) QueryEntries(ctx context.Context, sessionID string, filter entrystore.Filter, page, pageSize int) ([]models.LogEntry, int64, error) {
	bases, exprByBase := splitJPathKeys(filter.SignalKeys)
	queryFilter := filter
	queryFilter.SignalKeys = bases

	if err := m.sem.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer m.sem.release()

	entries, total, err := m.sessions.QueryEntries(ctx, sessionID, queryFilter, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return applyJPath(entries, exprByBase), total, nil
}

func (m *Manager) GetChunk(ctx context.Context, sessionID string, startTs, endTs int64, signalKeys []string) ([]models.LogEntry, error) {
	bases, exprByBase := splitJPathKeys(signalKeys)
	entries, err := withSlot(ctx, m, []models.LogEntry(nil), func() ([]models.LogEntry, error) {
		return m.sessions.GetChunk(ctx, sessionID, startTs, endTs, bases)
	})
	if err != nil {
		return nil, err
	}
	return applyJPath(entries, exprByBase), nil
}

func (m *Manager) GetValuesAtTime(ctx context.Context, sessionID string, ts int64, signalKeys []string) ([]models.LogEntry, error) {
	bases, exprByBase := splitJPathKeys(signalKeys)
	entries, err := withSlot(ctx, m, []models.LogEntry(nil), func() ([]models.LogEntry, error) {
		return m.sessions.GetValuesAtTime(ctx, sessionID, ts, bases)
	})
	if err != nil {
		return nil, err
	}
	return applyJPath(entries, exprByBase), nil
}

func (m *Manager) GetBoundaryValues(ctx context.Context, sessionID string, startTs, endTs int64, signalKeys []string) (entrystore.BoundaryValues, error) {
	bases, exprByBase := splitJPathKeys(signalKeys)
	result, err := withSlot(ctx, m, entrystore.BoundaryValues{}, func() (entrystore.BoundaryValues, error) {
		return m.sessions.GetBoundaryValues(ctx, sessionID, startTs, endTs, bases)
	})
	if err != nil {
		return entrystore.BoundaryValues{}, err
	}
	for k, v := range result.Before {
		if expr, ok := exprByBase[v.SignalKey()]; ok {
			if extracted, ok := evaluateJPath(v.Value, expr); ok {
				v.Value = extracted
				result.Before[k] = v
			}
		}
	}
	for k, v := range result.After {
		if expr, ok := exprByBase[v.SignalKey()]; ok {
			if extracted, ok := evaluateJPath(v.Value, expr); ok {
				v.Value = extracted
				result.After[k] = v
			}
		}
	}
	return result, nil
}

func (m *Manager) GetIndexByTime(ctx context.Context, sessionID string, filter entrystore.Filter, ts int64) (int64, error) {
	return withSlot(ctx, m, int64(-1), func() (int64, error) {
		return m.sessions.GetIndexByTime(ctx, sessionID, filter, ts)
	})
}

func (m *Manager) GetTimeTree(ctx context.Context, sessionID string, filter entrystore.Filter) ([]entrystore.TimeTreeNode, error) {
	return withSlot(ctx, m, []entrystore.TimeTreeNode(nil), func() ([]entrystore.TimeTreeNode, error) {
		return m.sessions.GetTimeTree(ctx, sessionID, filter)
	})
}

func (m *Manager) GetSignals(sessionID string) ([]string, error) {
	return m.sessions.GetSignals(sessionID)
}

func (m *Manager) GetSignalTypes(sessionID string) (map[string]models.SignalType, error) {
	return m.sessions.GetSignalTypes(sessionID)
}

func (m *Manager) GetCategories(ctx context.Context, sessionID string) ([]string, error) {
	return withSlot(ctx, m, []string(nil), func() ([]string, error) {
		return m.sessions.GetCategories(ctx, sessionID)
	})
}

func (m *Manager) GetTimeRange(sessionID string) (entrystore.TimeRange, error) {
	return m.sessions.GetTimeRange(sessionID)
}
