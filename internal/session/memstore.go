package session

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/plc-visualizer/backend/internal/entrystore"
	"github.com/plc-visualizer/backend/internal/models"
)

func msToUTC(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// memStore is the in-memory backend used for small-file parses (any
// dialect other than bracket-PLC) and for merged multi-file sessions,
// which the spec explicitly keeps off the columnar-store path (spec
// §4.6, "merge is not available on the large-file path in this
// design"; spec §9 flags this as RAM-bounded by design).
type memStore struct {
	entries []models.LogEntry // sorted by TimestampMillis, then appearance
}

func newMemStore(entries []models.LogEntry) *memStore {
	sorted := append([]models.LogEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMillis < sorted[j].TimestampMillis
	})
	return &memStore{entries: sorted}
}

func (m *memStore) Len() (int64, error) { return int64(len(m.entries)), nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) GetEntries(_ context.Context, start, end int64) ([]models.LogEntry, error) {
	if end <= start || start < 0 {
		return nil, nil
	}
	if end > int64(len(m.entries)) {
		end = int64(len(m.entries))
	}
	if start >= end {
		return nil, nil
	}
	return append([]models.LogEntry(nil), m.entries[start:end]...), nil
}

func matchesFilter(e models.LogEntry, f entrystore.Filter) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.SignalType != "" && string(e.SignalType) != f.SignalType {
		return false
	}
	if len(f.SignalKeys) > 0 {
		found := false
		for _, k := range f.SignalKeys {
			if e.SignalKey() == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Search != "" {
		if f.Regex {
			if re, err := regexp.Compile(f.Search); err == nil {
				return re.MatchString(e.DeviceID) || re.MatchString(e.SignalName) || re.MatchString(e.Value) || re.MatchString(e.Category)
			}
		}
		if f.CaseSensitive {
			return strings.Contains(e.DeviceID, f.Search) || strings.Contains(e.SignalName, f.Search) ||
				strings.Contains(e.Value, f.Search) || strings.Contains(e.Category, f.Search)
		}
		low := strings.ToLower(f.Search)
		return strings.Contains(strings.ToLower(e.DeviceID), low) || strings.Contains(strings.ToLower(e.SignalName), low) ||
			strings.Contains(strings.ToLower(e.Value), low) || strings.Contains(strings.ToLower(e.Category), low)
	}
	return true
}

func (m *memStore) filtered(f entrystore.Filter) []models.LogEntry {
	var out []models.LogEntry
	for _, e := range m.entries {
		if matchesFilter(e, f) {
			out = append(out, e)
		}
	}
	if f.ChangedOnly {
		out = changedOnly(out)
	}
	sort.SliceStable(out, func(i, j int) bool {
		var less bool
		if f.Sort == entrystore.SortByDevice {
			if out[i].DeviceID != out[j].DeviceID {
				less = out[i].DeviceID < out[j].DeviceID
			} else {
				less = out[i].SignalName < out[j].SignalName
			}
		} else {
			less = out[i].TimestampMillis < out[j].TimestampMillis
		}
		if f.Descending {
			return !less
		}
		return less
	})
	return out
}

// changedOnly keeps, per signal, only entries whose value differs
// from that signal's previous-in-time value (spec §4.7).
func changedOnly(entries []models.LogEntry) []models.LogEntry {
	last := make(map[string]string)
	var out []models.LogEntry
	for _, e := range entries {
		key := e.SignalKey()
		if prev, ok := last[key]; ok && prev == e.Value {
			continue
		}
		last[key] = e.Value
		out = append(out, e)
	}
	return out
}

func (m *memStore) QueryEntries(_ context.Context, filter entrystore.Filter, page, pageSize int) ([]models.LogEntry, int64, error) {
	all := m.filtered(filter)
	total := int64(len(all))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *memStore) GetChunk(_ context.Context, startTs, endTs int64, signalKeys []string) ([]models.LogEntry, error) {
	if startTs > endTs {
		return nil, nil
	}
	keySet := toSet(signalKeys)
	var out []models.LogEntry
	for _, e := range m.entries {
		if e.TimestampMillis < startTs || e.TimestampMillis > endTs {
			continue
		}
		if len(keySet) > 0 {
			if _, ok := keySet[e.SignalKey()]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) GetValuesAtTime(_ context.Context, ts int64, signalKeys []string) ([]models.LogEntry, error) {
	keySet := toSet(signalKeys)
	latest := make(map[string]models.LogEntry)
	for _, e := range m.entries {
		if e.TimestampMillis > ts {
			continue
		}
		if len(keySet) > 0 {
			if _, ok := keySet[e.SignalKey()]; !ok {
				continue
			}
		}
		if cur, ok := latest[e.SignalKey()]; !ok || e.TimestampMillis >= cur.TimestampMillis {
			latest[e.SignalKey()] = e
		}
	}
	var out []models.LogEntry
	for _, e := range latest {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) GetBoundaryValues(_ context.Context, startTs, endTs int64, signalKeys []string) (entrystore.BoundaryValues, error) {
	result := entrystore.BoundaryValues{Before: make(map[string]models.LogEntry), After: make(map[string]models.LogEntry)}
	keySet := toSet(signalKeys)
	for _, e := range m.entries {
		if len(keySet) > 0 {
			if _, ok := keySet[e.SignalKey()]; !ok {
				continue
			}
		}
		if e.TimestampMillis < startTs {
			if cur, ok := result.Before[e.SignalKey()]; !ok || e.TimestampMillis >= cur.TimestampMillis {
				result.Before[e.SignalKey()] = e
			}
		}
		if e.TimestampMillis > endTs {
			if cur, ok := result.After[e.SignalKey()]; !ok || e.TimestampMillis <= cur.TimestampMillis {
				result.After[e.SignalKey()] = e
			}
		}
	}
	return result, nil
}

func (m *memStore) GetIndexByTime(_ context.Context, filter entrystore.Filter, ts int64) (int64, error) {
	all := m.filtered(filter)
	for i, e := range all {
		if !filter.Descending && e.TimestampMillis >= ts {
			return int64(i), nil
		}
		if filter.Descending && e.TimestampMillis <= ts {
			return int64(i), nil
		}
	}
	return -1, nil
}

func (m *memStore) GetTimeTree(_ context.Context, filter entrystore.Filter) ([]entrystore.TimeTreeNode, error) {
	type bucketKey struct{ date, hour, minute string }
	buckets := make(map[bucketKey]int64)
	for _, e := range m.filtered(filter) {
		t := msToUTC(e.TimestampMillis)
		k := bucketKey{date: t.Format("2006-01-02"), hour: t.Format("15"), minute: t.Format("04")}
		if cur, ok := buckets[k]; !ok || e.TimestampMillis < cur {
			buckets[k] = e.TimestampMillis
		}
	}
	var out []entrystore.TimeTreeNode
	for k, firstTs := range buckets {
		out = append(out, entrystore.TimeTreeNode{Date: k.date, Hour: k.hour, Minute: k.minute, FirstTs: firstTs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstTs < out[j].FirstTs })
	return out, nil
}

func (m *memStore) GetSignals() ([]string, error) {
	set := make(map[string]struct{})
	for _, e := range m.entries {
		set[e.SignalKey()] = struct{}{}
	}
	var out []string
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) GetSignalTypes() (map[string]models.SignalType, error) {
	out := make(map[string]models.SignalType)
	for _, e := range m.entries {
		out[e.SignalKey()] = e.SignalType
	}
	return out, nil
}

func (m *memStore) GetCategories(_ context.Context) ([]string, error) {
	set := make(map[string]struct{})
	for _, e := range m.entries {
		if e.Category != "" {
			set[e.Category] = struct{}{}
		}
	}
	var out []string
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) GetTimeRange() (entrystore.TimeRange, error) {
	if len(m.entries) == 0 {
		return entrystore.TimeRange{Empty: true}, nil
	}
	min, max := m.entries[0].TimestampMillis, m.entries[0].TimestampMillis
	for _, e := range m.entries {
		if e.TimestampMillis < min {
			min = e.TimestampMillis
		}
		if e.TimestampMillis > max {
			max = e.TimestampMillis
		}
	}
	return entrystore.TimeRange{MinTs: min, MaxTs: max}, nil
}

func toSet(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
