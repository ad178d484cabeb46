package entrystore

import (
	"context"
	"fmt"

	"github.com/plc-visualizer/backend/internal/models"
)

// QueryEntries is the filtered, paginated read every client-facing
// table view flows through (spec §4.4). Deep pages use keyset
// (cursor-on-index) pagination rather than an offset scan: the store
// remembers the (sortValue, seq) cursor at the boundary of every page
// it has already produced for this filter, so advancing to page N+1
// from a cached page N is an indexed range scan, not a skip-N-rows
// scan (spec §4.4, "must use keyset pagination... rather than offset
// scanning"). A cold jump to an uncached deep page still has to walk
// forward page by page from the nearest cached boundary; the totals
// cache (spec §4.4 "Filtered counts are cached with the filter key")
// at least avoids re-running COUNT(*) on every call.
func (s *Store) QueryEntries(ctx context.Context, filter Filter, page, pageSize int) ([]models.LogEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	cacheKey := fmt.Sprintf("%s:pageSize:%d", filter.CacheKey(), pageSize)
	total, err := s.filteredCount(ctx, filter, cacheKey)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	from, fromPage, err := s.cursorBefore(ctx, filter, cacheKey, page)
	if err != nil {
		return nil, 0, err
	}

	entries, _, err := s.scanFromCursor(ctx, filter, from, (page-fromPage+1)*pageSize)
	if err != nil {
		return nil, 0, err
	}

	// Entries now holds every row from fromPage's start through (and
	// including) the requested page; cache every page boundary crossed
	// along the way so a subsequent request for any of them is O(1).
	s.recordPageBoundaries(cacheKey, filter, fromPage, pageSize, entries)

	start := (page - fromPage) * pageSize
	if start >= len(entries) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], total, nil
}

func (s *Store) filteredCount(ctx context.Context, filter Filter, key string) (int64, error) {
	s.countCacheMu.Lock()
	if n, ok := s.countCache[key]; ok {
		s.countCacheMu.Unlock()
		return n, nil
	}
	s.countCacheMu.Unlock()

	where, args, err := filter.whereClause()
	if err != nil {
		return 0, err
	}

	var total int64
	if filter.usesRegex() {
		// Regex search can't be expressed in the COUNT(*) query; scan
		// and count in Go instead.
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM entries %s`, selectColumns, where), args...)
		if err != nil {
			return 0, fmt.Errorf("entrystore: count scan: %w", err)
		}
		defer rows.Close()
		all, err := scanRows(rows)
		if err != nil {
			return 0, err
		}
		for _, e := range all {
			if filter.matchesSearch(e.DeviceID, e.SignalName, e.Value, e.Category) {
				total++
			}
		}
	} else {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM entries %s`, where)
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
			return 0, fmt.Errorf("entrystore: count: %w", err)
		}
	}

	s.countCacheMu.Lock()
	s.countCache[key] = total
	s.countCacheMu.Unlock()
	return total, nil
}

// cursorBefore returns the keyset cursor at the start of the nearest
// cached page at or before the requested page, and that page's number.
// Page 1 has an implicit zero-value cursor (start of the index).
func (s *Store) cursorBefore(_ context.Context, _ Filter, cacheKey string, page int) (keysetCursor, int, error) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	pages := s.cursors[cacheKey]
	bestPage := 1
	best := keysetCursor{}
	for p, c := range pages {
		if p <= page && p > bestPage {
			bestPage = p
			best = c
		}
	}
	return best, bestPage, nil
}

func (s *Store) recordPageBoundaries(cacheKey string, filter Filter, fromPage, pageSize int, entries []models.LogEntry) {
	if len(entries) == 0 {
		return
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	if s.cursors[cacheKey] == nil {
		s.cursors[cacheKey] = make(map[int]keysetCursor)
	}
	for boundary := pageSize; boundary <= len(entries); boundary += pageSize {
		pageNum := fromPage + boundary/pageSize
		e := entries[boundary-1]
		s.cursors[cacheKey][pageNum] = sortValueOf(e, filter.Sort)
	}
}

// sortValueOf positions e within the sort order named by sort: (ts, seq)
// for the default timestamp sort, (deviceID, signalName, seq) for
// SortByDevice — mirroring filter.orderClause()'s own switch so a
// keyset cursor always resolves on the same columns the query is
// actually ordered by (spec.md:162, "a cursor on the primary (ts) or
// secondary (deviceId, signalName) index depending on the active sort").
func sortValueOf(e models.LogEntry, sort SortField) keysetCursor {
	switch sort {
	case SortByDevice:
		return keysetCursor{deviceID: e.DeviceID, signalName: e.SignalName, seq: e.Seq}
	default:
		return keysetCursor{ts: e.TimestampMillis, seq: e.Seq}
	}
}

// cursorOp picks the comparison operator for a composite keyset
// predicate: forward=true continues a scan in the direction
// filter.orderClause() actually iterates (so "after" means "greater"
// under an ascending sort but "less" under a descending one);
// forward=false is its complement, used to count rows that precede a
// given cursor in that same order.
func cursorOp(forward, descending bool) string {
	if forward != descending {
		return ">"
	}
	return "<"
}

// cursorClauseFor builds the composite keyset predicate for sort,
// comparing against cur using op, e.g. "(ts > ? OR (ts = ? AND seq > ?))"
// for the timestamp sort, or the (device_id, signal_name, seq) analog
// for SortByDevice.
func cursorClauseFor(sort SortField, op string, cur keysetCursor) (string, []any) {
	switch sort {
	case SortByDevice:
		clause := fmt.Sprintf("(device_id %s ? OR (device_id = ? AND signal_name %s ?) OR (device_id = ? AND signal_name = ? AND seq %s ?))", op, op, op)
		return clause, []any{cur.deviceID, cur.deviceID, cur.signalName, cur.deviceID, cur.signalName, cur.seq}
	default:
		clause := fmt.Sprintf("(ts %s ? OR (ts = ? AND seq %s ?))", op, op)
		return clause, []any{cur.ts, cur.ts, cur.seq}
	}
}

// scanFromCursor reads up to limit rows starting after cursor (or from
// the very beginning if cursor is the zero value), applying filter and
// returning the last row's cursor.
func (s *Store) scanFromCursor(ctx context.Context, filter Filter, cursor keysetCursor, limit int) ([]models.LogEntry, keysetCursor, error) {
	where, args, err := filter.whereClause()
	if err != nil {
		return nil, keysetCursor{}, err
	}

	cursorClause := ""
	if cursor != (keysetCursor{}) {
		if where == "" {
			cursorClause = "WHERE "
		} else {
			cursorClause = " AND "
		}
		clause, cargs := cursorClauseFor(filter.Sort, cursorOp(true, filter.Descending), cursor)
		cursorClause += clause
		args = append(args, cargs...)
	}

	query := fmt.Sprintf(`SELECT %s FROM entries %s%s ORDER BY %s LIMIT ?`,
		selectColumns, where, cursorClause, filter.orderClause())
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, keysetCursor{}, fmt.Errorf("entrystore: scan from cursor: %w", err)
	}
	defer rows.Close()
	entries, err := scanRows(rows)
	if err != nil {
		return nil, keysetCursor{}, err
	}

	if filter.usesRegex() {
		filtered := entries[:0]
		for _, e := range entries {
			if filter.matchesSearch(e.DeviceID, e.SignalName, e.Value, e.Category) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	last := cursor
	if len(entries) > 0 {
		last = sortValueOf(entries[len(entries)-1], filter.Sort)
	}
	return entries, last, nil
}

// GetIndexByTime returns the 0-based rank, under the active sort order,
// of the first filtered row whose timestamp satisfies the direction
// appropriate relation to ts (>= ascending, <= descending), or -1 if
// none (spec §4.4). It locates that row with the same filter.orderClause()
// QueryEntries uses, then counts how many rows precede it in that same
// order — so the rank is consistent with QueryEntries' pages under
// whichever sort (timestamp or device/signal) is active (spec.md:162).
func (s *Store) GetIndexByTime(ctx context.Context, filter Filter, ts int64) (int64, error) {
	where, args, err := filter.whereClause()
	if err != nil {
		return -1, err
	}

	existsDir := ">="
	if filter.Descending {
		existsDir = "<="
	}
	candWhere := where
	if candWhere == "" {
		candWhere = fmt.Sprintf("WHERE ts %s ?", existsDir)
	} else {
		candWhere += fmt.Sprintf(" AND ts %s ?", existsDir)
	}
	candArgs := append(append([]any{}, args...), ts)

	candQuery := fmt.Sprintf(`SELECT %s FROM entries %s ORDER BY %s LIMIT 1`, selectColumns, candWhere, filter.orderClause())
	cand, ok, err := scanOptionalRow(s.db.QueryRowContext(ctx, candQuery, candArgs...))
	if err != nil {
		return -1, fmt.Errorf("entrystore: get index by time: %w", err)
	}
	if !ok {
		return -1, nil
	}

	clause, cargs := cursorClauseFor(filter.Sort, cursorOp(false, filter.Descending), sortValueOf(cand, filter.Sort))
	rankWhere := where
	if rankWhere == "" {
		rankWhere = "WHERE " + clause
	} else {
		rankWhere += " AND " + clause
	}
	rankArgs := append(append([]any{}, args...), cargs...)

	var rank int64
	rankQuery := fmt.Sprintf(`SELECT COUNT(*) FROM entries %s`, rankWhere)
	if err := s.db.QueryRowContext(ctx, rankQuery, rankArgs...).Scan(&rank); err != nil {
		return -1, fmt.Errorf("entrystore: get index by time (rank): %w", err)
	}
	return rank, nil
}
