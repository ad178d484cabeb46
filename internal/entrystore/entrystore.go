// Package entrystore implements the per-file columnar entry store
// (spec §4.4) on top of modernc.org/sqlite — a pure-Go, CGO-free engine
// in the same vein as perkeep.org's embedded storage choice, used here
// through database/sql rather than any ORM, the way the teacher
// accesses its own storage layers directly. The cardinality/count
// cache and keyset-pagination cursor cache are modeled on the
// teacher's app/cache/cache.go LRU-by-filter-key idiom and
// app/query/cache_keys.go's BuildCacheKeyFull.
package entrystore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/plc-visualizer/backend/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    seq         INTEGER PRIMARY KEY,
    ts          INTEGER NOT NULL,
    device_id   TEXT NOT NULL,
    signal_name TEXT NOT NULL,
    value       TEXT NOT NULL,
    signal_type TEXT NOT NULL,
    category    TEXT NOT NULL DEFAULT '',
    line_number INTEGER NOT NULL,
    raw_line    TEXT NOT NULL DEFAULT '',
    source_id   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries(ts);
CREATE INDEX IF NOT EXISTS idx_entries_device_signal ON entries(device_id, signal_name);
`

// appendBatchSize matches the spec's ~50,000-row flush batch (§4.4).
const appendBatchSize = 50_000

// Store is a single file's columnar entry store, `file_<fileId>.db` on
// disk (spec §4.4, Persistence). Only one writer may hold it open at a
// time; readers may open the same path concurrently in read-only mode
// (invariant 3).
type Store struct {
	db       *sql.DB
	path     string
	writable bool

	countCacheMu sync.Mutex
	countCache   map[string]int64

	cursorMu sync.Mutex
	cursors  map[string]map[int]keysetCursor
}

// keysetCursor positions a row within the active sort order: (ts, seq)
// for the default timestamp sort, (deviceID, signalName, seq) for
// SortByDevice. The unused half of the pair stays zero-valued for
// whichever sort isn't active.
type keysetCursor struct {
	ts         int64
	deviceID   string
	signalName string
	seq        int64
}

// Open opens path for writing (creating the schema if new) when
// writable is true, or read-only otherwise. A writable open on a path
// another writer already holds fails (invariant 3); sqlite's own
// locking surfaces that as a "database is locked" error, which callers
// should treat as the concurrency error kind (spec §7).
func Open(path string, writable bool) (*Store, error) {
	dsn := path
	if !writable {
		dsn = "file:" + path + "?mode=ro&immutable=0"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("entrystore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if writable {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("entrystore: create schema: %w", err)
		}
	}

	return &Store{
		db:         db,
		path:       path,
		writable:   writable,
		countCache: make(map[string]int64),
		cursors:    make(map[string]map[int]keysetCursor),
	}, nil
}

// Close releases the underlying database handle. It does not delete
// the file (spec §3, Session lifecycle: "Destruction closes the
// columnar store handle but does not delete the store").
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk file backing this store.
func (s *Store) Path() string { return s.path }

// Remove closes the store and deletes its backing file. A backing file
// that is already gone is not an error.
func (s *Store) Remove() error {
	s.db.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("entrystore: remove %s: %w", s.path, err)
	}
	return nil
}

// Append buffers entries in batches of appendBatchSize (spec §4.4);
// callers (the streaming bracket-PLC parser) may call Append
// repeatedly with arbitrarily sized slices, including slices larger
// than the batch size, which are internally chunked.
func (s *Store) Append(entries []models.LogEntry) error {
	if !s.writable {
		return fmt.Errorf("entrystore: append on read-only store %s", s.path)
	}
	for len(entries) > 0 {
		n := len(entries)
		if n > appendBatchSize {
			n = appendBatchSize
		}
		if err := s.appendBatch(entries[:n]); err != nil {
			return err
		}
		entries = entries[n:]
	}
	s.invalidateCaches()
	return nil
}

func (s *Store) appendBatch(batch []models.LogEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("entrystore: begin tx: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO entries
		(ts, device_id, signal_name, value, signal_type, category, line_number, raw_line, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("entrystore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.TimestampMillis, e.DeviceID, e.SignalName, e.Value,
			string(e.SignalType), e.Category, e.LineNumber, e.RawLine, e.SourceID); err != nil {
			tx.Rollback()
			return fmt.Errorf("entrystore: insert entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("entrystore: commit batch: %w", err)
	}
	return nil
}

func (s *Store) invalidateCaches() {
	s.countCacheMu.Lock()
	s.countCache = make(map[string]int64)
	s.countCacheMu.Unlock()

	s.cursorMu.Lock()
	s.cursors = make(map[string]map[int]keysetCursor)
	s.cursorMu.Unlock()
}

// Len returns the total row count.
func (s *Store) Len() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("entrystore: count: %w", err)
	}
	return n, nil
}

func scanRows(rows *sql.Rows) ([]models.LogEntry, error) {
	var out []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var signalType string
		if err := rows.Scan(&e.Seq, &e.TimestampMillis, &e.DeviceID, &e.SignalName, &e.Value,
			&signalType, &e.Category, &e.LineNumber, &e.RawLine, &e.SourceID); err != nil {
			return nil, fmt.Errorf("entrystore: scan row: %w", err)
		}
		e.SignalType = models.SignalType(signalType)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entrystore: iterate rows: %w", err)
	}
	return out, nil
}

const selectColumns = `seq, ts, device_id, signal_name, value, signal_type, category, line_number, raw_line, source_id`

// GetEntries returns the positional window [offsetStart, offsetEnd)
// ordered by appearance (seq), per spec §4.4.
func (s *Store) GetEntries(ctx context.Context, offsetStart, offsetEndExclusive int64) ([]models.LogEntry, error) {
	if offsetEndExclusive <= offsetStart {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM entries ORDER BY seq ASC LIMIT ? OFFSET ?`, selectColumns),
		offsetEndExclusive-offsetStart, offsetStart)
	if err != nil {
		return nil, fmt.Errorf("entrystore: get entries: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// GetSignals returns every distinct deviceId::signalName key.
func (s *Store) GetSignals() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT device_id, signal_name FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("entrystore: get signals: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d, sName string
		if err := rows.Scan(&d, &sName); err != nil {
			return nil, err
		}
		out = append(out, d+"::"+sName)
	}
	sort.Strings(out)
	return out, rows.Err()
}

// GetSignalTypes returns the signalType recorded for every distinct
// signal key (invariant: a pair carries one type across its lifetime).
func (s *Store) GetSignalTypes() (map[string]models.SignalType, error) {
	rows, err := s.db.Query(`SELECT device_id, signal_name, signal_type FROM entries GROUP BY device_id, signal_name`)
	if err != nil {
		return nil, fmt.Errorf("entrystore: get signal types: %w", err)
	}
	defer rows.Close()
	out := make(map[string]models.SignalType)
	for rows.Next() {
		var d, sName, t string
		if err := rows.Scan(&d, &sName, &t); err != nil {
			return nil, err
		}
		out[d+"::"+sName] = models.SignalType(t)
	}
	return out, rows.Err()
}

// GetCategories returns every distinct non-empty category value.
func (s *Store) GetCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM entries WHERE category != ''`)
	if err != nil {
		return nil, fmt.Errorf("entrystore: get categories: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, rows.Err()
}

// TimeRange is the [min, max] timestamp observed in the store.
type TimeRange struct {
	MinTs int64
	MaxTs int64
	Empty bool
}

// GetTimeRange returns the store's overall timestamp bounds.
func (s *Store) GetTimeRange() (TimeRange, error) {
	var min, max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MIN(ts), MAX(ts) FROM entries`).Scan(&min, &max); err != nil {
		return TimeRange{}, fmt.Errorf("entrystore: get time range: %w", err)
	}
	if !min.Valid {
		return TimeRange{Empty: true}, nil
	}
	return TimeRange{MinTs: min.Int64, MaxTs: max.Int64}, nil
}

func signalKeyWhere(signalKeys []string) (string, []any) {
	if len(signalKeys) == 0 {
		return "", nil
	}
	var clauses []string
	var args []any
	for _, k := range signalKeys {
		parts := strings.SplitN(k, "::", 2)
		if len(parts) != 2 {
			continue
		}
		clauses = append(clauses, "(device_id = ? AND signal_name = ?)")
		args = append(args, parts[0], parts[1])
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND (" + strings.Join(clauses, " OR ") + ")", args
}

// GetChunk returns every entry with ts in [startTs, endTs], optionally
// restricted to signalKeys, ordered by appearance. startTs > endTs
// yields an empty chunk without error (spec §8, Boundary cases).
func (s *Store) GetChunk(ctx context.Context, startTs, endTs int64, signalKeys []string) ([]models.LogEntry, error) {
	if startTs > endTs {
		return nil, nil
	}
	where, args := signalKeyWhere(signalKeys)
	query := fmt.Sprintf(`SELECT %s FROM entries WHERE ts >= ? AND ts <= ?%s ORDER BY seq ASC`, selectColumns, where)
	allArgs := append([]any{startTs, endTs}, args...)
	rows, err := s.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("entrystore: get chunk: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// GetValuesAtTime returns, for each requested signal (or every known
// signal if signalKeys is empty), the most recent entry with
// ts <= target (spec §4.4, "windowed max-per-partition query").
func (s *Store) GetValuesAtTime(ctx context.Context, ts int64, signalKeys []string) ([]models.LogEntry, error) {
	keys := signalKeys
	if len(keys) == 0 {
		var err error
		keys, err = s.GetSignals()
		if err != nil {
			return nil, err
		}
	}

	var out []models.LogEntry
	for _, k := range keys {
		parts := strings.SplitN(k, "::", 2)
		if len(parts) != 2 {
			continue
		}
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM entries
			WHERE device_id = ? AND signal_name = ? AND ts <= ?
			ORDER BY ts DESC, seq DESC LIMIT 1`, selectColumns), parts[0], parts[1], ts)

		e, ok, err := scanOptionalRow(row)
		if err != nil {
			return nil, fmt.Errorf("entrystore: get values at time: %w", err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func scanOptionalRow(row *sql.Row) (models.LogEntry, bool, error) {
	var e models.LogEntry
	var signalType string
	err := row.Scan(&e.Seq, &e.TimestampMillis, &e.DeviceID, &e.SignalName, &e.Value,
		&signalType, &e.Category, &e.LineNumber, &e.RawLine, &e.SourceID)
	if err == sql.ErrNoRows {
		return models.LogEntry{}, false, nil
	}
	if err != nil {
		return models.LogEntry{}, false, err
	}
	e.SignalType = models.SignalType(signalType)
	return e, true, nil
}

// BoundaryValues is the last entry strictly before a range and the
// first entry strictly after it, keyed by signal (spec §4.4).
type BoundaryValues struct {
	Before map[string]models.LogEntry
	After  map[string]models.LogEntry
}

// GetBoundaryValues implements the renderer's "continue signal state
// into the viewport edges" need (spec §4.4, Glossary).
func (s *Store) GetBoundaryValues(ctx context.Context, startTs, endTs int64, signalKeys []string) (BoundaryValues, error) {
	result := BoundaryValues{Before: make(map[string]models.LogEntry), After: make(map[string]models.LogEntry)}
	for _, k := range signalKeys {
		parts := strings.SplitN(k, "::", 2)
		if len(parts) != 2 {
			continue
		}

		beforeRow := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM entries
			WHERE device_id = ? AND signal_name = ? AND ts < ?
			ORDER BY ts DESC, seq DESC LIMIT 1`, selectColumns), parts[0], parts[1], startTs)
		if e, ok, err := scanOptionalRow(beforeRow); err != nil {
			return result, fmt.Errorf("entrystore: get boundary before: %w", err)
		} else if ok {
			result.Before[k] = e
		}

		afterRow := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM entries
			WHERE device_id = ? AND signal_name = ? AND ts > ?
			ORDER BY ts ASC, seq ASC LIMIT 1`, selectColumns), parts[0], parts[1], endTs)
		if e, ok, err := scanOptionalRow(afterRow); err != nil {
			return result, fmt.Errorf("entrystore: get boundary after: %w", err)
		} else if ok {
			result.After[k] = e
		}
	}
	return result, nil
}

// TimeTreeNode is one (date, hour, minute) bucket.
type TimeTreeNode struct {
	Date    string
	Hour    string
	Minute  string
	FirstTs int64
}

// GetTimeTree buckets the filtered set by (date, hour, minute) using a
// single grouped SQL query — the relational equivalent of the
// teacher's histogram.BuildFromStageResult accumulation loop
// (app/histogram/histogram.go), applied here to index population
// rather than waveform bucketing.
func (s *Store) GetTimeTree(ctx context.Context, filter Filter) ([]TimeTreeNode, error) {
	where, args, err := filter.whereClause()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT
			strftime('%%Y-%%m-%%d', ts/1000, 'unixepoch') AS d,
			strftime('%%H', ts/1000, 'unixepoch') AS h,
			strftime('%%M', ts/1000, 'unixepoch') AS mi,
			MIN(ts) AS first_ts
		FROM entries
		%s
		GROUP BY d, h, mi
		ORDER BY first_ts ASC`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("entrystore: get time tree: %w", err)
	}
	defer rows.Close()

	var out []TimeTreeNode
	for rows.Next() {
		var n TimeTreeNode
		if err := rows.Scan(&n.Date, &n.Hour, &n.Minute, &n.FirstTs); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
