package parser

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/plc-visualizer/backend/internal/intern"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/timestamps"
)

// bracketLineRE matches lines of the form:
//
//	2025-09-22 13:00:00.100 [Debug] [SYS/DEV-1] [IN:S1] (Boolean) : ON
//
// per spec §4.3's bracket-PLC signature: timestamp, level, path (whose
// last segment is the deviceId), a key:name pair (key becomes
// category, name becomes signalName), a parenthesized type, and the
// value.
var bracketLineRE = regexp.MustCompile(`^(\S+ \S+) \[([^\]]*)\] \[([^\]]+)\] \[([^:\]]+):([^\]]+)\] \(([^)]+)\)\s*:\s*(.*)$`)

// bracketBatchSize is the append-batch row count (spec §4.4: "flushed
// to persistent storage in batches of ≈50,000 rows"); kept here since
// the bracket-PLC parser is the only one that streams directly into a
// columnar store.
const bracketBatchSize = 50_000

// BracketPLCParser handles the bracket-delimited PLC debug dialect. It
// is the only dialect that implements ColumnarParser: the dominant
// format responsible for the largest files must not accumulate a full
// in-memory vector (spec §4.3, "Memory discipline").
type BracketPLCParser struct{}

// NewBracketPLCParser constructs the bracket-PLC dialect parser.
func NewBracketPLCParser() *BracketPLCParser { return &BracketPLCParser{} }

func (p *BracketPLCParser) Name() string { return "bracket-plc" }

func (p *BracketPLCParser) CanParse(head []byte) bool {
	scanner := bufio.NewScanner(strings.NewReader(string(head)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		return bracketLineRE.MatchString(line)
	}
	return false
}

func (p *BracketPLCParser) Parse(path string) (*Summary, []models.ParseError, error) {
	return p.ParseWithProgress(path, nil)
}

func (p *BracketPLCParser) ParseWithProgress(path string, cb ProgressFunc) (*Summary, []models.ParseError, error) {
	summary := &Summary{}
	var entries []models.LogEntry
	errs, err := p.scan(path, cb, func(e models.LogEntry) error {
		summary.NoteEntry(e)
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, errs, err
	}
	summary.Entries = entries
	return summary, errs, nil
}

// ParseToColumnarStore streams decoded entries into store in batches,
// never holding the full file in memory (spec §4.3/§4.4).
func (p *BracketPLCParser) ParseToColumnarStore(path string, store EntryAppender, cb ProgressFunc) (*Summary, []models.ParseError, error) {
	summary := &Summary{}
	batch := make([]models.LogEntry, 0, bracketBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.Append(batch); err != nil {
			return fmt.Errorf("parser: append batch: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	errs, err := p.scan(path, cb, func(e models.LogEntry) error {
		summary.NoteEntry(e)
		batch = append(batch, e)
		if len(batch) >= bracketBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, errs, err
	}
	if ferr := flush(); ferr != nil {
		return nil, errs, ferr
	}
	return summary, errs, nil
}

func (p *BracketPLCParser) scan(path string, cb ProgressFunc, emit func(models.LogEntry) error) ([]models.ParseError, error) {
	r, err := openDialectReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	pool := intern.New()
	defer pool.Reset()

	var errs []models.ParseError
	var lineNo uint
	var lines int64
	var bytesRead int64

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		bytesRead += int64(len(raw)) + 1
		lines++

		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		entry, perr := decodeBracketLine(trimmed, lineNo, pool)
		if perr != nil {
			errs = append(errs, *perr)
			continue
		}
		if err := emit(*entry); err != nil {
			return errs, err
		}
		if cb != nil && lines%1000 == 0 {
			cb(lines, bytesRead, 0)
		}
	}
	if err := scanner.Err(); err != nil {
		return errs, fmt.Errorf("parser: scan %s: %w", path, err)
	}
	if cb != nil {
		cb(lines, bytesRead, 0)
	}
	return errs, nil
}

func decodeBracketLine(line string, lineNo uint, pool *intern.Pool) (*models.LogEntry, *models.ParseError) {
	m := bracketLineRE.FindStringSubmatch(line)
	if m == nil {
		return nil, &models.ParseError{LineNumber: lineNo, RawLine: line, Reason: "line does not match bracket-PLC format"}
	}

	ts, ok := timestamps.ParseMillis(m[1])
	if !ok {
		return nil, &models.ParseError{LineNumber: lineNo, RawLine: line, Reason: "unparseable timestamp: " + m[1]}
	}

	pathSegs := strings.Split(m[3], "/")
	deviceID := pool.String(pathSegs[len(pathSegs)-1])
	category := pool.String(m[4])
	signalName := pool.String(strings.TrimSpace(m[5]))
	typeName := strings.TrimSpace(m[6])
	rawValue := strings.TrimSpace(m[7])

	value, signalType := normalizeBracketValue(typeName, rawValue)

	return &models.LogEntry{
		TimestampMillis: ts,
		DeviceID:        deviceID,
		SignalName:      signalName,
		Value:           value,
		SignalType:      signalType,
		Category:        category,
		LineNumber:      lineNo,
		RawLine:         line,
	}, nil
}

func normalizeBracketValue(typeName, rawValue string) (string, models.SignalType) {
	switch strings.ToLower(typeName) {
	case "boolean", "bool":
		switch strings.ToLower(rawValue) {
		case "on", "true", "1":
			return "true", models.SignalBoolean
		default:
			return "false", models.SignalBoolean
		}
	case "int", "integer", "int32", "int64":
		return rawValue, models.SignalInteger
	default:
		return rawValue, models.SignalString
	}
}
