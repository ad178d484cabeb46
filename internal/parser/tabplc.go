package parser

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/plc-visualizer/backend/internal/intern"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/timestamps"
)

// tabColumnNames are the header keywords the first non-blank row must
// contain (case-insensitively) for the tab-PLC dialect to claim a file
// (spec §4.3: "First non-blank row declares column semantics").
var tabColumnNames = []string{"timestamp", "device", "signal", "value"}

// TabPLCParser handles the tab-separated PLC dialect whose header row
// names its columns explicitly rather than relying on a fixed
// bracketed grammar. Falls back to full in-memory accumulation (spec
// §4.3: "Other parsers may fall back to in-memory accumulation").
type TabPLCParser struct{}

// NewTabPLCParser constructs the tab-PLC dialect parser.
func NewTabPLCParser() *TabPLCParser { return &TabPLCParser{} }

func (p *TabPLCParser) Name() string { return "tab-plc" }

func (p *TabPLCParser) CanParse(head []byte) bool {
	header, ok := firstNonBlankLine(head)
	if !ok || !strings.Contains(header, "\t") {
		return false
	}
	cols := splitAndLower(header, "\t")
	return hasAllColumns(cols, tabColumnNames)
}

func (p *TabPLCParser) Parse(path string) (*Summary, []models.ParseError, error) {
	return p.ParseWithProgress(path, nil)
}

func (p *TabPLCParser) ParseWithProgress(path string, cb ProgressFunc) (*Summary, []models.ParseError, error) {
	if err := checkInMemorySize(path); err != nil {
		return nil, nil, err
	}

	r, err := openDialectReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	pool := intern.New()
	defer pool.Reset()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var header []string
	var idx columnIndex
	var lineNo uint
	var lines, bytesRead int64
	summary := &Summary{}
	var errs []models.ParseError

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		bytesRead += int64(len(raw)) + 1

		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if header == nil {
			header = strings.Split(line, "\t")
			idx = indexColumns(header, tabColumnNames)
			continue
		}

		lines++
		fields := strings.Split(line, "\t")
		entry, perr := decodeTabRow(fields, idx, lineNo, line, pool)
		if perr != nil {
			errs = append(errs, *perr)
			continue
		}
		summary.NoteEntry(*entry)
		summary.Entries = append(summary.Entries, *entry)

		if cb != nil && lines%1000 == 0 {
			cb(lines, bytesRead, 0)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs, fmt.Errorf("parser: scan %s: %w", path, err)
	}
	if cb != nil {
		cb(lines, bytesRead, 0)
	}
	return summary, errs, nil
}

// columnIndex maps the four semantic columns to their position in the
// header row; -1 means absent.
type columnIndex struct {
	timestamp, device, signal, value int
}

func indexColumns(header []string, names []string) columnIndex {
	idx := columnIndex{-1, -1, -1, -1}
	for i, raw := range header {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "timestamp":
			idx.timestamp = i
		case "device":
			idx.device = i
		case "signal":
			idx.signal = i
		case "value":
			idx.value = i
		}
	}
	return idx
}

func decodeTabRow(fields []string, idx columnIndex, lineNo uint, raw string, pool *intern.Pool) (*models.LogEntry, *models.ParseError) {
	get := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	tsField := get(idx.timestamp)
	ts, ok := timestamps.ParseMillis(tsField)
	if !ok {
		return nil, &models.ParseError{LineNumber: lineNo, RawLine: raw, Reason: "unparseable timestamp: " + tsField}
	}

	value := get(idx.value)
	return &models.LogEntry{
		TimestampMillis: ts,
		DeviceID:        pool.String(get(idx.device)),
		SignalName:      pool.String(get(idx.signal)),
		Value:           value,
		SignalType:      inferSignalType(value),
		LineNumber:      lineNo,
		RawLine:         raw,
	}, nil
}

// inferSignalType guesses a SignalType from an untyped string value,
// used by dialects (tab-PLC, CSV) whose schema carries no explicit
// type column, unlike bracket-PLC's parenthesized Type.
func inferSignalType(v string) models.SignalType {
	switch strings.ToLower(v) {
	case "true", "false", "on", "off":
		return models.SignalBoolean
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return models.SignalInteger
	}
	return models.SignalString
}

func firstNonBlankLine(head []byte) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(string(head)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func splitAndLower(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return out
}

func hasAllColumns(cols []string, required []string) bool {
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
