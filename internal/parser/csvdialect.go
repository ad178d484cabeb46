package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/plc-visualizer/backend/internal/intern"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/timestamps"
)

// csvColumnAliases maps schema fields to the header names this dialect
// recognizes, mirroring the teacher's NormalizeHeaders tolerance for
// varied column naming (app/fileloader/headers.go) while keeping the
// mapping fixed to five entry fields (timestamp, device, signal, value,
// category).
var csvColumnAliases = map[string][]string{
	"timestamp": {"timestamp", "time", "ts"},
	"device":    {"device", "deviceid", "device_id"},
	"signal":    {"signal", "signalname", "signal_name"},
	"value":     {"value", "val"},
	"category":  {"category", "cat"},
}

// CSVParser is the catch-all dialect: comma-separated with a header
// row whose columns map by name to the entry schema (spec §4.3).
type CSVParser struct{}

// NewCSVParser constructs the CSV dialect parser.
func NewCSVParser() *CSVParser { return &CSVParser{} }

func (p *CSVParser) Name() string { return "csv" }

func (p *CSVParser) CanParse(head []byte) bool {
	header, ok := firstNonBlankLine(head)
	if !ok || !strings.Contains(header, ",") {
		return false
	}
	cols := splitAndLower(header, ",")
	idx := indexCSVColumns(cols)
	return idx.timestamp >= 0 && idx.device >= 0 && idx.signal >= 0 && idx.value >= 0
}

func (p *CSVParser) Parse(path string) (*Summary, []models.ParseError, error) {
	return p.ParseWithProgress(path, nil)
}

func (p *CSVParser) ParseWithProgress(path string, cb ProgressFunc) (*Summary, []models.ParseError, error) {
	if err := checkInMemorySize(path); err != nil {
		return nil, nil, err
	}

	r, err := openDialectReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("parser: read csv header: %w", err)
	}
	idx := indexCSVColumns(splitAndLower(strings.Join(header, ","), ","))

	pool := intern.New()
	defer pool.Reset()

	summary := &Summary{}
	var errs []models.ParseError
	var lineNo uint
	var lines, bytesRead int64

	for {
		record, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		lineNo++
		if rerr != nil {
			var csvErr *csv.ParseError
			if !errors.As(rerr, &csvErr) {
				return nil, errs, fmt.Errorf("parser: read csv row: %w", rerr)
			}
			errs = append(errs, models.ParseError{LineNumber: lineNo, RawLine: strings.Join(record, ","), Reason: "malformed csv row: " + csvErr.Err.Error()})
			continue
		}
		lines++
		for _, f := range record {
			bytesRead += int64(len(f)) + 1
		}

		entry, perr := decodeCSVRow(record, idx, lineNo, pool)
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
	if cb != nil {
		cb(lines, bytesRead, 0)
	}
	return summary, errs, nil
}

type csvColumnIndex struct {
	timestamp, device, signal, value, category int
}

func indexCSVColumns(lowerCols []string) csvColumnIndex {
	idx := csvColumnIndex{-1, -1, -1, -1, -1}
	for i, col := range lowerCols {
		switch {
		case matchesAlias(col, csvColumnAliases["timestamp"]):
			idx.timestamp = i
		case matchesAlias(col, csvColumnAliases["device"]):
			idx.device = i
		case matchesAlias(col, csvColumnAliases["signal"]):
			idx.signal = i
		case matchesAlias(col, csvColumnAliases["value"]):
			idx.value = i
		case matchesAlias(col, csvColumnAliases["category"]):
			idx.category = i
		}
	}
	return idx
}

func matchesAlias(col string, aliases []string) bool {
	for _, a := range aliases {
		if col == a {
			return true
		}
	}
	return false
}

func decodeCSVRow(record []string, idx csvColumnIndex, lineNo uint, pool *intern.Pool) (*models.LogEntry, *models.ParseError) {
	get := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	tsField := get(idx.timestamp)
	ts, ok := timestamps.ParseMillis(tsField)
	if !ok {
		return nil, &models.ParseError{LineNumber: lineNo, RawLine: strings.Join(record, ","), Reason: "unparseable timestamp: " + tsField}
	}

	value := get(idx.value)
	return &models.LogEntry{
		TimestampMillis: ts,
		DeviceID:        pool.String(get(idx.device)),
		SignalName:      pool.String(get(idx.signal)),
		Value:           value,
		SignalType:      inferSignalType(value),
		Category:        pool.String(get(idx.category)),
		LineNumber:      lineNo,
		RawLine:         strings.Join(record, ","),
	}, nil
}
