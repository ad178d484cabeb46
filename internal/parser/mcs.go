package parser

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/plc-visualizer/backend/internal/intern"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/timestamps"
)

// mcsHeaderMarkers are substrings the header row must contain for the
// MCS/AMHS dialect to claim a file (spec §4.3: "Header contains
// CarrierID or CurrentLocation").
var mcsHeaderMarkers = []string{"carrierid", "currentlocation"}

// MCSParser handles the MCS/AMHS dialect, where one source line fans
// out into multiple LogEntrys — one per key=value column — all
// sharing the row's timestamp (spec §4.3).
type MCSParser struct{}

// NewMCSParser constructs the MCS/AMHS dialect parser.
func NewMCSParser() *MCSParser { return &MCSParser{} }

func (p *MCSParser) Name() string { return "mcs-amhs" }

func (p *MCSParser) CanParse(head []byte) bool {
	header, ok := firstNonBlankLine(head)
	if !ok {
		return false
	}
	lower := strings.ToLower(header)
	for _, marker := range mcsHeaderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (p *MCSParser) Parse(path string) (*Summary, []models.ParseError, error) {
	return p.ParseWithProgress(path, nil)
}

func (p *MCSParser) ParseWithProgress(path string, cb ProgressFunc) (*Summary, []models.ParseError, error) {
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
	delim := "\t"
	timestampIdx, carrierIdx := -1, -1
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
			if !strings.Contains(line, "\t") {
				delim = ","
			}
			header = strings.Split(line, delim)
			timestampIdx, carrierIdx = mcsHeaderIndexes(header)
			continue
		}

		lines++
		fields := strings.Split(line, delim)
		rowEntries, perr := decodeMCSRow(header, fields, timestampIdx, carrierIdx, lineNo, line, pool)
		if perr != nil {
			errs = append(errs, *perr)
			continue
		}
		for _, e := range rowEntries {
			summary.NoteEntry(e)
			summary.Entries = append(summary.Entries, e)
		}

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

func mcsHeaderIndexes(header []string) (timestampIdx, carrierIdx int) {
	timestampIdx, carrierIdx = -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "timestamp", "time":
			timestampIdx = i
		case "carrierid":
			carrierIdx = i
		}
	}
	return
}

// decodeMCSRow fans a single data row out into one LogEntry per
// non-timestamp column, each carrying the row's shared timestamp and
// the carrier ID (if present) as deviceId.
func decodeMCSRow(header, fields []string, timestampIdx, carrierIdx int, lineNo uint, raw string, pool *intern.Pool) ([]models.LogEntry, *models.ParseError) {
	if timestampIdx < 0 || timestampIdx >= len(fields) {
		return nil, &models.ParseError{LineNumber: lineNo, RawLine: raw, Reason: "row missing timestamp column"}
	}
	ts, ok := timestamps.ParseMillis(strings.TrimSpace(fields[timestampIdx]))
	if !ok {
		return nil, &models.ParseError{LineNumber: lineNo, RawLine: raw, Reason: "unparseable timestamp: " + fields[timestampIdx]}
	}

	deviceID := "unknown"
	if carrierIdx >= 0 && carrierIdx < len(fields) {
		if v := strings.TrimSpace(fields[carrierIdx]); v != "" {
			deviceID = v
		}
	}
	deviceID = pool.String(deviceID)

	var entries []models.LogEntry
	for i, col := range header {
		if i == timestampIdx || i >= len(fields) {
			continue
		}
		value := strings.TrimSpace(fields[i])
		entries = append(entries, models.LogEntry{
			TimestampMillis: ts,
			DeviceID:        deviceID,
			SignalName:      pool.String(strings.TrimSpace(col)),
			Value:           value,
			SignalType:      inferSignalType(value),
			LineNumber:      lineNo,
			RawLine:         raw,
		})
	}
	if len(entries) == 0 {
		return nil, &models.ParseError{LineNumber: lineNo, RawLine: raw, Reason: "row has no non-timestamp columns"}
	}
	return entries, nil
}
