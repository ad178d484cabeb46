package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/plc-visualizer/backend/internal/models"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestBracketPLCParser_CanParse(t *testing.T) {
	p := NewBracketPLCParser()
	tests := []struct {
		name string
		head string
		want bool
	}{
		{
			name: "matching line",
			head: "2025-09-22 13:00:00.100 [Debug] [SYS/DEV-1] [IN:S1] (Boolean) : ON\n",
			want: true,
		},
		{
			name: "csv header does not match",
			head: "timestamp,deviceId,signalName,value\n",
			want: false,
		},
		{
			name: "blank",
			head: "",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.CanParse([]byte(tt.head)); got != tt.want {
				t.Fatalf("CanParse(%q) = %v, want %v", tt.head, got, tt.want)
			}
		})
	}
}

func TestBracketPLCParser_Parse(t *testing.T) {
	content := "2025-09-22 13:00:00.100 [Debug] [SYS/DEV-1] [IN:S1] (Boolean) : ON\n" +
		"2025-09-22 13:00:00.200 [Debug] [SYS/DEV-1] [IN:S2] (Int) : 42\n" +
		"not a matching line at all\n"
	path := writeTempFile(t, "bracket.log", content)

	p := NewBracketPLCParser()
	summary, errs, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 parse error for malformed line, got %d: %+v", len(errs), errs)
	}
	if summary.EntryCount != 2 {
		t.Fatalf("expected 2 entries, got %d", summary.EntryCount)
	}
	if len(summary.Entries) != 2 {
		t.Fatalf("expected 2 entries in summary.Entries, got %d", len(summary.Entries))
	}

	e0 := summary.Entries[0]
	if e0.DeviceID != "DEV-1" || e0.SignalName != "S1" || e0.Category != "IN" {
		t.Fatalf("unexpected fields for entry 0: %+v", e0)
	}
	if e0.Value != "true" || e0.SignalType != models.SignalBoolean {
		t.Fatalf("expected boolean ON -> true, got value=%q type=%q", e0.Value, e0.SignalType)
	}

	e1 := summary.Entries[1]
	if e1.Value != "42" || e1.SignalType != models.SignalInteger {
		t.Fatalf("expected integer 42, got value=%q type=%q", e1.Value, e1.SignalType)
	}
}

func TestBracketPLCParser_ParseToColumnarStore(t *testing.T) {
	content := "2025-09-22 13:00:00.100 [Debug] [SYS/DEV-1] [IN:S1] (Boolean) : ON\n"
	path := writeTempFile(t, "bracket.log", content)

	p := NewBracketPLCParser()
	appended := &fakeAppender{}
	summary, errs, err := p.ParseToColumnarStore(path, appended, nil)
	if err != nil {
		t.Fatalf("ParseToColumnarStore: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %+v", errs)
	}
	if summary.EntryCount != 1 {
		t.Fatalf("expected 1 entry, got %d", summary.EntryCount)
	}
	if summary.Entries != nil {
		t.Fatalf("expected nil Entries (streamed, not accumulated), got %d", len(summary.Entries))
	}
	if len(appended.batches) != 1 || len(appended.batches[0]) != 1 {
		t.Fatalf("expected exactly one appended batch of one entry, got %+v", appended.batches)
	}
}

type fakeAppender struct {
	batches [][]models.LogEntry
}

func (f *fakeAppender) Append(entries []models.LogEntry) error {
	cp := append([]models.LogEntry(nil), entries...)
	f.batches = append(f.batches, cp)
	return nil
}
