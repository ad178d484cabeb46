package parser

import "testing"

func TestMCSParser_CanParse(t *testing.T) {
	p := NewMCSParser()
	tests := []struct {
		name string
		head string
		want bool
	}{
		{name: "carrierid header", head: "Timestamp,CarrierID,CurrentLocation\n", want: true},
		{name: "unrelated header", head: "timestamp,device,signal,value\n", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.CanParse([]byte(tt.head)); got != tt.want {
				t.Fatalf("CanParse(%q) = %v, want %v", tt.head, got, tt.want)
			}
		})
	}
}

func TestMCSParser_Parse_FansOutColumns(t *testing.T) {
	content := "Timestamp,CarrierID,CurrentLocation,Status\n" +
		"2024-01-01 00:00:00.000,CARRIER-7,BAY-3,Moving\n"
	path := writeTempFile(t, "mcs.log", content)

	p := NewMCSParser()
	summary, errs, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	// One row, three non-timestamp columns (CarrierID, CurrentLocation, Status).
	if summary.EntryCount != 3 {
		t.Fatalf("expected 3 fanned-out entries, got %d", summary.EntryCount)
	}
	for _, e := range summary.Entries {
		if e.DeviceID != "CARRIER-7" {
			t.Fatalf("expected shared deviceId CARRIER-7, got %q", e.DeviceID)
		}
		if e.TimestampMillis == 0 {
			t.Fatalf("expected shared non-zero timestamp")
		}
	}
}

func TestMCSParser_Parse_MissingTimestampColumn(t *testing.T) {
	content := "CarrierID,CurrentLocation\nCARRIER-1,BAY-1\n"
	path := writeTempFile(t, "mcs_no_ts.log", content)

	p := NewMCSParser()
	summary, errs, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for missing timestamp column, got %d", len(errs))
	}
	if summary.EntryCount != 0 {
		t.Fatalf("expected 0 entries, got %d", summary.EntryCount)
	}
}
