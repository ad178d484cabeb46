package parser

import "testing"

func TestCSVParser_CanParse(t *testing.T) {
	p := NewCSVParser()
	tests := []struct {
		name string
		head string
		want bool
	}{
		{name: "full schema header", head: "timestamp,device,signal,value,category\n", want: true},
		{name: "aliased header", head: "time,deviceId,signalName,val\n", want: true},
		{name: "missing value column", head: "timestamp,device,signal\n", want: false},
		{name: "tab separated does not match", head: "timestamp\tdevice\tsignal\tvalue\n", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.CanParse([]byte(tt.head)); got != tt.want {
				t.Fatalf("CanParse(%q) = %v, want %v", tt.head, got, tt.want)
			}
		})
	}
}

func TestCSVParser_Parse(t *testing.T) {
	content := "timestamp,device,signal,value,category\n" +
		"2024-01-01 00:00:00.000,D1,S1,on,IN\n" +
		"2024-01-01 00:00:01.000,D1,S2,123,OUT\n"
	path := writeTempFile(t, "dialect.csv", content)

	p := NewCSVParser()
	summary, errs, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if summary.EntryCount != 2 {
		t.Fatalf("expected 2 entries, got %d", summary.EntryCount)
	}
	if summary.Entries[0].Category != "IN" || summary.Entries[1].Category != "OUT" {
		t.Fatalf("unexpected categories: %+v", summary.Entries)
	}
}
