package timestamps

import "testing"

func TestParseMillis(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantOk  bool
	}{
		{
			name:   "bracket layout",
			input:  "2024-03-01 12:00:00.500",
			want:   1709294400500,
			wantOk: true,
		},
		{
			name:   "rfc3339",
			input:  "2024-03-01T12:00:00Z",
			want:   1709294400000,
			wantOk: true,
		},
		{
			name:   "millisecond epoch",
			input:  "1709294400500",
			want:   1709294400500,
			wantOk: true,
		},
		{
			name:   "second epoch promoted to millis",
			input:  "1709294400",
			want:   1709294400000,
			wantOk: true,
		},
		{
			name:   "blank",
			input:  "   ",
			want:   0,
			wantOk: false,
		},
		{
			name:   "garbage",
			input:  "not-a-timestamp",
			want:   0,
			wantOk: false,
		},
		{
			name:   "date only",
			input:  "2024-03-01",
			want:   1709251200000,
			wantOk: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMillis(tt.input)
			if ok != tt.wantOk {
				t.Fatalf("ParseMillis(%q) ok = %v, want %v", tt.input, ok, tt.wantOk)
			}
			if ok && got != tt.want {
				t.Fatalf("ParseMillis(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
