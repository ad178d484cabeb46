// Package timestamps parses the handful of timestamp shapes the
// ingestion dialects use, grounded in the teacher's layered
// time.Parse attempts (app/timestamps/parsing.go): an integer-epoch
// fast path first, then a fixed list of explicit layouts, trying the
// exact bracket-PLC layout before looser ones.
package timestamps

import (
	"strconv"
	"strings"
	"time"
)

// layouts are tried in order after the integer-epoch fast path fails.
// BracketLayout is listed first since it is the dominant dialect's
// format (spec §4.3).
const BracketLayout = "2006-01-02 15:04:05.000"

var layouts = []string{
	BracketLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseMillis tries an integer epoch fast path first (seconds or
// milliseconds, distinguished by digit count, the same heuristic the
// teacher uses to skip ~20 failed time.Parse attempts on numeric
// timestamps), then the layouts above, interpreting timezone-less
// layouts as UTC.
func ParseMillis(s string) (int64, bool) {
	ss := strings.TrimSpace(s)
	if ss == "" {
		return 0, false
	}

	if n, err := strconv.ParseInt(ss, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return n, true
		}
		return n * 1000, true
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, ss, time.UTC); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
