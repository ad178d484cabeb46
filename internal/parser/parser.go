// Package parser implements the format registry and the four
// line-oriented log dialects named in spec §4.3: bracket-delimited
// PLC debug, tab-delimited PLC, MCS/AMHS, and CSV. Dispatch is by
// content sniffing rather than filename extension (spec §9, "Dynamic
// dispatch over parsers"), generalizing the teacher's
// fileloader.DetectFileType extension-then-magic-byte fallback shape
// (app/fileloader/detection.go) into an ordered canParse predicate
// chain over sniffed head bytes.
package parser

import (
	"errors"
	"fmt"
	"os"

	"github.com/plc-visualizer/backend/internal/models"
)

// ErrNoMatch is returned by the registry when no registered parser's
// CanParse predicate accepts the file.
var ErrNoMatch = errors.New("parser: no registered parser matches this file")

// ErrTooLargeForMemory is returned by the in-memory-accumulating
// dialects (tab-PLC, MCS/AMHS, CSV) when asked to parse a file past
// maxInMemoryFileBytes; only the bracket-PLC parser's
// ParseToColumnarStore path is exempt (spec §4.3, "Memory discipline").
var ErrTooLargeForMemory = errors.New("parser: file exceeds in-memory parse threshold")

// maxInMemoryFileBytes bounds the non-streaming dialects so they
// cannot be invoked on files large enough to threaten the memory
// ceiling reserved for the columnar store (spec §4.4's ~1 GiB parse
// ceiling); an implementation-defined threshold per spec §4.3.
const maxInMemoryFileBytes = 256 * 1024 * 1024

func checkInMemorySize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("parser: stat %s: %w", path, err)
	}
	if info.Size() > maxInMemoryFileBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrTooLargeForMemory, path, info.Size())
	}
	return nil
}

// sniffHeadBytes bounds how much of a file the registry reads before
// asking each parser's predicate to decide (spec §4.3, "reads up to a
// fixed head").
const sniffHeadBytes = 8192

// ProgressFunc receives (linesProcessed, bytesRead, totalBytes). Rate
// limiting is the caller's responsibility (spec §4.3: "rate-limited by
// the caller (session manager), not by the parser").
type ProgressFunc func(linesProcessed int64, bytesRead int64, totalBytes int64)

// Summary is the result of a completed parse. Entries is nil when the
// parse streamed directly into a columnar store (ParseToColumnarStore)
// rather than accumulating in memory.
type Summary struct {
	Entries     []models.LogEntry
	EntryCount  int64
	Signals     map[string]models.SignalType
	Categories  map[string]struct{}
	MinTs       int64
	MaxTs       int64
	hasTimeRange bool
}

// NoteEntry folds one entry's stats into the summary; parsers call
// this for every successfully decoded line so Signals/Categories/time
// range stay accurate whether or not Entries itself is retained.
func (s *Summary) NoteEntry(e models.LogEntry) {
	if s.Signals == nil {
		s.Signals = make(map[string]models.SignalType)
	}
	if s.Categories == nil {
		s.Categories = make(map[string]struct{})
	}
	s.Signals[e.SignalKey()] = e.SignalType
	if e.Category != "" {
		s.Categories[e.Category] = struct{}{}
	}
	if !s.hasTimeRange || e.TimestampMillis < s.MinTs {
		s.MinTs = e.TimestampMillis
	}
	if !s.hasTimeRange || e.TimestampMillis > s.MaxTs {
		s.MaxTs = e.TimestampMillis
	}
	s.hasTimeRange = true
	s.EntryCount++
}

// Parser is the common capability set every dialect implements (spec
// §9: "a variant with a common capability set").
type Parser interface {
	Name() string
	CanParse(head []byte) bool
	Parse(path string) (*Summary, []models.ParseError, error)
	ParseWithProgress(path string, cb ProgressFunc) (*Summary, []models.ParseError, error)
}

// EntryAppender is the narrow slice of entrystore.Store that a
// streaming parser needs, kept here (rather than importing entrystore
// directly) to avoid a dependency cycle between parser and entrystore.
type EntryAppender interface {
	Append(entries []models.LogEntry) error
}

// ColumnarParser is the optional extension only the bracket-PLC parser
// implements (spec §4.3): it streams entries directly into a columnar
// store without ever materializing the full entry slice, which is what
// lets it handle the largest files under the memory ceiling (spec
// §4.3, "Memory discipline").
type ColumnarParser interface {
	Parser
	ParseToColumnarStore(path string, store EntryAppender, cb ProgressFunc) (*Summary, []models.ParseError, error)
}

// Registry holds parsers in registration order; order is the
// tie-break when more than one CanParse predicate would accept a file
// (spec §4.3, "Order of registration is the tie-break").
type Registry struct {
	parsers []Parser
}

// NewRegistry builds the standard registry: bracket PLC first (it is
// both the dominant format and the only one with a memory-bounded
// streaming path), then tab PLC, then MCS/AMHS, then CSV as the
// catch-all (spec §4.3 table order).
func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewBracketPLCParser(),
			NewTabPLCParser(),
			NewMCSParser(),
			NewCSVParser(),
		},
	}
}

// Register appends a parser to the end of the dispatch chain, for
// tests that want to exercise a subset or a fake dialect.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// FindParser sniffs path's head bytes and returns the first registered
// parser whose CanParse accepts them.
func (r *Registry) FindParser(path string) (Parser, error) {
	head, err := readHead(path, sniffHeadBytes)
	if err != nil {
		return nil, fmt.Errorf("parser: read head of %s: %w", path, err)
	}
	for _, p := range r.parsers {
		if p.CanParse(head) {
			return p, nil
		}
	}
	return nil, ErrNoMatch
}
