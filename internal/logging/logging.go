// Package logging provides the leveled logger interface used across
// the engine. The default implementation mirrors the teacher's
// bracket-tagged stdlib `log.Printf("[TAG] ...")` idiom rather than
// pulling in a structured logging framework the teacher itself never
// imports.
package logging

import (
	"log"
	"strings"
)

// Logger is the minimal leveled logging contract every component
// depends on. It mirrors the teacher's `AppService.Log(level, message)`
// method shape so components can be embedded in a larger host (an HTTP
// service, a CLI) without forcing a specific logging library on it.
type Logger interface {
	Log(level, message string)
}

// StdLogger logs to the standard library logger with a bracketed
// [LEVEL][TAG] prefix, the same shape the teacher uses throughout
// app/query/pipeline.go ("[CACHE_HIT] ...", "[CACHE_MISS_STAGE] ...").
type StdLogger struct {
	Tag string
}

// NewStdLogger returns a Logger that prefixes every line with [tag].
func NewStdLogger(tag string) *StdLogger {
	return &StdLogger{Tag: tag}
}

func (l *StdLogger) Log(level, message string) {
	level = strings.ToUpper(level)
	if l.Tag != "" {
		log.Printf("[%s][%s] %s", level, l.Tag, message)
		return
	}
	log.Printf("[%s] %s", level, message)
}

// NopLogger discards everything. Useful as a default when the caller
// does not wire a logger.
type NopLogger struct{}

func (NopLogger) Log(string, string) {}

// Ensure both implementations satisfy Logger.
var (
	_ Logger = (*StdLogger)(nil)
	_ Logger = NopLogger{}
)
