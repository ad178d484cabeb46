// Package models defines the shared entities passed between the
// ingestion, storage, session, and query layers.
package models

import "time"

// FileStatus is the lifecycle stage of an uploaded file.
type FileStatus string

const (
	FileStatusUploaded FileStatus = "uploaded"
	FileStatusParsing  FileStatus = "parsing"
	FileStatusParsed   FileStatus = "parsed"
)

// FileInfo describes a raw file held by the raw file store.
type FileInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SizeBytes  int64      `json:"sizeBytes"`
	UploadedAt time.Time  `json:"uploadedAt"`
	Status     FileStatus `json:"status"`
}

// Encoding names the compression applied to an uploaded file.
type Encoding string

const (
	EncodingNone  Encoding = "none"
	EncodingGzip  Encoding = "gzip"
	EncodingBzip2 Encoding = "bzip2"
	EncodingXZ    Encoding = "xz"
)

// UploadStage is a stage in the async upload job state machine.
type UploadStage string

const (
	StageAssembling   UploadStage = "assembling"
	StageDecompressing UploadStage = "decompressing"
	StageComplete     UploadStage = "complete"
	StageError        UploadStage = "error"
)

// UploadJob tracks an async chunked-upload-to-FileInfo job.
type UploadJob struct {
	JobID          string      `json:"jobId"`
	UploadID       string      `json:"uploadId"`
	FileName       string      `json:"fileName"`
	TotalChunks    int         `json:"totalChunks"`
	OriginalSize   int64       `json:"originalSize"`
	CompressedSize int64       `json:"compressedSize"`
	Encoding       Encoding    `json:"encoding"`
	Stage          UploadStage `json:"stage"`
	StageProgress  float64     `json:"stageProgress"`  // 0-100, within current stage
	OverallProgress float64    `json:"overallProgress"` // 0-100
	Error          string      `json:"error,omitempty"`
	FileInfo       *FileInfo   `json:"fileInfo,omitempty"`
}

// Clone returns a deep-enough copy suitable for handing to a subscriber
// without racing the job's owning goroutine.
func (j *UploadJob) Clone() *UploadJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.FileInfo != nil {
		fi := *j.FileInfo
		cp.FileInfo = &fi
	}
	return &cp
}

// SignalType is the value type a (deviceId, signalName) pair carries
// for its entire lifetime.
type SignalType string

const (
	SignalBoolean SignalType = "boolean"
	SignalInteger SignalType = "integer"
	SignalString  SignalType = "string"
)

// LogEntry is a single structured record parsed from a source log line.
type LogEntry struct {
	Seq             int64 // columnar store's true insertion-order primary key; 0 for in-memory entries not yet appended
	TimestampMillis int64
	DeviceID        string
	SignalName      string
	Value           string
	SignalType      SignalType
	Category        string
	LineNumber      uint
	RawLine         string
	SourceID        string // set for merged multi-file sessions
}

// SignalKey returns the entry's `deviceId::signalName` identity.
func (e *LogEntry) SignalKey() string {
	return e.DeviceID + "::" + e.SignalName
}

// ParseError records a single malformed line encountered during parsing.
// Parsing never halts because of one; errors accumulate per session.
type ParseError struct {
	LineNumber uint   `json:"lineNumber"`
	RawLine    string `json:"rawLine"`
	Reason     string `json:"reason"`
}

// SessionStatus is the lifecycle stage of a ParseSession.
type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionParsing  SessionStatus = "parsing"
	SessionComplete SessionStatus = "complete"
	SessionError    SessionStatus = "error"
)

// ParseSession is the client-facing handle bound to one parse job plus
// its resulting query surface.
type ParseSession struct {
	ID                 string        `json:"id"`
	FileID             string        `json:"fileId,omitempty"`
	FileIDs            []string      `json:"fileIds,omitempty"` // set for merged sessions
	Status             SessionStatus `json:"status"`
	ProgressPercent    float64       `json:"progressPercent"`
	StartTimeMillis    int64         `json:"startTimeMillis"`
	EndTimeMillis      int64         `json:"endTimeMillis"`
	EntryCount         int64         `json:"entryCount"`
	SignalCount        int           `json:"signalCount"`
	ParserName         string        `json:"parserName"`
	Errors             []ParseError  `json:"errors,omitempty"`
	ProcessingTimeMillis int64       `json:"processingTimeMillis"`
	LastAccessed       time.Time     `json:"-"`
}

// Clone returns a copy safe to hand to a caller outside the session
// manager's lock.
func (s *ParseSession) Clone() *ParseSession {
	if s == nil {
		return nil
	}
	cp := *s
	if s.FileIDs != nil {
		cp.FileIDs = append([]string(nil), s.FileIDs...)
	}
	if s.Errors != nil {
		cp.Errors = append([]ParseError(nil), s.Errors...)
	}
	return &cp
}

// IsMerged reports whether this session spans more than one source file.
func (s *ParseSession) IsMerged() bool {
	return len(s.FileIDs) > 1
}

// CacheHitMarker is appended to ParserName when a session is served
// from an already-parsed columnar store rather than a fresh parse.
const CacheHitMarker = " (cached)"
