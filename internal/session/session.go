package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plc-visualizer/backend/internal/catalog"
	"github.com/plc-visualizer/backend/internal/intern"
	"github.com/plc-visualizer/backend/internal/logging"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/parser"
	"github.com/plc-visualizer/backend/internal/progress"
	"github.com/plc-visualizer/backend/internal/rawstore"
)

// defaultMaxSessions is the admission cap (spec §4.6, "≈10").
const defaultMaxSessions = 10

// defaultKeepAlive is how long a completed/errored session is protected
// from eviction since its last access (spec §4.6, "outside the
// keep-alive window").
const defaultKeepAlive = 5 * time.Minute

// slowPathProgressLow/High bound the fraction of progressPercent the
// parse worker owns; the remainder is admission/dispatch overhead
// (spec §4.6: "progressCallback updates session.progressPercent in
// [10, 89.9]").
const (
	slowPathProgressLow  = 10.0
	slowPathProgressHigh = 89.9
)

// Manager tracks ParseSessions the way the teacher's app.go tracks open
// file tabs (tabsMu/tabs), generalized to "one parse session per
// request" with eviction, file-lock conflict resolution, and panic
// isolation layered on top (spec §4.6).
type Manager struct {
	catalog  *catalog.Catalog
	registry *parser.Registry
	logger   logging.Logger
	pool     *intern.Pool
	raw      *rawstore.Store // optional; set via SetRawStore to enable DeleteFile's cascade

	maxSessions int
	keepAlive   time.Duration

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	session *models.ParseSession
	backend backend // nil until the session reaches complete
	bcst    *progress.Broadcaster[*models.ParseSession]
}

// New constructs a session Manager. cat and reg must be non-nil.
func New(cat *catalog.Catalog, reg *parser.Registry, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Manager{
		catalog:     cat,
		registry:    reg,
		logger:      logger,
		pool:        intern.New(),
		maxSessions: defaultMaxSessions,
		keepAlive:   defaultKeepAlive,
		sessions:    make(map[string]*sessionEntry),
	}
}

// SetRawStore wires the raw file store DeleteFile cascades into. It's
// not a constructor argument because the two stores are built
// independently and composed by whatever process wires the engine
// together.
func (m *Manager) SetRawStore(raw *rawstore.Store) {
	m.raw = raw
}

func (m *Manager) newEntry() *sessionEntry {
	s := &models.ParseSession{
		ID:              uuid.NewString(),
		Status:          models.SessionPending,
		StartTimeMillis: time.Now().UnixMilli(),
		LastAccessed:    time.Now(),
	}
	e := &sessionEntry{session: s, bcst: progress.New[*models.ParseSession]()}
	e.bcst.Publish(s.Clone())
	return e
}

// admit applies the eviction policy (spec §4.6 step 1) and registers
// e in the session map.
func (m *Manager) admit(e *sessionEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		if victimID, ok := m.findEvictionVictim(); ok {
			m.closeLocked(victimID)
			delete(m.sessions, victimID)
		}
		// If no victim is eligible, accept anyway (spec §4.6 step 1:
		// "monotonic growth is preferred over rejecting the request").
	}
	m.sessions[e.session.ID] = e
}

func (m *Manager) findEvictionVictim() (string, bool) {
	var victimID string
	var oldest time.Time
	found := false
	cutoff := time.Now().Add(-m.keepAlive)
	for id, e := range m.sessions {
		e.mu.Lock()
		status := e.session.Status
		lastAccessed := e.session.LastAccessed
		e.mu.Unlock()
		if status != models.SessionComplete && status != models.SessionError {
			continue
		}
		if lastAccessed.After(cutoff) {
			continue
		}
		if !found || lastAccessed.Before(oldest) {
			victimID = id
			oldest = lastAccessed
			found = true
		}
	}
	return victimID, found
}

// closeLocked closes a session's backend handle. Caller must hold m.mu.
func (m *Manager) closeLocked(id string) {
	e, ok := m.sessions[id]
	if !ok {
		return
	}
	e.mu.Lock()
	b := e.backend
	e.backend = nil
	e.mu.Unlock()
	if b != nil {
		_ = b.Close()
	}
}

// closeConflictingHandles implements file-lock resolution (spec §4.6:
// "walk all sessions S' != S with fileId == F and close their store
// handle"). Must be called under m.mu (write lock).
func (m *Manager) closeConflictingHandles(fileID, exceptSessionID string) {
	for id, e := range m.sessions {
		if id == exceptSessionID {
			continue
		}
		e.mu.Lock()
		matches := e.session.FileID == fileID && !e.session.IsMerged()
		e.mu.Unlock()
		if matches {
			m.closeLocked(id)
		}
	}
}

// StartSession begins parsing fileID (spec §4.6 contract:
// startSession(fileId, filePath)). The returned snapshot has status
// pending; progress continues asynchronously.
func (m *Manager) StartSession(fileID, filePath string) *models.ParseSession {
	e := m.newEntry()
	e.mu.Lock()
	e.session.FileID = fileID
	snap := e.session.Clone()
	e.mu.Unlock()

	m.admit(e)

	go m.runSingle(e, fileID, filePath)

	return snap
}

func (m *Manager) runSingle(e *sessionEntry, fileID, filePath string) {
	defer func() {
		if r := recover(); r != nil {
			m.failAndCleanup(e, fileID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	m.update(e, func(s *models.ParseSession) { s.Status = models.SessionParsing })

	// Fast path: already parsed (spec §4.6 step 2).
	if m.catalog.IsParsed(fileID) {
		m.mu.Lock()
		m.closeConflictingHandles(fileID, e.session.ID)
		m.mu.Unlock()

		store, ok, err := m.catalog.Open(fileID)
		if err != nil {
			m.failAndCleanup(e, fileID, err.Error())
			return
		}
		if ok {
			m.completeFromBackend(e, store, "cache"+models.CacheHitMarker)
			return
		}
		// Catalog lost the race (file deleted between check and open);
		// fall through to the slow path.
	}

	// Slow path: parse (spec §4.6 step 3).
	p, err := m.registry.FindParser(filePath)
	if err != nil {
		m.failAndCleanup(e, fileID, err.Error())
		return
	}

	progressCb := func(linesProcessed, bytesRead, totalBytes int64) {
		pct := slowPathProgressLow
		if totalBytes > 0 {
			frac := float64(bytesRead) / float64(totalBytes)
			if frac > 1 {
				frac = 1
			}
			pct = slowPathProgressLow + frac*(slowPathProgressHigh-slowPathProgressLow)
		}
		m.update(e, func(s *models.ParseSession) {
			if pct > s.ProgressPercent {
				s.ProgressPercent = pct
			}
			s.EntryCount = linesProcessed
		})
	}

	if colParser, ok := p.(parser.ColumnarParser); ok {
		store, err := m.catalog.CreateForFile(fileID)
		if err != nil {
			m.failAndCleanup(e, fileID, err.Error())
			return
		}
		summary, parseErrs, err := colParser.ParseToColumnarStore(filePath, store, progressCb)
		if err != nil {
			store.Close()
			_ = m.catalog.Delete(fileID)
			m.failAndCleanup(e, fileID, err.Error())
			return
		}
		m.catalog.MarkComplete(fileID)
		m.finishParse(e, store, p.Name(), summary, parseErrs)
		return
	}

	summary, parseErrs, err := p.ParseWithProgress(filePath, progressCb)
	if err != nil {
		m.failAndCleanup(e, fileID, err.Error())
		return
	}
	mem := newMemStore(summary.Entries)
	m.finishParse(e, mem, p.Name(), summary, parseErrs)
}

// finishParse applies the common completion sequence shared by the
// columnar and in-memory slow paths (spec §4.6 step 3: "final
// transition writes processingTimeMillis, startTimeMillis,
// endTimeMillis, signalCount, and errors[], then sets status complete
// and progress 100").
func (m *Manager) finishParse(e *sessionEntry, b backend, parserName string, summary *parser.Summary, parseErrs []models.ParseError) {
	m.pool.Reset()

	e.mu.Lock()
	e.backend = b
	start := e.session.StartTimeMillis
	e.mu.Unlock()

	end := time.Now().UnixMilli()
	m.update(e, func(s *models.ParseSession) {
		s.Status = models.SessionComplete
		s.ProgressPercent = 100
		s.EntryCount = summary.EntryCount
		s.SignalCount = len(summary.Signals)
		s.ParserName = parserName
		s.Errors = parseErrs
		s.EndTimeMillis = end
		s.ProcessingTimeMillis = end - start
	})
}

// completeFromBackend implements the fast path's completion (spec
// §4.6 step 2: "populate session fields from the store... transition
// to complete").
func (m *Manager) completeFromBackend(e *sessionEntry, b backend, parserName string) {
	n, err := b.Len()
	if err != nil {
		_ = b.Close()
		m.failAndCleanup(e, e.session.FileID, err.Error())
		return
	}
	signals, err := b.GetSignalTypes()
	if err != nil {
		_ = b.Close()
		m.failAndCleanup(e, e.session.FileID, err.Error())
		return
	}

	e.mu.Lock()
	e.backend = b
	e.mu.Unlock()

	end := time.Now().UnixMilli()
	m.update(e, func(s *models.ParseSession) {
		s.Status = models.SessionComplete
		s.ProgressPercent = 100
		s.EntryCount = n
		s.SignalCount = len(signals)
		s.ParserName = parserName
		s.EndTimeMillis = end
		s.ProcessingTimeMillis = end - s.StartTimeMillis
	})
}

// failAndCleanup implements panic/error isolation (spec §4.6 step 4):
// transition to error, close any partially-created store, and remove
// it from the catalog.
func (m *Manager) failAndCleanup(e *sessionEntry, fileID, reason string) {
	e.mu.Lock()
	b := e.backend
	e.backend = nil
	e.mu.Unlock()
	if b != nil {
		_ = b.Close()
	}
	if fileID != "" {
		_ = m.catalog.Delete(fileID)
	}

	end := time.Now().UnixMilli()
	m.update(e, func(s *models.ParseSession) {
		s.Status = models.SessionError
		s.Errors = append(s.Errors, models.ParseError{Reason: reason})
		s.EndTimeMillis = end
		s.ProcessingTimeMillis = end - s.StartTimeMillis
	})
	m.logger.Log("error", fmt.Sprintf("session %s failed: %s", e.session.ID, reason))
}

func (m *Manager) update(e *sessionEntry, mutate func(*models.ParseSession)) {
	e.mu.Lock()
	mutate(e.session)
	snap := e.session.Clone()
	e.mu.Unlock()
	e.bcst.Publish(snap)
}

// GetSession returns a snapshot of a session, or nil if unknown (spec
// §4.6 contract: getSession(id)).
func (m *Manager) GetSession(id string) *models.ParseSession {
	e := m.lookup(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

// TouchSession resets lastAccessed (spec §4.6 contract:
// touchSession(id)).
func (m *Manager) TouchSession(id string) bool {
	e := m.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	e.session.LastAccessed = time.Now()
	e.mu.Unlock()
	return true
}

// Subscribe streams ParseSession snapshots for id.
func (m *Manager) Subscribe(id string) (<-chan *models.ParseSession, func(), bool) {
	e := m.lookup(id)
	if e == nil {
		return nil, nil, false
	}
	ch, cancel := e.bcst.Subscribe()
	return ch, cancel, true
}

func (m *Manager) lookup(id string) *sessionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// backendFor acquires id's backend under a brief read lock on the
// session map and then releases it before touching the store itself
// (spec §5: "Each long-running operation acquires a read lock for the
// map lookup, releases it, and then operates on the underlying store
// under the store's own concurrency rules").
func (m *Manager) backendFor(id string) (backend, bool) {
	e := m.lookup(id)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccessed = time.Now()
	if e.backend == nil {
		return nil, false
	}
	return e.backend, true
}

// CleanupOldSessions evicts complete/errored sessions whose
// lastAccessed is older than maxAge, regardless of the admission cap,
// and returns how many were removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for id, e := range m.sessions {
		e.mu.Lock()
		status := e.session.Status
		lastAccessed := e.session.LastAccessed
		e.mu.Unlock()
		if (status == models.SessionComplete || status == models.SessionError) && lastAccessed.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		m.closeLocked(id)
		delete(m.sessions, id)
	}
	return len(stale)
}

// DeleteParsedFile removes fileID's columnar store from the catalog,
// closing any session currently holding it open.
func (m *Manager) DeleteParsedFile(fileID string) error {
	m.mu.Lock()
	m.closeConflictingHandles(fileID, "")
	m.mu.Unlock()
	return m.catalog.Delete(fileID)
}

// DeleteFile cascades a raw file delete into its derived columnar
// store (spec.md:57, "Deleting a raw file must cascade-delete its
// columnar store"). It closes any session holding fileID open, then
// deletes both sides regardless of whether either half already fails,
// so a missing raw file or a never-parsed fileID doesn't block the
// other half's cleanup; it returns the first error encountered.
func (m *Manager) DeleteFile(fileID string) error {
	catErr := m.DeleteParsedFile(fileID)

	var rawErr error
	if m.raw != nil {
		rawErr = m.raw.Delete(fileID)
	}

	if catErr != nil {
		return catErr
	}
	return rawErr
}

// ctxDone is a small helper query methods use to honor spec §5's
// cancellation contract ("a cancelled query returns a not-found shape
// rather than partial data").
func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
