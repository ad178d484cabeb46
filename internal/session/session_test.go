package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/plc-visualizer/backend/internal/catalog"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/parser"
	"github.com/plc-visualizer/backend/internal/rawstore"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	catalogDir := t.TempDir()
	cat, err := catalog.New(catalogDir)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	reg := parser.NewRegistry()
	return New(cat, reg, nil), catalogDir
}

func writeLogFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	return path
}

func waitForTerminal(t *testing.T, m *Manager, sessionID string) *models.ParseSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s := m.GetSession(sessionID)
		if s != nil && (s.Status == models.SessionComplete || s.Status == models.SessionError) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach a terminal state in time", sessionID)
	return nil
}

const bracketContent = "2025-09-22 13:00:00.100 [Debug] [SYS/DEV-1] [IN:S1] (Boolean) : ON\n" +
	"2025-09-22 13:00:00.200 [Debug] [SYS/DEV-1] [IN:S2] (Int) : 42\n"

const csvContent = "timestamp,device,signal,value\n2024-01-01 00:00:00.000,D1,S1,7\n"

func TestStartSession_BracketPLC_SlowPath(t *testing.T) {
	m, _ := newTestManager(t)
	path := writeLogFile(t, bracketContent)

	snap := m.StartSession("f1", path)
	if snap.Status != models.SessionPending {
		t.Fatalf("expected initial status pending, got %q", snap.Status)
	}

	final := waitForTerminal(t, m, snap.ID)
	if final.Status != models.SessionComplete {
		t.Fatalf("expected complete, got %q (errors=%+v)", final.Status, final.Errors)
	}
	if final.EntryCount != 2 {
		t.Fatalf("EntryCount = %d, want 2", final.EntryCount)
	}
	if final.ParserName != "bracket-plc" {
		t.Fatalf("ParserName = %q, want bracket-plc", final.ParserName)
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("ProgressPercent = %v, want 100", final.ProgressPercent)
	}
}

func TestStartSession_CSV_InMemorySlowPath(t *testing.T) {
	m, _ := newTestManager(t)
	path := writeLogFile(t, csvContent)

	snap := m.StartSession("f2", path)
	final := waitForTerminal(t, m, snap.ID)
	if final.Status != models.SessionComplete {
		t.Fatalf("expected complete, got %q (errors=%+v)", final.Status, final.Errors)
	}
	if final.ParserName != "csv" {
		t.Fatalf("ParserName = %q, want csv", final.ParserName)
	}

	entries, err := m.GetEntries(context.Background(), snap.ID, 0, 10)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("GetEntries returned %d entries, want 1", len(entries))
	}
}

func TestStartSession_FastPath_CacheHit(t *testing.T) {
	m, _ := newTestManager(t)
	path := writeLogFile(t, bracketContent)

	first := m.StartSession("f1", path)
	waitForTerminal(t, m, first.ID)

	second := m.StartSession("f1", path)
	finalSecond := waitForTerminal(t, m, second.ID)
	if finalSecond.Status != models.SessionComplete {
		t.Fatalf("expected fast-path session to complete, got %q", finalSecond.Status)
	}
	if finalSecond.ParserName != "cache"+models.CacheHitMarker {
		t.Fatalf("ParserName = %q, want cache-hit marker", finalSecond.ParserName)
	}
	if finalSecond.EntryCount != 2 {
		t.Fatalf("EntryCount = %d, want 2 (from the cached store)", finalSecond.EntryCount)
	}
}

func TestDeleteFile_CascadesToRawstoreAndCatalog(t *testing.T) {
	m, _ := newTestManager(t)
	raw, err := rawstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("rawstore.New: %v", err)
	}
	m.SetRawStore(raw)

	info, err := raw.Save("input.log", strings.NewReader(bracketContent))
	if err != nil {
		t.Fatalf("raw.Save: %v", err)
	}

	snap := m.StartSession(info.ID, raw.GetFilePath(info.ID))
	final := waitForTerminal(t, m, snap.ID)
	if final.Status != models.SessionComplete {
		t.Fatalf("expected complete, got %q (errors=%+v)", final.Status, final.Errors)
	}
	if !m.catalog.IsParsed(info.ID) {
		t.Fatalf("expected %s to be parsed in the catalog before delete", info.ID)
	}
	if _, err := raw.Get(info.ID); err != nil {
		t.Fatalf("expected %s present in rawstore before delete: %v", info.ID, err)
	}

	if err := m.DeleteFile(info.ID); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	if m.catalog.IsParsed(info.ID) {
		t.Fatalf("expected %s's columnar store to be gone after DeleteFile", info.ID)
	}
	if _, err := raw.Get(info.ID); err == nil {
		t.Fatalf("expected %s to be gone from the rawstore after DeleteFile", info.ID)
	}
}

func TestStartSession_NoMatchingParser(t *testing.T) {
	m, _ := newTestManager(t)
	path := writeLogFile(t, "\x00\x01\x02 not a recognizable log format")

	snap := m.StartSession("f3", path)
	final := waitForTerminal(t, m, snap.ID)
	if final.Status != models.SessionError {
		t.Fatalf("expected error status for unparseable file, got %q", final.Status)
	}
	if len(final.Errors) == 0 {
		t.Fatalf("expected at least one recorded error")
	}
}

func TestTouchSession(t *testing.T) {
	m, _ := newTestManager(t)
	path := writeLogFile(t, bracketContent)
	snap := m.StartSession("f1", path)
	waitForTerminal(t, m, snap.ID)

	if !m.TouchSession(snap.ID) {
		t.Fatalf("TouchSession should succeed for a known session")
	}
	if m.TouchSession("unknown-id") {
		t.Fatalf("TouchSession should fail for an unknown session")
	}
}

func TestCleanupOldSessions(t *testing.T) {
	m, _ := newTestManager(t)
	path := writeLogFile(t, bracketContent)
	snap := m.StartSession("f1", path)
	waitForTerminal(t, m, snap.ID)

	removed := m.CleanupOldSessions(0) // everything older than "now" is stale
	if removed != 1 {
		t.Fatalf("CleanupOldSessions removed %d, want 1", removed)
	}
	if m.GetSession(snap.ID) != nil {
		t.Fatalf("expected session to be gone after cleanup")
	}
}

func TestStartMultiSession_DedupesAndMerges(t *testing.T) {
	m, _ := newTestManager(t)
	pathA := writeLogFile(t, "timestamp,device,signal,value\n2024-01-01 00:00:00.000,D1,S1,5\n")
	pathB := writeLogFile(t, "timestamp,device,signal,value\n2024-01-01 00:00:00.400,D1,S1,5\n2024-01-01 00:00:10.000,D1,S1,9\n")

	snap := m.StartMultiSession([]string{"fa", "fb"}, []string{pathA, pathB})
	final := waitForTerminal(t, m, snap.ID)
	if final.Status != models.SessionComplete {
		t.Fatalf("expected merged session to complete, got %q (errs=%+v)", final.Status, final.Errors)
	}
	// The second file's first row duplicates the first file's row within
	// the ~1s fuzzy window and should be dropped; the 10s-later row survives.
	if final.EntryCount != 2 {
		t.Fatalf("EntryCount = %d, want 2 after fuzzy dedup", final.EntryCount)
	}
}
