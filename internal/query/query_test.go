package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plc-visualizer/backend/internal/catalog"
	"github.com/plc-visualizer/backend/internal/entrystore"
	"github.com/plc-visualizer/backend/internal/parser"
	"github.com/plc-visualizer/backend/internal/session"
)

func newTestQueryManager(t *testing.T) (*Manager, *session.Manager) {
	t.Helper()
	cat, err := catalog.New(t.TempDir())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	sessions := session.New(cat, parser.NewRegistry(), nil)
	return New(sessions, 2), sessions
}

func waitComplete(t *testing.T, sessions *session.Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s := sessions.GetSession(id)
		if s != nil && s.Status != "pending" && s.Status != "parsing" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never completed", id)
}

func TestQueryManager_QueryEntries_ExtractsJPathValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.log")
	content := "timestamp,device,signal,value\n" +
		`2024-01-01 00:00:00.000,D1,payload,{"duration":42}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	qm, sessions := newTestQueryManager(t)
	snap := sessions.StartSession("f1", path)
	waitComplete(t, sessions, snap.ID)

	entries, total, err := qm.QueryEntries(context.Background(), snap.ID,
		entrystore.Filter{SignalKeys: []string{"D1::payload{$.duration}"}}, 1, 10)
	if err != nil {
		t.Fatalf("QueryEntries: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d (total=%d)", len(entries), total)
	}
	if entries[0].Value != "42" {
		t.Fatalf("expected JPath-extracted value 42, got %q", entries[0].Value)
	}
}

func TestQueryManager_GetChunk_UnknownSession(t *testing.T) {
	qm, _ := newTestQueryManager(t)
	_, err := qm.GetChunk(context.Background(), "no-such-session", 0, 1000, nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown session")
	}
}
