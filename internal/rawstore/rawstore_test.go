package rawstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/plc-visualizer/backend/internal/models"
)

func TestStore_SaveAndGet(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info, err := s.Save("log.txt", bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info.SizeBytes != int64(len("hello world")) {
		t.Fatalf("SizeBytes = %d, want %d", info.SizeBytes, len("hello world"))
	}

	got, err := s.Get(info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "log.txt" || got.Status != models.FileStatusUploaded {
		t.Fatalf("unexpected FileInfo: %+v", got)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ChunkedUpload_AssemblesInOrder(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	uploadID := "upload-1"
	chunks := []string{"abc", "def", "ghi"}
	for i, c := range chunks {
		if err := s.SaveChunk(uploadID, i, bytes.NewReader([]byte(c))); err != nil {
			t.Fatalf("SaveChunk(%d): %v", i, err)
		}
	}

	info, err := s.CompleteChunkedUpload(uploadID, "assembled.log", len(chunks))
	if err != nil {
		t.Fatalf("CompleteChunkedUpload: %v", err)
	}

	data, err := os.ReadFile(s.GetFilePath(info.ID))
	if err != nil {
		t.Fatalf("read assembled file: %v", err)
	}
	if string(data) != "abcdefghi" {
		t.Fatalf("assembled content = %q, want %q", data, "abcdefghi")
	}

	// Chunk staging directory should be cleaned up afterward.
	if _, err := os.Stat(filepath.Join(s.rootDir, "chunks", uploadID)); !os.IsNotExist(err) {
		t.Fatalf("expected chunk dir to be removed, stat err = %v", err)
	}
}

func TestStore_CompleteChunkedUpload_MissingChunk(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	uploadID := "upload-2"
	if err := s.SaveChunk(uploadID, 0, bytes.NewReader([]byte("only-one"))); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}

	if _, err := s.CompleteChunkedUpload(uploadID, "x.log", 2); err == nil {
		t.Fatalf("expected an error for a missing chunk")
	}
}

func TestStore_Delete_IdempotentOnUnknown(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Delete("never-existed"); err != nil {
		t.Fatalf("Delete of unknown id should be a no-op: %v", err)
	}
}

func TestStore_List_OrderingAndLimit(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var ids []string
	for i := 0; i < 3; i++ {
		info, err := s.Save("f.log", bytes.NewReader([]byte("x")))
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, info.ID)
	}

	all := s.List(0, false)
	if len(all) != 3 {
		t.Fatalf("List returned %d, want 3", len(all))
	}

	limited := s.List(2, true)
	if len(limited) != 2 {
		t.Fatalf("List with limit returned %d, want 2", len(limited))
	}
}

func TestStore_RebuildIndex_FromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := s1.Save("f.log", bytes.NewReader([]byte("persisted")))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	got, err := s2.Get(info.ID)
	if err != nil {
		t.Fatalf("expected rebuild to recover %s: %v", info.ID, err)
	}
	if got.SizeBytes != info.SizeBytes {
		t.Fatalf("SizeBytes = %d, want %d", got.SizeBytes, info.SizeBytes)
	}
}

func TestStore_Rename(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := s.Save("old.log", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	renamed, err := s.Rename(info.ID, "new.log")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if renamed.Name != "new.log" {
		t.Fatalf("Name = %q, want new.log", renamed.Name)
	}
}

func TestStore_SetStatus(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := s.Save("f.log", bytes.NewReader([]byte("12345")))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.SetStatus(info.ID, models.FileStatusParsed, 10); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, err := s.Get(info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.FileStatusParsed || got.SizeBytes != 10 {
		t.Fatalf("unexpected FileInfo after SetStatus: %+v", got)
	}
}
