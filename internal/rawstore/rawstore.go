// Package rawstore implements the raw file store (spec §4.1): durable,
// UUID-keyed storage of uploaded bytes, a chunk staging area, and
// atomic chunk assembly. Grounded on the teacher's filesystem-facing
// helpers in app/fileloader (stream-first I/O, no buffering of whole
// files) and on the pack's chunked-upload examples for the
// chunk-directory-per-uploadId layout.
package rawstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/plc-visualizer/backend/internal/models"
)

// ErrNotFound is returned when an operation targets an unknown file ID.
var ErrNotFound = errors.New("rawstore: file not found")

// ErrMissingChunk is returned by CompleteChunkedUpload when a chunk in
// the declared range is absent on disk.
var ErrMissingChunk = errors.New("rawstore: missing chunk")

// Store is the raw file store. The in-memory index is guarded by a
// single RWMutex; filesystem operations below it are unlocked since
// each file's path is disjoint from every other (spec §4.1,
// Concurrency).
type Store struct {
	rootDir string

	mu    sync.RWMutex
	index map[string]*models.FileInfo
}

// New creates a Store rooted at dir, creating it if necessary, and
// rebuilds its in-memory index from whatever raw files are already
// present (so a restart does not lose track of uploaded files).
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rawstore: create root dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "chunks"), 0o755); err != nil {
		return nil, fmt.Errorf("rawstore: create chunks dir: %w", err)
	}

	s := &Store{rootDir: dir, index: make(map[string]*models.FileInfo)}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return fmt.Errorf("rawstore: scan root dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue // skips "chunks"
		}
		info, err := e.Info()
		if err != nil {
			continue // tolerate per-entry I/O errors, same as the catalog's scan
		}
		id := e.Name()
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		s.index[id] = &models.FileInfo{
			ID:         id,
			Name:       id,
			SizeBytes:  info.Size(),
			UploadedAt: info.ModTime(),
			Status:     models.FileStatusUploaded,
		}
	}
	return nil
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.rootDir, id)
}

func (s *Store) chunkDir(uploadID string) string {
	return filepath.Join(s.rootDir, "chunks", uploadID)
}

func (s *Store) chunkPath(uploadID string, index int) string {
	return filepath.Join(s.chunkDir(uploadID), fmt.Sprintf("chunk_%d", index))
}

// Save streams stream into a new UUID-keyed file and registers it.
func (s *Store) Save(name string, stream io.Reader) (*models.FileInfo, error) {
	id := uuid.NewString()
	target := s.filePath(id)

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rawstore: create file: %w", err)
	}

	n, err := io.Copy(f, stream)
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(target)
		if err != nil {
			return nil, fmt.Errorf("rawstore: write file: %w", err)
		}
		return nil, fmt.Errorf("rawstore: close file: %w", closeErr)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		SizeBytes:  n,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}

	s.mu.Lock()
	s.index[id] = info
	s.mu.Unlock()

	return cloneInfo(info), nil
}

// SaveChunk appends a chunk file under chunks/<uploadId>/chunk_<index>.
// Directory creation is idempotent, so concurrent chunk indices for the
// same uploadId never race each other on the mkdir.
func (s *Store) SaveChunk(uploadID string, index int, stream io.Reader) error {
	dir := s.chunkDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rawstore: create chunk dir: %w", err)
	}

	target := s.chunkPath(uploadID, index)
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("rawstore: create chunk: %w", err)
	}

	_, err = io.Copy(f, stream)
	closeErr := f.Close()
	if err != nil {
		os.Remove(target)
		return fmt.Errorf("rawstore: write chunk: %w", err)
	}
	if closeErr != nil {
		os.Remove(target)
		return fmt.Errorf("rawstore: close chunk: %w", closeErr)
	}
	return nil
}

// CompleteChunkedUpload concatenates chunk_0..chunk_{n-1} in order into
// a new UUID-keyed file, then removes the chunk directory. A missing
// chunk is fatal for the upload (spec §4.1, Failure semantics) and a
// partial write removes the half-built target before returning.
func (s *Store) CompleteChunkedUpload(uploadID, name string, totalChunks int) (*models.FileInfo, error) {
	dir := s.chunkDir(uploadID)

	for i := 0; i < totalChunks; i++ {
		if _, err := os.Stat(s.chunkPath(uploadID, i)); err != nil {
			return nil, fmt.Errorf("%w: chunk %d of upload %s", ErrMissingChunk, i, uploadID)
		}
	}

	id := uuid.NewString()
	target := s.filePath(id)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rawstore: create assembled file: %w", err)
	}

	var total int64
	assembleErr := func() error {
		for i := 0; i < totalChunks; i++ {
			chunkFile, err := os.Open(s.chunkPath(uploadID, i))
			if err != nil {
				return fmt.Errorf("%w: chunk %d: %v", ErrMissingChunk, i, err)
			}
			n, err := io.Copy(out, chunkFile)
			chunkFile.Close()
			total += n
			if err != nil {
				return fmt.Errorf("rawstore: assemble chunk %d: %w", i, err)
			}
		}
		return nil
	}()

	closeErr := out.Close()
	if assembleErr != nil || closeErr != nil {
		os.Remove(target)
		if assembleErr != nil {
			return nil, assembleErr
		}
		return nil, fmt.Errorf("rawstore: close assembled file: %w", closeErr)
	}

	// Best-effort cleanup of the now-consumed chunk staging area.
	_ = os.RemoveAll(dir)
	matches, _ := doublestar.Glob(os.DirFS(filepath.Join(s.rootDir, "chunks")), uploadID+"*")
	for _, m := range matches {
		_ = os.RemoveAll(filepath.Join(s.rootDir, "chunks", m))
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		SizeBytes:  total,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}

	s.mu.Lock()
	s.index[id] = info
	s.mu.Unlock()

	return cloneInfo(info), nil
}

// Get returns the FileInfo for id, or ErrNotFound.
func (s *Store) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInfo(info), nil
}

// List returns up to limit FileInfos, newest-first if newestFirst is
// set. limit <= 0 means unlimited.
func (s *Store) List(limit int, newestFirst bool) []*models.FileInfo {
	s.mu.RLock()
	out := make([]*models.FileInfo, 0, len(s.index))
	for _, info := range s.index {
		out = append(out, cloneInfo(info))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Delete removes a file's bytes and index entry. Deletion of a
// non-existent file is idempotent (spec §4.1).
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rawstore: delete file: %w", err)
	}
	return nil
}

// Rename updates a file's display name.
func (s *Store) Rename(id, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	info.Name = newName
	return cloneInfo(info), nil
}

// GetFilePath returns the on-disk path for a stored file, without
// checking that it still exists.
func (s *Store) GetFilePath(id string) string {
	return s.filePath(id)
}

// SetStatus updates a file's status (e.g. to FileStatusParsed once a
// columnar store exists for it) and optionally rewrites its size, used
// after decompression changes the on-disk length (spec §3, FileInfo).
func (s *Store) SetStatus(id string, status models.FileStatus, sizeBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	info.Status = status
	if sizeBytes >= 0 {
		info.SizeBytes = sizeBytes
	}
	return nil
}

func cloneInfo(info *models.FileInfo) *models.FileInfo {
	cp := *info
	return &cp
}
