// Package catalog implements the persistent parsed-store catalog
// (spec §4.5): a file-ID-to-path map over `file_<id>.db` columnar
// stores, scanned from disk on startup and kept consistent with an
// in-memory index the same way the teacher's app/cache/cache.go keeps
// an in-memory map in sync with its backing store, using
// doublestar.Match for the same glob-based file recognition
// app/fileloader uses for extension matching.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/plc-visualizer/backend/internal/entrystore"
)

const filePrefix = "file_"
const fileSuffix = ".db"

// Catalog tracks which file IDs have a completed columnar store and
// where it lives on disk.
type Catalog struct {
	dir string

	mu    sync.RWMutex
	index map[string]string // fileID -> path
}

// New constructs a Catalog rooted at dir and performs the startup scan
// (spec §4.5, "On construction the catalog enumerates its directory").
func New(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create dir: %w", err)
	}
	c := &Catalog{dir: dir, index: make(map[string]string)}
	if err := c.scan(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) scan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("catalog: scan dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ok, err := doublestar.Match(filePrefix+"*"+fileSuffix, name)
		if err != nil || !ok {
			continue // tolerate per-entry errors (spec §4.5)
		}
		id := name[len(filePrefix) : len(name)-len(fileSuffix)]
		if id == "" {
			continue
		}
		c.index[id] = filepath.Join(c.dir, name)
	}
	return nil
}

func (c *Catalog) pathFor(fileID string) string {
	return filepath.Join(c.dir, filePrefix+fileID+fileSuffix)
}

// IsParsed checks the in-memory map first; on miss it stat-probes disk
// and inserts the entry if present (spec §4.5, "Cache consistency").
func (c *Catalog) IsParsed(fileID string) bool {
	c.mu.RLock()
	_, ok := c.index[fileID]
	c.mu.RUnlock()
	if ok {
		return true
	}

	path := c.pathFor(fileID)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	c.mu.Lock()
	c.index[fileID] = path
	c.mu.Unlock()
	return true
}

// Open opens the store for fileID read-only, or returns (nil, false)
// if it is not parsed (spec §4.5 contract: "open(fileId) →
// ColumnarStore (read-only) | null").
func (c *Catalog) Open(fileID string) (*entrystore.Store, bool, error) {
	if !c.IsParsed(fileID) {
		return nil, false, nil
	}
	c.mu.RLock()
	path := c.index[fileID]
	c.mu.RUnlock()

	store, err := entrystore.Open(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("catalog: open %s: %w", fileID, err)
	}
	return store, true, nil
}

// CreateForFile creates a new writable store for fileID. The caller
// must call MarkComplete after a successful parse so happens-before
// ordering with any subsequent Open holds (spec §5, Ordering
// guarantees).
func (c *Catalog) CreateForFile(fileID string) (*entrystore.Store, error) {
	path := c.pathFor(fileID)
	store, err := entrystore.Open(path, true)
	if err != nil {
		return nil, fmt.Errorf("catalog: create for file %s: %w", fileID, err)
	}
	return store, nil
}

// MarkComplete registers fileID's store as present in the in-memory
// index once its parse has finished successfully.
func (c *Catalog) MarkComplete(fileID string) {
	c.mu.Lock()
	c.index[fileID] = c.pathFor(fileID)
	c.mu.Unlock()
}

// Delete removes both the disk file and the map entry (spec §4.5).
// Deleting an unknown fileID is a no-op, not an error.
func (c *Catalog) Delete(fileID string) error {
	c.mu.Lock()
	path, ok := c.index[fileID]
	delete(c.index, fileID)
	c.mu.Unlock()

	if !ok {
		path = c.pathFor(fileID)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catalog: delete %s: %w", fileID, err)
	}
	return nil
}

// CleanupOrphaned removes every catalog entry not present in
// knownFileIDs and reports how many were removed (spec §4.5).
func (c *Catalog) CleanupOrphaned(ctx context.Context, knownFileIDs map[string]struct{}) (int, error) {
	c.mu.Lock()
	var orphans []string
	for id := range c.index {
		if _, ok := knownFileIDs[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	c.mu.Unlock()

	removed := 0
	for _, id := range orphans {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}
		if err := c.Delete(id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Stats summarizes the catalog's current disk footprint.
type Stats struct {
	Count      int
	TotalBytes int64
	Dir        string
}

// Stats reports the catalog's entry count, total on-disk size, and
// root directory (spec §4.5).
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	paths := make([]string, 0, len(c.index))
	for _, p := range c.index {
		paths = append(paths, p)
	}
	c.mu.RUnlock()

	var total int64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return Stats{Count: len(paths), TotalBytes: total, Dir: c.dir}
}
