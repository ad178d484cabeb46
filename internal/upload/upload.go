// Package upload implements the async upload job executor (spec
// §4.2): assemble -> validate magic -> streaming decompress -> register.
// Decompression is grounded in the teacher's
// app/fileloader/compression.go gzip handling, generalized into a
// job/stage state machine with progress fan-out.
package upload

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plc-visualizer/backend/internal/logging"
	"github.com/plc-visualizer/backend/internal/models"
	"github.com/plc-visualizer/backend/internal/progress"
	"github.com/plc-visualizer/backend/internal/rawstore"
)

var gzipMagic = [2]byte{0x1f, 0x8b}

const decompressBufSize = 1 << 20 // ~1 MiB, per spec §4.2/§5

// These weights map the spec's stage percentage ranges: assembling
// contributes 0-40% of overall progress, decompressing 40-90%.
const (
	assembleWeightLow  = 0.0
	assembleWeightHigh = 40.0
	decompressWeightLow  = 40.0
	decompressWeightHigh = 90.0
)

// Manager runs one worker goroutine per upload job.
type Manager struct {
	store  *rawstore.Store
	logger logging.Logger

	mu   sync.RWMutex
	jobs map[string]*jobHandle
}

type jobHandle struct {
	mu   sync.Mutex
	job  *models.UploadJob
	bcst *progress.Broadcaster[*models.UploadJob]
}

// New creates an upload Manager writing assembled/decompressed files
// through store.
func New(store *rawstore.Store, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Manager{
		store:  store,
		logger: logger,
		jobs:   make(map[string]*jobHandle),
	}
}

// StartJob registers a new upload job and starts its worker goroutine.
// The job progresses asynchronously; subscribe via Subscribe to observe
// it.
func (m *Manager) StartJob(uploadID, name string, totalChunks int, originalSize, compressedSize int64, encoding models.Encoding) *models.UploadJob {
	job := &models.UploadJob{
		JobID:           uuid.NewString(),
		UploadID:        uploadID,
		FileName:        name,
		TotalChunks:     totalChunks,
		OriginalSize:    originalSize,
		CompressedSize:  compressedSize,
		Encoding:        encoding,
		Stage:           models.StageAssembling,
		StageProgress:   0,
		OverallProgress: 0,
	}

	h := &jobHandle{job: job, bcst: progress.New[*models.UploadJob]()}
	h.bcst.Publish(job.Clone())

	m.mu.Lock()
	m.jobs[job.JobID] = h
	m.mu.Unlock()

	go m.run(h)

	return job.Clone()
}

// Subscribe returns a stream of UploadJob snapshots for jobID,
// terminating (by the caller observing Stage == complete/error) when
// the job reaches a terminal state. Returns ok=false for an unknown
// job.
func (m *Manager) Subscribe(jobID string) (<-chan *models.UploadJob, func(), bool) {
	m.mu.RLock()
	h, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	ch, cancel := h.bcst.Subscribe()
	return ch, cancel, true
}

// Get returns the current snapshot of a job, or nil if unknown.
func (m *Manager) Get(jobID string) *models.UploadJob {
	m.mu.RLock()
	h, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Clone()
}

func (m *Manager) run(h *jobHandle) {
	defer func() {
		if r := recover(); r != nil {
			m.fail(h, fmt.Sprintf("internal error: %v", r))
		}
	}()

	job := h.job

	info, err := m.store.CompleteChunkedUpload(job.UploadID, job.FileName, job.TotalChunks)
	if err != nil {
		m.fail(h, err.Error())
		return
	}

	m.update(h, func(j *models.UploadJob) {
		j.StageProgress = 100
		j.OverallProgress = assembleWeightHigh
		j.FileInfo = info
	})

	if job.Encoding != models.EncodingGzip {
		m.complete(h, info)
		return
	}

	m.update(h, func(j *models.UploadJob) {
		j.Stage = models.StageDecompressing
		j.StageProgress = 0
		j.OverallProgress = decompressWeightLow
	})

	finalInfo, err := m.decompress(h, info)
	if err != nil {
		m.fail(h, err.Error())
		_ = m.store.Delete(info.ID)
		return
	}

	m.complete(h, finalInfo)
}

func (m *Manager) decompress(h *jobHandle, info *models.FileInfo) (*models.FileInfo, error) {
	path := m.store.GetFilePath(info.ID)
	job := h.job

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload: open assembled file: %w", err)
	}
	defer f.Close()

	var magic [2]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("upload: read magic bytes: %w", err)
	}
	if magic != gzipMagic {
		return nil, fmt.Errorf("upload: gzip magic mismatch")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("upload: seek: %w", err)
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("upload: create gzip reader: %w", err)
	}
	defer gz.Close()

	tmpPath := path + ".decompressing"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("upload: create temp output: %w", err)
	}

	writer := bufio.NewWriterSize(out, decompressBufSize)
	buf := make([]byte, decompressBufSize)

	var written int64
	publish := progress.Throttle(func(j *models.UploadJob) { h.bcst.Publish(j) }, 100*time.Millisecond)

	for {
		n, rerr := gz.Read(buf)
		if n > 0 {
			if _, werr := writer.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmpPath)
				return nil, fmt.Errorf("upload: write decompressed data: %w", werr)
			}
			written += int64(n)

			pct := 0.0
			if job.OriginalSize > 0 {
				pct = float64(written) / float64(job.OriginalSize) * 100
			}
			snap := m.snapshotWith(h, func(j *models.UploadJob) {
				j.StageProgress = pct
				j.OverallProgress = decompressWeightLow + pct/100*(decompressWeightHigh-decompressWeightLow)
			})
			publish(snap)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(tmpPath)
			return nil, fmt.Errorf("upload: decompress: %w", rerr)
		}
	}

	if err := writer.Flush(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("upload: flush decompressed data: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("upload: close temp output: %w", err)
	}

	if written != job.OriginalSize {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("upload: decompressed size mismatch: got %d want %d", written, job.OriginalSize)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("upload: rename decompressed file: %w", err)
	}

	if err := m.store.SetStatus(info.ID, models.FileStatusUploaded, written); err != nil {
		return nil, fmt.Errorf("upload: update file size: %w", err)
	}

	updated := *info
	updated.SizeBytes = written
	return &updated, nil
}

func (m *Manager) update(h *jobHandle, mutate func(*models.UploadJob)) {
	h.mu.Lock()
	mutate(h.job)
	snap := h.job.Clone()
	h.mu.Unlock()
	h.bcst.Publish(snap)
}

func (m *Manager) snapshotWith(h *jobHandle, mutate func(*models.UploadJob)) *models.UploadJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	mutate(h.job)
	return h.job.Clone()
}

func (m *Manager) complete(h *jobHandle, info *models.FileInfo) {
	m.update(h, func(j *models.UploadJob) {
		j.Stage = models.StageComplete
		j.StageProgress = 100
		j.OverallProgress = 100
		j.FileInfo = info
	})
	m.logger.Log("info", fmt.Sprintf("upload job %s complete for file %s", h.job.JobID, info.ID))
}

func (m *Manager) fail(h *jobHandle, reason string) {
	m.update(h, func(j *models.UploadJob) {
		j.Stage = models.StageError
		j.Error = reason
	})
	m.logger.Log("error", fmt.Sprintf("upload job %s failed: %s", h.job.JobID, reason))
}

// ActiveJobCount reports how many jobs the manager currently tracks
// (complete or not); mostly useful for tests and diagnostics.
func (m *Manager) ActiveJobCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}
