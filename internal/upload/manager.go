// Package upload assembles chunked uploads in the background.
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
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// Job represents an async upload processing job.
type Job struct {
	ID             string           `json:"id"`
	UploadID       string           `json:"uploadId"`
	FileName       string           `json:"fileName"`
	TotalChunks    int              `json:"totalChunks"`
	OriginalSize   int64            `json:"originalSize"`
	CompressedSize int64            `json:"compressedSize"`
	Encoding       string           `json:"encoding"`
	Status         Status           `json:"status"`
	Progress       float64          `json:"progress"`
	Stage          string           `json:"stage"`
	StageProgress  float64          `json:"stageProgress"`
	FileInfo       *models.FileInfo `json:"fileInfo,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

// Store defines the interface needed from storage layer.
type Store interface {
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	RegisterFile(info *models.FileInfo)
}

// CompleteFunc is called with every successfully assembled file.
type CompleteFunc func(info *models.FileInfo)

// Manager handles async upload processing.
type Manager struct {
	jobs       map[string]*Job
	mu         sync.RWMutex
	store      Store
	onComplete CompleteFunc
}

// NewManager creates a new upload processing manager. onComplete may be nil.
func NewManager(store Store, onComplete CompleteFunc) *Manager {
	return &Manager{
		jobs:       make(map[string]*Job),
		store:      store,
		onComplete: onComplete,
	}
}

// IsGzip reports whether an encoding names gzip-compressed content.
func IsGzip(encoding string) bool {
	return encoding == "gzip" || encoding == "binary-gzip"
}

// StartJob begins async processing of an upload.
func (m *Manager) StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *Job {
	job := &Job{
		ID:             uuid.New().String(),
		UploadID:       uploadID,
		FileName:       fileName,
		TotalChunks:    totalChunks,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Encoding:       encoding,
		Status:         StatusProcessing,
		Stage:          "preparing",
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	go m.processJob(job)

	return &snapshot
}

// GetJob returns a copy of a job.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

func (m *Manager) processJob(job *Job) {
	logger := logging.New("Upload", job.ID)
	logger.Infof("processing %s (%d chunks)", job.FileName, job.TotalChunks)

	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 0)
	info, err := m.store.CompleteChunkedUpload(job.UploadID, job.FileName, job.TotalChunks)
	if err != nil {
		m.markJobError(job, fmt.Sprintf("failed to assemble chunks: %v", err))
		logger.Error(job.Error)
		return
	}
	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 100)

	if IsGzip(job.Encoding) {
		m.updateJobStatus(job, StatusDecompressing, "decompressing file", 0)

		size, err := m.decompress(job, info.ID)
		if err != nil {
			// A G-code file that fails to decompress is unusable.
			m.markJobError(job, fmt.Sprintf("failed to decompress: %v", err))
			logger.Error(job.Error)
			return
		}
		updated := *info
		updated.Size = size
		m.store.RegisterFile(&updated)
		info = &updated
		logger.Infof("decompressed to %d bytes", size)
	}

	m.markJobComplete(job, info)
	logger.Infof("complete: file %s (%d bytes)", logging.ShortID(info.ID), info.Size)

	if m.onComplete != nil {
		m.onComplete(info)
	}
}

// progressWriter reports bytes written to a job.
type progressWriter struct {
	m     *Manager
	job   *Job
	total int64
	n     int64
	last  time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	if w.total > 0 && time.Since(w.last) > 100*time.Millisecond {
		progress := float64(w.n) / float64(w.total) * 100
		if progress > 99 {
			progress = 99
		}
		w.m.updateJobStatus(w.job, StatusDecompressing, "decompressing file", progress)
		w.last = time.Now()
	}
	return len(p), nil
}

// decompress replaces a stored gzip file with its content and returns the
// new size.
func (m *Manager) decompress(job *Job, fileID string) (int64, error) {
	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	zr, err := gzip.NewReader(bufio.NewReader(in))
	if err != nil {
		return 0, fmt.Errorf("not a gzip file: %w", err)
	}
	defer zr.Close()

	tempPath := path + ".decompressing"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, err
	}

	pw := &progressWriter{m: m, job: job, total: job.OriginalSize, last: time.Now()}
	written, err := io.Copy(io.MultiWriter(out, pw), zr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return 0, err
	}

	if job.OriginalSize > 0 && written != job.OriginalSize {
		os.Remove(tempPath)
		return 0, fmt.Errorf("decompressed size mismatch: got %d bytes, expected %d bytes", written, job.OriginalSize)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, err
	}
	return written, nil
}

// updateJobStatus updates job progress (thread-safe).
func (m *Manager) updateJobStatus(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	job.StageProgress = stageProgress

	// Assembling: 0-40%, Decompressing: 40-90%
	switch status {
	case StatusAssembling:
		job.Progress = stageProgress * 0.4
	case StatusDecompressing:
		job.Progress = 40 + stageProgress*0.5
	}
}

func (m *Manager) markJobComplete(job *Job, info *models.FileInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	job.Stage = "complete"
	job.Progress = 100
	job.FileInfo = info
	now := time.Now()
	job.CompletedAt = &now
}

func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}
