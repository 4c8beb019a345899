package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/print-resume/backend/internal/gcode"
	"github.com/print-resume/backend/internal/layerstore"
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
)

var indexLog = logging.New("IndexStore")

// IndexStore manages persistent DuckDB layer indexes for uploaded files.
// Instead of rescanning a file every time its layers are requested, the scan
// result is stored in a DuckDB file keyed by the file ID.
type IndexStore struct {
	dir  string
	opts layerstore.Options

	// mu serializes DuckDB access; a database file is opened by one store at a time.
	mu sync.Mutex
	// cache tracks which file IDs have an index (fileID -> dbPath)
	cache map[string]string
}

// NewIndexStore creates an index store in dir and picks up indexes left by a
// previous run.
func NewIndexStore(dir string, opts layerstore.Options) (*IndexStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	s := &IndexStore{
		dir:   dir,
		opts:  opts,
		cache: make(map[string]string),
	}
	s.scanExisting()
	return s, nil
}

// scanExisting looks for files matching file_<id>.duckdb.
func (s *IndexStore) scanExisting() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		indexLog.Warnf("failed to scan index directory: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "file_") || filepath.Ext(name) != ".duckdb" {
			continue
		}
		fileID := strings.TrimSuffix(strings.TrimPrefix(name, "file_"), ".duckdb")
		s.cache[fileID] = filepath.Join(s.dir, name)
	}

	indexLog.Infof("found %d existing layer indexes", len(s.cache))
}

// GetDBPath returns the path where the index of a file is stored.
func (s *IndexStore) GetDBPath(fileID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("file_%s.duckdb", fileID))
}

// Has reports whether a file has a stored index.
func (s *IndexStore) Has(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocked(fileID)
}

func (s *IndexStore) hasLocked(fileID string) bool {
	path, ok := s.cache[fileID]
	if !ok {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		delete(s.cache, fileID)
		return false
	}
	return true
}

// Get returns the stored index of a file, or nil if there is none.
func (s *IndexStore) Get(ctx context.Context, fileID string) (*models.LayerIndex, error) {
	var idx *models.LayerIndex
	err := s.withStore(fileID, func(ds *layerstore.DuckStore) error {
		var err error
		idx, err = ds.Index(ctx)
		return err
	})
	return idx, err
}

// Put stores idx, replacing an existing index for the same file.
func (s *IndexStore) Put(ctx context.Context, idx *models.LayerIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.GetDBPath(idx.FileID)
	ds, err := layerstore.Create(path, s.opts)
	if err != nil {
		return fmt.Errorf("failed to create layer index: %w", err)
	}
	err = ds.Write(ctx, idx)
	if cerr := ds.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write layer index: %w", err)
	}

	s.cache[idx.FileID] = path
	indexLog.Debugf("stored index for file %s: %d markers", logging.ShortID(idx.FileID), len(idx.Markers))
	return nil
}

// Ensure returns the index of a file, scanning the G-code at path first if
// no index is stored yet.
func (s *IndexStore) Ensure(ctx context.Context, fileID, path string) (*models.LayerIndex, error) {
	idx, err := s.Get(ctx, fileID)
	if err != nil {
		indexLog.Warnf("discarding unreadable index for file %s: %v", logging.ShortID(fileID), err)
	}
	if idx != nil {
		return idx, nil
	}

	doc, err := gcode.LoadDocument(path)
	if err != nil {
		return nil, err
	}
	idx = BuildIndex(fileID, doc)
	if err := s.Put(ctx, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// FirstMarkerAtOrAbove queries the stored index of a file for the first
// height marker at or above threshold. ok is false when no marker qualifies
// or the file has no index.
func (s *IndexStore) FirstMarkerAtOrAbove(ctx context.Context, fileID string, threshold float64) (m *models.LayerMarker, ok bool, err error) {
	err = s.withStore(fileID, func(ds *layerstore.DuckStore) error {
		m, err = ds.FirstMarkerAtOrAbove(ctx, threshold)
		return err
	})
	return m, m != nil, err
}

// withStore opens the index of fileID and runs fn. fn is not called when
// the file has no index.
func (s *IndexStore) withStore(fileID string, fn func(ds *layerstore.DuckStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLocked(fileID) {
		return nil
	}
	ds, err := layerstore.Open(s.cache[fileID], s.opts)
	if err != nil {
		return fmt.Errorf("failed to open layer index: %w", err)
	}
	defer ds.Close()
	return fn(ds)
}

// Delete removes the index of a file (call when the file itself is deleted).
func (s *IndexStore) Delete(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, fileID)
	if err := os.Remove(s.GetDBPath(fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete layer index: %w", err)
	}
	return nil
}

// List returns all file IDs that have an index.
func (s *IndexStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns statistics about the index store.
func (s *IndexStore) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totalSize int64
	for fileID, path := range s.cache {
		if info, err := os.Stat(path); err == nil {
			totalSize += info.Size()
		} else {
			delete(s.cache, fileID)
		}
	}

	return map[string]interface{}{
		"indexCount": len(s.cache),
		"totalSize":  totalSize,
		"indexDir":   s.dir,
	}
}

// CleanupOrphaned removes indexes whose files no longer exist.
func (s *IndexStore) CleanupOrphaned(fileIDs []string) int {
	valid := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		valid[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fileID, path := range s.cache {
		if !valid[fileID] {
			os.Remove(path)
			delete(s.cache, fileID)
			removed++
		}
	}
	if removed > 0 {
		indexLog.Infof("removed %d orphaned layer indexes", removed)
	}
	return removed
}

// BuildIndex scans doc into a LayerIndex.
func BuildIndex(fileID string, doc *gcode.Document) *models.LayerIndex {
	return &models.LayerIndex{
		FileID:  fileID,
		Lines:   doc.Len(),
		Markers: gcode.ScanMarkers(doc),
		Motion:  gcode.ScanMotion(doc),
	}
}
