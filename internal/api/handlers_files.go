// handlers_files.go - File upload and management handlers
package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/storage"
	"github.com/print-resume/backend/internal/upload"
)

var apiLog = logging.New("API")

// FilePolicy restricts what clients may do with stored files.
type FilePolicy struct {
	AllowDeletion bool
	// AllowedTypes lists accepted file extensions; empty accepts any.
	AllowedTypes []string
}

// ParseAllowedTypes splits a comma-separated extension list.
func ParseAllowedTypes(list string) []string {
	var types []string
	for _, t := range strings.Split(list, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}
		types = append(types, t)
	}
	return types
}

func (p FilePolicy) allows(name string) bool {
	if len(p.AllowedTypes) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, t := range p.AllowedTypes {
		if ext == t {
			return true
		}
	}
	return false
}

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store   storage.Store
	index   LayerIndexStore
	uploads UploadJobs
	policy  FilePolicy
}

// NewFileHandler creates a new file handler instance. index and uploads may be nil.
func NewFileHandler(store storage.Store, index LayerIndexStore, uploads UploadJobs, policy FilePolicy) FileHandler {
	return &FileHandlerImpl{
		store:   store,
		index:   index,
		uploads: uploads,
		policy:  policy,
	}
}

// HandleUploadFile accepts a file as base64 JSON and saves it to storage
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	var req uploadFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}
	if !h.policy.allows(req.Name) {
		return unsupportedType(req.Name)
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	info, err := h.store.Save(req.Name, bytes.NewReader(decoded))
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleUploadChunk accepts a single chunk of a chunked upload
func (h *FileHandlerImpl) HandleUploadChunk(c echo.Context) error {
	var req uploadChunkRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	if err := h.store.SaveChunk(req.UploadID, req.ChunkIndex, bytes.NewReader(decoded)); err != nil {
		return NewInternalError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload completes a chunked upload and starts async processing
func (h *FileHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	if h.uploads == nil {
		return NewServiceUnavailableError("chunked uploads are not available")
	}

	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}
	if !h.policy.allows(req.Name) {
		return unsupportedType(req.Name)
	}

	job := h.uploads.StartJob(
		req.UploadID,
		req.Name,
		req.TotalChunks,
		req.OriginalSize,
		req.CompressedSize,
		req.Encoding,
	)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

// HandleUploadBinary accepts raw binary file upload (multipart/form-data)
func (h *FileHandlerImpl) HandleUploadBinary(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	if !h.policy.allows(file.Filename) {
		return unsupportedType(file.Filename)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleUploadJobStatus returns the state of an upload job
func (h *FileHandlerImpl) HandleUploadJobStatus(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}
	if h.uploads == nil {
		return NewNotFoundError("upload job", id)
	}

	job, ok := h.uploads.GetJob(id)
	if !ok {
		return NewNotFoundError("upload job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleUploadJobStream streams upload job status via SSE
func (h *FileHandlerImpl) HandleUploadJobStream(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}
	if h.uploads == nil {
		return NewNotFoundError("upload job", id)
	}
	if _, ok := h.uploads.GetJob(id); !ok {
		return NewNotFoundError("upload job", id)
	}

	return pollSSE(c, func() (interface{}, string, bool, bool) {
		job, ok := h.uploads.GetJob(id)
		if !ok {
			return nil, "", true, false
		}
		key := fmt.Sprintf("%s/%s/%.1f", job.Status, job.Stage, job.Progress)
		return job, key, job.Done(), true
	})
}

// HandleGetRecentFiles returns recently stored files, newest first.
// ?kind=uploaded or ?kind=generated narrows the list.
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	files, err := h.store.List(0)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}

	files = filterFiles(files, c.QueryParam("kind"))
	if len(files) > 20 {
		files = files[:20]
	}

	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return fromStoreError(err, "file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a file and its layer index
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if !h.policy.AllowDeletion {
		return NewForbiddenError("file deletion is disabled")
	}

	if err := h.store.Delete(id); err != nil {
		return fromStoreError(err, "file", id)
	}

	if h.index != nil {
		if err := h.index.Delete(id); err != nil {
			apiLog.Warnf("failed to delete layer index of %s: %v", logging.ShortID(id), err)
		}
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the name of a file
func (h *FileHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if strings.TrimSpace(req.Name) == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return fromStoreError(err, "file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// Request/Response types

type uploadFileRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type uploadChunkRequest struct {
	UploadID    string `json:"uploadId"`
	ChunkIndex  int    `json:"chunkIndex"`
	Data        string `json:"data"` // Base64-encoded chunk
	TotalChunks int    `json:"totalChunks"`
}

func (r *uploadChunkRequest) validate() error {
	if _, err := uuid.Parse(r.UploadID); err != nil {
		return NewValidationError("uploadId")
	}
	if r.ChunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type completeUploadRequest struct {
	UploadID       string `json:"uploadId"`
	Name           string `json:"name"`
	TotalChunks    int    `json:"totalChunks"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
	Encoding       string `json:"encoding"`
}

func (r *completeUploadRequest) validate() error {
	if _, err := uuid.Parse(r.UploadID); err != nil {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	if r.Encoding != "" && r.Encoding != "none" && !upload.IsGzip(r.Encoding) {
		return NewBadRequestError(fmt.Sprintf("unsupported encoding: %s", r.Encoding), nil)
	}
	return nil
}

type renameFileRequest struct {
	Name string `json:"name"`
}

// Helper functions

func unsupportedType(name string) *APIError {
	return NewBadRequestError(fmt.Sprintf("unsupported file type: %s", filepath.Ext(name)), nil)
}

// filterFiles keeps files of the given kind; an empty kind keeps all.
func filterFiles(files []*models.FileInfo, kind string) []*models.FileInfo {
	if kind == "" {
		return files
	}
	var out []*models.FileInfo
	for _, f := range files {
		if f.Status == kind {
			out = append(out, f)
		}
	}
	return out
}
