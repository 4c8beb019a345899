// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/print-resume/backend/internal/config"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/resume"
	"github.com/print-resume/backend/internal/upload"
)

// FileHandler handles file upload and management operations
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleUploadBinary(c echo.Context) error
	HandleUploadJobStatus(c echo.Context) error
	HandleUploadJobStream(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
}

// LayerHandler serves what a file's scan found
type LayerHandler interface {
	HandleGetLayers(c echo.Context) error
	HandleGetLayersMsgpack(c echo.Context) error
	HandleGetTemperatures(c echo.Context) error
}

// ResumeHandler handles resume session operations
type ResumeHandler interface {
	HandleStartResume(c echo.Context) error
	HandleResumeStatus(c echo.Context) error
	HandleResumeProgressStream(c echo.Context) error
	HandleDownload(c echo.Context) error
	HandleInstructions(c echo.Context) error
	HandleMacro(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for resume session management
// This allows mocking in tests
type SessionManager interface {
	StartSession(fileID string, cfg models.ResumeConfig) (*models.ResumeSession, error)
	GetSession(id string) (*models.ResumeSession, bool)
	GetResult(id string) (*resume.Result, string, bool)
	TouchSession(id string) bool
	Defaults() config.ResumeDefaults
}

// LayerIndexStore is the persisted layer index used by the layer endpoints
type LayerIndexStore interface {
	Ensure(ctx context.Context, fileID, path string) (*models.LayerIndex, error)
	FirstMarkerAtOrAbove(ctx context.Context, fileID string, threshold float64) (*models.LayerMarker, bool, error)
	Delete(fileID string) error
}

// UploadJobs tracks background assembly of chunked uploads
type UploadJobs interface {
	StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *upload.Job
	GetJob(id string) (*upload.Job, bool)
}
