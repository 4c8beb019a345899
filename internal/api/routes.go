// routes.go - Route registration helpers
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/print-resume/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr SessionManager
	Index      LayerIndexStore
	UploadMgr  UploadJobs
	Policy     FilePolicy
	Version    string
	// WSMaxMessageSize limits client WebSocket messages in bytes.
	WSMaxMessageSize int64
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Files     FileHandler
	Layers    LayerHandler
	Resume    ResumeHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version),
		Files:     NewFileHandler(deps.Store, deps.Index, deps.UploadMgr, deps.Policy),
		Layers:    NewLayerHandler(deps.Store, deps.Index, deps.SessionMgr),
		Resume:    NewResumeHandler(deps.Store, deps.SessionMgr),
		WebSocket: NewWebSocketHandler(deps.SessionMgr, deps.WSMaxMessageSize),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)
	apiGroup.GET("/ws/sessions", handlers.WebSocket.HandleSessions)

	// File management
	files := apiGroup.Group("/files")
	files.POST("/upload", handlers.Files.HandleUploadFile)
	files.POST("/upload/binary", handlers.Files.HandleUploadBinary)
	files.POST("/upload/chunk", handlers.Files.HandleUploadChunk)
	files.POST("/upload/complete", handlers.Files.HandleCompleteUpload)
	files.GET("/upload/:jobId/status", handlers.Files.HandleUploadJobStatus)
	files.GET("/upload/:jobId/stream", handlers.Files.HandleUploadJobStream)
	files.GET("/recent", handlers.Files.HandleGetRecentFiles)
	files.GET("/:id", handlers.Files.HandleGetFile)
	files.DELETE("/:id", handlers.Files.HandleDeleteFile)
	files.PUT("/:id", handlers.Files.HandleRenameFile)

	// Scan results
	files.GET("/:id/layers", handlers.Layers.HandleGetLayers)
	files.GET("/:id/layers/msgpack", handlers.Layers.HandleGetLayersMsgpack)
	files.GET("/:id/temperatures", handlers.Layers.HandleGetTemperatures)

	// Resume sessions
	resumeGroup := apiGroup.Group("/resume")
	resumeGroup.POST("", handlers.Resume.HandleStartResume)
	resumeGroup.GET("/macro", handlers.Resume.HandleMacro)
	resumeGroup.GET("/:sessionId/status", handlers.Resume.HandleResumeStatus)
	resumeGroup.GET("/:sessionId/progress", handlers.Resume.HandleResumeProgressStream)
	resumeGroup.GET("/:sessionId/download", handlers.Resume.HandleDownload)
	resumeGroup.GET("/:sessionId/instructions", handlers.Resume.HandleInstructions)
}

// MiddlewareConfig selects the common middleware.
type MiddlewareConfig struct {
	RequestLogging bool
	BodyLimit      string
	RequestTimeout time.Duration
	EnableCORS     bool
	AllowOrigins   []string
	// ExposeErrorDetails adds the message of unexpected errors to responses.
	ExposeErrorDetails bool
}

// isStreaming reports requests that hold the connection open.
func isStreaming(c echo.Context) bool {
	path := c.Request().URL.Path
	return strings.HasSuffix(path, "/progress") ||
		strings.HasSuffix(path, "/stream") ||
		strings.HasPrefix(path, "/api/ws/") ||
		c.Request().Header.Get("Accept") == "text/event-stream"
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	exposeErrorDetails = cfg.ExposeErrorDetails
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.HasSuffix(path, "/progress") ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				return isStreaming(c) || strings.Contains(c.Request().URL.Path, "/upload")
			},
			ErrorMessage: "Request timeout",
		}))
	}

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level:   5,
		Skipper: isStreaming,
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
