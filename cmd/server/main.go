package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/print-resume/backend/internal/api"
	"github.com/print-resume/backend/internal/config"
	"github.com/print-resume/backend/internal/layerstore"
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/session"
	"github.com/print-resume/backend/internal/storage"
	"github.com/print-resume/backend/internal/upload"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var log = logging.New("Server")

func configPath() (string, error) {
	if p := os.Getenv("CONFIG"); p != "" {
		return p, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exePath), "print-resume.yaml"), nil
}

func main() {
	path, err := configPath()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lvl, err := logging.ParseLevel(cfg.Advanced.LogLevel)
	if err != nil {
		fmt.Printf("Warning: %v, using info\n", err)
	}
	logging.SetLevel(lvl)

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	index, err := session.NewIndexStore(cfg.Storage.ParsedDirectory, layerstore.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	})
	if err != nil {
		fmt.Printf("Failed to initialize layer index: %v\n", err)
		os.Exit(1)
	}
	// Uploads do not survive a restart, so neither do their indexes.
	if n := index.CleanupOrphaned(nil); n > 0 {
		log.Infof("removed %d stale layer indexes", n)
	}

	defaults := cfg.Resume
	profilePath := cfg.DefaultProfilePath()
	if profile, err := config.ParsePrinterProfileFile(profilePath); err == nil {
		defaults = profile.Apply(defaults)
		log.Infof("using printer profile %q", profile.Name)
	} else if !os.IsNotExist(err) {
		log.Warnf("ignoring printer profile %s: %v", profilePath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionMgr := session.NewManager(fileStore, session.Options{
		MaxSessions: cfg.Processing.MaxSessions,
		Resume:      defaults,
		Index:       index,
	})
	interval := time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute
	maxAge := time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute
	sessionMgr.StartCleanup(ctx, interval, maxAge)

	// Index every assembled upload so the first layer query is fast.
	uploadMgr := upload.NewManager(fileStore, func(info *models.FileInfo) {
		go func() {
			p, err := fileStore.GetFilePath(info.ID)
			if err != nil {
				return
			}
			if _, err := index.Ensure(ctx, info.ID, p); err != nil {
				log.Warnf("failed to index %s: %v", logging.ShortID(info.ID), err)
			}
		}()
	})
	go func() {
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				uploadMgr.CleanupOldJobs(maxAge)
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true

	origins := []string{}
	for _, o := range strings.Split(cfg.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	api.SetupMiddleware(e, api.MiddlewareConfig{
		RequestLogging:     cfg.Advanced.EnableRequestLogging,
		BodyLimit:          cfg.Server.BodyLimit,
		RequestTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		EnableCORS:         cfg.Server.EnableCORS,
		AllowOrigins:       origins,
		ExposeErrorDetails: cfg.Advanced.LogLevel == "debug",
	})

	handlers := api.NewHandlers(&api.Dependencies{
		Store:      fileStore,
		SessionMgr: sessionMgr,
		Index:      index,
		UploadMgr:  uploadMgr,
		Policy: api.FilePolicy{
			AllowDeletion: cfg.Security.AllowFileDeletion,
			AllowedTypes:  api.ParseAllowedTypes(cfg.Security.AllowedFileTypes),
		},
		Version:          Version,
		WSMaxMessageSize: int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024,
	})
	api.RegisterRoutes(e, handlers)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Print Resume Server                             ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", path)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}
