package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"promptapi/pkg/ai"
	"promptapi/pkg/storage"
	"promptapi/pkg/store"
)

const (
	defaultMaxUploadBytes = 5 << 20
	defaultMaxUploadFiles = 10
)

// Config holds the collaborators and limits the application runs with.
// Everything is constructed by the caller and handed in explicitly.
type Config struct {
	Store     store.Store
	Tokens    *store.TokenManager
	Images    storage.ImageHost
	Generator ai.ImageGenerator
	Logger    *slog.Logger

	GenerationDelay     time.Duration
	GenerationWorkers   int
	GenerationQueueSize int

	MaxUploadBytes int64
	MaxUploadFiles int
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store     store.Store
	tokens    *store.TokenManager
	images    storage.ImageHost
	lifecycle *Lifecycle
	logger    *slog.Logger
	// background tracks best-effort work started by requests.
	background sync.WaitGroup

	maxUploadBytes int64
	maxUploadFiles int
	now            func() time.Time
}

// New validates cfg and starts the generation workers.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager required")
	}
	if cfg.Images == nil {
		return nil, errors.New("image host required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("image generator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	maxFiles := cfg.MaxUploadFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxUploadFiles
	}
	return &App{
		store:  cfg.Store,
		tokens: cfg.Tokens,
		images: cfg.Images,
		lifecycle: NewLifecycle(LifecycleConfig{
			Store:     cfg.Store,
			Images:    cfg.Images,
			Generator: cfg.Generator,
			Logger:    logger,
			Delay:     cfg.GenerationDelay,
			Workers:   cfg.GenerationWorkers,
			QueueSize: cfg.GenerationQueueSize,
		}),
		logger:         logger,
		maxUploadBytes: maxBytes,
		maxUploadFiles: maxFiles,
		now:            time.Now,
	}, nil
}

// MaxUploadBytes is the per-file upload limit.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// MaxUploadFiles is the file count limit for multi-upload.
func (a *App) MaxUploadFiles() int { return a.maxUploadFiles }

// Ping checks the backing store.
func (a *App) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Close stops generation work and waits for background cleanup.
// The store is owned by the caller.
func (a *App) Close() {
	a.lifecycle.Close()
	a.background.Wait()
}
