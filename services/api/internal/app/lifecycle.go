package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"promptapi/internal/util"
	"promptapi/pkg/ai"
	"promptapi/pkg/domain"
	"promptapi/pkg/queue"
	"promptapi/pkg/storage"
	"promptapi/pkg/store"
)

const (
	defaultGenerationDelay   = time.Second
	defaultGenerationWorkers = 4
	finalWriteTimeout        = 5 * time.Second
)

// LifecycleConfig wires the generation pipeline.
type LifecycleConfig struct {
	Store     store.Store
	Images    storage.ImageHost
	Generator ai.ImageGenerator
	Logger    *slog.Logger
	// Delay holds each generation back after the prompt is created.
	// Negative disables the delay; zero uses one second.
	Delay     time.Duration
	Workers   int
	QueueSize int
}

// Lifecycle moves queued prompts through generating to done or failed.
// Every status write is conditional on the current status.
type Lifecycle struct {
	store     store.Store
	images    storage.ImageHost
	generator ai.ImageGenerator
	logger    *slog.Logger
	queue     *queue.WorkQueue
}

// GenerationHandle lets callers await one generation task.
type GenerationHandle struct {
	PromptID string
	handle   *queue.Handle
}

// Done is closed when the task has finished.
func (g *GenerationHandle) Done() <-chan struct{} { return g.handle.Done() }

// Wait blocks until the task finishes or ctx ends.
func (g *GenerationHandle) Wait(ctx context.Context) error { return g.handle.Wait(ctx) }

// Status reports the task state: queued, processing, done, failed or canceled.
func (g *GenerationHandle) Status() string { return g.handle.Status() }

// NewLifecycle starts the worker pool.
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	delay := cfg.Delay
	switch {
	case delay == 0:
		delay = defaultGenerationDelay
	case delay < 0:
		delay = 0
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultGenerationWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:     cfg.Store,
		images:    cfg.Images,
		generator: cfg.Generator,
		logger:    logger.With("component", "lifecycle"),
		queue:     queue.New(queue.Config{Workers: workers, Size: cfg.QueueSize, Delay: delay}),
	}
}

// Submit schedules generation for a queued prompt and returns immediately.
// When the task cannot be scheduled the prompt is failed right away and the
// scheduling error is returned.
func (l *Lifecycle) Submit(ctx context.Context, prompt domain.Prompt, req ai.ImageRequest) (*GenerationHandle, error) {
	logger := l.logger.With("prompt_id", prompt.ID)
	if requestID := util.RequestIDFromContext(ctx); requestID != "" {
		logger = logger.With("request_id", requestID)
	}
	req.Prompt = prompt.PromptText
	h, err := l.queue.Submit(prompt.ID, func(taskCtx context.Context) error {
		return l.generate(taskCtx, logger, prompt.ID, req)
	})
	if err != nil {
		logger.Error("generation not scheduled", "err", err)
		l.failUnscheduled(ctx, logger, prompt.ID)
		return nil, fmt.Errorf("schedule generation: %w", err)
	}
	logger.Debug("generation scheduled")
	return &GenerationHandle{PromptID: prompt.ID, handle: h}, nil
}

// Close cancels pending and running generations and waits for the workers.
func (l *Lifecycle) Close() {
	l.queue.Close()
}

func (l *Lifecycle) generate(ctx context.Context, logger *slog.Logger, promptID string, req ai.ImageRequest) error {
	ok, err := l.store.TransitionPrompt(ctx, promptID, domain.StatusQueued, domain.StatusGenerating, nil)
	if err != nil {
		return fmt.Errorf("mark generating: %w", err)
	}
	if !ok {
		logger.Warn("prompt no longer queued, skipping generation")
		return nil
	}
	logger.Info("generation started")

	imageIDs, genErr := l.produceImages(ctx, logger, req)

	// The final write must land even when shutdown canceled ctx.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if genErr != nil {
		ok, err := l.store.TransitionPrompt(writeCtx, promptID, domain.StatusGenerating, domain.StatusFailed, nil)
		if err != nil {
			return fmt.Errorf("mark failed: %w", errors.Join(genErr, err))
		}
		if !ok {
			logger.Warn("prompt left generating before failure was recorded")
		}
		logger.Error("generation failed", "err", genErr)
		return genErr
	}
	ok, err = l.store.TransitionPrompt(writeCtx, promptID, domain.StatusGenerating, domain.StatusDone, imageIDs)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if !ok {
		logger.Warn("prompt left generating before completion was recorded", "images", len(imageIDs))
		return nil
	}
	logger.Info("generation finished", "images", len(imageIDs))
	return nil
}

// produceImages calls the generator and records every output. On error the
// images already stored for this run are removed again.
func (l *Lifecycle) produceImages(ctx context.Context, logger *slog.Logger, req ai.ImageRequest) ([]string, error) {
	outputs, err := l.generator.GenerateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate images: %w", err)
	}
	created := make([]domain.Image, 0, len(outputs))
	for i, out := range outputs {
		img, err := l.storeOutput(ctx, out)
		if err != nil {
			l.discard(ctx, logger, created)
			return nil, fmt.Errorf("store image %d: %w", i+1, err)
		}
		created = append(created, img)
	}
	ids := make([]string, 0, len(created))
	for _, img := range created {
		ids = append(ids, img.ID)
	}
	return ids, nil
}

func (l *Lifecycle) storeOutput(ctx context.Context, out ai.GeneratedImage) (domain.Image, error) {
	hosted, err := l.images.Upload(ctx, storage.Upload{
		Folder:      storage.GeneratedFolder,
		ContentType: out.ContentType,
		Size:        int64(len(out.Data)),
		Body:        bytes.NewReader(out.Data),
	})
	if err != nil {
		return domain.Image{}, err
	}
	img := domain.Image{
		ID:        util.NewID(),
		URL:       hosted.URL,
		StorageID: hosted.StorageID,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.CreateImage(ctx, img); err != nil {
		_ = l.images.Delete(context.WithoutCancel(ctx), hosted.StorageID)
		return domain.Image{}, err
	}
	return img, nil
}

func (l *Lifecycle) discard(ctx context.Context, logger *slog.Logger, images []domain.Image) {
	ctx = context.WithoutCancel(ctx)
	for _, img := range images {
		if err := l.images.Delete(ctx, img.StorageID); err != nil {
			logger.Warn("discard generated image from host failed", "image_id", img.ID, "err", err)
		}
		if _, err := l.store.DeleteImage(ctx, img.ID); err != nil {
			logger.Warn("discard generated image record failed", "image_id", img.ID, "err", err)
		}
	}
}

func (l *Lifecycle) failUnscheduled(ctx context.Context, logger *slog.Logger, promptID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	for _, step := range [][2]domain.PromptStatus{
		{domain.StatusQueued, domain.StatusGenerating},
		{domain.StatusGenerating, domain.StatusFailed},
	} {
		if _, err := l.store.TransitionPrompt(ctx, promptID, step[0], step[1], nil); err != nil {
			logger.Error("mark unscheduled prompt failed", "err", err)
			return
		}
	}
}
