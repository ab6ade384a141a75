package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"promptapi/internal/util"
	"promptapi/pkg/ai"
	"promptapi/pkg/domain"
	"promptapi/pkg/store"
)

const (
	defaultImageCount = 1
	maxImageCount     = 4
	defaultImageSize  = "1024x1024"

	DefaultPromptPageSize      = 20
	DefaultAdminPromptPageSize = 50
	maxPromptPageSize          = 100
)

// SubmitPromptInput is an anonymous generation request.
type SubmitPromptInput struct {
	PromptText string
	CategoryID string
	ImageIDs   []string
	Count      int
	Size       string
}

// AdminPromptInput is an admin's direct prompt creation.
type AdminPromptInput struct {
	PromptText string
	CategoryID string
	Status     string
	ImageIDs   []string
	ImageURLs  []string
}

// PromptQuery filters and pages prompt listings. Page is 1-based.
type PromptQuery struct {
	CategoryID string
	Status     string
	Page       int
	Limit      int
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// SubmitPrompt records an anonymous prompt. With image references it is done
// immediately; without any it is queued and handed to the lifecycle, whose
// handle is returned.
func (a *App) SubmitPrompt(ctx context.Context, user domain.AnonUser, in SubmitPromptInput) (domain.PromptView, *GenerationHandle, error) {
	text := strings.TrimSpace(in.PromptText)
	if text == "" {
		return domain.PromptView{}, nil, ErrPromptTextRequired
	}
	count := in.Count
	if count == 0 {
		count = defaultImageCount
	}
	if count < 1 || count > maxImageCount {
		return domain.PromptView{}, nil, ErrInvalidCount
	}
	size := strings.TrimSpace(in.Size)
	if size == "" {
		size = defaultImageSize
	}
	if !validImageSize(size) {
		return domain.PromptView{}, nil, ErrInvalidSize
	}
	if err := a.checkCategory(ctx, in.CategoryID); err != nil {
		return domain.PromptView{}, nil, err
	}
	if err := a.checkImages(ctx, in.ImageIDs); err != nil {
		return domain.PromptView{}, nil, err
	}

	status := domain.StatusQueued
	if len(in.ImageIDs) > 0 {
		status = domain.StatusDone
	}
	now := a.now().UTC()
	prompt := domain.Prompt{
		ID:         util.NewID(),
		PromptText: text,
		CategoryID: strings.TrimSpace(in.CategoryID),
		ImageIDs:   append([]string{}, in.ImageIDs...),
		Status:     status,
		CreatedBy:  user.TokenID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.createPrompt(ctx, prompt); err != nil {
		return domain.PromptView{}, nil, err
	}
	handle := a.scheduleGeneration(ctx, &prompt, ai.ImageRequest{Count: count, Size: size})
	view, err := a.promptView(ctx, prompt)
	if err != nil {
		return domain.PromptView{}, nil, err
	}
	return view, handle, nil
}

// CreatePromptAsAdmin records a prompt with an explicit status (default done).
// imageUrls become new image records; a queued prompt without images is
// handed to the lifecycle like an anonymous submission. generating is owned by
// the lifecycle and is refused, as is queued with images, since neither would
// ever reach done or failed.
func (a *App) CreatePromptAsAdmin(ctx context.Context, admin domain.Admin, in AdminPromptInput) (domain.PromptView, *GenerationHandle, error) {
	text := strings.TrimSpace(in.PromptText)
	if text == "" {
		return domain.PromptView{}, nil, ErrPromptTextRequired
	}
	if err := a.checkCategory(ctx, in.CategoryID); err != nil {
		return domain.PromptView{}, nil, err
	}
	status := domain.StatusDone
	if s := strings.TrimSpace(in.Status); s != "" {
		status = domain.PromptStatus(s)
		if !status.Valid() {
			return domain.PromptView{}, nil, ErrInvalidStatus
		}
	}
	switch {
	case status == domain.StatusGenerating:
		return domain.PromptView{}, nil, ErrGeneratingStatus
	case status == domain.StatusQueued && len(in.ImageIDs)+len(in.ImageURLs) > 0:
		return domain.PromptView{}, nil, ErrQueuedWithImages
	}
	for _, raw := range in.ImageURLs {
		if !validImageURL(raw) {
			return domain.PromptView{}, nil, ErrInvalidImageURL
		}
	}
	if err := a.checkImages(ctx, in.ImageIDs); err != nil {
		return domain.PromptView{}, nil, err
	}

	imageIDs := append([]string{}, in.ImageIDs...)
	for _, raw := range in.ImageURLs {
		img := domain.Image{
			ID:        util.NewID(),
			URL:       strings.TrimSpace(raw),
			StorageID: adminUploadStorageID(a.now()),
			CreatedAt: a.now().UTC(),
		}
		if err := a.store.CreateImage(ctx, img); err != nil {
			return domain.PromptView{}, nil, fmt.Errorf("create image: %w", err)
		}
		imageIDs = append(imageIDs, img.ID)
	}

	now := a.now().UTC()
	prompt := domain.Prompt{
		ID:         util.NewID(),
		PromptText: text,
		CategoryID: strings.TrimSpace(in.CategoryID),
		ImageIDs:   imageIDs,
		Status:     status,
		CreatedBy:  domain.AdminCreator(admin.ID),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.createPrompt(ctx, prompt); err != nil {
		return domain.PromptView{}, nil, err
	}
	handle := a.scheduleGeneration(ctx, &prompt, ai.ImageRequest{Count: defaultImageCount, Size: defaultImageSize})
	view, err := a.promptView(ctx, prompt)
	if err != nil {
		return domain.PromptView{}, nil, err
	}
	return view, handle, nil
}

// createPrompt inserts p. The store re-checks the category under a lock, so a
// concurrent delete surfaces here as ErrCategoryNotFound.
func (a *App) createPrompt(ctx context.Context, p domain.Prompt) error {
	if err := a.store.CreatePrompt(ctx, p); err != nil {
		if errors.Is(err, store.ErrCategoryMissing) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("create prompt: %w", err)
	}
	return nil
}

// scheduleGeneration submits queued prompts without images. When scheduling
// fails the lifecycle has already failed the prompt and p is reloaded.
func (a *App) scheduleGeneration(ctx context.Context, p *domain.Prompt, req ai.ImageRequest) *GenerationHandle {
	if p.Status != domain.StatusQueued || len(p.ImageIDs) > 0 {
		return nil
	}
	handle, err := a.lifecycle.Submit(ctx, *p, req)
	if err == nil {
		return handle
	}
	if current, ok, getErr := a.store.GetPrompt(ctx, p.ID); getErr == nil && ok {
		*p = current
	}
	return nil
}

// GetPrompt returns one prompt with its category and images.
func (a *App) GetPrompt(ctx context.Context, id string) (domain.PromptView, error) {
	p, ok, err := a.store.GetPrompt(ctx, id)
	if err != nil {
		return domain.PromptView{}, fmt.Errorf("get prompt: %w", err)
	}
	if !ok {
		return domain.PromptView{}, ErrPromptNotFound
	}
	return a.promptView(ctx, p)
}

// ListPrompts returns a newest-first page. defaultLimit applies when q.Limit is unset.
func (a *App) ListPrompts(ctx context.Context, q PromptQuery, defaultLimit int) ([]domain.PromptView, Pagination, error) {
	status := domain.PromptStatus(strings.TrimSpace(q.Status))
	if status != "" && !status.Valid() {
		return nil, Pagination{}, ErrInvalidStatus
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPromptPageSize {
		limit = maxPromptPageSize
	}
	prompts, total, err := a.store.ListPrompts(ctx, domain.PromptFilter{
		CategoryID: strings.TrimSpace(q.CategoryID),
		Status:     status,
		Offset:     (page - 1) * limit,
		Limit:      limit,
	})
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list prompts: %w", err)
	}
	views, err := a.promptViews(ctx, prompts)
	if err != nil {
		return nil, Pagination{}, err
	}
	return views, Pagination{
		Page:  page,
		Limit: limit,
		Total: total,
		Pages: (total + int64(limit) - 1) / int64(limit),
	}, nil
}

// DeletePrompt removes a prompt. Its images and favorites are left in place.
func (a *App) DeletePrompt(ctx context.Context, id string) error {
	ok, err := a.store.DeletePrompt(ctx, id)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if !ok {
		return ErrPromptNotFound
	}
	return nil
}

func (a *App) checkCategory(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	_, ok, err := a.store.GetCategory(ctx, id)
	if err != nil {
		return fmt.Errorf("get category: %w", err)
	}
	if !ok {
		return ErrCategoryNotFound
	}
	return nil
}

// checkImages requires every id to resolve once; a miss or a repeat fails the
// whole set.
func (a *App) checkImages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return ErrInvalidImageReference
		}
		if _, dup := seen[id]; dup {
			return ErrInvalidImageReference
		}
		seen[id] = struct{}{}
	}
	found, err := a.store.GetImages(ctx, ids)
	if err != nil {
		return fmt.Errorf("get images: %w", err)
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return ErrInvalidImageReference
		}
	}
	return nil
}

func validImageSize(size string) bool {
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return false
	}
	for _, part := range []string{w, h} {
		n, err := strconv.Atoi(part)
		if err != nil || n < 64 || n > 4096 {
			return false
		}
	}
	return true
}

func validImageURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// adminUploadStorageID names images registered by URL, which have no object
// in the image host.
func adminUploadStorageID(now time.Time) string {
	return fmt.Sprintf("admin-upload-%d-%s", now.UnixMilli(), util.RandomBase36(9))
}
