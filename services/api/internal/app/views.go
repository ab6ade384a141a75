package app

import (
	"context"
	"fmt"

	"promptapi/pkg/domain"
)

// promptViews joins prompts with their category and images. References that
// no longer resolve are left out.
func (a *App) promptViews(ctx context.Context, prompts []domain.Prompt) ([]domain.PromptView, error) {
	imageIDs := make([]string, 0)
	categories := make(map[string]*domain.CategoryRef)
	for _, p := range prompts {
		imageIDs = append(imageIDs, p.ImageIDs...)
		if p.CategoryID != "" {
			categories[p.CategoryID] = nil
		}
	}
	for id := range categories {
		c, ok, err := a.store.GetCategory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load category: %w", err)
		}
		if ok {
			categories[id] = &domain.CategoryRef{ID: c.ID, Name: c.Name, Description: c.Description}
		}
	}
	images := map[string]domain.Image{}
	if len(imageIDs) > 0 {
		var err error
		images, err = a.store.GetImages(ctx, imageIDs)
		if err != nil {
			return nil, fmt.Errorf("load images: %w", err)
		}
	}

	views := make([]domain.PromptView, 0, len(prompts))
	for _, p := range prompts {
		view := domain.PromptView{
			ID:         p.ID,
			PromptText: p.PromptText,
			Category:   categories[p.CategoryID],
			Images:     make([]domain.ImageRef, 0, len(p.ImageIDs)),
			Status:     p.Status,
			CreatedBy:  p.CreatedBy,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.UpdatedAt,
		}
		for _, id := range p.ImageIDs {
			if img, ok := images[id]; ok {
				view.Images = append(view.Images, domain.ImageRef{ID: img.ID, URL: img.URL, StorageID: img.StorageID})
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (a *App) promptView(ctx context.Context, p domain.Prompt) (domain.PromptView, error) {
	views, err := a.promptViews(ctx, []domain.Prompt{p})
	if err != nil {
		return domain.PromptView{}, err
	}
	return views[0], nil
}
