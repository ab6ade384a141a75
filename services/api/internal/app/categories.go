package app

import (
	"context"
	"fmt"
	"strings"

	"promptapi/internal/util"
	"promptapi/pkg/domain"
	"promptapi/pkg/store"
)

// CategoryInput carries a category create or update. Nil fields are left unchanged on update.
type CategoryInput struct {
	Name        *string
	Description *string
}

// ListCategories returns all categories, newest first.
func (a *App) ListCategories(ctx context.Context) ([]domain.Category, error) {
	categories, err := a.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// CreateCategory adds a category. Name is required.
func (a *App) CreateCategory(ctx context.Context, in CategoryInput) (domain.Category, error) {
	name := ""
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if name == "" {
		return domain.Category{}, ErrCategoryNameRequired
	}
	description := ""
	if in.Description != nil {
		description = strings.TrimSpace(*in.Description)
	}
	now := a.now().UTC()
	category := domain.Category{
		ID:          util.NewID(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateCategory(ctx, category); err != nil {
		return domain.Category{}, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

// UpdateCategory edits name and/or description. An explicit empty name is rejected.
func (a *App) UpdateCategory(ctx context.Context, id string, in CategoryInput) (domain.Category, error) {
	var upd store.CategoryUpdate
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return domain.Category{}, ErrCategoryNameRequired
		}
		upd.Name = &name
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		upd.Description = &description
	}
	category, ok, err := a.store.UpdateCategory(ctx, id, upd)
	if err != nil {
		return domain.Category{}, fmt.Errorf("update category: %w", err)
	}
	if !ok {
		return domain.Category{}, ErrCategoryNotFound
	}
	return category, nil
}

// DeleteCategory removes a category nobody references.
// It returns *CategoryInUseError while prompts still point at it.
func (a *App) DeleteCategory(ctx context.Context, id string) error {
	inUse, ok, err := a.store.DeleteCategoryIfUnused(ctx, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if !ok {
		return ErrCategoryNotFound
	}
	if inUse > 0 {
		return &CategoryInUseError{Count: inUse}
	}
	return nil
}
