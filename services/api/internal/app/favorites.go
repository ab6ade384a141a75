package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"promptapi/pkg/domain"
)

const pruneTimeout = 10 * time.Second

// ListFavorites returns the user's favorite prompts in the order they were
// added. Favorites whose prompt is gone are skipped and pruned in the background.
func (a *App) ListFavorites(ctx context.Context, user domain.AnonUser) ([]domain.PromptView, error) {
	ids, err := a.store.ListFavoriteIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	if len(ids) == 0 {
		return []domain.PromptView{}, nil
	}
	found, err := a.store.GetPrompts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load favorite prompts: %w", err)
	}
	prompts := make([]domain.Prompt, 0, len(ids))
	var dangling []string
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			dangling = append(dangling, id)
			continue
		}
		prompts = append(prompts, p)
	}
	if len(dangling) > 0 {
		a.pruneFavorites(ctx, user.ID, dangling)
	}
	return a.promptViews(ctx, prompts)
}

// AddFavorite appends promptID to the user's favorites. added is false when
// it was already there.
func (a *App) AddFavorite(ctx context.Context, user domain.AnonUser, promptID string) (ids []string, added bool, err error) {
	promptID = strings.TrimSpace(promptID)
	if promptID == "" {
		return nil, false, ErrPromptIDRequired
	}
	if _, ok, err := a.store.GetPrompt(ctx, promptID); err != nil {
		return nil, false, fmt.Errorf("get prompt: %w", err)
	} else if !ok {
		return nil, false, ErrPromptNotFound
	}
	current, err := a.store.ListFavoriteIDs(ctx, user.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list favorites: %w", err)
	}
	if slices.Contains(current, promptID) {
		return current, false, nil
	}
	if err := a.store.AddFavorite(ctx, user.ID, promptID); err != nil {
		return nil, false, fmt.Errorf("add favorite: %w", err)
	}
	ids, err = a.store.ListFavoriteIDs(ctx, user.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list favorites: %w", err)
	}
	return ids, true, nil
}

// RemoveFavorite drops promptID from the user's favorites. Absent ids are fine.
func (a *App) RemoveFavorite(ctx context.Context, user domain.AnonUser, promptID string) ([]string, error) {
	promptID = strings.TrimSpace(promptID)
	if promptID == "" {
		return nil, ErrPromptIDRequired
	}
	if err := a.store.RemoveFavorite(ctx, user.ID, promptID); err != nil {
		return nil, fmt.Errorf("remove favorite: %w", err)
	}
	ids, err := a.store.ListFavoriteIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return ids, nil
}

func (a *App) pruneFavorites(ctx context.Context, anonUserID string, promptIDs []string) {
	logger := a.logger.With("anon_user_id", anonUserID, "dangling", len(promptIDs))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		defer cancel()
		if err := a.store.RemoveFavorites(ctx, anonUserID, promptIDs); err != nil {
			logger.Warn("prune dangling favorites failed", "err", err)
			return
		}
		logger.Info("pruned dangling favorites")
	}()
}
