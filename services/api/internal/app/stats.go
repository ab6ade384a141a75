package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"promptapi/pkg/domain"
	"promptapi/pkg/store"
)

const recentPromptWindow = 7 * 24 * time.Hour

// Stats gathers the admin dashboard counts concurrently.
func (a *App) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TotalPrompts, err = a.store.CountPrompts(gctx, store.PromptCount{})
		return err
	})
	g.Go(func() (err error) {
		stats.TotalCategories, err = a.store.CountCategories(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.TotalAnonUsers, err = a.store.CountAnonUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.PromptsByStatus, err = a.store.CountPromptsByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		since := a.now().UTC().Add(-recentPromptWindow)
		stats.RecentPrompts, err = a.store.CountPrompts(gctx, store.PromptCount{Since: since})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Stats{}, fmt.Errorf("collect stats: %w", err)
	}
	if stats.PromptsByStatus == nil {
		stats.PromptsByStatus = map[domain.PromptStatus]int64{}
	}
	return stats, nil
}
