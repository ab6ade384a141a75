package ai

import (
	"context"
	"time"
)

// PlaceholderGenerator simulates a provider: it waits and returns no images.
// Prompts handled by it finish as done with an empty image list.
type PlaceholderGenerator struct {
	delay time.Duration
}

// NewPlaceholderGenerator builds a generator that sleeps for delay per request.
func NewPlaceholderGenerator(delay time.Duration) *PlaceholderGenerator {
	return &PlaceholderGenerator{delay: delay}
}

// GenerateImages waits for the configured delay or until ctx is done.
func (g *PlaceholderGenerator) GenerateImages(ctx context.Context, _ ImageRequest) ([]GeneratedImage, error) {
	if g.delay <= 0 {
		return nil, ctx.Err()
	}
	timer := time.NewTimer(g.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}
