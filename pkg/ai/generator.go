package ai

import (
	"context"
	"errors"
)

// ErrNoImages is returned when a provider answers without any usable image.
var ErrNoImages = errors.New("image provider returned no images")

// ImageRequest asks a provider for Count images of Size for Prompt.
type ImageRequest struct {
	Prompt string
	Count  int
	Size   string
}

// GeneratedImage is one image produced by a provider.
type GeneratedImage struct {
	Data        []byte
	ContentType string
}

// ImageGenerator turns prompt text into images.
// Placeholder and OpenAI providers implement this interface.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, req ImageRequest) ([]GeneratedImage, error)
}
