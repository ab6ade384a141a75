package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIImageDefaultModel = "dall-e-3"
	openAIImageDefaultSize  = "1024x1024"
	maxImageDownloadBytes   = 20 << 20
)

// OpenAIImageConfig configures the OpenAI image client.
type OpenAIImageConfig struct {
	APIKey     string
	Model      string        // "dall-e-3" (default), "dall-e-2", "gpt-image-1"
	MaxRetries int           // Retry attempts for SDK transport
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests, compatible gateways)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIImageGenerator implements ImageGenerator with the official OpenAI SDK.
type OpenAIImageGenerator struct {
	model      string
	client     openai.Client
	httpClient *http.Client
}

// NewOpenAIImageGenerator creates a new OpenAI image client.
func NewOpenAIImageGenerator(cfg OpenAIImageConfig) *OpenAIImageGenerator {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = openAIImageDefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIImageGenerator{
		model:      strings.TrimSpace(cfg.Model),
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
	}
}

// GenerateImages calls the images API and decodes every returned image.
func (g *OpenAIImageGenerator) GenerateImages(ctx context.Context, req ImageRequest) ([]GeneratedImage, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = openAIImageDefaultSize
	}

	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(g.model),
		N:      openai.Int(int64(count)),
		Size:   openai.ImageGenerateParamsSize(size),
	}
	// gpt-image models always answer with base64 and reject response_format.
	if strings.HasPrefix(g.model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := g.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, ErrNoImages
	}

	out := make([]GeneratedImage, 0, len(resp.Data))
	for i, img := range resp.Data {
		switch {
		case img.B64JSON != "":
			data, err := base64.StdEncoding.DecodeString(img.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("decode image %d: %w", i, err)
			}
			out = append(out, GeneratedImage{Data: data, ContentType: http.DetectContentType(data)})
		case img.URL != "":
			data, contentType, err := g.download(ctx, img.URL)
			if err != nil {
				return nil, fmt.Errorf("download image %d: %w", i, err)
			}
			out = append(out, GeneratedImage{Data: data, ContentType: contentType})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoImages
	}
	return out, nil
}

func (g *OpenAIImageGenerator) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownloadBytes))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI image error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI image error (status %d)", apiErr.StatusCode)
	}
	return err
}
