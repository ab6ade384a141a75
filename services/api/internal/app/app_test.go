package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"promptapi/pkg/ai"
	"promptapi/pkg/domain"
	"promptapi/pkg/storage"
	"promptapi/pkg/store"
)

type testEnv struct {
	app    *App
	store  *store.MemoryStore
	host   *storage.MemoryHost
	tokens *store.TokenManager
}

type envOption func(*Config)

func withGenerator(g ai.ImageGenerator) envOption {
	return func(cfg *Config) { cfg.Generator = g }
}

func withImageHost(h storage.ImageHost) envOption {
	return func(cfg *Config) { cfg.Images = h }
}

func withStore(st store.Store) envOption {
	return func(cfg *Config) { cfg.Store = st }
}

func withGenerationDelay(d time.Duration) envOption {
	return func(cfg *Config) { cfg.GenerationDelay = d }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	host := storage.NewMemoryHost("http://images.test")
	tokens, err := store.NewHS256TokenManager([]byte("0123456789abcdef0123456789abcdef"), store.TokenOptions{
		Revoker: store.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	cfg := Config{
		Store:           st,
		Tokens:          tokens,
		Images:          host,
		Generator:       ai.NewPlaceholderGenerator(0),
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		GenerationDelay: -1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	return &testEnv{app: a, store: st, host: host, tokens: tokens}
}

func (e *testEnv) anonUser(t *testing.T) domain.AnonUser {
	t.Helper()
	session, err := e.app.IssueAnonymousToken(context.Background())
	if err != nil {
		t.Fatalf("issue anonymous token: %v", err)
	}
	user, _, err := e.app.ResolveAnon(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("resolve anonymous token: %v", err)
	}
	return user
}

func (e *testEnv) category(t *testing.T, name string) domain.Category {
	t.Helper()
	c, err := e.app.CreateCategory(context.Background(), CategoryInput{Name: &name})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	return c
}

func (e *testEnv) image(t *testing.T) domain.Image {
	t.Helper()
	img, err := e.app.UploadImage(context.Background(), pngFile("a.png"))
	if err != nil {
		t.Fatalf("upload image: %v", err)
	}
	return img
}

func waitHandle(t *testing.T, h *GenerationHandle) error {
	t.Helper()
	if h == nil {
		t.Fatalf("expected a generation handle")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := h.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("generation for %s did not finish in time", h.PromptID)
	}
	return err
}

// funcGenerator adapts a function to ai.ImageGenerator.
type funcGenerator func(ctx context.Context, req ai.ImageRequest) ([]ai.GeneratedImage, error)

func (f funcGenerator) GenerateImages(ctx context.Context, req ai.ImageRequest) ([]ai.GeneratedImage, error) {
	return f(ctx, req)
}

// flakyHost fails the uploads whose 1-based call number is listed.
type flakyHost struct {
	*storage.MemoryHost
	mu        sync.Mutex
	calls     int
	failCalls map[int]bool
	deleteErr error
}

func (h *flakyHost) Upload(ctx context.Context, u storage.Upload) (storage.HostedImage, error) {
	h.mu.Lock()
	h.calls++
	fail := h.failCalls[h.calls]
	h.mu.Unlock()
	if fail {
		return storage.HostedImage{}, errors.New("host unavailable")
	}
	return h.MemoryHost.Upload(ctx, u)
}

func (h *flakyHost) Delete(ctx context.Context, storageID string) error {
	if h.deleteErr != nil {
		return h.deleteErr
	}
	return h.MemoryHost.Delete(ctx, storageID)
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New(Config{Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without token manager")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrPromptTextRequired, KindValidation},
		{ErrInvalidCredentials, KindAuthentication},
		{ErrInsufficientPrivilege, KindAuthorization},
		{ErrPromptNotFound, KindNotFound},
		{&CategoryInUseError{Count: 2}, KindConflict},
		{ErrUsernameTaken, KindConflict},
		{ErrAllUploadsFailed, KindUpstream},
		{errors.New("boom"), KindInternal},
		{nil, KindInternal},
	}
	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if msg := PublicMessage(errors.New("pq: connection refused")); msg != "Internal server error" {
		t.Fatalf("unexpected public message for internal error: %q", msg)
	}
	if msg := PublicMessage(&CategoryInUseError{Count: 3}); msg != "Cannot delete category. It is used by 3 prompt(s)" {
		t.Fatalf("unexpected in-use message: %q", msg)
	}
}
