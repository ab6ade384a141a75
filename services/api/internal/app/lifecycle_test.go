package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"promptapi/pkg/ai"
	"promptapi/pkg/domain"
)

// statusRecorder samples a prompt's status until stopped.
type statusRecorder struct {
	mu   sync.Mutex
	seen []domain.PromptStatus
	stop chan struct{}
	done chan struct{}
}

func recordStatuses(t *testing.T, env *testEnv, promptID string) *statusRecorder {
	t.Helper()
	r := &statusRecorder{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for {
			p, ok, err := env.store.GetPrompt(context.Background(), promptID)
			if err == nil && ok {
				r.mu.Lock()
				if n := len(r.seen); n == 0 || r.seen[n-1] != p.Status {
					r.seen = append(r.seen, p.Status)
				}
				r.mu.Unlock()
			}
			select {
			case <-r.stop:
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()
	return r
}

func (r *statusRecorder) finish() []domain.PromptStatus {
	close(r.stop)
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PromptStatus{}, r.seen...)
}

// isLifecycleSubsequence reports whether seen only moves forward through
// queued, generating and one terminal state.
func isLifecycleSubsequence(seen []domain.PromptStatus) bool {
	rank := map[domain.PromptStatus]int{
		domain.StatusQueued:     0,
		domain.StatusGenerating: 1,
		domain.StatusDone:       2,
		domain.StatusFailed:     2,
	}
	last := -1
	for _, s := range seen {
		r, ok := rank[s]
		if !ok || r <= last {
			return false
		}
		last = r
	}
	return true
}

func TestSubmitWithoutImagesCompletes(t *testing.T) {
	release := make(chan struct{})
	png := pngBytes()
	env := newTestEnv(t, withGenerator(funcGenerator(func(ctx context.Context, req ai.ImageRequest) ([]ai.GeneratedImage, error) {
		if req.Prompt != "a cat" || req.Count != 2 || req.Size != "512x512" {
			return nil, errors.New("unexpected request")
		}
		<-release
		return []ai.GeneratedImage{
			{Data: png, ContentType: "image/png"},
			{Data: png, ContentType: "image/png"},
		}, nil
	})))
	user := env.anonUser(t)

	view, handle, err := env.app.SubmitPrompt(context.Background(), user, SubmitPromptInput{
		PromptText: "  a cat ",
		Count:      2,
		Size:       "512x512",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Status != domain.StatusQueued || view.CreatedBy != user.TokenID || view.PromptText != "a cat" {
		t.Fatalf("unexpected created prompt: %+v", view)
	}
	rec := recordStatuses(t, env, view.ID)

	deadline := time.Now().Add(2 * time.Second)
	for {
		p, _, _ := env.store.GetPrompt(context.Background(), view.ID)
		if p.Status == domain.StatusGenerating {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prompt never reached generating, status %s", p.Status)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	if err := waitHandle(t, handle); err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	seen := rec.finish()
	if !isLifecycleSubsequence(seen) {
		t.Fatalf("status went backwards: %v", seen)
	}

	got, err := env.app.GetPrompt(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("get prompt: %v", err)
	}
	if got.Status != domain.StatusDone || len(got.Images) != 2 {
		t.Fatalf("expected done with 2 images, got %s with %d", got.Status, len(got.Images))
	}
	if env.host.Len() != 2 {
		t.Fatalf("expected 2 hosted images, got %d", env.host.Len())
	}
}

func TestSubmitGenerationFailure(t *testing.T) {
	env := newTestEnv(t, withGenerator(funcGenerator(func(context.Context, ai.ImageRequest) ([]ai.GeneratedImage, error) {
		return nil, errors.New("provider down")
	})))
	user := env.anonUser(t)

	view, handle, err := env.app.SubmitPrompt(context.Background(), user, SubmitPromptInput{PromptText: "dog"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := waitHandle(t, handle); err == nil {
		t.Fatalf("expected generation error")
	}
	if handle.Status() != "failed" {
		t.Fatalf("expected failed handle, got %s", handle.Status())
	}
	got, _, _ := env.store.GetPrompt(context.Background(), view.ID)
	if got.Status != domain.StatusFailed || len(got.ImageIDs) != 0 {
		t.Fatalf("expected failed prompt without images, got %+v", got)
	}
}

func TestSubmitPartialStoreFailureDiscardsImages(t *testing.T) {
	host := &flakyHost{MemoryHost: newMemoryHost(), failCalls: map[int]bool{2: true}}
	png := pngBytes()
	env := newTestEnv(t, withImageHost(host), withGenerator(funcGenerator(func(context.Context, ai.ImageRequest) ([]ai.GeneratedImage, error) {
		return []ai.GeneratedImage{{Data: png, ContentType: "image/png"}, {Data: png, ContentType: "image/png"}}, nil
	})))
	user := env.anonUser(t)

	view, handle, err := env.app.SubmitPrompt(context.Background(), user, SubmitPromptInput{PromptText: "owl"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := waitHandle(t, handle); err == nil {
		t.Fatalf("expected generation error")
	}
	got, _, _ := env.store.GetPrompt(context.Background(), view.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if host.Len() != 0 {
		t.Fatalf("expected first generated image to be discarded, host has %d", host.Len())
	}
}

func TestSubmitWithImagesIsDoneImmediately(t *testing.T) {
	env := newTestEnv(t, withGenerator(funcGenerator(func(context.Context, ai.ImageRequest) ([]ai.GeneratedImage, error) {
		t.Errorf("generator must not run for image-backed prompts")
		return nil, nil
	})))
	user := env.anonUser(t)
	img := env.image(t)

	view, handle, err := env.app.SubmitPrompt(context.Background(), user, SubmitPromptInput{
		PromptText: "sunset",
		ImageIDs:   []string{img.ID},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if handle != nil {
		t.Fatalf("expected no generation for image-backed prompt")
	}
	if view.Status != domain.StatusDone || len(view.Images) != 1 || view.Images[0].URL != img.URL {
		t.Fatalf("unexpected prompt: %+v", view)
	}
	time.Sleep(20 * time.Millisecond)
	got, _, _ := env.store.GetPrompt(context.Background(), view.ID)
	if got.Status != domain.StatusDone || got.UpdatedAt != got.CreatedAt {
		t.Fatalf("image-backed prompt changed after creation: %+v", got)
	}
}

func TestGenerationSkipsPromptThatLeftQueued(t *testing.T) {
	env := newTestEnv(t, withGenerationDelay(50*time.Millisecond), withGenerator(funcGenerator(func(context.Context, ai.ImageRequest) ([]ai.GeneratedImage, error) {
		t.Errorf("generator must not run once the prompt left queued")
		return nil, nil
	})))
	user := env.anonUser(t)

	view, handle, err := env.app.SubmitPrompt(context.Background(), user, SubmitPromptInput{PromptText: "race"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ok, err := env.store.TransitionPrompt(context.Background(), view.ID, domain.StatusQueued, domain.StatusGenerating, nil)
	if err != nil || !ok {
		t.Fatalf("claim prompt: ok=%v err=%v", ok, err)
	}
	if err := waitHandle(t, handle); err != nil {
		t.Fatalf("expected clean skip, got %v", err)
	}
	got, _, _ := env.store.GetPrompt(context.Background(), view.ID)
	if got.Status != domain.StatusGenerating {
		t.Fatalf("lifecycle overwrote a newer status: %s", got.Status)
	}
}

func TestLifecycleCloseCancelsPending(t *testing.T) {
	env := newTestEnv(t, withGenerationDelay(time.Hour))
	user := env.anonUser(t)

	view, handle, err := env.app.SubmitPrompt(context.Background(), user, SubmitPromptInput{PromptText: "later"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.Close()
	select {
	case <-handle.Done():
	default:
		t.Fatalf("expected handle to finish on close")
	}
	if handle.Status() != "canceled" {
		t.Fatalf("expected canceled, got %s", handle.Status())
	}
	got, _, _ := env.store.GetPrompt(context.Background(), view.ID)
	if got.Status != domain.StatusQueued {
		t.Fatalf("canceled prompt should stay queued, got %s", got.Status)
	}
}

func TestSubmitAfterCloseFailsPrompt(t *testing.T) {
	env := newTestEnv(t)
	user := env.anonUser(t)
	env.app.Close()

	view, handle, err := env.app.SubmitPrompt(context.Background(), user, SubmitPromptInput{PromptText: "too late"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if handle != nil {
		t.Fatalf("expected no handle when the queue is closed")
	}
	if view.Status != domain.StatusFailed {
		t.Fatalf("expected failed prompt, got %s", view.Status)
	}
}
