package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"promptapi/internal/util"
	"promptapi/pkg/domain"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("admins", func(t *testing.T) { testAdmins(t, newStore(t)) })
	t.Run("categories", func(t *testing.T) { testCategories(t, newStore(t)) })
	t.Run("prompts", func(t *testing.T) { testPrompts(t, newStore(t)) })
	t.Run("transitions", func(t *testing.T) { testTransitions(t, newStore(t)) })
	t.Run("favorites", func(t *testing.T) { testFavorites(t, newStore(t)) })
	t.Run("images", func(t *testing.T) { testImages(t, newStore(t)) })
}

func testAdmins(t *testing.T, st Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	first := domain.Admin{ID: util.NewID(), Username: "alice", PasswordHash: "h1", Role: domain.RoleAdmin, CreatedAt: now, UpdatedAt: now}
	second := domain.Admin{ID: util.NewID(), Username: "bob", PasswordHash: "h2", Role: domain.RoleSuperAdmin, CreatedAt: now.Add(time.Second), UpdatedAt: now}
	if err := st.CreateAdmin(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := st.CreateAdmin(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}
	dup := first
	dup.ID = util.NewID()
	if err := st.CreateAdmin(ctx, dup); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}

	got, ok, err := st.GetAdminByUsername(ctx, "alice")
	if err != nil || !ok || got.ID != first.ID {
		t.Fatalf("get by username: %+v %v %v", got, ok, err)
	}
	if _, ok, err := st.GetAdminByID(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing admin, got ok=%v err=%v", ok, err)
	}

	list, err := st.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if len(list) != 2 || list[0].Username != "bob" || list[1].Username != "alice" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	promoted := domain.Admin{ID: util.NewID(), Username: "alice", PasswordHash: "h3", Role: domain.RoleSuperAdmin, CreatedAt: now, UpdatedAt: now.Add(time.Minute)}
	if err := st.SaveAdmin(ctx, promoted); err != nil {
		t.Fatalf("save admin: %v", err)
	}
	got, _, _ = st.GetAdminByUsername(ctx, "alice")
	if got.ID != first.ID || got.Role != domain.RoleSuperAdmin || got.PasswordHash != "h3" {
		t.Fatalf("expected in-place promotion, got %+v", got)
	}
}

func testCategories(t *testing.T, st Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	older := domain.Category{ID: util.NewID(), Name: "Landscapes", CreatedAt: now, UpdatedAt: now}
	newer := domain.Category{ID: util.NewID(), Name: "Portraits", Description: "faces", CreatedAt: now.Add(time.Second), UpdatedAt: now}
	for _, c := range []domain.Category{older, newer} {
		if err := st.CreateCategory(ctx, c); err != nil {
			t.Fatalf("create category: %v", err)
		}
	}
	list, err := st.ListCategories(ctx)
	if err != nil || len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %+v %v", list, err)
	}

	name := "Scenery"
	updated, ok, err := st.UpdateCategory(ctx, older.ID, CategoryUpdate{Name: &name})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	if updated.Name != "Scenery" || updated.Description != "" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if _, ok, err := st.UpdateCategory(ctx, "missing", CategoryUpdate{Name: &name}); err != nil || ok {
		t.Fatalf("expected missing update, got ok=%v err=%v", ok, err)
	}

	prompt := domain.Prompt{ID: util.NewID(), PromptText: "a hill", CategoryID: older.ID, Status: domain.StatusDone, CreatedBy: "tok", CreatedAt: now, UpdatedAt: now}
	if err := st.CreatePrompt(ctx, prompt); err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	orphan := prompt
	orphan.ID = util.NewID()
	orphan.CategoryID = "missing"
	if err := st.CreatePrompt(ctx, orphan); !errors.Is(err, ErrCategoryMissing) {
		t.Fatalf("expected ErrCategoryMissing, got %v", err)
	}
	if _, ok, _ := st.GetPrompt(ctx, orphan.ID); ok {
		t.Fatalf("prompt with missing category must not be stored")
	}
	inUse, found, err := st.DeleteCategoryIfUnused(ctx, older.ID)
	if err != nil || !found || inUse != 1 {
		t.Fatalf("expected in-use refusal, got inUse=%d found=%v err=%v", inUse, found, err)
	}
	if _, ok, _ := st.GetCategory(ctx, older.ID); !ok {
		t.Fatalf("category must survive refused delete")
	}

	inUse, found, err = st.DeleteCategoryIfUnused(ctx, newer.ID)
	if err != nil || !found || inUse != 0 {
		t.Fatalf("expected delete, got inUse=%d found=%v err=%v", inUse, found, err)
	}
	if _, ok, _ := st.GetCategory(ctx, newer.ID); ok {
		t.Fatalf("category should be gone")
	}
	if _, found, err := st.DeleteCategoryIfUnused(ctx, newer.ID); err != nil || found {
		t.Fatalf("expected not found on second delete, got found=%v err=%v", found, err)
	}
	if n, err := st.CountCategories(ctx); err != nil || n != 1 {
		t.Fatalf("count categories: %d %v", n, err)
	}
}

func testPrompts(t *testing.T, st Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for _, id := range []string{"cat-a", "cat-b"} {
		if err := st.CreateCategory(ctx, domain.Category{ID: id, Name: id, CreatedAt: base, UpdatedAt: base}); err != nil {
			t.Fatalf("create category: %v", err)
		}
	}
	var ids []string
	for i := 0; i < 5; i++ {
		status := domain.StatusDone
		if i%2 == 0 {
			status = domain.StatusQueued
		}
		p := domain.Prompt{
			ID:         util.NewID(),
			PromptText: "prompt",
			CategoryID: "cat-a",
			Status:     status,
			CreatedBy:  "tok",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			UpdatedAt:  base,
		}
		if i == 4 {
			p.CategoryID = "cat-b"
			p.CreatedAt = base.Add(-10 * 24 * time.Hour)
		}
		if err := st.CreatePrompt(ctx, p); err != nil {
			t.Fatalf("create prompt: %v", err)
		}
		ids = append(ids, p.ID)
	}

	page, total, err := st.ListPrompts(ctx, domain.PromptFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page) != 2 || page[0].ID != ids[3] || page[1].ID != ids[2] {
		t.Fatalf("unexpected first page: total=%d %+v", total, page)
	}
	page, total, _ = st.ListPrompts(ctx, domain.PromptFilter{Offset: 4, Limit: 2})
	if total != 5 || len(page) != 1 || page[0].ID != ids[4] {
		t.Fatalf("unexpected last page: total=%d %+v", total, page)
	}
	page, total, _ = st.ListPrompts(ctx, domain.PromptFilter{CategoryID: "cat-a", Status: domain.StatusQueued, Limit: 10})
	if total != 2 || len(page) != 2 {
		t.Fatalf("unexpected filtered page: total=%d %+v", total, page)
	}

	if n, _ := st.CountPrompts(ctx, PromptCount{Since: base.Add(-7 * 24 * time.Hour)}); n != 4 {
		t.Fatalf("expected 4 recent prompts, got %d", n)
	}
	byStatus, err := st.CountPromptsByStatus(ctx)
	if err != nil || byStatus[domain.StatusQueued] != 3 || byStatus[domain.StatusDone] != 2 {
		t.Fatalf("unexpected status counts: %v %v", byStatus, err)
	}

	found, err := st.GetPrompts(ctx, []string{ids[0], "missing"})
	if err != nil || len(found) != 1 {
		t.Fatalf("get prompts: %v %v", found, err)
	}
	if ok, err := st.DeletePrompt(ctx, ids[0]); err != nil || !ok {
		t.Fatalf("delete prompt: %v %v", ok, err)
	}
	if ok, _ := st.DeletePrompt(ctx, ids[0]); ok {
		t.Fatalf("second delete should report missing")
	}
}

func testTransitions(t *testing.T, st Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	p := domain.Prompt{ID: util.NewID(), PromptText: "x", Status: domain.StatusQueued, CreatedBy: "tok", CreatedAt: now, UpdatedAt: now}
	if err := st.CreatePrompt(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Only one of many concurrent claimers wins the queued -> generating edge.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.TransitionPrompt(ctx, p.ID, domain.StatusQueued, domain.StatusGenerating, nil)
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	ok, err := st.TransitionPrompt(ctx, p.ID, domain.StatusGenerating, domain.StatusDone, []string{"img-1", "img-2"})
	if err != nil || !ok {
		t.Fatalf("generating -> done: %v %v", ok, err)
	}
	if ok, _ := st.TransitionPrompt(ctx, p.ID, domain.StatusGenerating, domain.StatusFailed, nil); ok {
		t.Fatalf("stale transition must not apply")
	}
	got, _, _ := st.GetPrompt(ctx, p.ID)
	if got.Status != domain.StatusDone || len(got.ImageIDs) != 2 || got.ImageIDs[1] != "img-2" {
		t.Fatalf("unexpected prompt after transitions: %+v", got)
	}
	if ok, _ := st.TransitionPrompt(ctx, "missing", domain.StatusQueued, domain.StatusGenerating, nil); ok {
		t.Fatalf("missing prompt must not transition")
	}

	// Edges outside queued -> generating -> done|failed are refused even when
	// from matches the stored status.
	skip := domain.Prompt{ID: util.NewID(), PromptText: "y", Status: domain.StatusQueued, CreatedBy: "tok", CreatedAt: now, UpdatedAt: now}
	if err := st.CreatePrompt(ctx, skip); err != nil {
		t.Fatalf("create: %v", err)
	}
	illegal := []struct {
		id       string
		from, to domain.PromptStatus
	}{
		{p.ID, domain.StatusDone, domain.StatusQueued},
		{p.ID, domain.StatusDone, domain.StatusGenerating},
		{p.ID, domain.StatusDone, domain.StatusFailed},
		{skip.ID, domain.StatusQueued, domain.StatusDone},
		{skip.ID, domain.StatusQueued, domain.StatusFailed},
		{skip.ID, domain.StatusQueued, domain.StatusQueued},
	}
	for _, tc := range illegal {
		ok, err := st.TransitionPrompt(ctx, tc.id, tc.from, tc.to, nil)
		if err != nil || ok {
			t.Fatalf("%s -> %s must be refused, got ok=%v err=%v", tc.from, tc.to, ok, err)
		}
	}
	if got, _, _ := st.GetPrompt(ctx, p.ID); got.Status != domain.StatusDone {
		t.Fatalf("done prompt moved to %s", got.Status)
	}
	if got, _, _ := st.GetPrompt(ctx, skip.ID); got.Status != domain.StatusQueued {
		t.Fatalf("queued prompt moved to %s", got.Status)
	}
}

func testFavorites(t *testing.T, st Store) {
	ctx := context.Background()
	user := domain.AnonUser{ID: util.NewID(), TokenID: util.RandomHex(32), CreatedAt: time.Now().UTC()}
	if err := st.CreateAnonUser(ctx, user); err != nil {
		t.Fatalf("create anon user: %v", err)
	}
	if err := st.CreateAnonUser(ctx, user); !errors.Is(err, ErrDuplicateTokenID) {
		t.Fatalf("expected duplicate token id, got %v", err)
	}
	got, ok, err := st.GetAnonUserByTokenID(ctx, user.TokenID)
	if err != nil || !ok || got.ID != user.ID {
		t.Fatalf("get anon user: %+v %v %v", got, ok, err)
	}

	for _, id := range []string{"p1", "p2", "p1", "p3"} {
		if err := st.AddFavorite(ctx, user.ID, id); err != nil {
			t.Fatalf("add favorite %s: %v", id, err)
		}
		time.Sleep(time.Millisecond)
	}
	ids, err := st.ListFavoriteIDs(ctx, user.ID)
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if len(ids) != 3 || ids[0] != "p1" || ids[1] != "p2" || ids[2] != "p3" {
		t.Fatalf("expected ordered set p1,p2,p3, got %v", ids)
	}
	if err := st.RemoveFavorite(ctx, user.ID, "p2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := st.RemoveFavorite(ctx, user.ID, "p2"); err != nil {
		t.Fatalf("remove twice: %v", err)
	}
	if err := st.RemoveFavorites(ctx, user.ID, []string{"p3", "nope"}); err != nil {
		t.Fatalf("remove many: %v", err)
	}
	ids, _ = st.ListFavoriteIDs(ctx, user.ID)
	if len(ids) != 1 || ids[0] != "p1" {
		t.Fatalf("expected only p1 left, got %v", ids)
	}
	if n, _ := st.CountAnonUsers(ctx); n != 1 {
		t.Fatalf("expected 1 anon user, got %d", n)
	}
}

func testImages(t *testing.T, st Store) {
	ctx := context.Background()
	img := domain.Image{ID: util.NewID(), URL: "https://cdn.example/a.png", StorageID: "ai-prompts/user-uploads/a.png", CreatedAt: time.Now().UTC()}
	if err := st.CreateImage(ctx, img); err != nil {
		t.Fatalf("create image: %v", err)
	}
	got, ok, err := st.GetImage(ctx, img.ID)
	if err != nil || !ok || got.URL != img.URL || got.StorageID != img.StorageID {
		t.Fatalf("get image: %+v %v %v", got, ok, err)
	}
	many, err := st.GetImages(ctx, []string{img.ID, "missing"})
	if err != nil || len(many) != 1 {
		t.Fatalf("get images: %v %v", many, err)
	}
	if ok, err := st.DeleteImage(ctx, img.ID); err != nil || !ok {
		t.Fatalf("delete image: %v %v", ok, err)
	}
	if _, ok, _ := st.GetImage(ctx, img.ID); ok {
		t.Fatalf("image should be gone")
	}
}
