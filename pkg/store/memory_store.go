package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"promptapi/pkg/domain"
)

// MemoryStore keeps everything in-process. Each call is atomic under one mutex.
// It backs local development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	seq uint64 // insertion counter, breaks created_at ties

	admins     map[string]domain.Admin
	adminSeq   map[string]uint64
	usernames  map[string]string // username -> admin ID
	anonUsers  map[string]domain.AnonUser // key: token ID
	categories map[string]domain.Category
	catSeq     map[string]uint64
	images     map[string]domain.Image
	prompts    map[string]domain.Prompt
	promptSeq  map[string]uint64
	favorites  map[string][]string // anon user ID -> prompt IDs in add order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins:     make(map[string]domain.Admin),
		adminSeq:   make(map[string]uint64),
		usernames:  make(map[string]string),
		anonUsers:  make(map[string]domain.AnonUser),
		categories: make(map[string]domain.Category),
		catSeq:     make(map[string]uint64),
		images:     make(map[string]domain.Image),
		prompts:    make(map[string]domain.Prompt),
		promptSeq:  make(map[string]uint64),
		favorites:  make(map[string][]string),
	}
}

func (m *MemoryStore) next() uint64 {
	m.seq++
	return m.seq
}

// newestFirst orders by created_at desc, then by insertion desc.
func newestFirst(a, b time.Time, seqA, seqB uint64) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return seqA > seqB
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateAdmin(_ context.Context, a domain.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.usernames[a.Username]; taken {
		return ErrDuplicateUsername
	}
	m.admins[a.ID] = a
	m.adminSeq[a.ID] = m.next()
	m.usernames[a.Username] = a.ID
	return nil
}

func (m *MemoryStore) SaveAdmin(_ context.Context, a domain.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.usernames[a.Username]; ok {
		existing := m.admins[id]
		existing.PasswordHash = a.PasswordHash
		existing.Role = a.Role
		existing.UpdatedAt = a.UpdatedAt
		m.admins[id] = existing
		return nil
	}
	m.admins[a.ID] = a
	m.adminSeq[a.ID] = m.next()
	m.usernames[a.Username] = a.ID
	return nil
}

func (m *MemoryStore) GetAdminByID(_ context.Context, id string) (domain.Admin, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.admins[id]
	return a, ok, nil
}

func (m *MemoryStore) GetAdminByUsername(_ context.Context, username string) (domain.Admin, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.Admin{}, false, nil
	}
	return m.admins[id], true, nil
}

func (m *MemoryStore) ListAdmins(context.Context) ([]domain.Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Admin, 0, len(m.admins))
	for _, a := range m.admins {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool {
		return newestFirst(res[i].CreatedAt, res[j].CreatedAt, m.adminSeq[res[i].ID], m.adminSeq[res[j].ID])
	})
	return res, nil
}

func (m *MemoryStore) CreateAnonUser(_ context.Context, u domain.AnonUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.anonUsers[u.TokenID]; exists {
		return ErrDuplicateTokenID
	}
	m.anonUsers[u.TokenID] = u
	return nil
}

func (m *MemoryStore) GetAnonUserByTokenID(_ context.Context, tokenID string) (domain.AnonUser, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.anonUsers[tokenID]
	return u, ok, nil
}

func (m *MemoryStore) CountAnonUsers(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.anonUsers)), nil
}

func (m *MemoryStore) CreateCategory(_ context.Context, c domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	m.catSeq[c.ID] = m.next()
	return nil
}

func (m *MemoryStore) GetCategory(_ context.Context, id string) (domain.Category, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	return c, ok, nil
}

func (m *MemoryStore) ListCategories(context.Context) ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		return newestFirst(res[i].CreatedAt, res[j].CreatedAt, m.catSeq[res[i].ID], m.catSeq[res[j].ID])
	})
	return res, nil
}

func (m *MemoryStore) UpdateCategory(_ context.Context, id string, upd CategoryUpdate) (domain.Category, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return domain.Category{}, false, nil
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Description != nil {
		c.Description = *upd.Description
	}
	c.UpdatedAt = time.Now().UTC()
	m.categories[id] = c
	return c, true, nil
}

func (m *MemoryStore) DeleteCategoryIfUnused(_ context.Context, id string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return 0, false, nil
	}
	var inUse int64
	for _, p := range m.prompts {
		if p.CategoryID == id {
			inUse++
		}
	}
	if inUse > 0 {
		return inUse, true, nil
	}
	delete(m.categories, id)
	delete(m.catSeq, id)
	return 0, true, nil
}

func (m *MemoryStore) CountCategories(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.categories)), nil
}

func (m *MemoryStore) CreateImage(_ context.Context, img domain.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[img.ID] = img
	return nil
}

func (m *MemoryStore) GetImage(_ context.Context, id string) (domain.Image, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	return img, ok, nil
}

func (m *MemoryStore) GetImages(_ context.Context, ids []string) (map[string]domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Image, len(ids))
	for _, id := range ids {
		if img, ok := m.images[id]; ok {
			out[id] = img
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteImage(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[id]; !ok {
		return false, nil
	}
	delete(m.images, id)
	return true, nil
}

func (m *MemoryStore) CreatePrompt(_ context.Context, p domain.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CategoryID != "" {
		if _, ok := m.categories[p.CategoryID]; !ok {
			return ErrCategoryMissing
		}
	}
	p.ImageIDs = append([]string{}, p.ImageIDs...)
	m.prompts[p.ID] = p
	m.promptSeq[p.ID] = m.next()
	return nil
}

func (m *MemoryStore) GetPrompt(_ context.Context, id string) (domain.Prompt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[id]
	if !ok {
		return domain.Prompt{}, false, nil
	}
	return clonePrompt(p), true, nil
}

func (m *MemoryStore) GetPrompts(_ context.Context, ids []string) (map[string]domain.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Prompt, len(ids))
	for _, id := range ids {
		if p, ok := m.prompts[id]; ok {
			out[id] = clonePrompt(p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPrompts(_ context.Context, f domain.PromptFilter) ([]domain.Prompt, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Prompt, 0, len(m.prompts))
	for _, p := range m.prompts {
		if f.CategoryID != "" && p.CategoryID != f.CategoryID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		return newestFirst(matched[i].CreatedAt, matched[j].CreatedAt, m.promptSeq[matched[i].ID], m.promptSeq[matched[j].ID])
	})
	total := int64(len(matched))
	start := f.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	page := make([]domain.Prompt, 0, end-start)
	for _, p := range matched[start:end] {
		page = append(page, clonePrompt(p))
	}
	return page, total, nil
}

func (m *MemoryStore) DeletePrompt(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prompts[id]; !ok {
		return false, nil
	}
	delete(m.prompts, id)
	delete(m.promptSeq, id)
	return true, nil
}

func (m *MemoryStore) TransitionPrompt(_ context.Context, id string, from, to domain.PromptStatus, imageIDs []string) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.ImageIDs = append(append([]string{}, p.ImageIDs...), imageIDs...)
	p.UpdatedAt = time.Now().UTC()
	m.prompts[id] = p
	return true, nil
}

func (m *MemoryStore) CountPrompts(_ context.Context, f PromptCount) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, p := range m.prompts {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && p.CreatedAt.Before(f.Since) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) CountPromptsByStatus(context.Context) (map[domain.PromptStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.PromptStatus]int64)
	for _, p := range m.prompts {
		out[p.Status]++
	}
	return out, nil
}

func (m *MemoryStore) AddFavorite(_ context.Context, anonUserID, promptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.favorites[anonUserID] {
		if id == promptID {
			return nil
		}
	}
	m.favorites[anonUserID] = append(m.favorites[anonUserID], promptID)
	return nil
}

func (m *MemoryStore) RemoveFavorite(ctx context.Context, anonUserID, promptID string) error {
	return m.RemoveFavorites(ctx, anonUserID, []string{promptID})
}

func (m *MemoryStore) ListFavoriteIDs(_ context.Context, anonUserID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.favorites[anonUserID]...), nil
}

func (m *MemoryStore) RemoveFavorites(_ context.Context, anonUserID string, promptIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]struct{}, len(promptIDs))
	for _, id := range promptIDs {
		drop[id] = struct{}{}
	}
	kept := make([]string, 0, len(m.favorites[anonUserID]))
	for _, id := range m.favorites[anonUserID] {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	m.favorites[anonUserID] = kept
	return nil
}

func clonePrompt(p domain.Prompt) domain.Prompt {
	p.ImageIDs = append([]string{}, p.ImageIDs...)
	return p
}
