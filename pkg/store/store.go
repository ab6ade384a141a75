package store

import (
	"context"
	"errors"
	"time"

	"promptapi/pkg/domain"
)

var (
	// ErrDuplicateUsername is returned when an admin username is already taken.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrDuplicateTokenID is returned when an anonymous token id collides.
	ErrDuplicateTokenID = errors.New("anonymous token id already exists")
	// ErrCategoryMissing is returned when a prompt references an absent category.
	ErrCategoryMissing = errors.New("category does not exist")
)

// CategoryUpdate carries the optional fields of a category edit. Nil means unchanged.
type CategoryUpdate struct {
	Name        *string
	Description *string
}

// PromptCount narrows CountPrompts. Zero values mean no filter.
type PromptCount struct {
	Status domain.PromptStatus
	Since  time.Time
}

// Store defines persistence for admins, anonymous identities, categories,
// images, prompts and favorites.
type Store interface {
	// admins
	CreateAdmin(ctx context.Context, a domain.Admin) error
	SaveAdmin(ctx context.Context, a domain.Admin) error
	GetAdminByID(ctx context.Context, id string) (domain.Admin, bool, error)
	GetAdminByUsername(ctx context.Context, username string) (domain.Admin, bool, error)
	ListAdmins(ctx context.Context) ([]domain.Admin, error)

	// anonymous identities
	CreateAnonUser(ctx context.Context, u domain.AnonUser) error
	GetAnonUserByTokenID(ctx context.Context, tokenID string) (domain.AnonUser, bool, error)
	CountAnonUsers(ctx context.Context) (int64, error)

	// categories
	CreateCategory(ctx context.Context, c domain.Category) error
	GetCategory(ctx context.Context, id string) (domain.Category, bool, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	UpdateCategory(ctx context.Context, id string, upd CategoryUpdate) (domain.Category, bool, error)
	// DeleteCategoryIfUnused deletes the category only when no prompt references it.
	// inUse is the number of referencing prompts when deletion was refused.
	DeleteCategoryIfUnused(ctx context.Context, id string) (inUse int64, found bool, err error)
	CountCategories(ctx context.Context) (int64, error)

	// images
	CreateImage(ctx context.Context, img domain.Image) error
	GetImage(ctx context.Context, id string) (domain.Image, bool, error)
	GetImages(ctx context.Context, ids []string) (map[string]domain.Image, error)
	DeleteImage(ctx context.Context, id string) (bool, error)

	// prompts
	// CreatePrompt inserts p. A non-empty CategoryID must name an existing
	// category at insert time, otherwise ErrCategoryMissing is returned.
	CreatePrompt(ctx context.Context, p domain.Prompt) error
	GetPrompt(ctx context.Context, id string) (domain.Prompt, bool, error)
	GetPrompts(ctx context.Context, ids []string) (map[string]domain.Prompt, error)
	// ListPrompts returns a newest-first page and the total matching the filter.
	ListPrompts(ctx context.Context, f domain.PromptFilter) ([]domain.Prompt, int64, error)
	DeletePrompt(ctx context.Context, id string) (bool, error)
	// TransitionPrompt moves a prompt from one status to another only when it is
	// currently in from, appending imageIDs in the same write.
	// It reports false when the prompt is missing, not in from, or when
	// from -> to is not a forward lifecycle edge.
	TransitionPrompt(ctx context.Context, id string, from, to domain.PromptStatus, imageIDs []string) (bool, error)
	CountPrompts(ctx context.Context, f PromptCount) (int64, error)
	CountPromptsByStatus(ctx context.Context) (map[domain.PromptStatus]int64, error)

	// favorites
	AddFavorite(ctx context.Context, anonUserID, promptID string) error
	RemoveFavorite(ctx context.Context, anonUserID, promptID string) error
	ListFavoriteIDs(ctx context.Context, anonUserID string) ([]string, error)
	RemoveFavorites(ctx context.Context, anonUserID string, promptIDs []string) error

	Ping(ctx context.Context) error
	Close() error
}
