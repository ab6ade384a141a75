package domain

import "time"

type PromptStatus string

const (
	StatusQueued     PromptStatus = "queued"
	StatusGenerating PromptStatus = "generating"
	StatusDone       PromptStatus = "done"
	StatusFailed     PromptStatus = "failed"
)

// Valid reports whether s is one of the four lifecycle states.
func (s PromptStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusGenerating, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s PromptStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether a stored prompt may move from one status to another.
// Creation-time status is chosen directly and is not a transition.
func CanTransition(from, to PromptStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusGenerating
	case StatusGenerating:
		return to == StatusDone || to == StatusFailed
	}
	return false
}

type AdminRole string

const (
	RoleAdmin      AdminRole = "admin"
	RoleSuperAdmin AdminRole = "superAdmin"
)

type Admin struct {
	ID           string    `json:"_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         AdminRole `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AnonUser is a server-issued anonymous identity. Favorites live in their own relation.
type AnonUser struct {
	ID        string    `json:"_id"`
	TokenID   string    `json:"tokenId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Category struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Image is a record of an externally hosted image. URL and StorageID never change.
type Image struct {
	ID        string    `json:"_id"`
	URL       string    `json:"url"`
	StorageID string    `json:"publicId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Prompt struct {
	ID         string       `json:"_id"`
	PromptText string       `json:"promptText"`
	CategoryID string       `json:"categoryId,omitempty"`
	ImageIDs   []string     `json:"imageIds"`
	Status     PromptStatus `json:"status"`
	CreatedBy  string       `json:"createdBy"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// AdminCreator is the CreatedBy value recorded for admin-created prompts.
func AdminCreator(adminID string) string {
	return "admin:" + adminID
}

// CategoryRef is the category projection embedded in prompt views.
type CategoryRef struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ImageRef is the image projection embedded in prompt views.
type ImageRef struct {
	ID        string `json:"_id"`
	URL       string `json:"url"`
	StorageID string `json:"publicId"`
}

// PromptView is a prompt joined with its category and image details.
// Missing references are dropped from Images and leave Category nil.
type PromptView struct {
	ID         string       `json:"_id"`
	PromptText string       `json:"promptText"`
	Category   *CategoryRef `json:"categoryId"`
	Images     []ImageRef   `json:"images"`
	Status     PromptStatus `json:"status"`
	CreatedBy  string       `json:"createdBy"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// PromptFilter narrows prompt listings. Zero values mean no filter.
type PromptFilter struct {
	CategoryID string
	Status     PromptStatus
	Offset     int
	Limit      int
}

// Stats is the admin dashboard summary.
type Stats struct {
	TotalPrompts    int64                  `json:"totalPrompts"`
	TotalCategories int64                  `json:"totalCategories"`
	TotalAnonUsers  int64                  `json:"totalAnonUsers"`
	PromptsByStatus map[PromptStatus]int64 `json:"promptsByStatus"`
	RecentPrompts   int64                  `json:"recentPrompts"`
}
