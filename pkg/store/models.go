package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"promptapi/pkg/domain"
)

// GORM models used for persistence.
type AdminModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time
}

type AnonUserModel struct {
	ID        string    `gorm:"primaryKey"`
	TokenID   string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type CategoryModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time
}

type ImageModel struct {
	ID        string    `gorm:"primaryKey"`
	URL       string    `gorm:"not null"`
	StorageID string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type PromptModel struct {
	ID         string         `gorm:"primaryKey"`
	PromptText string         `gorm:"type:text;not null"`
	CategoryID string         `gorm:"index"`
	ImageIDs   datatypes.JSON `gorm:"type:jsonb"`
	Status     string         `gorm:"not null;index"`
	CreatedBy  string         `gorm:"not null;index"`
	CreatedAt  time.Time      `gorm:"not null;index"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

// FavoriteModel is one (anonymous user, prompt) pair; CreatedAt orders the set.
type FavoriteModel struct {
	AnonUserID string    `gorm:"primaryKey"`
	PromptID   string    `gorm:"primaryKey;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

func adminToModel(a domain.Admin) AdminModel {
	return AdminModel{
		ID:           a.ID,
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
		Role:         string(a.Role),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func adminFromModel(m AdminModel) domain.Admin {
	return domain.Admin{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         domain.AdminRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func anonUserFromModel(m AnonUserModel) domain.AnonUser {
	return domain.AnonUser{ID: m.ID, TokenID: m.TokenID, CreatedAt: m.CreatedAt}
}

func categoryToModel(c domain.Category) CategoryModel {
	return CategoryModel{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func categoryFromModel(m CategoryModel) domain.Category {
	return domain.Category{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func imageFromModel(m ImageModel) domain.Image {
	return domain.Image{ID: m.ID, URL: m.URL, StorageID: m.StorageID, CreatedAt: m.CreatedAt}
}

func promptToModel(p domain.Prompt) (PromptModel, error) {
	ids := p.ImageIDs
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return PromptModel{}, err
	}
	return PromptModel{
		ID:         p.ID,
		PromptText: p.PromptText,
		CategoryID: p.CategoryID,
		ImageIDs:   datatypes.JSON(raw),
		Status:     string(p.Status),
		CreatedBy:  p.CreatedBy,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

func promptFromModel(m PromptModel) domain.Prompt {
	ids := []string{}
	if len(m.ImageIDs) > 0 {
		_ = json.Unmarshal(m.ImageIDs, &ids)
	}
	return domain.Prompt{
		ID:         m.ID,
		PromptText: m.PromptText,
		CategoryID: m.CategoryID,
		ImageIDs:   ids,
		Status:     domain.PromptStatus(m.Status),
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
