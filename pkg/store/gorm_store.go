package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"promptapi/pkg/domain"
)

const migrateLockID int64 = 51177342

// GormStoreOptions tunes the connection pool.
type GormStoreOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type GormStoreOption func(*GormStoreOptions)

// WithPool sets connection pool limits. Zero values keep database/sql defaults.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AdminModel{}, &AnonUserModel{}, &CategoryModel{}, &ImageModel{}, &PromptModel{}, &FavoriteModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateAdmin inserts a new admin, failing with ErrDuplicateUsername on a taken username.
func (s *GormStore) CreateAdmin(ctx context.Context, a domain.Admin) error {
	model := adminToModel(a)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateUsername
		}
		return err
	}
	return nil
}

// SaveAdmin registers or updates an admin by username.
func (s *GormStore) SaveAdmin(ctx context.Context, a domain.Admin) error {
	model := adminToModel(a)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"password_hash", "role", "updated_at"}),
	}).Create(&model).Error
}

// GetAdminByID returns an admin by ID.
func (s *GormStore) GetAdminByID(ctx context.Context, id string) (domain.Admin, bool, error) {
	var model AdminModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Admin{}, false, nil
		}
		return domain.Admin{}, false, err
	}
	return adminFromModel(model), true, nil
}

// GetAdminByUsername looks up an admin by username.
func (s *GormStore) GetAdminByUsername(ctx context.Context, username string) (domain.Admin, bool, error) {
	var model AdminModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Admin{}, false, nil
		}
		return domain.Admin{}, false, err
	}
	return adminFromModel(model), true, nil
}

// ListAdmins returns all admins newest first.
func (s *GormStore) ListAdmins(ctx context.Context) ([]domain.Admin, error) {
	var models []AdminModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Admin, 0, len(models))
	for _, m := range models {
		res = append(res, adminFromModel(m))
	}
	return res, nil
}

// CreateAnonUser stores a freshly issued anonymous identity.
func (s *GormStore) CreateAnonUser(ctx context.Context, u domain.AnonUser) error {
	model := AnonUserModel{ID: u.ID, TokenID: u.TokenID, CreatedAt: u.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateTokenID
		}
		return err
	}
	return nil
}

// GetAnonUserByTokenID resolves an anonymous identity by its token id.
func (s *GormStore) GetAnonUserByTokenID(ctx context.Context, tokenID string) (domain.AnonUser, bool, error) {
	var model AnonUserModel
	if err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AnonUser{}, false, nil
		}
		return domain.AnonUser{}, false, err
	}
	return anonUserFromModel(model), true, nil
}

// CountAnonUsers returns the number of issued anonymous identities.
func (s *GormStore) CountAnonUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AnonUserModel{}).Count(&count).Error
	return count, err
}

// CreateCategory inserts a category.
func (s *GormStore) CreateCategory(ctx context.Context, c domain.Category) error {
	model := categoryToModel(c)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetCategory returns a category by ID.
func (s *GormStore) GetCategory(ctx context.Context, id string) (domain.Category, bool, error) {
	var model CategoryModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Category{}, false, nil
		}
		return domain.Category{}, false, err
	}
	return categoryFromModel(model), true, nil
}

// ListCategories returns all categories newest first.
func (s *GormStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var models []CategoryModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Category, 0, len(models))
	for _, m := range models {
		res = append(res, categoryFromModel(m))
	}
	return res, nil
}

// UpdateCategory applies the non-nil fields of upd and returns the stored result.
func (s *GormStore) UpdateCategory(ctx context.Context, id string, upd CategoryUpdate) (domain.Category, bool, error) {
	var out CategoryModel
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		updates := map[string]any{"updated_at": time.Now().UTC()}
		if upd.Name != nil {
			updates["name"] = *upd.Name
		}
		if upd.Description != nil {
			updates["description"] = *upd.Description
		}
		if err := tx.Model(&CategoryModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil || !found {
		return domain.Category{}, false, err
	}
	return categoryFromModel(out), true, nil
}

// DeleteCategoryIfUnused counts referencing prompts and deletes the category in one transaction.
func (s *GormStore) DeleteCategoryIfUnused(ctx context.Context, id string) (int64, bool, error) {
	var inUse int64
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model CategoryModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		if err := tx.Model(&PromptModel{}).Where("category_id = ?", id).Count(&inUse).Error; err != nil {
			return err
		}
		if inUse > 0 {
			return nil
		}
		return tx.Delete(&CategoryModel{}, "id = ?", id).Error
	})
	if err != nil {
		return 0, false, err
	}
	return inUse, found, nil
}

// CountCategories returns the number of categories.
func (s *GormStore) CountCategories(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&CategoryModel{}).Count(&count).Error
	return count, err
}

// CreateImage inserts an image record.
func (s *GormStore) CreateImage(ctx context.Context, img domain.Image) error {
	model := ImageModel{ID: img.ID, URL: img.URL, StorageID: img.StorageID, CreatedAt: img.CreatedAt}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetImage returns an image record by ID.
func (s *GormStore) GetImage(ctx context.Context, id string) (domain.Image, bool, error) {
	var model ImageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Image{}, false, nil
		}
		return domain.Image{}, false, err
	}
	return imageFromModel(model), true, nil
}

// GetImages returns the records found among ids keyed by ID.
func (s *GormStore) GetImages(ctx context.Context, ids []string) (map[string]domain.Image, error) {
	out := make(map[string]domain.Image, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []ImageModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID] = imageFromModel(m)
	}
	return out, nil
}

// DeleteImage removes an image record.
func (s *GormStore) DeleteImage(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&ImageModel{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// CreatePrompt inserts a prompt, share-locking its category row when one is set.
func (s *GormStore) CreatePrompt(ctx context.Context, p domain.Prompt) error {
	model, err := promptToModel(p)
	if err != nil {
		return fmt.Errorf("encode prompt images: %w", err)
	}
	if p.CategoryID == "" {
		return s.db.WithContext(ctx).Create(&model).Error
	}
	// The shared row lock holds off DeleteCategoryIfUnused until the insert
	// is visible to its in-use count.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var category CategoryModel
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id").First(&category, "id = ?", p.CategoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCategoryMissing
			}
			return err
		}
		return tx.Create(&model).Error
	})
}

// GetPrompt returns a prompt by ID.
func (s *GormStore) GetPrompt(ctx context.Context, id string) (domain.Prompt, bool, error) {
	var model PromptModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Prompt{}, false, nil
		}
		return domain.Prompt{}, false, err
	}
	return promptFromModel(model), true, nil
}

// GetPrompts returns the prompts found among ids keyed by ID.
func (s *GormStore) GetPrompts(ctx context.Context, ids []string) (map[string]domain.Prompt, error) {
	out := make(map[string]domain.Prompt, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []PromptModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID] = promptFromModel(m)
	}
	return out, nil
}

// ListPrompts returns one newest-first page and the total matching the filter.
func (s *GormStore) ListPrompts(ctx context.Context, f domain.PromptFilter) ([]domain.Prompt, int64, error) {
	base := s.db.WithContext(ctx).Model(&PromptModel{})
	if f.CategoryID != "" {
		base = base.Where("category_id = ?", f.CategoryID)
	}
	if f.Status != "" {
		base = base.Where("status = ?", string(f.Status))
	}
	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q := base.Session(&gorm.Session{}).Order("created_at DESC").Order("id DESC").Offset(f.Offset)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var models []PromptModel
	if err := q.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Prompt, 0, len(models))
	for _, m := range models {
		res = append(res, promptFromModel(m))
	}
	return res, total, nil
}

// DeletePrompt removes a prompt. Referenced images and favorites are left alone.
func (s *GormStore) DeletePrompt(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&PromptModel{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// TransitionPrompt performs a conditional status update in a single statement.
func (s *GormStore) TransitionPrompt(ctx context.Context, id string, from, to domain.PromptStatus, imageIDs []string) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, nil
	}
	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if len(imageIDs) > 0 {
		raw, err := json.Marshal(imageIDs)
		if err != nil {
			return false, fmt.Errorf("encode prompt images: %w", err)
		}
		updates["image_ids"] = gorm.Expr("COALESCE(image_ids, '[]'::jsonb) || ?::jsonb", string(raw))
	}
	res := s.db.WithContext(ctx).Model(&PromptModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountPrompts counts prompts, optionally by status and creation time.
func (s *GormStore) CountPrompts(ctx context.Context, f PromptCount) (int64, error) {
	q := s.db.WithContext(ctx).Model(&PromptModel{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

// CountPromptsByStatus groups prompt counts by status. Absent statuses are omitted.
func (s *GormStore) CountPromptsByStatus(ctx context.Context) (map[domain.PromptStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&PromptModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.PromptStatus]int64, len(rows))
	for _, r := range rows {
		out[domain.PromptStatus(r.Status)] = r.Count
	}
	return out, nil
}

// AddFavorite inserts the pair; an existing pair is left unchanged.
func (s *GormStore) AddFavorite(ctx context.Context, anonUserID, promptID string) error {
	model := FavoriteModel{AnonUserID: anonUserID, PromptID: promptID, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// RemoveFavorite deletes the pair if present.
func (s *GormStore) RemoveFavorite(ctx context.Context, anonUserID, promptID string) error {
	return s.db.WithContext(ctx).
		Delete(&FavoriteModel{}, "anon_user_id = ? AND prompt_id = ?", anonUserID, promptID).Error
}

// ListFavoriteIDs returns favorited prompt ids in the order they were added.
func (s *GormStore) ListFavoriteIDs(ctx context.Context, anonUserID string) ([]string, error) {
	var models []FavoriteModel
	if err := s.db.WithContext(ctx).
		Where("anon_user_id = ?", anonUserID).
		Order("created_at ASC").Order("prompt_id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.PromptID)
	}
	return ids, nil
}

// RemoveFavorites deletes several pairs for one user.
func (s *GormStore) RemoveFavorites(ctx context.Context, anonUserID string, promptIDs []string) error {
	if len(promptIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Delete(&FavoriteModel{}, "anon_user_id = ? AND prompt_id IN ?", anonUserID, promptIDs).Error
}
