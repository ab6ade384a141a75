package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promptapi/internal/util"
	"promptapi/pkg/auth"
	"promptapi/pkg/domain"
	"promptapi/pkg/store"
)

// anonTokenIDBytes gives 256-bit anonymous token ids.
const anonTokenIDBytes = 32

// dummyPasswordHash keeps login timing similar for unknown usernames.
var dummyPasswordHash, _ = auth.HashPassword("promptapi-dummy-password")

// AnonSession is the result of issuing an anonymous identity.
type AnonSession struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"tokenId"`
	CreatedAt time.Time `json:"createdAt"`
}

// AdminSession is the result of a successful admin login.
type AdminSession struct {
	Token string       `json:"token"`
	Admin domain.Admin `json:"admin"`
}

// IssueAnonymousToken creates a new anonymous identity and signs a token for it.
func (a *App) IssueAnonymousToken(ctx context.Context) (AnonSession, error) {
	user := domain.AnonUser{
		ID:        util.NewID(),
		TokenID:   util.RandomHex(anonTokenIDBytes),
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateAnonUser(ctx, user); err != nil {
		return AnonSession{}, fmt.Errorf("create anonymous user: %w", err)
	}
	token, err := a.tokens.Issue(store.TokenAnon, user.TokenID)
	if err != nil {
		return AnonSession{}, fmt.Errorf("issue anonymous token: %w", err)
	}
	return AnonSession{Token: token, TokenID: user.TokenID, CreatedAt: user.CreatedAt}, nil
}

// AdminLogin checks credentials and issues an admin token. Every credential
// failure returns ErrInvalidCredentials.
func (a *App) AdminLogin(ctx context.Context, username, password string) (AdminSession, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return AdminSession{}, ErrUsernamePasswordRequired
	}
	admin, ok, err := a.store.GetAdminByUsername(ctx, username)
	if err != nil {
		return AdminSession{}, fmt.Errorf("load admin: %w", err)
	}
	if !ok {
		auth.CheckPassword(password, dummyPasswordHash)
		return AdminSession{}, ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, admin.PasswordHash) {
		return AdminSession{}, ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(store.TokenAdmin, admin.ID)
	if err != nil {
		return AdminSession{}, fmt.Errorf("issue admin token: %w", err)
	}
	return AdminSession{Token: token, Admin: admin}, nil
}

// AdminLogout revokes the token the admin authenticated with.
func (a *App) AdminLogout(ctx context.Context, claims store.TokenClaims) error {
	if err := a.tokens.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("revoke admin token: %w", err)
	}
	return nil
}

// CreateAdmin adds an admin account. Role defaults to admin.
func (a *App) CreateAdmin(ctx context.Context, username, password string, role domain.AdminRole) (domain.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Admin{}, ErrUsernamePasswordRequired
	}
	if role == "" {
		role = domain.RoleAdmin
	}
	if role != domain.RoleAdmin && role != domain.RoleSuperAdmin {
		return domain.Admin{}, ErrInvalidRole
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Admin{}, newError(KindValidation, passwordPolicyMessage(err))
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Admin{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	admin := domain.Admin{
		ID:           util.NewID(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateAdmin(ctx, admin); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return domain.Admin{}, ErrUsernameTaken
		}
		return domain.Admin{}, fmt.Errorf("create admin: %w", err)
	}
	return admin, nil
}

// ListAdmins returns every admin account, newest first.
func (a *App) ListAdmins(ctx context.Context) ([]domain.Admin, error) {
	admins, err := a.store.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

func passwordPolicyMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrPasswordTooShort):
		return "Password must be at least 8 characters"
	case errors.Is(err, auth.ErrPasswordTooLong):
		return "Password must be at most 72 bytes"
	default:
		return "Invalid password"
	}
}

// SeedSuperAdmin creates the super admin or, when the username exists,
// promotes it and resets its password. Tokens issued before a reset stop
// working when tokens is non-nil.
func SeedSuperAdmin(ctx context.Context, st store.Store, tokens *store.TokenManager, username, password string) (domain.Admin, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Admin{}, false, ErrUsernamePasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Admin{}, false, newError(KindValidation, passwordPolicyMessage(err))
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Admin{}, false, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	admin, exists, err := st.GetAdminByUsername(ctx, username)
	if err != nil {
		return domain.Admin{}, false, fmt.Errorf("load admin: %w", err)
	}
	if !exists {
		admin = domain.Admin{ID: util.NewID(), Username: username, CreatedAt: now}
	}
	admin.PasswordHash = hash
	admin.Role = domain.RoleSuperAdmin
	admin.UpdatedAt = now
	if err := st.SaveAdmin(ctx, admin); err != nil {
		return domain.Admin{}, false, fmt.Errorf("save admin: %w", err)
	}
	if exists && tokens != nil {
		if err := tokens.RevokeSubject(ctx, store.TokenAdmin, admin.ID); err != nil {
			return domain.Admin{}, false, fmt.Errorf("revoke admin tokens: %w", err)
		}
	}
	return admin, !exists, nil
}
