package app

import (
	"context"
	"errors"
	"fmt"

	"promptapi/pkg/domain"
	"promptapi/pkg/store"
)

// ResolveAnon verifies an anonymous bearer token and loads its identity.
func (a *App) ResolveAnon(ctx context.Context, token string) (domain.AnonUser, store.TokenClaims, error) {
	claims, err := a.verify(ctx, token, store.TokenAnon)
	if err != nil {
		return domain.AnonUser{}, store.TokenClaims{}, err
	}
	user, ok, err := a.store.GetAnonUserByTokenID(ctx, claims.Subject)
	if err != nil {
		return domain.AnonUser{}, store.TokenClaims{}, fmt.Errorf("load anonymous user: %w", err)
	}
	if !ok {
		return domain.AnonUser{}, store.TokenClaims{}, ErrUnknownSubject
	}
	return user, claims, nil
}

// ResolveAdmin verifies an admin bearer token and loads the account.
func (a *App) ResolveAdmin(ctx context.Context, token string) (domain.Admin, store.TokenClaims, error) {
	claims, err := a.verify(ctx, token, store.TokenAdmin)
	if err != nil {
		return domain.Admin{}, store.TokenClaims{}, err
	}
	admin, ok, err := a.store.GetAdminByID(ctx, claims.Subject)
	if err != nil {
		return domain.Admin{}, store.TokenClaims{}, fmt.Errorf("load admin: %w", err)
	}
	if !ok {
		return domain.Admin{}, store.TokenClaims{}, ErrUnknownSubject
	}
	return admin, claims, nil
}

// RequireSuperAdmin rejects admins without the superAdmin role.
func RequireSuperAdmin(admin domain.Admin) error {
	if admin.Role != domain.RoleSuperAdmin {
		return ErrInsufficientPrivilege
	}
	return nil
}

func (a *App) verify(ctx context.Context, token string, kind store.TokenKind) (store.TokenClaims, error) {
	if token == "" {
		return store.TokenClaims{}, ErrMissingToken
	}
	claims, err := a.tokens.Verify(ctx, token, kind)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, store.ErrExpiredToken):
		return store.TokenClaims{}, ErrExpiredToken
	case errors.Is(err, store.ErrWrongTokenType):
		return store.TokenClaims{}, ErrWrongTokenType
	case errors.Is(err, store.ErrInvalidToken), errors.Is(err, store.ErrTokenRevoked):
		return store.TokenClaims{}, ErrInvalidToken
	default:
		return store.TokenClaims{}, fmt.Errorf("verify token: %w", err)
	}
}
