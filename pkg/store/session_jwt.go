package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"promptapi/internal/util"
)

const (
	defaultJWTIssuer   = "promptapi"
	defaultJWTAudience = "promptapi-clients"

	defaultAnonTokenTTL  = 30 * 24 * time.Hour
	defaultAdminTokenTTL = 24 * time.Hour
)

var defaultJWTLeeway = 30 * time.Second

// TokenKind tells anonymous and admin tokens apart. It is carried in the "type" claim.
type TokenKind string

const (
	TokenAnon  TokenKind = "anon"
	TokenAdmin TokenKind = "admin"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrWrongTokenType = errors.New("invalid token type")
	ErrTokenRevoked   = errors.New("token revoked")
)

// TokenClaims is the JWT payload. Subject holds the anonymous token id or the admin id.
type TokenClaims struct {
	Kind TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// TokenOptions configures lifetimes and claim validation.
type TokenOptions struct {
	AnonTTL  time.Duration
	AdminTTL time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
	Revoker  TokenRevoker
}

// TokenManager issues and verifies signed tokens, HS256 with a shared
// secret or RS256 with kid-selected keys.
type TokenManager struct {
	method     jwt.SigningMethod
	signingKey any
	signerKid  string
	verifiers  map[string]any

	anonTTL  time.Duration
	adminTTL time.Duration
	issuer   string
	audience string
	leeway   time.Duration
	revoker  TokenRevoker

	now func() time.Time
}

// NewHS256TokenManager builds a manager signing with a shared secret.
func NewHS256TokenManager(secret []byte, opts TokenOptions) (*TokenManager, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	m := newTokenManager(opts)
	m.method = jwt.SigningMethodHS256
	m.signingKey = secret
	m.verifiers = map[string]any{"": secret}
	return m, nil
}

// NewRS256TokenManagerFromPEM builds a manager signing with an RSA key from PEM files.
// verifyKeyFiles maps kid -> public key path and can include rotated keys.
func NewRS256TokenManagerFromPEM(
	privateKeyPath string,
	publicKeyPath string,
	keyID string,
	verifyKeyFiles map[string]string,
	opts TokenOptions,
) (*TokenManager, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	if strings.TrimSpace(keyID) == "" {
		keyID = "jwt-active"
	}

	activePub := &privateKey.PublicKey
	if strings.TrimSpace(publicKeyPath) != "" {
		activePub, err = loadRSAPublicKeyFromPEMFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
	}
	verifiers := map[string]any{keyID: activePub}
	for kid, path := range verifyKeyFiles {
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		verifiers[kid] = pub
	}

	m := newTokenManager(opts)
	m.method = jwt.SigningMethodRS256
	m.signingKey = privateKey
	m.signerKid = keyID
	m.verifiers = verifiers
	return m, nil
}

func newTokenManager(opts TokenOptions) *TokenManager {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	if opts.AnonTTL <= 0 {
		opts.AnonTTL = defaultAnonTokenTTL
	}
	if opts.AdminTTL <= 0 {
		opts.AdminTTL = defaultAdminTokenTTL
	}
	return &TokenManager{
		anonTTL:  opts.AnonTTL,
		adminTTL: opts.AdminTTL,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
		revoker:  opts.Revoker,
		now:      time.Now,
	}
}

// TTL returns the lifetime of tokens of the given kind.
func (m *TokenManager) TTL(kind TokenKind) time.Duration {
	if kind == TokenAdmin {
		return m.adminTTL
	}
	return m.anonTTL
}

// Issue signs a token of kind for subject.
func (m *TokenManager) Issue(kind TokenKind, subject string) (string, error) {
	if kind != TokenAnon && kind != TokenAdmin {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject required")
	}
	now := m.now().UTC()
	claims := TokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TTL(kind))),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        util.RandomHex(12),
		},
	}
	token := jwt.NewWithClaims(m.method, claims)
	if m.signerKid != "" {
		token.Header["kid"] = m.signerKid
	}
	return token.SignedString(m.signingKey)
}

// Verify checks signature, expiry, kind and revocation, in that order.
// The subject is returned in the claims; whether it still exists is up to the caller.
func (m *TokenManager) Verify(ctx context.Context, token string, kind TokenKind) (TokenClaims, error) {
	claims, err := m.parseAndVerify(token)
	if err != nil {
		return TokenClaims{}, err
	}
	if claims.Kind != kind {
		return TokenClaims{}, ErrWrongTokenType
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return TokenClaims{}, ErrInvalidToken
	}
	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return TokenClaims{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return TokenClaims{}, ErrTokenRevoked
		}
		cutoff, err := m.revoker.RevokedAfter(ctx, claims.Subject)
		if err != nil {
			return TokenClaims{}, fmt.Errorf("check subject revocation: %w", err)
		}
		// iat has second precision.
		if !cutoff.IsZero() && claims.IssuedAt.Time.Before(cutoff.Truncate(time.Second)) {
			return TokenClaims{}, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke invalidates a verified token until it would have expired.
func (m *TokenManager) Revoke(ctx context.Context, claims TokenClaims) error {
	if m.revoker == nil || claims.ExpiresAt == nil {
		return nil
	}
	return m.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeSubject invalidates every token of kind issued to subject before now.
func (m *TokenManager) RevokeSubject(ctx context.Context, kind TokenKind, subject string) error {
	if m.revoker == nil {
		return nil
	}
	return m.revoker.RevokeSubject(ctx, subject, m.now().UTC(), m.TTL(kind)+m.leeway)
}

func (m *TokenManager) parseAndVerify(token string) (TokenClaims, error) {
	claims := TokenClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithTimeFunc(m.now),
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := m.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return key, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrExpiredToken
		}
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.ID) == "" {
		return TokenClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pubAny, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}
