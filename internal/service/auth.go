package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/permission"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrKeyRevoked         = errors.New("api key revoked")
)

// APIKeyPrincipal identifies an authenticated data-API consumer, carrying
// its per-key quota overrides for the rate limiter.
type APIKeyPrincipal struct {
	KeyID      int64
	RateLimit  int
	RateWindow int
}

// SessionPrincipal identifies an authenticated admin user with the merged
// role+group permission set computed at login.
type SessionPrincipal struct {
	UserID      int64
	Username    string
	Permissions permission.Set
}

type AuthService struct {
	store     *config.Store
	jwtSecret []byte
}

func NewAuthService(store *config.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateAPIKey checks the provided raw API key against stored key hashes.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKeyPrincipal, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, config.HashAPIKey(rawKey))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	// Update last used timestamp (fire and forget)
	go s.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

	return &APIKeyPrincipal{
		KeyID:      key.ID,
		RateLimit:  key.RateLimit,
		RateWindow: key.RateWindow,
	}, nil
}

// Login verifies an admin username/password pair and computes the session
// permission set as the union of the user's role and group documents.
func (s *AuthService) Login(ctx context.Context, username, password string) (*SessionPrincipal, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	roleDoc, groupDoc, err := s.store.GetUserPermissionDocs(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &SessionPrincipal{
		UserID:      user.ID,
		Username:    user.Username,
		Permissions: permission.Merge(permission.ParseSet(roleDoc), permission.ParseSet(groupDoc)),
	}, nil
}

// HashPassword returns a bcrypt hash for storing admin passwords.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IssueJWT creates a signed session token for an authenticated admin. The
// merged permission set travels inside the token, so request handling
// never re-reads the role tables.
func (s *AuthService) IssueJWT(ctx context.Context, p *SessionPrincipal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		UserID:      p.UserID,
		Username:    p.Username,
		Permissions: p.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "data2rest",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateJWT verifies a bearer token and returns the session principal it
// carries.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*SessionPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &SessionPrincipal{
		UserID:      claims.UserID,
		Username:    claims.Username,
		Permissions: claims.Permissions,
	}, nil
}

type jwtClaims struct {
	UserID      int64          `json:"user_id"`
	Username    string         `json:"username"`
	Permissions permission.Set `json:"permissions"`
	jwt.RegisteredClaims
}
