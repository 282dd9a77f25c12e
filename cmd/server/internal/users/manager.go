package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Claims carried by the bearer token.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager handles registration, credential checks and JWT issuance on
// top of a Store.
type Manager struct {
	store     Store
	secretKey []byte
	tokenTTL  time.Duration
}

func NewManager(store Store, secret []byte, tokenTTL time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret key required")
	}
	return &Manager{store: store, secretKey: secret, tokenTTL: tokenTTL}, nil
}

func sanitize(u *User) *User {
	cpy := *u
	cpy.PasswordHash = ""
	return &cpy
}

// Register creates an account. The account color is assigned from the
// fixed palette.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*User, error) {
	if username == "" {
		return nil, errors.New("username required")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	if _, err := m.store.UserByUsername(ctx, username); err == nil {
		return nil, ErrExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		AccountColor: colorFor(username),
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return sanitize(u), nil
}

// Authenticate verifies the username/password pair.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := m.store.UserByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return sanitize(u), nil
}

// GetUser looks an account up by id, password hash stripped.
func (m *Manager) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := m.store.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return sanitize(u), nil
}

// DeleteUser removes the account record. Cascading removal of solely
// owned documents is the caller's job.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	return m.store.DeleteUser(ctx, id)
}

// GenerateToken issues an HS256 bearer token for the user.
func (m *Manager) GenerateToken(u *User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secretKey)
}

// ParseToken validates a bearer token and returns its claims.
func (m *Manager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}
