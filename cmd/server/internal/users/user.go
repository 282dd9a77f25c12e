package users

import (
	"context"
	"errors"
	"hash/fnv"
	"time"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrExists             = errors.New("user exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// PasswordHash is the bcrypt hash, never the raw password. It is
// stripped from every value handed out of the package.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	AccountColor string    `json:"account_color"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists user accounts. Implementations must be safe for
// concurrent use.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
}

// accountColors is the palette cycled through for collaborator
// cursors and avatars.
var accountColors = []string{
	"#F45D01",
	"#C7567F",
	"#5688C7",
	"#B756C7",
	"#56C7A5",
	"#C75656",
	"#81C756",
}

// colorFor picks a stable palette entry for a username.
func colorFor(username string) string {
	h := fnv.New32a()
	h.Write([]byte(username))
	return accountColors[h.Sum32()%uint32(len(accountColors))]
}
