package account

import (
	"context"
	"time"
)

// UserStore is the persistence boundary for lab accounts.
type UserStore interface {
	Create(ctx context.Context, in NewUser) (User, error)
	GetByName(ctx context.Context, userName string) (User, error)
	List(ctx context.Context, offset, limit int64) ([]User, error)
	Count(ctx context.Context) (int64, error)

	// Update replaces the mutable fields of the row matching u.UserName.
	Update(ctx context.Context, u User) error
	Delete(ctx context.Context, userName string) error
	SetLastLogin(ctx context.Context, userName string, at time.Time) error
}

// SessionStore is the persistence boundary for login sessions, keyed by
// token digest.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (Session, error)
	Delete(ctx context.Context, tokenHash string) error

	// DeleteExpired removes sessions past their expiry; returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
