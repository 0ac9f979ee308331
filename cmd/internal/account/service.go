package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fpgalab/cmd/security/password"
	"fpgalab/cmd/security/token"
)

const defaultSessionTTL = 14 * 24 * time.Hour

// Service implements login, logout, and request identity on top of the two
// stores. It also satisfies the websocket gateway's Identity interface.
type Service struct {
	log      *slog.Logger
	users    UserStore
	sessions SessionStore
	pass     password.Config
	ttl      time.Duration

	// dummyHash keeps Login near constant-time for unknown users.
	dummyHash string

	now func() time.Time
}

// NewService wires the account service. ttl <= 0 selects the default.
func NewService(log *slog.Logger, users UserStore, sessions SessionStore, pass password.Config, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	s := &Service{
		log:      log,
		users:    users,
		sessions: sessions,
		pass:     pass,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if h, err := pass.Hash("dummy-password-for-timing-only"); err == nil {
		s.dummyHash = h
	}
	return s
}

// LoginResult carries what the login handler needs: the user as it was
// before this login (LastLogin shows the previous visit) and the raw cookie
// token.
type LoginResult struct {
	User  User
	Token string
}

// Login verifies credentials and mints a session. Unknown user, missing
// password, and wrong password all return ErrBadCredentials.
func (s *Service) Login(ctx context.Context, userName, pw string) (LoginResult, error) {
	u, err := s.users.GetByName(ctx, userName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn the same hashing cost as a real verification.
			_, _ = s.pass.Verify(s.dummyHash, pw)
			return LoginResult{}, ErrBadCredentials
		}
		return LoginResult{}, err
	}
	if u.PasswordHash == nil {
		_, _ = s.pass.Verify(s.dummyHash, pw)
		return LoginResult{}, ErrBadCredentials
	}

	ok, err := s.pass.Verify(*u.PasswordHash, pw)
	if err != nil || !ok {
		return LoginResult{}, ErrBadCredentials
	}

	now := s.now()
	raw, err := token.NewOpaque()
	if err != nil {
		return LoginResult{}, fmt.Errorf("account: mint token: %w", err)
	}
	sess := Session{
		TokenHash: token.HashSessionTokenHex(raw),
		UserName:  u.UserName,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return LoginResult{}, err
	}
	if err := s.users.SetLastLogin(ctx, u.UserName, now); err != nil {
		s.log.Warn("account.last_login.fail", "user", u.UserName, "err", err)
	}

	s.log.Info("account.login", "user", u.UserName)
	return LoginResult{User: u, Token: raw}, nil
}

// Logout revokes the session behind the raw token. Unknown tokens are not
// an error.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	err := s.sessions.Delete(ctx, token.HashSessionTokenHex(rawToken))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// UserFromToken resolves a raw session token to its user.
func (s *Service) UserFromToken(ctx context.Context, rawToken string) (User, error) {
	if rawToken == "" {
		return User{}, ErrNotFound
	}
	sess, err := s.sessions.GetByTokenHash(ctx, token.HashSessionTokenHex(rawToken))
	if err != nil {
		return User{}, err
	}
	if sess.Expired(s.now()) {
		_ = s.sessions.Delete(ctx, sess.TokenHash)
		return User{}, ErrNotFound
	}
	return s.users.GetByName(ctx, sess.UserName)
}

// UserFromRequest resolves the session cookie on r.
func (s *Service) UserFromRequest(r *http.Request) (User, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return User{}, ErrNotFound
	}
	return s.UserFromToken(r.Context(), c.Value)
}

// UserName resolves just the login name; this is the identity hook consumed
// by the user websocket gateway.
func (s *Service) UserName(r *http.Request) (string, error) {
	u, err := s.UserFromRequest(r)
	if err != nil {
		return "", err
	}
	return u.UserName, nil
}

// SetPassword hashes and stores a new password for userName.
func (s *Service) SetPassword(ctx context.Context, userName, pw string) error {
	u, err := s.users.GetByName(ctx, userName)
	if err != nil {
		return err
	}
	h, err := s.pass.Hash(pw)
	if err != nil {
		return err
	}
	u.PasswordHash = &h
	return s.users.Update(ctx, u)
}

// PurgeExpiredSessions runs periodic cleanup until ctx is canceled.
func (s *Service) PurgeExpiredSessions(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.sessions.DeleteExpired(ctx, s.now())
			if err != nil {
				s.log.Warn("account.session_purge.fail", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("account.session_purge", "removed", n)
			}
		}
	}
}
