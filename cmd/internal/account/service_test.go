package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fpgalab/cmd/security/password"
)

func testPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	// Keep hashing fast in tests; 8 MiB is the package minimum.
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(log, NewMemoryUserStore(), NewMemorySessionStore(), testPasswordConfig(), time.Hour)
}

func createUser(t *testing.T, svc *Service, name, pw, role string) User {
	t.Helper()

	hash, err := svc.pass.Hash(pw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u, err := svc.users.Create(context.Background(), NewUser{
		UserName:     name,
		PasswordHash: &hash,
		Role:         role,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

func TestLoginLogoutRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	createUser(t, svc, "alice", "correct-horse", RoleUser)

	res, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" {
		t.Fatalf("login produced no token")
	}
	if res.User.LastLogin != nil {
		t.Fatalf("first login must report no previous visit")
	}

	u, err := svc.UserFromToken(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("UserFromToken: %v", err)
	}
	if u.UserName != "alice" || u.LastLogin == nil {
		t.Fatalf("resolved wrong user: %+v", u)
	}

	if err := svc.Logout(context.Background(), res.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.UserFromToken(context.Background(), res.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token survived logout: err=%v", err)
	}
}

func TestLoginRejections(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	createUser(t, svc, "alice", "correct-horse", RoleUser)
	if _, err := svc.users.Create(context.Background(), NewUser{UserName: "nopass"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cases := []struct{ user, pw string }{
		{"alice", "wrong"},
		{"ghost", "whatever"},
		{"nopass", "anything"},
	}
	for _, c := range cases {
		if _, err := svc.Login(context.Background(), c.user, c.pw); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("Login(%s) err=%v, want ErrBadCredentials", c.user, err)
		}
	}
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	createUser(t, svc, "alice", "correct-horse", RoleUser)

	res, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Move the service clock past the TTL.
	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	if _, err := svc.UserFromToken(context.Background(), res.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token still resolves: err=%v", err)
	}
}

func TestUserNameImplementsIdentity(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	createUser(t, svc, "alice", "correct-horse", RoleUser)
	res, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/ws/user", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: res.Token})

	name, err := svc.UserName(r)
	if err != nil || name != "alice" {
		t.Fatalf("UserName=%q err=%v, want alice", name, err)
	}

	bare := httptest.NewRequest(http.MethodGet, "/ws/user", nil)
	if _, err := svc.UserName(bare); err == nil {
		t.Fatalf("expected error without session cookie")
	}
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(log, svc, false)
	mux := http.NewServeMux()
	h.Register(mux)

	createUser(t, svc, "alice", "correct-horse", RoleUser)
	createUser(t, svc, "root", "admin-password", RoleAdmin)

	aliceTok := loginToken(t, svc, "alice", "correct-horse")
	rootTok := loginToken(t, svc, "root", "admin-password")

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: aliceTok})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin list: status=%d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: rootTok})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "alice") {
		t.Fatalf("admin list missing users: %s", rec.Body.String())
	}
}

func TestUserUpsertCreatesAndUpdates(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(log, svc, false)
	mux := http.NewServeMux()
	h.Register(mux)

	createUser(t, svc, "root", "admin-password", RoleAdmin)
	rootTok := loginToken(t, svc, "root", "admin-password")

	body := `{"real_name":"Bob Example","password":"fresh-password-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/user/bob", strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: CookieName, Value: rootTok})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: status=%d body=%s", rec.Code, rec.Body.String())
	}

	if _, err := svc.Login(context.Background(), "bob", "fresh-password-1"); err != nil {
		t.Fatalf("created user cannot log in: %v", err)
	}
}

func loginToken(t *testing.T, svc *Service, name, pw string) string {
	t.Helper()
	res, err := svc.Login(context.Background(), name, pw)
	if err != nil {
		t.Fatalf("Login(%s): %v", name, err)
	}
	return res.Token
}
