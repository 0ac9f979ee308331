package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryUserStore keeps accounts in process memory. Used by tests and by
// degraded dev mode when no database is configured.
type MemoryUserStore struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]User
}

// NewMemoryUserStore returns an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{nextID: 1, byName: make(map[string]User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, in NewUser) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := NormalizeUserName(in.UserName)
	if _, ok := s.byName[name]; ok {
		return User{}, ErrConflict
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}
	u := User{
		ID:           s.nextID,
		UserName:     name,
		PasswordHash: in.PasswordHash,
		RealName:     in.RealName,
		Class:        in.Class,
		StudentID:    in.StudentID,
		Role:         role,
	}
	s.nextID++
	s.byName[name] = u
	return u, nil
}

func (s *MemoryUserStore) GetByName(ctx context.Context, userName string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byName[NormalizeUserName(userName)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) List(ctx context.Context, offset, limit int64) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]User, 0, len(s.byName))
	for _, u := range s.byName {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(all)) {
		return nil, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < int64(len(all)) {
		all = all[:limit]
	}
	out := make([]User, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryUserStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byName)), nil
}

func (s *MemoryUserStore) Update(ctx context.Context, u User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := NormalizeUserName(u.UserName)
	old, ok := s.byName[name]
	if !ok {
		return ErrNotFound
	}
	u.ID = old.ID
	u.UserName = name
	s.byName[name] = u
	return nil
}

func (s *MemoryUserStore) Delete(ctx context.Context, userName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := NormalizeUserName(userName)
	if _, ok := s.byName[name]; !ok {
		return ErrNotFound
	}
	delete(s.byName, name)
	return nil
}

func (s *MemoryUserStore) SetLastLogin(ctx context.Context, userName string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := NormalizeUserName(userName)
	u, ok := s.byName[name]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = &at
	s.byName[name] = u
	return nil
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu     sync.Mutex
	byHash map[string]Session
}

// NewMemorySessionStore returns an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{byHash: make(map[string]Session)}
}

func (s *MemorySessionStore) Create(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[sess.TokenHash] = sess
	return nil
}

func (s *MemorySessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byHash[tokenHash]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[tokenHash]; !ok {
		return ErrNotFound
	}
	delete(s.byHash, tokenHash)
	return nil
}

func (s *MemorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, sess := range s.byHash {
		if sess.Expired(now) {
			delete(s.byHash, hash)
			n++
		}
	}
	return n, nil
}
