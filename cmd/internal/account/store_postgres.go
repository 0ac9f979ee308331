package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserStore is a UserStore backed by PostgreSQL.
//
// Ownership model: the pgx pool belongs to the caller. Schema (managed
// outside this process):
//
//	CREATE TABLE users (
//	    id         BIGSERIAL PRIMARY KEY,
//	    user_name  TEXT NOT NULL UNIQUE,
//	    password   TEXT,
//	    real_name  TEXT,
//	    class      TEXT,
//	    student_id TEXT,
//	    role       TEXT NOT NULL DEFAULT 'user',
//	    last_login TIMESTAMPTZ
//	);
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore constructs a Postgres-backed user store.
func NewPostgresUserStore(pool *pgxpool.Pool) (*PostgresUserStore, error) {
	if pool == nil {
		return nil, errors.New("account: nil pool")
	}
	return &PostgresUserStore{pool: pool}, nil
}

const userColumns = `id, user_name, password, real_name, class, student_id, role, last_login`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.UserName, &u.PasswordHash,
		&u.RealName, &u.Class, &u.StudentID,
		&u.Role, &u.LastLogin,
	)
	return u, err
}

func (s *PostgresUserStore) Create(ctx context.Context, in NewUser) (User, error) {
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (user_name, password, real_name, class, student_id, role)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		NormalizeUserName(in.UserName), in.PasswordHash, in.RealName, in.Class, in.StudentID, role,
	)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("account: create user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) GetByName(ctx context.Context, userName string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_name = $1`,
		NormalizeUserName(userName),
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("account: get user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) List(ctx context.Context, offset, limit int64) ([]User, error) {
	if offset < 0 {
		offset = 0
	}
	// limit < 0 means "all remaining", matching the admin list contract.
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id OFFSET $1`
	args := []any{offset}
	if limit >= 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("account: list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("account: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: list users: %w", err)
	}
	return users, nil
}

func (s *PostgresUserStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("account: count users: %w", err)
	}
	return n, nil
}

func (s *PostgresUserStore) Update(ctx context.Context, u User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET password = $2, real_name = $3, class = $4, student_id = $5, role = $6
		 WHERE user_name = $1`,
		NormalizeUserName(u.UserName), u.PasswordHash, u.RealName, u.Class, u.StudentID, u.Role,
	)
	if err != nil {
		return fmt.Errorf("account: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) Delete(ctx context.Context, userName string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE user_name = $1`,
		NormalizeUserName(userName),
	)
	if err != nil {
		return fmt.Errorf("account: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) SetLastLogin(ctx context.Context, userName string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login = $2 WHERE user_name = $1`,
		NormalizeUserName(userName), at,
	)
	if err != nil {
		return fmt.Errorf("account: set last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresSessionStore is a SessionStore backed by PostgreSQL.
//
// Schema:
//
//	CREATE TABLE sessions (
//	    token_hash TEXT PRIMARY KEY,
//	    user_name  TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore constructs a Postgres-backed session store.
func NewPostgresSessionStore(pool *pgxpool.Pool) (*PostgresSessionStore, error) {
	if pool == nil {
		return nil, errors.New("account: nil pool")
	}
	return &PostgresSessionStore{pool: pool}, nil
}

func (s *PostgresSessionStore) Create(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (token_hash, user_name, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		sess.TokenHash, sess.UserName, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("account: create session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, user_name, created_at, expires_at
		 FROM sessions WHERE token_hash = $1`,
		tokenHash,
	).Scan(&sess.TokenHash, &sess.UserName, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("account: get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresSessionStore) Delete(ctx context.Context, tokenHash string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("account: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("account: expire sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
