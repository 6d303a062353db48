// Package pg is the Postgres Storage adapter built on pgx. Refresh rotation
// runs inside a transaction; ConsumeCode relies on a conditional UPDATE so
// the consumed flag flips for exactly one caller.
package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clave-auth/clave/internal/store/core"
)

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against the DSN and pings it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, core.WrapStorage("parse dsn", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, core.WrapStorage("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.WrapStorage("ping", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return core.WrapStorage("ping", s.pool.Ping(ctx))
}

// ─── Clients ───

func (s *Store) CreateClient(ctx context.Context, c *core.Client) error {
	const query = `
		INSERT INTO clients (client_id, name, secret_hash, client_type, redirect_uris, grant_types, scopes, auth_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		c.ClientID, c.Name, c.SecretHash, c.Type, c.RedirectURIs, c.GrantTypes, c.Scopes, c.AuthMethod, c.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	return core.WrapStorage("create client", err)
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	const query = `
		SELECT client_id, name, secret_hash, client_type, redirect_uris, grant_types, scopes, auth_method, created_at
		FROM clients WHERE client_id = $1
	`
	var c core.Client
	err := s.pool.QueryRow(ctx, query, clientID).Scan(
		&c.ClientID, &c.Name, &c.SecretHash, &c.Type, &c.RedirectURIs, &c.GrantTypes, &c.Scopes, &c.AuthMethod, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.WrapStorage("get client", err)
	}
	return &c, nil
}

// ─── Users ───

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	const query = `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query, u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	return core.WrapStorage("create user", err)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	const query = `SELECT id, username, password_hash, created_at FROM users WHERE username = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, username))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	const query = `SELECT id, username, password_hash, created_at FROM users WHERE id = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) scanUser(row pgx.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.WrapStorage("get user", err)
	}
	return &u, nil
}

// ─── Authorization codes ───

func (s *Store) SaveAuthorizationCode(ctx context.Context, ac *core.AuthorizationCode) error {
	const query = `
		INSERT INTO authorization_codes
			(code_digest, client_id, user_id, redirect_uri, scope, code_challenge, challenge_method, issued_at, expires_at, consumed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
	`
	_, err := s.pool.Exec(ctx, query,
		ac.CodeDigest, ac.ClientID, ac.UserID, ac.RedirectURI, ac.Scope,
		nullable(ac.CodeChallenge), nullable(ac.ChallengeMethod), ac.IssuedAt, ac.ExpiresAt)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	return core.WrapStorage("save code", err)
}

// ConsumeCode flips consumed with a conditional UPDATE ... RETURNING. Only
// the winner of the race gets a row back (losers see pgx.ErrNoRows); a
// follow-up SELECT tells already-consumed apart from never-existed.
func (s *Store) ConsumeCode(ctx context.Context, codeDigest string) (*core.AuthorizationCode, error) {
	const consume = `
		UPDATE authorization_codes SET consumed = TRUE
		WHERE code_digest = $1 AND consumed = FALSE
		RETURNING code_digest, client_id, user_id, redirect_uri, scope,
		          COALESCE(code_challenge, ''), COALESCE(challenge_method, ''), issued_at, expires_at
	`
	var ac core.AuthorizationCode
	err := s.pool.QueryRow(ctx, consume, codeDigest).Scan(
		&ac.CodeDigest, &ac.ClientID, &ac.UserID, &ac.RedirectURI, &ac.Scope,
		&ac.CodeChallenge, &ac.ChallengeMethod, &ac.IssuedAt, &ac.ExpiresAt)
	if err == nil {
		ac.Consumed = true
		return &ac, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, core.WrapStorage("consume code", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM authorization_codes WHERE code_digest = $1)`, codeDigest,
	).Scan(&exists); err != nil {
		return nil, core.WrapStorage("consume code", err)
	}
	if exists {
		return nil, core.ErrCodeConsumed
	}
	return nil, core.ErrNotFound
}

// ─── Tokens ───

func (s *Store) SaveToken(ctx context.Context, t *core.Token) error {
	const query = `
		INSERT INTO tokens (id, kind, client_id, user_id, scope, code_digest, parent_id, issued_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Kind, t.ClientID, nullable(t.UserID), t.Scope,
		nullable(t.CodeDigest), nullable(t.ParentID), t.IssuedAt, t.ExpiresAt)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	return core.WrapStorage("save token", err)
}

func (s *Store) GetToken(ctx context.Context, id string) (*core.Token, error) {
	const query = `
		SELECT id, kind, client_id, COALESCE(user_id, ''), scope,
		       COALESCE(code_digest, ''), COALESCE(parent_id, ''), issued_at, expires_at, revoked_at
		FROM tokens WHERE id = $1
	`
	var t core.Token
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Kind, &t.ClientID, &t.UserID, &t.Scope,
		&t.CodeDigest, &t.ParentID, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.WrapStorage("get token", err)
	}
	return &t, nil
}

func (s *Store) RevokeToken(ctx context.Context, id string) error {
	const query = `UPDATE tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return core.WrapStorage("revoke token", err)
	}
	if tag.RowsAffected() == 0 {
		// Already revoked or unknown; check existence for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tokens WHERE id = $1)`, id).Scan(&exists); err != nil {
			return core.WrapStorage("revoke token", err)
		}
		if !exists {
			return core.ErrNotFound
		}
	}
	return nil
}

func (s *Store) RevokeTokensByCode(ctx context.Context, codeDigest string) (int, error) {
	const query = `UPDATE tokens SET revoked_at = NOW() WHERE code_digest = $1 AND revoked_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, codeDigest)
	if err != nil {
		return 0, core.WrapStorage("revoke by code", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) RevokeTokensByParent(ctx context.Context, parentID string) (int, error) {
	const query = `UPDATE tokens SET revoked_at = NOW() WHERE parent_id = $1 AND revoked_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, parentID)
	if err != nil {
		return 0, core.WrapStorage("revoke by parent", err)
	}
	return int(tag.RowsAffected()), nil
}

// RotateRefreshToken revokes the old refresh token and inserts its
// replacement in one transaction.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, replacement *core.Token) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.WrapStorage("rotate refresh", err)
	}
	defer tx.Rollback(ctx)

	// The revoked_at guard makes the revoke a CAS: of two concurrent
	// rotations of the same refresh token, only one sees an unrevoked row.
	tag, err := tx.Exec(ctx,
		`UPDATE tokens SET revoked_at = NOW() WHERE id = $1 AND kind = $2 AND revoked_at IS NULL`,
		oldID, core.TokenKindRefresh)
	if err != nil {
		return core.WrapStorage("rotate refresh", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tokens (id, kind, client_id, user_id, scope, code_digest, parent_id, issued_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)`,
		replacement.ID, replacement.Kind, replacement.ClientID, nullable(replacement.UserID),
		replacement.Scope, nullable(replacement.CodeDigest), nullable(replacement.ParentID),
		replacement.IssuedAt, replacement.ExpiresAt)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	if err != nil {
		return core.WrapStorage("rotate refresh", err)
	}

	return core.WrapStorage("rotate refresh", tx.Commit(ctx))
}

func (s *Store) ListClientTokens(ctx context.Context, clientID string, limit int) ([]*core.Token, error) {
	const query = `
		SELECT id, kind, client_id, COALESCE(user_id, ''), scope,
		       COALESCE(code_digest, ''), COALESCE(parent_id, ''), issued_at, expires_at, revoked_at
		FROM tokens WHERE client_id = $1 ORDER BY issued_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, clientID, limit)
	if err != nil {
		return nil, core.WrapStorage("list tokens", err)
	}
	defer rows.Close()

	var out []*core.Token
	for rows.Next() {
		var t core.Token
		if err := rows.Scan(&t.ID, &t.Kind, &t.ClientID, &t.UserID, &t.Scope,
			&t.CodeDigest, &t.ParentID, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
			return nil, core.WrapStorage("list tokens", err)
		}
		out = append(out, &t)
	}
	return out, core.WrapStorage("list tokens", rows.Err())
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// 23505 = unique_violation
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
