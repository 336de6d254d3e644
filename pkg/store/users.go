package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"
)

func (s *sqlStore) ListOwners(ctx context.Context, crateName string) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT u.id, u.login, u.name, u.email, u.password_hash, u.is_admin, u.is_read_only, u.created_at
		FROM owners o JOIN users u ON u.id = o.user_id JOIN crates c ON c.id = o.crate_id
		WHERE c.name = $1`), crateName)
	if err != nil {
		return nil, wrapTransient(err, "listing owners")
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *sqlStore) IsOwner(ctx context.Context, crateName, userLogin string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM owners o
		JOIN crates c ON c.id = o.crate_id JOIN users u ON u.id = o.user_id
		WHERE c.name = $1 AND u.login = $2`), crateName, userLogin).Scan(&n)
	if err != nil {
		return false, wrapTransient(err, "checking ownership")
	}
	return n > 0, nil
}

func (s *sqlStore) AddOwner(ctx context.Context, crateName, userLogin string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTransient(err, "beginning add-owner transaction")
	}
	defer tx.Rollback()

	var crateID int64
	if err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM crates WHERE name = $1`), crateName).Scan(&crateID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return regerr.Newf(regerr.NotFound, "crate %s not found", crateName)
		}
		return wrapTransient(err, "looking up crate")
	}
	var userID int64
	if err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM users WHERE login = $1`), userLogin).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return regerr.Newf(regerr.NotFound, "user %s not found", userLogin)
		}
		return wrapTransient(err, "looking up user")
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO owners (crate_id, user_id, added_at) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`), crateID, userID, time.Now().UTC())
	if err != nil {
		return wrapTransient(err, "inserting owner row")
	}
	return tx.Commit()
}

func (s *sqlStore) RemoveOwner(ctx context.Context, crateName, userLogin string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM owners WHERE crate_id = (SELECT id FROM crates WHERE name = $1)
		AND user_id = (SELECT id FROM users WHERE login = $2)`), crateName, userLogin)
	if err != nil {
		return wrapTransient(err, "removing owner")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.Newf(regerr.NotFound, "%s is not an owner of %s", userLogin, crateName)
	}
	return nil
}

func (s *sqlStore) GetUserByLogin(ctx context.Context, login string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, login, name, email, password_hash, is_admin, is_read_only, created_at
		FROM users WHERE login = $1`), login)
	return scanUserRow(row)
}

func (s *sqlStore) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	intID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, login, name, email, password_hash, is_admin, is_read_only, created_at
		FROM users WHERE id = $1`), intID)
	return scanUserRow(row)
}

func (s *sqlStore) CreateUser(ctx context.Context, user types.User) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (login, name, email, password_hash, is_admin, is_read_only, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		user.Login, user.Name, user.Email, user.PasswordHash, user.IsAdmin, user.IsReadOnly, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return regerr.Newf(regerr.AlreadyExists, "user %s already exists", user.Login)
		}
		return wrapTransient(err, "creating user")
	}
	return nil
}

func (s *sqlStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	id, err := parseID(userID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET password_hash = $1 WHERE id = $2`), passwordHash, id)
	if err != nil {
		return wrapTransient(err, "updating password")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.New(regerr.NotFound, "user not found")
	}
	return nil
}

func (s *sqlStore) NoUserExists(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return false, wrapTransient(err, "counting users")
	}
	return n == 0, nil
}

func (s *sqlStore) CreateToken(ctx context.Context, token types.Token) error {
	userID, err := parseID(token.UserID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO tokens
		(user_id, name, kind, hash, prefix, created_at, last_used_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, FALSE)`),
		userID, token.Name, string(token.Kind), token.Hash, token.Prefix, time.Now().UTC(), token.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return regerr.New(regerr.AlreadyExists, "token already exists")
		}
		return wrapTransient(err, "creating token")
	}
	return nil
}

func (s *sqlStore) GetTokenByHash(ctx context.Context, hash string) (*types.Token, *types.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT t.id, t.user_id, t.name, t.kind, t.hash, t.prefix,
		t.created_at, t.last_used_at, t.expires_at, t.revoked,
		u.id, u.login, u.name, u.email, u.password_hash, u.is_admin, u.is_read_only, u.created_at
		FROM tokens t JOIN users u ON u.id = t.user_id
		WHERE t.hash = $1`), hash)

	var tok types.Token
	var tokID, userID int64
	var revoked bool
	var uID int64
	var u types.User
	err := row.Scan(&tokID, &userID, &tok.Name, &tok.Kind, &tok.Hash, &tok.Prefix,
		&tok.CreatedAt, &tok.LastUsedAt, &tok.ExpiresAt, &revoked,
		&uID, &u.Login, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsReadOnly, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, regerr.New(regerr.NotFound, "token not found")
	}
	if err != nil {
		return nil, nil, wrapTransient(err, "looking up token")
	}
	if revoked {
		return nil, nil, regerr.New(regerr.NotFound, "token revoked")
	}
	if tok.ExpiresAt != nil && tok.ExpiresAt.Before(time.Now().UTC()) {
		return nil, nil, regerr.New(regerr.NotFound, "token expired")
	}

	tok.ID = strconv.FormatInt(tokID, 10)
	tok.UserID = strconv.FormatInt(userID, 10)
	u.ID = strconv.FormatInt(uID, 10)
	return &tok, &u, nil
}

// GetTokenByID fetches a token by its public ID, regardless of
// revoked/expired state, so a revoke handler can check ownership before
// acting and recover the hash needed to invalidate the token cache.
func (s *sqlStore) GetTokenByID(ctx context.Context, tokenID string) (*types.Token, error) {
	id, err := parseID(tokenID)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, user_id, name, kind, hash, prefix, created_at, last_used_at, expires_at
		FROM tokens WHERE id = $1`), id)

	var tok types.Token
	var tokID, userID int64
	err = row.Scan(&tokID, &userID, &tok.Name, &tok.Kind, &tok.Hash, &tok.Prefix,
		&tok.CreatedAt, &tok.LastUsedAt, &tok.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, regerr.New(regerr.NotFound, "token not found")
	}
	if err != nil {
		return nil, wrapTransient(err, "getting token")
	}
	tok.ID = strconv.FormatInt(tokID, 10)
	tok.UserID = strconv.FormatInt(userID, 10)
	return &tok, nil
}

// ListTokensForUser returns every non-revoked token belonging to userID,
// newest first, for a self-service token management listing.
func (s *sqlStore) ListTokensForUser(ctx context.Context, userID string) ([]types.Token, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, user_id, name, kind, hash, prefix, created_at, last_used_at, expires_at
		FROM tokens WHERE user_id = $1 AND revoked = FALSE ORDER BY created_at DESC`), id)
	if err != nil {
		return nil, wrapTransient(err, "listing tokens")
	}
	defer rows.Close()

	var out []types.Token
	for rows.Next() {
		var tok types.Token
		var tokID, uID int64
		if err := rows.Scan(&tokID, &uID, &tok.Name, &tok.Kind, &tok.Hash, &tok.Prefix,
			&tok.CreatedAt, &tok.LastUsedAt, &tok.ExpiresAt); err != nil {
			return nil, wrapTransient(err, "scanning token")
		}
		tok.ID = strconv.FormatInt(tokID, 10)
		tok.UserID = strconv.FormatInt(uID, 10)
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (s *sqlStore) TouchToken(ctx context.Context, tokenID string) error {
	id, err := parseID(tokenID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE tokens SET last_used_at = $1 WHERE id = $2`), time.Now().UTC(), id)
	if err != nil {
		return wrapTransient(err, "touching token")
	}
	return nil
}

func (s *sqlStore) RevokeToken(ctx context.Context, tokenID string) error {
	id, err := parseID(tokenID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tokens SET revoked = TRUE WHERE id = $1`), id)
	if err != nil {
		return wrapTransient(err, "revoking token")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.New(regerr.NotFound, "token not found")
	}
	return nil
}

func (s *sqlStore) CreateSession(ctx context.Context, session types.Session) error {
	userID, err := parseID(session.UserID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`), session.ID, userID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return wrapTransient(err, "creating session")
	}
	return nil
}

func (s *sqlStore) GetSession(ctx context.Context, id string) (*types.Session, *types.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT s.id, s.user_id, s.created_at, s.expires_at,
		u.id, u.login, u.name, u.email, u.password_hash, u.is_admin, u.is_read_only, u.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = $1`), id)

	var sess types.Session
	var userID, uID int64
	var u types.User
	err := row.Scan(&sess.ID, &userID, &sess.CreatedAt, &sess.ExpiresAt,
		&uID, &u.Login, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsReadOnly, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, regerr.New(regerr.NotFound, "session not found")
	}
	if err != nil {
		return nil, nil, wrapTransient(err, "looking up session")
	}
	if sess.ExpiresAt.Before(time.Now().UTC()) {
		return nil, nil, regerr.New(regerr.NotFound, "session expired")
	}
	sess.UserID = strconv.FormatInt(userID, 10)
	u.ID = strconv.FormatInt(uID, 10)
	return &sess, &u, nil
}

func (s *sqlStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE id = $1`), id)
	if err != nil {
		return wrapTransient(err, "deleting session")
	}
	return nil
}

func scanUserRow(row rowScanner) (*types.User, error) {
	var id int64
	var u types.User
	err := row.Scan(&id, &u.Login, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsReadOnly, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, regerr.New(regerr.NotFound, "user not found")
	}
	if err != nil {
		return nil, wrapTransient(err, "scanning user")
	}
	u.ID = strconv.FormatInt(id, 10)
	return &u, nil
}
