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

// SetDownloadRestricted flips a crate's download_restricted flag;
// Download only enforces the ACL when this is true.
func (s *sqlStore) SetDownloadRestricted(ctx context.Context, crateName string, restricted bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE crates SET download_restricted = $1 WHERE name = $2`),
		restricted, crateName)
	if err != nil {
		return wrapTransient(err, "setting download_restricted")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.Newf(regerr.NotFound, "crate %s not found", crateName)
	}
	return nil
}

// CanDownload reports whether userLogin may fetch crateName's tarballs:
// true unconditionally when the crate isn't download_restricted, and
// otherwise true for an owner, a user granted direct access, or a
// member of a group granted access. Admin bypass is the caller's
// responsibility (pkg/publish), since CanDownload has no principal to
// check IsAdmin against.
func (s *sqlStore) CanDownload(ctx context.Context, crateName, userLogin string) (bool, error) {
	var restricted bool
	err := s.db.QueryRowContext(ctx, s.q(`SELECT download_restricted FROM crates WHERE name = $1`), crateName).Scan(&restricted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, regerr.Newf(regerr.NotFound, "crate %s not found", crateName)
	}
	if err != nil {
		return false, wrapTransient(err, "checking download_restricted")
	}
	if !restricted {
		return true, nil
	}

	var n int
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM crates c, users u
		WHERE c.name = $1 AND u.login = $2 AND (
			EXISTS (SELECT 1 FROM owners o WHERE o.crate_id = c.id AND o.user_id = u.id)
			OR EXISTS (SELECT 1 FROM crate_access_users cau WHERE cau.crate_id = c.id AND cau.user_id = u.id)
			OR EXISTS (
				SELECT 1 FROM crate_access_groups cag
				JOIN group_members gm ON gm.group_id = cag.group_id
				WHERE cag.crate_id = c.id AND gm.user_id = u.id
			)
		)`), crateName, userLogin).Scan(&n)
	if err != nil {
		return false, wrapTransient(err, "checking download acl")
	}
	return n > 0, nil
}

// AddAccessUser grants userLogin direct download access to a
// download_restricted crate.
func (s *sqlStore) AddAccessUser(ctx context.Context, crateName, userLogin string) error {
	crateID, err := s.lookupCrateID(ctx, crateName)
	if err != nil {
		return err
	}
	userID, err := s.lookupUserID(ctx, userLogin)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO crate_access_users (crate_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`), crateID, userID)
	if err != nil {
		return wrapTransient(err, "granting crate access")
	}
	return nil
}

// RemoveAccessUser revokes userLogin's direct download access.
func (s *sqlStore) RemoveAccessUser(ctx context.Context, crateName, userLogin string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM crate_access_users
		WHERE crate_id = (SELECT id FROM crates WHERE name = $1)
		AND user_id = (SELECT id FROM users WHERE login = $2)`), crateName, userLogin)
	if err != nil {
		return wrapTransient(err, "revoking crate access")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.Newf(regerr.NotFound, "%s has no direct access to %s", userLogin, crateName)
	}
	return nil
}

// CreateGroup creates a named group that crates can grant download
// access to.
func (s *sqlStore) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO groups (name, created_at) VALUES ($1, $2)`), name, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, regerr.Newf(regerr.AlreadyExists, "group %s already exists", name)
		}
		return nil, wrapTransient(err, "creating group")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrapTransient(err, "reading new group id")
	}
	return &types.Group{ID: strconv.FormatInt(id, 10), Name: name, CreatedAt: now}, nil
}

// AddGroupMember adds userLogin to groupName.
func (s *sqlStore) AddGroupMember(ctx context.Context, groupName, userLogin string) error {
	var groupID int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM groups WHERE name = $1`), groupName).Scan(&groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return regerr.Newf(regerr.NotFound, "group %s not found", groupName)
		}
		return wrapTransient(err, "looking up group")
	}
	userID, err := s.lookupUserID(ctx, userLogin)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`), groupID, userID)
	if err != nil {
		return wrapTransient(err, "adding group member")
	}
	return nil
}

// AddAccessGroup grants every member of groupName download access to a
// download_restricted crate.
func (s *sqlStore) AddAccessGroup(ctx context.Context, crateName, groupName string) error {
	crateID, err := s.lookupCrateID(ctx, crateName)
	if err != nil {
		return err
	}
	var groupID int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM groups WHERE name = $1`), groupName).Scan(&groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return regerr.Newf(regerr.NotFound, "group %s not found", groupName)
		}
		return wrapTransient(err, "looking up group")
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO crate_access_groups (crate_id, group_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`), crateID, groupID)
	if err != nil {
		return wrapTransient(err, "granting group access")
	}
	return nil
}

// RemoveAccessGroup revokes groupName's download access.
func (s *sqlStore) RemoveAccessGroup(ctx context.Context, crateName, groupName string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM crate_access_groups
		WHERE crate_id = (SELECT id FROM crates WHERE name = $1)
		AND group_id = (SELECT id FROM groups WHERE name = $2)`), crateName, groupName)
	if err != nil {
		return wrapTransient(err, "revoking group access")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.Newf(regerr.NotFound, "%s has no access grant on %s", groupName, crateName)
	}
	return nil
}

func (s *sqlStore) lookupCrateID(ctx context.Context, crateName string) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM crates WHERE name = $1`), crateName).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, regerr.Newf(regerr.NotFound, "crate %s not found", crateName)
		}
		return 0, wrapTransient(err, "looking up crate")
	}
	return id, nil
}

func (s *sqlStore) lookupUserID(ctx context.Context, userLogin string) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM users WHERE login = $1`), userLogin).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, regerr.Newf(regerr.NotFound, "user %s not found", userLogin)
		}
		return 0, wrapTransient(err, "looking up user")
	}
	return id, nil
}
