package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL backend in use, since the store rewrites
// placeholders and a handful of column types per dialect rather than
// pulling in a full query builder.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is the relational store's public contract. Every method
// that can fail on a dropped connection or a lock conflict returns a
// regerr.Transient error so idempotent callers may retry.
type Store interface {
	// Crates and versions
	GetCrate(ctx context.Context, name string) (*types.Crate, error)
	PublishVersion(ctx context.Context, crate types.Crate, version types.CrateVersion, ownerLogin string) error
	GetVersion(ctx context.Context, crateName, version string) (*types.CrateVersion, error)
	ListVersions(ctx context.Context, crateName string) ([]types.CrateVersion, error)
	YankVersion(ctx context.Context, crateName, version string, yanked bool) error
	DeleteVersion(ctx context.Context, crateName, version string) error
	IncrementDownloads(ctx context.Context, crateName, version string) error
	SearchCrates(ctx context.Context, query string, limit int) ([]types.Crate, error)
	CountCrates(ctx context.Context) (int64, error)
	CountCrateVersions(ctx context.Context) (int64, error)

	// Ownership
	ListOwners(ctx context.Context, crateName string) ([]types.User, error)
	IsOwner(ctx context.Context, crateName, userLogin string) (bool, error)
	AddOwner(ctx context.Context, crateName, userLogin string) error
	RemoveOwner(ctx context.Context, crateName, userLogin string) error

	// Download ACL: enforced only when the crate's download_restricted
	// flag is set; AddAccessUser/AddAccessGroup/CreateGroup/AddGroupMember
	// are management primitives with no HTTP surface yet.
	SetDownloadRestricted(ctx context.Context, crateName string, restricted bool) error
	CanDownload(ctx context.Context, crateName, userLogin string) (bool, error)
	AddAccessUser(ctx context.Context, crateName, userLogin string) error
	RemoveAccessUser(ctx context.Context, crateName, userLogin string) error
	CreateGroup(ctx context.Context, name string) (*types.Group, error)
	AddGroupMember(ctx context.Context, groupName, userLogin string) error
	AddAccessGroup(ctx context.Context, crateName, groupName string) error
	RemoveAccessGroup(ctx context.Context, crateName, groupName string) error

	// Users, tokens, sessions
	GetUserByLogin(ctx context.Context, login string) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	CreateUser(ctx context.Context, user types.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	NoUserExists(ctx context.Context) (bool, error)
	CreateToken(ctx context.Context, token types.Token) error
	GetTokenByHash(ctx context.Context, hash string) (*types.Token, *types.User, error)
	GetTokenByID(ctx context.Context, tokenID string) (*types.Token, error)
	ListTokensForUser(ctx context.Context, userID string) ([]types.Token, error)
	TouchToken(ctx context.Context, tokenID string) error
	RevokeToken(ctx context.Context, tokenID string) error
	CreateSession(ctx context.Context, session types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, *types.User, error)
	DeleteSession(ctx context.Context, id string) error

	// Upstream proxy cache
	GetUpstreamCrate(ctx context.Context, name string) (*types.UpstreamCrate, error)
	UpsertUpstreamCrate(ctx context.Context, crate types.UpstreamCrate) error
	SetUpstreamDescription(ctx context.Context, name, description string) error
	UpsertUpstreamVersion(ctx context.Context, version types.UpstreamVersion) error
	ListUpstreamVersions(ctx context.Context, crateName string) ([]types.UpstreamVersion, error)
	MarkUpstreamVersionCached(ctx context.Context, crateName, version string) error
	IncrementUpstreamDownloads(ctx context.Context, name string) error
	ListStaleUpstreamCrates(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	// Webhooks
	CreateWebhook(ctx context.Context, webhook types.Webhook) (string, error)
	GetWebhook(ctx context.Context, id string) (*types.Webhook, error)
	ListWebhooksForCrate(ctx context.Context, crateName string, event types.WebhookEvent) ([]types.Webhook, error)
	CreateWebhookDelivery(ctx context.Context, delivery types.WebhookDelivery) error
	ListPendingWebhookDeliveries(ctx context.Context, limit int) ([]types.WebhookDelivery, error)
	RecordWebhookDeliveryResult(ctx context.Context, deliveryID string, status int, deliveryErr string, nextAttempt *time.Time) error

	Close() error
}

// sqlStore implements Store over database/sql, portable between SQLite
// and Postgres by rewriting "$n" placeholders to "?" for SQLite and by
// keeping every DDL/DML statement within the subset both dialects
// accept (see schema.go).
type sqlStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open creates a Store against driverName/dsn ("sqlite" or "pgx"),
// applies connection pool limits, ensures the schema exists, and
// returns the ready-to-use store.
func Open(driverName, dsn string, maxConns int) (Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	dialect := DialectSQLite
	if driverName == "pgx" {
		dialect = DialectPostgres
	}

	s := &sqlStore{db: db, dialect: dialect}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring store schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// q rewrites a statement written with Postgres-style "$1", "$2", ...
// placeholders into SQLite's "?" form when the store is running
// against SQLite, so every other file in the package can be written
// once in Postgres syntax.
func (s *sqlStore) q(query string) string {
	if s.dialect != DialectSQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			b.WriteByte('?')
			i = j - 1
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) blobType() string {
	if s.dialect == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

func (s *sqlStore) autoID() string {
	if s.dialect == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// parseID converts a public, string-typed entity ID back into the
// int64 backing it binds to. SQLite's type affinity would coerce a
// numeric string into an INTEGER column automatically, but Postgres
// does not — so every write path binds int64, not the string ID types
// hand around.
func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, regerr.Newf(regerr.Invalid, "malformed id %q", id)
	}
	return n, nil
}
