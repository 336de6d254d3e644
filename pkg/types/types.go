package types

import "time"

// Crate is a published package name in the registry.
type Crate struct {
	ID          string
	Name        string // normalized (lowercase, hyphens preserved)
	Description string
	Homepage    string
	Repository  string
	Documentation string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Downloads is the all-time download counter across all versions.
	Downloads int64

	// MaxVersion is the highest semver among non-yanked versions,
	// maintained incrementally so index/search responses avoid a scan.
	MaxVersion string

	// ETag is sha256 of the crate's canonical sparse-index serialization,
	// recomputed within the same transaction as any index mutation.
	ETag string

	// DownloadRestricted gates Download behind an ACL check: when true,
	// only an owner, a user or group granted access, or an admin may
	// fetch the tarball.
	DownloadRestricted bool
}

// Group is a named set of users that can be granted download access to
// a DownloadRestricted crate without listing every member individually.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// CrateVersion is a single published version of a Crate.
type CrateVersion struct {
	ID        string
	CrateID   string
	Version   string // semver, as submitted
	Checksum  string // sha256 hex of the .crate tarball
	Yanked    bool
	YankedAt  *time.Time
	License   string
	LicenseFile string
	Links     string
	Features  map[string][]string
	Downloads int64
	CreatedAt time.Time

	// Deps are the dependency entries recorded at publish time, used to
	// rebuild the sparse index Record without re-reading the tarball.
	Deps []Dependency
}

// Ownership is the many-to-many edge between a User and a Crate.
type Ownership struct {
	CrateID string
	UserID  string
	AddedAt time.Time
}

// User is a registry account.
type User struct {
	ID           string
	Login        string
	Name         string
	Email        string
	PasswordHash string // bcrypt, or legacy "sha256$salt$hex" pending upgrade
	IsAdmin      bool
	IsReadOnly   bool // may authenticate and download, never publish/yank/own
	CreatedAt    time.Time
}

// TokenKind distinguishes the two kinds of bearer credential the registry
// issues.
type TokenKind string

const (
	TokenKindAPI     TokenKind = "api"
	TokenKindSession TokenKind = "session"
)

// Token is an API token belonging to a User. The plaintext secret is never
// stored; only its hash is persisted, and the lookup path is always by
// hash so a leaked database dump does not yield usable credentials.
type Token struct {
	ID         string
	UserID     string
	Name       string
	Kind       TokenKind
	Hash       string // unpadded base64url sha256 of the token secret
	Prefix     string // first chars of the token, shown in UI listings
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
}

// Session is a browser login session, referenced by a signed cookie
// carrying Session.ID.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// UpstreamCrate is the locally cached state of a crate served by an
// upstream registry through the proxy.
type UpstreamCrate struct {
	Name          string
	LastRefreshed time.Time
	ETag          string // upstream's ETag, for conditional refresh
	LastModified  string // upstream's Last-Modified, for conditional refresh
	NotFound      bool   // upstream returned 404 for this name
	Downloads     int64  // total downloads served through the proxy for this crate
	Description   string // best-effort, fetched once from the upstream API on first cache
}

// UpstreamVersion is one version within an UpstreamCrate's cached index,
// mirroring the subset of Record fields the proxy needs to serve
// downloads without re-fetching the index.
type UpstreamVersion struct {
	CrateName string
	Version   string
	Checksum  string
	Yanked    bool
	CachedAt  time.Time // zero if the .crate blob has not been prefetched
}

// Webhook is a delivery endpoint notified of registry events.
type Webhook struct {
	ID         string
	CrateID    string // empty means a registry-wide webhook
	URL        string
	SecretEnc  []byte // AES-256-GCM ciphertext of the HMAC signing secret
	Events     []WebhookEvent
	Active     bool
	CreatedAt  time.Time
}

// WebhookEvent names a kind of event a Webhook can subscribe to.
type WebhookEvent string

const (
	WebhookEventPublish WebhookEvent = "publish"
	WebhookEventYank    WebhookEvent = "yank"
	WebhookEventUnyank  WebhookEvent = "unyank"
)

// WebhookDelivery is one attempted delivery of an event to a Webhook.
type WebhookDelivery struct {
	ID           string
	WebhookID    string
	Event        WebhookEvent
	Payload      []byte
	Attempts     int
	LastStatus   int
	LastError    string
	DeliveredAt  *time.Time
	NextAttempt  time.Time
	CreatedAt    time.Time
}
