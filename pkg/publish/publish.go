package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/cuemby/cargohold/pkg/auth"
	"github.com/cuemby/cargohold/pkg/metrics"
	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/types"
)

// Notifier is the narrow slice of pkg/webhook's dispatcher that the
// publish pipeline needs, kept here instead of importing pkg/webhook
// directly so the two packages don't depend on each other's internals.
type Notifier interface {
	Notify(ctx context.Context, crateName string, event types.WebhookEvent, payload []byte)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, types.WebhookEvent, []byte) {}

// Service implements the publish/download/yank pipeline.
type Service struct {
	store               store.Store
	blobs               *objectstore.Facade
	notifier            Notifier
	maxCrateSize        int64
	requiredFields      []string
	newCratesRestricted bool
}

// Config configures a Service.
type Config struct {
	Store        store.Store
	Blobs        *objectstore.Facade
	Notifier     Notifier
	MaxCrateSize int64

	// RequiredFields lists metadata fields (by publish wire JSON key)
	// that must be non-empty for a publish to be accepted.
	RequiredFields []string

	// NewCratesRestricted requires principal be an admin to publish a
	// crate name that doesn't already exist; publishing a new version
	// of an existing crate is unaffected.
	NewCratesRestricted bool
}

func New(cfg Config) *Service {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		store:               cfg.Store,
		blobs:               cfg.Blobs,
		notifier:            notifier,
		maxCrateSize:        cfg.MaxCrateSize,
		requiredFields:      cfg.RequiredFields,
		newCratesRestricted: cfg.NewCratesRestricted,
	}
}

// Result is what a successful Publish reports back to the HTTP layer.
type Result struct {
	Name    string
	Version string
}

// requireWritable rejects any mutating call from a read-only user: one
// who may authenticate and download but never publish, yank, or manage
// ownership.
func requireWritable(principal auth.Principal) error {
	if principal.IsReadOnly {
		return regerr.Newf(regerr.Forbidden, "%s holds a read-only account", principal.Login)
	}
	return nil
}

// Publish parses a wire frame from body, validates it, resolves
// ownership, and writes the version through pkg/store and the tarball
// through pkg/objectstore. A brand-new crate is owned by principal; an
// existing crate requires principal already be an owner or an admin.
func (s *Service) Publish(ctx context.Context, principal auth.Principal, body io.Reader) (*Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PublishDuration)

	if err := requireWritable(principal); err != nil {
		metrics.PublishTotal.WithLabelValues("forbidden").Inc()
		return nil, err
	}

	meta, crateBytes, err := ParseFrame(body, s.maxCrateSize)
	if err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := types.ValidateName(meta.Name); err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := types.ValidateVersion(meta.Vers); err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := types.ValidateRequiredFields(meta, s.requiredFields); err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	name := types.Normalize(meta.Name)
	meta.Name = name

	existing, err := s.store.GetCrate(ctx, name)
	if err != nil && !regerr.Is(err, regerr.NotFound) {
		metrics.PublishTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if existing != nil {
		owner, err := s.store.IsOwner(ctx, name, principal.Login)
		if err != nil {
			metrics.PublishTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if !owner && !principal.IsAdmin {
			metrics.PublishTotal.WithLabelValues("forbidden").Inc()
			return nil, regerr.Newf(regerr.Forbidden, "%s is not an owner of %s", principal.Login, name)
		}
	} else if s.newCratesRestricted && !principal.IsAdmin {
		metrics.PublishTotal.WithLabelValues("forbidden").Inc()
		return nil, regerr.Newf(regerr.Forbidden, "publishing new crates is restricted to admins")
	}

	sum := sha256.Sum256(crateBytes)
	checksum := hex.EncodeToString(sum[:])
	record := types.NewRecord(meta, checksum)

	description := ""
	if meta.Description != nil {
		description = *meta.Description
	}
	homepage := ""
	if meta.Homepage != nil {
		homepage = *meta.Homepage
	}
	repository := ""
	if meta.Repository != nil {
		repository = *meta.Repository
	}
	documentation := ""
	if meta.Documentation != nil {
		documentation = *meta.Documentation
	}
	license := ""
	if meta.License != nil {
		license = *meta.License
	}
	licenseFile := ""
	if meta.LicenseFile != nil {
		licenseFile = *meta.LicenseFile
	}

	crate := types.Crate{
		Name:          name,
		Description:   description,
		Homepage:      homepage,
		Repository:    repository,
		Documentation: documentation,
	}
	version := types.CrateVersion{
		Version:     meta.Vers,
		Checksum:    checksum,
		License:     license,
		LicenseFile: licenseFile,
		Features:    record.Features,
		Deps:        record.Deps,
		CreatedAt:   time.Now().UTC(),
	}
	if record.Links != nil {
		version.Links = *record.Links
	}

	if err := s.store.PublishVersion(ctx, crate, version, principal.Login); err != nil {
		if regerr.Is(err, regerr.AlreadyExists) {
			metrics.PublishTotal.WithLabelValues("duplicate").Inc()
		} else {
			metrics.PublishTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if err := s.blobs.Put(ctx, objectstore.CrateKey(name, meta.Vers), bytes.NewReader(crateBytes), int64(len(crateBytes))); err != nil {
		metrics.PublishTotal.WithLabelValues("error").Inc()
		return nil, regerr.Wrap(regerr.Fatal, "storing crate tarball", err)
	}

	metrics.PublishTotal.WithLabelValues("ok").Inc()
	if payload, err := json.Marshal(record); err == nil {
		s.notifier.Notify(ctx, name, types.WebhookEventPublish, payload)
	}

	return &Result{Name: name, Version: meta.Vers}, nil
}

// Download returns the tarball bytes for name@version, incrementing the
// version's download counter. source labels the metrics counter —
// "local" for crates this registry owns, "upstream" for proxied ones.
// principal is nil for an anonymous caller; a download_restricted crate
// rejects anonymous callers and anyone who isn't an owner, a grantee of
// the ACL, or an admin.
func (s *Service) Download(ctx context.Context, principal *auth.Principal, name, version, source string) (io.ReadCloser, error) {
	crate, err := s.store.GetCrate(ctx, name)
	if err != nil {
		return nil, err
	}
	if crate.DownloadRestricted {
		if principal == nil {
			return nil, regerr.Newf(regerr.Unauthenticated, "%s requires authentication to download", name)
		}
		if !principal.IsAdmin {
			allowed, err := s.store.CanDownload(ctx, name, principal.Login)
			if err != nil {
				return nil, err
			}
			if !allowed {
				return nil, regerr.Newf(regerr.Forbidden, "%s is not permitted to download %s", principal.Login, name)
			}
		}
	}

	key := objectstore.CrateKey(name, version)
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// Counting is best-effort: a failure here must not block a download
	// that has already succeeded.
	_ = s.store.IncrementDownloads(ctx, name, version)
	metrics.DownloadsTotal.WithLabelValues(source).Inc()
	return rc, nil
}

// Yank flips a version's yanked flag, requiring principal own the crate
// or be an admin.
func (s *Service) Yank(ctx context.Context, principal auth.Principal, name, version string, yanked bool) error {
	if err := requireWritable(principal); err != nil {
		return err
	}
	owner, err := s.store.IsOwner(ctx, name, principal.Login)
	if err != nil {
		return err
	}
	if !owner && !principal.IsAdmin {
		return regerr.Newf(regerr.Forbidden, "%s is not an owner of %s", principal.Login, name)
	}

	if err := s.store.YankVersion(ctx, name, version, yanked); err != nil {
		return err
	}

	event := types.WebhookEventYank
	if !yanked {
		event = types.WebhookEventUnyank
	}
	s.notifier.Notify(ctx, name, event, []byte(`{"name":"`+name+`","vers":"`+version+`"}`))
	return nil
}

// AddOwner grants ownership of name to userLogin; only an existing
// owner or an admin may do so.
func (s *Service) AddOwner(ctx context.Context, principal auth.Principal, name, userLogin string) error {
	if err := requireWritable(principal); err != nil {
		return err
	}
	owner, err := s.store.IsOwner(ctx, name, principal.Login)
	if err != nil {
		return err
	}
	if !owner && !principal.IsAdmin {
		return regerr.Newf(regerr.Forbidden, "%s is not an owner of %s", principal.Login, name)
	}
	return s.store.AddOwner(ctx, name, userLogin)
}

// RemoveOwner revokes userLogin's ownership of name; only an existing
// owner or an admin may do so.
func (s *Service) RemoveOwner(ctx context.Context, principal auth.Principal, name, userLogin string) error {
	if err := requireWritable(principal); err != nil {
		return err
	}
	owner, err := s.store.IsOwner(ctx, name, principal.Login)
	if err != nil {
		return err
	}
	if !owner && !principal.IsAdmin {
		return regerr.Newf(regerr.Forbidden, "%s is not an owner of %s", principal.Login, name)
	}
	return s.store.RemoveOwner(ctx, name, userLogin)
}

// ListOwners lists the crate's current owners.
func (s *Service) ListOwners(ctx context.Context, name string) ([]types.User, error) {
	return s.store.ListOwners(ctx, name)
}
