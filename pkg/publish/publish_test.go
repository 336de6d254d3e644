package publish

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/cuemby/cargohold/pkg/auth"
	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", 1)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fs, err := objectstore.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	facade, err := objectstore.NewFacade(fs, "fs", 8, 1<<20)
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}

	if err := s.CreateUser(context.Background(), types.User{Login: "alice", PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	return New(Config{Store: s, Blobs: facade, MaxCrateSize: 1 << 20})
}

func buildFrame(t *testing.T, meta types.PublishMetadata, crate []byte) io.Reader {
	t.Helper()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(metaJSON)))
	buf.Write(metaJSON)
	binary.Write(&buf, binary.LittleEndian, uint32(len(crate)))
	buf.Write(crate)
	return &buf
}

func TestPublishDownloadRoundTrip(t *testing.T) {
	svc := newTestService(t)
	alice := auth.Principal{Login: "alice"}
	ctx := context.Background()

	meta := types.PublishMetadata{Name: "Serde", Vers: "1.0.0", Features: map[string][]string{}}
	frame := buildFrame(t, meta, []byte("tarball-bytes"))

	result, err := svc.Publish(ctx, alice, frame)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result.Name != "serde" {
		t.Fatalf("expected normalized name 'serde', got %q", result.Name)
	}

	rc, err := svc.Download(ctx, nil, "serde", "1.0.0", "local")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "tarball-bytes" {
		t.Fatalf("expected downloaded bytes to match published tarball, got %q", data)
	}
}

func TestPublishByNonOwnerIsForbidden(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); err != nil {
		t.Fatalf("initial publish: %v", err)
	}

	mallory := auth.Principal{Login: "mallory"}
	meta2 := types.PublishMetadata{Name: "serde", Vers: "1.1.0", Features: map[string][]string{}}
	_, err := svc.Publish(ctx, mallory, buildFrame(t, meta2, []byte("v1.1")))
	if !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden for non-owner publish, got %v", err)
	}
}

func TestPublishDuplicateVersionRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); err != nil {
		t.Fatalf("initial publish: %v", err)
	}

	_, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1-again")))
	if !regerr.Is(err, regerr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists for duplicate publish, got %v", err)
	}
}

func TestYankRequiresOwnership(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mallory := auth.Principal{Login: "mallory"}
	err := svc.Yank(ctx, mallory, "serde", "1.0.0", true)
	if !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}

	if err := svc.Yank(ctx, alice, "serde", "1.0.0", true); err != nil {
		t.Fatalf("expected owner yank to succeed: %v", err)
	}
}

func TestPublishEnforcesRequiredFields(t *testing.T) {
	svc := newTestService(t)
	svc.requiredFields = []string{"license", "description"}
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); !regerr.Is(err, regerr.Invalid) {
		t.Fatalf("expected Invalid for missing required fields, got %v", err)
	}

	desc, license := "a crate", "MIT"
	meta.Description, meta.License = &desc, &license
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); err != nil {
		t.Fatalf("expected publish with required fields present to succeed: %v", err)
	}
}

func TestPublishRestrictsNewCratesToAdmins(t *testing.T) {
	svc := newTestService(t)
	svc.newCratesRestricted = true
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden for non-admin publishing a new crate, got %v", err)
	}

	admin := auth.Principal{Login: "alice", IsAdmin: true}
	if _, err := svc.Publish(ctx, admin, buildFrame(t, meta, []byte("v1"))); err != nil {
		t.Fatalf("expected admin to publish a new crate: %v", err)
	}
}

func TestPublishRejectsReadOnlyPrincipal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := auth.Principal{Login: "alice", IsReadOnly: true}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	_, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1")))
	if !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden for read-only publish, got %v", err)
	}
}

func TestYankRejectsReadOnlyPrincipal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); err != nil {
		t.Fatalf("publish: %v", err)
	}

	readOnlyAlice := auth.Principal{Login: "alice", IsReadOnly: true}
	if err := svc.Yank(ctx, readOnlyAlice, "serde", "1.0.0", true); !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden for read-only yank, got %v", err)
	}
}

func TestAdminBypassesOwnershipOnExistingCrate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("v1"))); err != nil {
		t.Fatalf("initial publish: %v", err)
	}

	if err := svc.store.CreateUser(ctx, types.User{Login: "admin", PasswordHash: "x", IsAdmin: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	admin := auth.Principal{Login: "admin", IsAdmin: true}

	meta2 := types.PublishMetadata{Name: "serde", Vers: "1.1.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, admin, buildFrame(t, meta2, []byte("v1.1"))); err != nil {
		t.Fatalf("expected admin to publish to an existing crate despite not owning it: %v", err)
	}

	if err := svc.Yank(ctx, admin, "serde", "1.1.0", true); err != nil {
		t.Fatalf("expected admin to yank despite not owning the crate: %v", err)
	}

	if err := svc.AddOwner(ctx, admin, "serde", "admin"); err != nil {
		t.Fatalf("expected admin to add an owner despite not owning the crate: %v", err)
	}
	if err := svc.RemoveOwner(ctx, admin, "serde", "admin"); err != nil {
		t.Fatalf("expected admin to remove an owner despite not owning the crate: %v", err)
	}
}

func TestDownloadEnforcesACLOnRestrictedCrate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	if _, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("tarball-bytes"))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.store.SetDownloadRestricted(ctx, "serde", true); err != nil {
		t.Fatalf("SetDownloadRestricted: %v", err)
	}

	if _, err := svc.Download(ctx, nil, "serde", "1.0.0", "local"); !regerr.Is(err, regerr.Unauthenticated) {
		t.Fatalf("expected Unauthenticated for anonymous download of a restricted crate, got %v", err)
	}

	if err := svc.store.CreateUser(ctx, types.User{Login: "mallory", PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	mallory := auth.Principal{Login: "mallory"}
	if _, err := svc.Download(ctx, &mallory, "serde", "1.0.0", "local"); !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden for a non-owner, non-grantee download, got %v", err)
	}

	if rc, err := svc.Download(ctx, &alice, "serde", "1.0.0", "local"); err != nil {
		t.Fatalf("expected owner to download a restricted crate: %v", err)
	} else {
		rc.Close()
	}

	if err := svc.store.AddAccessUser(ctx, "serde", "mallory"); err != nil {
		t.Fatalf("AddAccessUser: %v", err)
	}
	if rc, err := svc.Download(ctx, &mallory, "serde", "1.0.0", "local"); err != nil {
		t.Fatalf("expected ACL-granted user to download a restricted crate: %v", err)
	} else {
		rc.Close()
	}

	admin := auth.Principal{Login: "someone-else", IsAdmin: true}
	if rc, err := svc.Download(ctx, &admin, "serde", "1.0.0", "local"); err != nil {
		t.Fatalf("expected admin to bypass the download ACL: %v", err)
	} else {
		rc.Close()
	}
}

func TestPublishRejectsOversizedCrate(t *testing.T) {
	svc := newTestService(t)
	svc.maxCrateSize = 4
	ctx := context.Background()
	alice := auth.Principal{Login: "alice"}

	meta := types.PublishMetadata{Name: "serde", Vers: "1.0.0", Features: map[string][]string{}}
	_, err := svc.Publish(ctx, alice, buildFrame(t, meta, []byte("way too big")))
	if !regerr.Is(err, regerr.Invalid) {
		t.Fatalf("expected Invalid for oversized crate, got %v", err)
	}
}
