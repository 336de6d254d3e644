package store

import (
	"context"
	"testing"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"
)

func TestCanDownloadUnrestrictedCrateAllowsAnyone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")
	mustCreateUser(t, s, "mallory")

	if err := s.PublishVersion(ctx, types.Crate{Name: "serde"}, types.CrateVersion{
		Version: "1.0.0", Checksum: "abc", Features: map[string][]string{},
	}, "alice"); err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}

	allowed, err := s.CanDownload(ctx, "serde", "mallory")
	if err != nil {
		t.Fatalf("CanDownload: %v", err)
	}
	if !allowed {
		t.Fatal("expected an unrestricted crate to allow any caller")
	}
}

func TestCanDownloadRestrictedCrateChecksOwnerDirectAndGroupGrants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")
	mustCreateUser(t, s, "mallory")
	mustCreateUser(t, s, "bob")

	if err := s.PublishVersion(ctx, types.Crate{Name: "serde"}, types.CrateVersion{
		Version: "1.0.0", Checksum: "abc", Features: map[string][]string{},
	}, "alice"); err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}
	if err := s.SetDownloadRestricted(ctx, "serde", true); err != nil {
		t.Fatalf("SetDownloadRestricted: %v", err)
	}

	if allowed, err := s.CanDownload(ctx, "serde", "alice"); err != nil || !allowed {
		t.Fatalf("expected owner to be allowed, got allowed=%v err=%v", allowed, err)
	}
	if allowed, err := s.CanDownload(ctx, "serde", "mallory"); err != nil || allowed {
		t.Fatalf("expected non-owner/non-grantee to be denied, got allowed=%v err=%v", allowed, err)
	}

	if err := s.AddAccessUser(ctx, "serde", "mallory"); err != nil {
		t.Fatalf("AddAccessUser: %v", err)
	}
	if allowed, err := s.CanDownload(ctx, "serde", "mallory"); err != nil || !allowed {
		t.Fatalf("expected directly-granted user to be allowed, got allowed=%v err=%v", allowed, err)
	}
	if err := s.RemoveAccessUser(ctx, "serde", "mallory"); err != nil {
		t.Fatalf("RemoveAccessUser: %v", err)
	}
	if allowed, _ := s.CanDownload(ctx, "serde", "mallory"); allowed {
		t.Fatal("expected revoked direct access to deny download")
	}

	if _, err := s.CreateGroup(ctx, "trusted"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.AddGroupMember(ctx, "trusted", "bob"); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}
	if allowed, _ := s.CanDownload(ctx, "serde", "bob"); allowed {
		t.Fatal("expected group membership without a crate grant to deny download")
	}
	if err := s.AddAccessGroup(ctx, "serde", "trusted"); err != nil {
		t.Fatalf("AddAccessGroup: %v", err)
	}
	if allowed, err := s.CanDownload(ctx, "serde", "bob"); err != nil || !allowed {
		t.Fatalf("expected group-granted member to be allowed, got allowed=%v err=%v", allowed, err)
	}
	if err := s.RemoveAccessGroup(ctx, "serde", "trusted"); err != nil {
		t.Fatalf("RemoveAccessGroup: %v", err)
	}
	if allowed, _ := s.CanDownload(ctx, "serde", "bob"); allowed {
		t.Fatal("expected revoked group access to deny download")
	}
}

func TestCanDownloadUnknownCrateIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CanDownload(context.Background(), "ghost", "alice"); !regerr.Is(err, regerr.NotFound) {
		t.Fatalf("expected NotFound for an unknown crate, got %v", err)
	}
}
