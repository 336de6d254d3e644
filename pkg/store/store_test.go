package store

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open("sqlite", "file::memory:?cache=shared", 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateUser(t *testing.T, s Store, login string) {
	t.Helper()
	if err := s.CreateUser(context.Background(), types.User{Login: login, PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func TestPublishVersionCreatesCrateAndRecomputesETag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")

	err := s.PublishVersion(ctx, types.Crate{Name: "serde"}, types.CrateVersion{
		Version:  "1.0.0",
		Checksum: "abc123",
		Features: map[string][]string{},
	}, "alice")
	if err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}

	crate, err := s.GetCrate(ctx, "serde")
	if err != nil {
		t.Fatalf("GetCrate: %v", err)
	}
	if crate.MaxVersion != "1.0.0" {
		t.Fatalf("expected max_version 1.0.0, got %q", crate.MaxVersion)
	}
	if crate.ETag == "" {
		t.Fatal("expected non-empty etag after publish")
	}

	owners, err := s.ListOwners(ctx, "serde")
	if err != nil {
		t.Fatalf("ListOwners: %v", err)
	}
	if len(owners) != 1 || owners[0].Login != "alice" {
		t.Fatalf("expected alice as sole owner, got %+v", owners)
	}
}

func TestPublishDuplicateVersionRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")

	meta := types.CrateVersion{Version: "1.0.0", Checksum: "abc", Features: map[string][]string{}}
	if err := s.PublishVersion(ctx, types.Crate{Name: "serde"}, meta, "alice"); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	err := s.PublishVersion(ctx, types.Crate{Name: "serde"}, meta, "alice")
	if !regerr.Is(err, regerr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}

	crate, err := s.GetCrate(ctx, "serde")
	if err != nil {
		t.Fatalf("GetCrate: %v", err)
	}
	versions, err := s.ListVersions(ctx, "serde")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected the rejected duplicate to leave exactly one version row, got %d", len(versions))
	}
	_ = crate
}

func TestYankRecomputesMaxVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")

	for _, v := range []string{"1.0.0", "1.1.0"} {
		meta := types.CrateVersion{Version: v, Checksum: "cksum-" + v, Features: map[string][]string{}}
		if err := s.PublishVersion(ctx, types.Crate{Name: "tokio"}, meta, "alice"); err != nil {
			t.Fatalf("PublishVersion %s: %v", v, err)
		}
	}

	if err := s.YankVersion(ctx, "tokio", "1.1.0", true); err != nil {
		t.Fatalf("YankVersion: %v", err)
	}

	crate, err := s.GetCrate(ctx, "tokio")
	if err != nil {
		t.Fatalf("GetCrate: %v", err)
	}
	if crate.MaxVersion != "1.0.0" {
		t.Fatalf("expected max_version to fall back to 1.0.0 once 1.1.0 is yanked, got %q", crate.MaxVersion)
	}

	versions, err := s.ListVersions(ctx, "tokio")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	for _, v := range versions {
		if v.Version == "1.1.0" && !v.Yanked {
			t.Fatal("expected 1.1.0 to be marked yanked")
		}
	}
}

func TestDeleteVersionRetainsCrateRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")

	meta := types.CrateVersion{Version: "1.0.0", Checksum: "abc", Features: map[string][]string{}}
	if err := s.PublishVersion(ctx, types.Crate{Name: "rand"}, meta, "alice"); err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}
	if err := s.DeleteVersion(ctx, "rand", "1.0.0"); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}

	if _, err := s.GetCrate(ctx, "rand"); err != nil {
		t.Fatalf("expected crate row to survive deleting its only version: %v", err)
	}
	if _, err := s.GetVersion(ctx, "rand", "1.0.0"); !regerr.Is(err, regerr.NotFound) {
		t.Fatalf("expected NotFound for deleted version, got %v", err)
	}
}

func TestTokenLookupRejectsExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")
	user, err := s.GetUserByLogin(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByLogin: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	err = s.CreateToken(ctx, types.Token{UserID: user.ID, Hash: "h1", Kind: types.TokenKindAPI, ExpiresAt: &past})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, _, err = s.GetTokenByHash(ctx, "h1")
	if !regerr.Is(err, regerr.NotFound) {
		t.Fatalf("expected NotFound for expired token, got %v", err)
	}
}

func TestStaleUpstreamCratesOrderedOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	older := now.Add(-2 * time.Hour)
	newer := now.Add(-time.Minute)

	if err := s.UpsertUpstreamCrate(ctx, types.UpstreamCrate{Name: "a", LastRefreshed: older}); err != nil {
		t.Fatalf("UpsertUpstreamCrate a: %v", err)
	}
	if err := s.UpsertUpstreamCrate(ctx, types.UpstreamCrate{Name: "b", LastRefreshed: newer}); err != nil {
		t.Fatalf("UpsertUpstreamCrate b: %v", err)
	}

	stale, err := s.ListStaleUpstreamCrates(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListStaleUpstreamCrates: %v", err)
	}
	if len(stale) != 2 || stale[0] != "a" {
		t.Fatalf("expected [a b] oldest-first, got %v", stale)
	}
}

func TestWebhookCreateAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateWebhook(ctx, types.Webhook{
		URL:       "https://example.test/hook",
		SecretEnc: []byte("ciphertext"),
		Events:    []types.WebhookEvent{types.WebhookEventPublish, types.WebhookEventYank},
	})
	if err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	got, err := s.GetWebhook(ctx, id)
	if err != nil {
		t.Fatalf("GetWebhook: %v", err)
	}
	if got.URL != "https://example.test/hook" || !got.Active {
		t.Fatalf("unexpected webhook %+v", got)
	}
	if len(got.Events) != 2 {
		t.Fatalf("expected 2 events, got %v", got.Events)
	}
}

func TestGetWebhookMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetWebhook(ctx, "999999"); !regerr.Is(err, regerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListWebhooksForCrateFiltersByCrateAndEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")

	meta := types.CrateVersion{Version: "1.0.0", Checksum: "abc", Features: map[string][]string{}}
	if err := s.PublishVersion(ctx, types.Crate{Name: "serde"}, meta, "alice"); err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}

	if _, err := s.CreateWebhook(ctx, types.Webhook{
		CrateID:   "",
		URL:       "https://example.test/global",
		SecretEnc: []byte("x"),
		Events:    []types.WebhookEvent{types.WebhookEventPublish},
	}); err != nil {
		t.Fatalf("CreateWebhook global: %v", err)
	}
	if _, err := s.CreateWebhook(ctx, types.Webhook{
		URL:       "https://example.test/yank-only",
		SecretEnc: []byte("x"),
		Events:    []types.WebhookEvent{types.WebhookEventYank},
	}); err != nil {
		t.Fatalf("CreateWebhook yank-only: %v", err)
	}

	hooks, err := s.ListWebhooksForCrate(ctx, "serde", types.WebhookEventPublish)
	if err != nil {
		t.Fatalf("ListWebhooksForCrate: %v", err)
	}
	if len(hooks) != 1 || hooks[0].URL != "https://example.test/global" {
		t.Fatalf("expected only the publish-subscribed global webhook, got %+v", hooks)
	}
}
