package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/houzhh15/certflow/cert"
)

func testRecord(fingerprint string) *cert.Record {
	return &cert.Record{
		Fingerprint: fingerprint,
		Name:        "svc.local",
		ValidFrom:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Class:       cert.ClassStandard,
	}
}

func TestMigrate_CarriesPolicyForward(t *testing.T) {
	store := setupTestStore(t)
	migrator := NewMigrator(store, nil)
	ctx := context.Background()

	caSign := false
	oldPolicy := &CertificatePolicy{
		Fingerprint:           "sha256:old",
		AutoRenew:             true,
		RenewDaysBeforeExpiry: 21,
		Domains:               []string{"svc.local"},
		CASign:                &caSign,
	}
	if err := store.Set(ctx, oldPolicy); err != nil {
		t.Fatalf("seed old policy: %v", err)
	}

	backup := Backup{CertPath: "/certs/svc.pem.2025-01-01.bak", KeyPath: "/certs/svc.key.2025-01-01.bak"}
	if err := migrator.Migrate(ctx, testRecord("sha256:old"), testRecord("sha256:new"), backup); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// 旧记录已退役
	if _, err := store.Get(ctx, "sha256:old"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("old policy must be removed, got %v", err)
	}

	got, err := store.Get(ctx, "sha256:new")
	if err != nil {
		t.Fatalf("get new policy: %v", err)
	}
	if !got.AutoRenew || got.RenewDaysBeforeExpiry != 21 {
		t.Errorf("flags not carried forward: %+v", got)
	}
	if got.CASign == nil || *got.CASign {
		t.Error("ca sign override not carried forward")
	}
	if len(got.PreviousVersions) != 1 {
		t.Fatalf("expected 1 previous version, got %d", len(got.PreviousVersions))
	}
	version := got.PreviousVersions[0]
	if version.Fingerprint != "sha256:old" {
		t.Errorf("version fingerprint: %s", version.Fingerprint)
	}
	if version.BackupCertPath != backup.CertPath || version.BackupKeyPath != backup.KeyPath {
		t.Errorf("backup paths not recorded: %+v", version)
	}
	if version.RenewedAt.IsZero() {
		t.Error("renewed at timestamp missing")
	}
}

func TestMigrate_AccumulatesLineage(t *testing.T) {
	store := setupTestStore(t)
	migrator := NewMigrator(store, nil)
	ctx := context.Background()

	if err := store.Set(ctx, &CertificatePolicy{Fingerprint: "sha256:gen1", AutoRenew: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := migrator.Migrate(ctx, testRecord("sha256:gen1"), testRecord("sha256:gen2"), Backup{}); err != nil {
		t.Fatalf("first migration: %v", err)
	}
	if err := migrator.Migrate(ctx, testRecord("sha256:gen2"), testRecord("sha256:gen3"), Backup{}); err != nil {
		t.Fatalf("second migration: %v", err)
	}

	policies, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// 不变式：每个存活身份恰好一条策略记录
	if len(policies) != 1 {
		t.Fatalf("expected exactly one live policy, got %d", len(policies))
	}

	got := policies[0]
	if got.Fingerprint != "sha256:gen3" {
		t.Errorf("live fingerprint: %s", got.Fingerprint)
	}
	if len(got.PreviousVersions) != 2 {
		t.Fatalf("expected lineage of 2, got %d", len(got.PreviousVersions))
	}
	if got.PreviousVersions[0].Fingerprint != "sha256:gen1" || got.PreviousVersions[1].Fingerprint != "sha256:gen2" {
		t.Errorf("lineage out of order: %+v", got.PreviousVersions)
	}
}

func TestMigrate_NoPolicyIsNoop(t *testing.T) {
	store := setupTestStore(t)
	migrator := NewMigrator(store, nil)
	ctx := context.Background()

	if err := migrator.Migrate(ctx, testRecord("sha256:unknown"), testRecord("sha256:new"), Backup{}); err != nil {
		t.Fatalf("migration without policy must be a no-op, got %v", err)
	}

	policies, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(policies) != 0 {
		t.Errorf("no policy should have been created, got %d", len(policies))
	}
}

func TestMigrate_SameFingerprintIsNoop(t *testing.T) {
	store := setupTestStore(t)
	migrator := NewMigrator(store, nil)
	ctx := context.Background()

	if err := store.Set(ctx, &CertificatePolicy{Fingerprint: "sha256:same", AutoRenew: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := migrator.Migrate(ctx, testRecord("sha256:same"), testRecord("sha256:same"), Backup{}); err != nil {
		t.Fatalf("same fingerprint migration: %v", err)
	}

	got, err := store.Get(ctx, "sha256:same")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.PreviousVersions) != 0 {
		t.Error("same-fingerprint migration must not touch lineage")
	}
}

// failingStore 写入失败的存储桩，用于验证迁移顺序
type failingStore struct {
	Store
	failSet bool
}

func (s *failingStore) Set(ctx context.Context, policy *CertificatePolicy) error {
	if s.failSet {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, policy)
}

func TestMigrate_SetFailureKeepsOldPolicy(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, &CertificatePolicy{Fingerprint: "sha256:old", AutoRenew: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	migrator := NewMigrator(&failingStore{Store: store, failSet: true}, nil)
	err := migrator.Migrate(ctx, testRecord("sha256:old"), testRecord("sha256:new"), Backup{})
	if err == nil {
		t.Fatal("expected migration failure")
	}

	// 新记录写入失败时旧记录必须完好
	if _, err := store.Get(ctx, "sha256:old"); err != nil {
		t.Errorf("old policy must survive a failed migration, got %v", err)
	}
	if _, err := store.Get(ctx, "sha256:new"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("new policy must not exist after failed migration, got %v", err)
	}
}
