package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/logging"
)

// Backup 续期时生成的备份文件路径
type Backup struct {
	CertPath string
	KeyPath  string
}

// Migrator 身份迁移器
// 续期产生新指纹后，将策略从旧身份迁移到新身份并记录版本历史
type Migrator struct {
	store  Store
	logger logging.Logger
}

// NewMigrator 创建身份迁移器
func NewMigrator(store Store, logger logging.Logger) *Migrator {
	return &Migrator{store: store, logger: logger}
}

// Migrate 将旧指纹的策略迁移到新指纹
// 顺序约束：先持久化新记录，再删除旧记录——新记录写入失败时旧记录必须完好
func (m *Migrator) Migrate(ctx context.Context, oldRecord, newRecord *cert.Record, backup Backup) error {
	if oldRecord.Fingerprint == newRecord.Fingerprint {
		return nil
	}

	oldPolicy, err := m.store.Get(ctx, oldRecord.Fingerprint)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			// 无策略可迁移
			return nil
		}
		return fmt.Errorf("read old policy: %w", err)
	}

	newPolicy := &CertificatePolicy{
		Fingerprint:           newRecord.Fingerprint,
		AutoRenew:             oldPolicy.AutoRenew,
		RenewDaysBeforeExpiry: oldPolicy.RenewDaysBeforeExpiry,
		DeployActions:         oldPolicy.DeployActions,
		Domains:               oldPolicy.Domains,
		CASign:                oldPolicy.CASign,
		PreviousVersions: append(append([]PreviousVersion{}, oldPolicy.PreviousVersions...), PreviousVersion{
			Fingerprint:    oldRecord.Fingerprint,
			ValidFrom:      oldRecord.ValidFrom,
			ValidTo:        oldRecord.ValidTo,
			BackupCertPath: backup.CertPath,
			BackupKeyPath:  backup.KeyPath,
			RenewedAt:      time.Now(),
		}),
	}

	if err := m.store.Set(ctx, newPolicy); err != nil {
		return fmt.Errorf("persist new policy: %w", err)
	}

	if err := m.store.Remove(ctx, oldRecord.Fingerprint); err != nil {
		// 新记录已生效，旧记录残留需要人工修正
		return fmt.Errorf("retire old policy: %w", err)
	}

	if m.logger != nil {
		m.logger.Info("Policy migrated",
			"old_fingerprint", oldRecord.Fingerprint,
			"new_fingerprint", newRecord.Fingerprint,
			"versions", len(newPolicy.PreviousVersions),
		)
	}

	return nil
}
