package renewal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/deploy"
	"github.com/houzhh15/certflow/logging"
	"github.com/houzhh15/certflow/notify"
	"github.com/houzhh15/certflow/pki"
	"github.com/houzhh15/certflow/policy"
)

var (
	// ErrNoRootCA 中间 CA 续期找不到根 CA，该次续期失败
	ErrNoRootCA = errors.New("no root CA available for signing")
	// ErrNoSigner 标准证书要求 CA 签发但没有可用的 CA
	ErrNoSigner = errors.New("no signing CA available")
)

// Result 一次续期的结果
type Result struct {
	Success        bool           `json:"success"`
	OldFingerprint string         `json:"old_fingerprint"`
	NewFingerprint string         `json:"new_fingerprint"`
	Record         *cert.Record   `json:"record"`
	CertPath       string         `json:"cert_path"`
	KeyPath        string         `json:"key_path"`
	BackupCertPath string         `json:"backup_cert_path,omitempty"`
	BackupKeyPath  string         `json:"backup_key_path,omitempty"`
	DeployReport   *deploy.Report `json:"deploy_report,omitempty"`
}

// Orchestrator 续期编排器
// 对单个证书执行换钥重签：解析签名链、获取口令、备份旧材料、
// 签发后从落盘证书重新提取权威元数据，再迁移身份并执行部署动作
type Orchestrator struct {
	toolkit   pki.Toolkit
	store     policy.Store
	extractor *cert.Extractor
	broker    *notify.Broker
	migrator  *policy.Migrator
	runner    *deploy.Runner
	logger    logging.Logger
	audit     logging.AuditLogger
}

// OrchestratorConfig 编排器依赖
type OrchestratorConfig struct {
	Toolkit   pki.Toolkit
	Store     policy.Store
	Extractor *cert.Extractor
	Broker    *notify.Broker
	Migrator  *policy.Migrator
	Runner    *deploy.Runner
	Logger    logging.Logger
	Audit     logging.AuditLogger
}

// NewOrchestrator 创建续期编排器
func NewOrchestrator(cfg *OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Toolkit == nil {
		return nil, fmt.Errorf("toolkit is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("passphrase broker is required")
	}

	return &Orchestrator{
		toolkit:   cfg.Toolkit,
		store:     cfg.Store,
		extractor: cfg.Extractor,
		broker:    cfg.Broker,
		migrator:  cfg.Migrator,
		runner:    cfg.Runner,
		logger:    cfg.Logger,
		audit:     cfg.Audit,
	}, nil
}

// Renew 续期单个证书
// pool 为当前证书集合，用于解析签名链；trigger 标记触发来源（scheduled/manual）
func (o *Orchestrator) Renew(ctx context.Context, record *cert.Record, pool []*cert.Record, trigger string) (*Result, error) {
	start := time.Now()

	result, err := o.renew(ctx, record, pool)
	recordRenewal(string(record.Class), err == nil, time.Since(start).Seconds())

	if o.audit != nil {
		event := &logging.RenewalEvent{
			OldFingerprint: record.Fingerprint,
			Name:           record.Name,
			CertClass:      string(record.Class),
			Trigger:        trigger,
			Result:         "success",
		}
		if err != nil {
			event.Result = "failure"
			event.Reason = err.Error()
		} else {
			event.NewFingerprint = result.NewFingerprint
		}
		if auditErr := o.audit.LogRenewal(ctx, event); auditErr != nil && o.logger != nil {
			o.logger.Warn("Audit renewal event failed", "error", auditErr)
		}
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) renew(ctx context.Context, record *cert.Record, pool []*cert.Record) (*Result, error) {
	if record.CertPath == "" {
		return nil, fmt.Errorf("certificate %s has no file path", record.Fingerprint)
	}

	pol, err := o.getPolicy(ctx, record.Fingerprint)
	if err != nil {
		return nil, err
	}

	defaults := o.store.GlobalDefaults()

	// 域名：策略覆盖优先
	sans := record.Domains
	if len(pol.Domains) > 0 {
		sans = pol.Domains
	}
	name := record.Name
	if len(sans) > 0 {
		name = sans[0]
	}

	certPath := record.CertPath
	keyPath := record.KeyPath
	if keyPath == "" {
		keyPath = strings.TrimSuffix(certPath, filepath.Ext(certPath)) + ".key"
	}

	// 写入新材料前备份旧材料；原文件不存在（首次签发）不算失败
	var backupCert, backupKey string
	if defaults.BackupEnabled {
		backupCert = backupFile(certPath, record.ValidFrom)
		backupKey = backupFile(keyPath, record.ValidFrom)
	}

	var certPEM, keyPEM []byte
	switch record.Class {
	case cert.ClassRootCA:
		certPEM, keyPEM, err = o.renewRootCA(ctx, record, name, sans, defaults)
	case cert.ClassIntermediateCA:
		certPEM, keyPEM, err = o.renewIntermediateCA(ctx, record, name, sans, pool, defaults)
	default:
		certPEM, keyPEM, err = o.renewStandard(ctx, record, pol, name, sans, pool, defaults)
	}
	if err != nil {
		// 已生成的备份保留，续期前材料不动
		return nil, err
	}

	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return nil, fmt.Errorf("write certificate: %w", err)
	}
	if keyPEM != nil {
		if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
			return nil, fmt.Errorf("write private key: %w", err)
		}
	}

	// 权威元数据来自落盘证书，绝不信任签发请求的输入
	newRecord, err := o.extractor.ExtractFile(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("extract renewed certificate: %w", err)
	}

	result := &Result{
		Success:        true,
		OldFingerprint: record.Fingerprint,
		NewFingerprint: newRecord.Fingerprint,
		Record:         newRecord,
		CertPath:       certPath,
		KeyPath:        keyPath,
		BackupCertPath: backupCert,
		BackupKeyPath:  backupKey,
	}

	if o.logger != nil {
		o.logger.Info("Certificate renewed",
			"name", record.Name,
			"class", record.Class,
			"old_fingerprint", record.Fingerprint,
			"new_fingerprint", newRecord.Fingerprint,
		)
	}

	// 身份迁移失败只降级为告警：证书本身已有效，策略联动退化为默认值
	if o.migrator != nil {
		backup := policy.Backup{CertPath: backupCert, KeyPath: backupKey}
		if err := o.migrator.Migrate(ctx, record, newRecord, backup); err != nil && o.logger != nil {
			o.logger.Warn("Identity migration failed",
				"old_fingerprint", record.Fingerprint,
				"new_fingerprint", newRecord.Fingerprint,
				"error", err,
			)
		}
	}

	// 部署动作逐个隔离执行，失败不影响续期结果
	if o.runner != nil && len(pol.DeployActions) > 0 {
		result.DeployReport = o.runner.Run(ctx, newRecord, pol.DeployActions)
	}

	return result, nil
}

// renewRootCA 自签名续期：同名同 SAN 的新证书/密钥对
func (o *Orchestrator) renewRootCA(ctx context.Context, record *cert.Record, name string, sans []string, defaults policy.GlobalDefaults) ([]byte, []byte, error) {
	var passphrase string
	if record.HasPassphrase {
		acquired, err := o.broker.Acquire(ctx, record.Fingerprint, record.Name)
		if err != nil {
			return nil, nil, err
		}
		passphrase = acquired
	}

	certPEM, keyPEM, err := o.toolkit.IssueSelfSigned(&pki.IssueRequest{
		Name:         name,
		SANs:         sans,
		ValidityDays: defaults.RootCADays,
		CA:           true,
		Passphrase:   passphrase,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("issue self-signed root: %w", err)
	}
	return certPEM, keyPEM, nil
}

// renewIntermediateCA 生成新密钥和 CSR，找到首个根 CA 并用其私钥签署
func (o *Orchestrator) renewIntermediateCA(ctx context.Context, record *cert.Record, name string, sans []string, pool []*cert.Record, defaults policy.GlobalDefaults) ([]byte, []byte, error) {
	root := firstOfClass(pool, cert.ClassRootCA, record.Fingerprint)
	if root == nil {
		return nil, nil, ErrNoRootCA
	}

	return o.signWithCA(ctx, root, name, sans, defaults.IntermediateCADays, true)
}

// renewStandard 按策略决定自签名或 CA 签发；CA 签发时优先选择中间 CA
func (o *Orchestrator) renewStandard(ctx context.Context, record *cert.Record, pol *policy.CertificatePolicy, name string, sans []string, pool []*cert.Record, defaults policy.GlobalDefaults) ([]byte, []byte, error) {
	if !pol.ShouldCASign(defaults) {
		certPEM, keyPEM, err := o.toolkit.IssueSelfSigned(&pki.IssueRequest{
			Name:         name,
			SANs:         sans,
			ValidityDays: defaults.StandardDays,
			CA:           false,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("issue self-signed certificate: %w", err)
		}
		return certPEM, keyPEM, nil
	}

	signer := firstOfClass(pool, cert.ClassIntermediateCA, record.Fingerprint)
	if signer == nil {
		signer = firstOfClass(pool, cert.ClassRootCA, record.Fingerprint)
	}
	if signer == nil {
		return nil, nil, ErrNoSigner
	}

	return o.signWithCA(ctx, signer, name, sans, defaults.StandardDays, false)
}

// signWithCA 生成新密钥和 CSR，必要时获取签名口令，用指定 CA 签署
func (o *Orchestrator) signWithCA(ctx context.Context, signer *cert.Record, name string, sans []string, validityDays int, asCA bool) ([]byte, []byte, error) {
	var passphrase string
	if signer.HasPassphrase {
		acquired, err := o.broker.Acquire(ctx, signer.Fingerprint, signer.Name)
		if err != nil {
			return nil, nil, err
		}
		passphrase = acquired
	}

	caCertPEM, err := os.ReadFile(signer.CertPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read signer certificate: %w", err)
	}
	if signer.KeyPath == "" {
		return nil, nil, fmt.Errorf("signer %s has no private key path", signer.Name)
	}
	caKeyPEM, err := os.ReadFile(signer.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read signer key: %w", err)
	}

	csrPEM, keyPEM, err := o.toolkit.CreateCSR(name, sans, nil, "")
	if err != nil {
		return nil, nil, fmt.Errorf("create csr: %w", err)
	}

	certPEM, err := o.toolkit.SignCSR(&pki.SignRequest{
		CSRPEM:       csrPEM,
		CACertPEM:    caCertPEM,
		CAKeyPEM:     caKeyPEM,
		CAPassphrase: passphrase,
		ValidityDays: validityDays,
		SANs:         sans,
		CA:           asCA,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("sign csr: %w", err)
	}

	return certPEM, keyPEM, nil
}

// getPolicy 读取策略，缺失时落到默认形状
func (o *Orchestrator) getPolicy(ctx context.Context, fingerprint string) (*policy.CertificatePolicy, error) {
	pol, err := o.store.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			return policy.DefaultPolicy(fingerprint, o.store.GlobalDefaults()), nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return pol, nil
}

// firstOfClass 按输入顺序返回池中首个指定类别的证书（排除自身）
func firstOfClass(pool []*cert.Record, class cert.Class, excludeFingerprint string) *cert.Record {
	for _, candidate := range pool {
		if candidate.Class == class && candidate.Fingerprint != excludeFingerprint {
			return candidate
		}
	}
	return nil
}

// backupFile 生成带旧生效日期的备份副本，源文件不存在时返回空路径
func backupFile(path string, validFrom time.Time) string {
	src, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.%s.bak", path, validFrom.Format("2006-01-02"))
	dst, err := os.OpenFile(backupPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return ""
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return ""
	}
	return backupPath
}
