package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/deploy"
	"github.com/houzhh15/certflow/hierarchy"
	"github.com/houzhh15/certflow/notify"
	"github.com/houzhh15/certflow/pki"
	"github.com/houzhh15/certflow/policy"
	"github.com/houzhh15/certflow/renewal"
)

// 端到端场景：签发三级证书链落盘，扫描目录、重建层级、
// 跑一轮批量续期，验证层级完整且策略跟随新身份
func TestLifecycle_EndToEnd(t *testing.T) {
	certDir := t.TempDir()
	toolkit := pki.NewLocalToolkit()
	extractor := cert.NewExtractor(nil)
	ctx := context.Background()

	// 根 CA → 中间 CA → 业务证书，全部临期（5 天）
	rootCertPEM, rootKeyPEM, err := toolkit.IssueSelfSigned(&pki.IssueRequest{
		Name:         "ca.local",
		SANs:         []string{"ca.local"},
		ValidityDays: 5,
		CA:           true,
	})
	require.NoError(t, err)
	writePair(t, certDir, "ca", rootCertPEM, rootKeyPEM)

	intCertPEM, intKeyPEM := signChild(t, toolkit, "int.local", rootCertPEM, rootKeyPEM, true)
	writePair(t, certDir, "int", intCertPEM, intKeyPEM)

	svcCertPEM, svcKeyPEM := signChild(t, toolkit, "svc.local", intCertPEM, intKeyPEM, false)
	writePair(t, certDir, "svc", svcCertPEM, svcKeyPEM)

	// 扫描与层级重建：三级链，零孤儿
	records, err := extractor.ScanDir(certDir)
	require.NoError(t, err)
	require.Len(t, records, 3)

	forest := hierarchy.NewBuilder(nil).Build(records)
	require.Len(t, forest, 1)
	root := forest[0]
	assert.Equal(t, "ca.local", root.Name)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "int.local", root.Children[0].Name)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "svc.local", root.Children[0].Children[0].Name)

	// 策略存储与引擎装配
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	defaults := policy.GlobalDefaults{
		RootCADays:            3650,
		IntermediateCADays:    1825,
		StandardDays:          365,
		RenewDaysBeforeExpiry: 30,
		BackupEnabled:         true,
		CASignStandard:        true,
	}
	store, err := policy.NewDBStore(db, defaults)
	require.NoError(t, err)

	for _, record := range records {
		require.NoError(t, store.Set(ctx, &policy.CertificatePolicy{
			Fingerprint: record.Fingerprint,
			AutoRenew:   true,
		}))
	}

	broker := notify.NewBroker(notify.NewCache(), nil, time.Second, nil, nil)
	orchestrator, err := renewal.NewOrchestrator(&renewal.OrchestratorConfig{
		Toolkit:   toolkit,
		Store:     store,
		Extractor: extractor,
		Broker:    broker,
		Migrator:  policy.NewMigrator(store, nil),
		Runner:    deploy.NewRunner(noopRuntime{}, nil, nil),
	})
	require.NoError(t, err)

	engine := renewal.NewEngine(renewal.NewEvaluator(), orchestrator, store, nil)
	summary := engine.RunBatch(ctx, records)

	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 3, summary.Due)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Renewed, 3)

	// 续期后重新扫描：备份文件不计入，三张证书全部换上新身份
	renewed, err := extractor.ScanDir(certDir)
	require.NoError(t, err)
	require.Len(t, renewed, 3)

	for _, record := range renewed {
		for _, old := range records {
			assert.NotEqual(t, old.Fingerprint, record.Fingerprint, "all certificates must carry new identities")
		}
	}

	// 每个证书恰好一条存活策略，各带一段谱系
	policies, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 3)
	for _, pol := range policies {
		assert.True(t, pol.AutoRenew, "flags must follow the new identity")
		assert.Len(t, pol.PreviousVersions, 1)
	}

	// 备份沿用旧生效日期命名
	backups, err := filepath.Glob(filepath.Join(certDir, "*.bak"))
	require.NoError(t, err)
	assert.Len(t, backups, 6)
}

func writePair(t *testing.T, dir, name string, certPEM, keyPEM []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".pem"), certPEM, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".key"), keyPEM, 0600))
}

func signChild(t *testing.T, toolkit *pki.LocalToolkit, name string, caCertPEM, caKeyPEM []byte, asCA bool) ([]byte, []byte) {
	t.Helper()

	csrPEM, keyPEM, err := toolkit.CreateCSR(name, []string{name}, nil, "")
	require.NoError(t, err)

	certPEM, err := toolkit.SignCSR(&pki.SignRequest{
		CSRPEM:       csrPEM,
		CACertPEM:    caCertPEM,
		CAKeyPEM:     caKeyPEM,
		ValidityDays: 5,
		CA:           asCA,
	})
	require.NoError(t, err)

	return certPEM, keyPEM
}

type noopRuntime struct{}

func (noopRuntime) Restart(ctx context.Context, containerID string) error { return nil }
