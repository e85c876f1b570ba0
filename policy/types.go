package policy

import (
	"time"

	"github.com/houzhh15/certflow/deploy"
)

// CertificatePolicy 证书策略（以指纹为键持久化）
// 不变式：每个存活指纹恰好对应一条策略记录；续期必须退役旧记录并创建新记录
type CertificatePolicy struct {
	Fingerprint           string            `json:"fingerprint"`
	AutoRenew             bool              `json:"auto_renew"`
	RenewDaysBeforeExpiry int               `json:"renew_days_before_expiry"` // 仅标准证书使用
	DeployActions         []deploy.Action   `json:"deploy_actions,omitempty"`
	Domains               []string          `json:"domains,omitempty"` // 域名覆盖
	CASign                *bool             `json:"ca_sign,omitempty"` // 标准证书签名方式覆盖，nil 表示使用全局默认
	PreviousVersions      []PreviousVersion `json:"previous_versions,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// PreviousVersion 历史版本（续期审计轨迹）
// 跨代谱系的规范指针：工具可沿该链回溯任意旧指纹
type PreviousVersion struct {
	Fingerprint    string    `json:"fingerprint"`
	ValidFrom      time.Time `json:"valid_from"`
	ValidTo        time.Time `json:"valid_to"`
	BackupCertPath string    `json:"backup_cert_path,omitempty"`
	BackupKeyPath  string    `json:"backup_key_path,omitempty"`
	RenewedAt      time.Time `json:"renewed_at"`
}

// GlobalDefaults 全局默认值（按类别索引的有效期等）
type GlobalDefaults struct {
	RootCADays            int  `json:"root_ca_days"`
	IntermediateCADays    int  `json:"intermediate_ca_days"`
	StandardDays          int  `json:"standard_days"`
	RenewDaysBeforeExpiry int  `json:"renew_days_before_expiry"`
	BackupEnabled         bool `json:"backup_enabled"`
	CASignStandard        bool `json:"ca_sign_standard"` // 标准证书默认是否由 CA 签发
}

// ShouldCASign 标准证书的签名方式：策略覆盖优先，其次全局默认
func (p *CertificatePolicy) ShouldCASign(defaults GlobalDefaults) bool {
	if p != nil && p.CASign != nil {
		return *p.CASign
	}
	return defaults.CASignStandard
}

// RenewThreshold 标准证书的续期提前量（仅策略显式设置时覆盖全局默认）
func (p *CertificatePolicy) RenewThreshold(defaults GlobalDefaults) int {
	if p != nil && p.RenewDaysBeforeExpiry > 0 {
		return p.RenewDaysBeforeExpiry
	}
	return defaults.RenewDaysBeforeExpiry
}
