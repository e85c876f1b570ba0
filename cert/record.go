package cert

import "time"

// Class 证书类别
type Class string

const (
	ClassRootCA         Class = "root_ca"         // 自签名 CA（信任锚点）
	ClassIntermediateCA Class = "intermediate_ca" // 由其他 CA 签发的 CA
	ClassStandard       Class = "standard"        // 终端实体证书
)

// Record 证书记录（某一时刻的不可变快照）
// Fingerprint 是配置查询的稳定身份键，续期后会改变
type Record struct {
	Fingerprint    string    `json:"fingerprint"`                // 证书指纹（SHA256，形如 "sha256:<hex>"）
	SubjectKeyID   string    `json:"subject_key_id,omitempty"`   // 使用者密钥标识（hex，旧证书可能缺失）
	AuthorityKeyID string    `json:"authority_key_id,omitempty"` // 颁发者密钥标识（hex，旧证书可能缺失）
	Name           string    `json:"name"`                       // 通用名称（CN）
	Domains        []string  `json:"domains"`                    // SAN 列表，首项为通用名称
	Subject        string    `json:"subject"`                    // 证书主题
	Issuer         string    `json:"issuer"`                     // 签发者
	ValidFrom      time.Time `json:"valid_from"`                 // 有效期开始时间
	ValidTo        time.Time `json:"valid_to"`                   // 有效期结束时间
	Class          Class     `json:"class"`                      // 证书类别
	CertPath       string    `json:"cert_path,omitempty"`        // 证书文件路径（目录树由外部管理）
	KeyPath        string    `json:"key_path,omitempty"`         // 私钥文件路径
	HasPassphrase  bool      `json:"has_passphrase"`             // 私钥是否加密
}

// IsCA 是否为 CA 证书（根或中间）
func (r *Record) IsCA() bool {
	return r.Class == ClassRootCA || r.Class == ClassIntermediateCA
}

// CommonName 返回首个域名（即通用名称）
func (r *Record) CommonName() string {
	if len(r.Domains) > 0 {
		return r.Domains[0]
	}
	return r.Name
}
