package cert

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/houzhh15/certflow/logging"
)

// Extractor 证书元数据提取器
// 将原始证书（和可选私钥）解析为结构化 Record
type Extractor struct {
	logger logging.Logger
}

// NewExtractor 创建元数据提取器
func NewExtractor(logger logging.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractPEM 从 PEM 编码的证书（和可选私钥）提取记录
func (e *Extractor) ExtractPEM(certPEM, keyPEM []byte) (*Record, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate PEM block found")
	}

	x509Cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	record := &Record{
		Fingerprint:    Fingerprint(x509Cert.Raw),
		SubjectKeyID:   hex.EncodeToString(x509Cert.SubjectKeyId),
		AuthorityKeyID: hex.EncodeToString(x509Cert.AuthorityKeyId),
		Name:           x509Cert.Subject.CommonName,
		Subject:        x509Cert.Subject.String(),
		Issuer:         x509Cert.Issuer.String(),
		ValidFrom:      x509Cert.NotBefore,
		ValidTo:        x509Cert.NotAfter,
		Class:          classify(x509Cert),
		Domains:        domains(x509Cert),
	}

	if record.Name == "" && len(record.Domains) > 0 {
		record.Name = record.Domains[0]
	}

	if keyPEM != nil {
		record.HasPassphrase = keyEncrypted(keyPEM)
	}

	return record, nil
}

// ExtractFile 从文件提取记录，keyPath 可以为空或不存在
func (e *Extractor) ExtractFile(certPath, keyPath string) (*Record, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}

	var keyPEM []byte
	if keyPath != "" {
		if data, err := os.ReadFile(keyPath); err == nil {
			keyPEM = data
		} else {
			keyPath = ""
		}
	}

	record, err := e.ExtractPEM(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	record.CertPath = certPath
	record.KeyPath = keyPath
	return record, nil
}

// ScanDir 扫描证书目录并返回去重后的记录列表
// 无法解析的文件跳过并记录告警；重复指纹首次出现者保留
func (e *Extractor) ScanDir(dir string) ([]*Record, error) {
	var records []*Record
	seen := make(map[string]bool)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isCertFile(path) {
			return nil
		}

		record, exErr := e.ExtractFile(path, SiblingKeyPath(path))
		if exErr != nil {
			if e.logger != nil {
				e.logger.Warn("Skipping unreadable certificate", "path", path, "error", exErr)
			}
			return nil
		}

		if seen[record.Fingerprint] {
			return nil
		}
		seen[record.Fingerprint] = true
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan certificate directory: %w", err)
	}

	return records, nil
}

// Fingerprint 计算证书指纹（SHA256 over raw DER）
func Fingerprint(rawDER []byte) string {
	hash := sha256.Sum256(rawDER)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// SiblingKeyPath 返回证书文件的常规同名私钥路径
// 约定：<name>.key，其次 <name>-key.pem
func SiblingKeyPath(certPath string) string {
	base := strings.TrimSuffix(certPath, filepath.Ext(certPath))

	keyPath := base + ".key"
	if _, err := os.Stat(keyPath); err == nil {
		return keyPath
	}

	keyPath = base + "-key.pem"
	if _, err := os.Stat(keyPath); err == nil {
		return keyPath
	}

	return ""
}

// classify 判定证书类别
// RootCA：CA 标志置位且主题等于签发者；IntermediateCA：CA 标志置位且主题不等于签发者
func classify(c *x509.Certificate) Class {
	if c.IsCA {
		if bytes.Equal(c.RawSubject, c.RawIssuer) {
			return ClassRootCA
		}
		return ClassIntermediateCA
	}
	return ClassStandard
}

// domains 构造 SAN 列表，通用名称置于首位
func domains(c *x509.Certificate) []string {
	var result []string
	seen := make(map[string]bool)

	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		result = append(result, name)
	}

	add(c.Subject.CommonName)
	for _, name := range c.DNSNames {
		add(name)
	}
	for _, ip := range c.IPAddresses {
		add(ip.String())
	}

	return result
}

// keyEncrypted 判断私钥 PEM 是否加密
func keyEncrypted(keyPEM []byte) bool {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return false
	}
	if strings.Contains(block.Type, "ENCRYPTED") {
		return true
	}
	// RFC 1423 风格的加密头
	return strings.Contains(block.Headers["Proc-Type"], "ENCRYPTED")
}

// isCertFile 判断是否为候选证书文件
func isCertFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pem", ".crt", ".cert":
		// .pem 可能是私钥，由解析阶段过滤
		return !strings.HasSuffix(strings.TrimSuffix(path, filepath.Ext(path)), "-key")
	default:
		return false
	}
}
