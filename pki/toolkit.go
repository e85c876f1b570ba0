package pki

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Toolkit 证书签发工具集
// 生命周期引擎只依赖该接口，不直接操作 X.509 原语
type Toolkit interface {
	// IssueSelfSigned 签发自签名证书和密钥对
	IssueSelfSigned(req *IssueRequest) (certPEM, keyPEM []byte, err error)
	// CreateCSR 构造证书签名请求，keyPEM 为 nil 时生成新密钥
	CreateCSR(name string, sans []string, keyPEM []byte, passphrase string) (csrPEM, newKeyPEM []byte, err error)
	// SignCSR 用 CA 的证书和私钥签署 CSR
	SignCSR(req *SignRequest) (certPEM []byte, err error)
}

// IssueRequest 自签名签发请求
type IssueRequest struct {
	Name         string   // 通用名称
	SANs         []string // 域名/IP 列表
	ValidityDays int
	CA           bool   // 是否带 CA 标志（根 CA）
	Passphrase   string // 非空时加密新私钥
}

// SignRequest CSR 签署请求
type SignRequest struct {
	CSRPEM       []byte
	CACertPEM    []byte
	CAKeyPEM     []byte
	CAPassphrase string // CA 私钥加密时必填
	ValidityDays int
	SANs         []string // 覆盖 CSR 中的 SAN（可选）
	CA           bool     // 签署为中间 CA
}

// LocalToolkit 进程内默认实现（ECDSA P-256）
type LocalToolkit struct{}

// NewLocalToolkit 创建默认工具集
func NewLocalToolkit() *LocalToolkit {
	return &LocalToolkit{}
}

// IssueSelfSigned 签发自签名证书
func (t *LocalToolkit) IssueSelfSigned(req *IssueRequest) ([]byte, []byte, error) {
	if req.Name == "" {
		return nil, nil, fmt.Errorf("name is required")
	}
	if req.ValidityDays <= 0 {
		return nil, nil, fmt.Errorf("validity days must be positive")
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, nil, err
	}

	template, err := newTemplate(req.Name, req.SANs, req.ValidityDays, req.CA)
	if err != nil {
		return nil, nil, err
	}

	ski, err := subjectKeyID(key.Public())
	if err != nil {
		return nil, nil, err
	}
	template.SubjectKeyId = ski
	template.AuthorityKeyId = ski

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	keyPEM, err := EncodePrivateKey(key, req.Passphrase)
	if err != nil {
		return nil, nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), keyPEM, nil
}

// CreateCSR 构造 CSR
func (t *LocalToolkit) CreateCSR(name string, sans []string, keyPEM []byte, passphrase string) ([]byte, []byte, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("name is required")
	}

	var newKeyPEM []byte
	var err error

	if keyPEM == nil {
		key, genErr := GenerateKey()
		if genErr != nil {
			return nil, nil, genErr
		}
		newKeyPEM, err = EncodePrivateKey(key, passphrase)
		if err != nil {
			return nil, nil, err
		}
		keyPEM = newKeyPEM
	}

	signer, err := DecodePrivateKey(keyPEM, passphrase)
	if err != nil {
		return nil, nil, err
	}

	dnsNames, ipAddresses := splitSANs(sans)
	template := &x509.CertificateRequest{
		Subject:     pkix.Name{CommonName: name},
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("create csr: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), newKeyPEM, nil
}

// SignCSR 签署 CSR
func (t *LocalToolkit) SignCSR(req *SignRequest) ([]byte, error) {
	if req.ValidityDays <= 0 {
		return nil, fmt.Errorf("validity days must be positive")
	}

	csr, err := ParseCSRPEM(req.CSRPEM)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("csr signature check: %w", err)
	}

	caCert, err := ParseCertificatePEM(req.CACertPEM)
	if err != nil {
		return nil, err
	}

	caKey, err := DecodePrivateKey(req.CAKeyPEM, req.CAPassphrase)
	if err != nil {
		return nil, fmt.Errorf("decode ca key: %w", err)
	}

	sans := req.SANs
	if len(sans) == 0 {
		sans = csr.DNSNames
	}

	template, err := newTemplate(csr.Subject.CommonName, sans, req.ValidityDays, req.CA)
	if err != nil {
		return nil, err
	}

	ski, err := subjectKeyID(csr.PublicKey)
	if err != nil {
		return nil, err
	}
	template.SubjectKeyId = ski
	template.AuthorityKeyId = caCert.SubjectKeyId

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, csr.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("sign csr: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

// ParseCertificatePEM 解析 PEM 编码的证书
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate PEM block found")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// ParseCSRPEM 解析 PEM 编码的 CSR
func ParseCSRPEM(csrPEM []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("no certificate request PEM block found")
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse csr: %w", err)
	}
	return csr, nil
}

// newTemplate 构造证书模板
func newTemplate(name string, sans []string, validityDays int, isCA bool) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	dnsNames, ipAddresses := splitSANs(sans)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    now.Add(-5 * time.Minute), // 容忍时钟偏差
		NotAfter:     now.AddDate(0, 0, validityDays),
		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	if isCA {
		template.IsCA = true
		template.BasicConstraintsValid = true
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	}

	return template, nil
}

// subjectKeyID 计算使用者密钥标识（公钥 SPKI 的 SHA-1）
func subjectKeyID(pub interface{}) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha1.Sum(spki)
	return sum[:], nil
}

// splitSANs 将 SAN 列表拆分为域名和 IP
func splitSANs(sans []string) ([]string, []net.IP) {
	var dnsNames []string
	var ipAddresses []net.IP

	for _, san := range sans {
		if ip := net.ParseIP(san); ip != nil {
			ipAddresses = append(ipAddresses, ip)
		} else if san != "" {
			dnsNames = append(dnsNames, san)
		}
	}
	return dnsNames, ipAddresses
}
