package pki

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueSelfSigned_RootCA(t *testing.T) {
	toolkit := NewLocalToolkit()

	certPEM, keyPEM, err := toolkit.IssueSelfSigned(&IssueRequest{
		Name:         "ca.local",
		SANs:         []string{"ca.local"},
		ValidityDays: 3650,
		CA:           true,
	})
	require.NoError(t, err)

	parsed, err := ParseCertificatePEM(certPEM)
	require.NoError(t, err)

	assert.True(t, parsed.IsCA)
	assert.Equal(t, "ca.local", parsed.Subject.CommonName)
	// 自签名：主题等于签发者
	assert.True(t, bytes.Equal(parsed.RawSubject, parsed.RawIssuer))
	assert.NotEmpty(t, parsed.SubjectKeyId)

	// 有效期按天数计算
	expected := time.Now().AddDate(0, 0, 3650)
	assert.WithinDuration(t, expected, parsed.NotAfter, time.Hour)

	// 私钥可解析且无口令
	_, err = DecodePrivateKey(keyPEM, "")
	assert.NoError(t, err)
}

func TestIssueSelfSigned_Validation(t *testing.T) {
	toolkit := NewLocalToolkit()

	_, _, err := toolkit.IssueSelfSigned(&IssueRequest{ValidityDays: 10})
	assert.Error(t, err, "缺少名称应该报错")

	_, _, err = toolkit.IssueSelfSigned(&IssueRequest{Name: "x.local"})
	assert.Error(t, err, "缺少有效期应该报错")
}

func TestSignCSR_Chain(t *testing.T) {
	toolkit := NewLocalToolkit()

	caCertPEM, caKeyPEM, err := toolkit.IssueSelfSigned(&IssueRequest{
		Name:         "ca.local",
		SANs:         []string{"ca.local"},
		ValidityDays: 3650,
		CA:           true,
	})
	require.NoError(t, err)

	csrPEM, keyPEM, err := toolkit.CreateCSR("svc.local", []string{"svc.local", "10.0.0.5"}, nil, "")
	require.NoError(t, err)
	require.NotNil(t, keyPEM, "CreateCSR 应该生成新私钥")

	leafPEM, err := toolkit.SignCSR(&SignRequest{
		CSRPEM:       csrPEM,
		CACertPEM:    caCertPEM,
		CAKeyPEM:     caKeyPEM,
		ValidityDays: 365,
		SANs:         []string{"svc.local", "10.0.0.5"},
	})
	require.NoError(t, err)

	leaf, err := ParseCertificatePEM(leafPEM)
	require.NoError(t, err)

	ca, err := ParseCertificatePEM(caCertPEM)
	require.NoError(t, err)

	assert.False(t, leaf.IsCA)
	assert.Equal(t, "svc.local", leaf.Subject.CommonName)
	assert.Contains(t, leaf.DNSNames, "svc.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", leaf.IPAddresses[0].String())

	// 颁发者密钥标识指向 CA 的使用者密钥标识
	assert.Equal(t, ca.SubjectKeyId, leaf.AuthorityKeyId)

	// 签名可以用 CA 公钥验证
	assert.NoError(t, leaf.CheckSignatureFrom(ca))
}

func TestSignCSR_IntermediateCA(t *testing.T) {
	toolkit := NewLocalToolkit()

	rootCertPEM, rootKeyPEM, err := toolkit.IssueSelfSigned(&IssueRequest{
		Name:         "root.local",
		ValidityDays: 3650,
		CA:           true,
	})
	require.NoError(t, err)

	csrPEM, _, err := toolkit.CreateCSR("int.local", []string{"int.local"}, nil, "")
	require.NoError(t, err)

	intPEM, err := toolkit.SignCSR(&SignRequest{
		CSRPEM:       csrPEM,
		CACertPEM:    rootCertPEM,
		CAKeyPEM:     rootKeyPEM,
		ValidityDays: 1825,
		CA:           true,
	})
	require.NoError(t, err)

	intermediate, err := ParseCertificatePEM(intPEM)
	require.NoError(t, err)

	assert.True(t, intermediate.IsCA)
	assert.False(t, bytes.Equal(intermediate.RawSubject, intermediate.RawIssuer))
}

func TestEncodePrivateKey_Passphrase(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	keyPEM, err := EncodePrivateKey(key, "topsecret")
	require.NoError(t, err)
	assert.True(t, KeyIsEncrypted(keyPEM))

	// 正确口令解密
	decoded, err := DecodePrivateKey(keyPEM, "topsecret")
	require.NoError(t, err)
	assert.NotNil(t, decoded)

	// 错误口令
	_, err = DecodePrivateKey(keyPEM, "wrong")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	// 缺少口令
	_, err = DecodePrivateKey(keyPEM, "")
	assert.ErrorIs(t, err, ErrBadPassphrase)
}

func TestEncodePrivateKey_Plain(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	keyPEM, err := EncodePrivateKey(key, "")
	require.NoError(t, err)
	assert.False(t, KeyIsEncrypted(keyPEM))

	decoded, err := DecodePrivateKey(keyPEM, "")
	require.NoError(t, err)
	assert.NotNil(t, decoded)
}

func TestSignCSR_EncryptedCAKey(t *testing.T) {
	toolkit := NewLocalToolkit()

	caCertPEM, caKeyPEM, err := toolkit.IssueSelfSigned(&IssueRequest{
		Name:         "ca.local",
		ValidityDays: 3650,
		CA:           true,
		Passphrase:   "ca-secret",
	})
	require.NoError(t, err)
	require.True(t, KeyIsEncrypted(caKeyPEM))

	csrPEM, _, err := toolkit.CreateCSR("svc.local", []string{"svc.local"}, nil, "")
	require.NoError(t, err)

	// 口令正确时签署成功
	_, err = toolkit.SignCSR(&SignRequest{
		CSRPEM:       csrPEM,
		CACertPEM:    caCertPEM,
		CAKeyPEM:     caKeyPEM,
		CAPassphrase: "ca-secret",
		ValidityDays: 365,
	})
	assert.NoError(t, err)

	// 口令错误时签署失败
	_, err = toolkit.SignCSR(&SignRequest{
		CSRPEM:       csrPEM,
		CACertPEM:    caCertPEM,
		CAKeyPEM:     caKeyPEM,
		CAPassphrase: "wrong",
		ValidityDays: 365,
	})
	assert.Error(t, err)
}
