package pki

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pemTypePrivateKey          = "PRIVATE KEY"
	pemTypeEncryptedPrivateKey = "CERTFLOW ENCRYPTED PRIVATE KEY"

	kdfIterations = 160000
	kdfSaltSize   = 16
)

// ErrBadPassphrase 口令错误或密文已损坏
var ErrBadPassphrase = errors.New("bad passphrase or corrupted key material")

// GenerateKey 生成新的 ECDSA P-256 私钥
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EncodePrivateKey 将私钥编码为 PEM
// passphrase 非空时使用 PBKDF2-SHA256 + AES-256-GCM 加密封装
func EncodePrivateKey(key crypto.Signer, passphrase string) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	if passphrase == "" {
		return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
	}

	salt := make([]byte, kdfSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// 封装格式：salt || nonce || ciphertext
	sealed := aead.Seal(nil, nonce, der, nil)
	payload := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)

	return pem.EncodeToMemory(&pem.Block{Type: pemTypeEncryptedPrivateKey, Bytes: payload}), nil
}

// DecodePrivateKey 从 PEM 解码私钥，必要时使用口令解密
func DecodePrivateKey(keyPEM []byte, passphrase string) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no private key PEM block found")
	}

	der := block.Bytes
	if block.Type == pemTypeEncryptedPrivateKey {
		if passphrase == "" {
			return nil, ErrBadPassphrase
		}

		decrypted, err := decrypt(block.Bytes, passphrase)
		if err != nil {
			return nil, err
		}
		der = decrypted
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		// 兼容旧格式
		if ecKey, ecErr := x509.ParseECPrivateKey(der); ecErr == nil {
			return ecKey, nil
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

// KeyIsEncrypted 判断 PEM 编码的私钥是否为加密封装
func KeyIsEncrypted(keyPEM []byte) bool {
	block, _ := pem.Decode(keyPEM)
	return block != nil && block.Type == pemTypeEncryptedPrivateKey
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, 32, sha256.New)

	aesCipher, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

func decrypt(payload []byte, passphrase string) ([]byte, error) {
	if len(payload) < kdfSaltSize {
		return nil, ErrBadPassphrase
	}
	salt := payload[:kdfSaltSize]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	rest := payload[kdfSaltSize:]
	if len(rest) < aead.NonceSize() {
		return nil, ErrBadPassphrase
	}

	nonce := rest[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, rest[aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plaintext, nil
}
