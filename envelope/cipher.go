package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrMalformedCiphertext reports a value that is not a well-formed sealed blob.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	// ErrDecryptionFailed reports an authentication or padding failure.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// MinSecretLength is the minimum accepted length of the configured secret.
const MinSecretLength = 32

const (
	keySize   = 32
	gcmNonce  = 12
	cbcIVSize = aes.BlockSize
	hkdfInfo  = "keyward envelope v1"
)

// Mode selects the block cipher construction.
type Mode string

const (
	// ModeGCM is AES-256-GCM with a random 12-byte nonce.
	ModeGCM Mode = "gcm"
	// ModeCBC is AES-256-CBC with a random 16-byte IV. Unauthenticated.
	ModeCBC Mode = "cbc"
)

// KDF selects how the configured secret becomes the AES key.
type KDF string

const (
	// KDFSHA256 uses the SHA-256 digest of the secret.
	KDFSHA256 KDF = "sha256"
	// KDFHKDF expands the secret with HKDF-SHA256.
	KDFHKDF KDF = "hkdf"
)

// Config configures a Cipher.
type Config struct {
	Secret string
	Mode   Mode
	KDF    KDF
	Logger *slog.Logger
}

// Cipher seals and opens field values. The zero value is not usable; build one
// with New. A Cipher is immutable and safe for concurrent use.
type Cipher struct {
	mode   Mode
	logger *slog.Logger
	key    func() ([]byte, error)
}

// New validates cfg and returns a Cipher. The AES key is derived on first use.
func New(cfg Config) (*Cipher, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("envelope secret must be at least %d characters", MinSecretLength)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeGCM
	}
	if cfg.Mode != ModeGCM && cfg.Mode != ModeCBC {
		return nil, fmt.Errorf("unsupported envelope mode %q", cfg.Mode)
	}
	if cfg.KDF == "" {
		cfg.KDF = KDFSHA256
	}
	if cfg.KDF != KDFSHA256 && cfg.KDF != KDFHKDF {
		return nil, fmt.Errorf("unsupported envelope kdf %q", cfg.KDF)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	secret := []byte(cfg.Secret)
	kdf := cfg.KDF
	return &Cipher{
		mode:   cfg.Mode,
		logger: cfg.Logger,
		key: sync.OnceValues(func() ([]byte, error) {
			return deriveKey(secret, kdf)
		}),
	}, nil
}

// Mode reports the construction this Cipher uses.
func (c *Cipher) Mode() Mode {
	return c.mode
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := c.key()
	if err != nil {
		return "", err
	}

	var sealed []byte
	switch c.mode {
	case ModeCBC:
		sealed, err = sealCBC(key, []byte(plaintext))
	default:
		sealed, err = sealGCM(key, []byte(plaintext))
	}
	if err != nil {
		return "", err
	}

	c.logger.Debug("envelope sealed", "mode", c.mode, "plaintext_bytes", len(plaintext), "sealed_bytes", len(sealed))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	key, err := c.key()
	if err != nil {
		return "", err
	}

	var plain []byte
	switch c.mode {
	case ModeCBC:
		plain, err = openCBC(key, raw)
	default:
		plain, err = openGCM(key, raw)
	}
	if err != nil {
		c.logger.Debug("envelope open failed", "mode", c.mode, "sealed_bytes", len(raw))
		return "", err
	}
	return string(plain), nil
}

func deriveKey(secret []byte, kdf KDF) ([]byte, error) {
	if kdf == KDFHKDF {
		key := make([]byte, keySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
			return nil, fmt.Errorf("derive envelope key: %w", err)
		}
		return key, nil
	}
	sum := sha256.Sum256(secret)
	return sum[:], nil
}

func sealGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openGCM(key, raw []byte) ([]byte, error) {
	if len(raw) < gcmNonce {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrMalformedCiphertext)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce, ciphertext := raw[:gcmNonce], raw[gcmNonce:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func sealCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, cbcIVSize+len(padded))
	iv := out[:cbcIVSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[cbcIVSize:], padded)
	return out, nil
}

func openCBC(key, raw []byte) ([]byte, error) {
	if len(raw) < cbcIVSize+aes.BlockSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrMalformedCiphertext)
	}
	if (len(raw)-cbcIVSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrMalformedCiphertext)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	iv, ciphertext := raw[:cbcIVSize], raw[cbcIVSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrDecryptionFailed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, ErrDecryptionFailed
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrDecryptionFailed
		}
	}
	return b[:len(b)-n], nil
}
