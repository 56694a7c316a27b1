package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-meli-connect/core"
)

const (
	envelopePrefix    = "meli.secret.v1:"
	envelopeAlg       = "aes-gcm"
	defaultKeyID      = "meli-app-key"
	defaultKeyVersion = 1
)

type Option func(*AESCipher)

// AESCipher seals values with AES-GCM and frames them in a versioned JSON
// envelope. Envelopes written under a previous key stay readable when that key
// is registered with WithPreviousKey.
type AESCipher struct {
	key      []byte
	keyID    string
	version  int
	previous map[string][]byte
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func WithKeyID(id string) Option {
	return func(c *AESCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AESCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

// WithPreviousKey registers retired key material that is only used to open
// envelopes stamped with the given key id and version.
func WithPreviousKey(keyID string, version int, keyMaterial []byte) Option {
	return func(c *AESCipher) {
		material := bytes.TrimSpace(keyMaterial)
		if len(material) == 0 || version <= 0 {
			return
		}
		if c.previous == nil {
			c.previous = map[string][]byte{}
		}
		c.previous[keyRef(strings.TrimSpace(keyID), version)] = normalizeKey(material)
	}
}

func NewAESCipher(keyMaterial []byte, opts ...Option) (*AESCipher, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	c := &AESCipher{
		key:     normalizeKey(key),
		keyID:   defaultKeyID,
		version: defaultKeyVersion,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

func NewAESCipherFromString(key string, opts ...Option) (*AESCipher, error) {
	return NewAESCipher([]byte(key), opts...)
}

// NewAESCipherFromConfig builds the cipher from the security section of the
// service configuration.
func NewAESCipherFromConfig(cfg core.Config) (*AESCipher, error) {
	return NewAESCipherFromString(
		cfg.Security.EncryptionKey,
		WithKeyID(cfg.Security.KeyID),
		WithVersion(cfg.Security.KeyVersion),
	)
}

func (c *AESCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: cipher is nil")
	}
	gcm, err := newGCM(c.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(keyRef(c.keyID, c.version)))
	data, err := json.Marshal(envelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  envelopeAlg,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (c *AESCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: cipher is nil", core.ErrDecryption)
	}
	payload, ok := bytes.CutPrefix(ciphertext, []byte(envelopePrefix))
	if !ok {
		return nil, fmt.Errorf("%w: missing envelope prefix", core.ErrDecryption)
	}

	var parsed envelope
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode envelope", core.ErrDecryption)
	}
	if parsed.Algorithm != "" && parsed.Algorithm != envelopeAlg {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", core.ErrDecryption, parsed.Algorithm)
	}

	key, err := c.keyFor(parsed.KeyID, parsed.Version)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce", core.ErrDecryption)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext", core.ErrDecryption)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce size", core.ErrDecryption)
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(keyRef(parsed.KeyID, parsed.Version)))
	if err != nil {
		return nil, fmt.Errorf("%w: message authentication failed", core.ErrDecryption)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// NeedsRotation reports whether the envelope was sealed under a key other
// than the active one.
func (c *AESCipher) NeedsRotation(ciphertext []byte) bool {
	if c == nil {
		return false
	}
	payload, ok := bytes.CutPrefix(ciphertext, []byte(envelopePrefix))
	if !ok {
		return true
	}
	var parsed envelope
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return true
	}
	return parsed.KeyID != c.keyID || parsed.Version != c.version
}

func (c *AESCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AESCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

func (c *AESCipher) keyFor(keyID string, version int) ([]byte, error) {
	if keyID == c.keyID && version == c.version {
		return c.key, nil
	}
	if key, ok := c.previous[keyRef(keyID, version)]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unknown key %q version %d", core.ErrDecryption, keyID, version)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func keyRef(keyID string, version int) string {
	return fmt.Sprintf("%s/v%d", keyID, version)
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ core.SecretCipher = (*AESCipher)(nil)
