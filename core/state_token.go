package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	stateTokenSeparator = "|"
	stateTokenPurpose   = "meli-connect.oauth-state"
	stateClockSkew      = time.Minute
)

// HMACStateCodec issues owner-bound CSRF state tokens of the form
// base64url(owner_id|issued_at_unix|signature).
type HMACStateCodec struct {
	secret          []byte
	ttl             time.Duration
	signatureLength int
	now             Clock
}

type StateCodecOption func(*HMACStateCodec)

func WithStateClock(clock Clock) StateCodecOption {
	return func(c *HMACStateCodec) {
		if clock != nil {
			c.now = clock
		}
	}
}

func WithStateTTL(ttl time.Duration) StateCodecOption {
	return func(c *HMACStateCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithStateSignatureLength(length int) StateCodecOption {
	return func(c *HMACStateCodec) {
		if length >= MinStateSignatureLength && length <= MaxStateSignatureLength {
			c.signatureLength = length
		}
	}
}

// NewHMACStateCodec builds a codec keyed with secret. An empty secret gets a
// random per-process key, so tokens do not survive a restart.
func NewHMACStateCodec(secret string, opts ...StateCodecOption) (*HMACStateCodec, error) {
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("core: generate state secret: %w", err)
		}
	}
	codec := &HMACStateCodec{
		secret:          key,
		ttl:             DefaultStateTTL,
		signatureLength: DefaultStateSignatureLength,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	return codec, nil
}

func (c *HMACStateCodec) Generate(ownerID string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("core: state codec is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", fmt.Errorf("%w: owner id is required for state", ErrValidation)
	}
	if strings.Contains(ownerID, stateTokenSeparator) {
		return "", fmt.Errorf("%w: owner id contains a reserved character", ErrValidation)
	}
	issuedAt := strconv.FormatInt(c.now().Unix(), 10)
	raw := ownerID + stateTokenSeparator + issuedAt + stateTokenSeparator + c.sign(ownerID, issuedAt)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

func (c *HMACStateCodec) Validate(token string, expectedOwnerID string) bool {
	if c == nil {
		return false
	}
	token = strings.TrimSpace(token)
	expectedOwnerID = strings.TrimSpace(expectedOwnerID)
	if token == "" || expectedOwnerID == "" {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	ownerID, issuedAt, signature, ok := splitStateToken(string(decoded))
	if !ok || ownerID != expectedOwnerID {
		return false
	}
	issuedUnix, err := strconv.ParseInt(issuedAt, 10, 64)
	if err != nil {
		return false
	}
	now := c.now()
	issued := time.Unix(issuedUnix, 0)
	if issued.After(now.Add(stateClockSkew)) || now.Sub(issued) > c.ttl {
		return false
	}
	expected := c.sign(ownerID, issuedAt)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (c *HMACStateCodec) sign(ownerID string, issuedAt string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(ownerID + stateTokenSeparator + issuedAt + stateTokenSeparator + stateTokenPurpose))
	sum := hex.EncodeToString(mac.Sum(nil))
	return sum[:c.signatureLength]
}

// splitStateToken parses from the right so the owner id keeps any content
// before the last two separators.
func splitStateToken(raw string) (ownerID string, issuedAt string, signature string, ok bool) {
	last := strings.LastIndex(raw, stateTokenSeparator)
	if last <= 0 {
		return "", "", "", false
	}
	signature = raw[last+1:]
	rest := raw[:last]
	middle := strings.LastIndex(rest, stateTokenSeparator)
	if middle <= 0 {
		return "", "", "", false
	}
	ownerID = rest[:middle]
	issuedAt = rest[middle+1:]
	if ownerID == "" || issuedAt == "" || signature == "" {
		return "", "", "", false
	}
	return ownerID, issuedAt, signature, true
}
