package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// DefaultKeyPrefix marks keys minted by this service so operators can recognise them.
const DefaultKeyPrefix = "sk_ellit_"

const (
	tokenBytes        = 32
	fingerprintLength = 8
)

// ErrEmptyKey is returned for empty raw keys or prefixes that cannot be used.
var ErrEmptyKey = errors.New("empty api key")

// GenerateAPIKey returns a new raw key of the form <prefix><random-token>.
// The token is 32 random bytes encoded as unpadded base64url.
func GenerateAPIKey(prefix string) (string, error) {
	if prefix == "" {
		return "", ErrEmptyKey
	}
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Fingerprint returns the non-secret lookup prefix of a raw key.
//
// Keys carrying prefix keep it plus the first 8 token characters, so the
// fingerprint actually narrows the lookup. Anything else (rows written before
// prefixes were fingerprinted) falls back to the first 8 characters.
func Fingerprint(rawKey, prefix string) string {
	if prefix != "" && strings.HasPrefix(rawKey, prefix) && len(rawKey) >= len(prefix)+fingerprintLength {
		return rawKey[:len(prefix)+fingerprintLength]
	}
	return LegacyFingerprint(rawKey)
}

// LegacyFingerprint is the fingerprint rows written by the provisioning
// scripts carry: the first 8 characters of the key, whatever they are.
func LegacyFingerprint(rawKey string) string {
	if len(rawKey) <= fingerprintLength {
		return rawKey
	}
	return rawKey[:fingerprintLength]
}

// Hasher computes the stored digest of a raw key.
type Hasher struct {
	pepper []byte
}

// NewHasher creates a Hasher. With an empty pepper digests are plain SHA-256,
// which matches keys issued by the legacy provisioning scripts.
func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// Hash returns the hex digest of rawKey. It is deterministic for a given pepper.
func (h *Hasher) Hash(rawKey string) string {
	if len(h.pepper) == 0 {
		sum := sha256.Sum256([]byte(rawKey))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether rawKey hashes to digest, in constant time.
func (h *Hasher) Verify(rawKey, digest string) bool {
	return equalDigest(h.Hash(rawKey), digest)
}

// VerifyLegacy checks rawKey against an unpeppered SHA-256 digest, the form
// the provisioning scripts stored. Only rows carrying a legacy fingerprint
// may be checked this way.
func VerifyLegacy(rawKey, digest string) bool {
	sum := sha256.Sum256([]byte(rawKey))
	return equalDigest(hex.EncodeToString(sum[:]), digest)
}

func equalDigest(computed, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(digest))) == 1
}
