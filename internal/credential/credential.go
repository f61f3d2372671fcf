// ABOUTME: Password hashing and verification for lock passwords
// ABOUTME: bcrypt for new hashes, plus read support for legacy salted hashes

package credential

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrPasswordTooLong is returned when a password exceeds bcrypt's 72 byte input limit.
	ErrPasswordTooLong = errors.New("password is longer than 72 bytes")
)

// defaultPBKDF2Iterations is used when a pbkdf2 hash omits its iteration count.
const defaultPBKDF2Iterations = 260000

// dummyHash is compared against when the stored hash is unusable, so that
// malformed records take about as long to reject as real ones.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

var digests = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Hasher produces and checks one-way password hashes.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost.
// Costs outside bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns a bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	if len(plaintext) > 72 {
		return "", ErrPasswordTooLong
	}

	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(out), nil
}

// Verify reports whether candidate matches the stored hash.
func (h *Hasher) Verify(stored, candidate string) bool {
	switch {
	case strings.HasPrefix(stored, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
	case strings.HasPrefix(stored, "sha"), strings.HasPrefix(stored, "pbkdf2:"):
		ok, err := verifySalted(stored, candidate)
		if err != nil {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(candidate))
			return false
		}
		return ok
	default:
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(candidate))
		return false
	}
}

// verifySalted checks a method$salt$hexdigest hash.
func verifySalted(stored, candidate string) (bool, error) {
	method, salt, digest, ok := splitSalted(stored)
	if !ok {
		return false, errors.New("malformed salted hash")
	}

	want, err := hex.DecodeString(digest)
	if err != nil {
		return false, fmt.Errorf("decoding digest: %w", err)
	}

	var got []byte
	if rest, isPBKDF2 := strings.CutPrefix(method, "pbkdf2:"); isPBKDF2 {
		name, iterText, hasIter := strings.Cut(rest, ":")
		newHash, known := digests[name]
		if !known {
			return false, fmt.Errorf("unknown digest %q", name)
		}
		iterations := defaultPBKDF2Iterations
		if hasIter {
			iterations, err = strconv.Atoi(iterText)
			if err != nil || iterations < 1 {
				return false, fmt.Errorf("invalid iteration count %q", iterText)
			}
		}
		got = pbkdf2.Key([]byte(candidate), []byte(salt), iterations, newHash().Size(), newHash)
	} else {
		newHash, known := digests[method]
		if !known {
			return false, fmt.Errorf("unknown digest %q", method)
		}
		if salt == "" {
			sum := newHash()
			sum.Write([]byte(candidate))
			got = sum.Sum(nil)
		} else {
			mac := hmac.New(newHash, []byte(salt))
			mac.Write([]byte(candidate))
			got = mac.Sum(nil)
		}
	}

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func splitSalted(stored string) (method, salt, digest string, ok bool) {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
