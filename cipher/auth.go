package cipher

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
)

// AuthAlgorithm identifies the RAKP authentication algorithm negotiated at
// Open Session time. RAKP-None is deliberately not modeled: per the
// original's comment (citing US-CERT TA13-207A) "cipher 0" bypasses
// authentication entirely and must never be offered.
type AuthAlgorithm uint8

const (
	AuthRAKPNone    AuthAlgorithm = 0x00
	AuthRAKPHMACSHA1 AuthAlgorithm = 0x01
	AuthRAKPHMACMD5 AuthAlgorithm = 0x02 // not implemented, never advertised
	AuthRAKPHMACSHA256 AuthAlgorithm = 0x03
)

// IntegrityAlgorithm identifies the AuthCode algorithm used once a session
// is active, negotiated alongside the auth algorithm at Open Session time.
type IntegrityAlgorithm uint8

const (
	IntegrityNone          IntegrityAlgorithm = 0x00
	IntegrityHMACSHA1_96   IntegrityAlgorithm = 0x01
	IntegrityHMACSHA256_128 IntegrityAlgorithm = 0x03
)

// CryptAlgorithm identifies the confidentiality algorithm. Only AES-CBC-128
// is supported, per spec.md's explicit Non-goal on other cipher families.
type CryptAlgorithm uint8

const (
	CryptNone       CryptAlgorithm = 0x00
	CryptAESCBC128  CryptAlgorithm = 0x01
)

// IsAuthAlgorithmSupported reports whether the Go daemon will negotiate the
// given authentication algorithm. Mirrors Interface::isAlgorithmSupported in
// the original, generalized to also accept SHA1 (the original's comment
// calls SHA1 "the default choice in ipmitool"; spec.md §4.3 requires both).
func IsAuthAlgorithmSupported(a AuthAlgorithm) bool {
	return a == AuthRAKPHMACSHA1 || a == AuthRAKPHMACSHA256
}

// IsIntegrityAlgorithmSupported mirrors the auth check for integrity algos.
func IsIntegrityAlgorithmSupported(a IntegrityAlgorithm) bool {
	return a == IntegrityHMACSHA1_96 || a == IntegrityHMACSHA256_128
}

// IsCryptAlgorithmSupported mirrors the auth check for confidentiality.
func IsCryptAlgorithmSupported(a CryptAlgorithm) bool {
	return a == CryptAESCBC128
}

// AuthInterface is the per-session authentication algorithm object — the Go
// stand-in for cipher::rakp_auth::Interface. It carries the user key
// (password), the two RAKP random numbers, and generates the RAKP2 / RAKP3
// HMACs and, once the session-integrity key is known, the RAKP4 ICV.
type AuthInterface struct {
	Algorithm    AuthAlgorithm
	UserKey      []byte // password, used as the HMAC key for generateHMAC
	BMCRandom    [16]byte
	RCRandom     [16]byte
	SIK          []byte // Session Integrity Key, set exactly once on success

	// IntegrityAlgo and CryptAlgo are the algorithms negotiated alongside
	// Algorithm at Open Session time, held here until RAKP3 installs the
	// derived IntegrityAlgo/CryptAlgo objects onto the session — the same
	// place the original stashes them (authAlgoInterface), since session
	// itself has no slot for the not-yet-derived algorithm ids.
	IntegrityAlgo IntegrityAlgorithm
	CryptAlgo     CryptAlgorithm
}

// NewAuthInterface constructs the per-session auth algorithm holder for the
// negotiated algorithm. Returns an error for unsupported algorithms so
// callers never silently fall back to a weaker one.
func NewAuthInterface(algo AuthAlgorithm) (*AuthInterface, error) {
	if !IsAuthAlgorithmSupported(algo) {
		return nil, fmt.Errorf("cipher: unsupported auth algorithm %#x", algo)
	}
	return &AuthInterface{Algorithm: algo}, nil
}

// GenerateHMAC computes the Key Exchange Authentication Code used in RAKP2
// and RAKP3, keyed by the user password (UserKey).
func (a *AuthInterface) GenerateHMAC(input []byte) []byte {
	return a.hmac(a.UserKey, input)
}

// GenerateICV computes the RAKP4 Integrity Check Value, keyed by the
// Session Integrity Key and truncated to the algorithm's AuthCode length
// (12 bytes for SHA1-96, 16 for SHA256-128).
func (a *AuthInterface) GenerateICV(input []byte) []byte {
	out := a.hmac(a.SIK, input)
	return out[:a.ICVLength()]
}

// ICVLength returns the truncated AuthCode length for this algorithm.
func (a *AuthInterface) ICVLength() int {
	switch a.Algorithm {
	case AuthRAKPHMACSHA1:
		return 12
	case AuthRAKPHMACSHA256:
		return 16
	default:
		return 0
	}
}

func (a *AuthInterface) hmac(key, input []byte) []byte {
	switch a.Algorithm {
	case AuthRAKPHMACSHA1:
		mac := hmac.New(sha1.New, key)
		mac.Write(input)
		return mac.Sum(nil)
	case AuthRAKPHMACSHA256:
		mac := hmac.New(sha256.New, key)
		mac.Write(input)
		return mac.Sum(nil)
	default:
		return nil
	}
}
