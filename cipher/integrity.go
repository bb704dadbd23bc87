package cipher

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
)

// Const1 and Const2 are the fixed 20-byte blocks used to derive K1
// (integrity key) and K2 (confidentiality key) from the Session Integrity
// Key, per IPMI v2.0 §13.32. K1 is not used directly by this daemon (the
// integrity algorithm's AuthCode is generated straight from the SIK, as the
// original does via generateICV), but K2 is required for AES-CBC-128.
var (
	Const1 = [20]byte{0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01}
	Const2 = [20]byte{0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02}
)

// IntegrityAlgo is the active, session-scoped object that verifies and
// generates packet AuthCodes once a session has transitioned to active.
// Installed from the negotiated IntegrityAlgorithm at RAKP3→4 time (the Go
// analog of command::applyIntegrityAlgo).
type IntegrityAlgo struct {
	Algorithm IntegrityAlgorithm
	SIK       []byte
}

// NewIntegrityAlgo mirrors applyIntegrityAlgo: builds the integrity object
// that will verify/generate AuthCodes for the remainder of the session.
func NewIntegrityAlgo(algo IntegrityAlgorithm, sik []byte) *IntegrityAlgo {
	return &IntegrityAlgo{Algorithm: algo, SIK: sik}
}

// AuthCodeLength is the truncated AuthCode length this algorithm appends to
// every authenticated packet (12 bytes for SHA1-96, 16 for SHA256-128).
func (i *IntegrityAlgo) AuthCodeLength() int {
	switch i.Algorithm {
	case IntegrityHMACSHA1_96:
		return 12
	case IntegrityHMACSHA256_128:
		return 16
	default:
		return 0
	}
}

// GenerateAuthCode computes the AuthCode over the covered packet bytes
// (format byte through the byte before the AuthCode field), keyed by the
// Session Integrity Key, truncated to AuthCodeLength.
func (i *IntegrityAlgo) GenerateAuthCode(covered []byte) []byte {
	full := i.hmac(covered)
	n := i.AuthCodeLength()
	if n > len(full) {
		n = len(full)
	}
	return full[:n]
}

// VerifyAuthCode is a pure function of (SIK, covered bytes, claimed
// AuthCode) — invariant 5 of spec.md §8. Uses hmac.Equal for a
// constant-time comparison so AuthCode checks do not leak timing
// information, matching spec.md §7's "silent drop" requirement.
func (i *IntegrityAlgo) VerifyAuthCode(covered, claimed []byte) bool {
	expected := i.GenerateAuthCode(covered)
	return hmac.Equal(expected, claimed)
}

// GenerateKn derives K1 or K2 from the Session Integrity Key and one of the
// fixed 20-byte constant blocks, as command::applyCryptAlgo does via
// integrity::AlgoSHA*::generateKn.
func (i *IntegrityAlgo) GenerateKn(constBlock []byte) []byte {
	return i.hmac(constBlock)
}

func (i *IntegrityAlgo) hmac(input []byte) []byte {
	switch i.Algorithm {
	case IntegrityHMACSHA1_96:
		mac := hmac.New(sha1.New, i.SIK)
		mac.Write(input)
		return mac.Sum(nil)
	case IntegrityHMACSHA256_128:
		mac := hmac.New(sha256.New, i.SIK)
		mac.Write(input)
		return mac.Sum(nil)
	default:
		return nil
	}
}
