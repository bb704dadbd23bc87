// Package cipher implements the cryptographic primitives RAKP and the
// message-framing layer need: the RAKP-HMAC-SHA1/SHA256 authentication
// algorithms, their derived integrity (AuthCode) algorithms, the
// AES-CBC-128 confidentiality algorithm, and the SIK/K1/K2 key-derivation
// helpers. Every algorithm here is grounded in the teacher's vendored
// go-sol crypto code, which itself reaches only for stdlib crypto/* — this
// package does the same.
package cipher

import "crypto/rand"

// RandomBytes returns n cryptographically random bytes, as used for the
// remote-console/BMC RAKP nonces and for BMC session id generation.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
