package cipher

// DeriveSIK computes the Session Integrity Key as
// HMAC(password, rcRandom‖bmcRandom‖privLevel‖userNameLen‖userName),
// per the original's RAKP34 command and spec.md §4.3. The caller is
// responsible for assembling the input in that exact order (see package
// rakp, which owns message-field layout).
func DeriveSIK(auth *AuthInterface, input []byte) []byte {
	return auth.GenerateHMAC(input)
}

// DeriveK2 computes the confidentiality key from an active integrity
// algorithm and the Session Integrity Key, via HMAC(SIK, const_2-block).
func DeriveK2(integrity *IntegrityAlgo) []byte {
	return integrity.GenerateKn(Const2[:])
}

// DeriveK1 computes the (unused by this daemon, but spec-named) integrity
// key via HMAC(SIK, const_1-block). Kept for completeness/testing parity
// with the wire spec even though no packet-integrity step in this
// implementation reaches for K1 directly — AuthCodes are generated from the
// SIK itself, matching the original's AlgoSHA1/AlgoSHA256::generateICV.
func DeriveK1(integrity *IntegrityAlgo) []byte {
	return integrity.GenerateKn(Const1[:])
}
