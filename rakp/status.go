// Package rakp implements the RMCP+ Open Session and RAKP 1-4 handshake
// commands (spec.md §4.3), producing sessions in package session. Grounded
// on the original's command/open_session.cpp, command/rakp12.cpp,
// command/rakp34.cpp, and command/guid.cpp.
package rakp

// StatusCode is the closed set of RAKP/Open Session return codes named in
// spec.md §7. These are the only values ever placed in a response's status
// byte — internal Go errors never cross this boundary directly.
type StatusCode uint8

const (
	StatusNoError                   StatusCode = 0x00
	StatusInsufficientResource      StatusCode = 0x01
	StatusInvalidSessionID          StatusCode = 0x02
	StatusInvalidAuthAlgo           StatusCode = 0x03
	StatusInvalidIntegrityAlgo      StatusCode = 0x04
	StatusNoMatchAuthPayload        StatusCode = 0x05
	StatusNoMatchIntegrityPayload   StatusCode = 0x06
	StatusInactiveSessionID         StatusCode = 0x07
	StatusInactiveRole              StatusCode = 0x08
	StatusUnauthorizedRolePriv      StatusCode = 0x09
	StatusInsufficientResourcesRole StatusCode = 0x0A
	StatusInvalidNameLength         StatusCode = 0x0B
	StatusUnauthorizedName          StatusCode = 0x0C
	StatusUnauthorizedGUID          StatusCode = 0x0D
	StatusInvalidIntegrityValue     StatusCode = 0x0E
	StatusInvalidConfAlgo           StatusCode = 0x0F
	StatusNoCipherSuiteMatch        StatusCode = 0x10
	StatusIllegalParameter          StatusCode = 0x11
)
