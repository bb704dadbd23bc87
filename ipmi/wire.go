// Package ipmi holds the wire-level constants and binary layouts shared by
// the RMCP+ session stack: the outer RMCP header, the two inner session
// header variants (IPMI 1.5 and IPMI 2.0), completion codes, and the
// network-function / command bytes the rest of the daemon dispatches on.
package ipmi

import "encoding/binary"

// RMCP outer header, constant across every packet this daemon sends or
// accepts. See IPMI v2.0 spec §13.2.
const (
	RMCPVersion1 = 0x06
	RMCPReserved = 0x00
	RMCPSeqNoAck = 0xFF // no RMCP-level ACK requested
	RMCPClassIPMI = 0x07
)

// Session format selector, byte 4 of the RMCP+ payload (follows the RMCP
// header). 0 selects the legacy IPMI 1.5 session layout, 6 the IPMI 2.0 /
// RMCP+ layout used for everything except a handful of legacy clients.
const (
	AuthTypeIPMI15 = 0x00
	AuthTypeRMCPPlus = 0x06
)

// PayloadType identifies the inner payload carried by an IPMI 2.0 session
// packet. The low 6 bits of the wire byte carry this value; bit 7 is the
// encrypted flag and bit 6 is the authenticated flag.
type PayloadType uint8

const (
	PayloadIPMI             PayloadType = 0x00
	PayloadSOL               PayloadType = 0x01
	PayloadOpenSessionRequest PayloadType = 0x10
	PayloadOpenSessionResponse PayloadType = 0x11
	PayloadRAKP1             PayloadType = 0x12
	PayloadRAKP2             PayloadType = 0x13
	PayloadRAKP3             PayloadType = 0x14
	PayloadRAKP4             PayloadType = 0x15

	payloadEncryptedMask    = 0x80
	payloadAuthenticatedMask = 0x40
	payloadTypeMask         = 0x3F
)

// SplitPayloadTypeByte decodes the payload-type byte of an IPMI 2.0 session
// header into its type, encrypted, and authenticated components.
func SplitPayloadTypeByte(b byte) (pt PayloadType, encrypted, authenticated bool) {
	return PayloadType(b & payloadTypeMask), b&payloadEncryptedMask != 0, b&payloadAuthenticatedMask != 0
}

// MakePayloadTypeByte re-encodes a payload type plus its encrypted and
// authenticated flags into the wire byte.
func MakePayloadTypeByte(pt PayloadType, encrypted, authenticated bool) byte {
	b := byte(pt) & payloadTypeMask
	if encrypted {
		b |= payloadEncryptedMask
	}
	if authenticated {
		b |= payloadAuthenticatedMask
	}
	return b
}

// NetFn/command bytes for the subset of the standard IPMI command set the
// core touches directly (Set Session Privilege Level, Close Session, the
// SOL Activate/Deactivate Payload family), plus the Get/Set SOL
// Configuration Parameters command bytes, which no handler in this daemon
// dispatches on. Dispatch of every other net-function belongs to
// the external host command pipeline (out of scope, see spec.md §1).
const (
	NetFnAppRequest  = 0x06
	NetFnAppResponse = 0x07

	CmdSetSessionPrivilegeLevel = 0x3B
	CmdCloseSession             = 0x3C
	CmdActivatePayload          = 0x48
	CmdDeactivatePayload        = 0x49
	CmdGetSOLConfigParameters   = 0x25
	CmdSetSOLConfigParameters   = 0x24
)

// CompletionCode is the standard one-byte IPMI response status.
type CompletionCode uint8

const (
	CCNormal                CompletionCode = 0x00
	CCInvalidCommand         CompletionCode = 0xC1
	CCInvalidSessionID       CompletionCode = 0x87 // Close Session specific
	CCInvalidSessionHandle   CompletionCode = 0x88 // Close Session specific (OEM-documented)
	CCUnspecifiedError       CompletionCode = 0xFF
	CCInsufficientPrivilege  CompletionCode = 0xD4
	CCParameterOutOfRange    CompletionCode = 0xC9
	CCRequestDataInvalid     CompletionCode = 0xCC
)

// Privilege mirrors session::Privilege from the original net-ipmid: the
// seven IPMI privilege levels packed into the low 4 bits of a requested
// max-privilege byte.
type Privilege uint8

const (
	PrivilegeReserved  Privilege = 0x0
	PrivilegeCallback  Privilege = 0x1
	PrivilegeUser      Privilege = 0x2
	PrivilegeOperator  Privilege = 0x3
	PrivilegeAdmin     Privilege = 0x4
	PrivilegeOEM       Privilege = 0x5
	PrivilegeNoAccess  Privilege = 0xF
)

// ReqMaxPrivMask isolates the privilege-level nibble from a requested
// maximum privilege byte; the top nibble is reserved wire padding.
const ReqMaxPrivMask = 0x0F

// RMCPHeader is the 4-byte header common to every RMCP/RMCP+ datagram.
type RMCPHeader struct {
	Version      uint8
	Reserved     uint8
	SequenceNo   uint8
	ClassOfMsg   uint8
}

func (h RMCPHeader) Marshal() []byte {
	return []byte{h.Version, h.Reserved, h.SequenceNo, h.ClassOfMsg}
}

func ParseRMCPHeader(b []byte) (RMCPHeader, error) {
	if len(b) < 4 {
		return RMCPHeader{}, ErrShortPacket
	}
	h := RMCPHeader{Version: b[0], Reserved: b[1], SequenceNo: b[2], ClassOfMsg: b[3]}
	if h.Version != RMCPVersion1 {
		return RMCPHeader{}, ErrBadRMCPVersion
	}
	if h.ClassOfMsg != RMCPClassIPMI {
		return RMCPHeader{}, ErrBadRMCPClass
	}
	return h, nil
}

// DefaultRMCPHeader returns the fixed header this daemon always emits.
func DefaultRMCPHeader() RMCPHeader {
	return RMCPHeader{Version: RMCPVersion1, Reserved: RMCPReserved, SequenceNo: RMCPSeqNoAck, ClassOfMsg: RMCPClassIPMI}
}

// IPMI15SessionHeader is the legacy session header: 1-byte auth type, 32-bit
// session sequence number, 32-bit session id, 1-byte payload length, then
// payload bytes (no integrity trailer, no payload-type byte).
type IPMI15SessionHeader struct {
	AuthType     uint8
	SessionSeq   uint32
	SessionID    uint32
	PayloadLen   uint8
}

func (h IPMI15SessionHeader) Marshal() []byte {
	b := make([]byte, 10)
	b[0] = h.AuthType
	binary.LittleEndian.PutUint32(b[1:5], h.SessionSeq)
	binary.LittleEndian.PutUint32(b[5:9], h.SessionID)
	b[9] = h.PayloadLen
	return b
}

func ParseIPMI15SessionHeader(b []byte) (IPMI15SessionHeader, []byte, error) {
	if len(b) < 10 {
		return IPMI15SessionHeader{}, nil, ErrShortPacket
	}
	h := IPMI15SessionHeader{
		AuthType:   b[0],
		SessionSeq: binary.LittleEndian.Uint32(b[1:5]),
		SessionID:  binary.LittleEndian.Uint32(b[5:9]),
		PayloadLen: b[9],
	}
	rest := b[10:]
	if len(rest) < int(h.PayloadLen) {
		return IPMI15SessionHeader{}, nil, ErrShortPacket
	}
	return h, rest[:h.PayloadLen], nil
}

// IPMI20SessionHeader is the RMCP+ session header: 1-byte auth type (always
// AuthTypeRMCPPlus here), 1-byte payload-type (carries encrypted/auth
// flags), 32-bit session id, 32-bit session sequence number, 16-bit payload
// length, then payload bytes and (if authenticated) an integrity trailer.
type IPMI20SessionHeader struct {
	AuthType      uint8
	PayloadTypeByte uint8
	SessionID     uint32
	SessionSeq    uint32
	PayloadLen    uint16
}

func (h IPMI20SessionHeader) Marshal() []byte {
	b := make([]byte, 12)
	b[0] = h.AuthType
	b[1] = h.PayloadTypeByte
	binary.LittleEndian.PutUint32(b[2:6], h.SessionID)
	binary.LittleEndian.PutUint32(b[6:10], h.SessionSeq)
	binary.LittleEndian.PutUint16(b[10:12], h.PayloadLen)
	return b
}

func ParseIPMI20SessionHeader(b []byte) (IPMI20SessionHeader, []byte, error) {
	if len(b) < 12 {
		return IPMI20SessionHeader{}, nil, ErrShortPacket
	}
	h := IPMI20SessionHeader{
		AuthType:        b[0],
		PayloadTypeByte: b[1],
		SessionID:       binary.LittleEndian.Uint32(b[2:6]),
		SessionSeq:      binary.LittleEndian.Uint32(b[6:10]),
		PayloadLen:      binary.LittleEndian.Uint16(b[10:12]),
	}
	rest := b[12:]
	if len(rest) < int(h.PayloadLen) {
		return IPMI20SessionHeader{}, nil, ErrShortPacket
	}
	return h, rest[:h.PayloadLen], nil
}

// Checksum8 computes the IPMI two's-complement checksum (crc8bit in the
// original) used by IPMI message headers and trailers: the sum of all bytes
// plus the checksum itself is 0 mod 256.
func Checksum8(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return uint8(-int8(sum))
}
