package rakp

import (
	"encoding/binary"
	"fmt"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/session"
)

// OpenSessionRequest is the parsed form of the RMCP+ Open Session Request
// payload (IPMI v2.0 §13.17), the subset of fields this daemon needs: the
// algorithm selectors are buried inside fixed-stride "payload" blocks on
// the wire, each shaped (type, reserved×2, len, algo-id); only the
// authAlgo/intAlgo/cryptAlgo bytes vary per block so ParseOpenSessionRequest
// extracts exactly those rather than modeling every reserved byte.
type OpenSessionRequest struct {
	MessageTag             uint8
	MaxPrivLevel           ipmi.Privilege
	RemoteConsoleSessionID uint32
	AuthAlgo               cipher.AuthAlgorithm
	IntegrityAlgo          cipher.IntegrityAlgorithm
	CryptAlgo              cipher.CryptAlgorithm
}

// wire layout (little-endian, all offsets from payload start):
//
//	0: messageTag
//	1: maxPrivLevel (low nibble)
//	2: reserved (2 bytes)
//	4: remoteConsoleSessionID (4 bytes)
//	8: authPayload block (8 bytes): type, reserved, reserved, len, algo, reserved(3)
//	16: integrityPayload block (8 bytes)
//	24: cryptPayload block (8 bytes)
const openSessionRequestLen = 32

func ParseOpenSessionRequest(b []byte) (OpenSessionRequest, error) {
	if len(b) < openSessionRequestLen {
		return OpenSessionRequest{}, fmt.Errorf("rakp: open session request too short (%d bytes)", len(b))
	}
	req := OpenSessionRequest{
		MessageTag:             b[0],
		MaxPrivLevel:           ipmi.Privilege(b[1] & ipmi.ReqMaxPrivMask),
		RemoteConsoleSessionID: binary.LittleEndian.Uint32(b[4:8]),
		AuthAlgo:               cipher.AuthAlgorithm(b[8+4] & 0x3F),
		IntegrityAlgo:          cipher.IntegrityAlgorithm(b[16+4] & 0x3F),
		CryptAlgo:              cipher.CryptAlgorithm(b[24+4] & 0x3F),
	}
	// A requested privilege of 0 means "administrator", matching IPMI
	// semantics (spec.md §4.3).
	if req.MaxPrivLevel == 0 {
		req.MaxPrivLevel = ipmi.PrivilegeAdmin
	}
	return req, nil
}

// OpenSessionResponse is the payload returned for a successful or failed
// Open Session Request.
type OpenSessionResponse struct {
	MessageTag         uint8
	Status             StatusCode
	MaxPrivLevel       ipmi.Privilege
	RemoteConsoleSessionID uint32
	ManagedSystemSessionID uint32
	AuthAlgo           cipher.AuthAlgorithm
	IntegrityAlgo      cipher.IntegrityAlgorithm
	CryptAlgo          cipher.CryptAlgorithm
}

func (r OpenSessionResponse) Marshal() []byte {
	b := make([]byte, openSessionRequestLen+4)
	b[0] = r.MessageTag
	b[1] = byte(r.Status)
	b[2] = byte(r.MaxPrivLevel)
	binary.LittleEndian.PutUint32(b[4:8], r.RemoteConsoleSessionID)
	binary.LittleEndian.PutUint32(b[8:12], r.ManagedSystemSessionID)
	// Echo negotiated algorithms back in the same block layout used by the
	// request, offset by the extra 4-byte managedSystemSessionID field.
	b[12+4] = byte(r.AuthAlgo)
	b[20+4] = byte(r.IntegrityAlgo)
	b[28+4] = byte(r.CryptAlgo)
	return b
}

// errorResponse builds a failure response with only the message tag and
// status code set; Marshal still emits the full-length payload, with every
// other field zero.
func errorResponse(tag uint8, status StatusCode) OpenSessionResponse {
	return OpenSessionResponse{MessageTag: tag, Status: status}
}

// Sessions is the narrow subset of session.Manager's API the RAKP command
// handlers depend on, declared here so this package's unit tests can
// substitute a fake without importing the full Manager machinery.
type Sessions interface {
	StartSession(remoteConsoleSessionID uint32, priv ipmi.Privilege, authAlgo cipher.AuthAlgorithm) (*session.Session, error)
}

// OpenSession handles the Open Session Request command: validates the
// requested algorithms against the supported set and creates a new session
// in state setup-in-progress. Mirrors command::openSession.
func OpenSession(mgr Sessions, req OpenSessionRequest) (OpenSessionResponse, *session.Session) {
	if !cipher.IsAuthAlgorithmSupported(req.AuthAlgo) {
		return errorResponse(req.MessageTag, StatusInvalidAuthAlgo), nil
	}
	if !cipher.IsIntegrityAlgorithmSupported(req.IntegrityAlgo) {
		return errorResponse(req.MessageTag, StatusInvalidIntegrityAlgo), nil
	}
	if !cipher.IsCryptAlgorithmSupported(req.CryptAlgo) {
		return errorResponse(req.MessageTag, StatusInvalidConfAlgo), nil
	}

	// A requested privilege of 0 means "administrator", whether or not the
	// request came through ParseOpenSessionRequest.
	if req.MaxPrivLevel == ipmi.PrivilegeReserved {
		req.MaxPrivLevel = ipmi.PrivilegeAdmin
	}

	sess, err := mgr.StartSession(req.RemoteConsoleSessionID, req.MaxPrivLevel, req.AuthAlgo)
	if err != nil {
		return errorResponse(req.MessageTag, StatusInsufficientResource), nil
	}
	sess.Auth.Algorithm = req.AuthAlgo
	sess.Auth.IntegrityAlgo = req.IntegrityAlgo
	sess.Auth.CryptAlgo = req.CryptAlgo

	resp := OpenSessionResponse{
		MessageTag:             req.MessageTag,
		Status:                 StatusNoError,
		MaxPrivLevel:           req.MaxPrivLevel,
		RemoteConsoleSessionID: req.RemoteConsoleSessionID,
		ManagedSystemSessionID: sess.BMCSessionID(),
		AuthAlgo:               req.AuthAlgo,
		IntegrityAlgo:          req.IntegrityAlgo,
		CryptAlgo:              req.CryptAlgo,
	}
	return resp, sess
}
