package rakp

import (
	"crypto/hmac"
	"encoding/binary"
	"fmt"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/session"
)

// RAKP3 is the parsed RAKP Message 3 payload: the console's copy of the Key
// Exchange Authentication Code, covering bmcRandom‖rcSessionID‖privByte‖
// userNameLen‖userName, keyed by the user's password.
type RAKP3 struct {
	MessageTag             uint8
	Status                 StatusCode
	ManagedSystemSessionID uint32
	KeyExchangeAuthCode    []byte
}

const rakp3FixedLen = 8

func ParseRAKP3(b []byte) (RAKP3, error) {
	if len(b) < rakp3FixedLen {
		return RAKP3{}, fmt.Errorf("rakp: RAKP3 too short (%d bytes)", len(b))
	}
	return RAKP3{
		MessageTag:             b[0],
		Status:                 StatusCode(b[1]),
		ManagedSystemSessionID: binary.LittleEndian.Uint32(b[4:8]),
		KeyExchangeAuthCode:    append([]byte(nil), b[8:]...),
	}, nil
}

// RAKP4 is the response payload: session id echo and an Integrity Check
// Value proving the BMC derived the same Session Integrity Key.
type RAKP4 struct {
	MessageTag             uint8
	Status                 StatusCode
	RemoteConsoleSessionID uint32
	ICV                    []byte
}

func (r RAKP4) Marshal() []byte {
	b := make([]byte, 8+len(r.ICV))
	b[0] = r.MessageTag
	b[1] = byte(r.Status)
	binary.LittleEndian.PutUint32(b[4:8], r.RemoteConsoleSessionID)
	copy(b[8:], r.ICV)
	return b
}

func errorRAKP4(tag uint8, status StatusCode) RAKP4 {
	return RAKP4{MessageTag: tag, Status: status}
}

// ProcessRAKP3 handles RAKP Message 3: re-derives the Key Exchange
// Authentication Code the console should have sent, rejects the session on
// mismatch (stopping it outright — no retry is offered), derives the
// Session Integrity Key, installs the negotiated integrity/crypt algorithms
// on the session, and computes the RAKP4 Integrity Check Value. Mirrors
// command::RAKP34, applyIntegrityAlgo, and applyCryptAlgo.
func ProcessRAKP3(mgr Sessions2, guid GUID, integrityAlgo cipher.IntegrityAlgorithm, cryptAlgo cipher.CryptAlgorithm, msg RAKP3) (RAKP4, *session.Session) {
	sess, err := mgr.GetSession(msg.ManagedSystemSessionID, session.ByBMCSessionID)
	if err != nil || sess.BMCSessionID() == session.SessionZero {
		return errorRAKP4(msg.MessageTag, StatusInvalidSessionID), nil
	}

	if msg.Status != StatusNoError {
		// Console rejected RAKP2 (e.g. GUID mismatch on its side); tear the
		// session down, nothing more to do.
		mgr.StopSession(sess.BMCSessionID())
		return RAKP4{}, nil
	}

	userName := sess.UserName()
	privByte := byte(sess.ReqMaxPrivLevel())
	input := make([]byte, 0, 16+4+1+1+len(userName))
	input = append(input, sess.Auth.BMCRandom[:]...)
	input = appendUint32(input, sess.RemoteConsoleSessionID())
	input = append(input, privByte)
	input = append(input, byte(len(userName)))
	input = append(input, []byte(userName)...)
	expected := sess.Auth.GenerateHMAC(input)

	if !hmac.Equal(expected, msg.KeyExchangeAuthCode) {
		mgr.StopSession(sess.BMCSessionID())
		return errorRAKP4(msg.MessageTag, StatusInvalidIntegrityValue), nil
	}

	// Session Integrity Key = HMAC(password, rcRandom‖bmcRandom‖privByte‖
	// userNameLen‖userName).
	sikInput := make([]byte, 0, 16+16+1+1+len(userName))
	sikInput = append(sikInput, sess.Auth.RCRandom[:]...)
	sikInput = append(sikInput, sess.Auth.BMCRandom[:]...)
	sikInput = append(sikInput, privByte)
	sikInput = append(sikInput, byte(len(userName)))
	sikInput = append(sikInput, []byte(userName)...)
	sik := cipher.DeriveSIK(sess.Auth, sikInput)
	sess.Auth.SIK = sik

	integrity := cipher.NewIntegrityAlgo(integrityAlgo, sik)
	sess.Integrity = integrity

	k2 := cipher.DeriveK2(integrity)
	crypt, err := cipher.NewCryptAlgo(k2)
	if err != nil {
		mgr.StopSession(sess.BMCSessionID())
		return errorRAKP4(msg.MessageTag, StatusInsufficientResource), nil
	}
	sess.Crypt = crypt
	_ = cryptAlgo // negotiated algorithm id is fixed to AES-CBC-128; nothing
	// further to branch on, kept as a parameter for symmetry with
	// ProcessRAKP1's shape and in case more algorithms are added later.

	// Integrity Check Value = truncated HMAC(SIK, rcRandom‖bmcSessionID‖GUID).
	icvInput := make([]byte, 0, 16+4+GUIDLength)
	icvInput = append(icvInput, sess.Auth.RCRandom[:]...)
	icvInput = appendUint32(icvInput, sess.BMCSessionID())
	icvInput = append(icvInput, guid[:]...)
	icv := sess.Auth.GenerateICV(icvInput)

	sess.SetState(session.StateActive)
	sess.UpdateLastTransactionTime()

	return RAKP4{
		MessageTag:             msg.MessageTag,
		Status:                 StatusNoError,
		RemoteConsoleSessionID: sess.RemoteConsoleSessionID(),
		ICV:                    icv,
	}, sess
}
