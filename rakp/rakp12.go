package rakp

import (
	"encoding/binary"
	"fmt"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/session"
)

// RAKP1 is the parsed RAKP Message 1 payload (IPMI v2.0 §13.20): the
// console's random number, requested privilege level, and user name.
type RAKP1 struct {
	MessageTag             uint8
	ManagedSystemSessionID uint32
	RemoteConsoleRandom    [16]byte
	PrivLevelLookup        bool // true selects the "only look up" variant, unused here
	MaxPrivLevel           ipmi.Privilege
	UserName               string
}

// rakp1FixedLen covers messageTag, reserved×3, sessionID, random, privByte,
// reserved×2, userNameLen — everything before the variable-length name.
const rakp1FixedLen = 28

func ParseRAKP1(b []byte) (RAKP1, error) {
	if len(b) < rakp1FixedLen {
		return RAKP1{}, fmt.Errorf("rakp: RAKP1 too short (%d bytes)", len(b))
	}
	msg := RAKP1{
		MessageTag:             b[0],
		ManagedSystemSessionID: binary.LittleEndian.Uint32(b[4:8]),
	}
	copy(msg.RemoteConsoleRandom[:], b[8:24])
	msg.MaxPrivLevel = ipmi.Privilege(b[24] & ipmi.ReqMaxPrivMask)
	nameLen := int(b[27])
	if len(b) < rakp1FixedLen+nameLen {
		return RAKP1{}, fmt.Errorf("rakp: RAKP1 user name truncated")
	}
	msg.UserName = string(b[rakp1FixedLen : rakp1FixedLen+nameLen])
	return msg, nil
}

// RAKP2 is the response payload: BMC session id echo, BMC random number,
// BMC GUID, and the Key Exchange Authentication Code.
type RAKP2 struct {
	MessageTag             uint8
	Status                 StatusCode
	RemoteConsoleSessionID uint32
	BMCRandom              [16]byte
	BMCGUID                GUID
	KeyExchangeAuthCode    []byte
}

func (r RAKP2) Marshal() []byte {
	b := make([]byte, 40+len(r.KeyExchangeAuthCode))
	b[0] = r.MessageTag
	b[1] = byte(r.Status)
	binary.LittleEndian.PutUint32(b[4:8], r.RemoteConsoleSessionID)
	copy(b[8:24], r.BMCRandom[:])
	copy(b[24:40], r.BMCGUID[:])
	copy(b[40:], r.KeyExchangeAuthCode)
	return b
}

func errorRAKP2(tag uint8, status StatusCode) RAKP2 {
	return RAKP2{MessageTag: tag, Status: status}
}

// ProcessRAKP1 handles RAKP Message 1: resolves the requesting user, floors
// the granted privilege at the lesser of the channel's and the user's
// configured ceilings, generates the BMC's random number, and computes the
// Key Exchange Authentication Code. Mirrors command::RAKP12.
func ProcessRAKP1(mgr Sessions2, users UserLookup, guid GUID, msg RAKP1) (RAKP2, *session.Session) {
	sess, err := mgr.GetSession(msg.ManagedSystemSessionID, session.ByBMCSessionID)
	if err != nil || sess.BMCSessionID() == session.SessionZero {
		return errorRAKP2(msg.MessageTag, StatusInvalidSessionID), nil
	}

	if len(msg.UserName) > 16 {
		return errorRAKP2(msg.MessageTag, StatusInvalidNameLength), nil
	}

	userID, ok := users.UserID(msg.UserName)
	if !ok || !users.Enabled(userID) {
		return errorRAKP2(msg.MessageTag, StatusUnauthorizedName), nil
	}

	if !users.ChannelAccessEnabled(sess.ChannelNum()) {
		return errorRAKP2(msg.MessageTag, StatusInactiveRole), nil
	}

	limit := ipmi.Privilege(users.ChannelPrivilegeLimit(sess.ChannelNum()))
	granted := msg.MaxPrivLevel
	if granted > limit {
		granted = limit
	}
	userLimit := ipmi.Privilege(users.UserPrivilege(userID, sess.ChannelNum()))
	if granted > userLimit {
		granted = userLimit
	}
	if granted == ipmi.PrivilegeReserved || granted == ipmi.PrivilegeNoAccess {
		return errorRAKP2(msg.MessageTag, StatusUnauthorizedRolePriv), nil
	}

	password, ok := users.Password(msg.UserName)
	if !ok {
		return errorRAKP2(msg.MessageTag, StatusUnauthorizedName), nil
	}

	sess.SetUserName(msg.UserName)
	sess.SetUserID(userID)

	bmcRandom, err := cipher.RandomBytes(16)
	if err != nil {
		return errorRAKP2(msg.MessageTag, StatusInsufficientResource), nil
	}
	sess.Auth.UserKey = []byte(password)
	copy(sess.Auth.RCRandom[:], msg.RemoteConsoleRandom[:])
	copy(sess.Auth.BMCRandom[:], bmcRandom)

	// Key Exchange Authentication Code covers:
	// rcSessionID || bmcSessionID || rcRandom || bmcRandom || GUID || privByte || userNameLen || userName
	input := make([]byte, 0, 4+4+16+16+GUIDLength+1+1+len(msg.UserName))
	input = appendUint32(input, sess.RemoteConsoleSessionID())
	input = appendUint32(input, sess.BMCSessionID())
	input = append(input, msg.RemoteConsoleRandom[:]...)
	input = append(input, bmcRandom...)
	input = append(input, guid[:]...)
	input = append(input, byte(msg.MaxPrivLevel))
	input = append(input, byte(len(msg.UserName)))
	input = append(input, []byte(msg.UserName)...)
	authCode := sess.Auth.GenerateHMAC(input)

	sess.SetCurrentPrivilege(ipmi.PrivilegeUser)
	sess.UpdateLastTransactionTime()

	var rand16 [16]byte
	copy(rand16[:], bmcRandom)
	resp := RAKP2{
		MessageTag:             msg.MessageTag,
		Status:                 StatusNoError,
		RemoteConsoleSessionID: sess.RemoteConsoleSessionID(),
		BMCRandom:              rand16,
		BMCGUID:                guid,
		KeyExchangeAuthCode:    authCode,
	}
	return resp, sess
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// Sessions2 is the lookup subset of session.Manager RAKP1/RAKP3 need,
// distinct from Sessions (Open Session only creates; these only look up).
type Sessions2 interface {
	GetSession(id uint32, option session.RetrieveOption) (*session.Session, error)
	StopSession(bmcSessionID uint32) bool
}
