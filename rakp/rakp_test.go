package rakp

import (
	"crypto/hmac"
	"crypto/sha1"
	"testing"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/session"
	"github.com/stretchr/testify/require"
)

func newTestHandshake(t *testing.T) (*session.Manager, UserLookup, GUID) {
	t.Helper()
	users := NewInMemoryUsers()
	users.AddUser("admin", 2, "correcthorsebatterystaple", uint8(ipmi.PrivilegeAdmin))
	return session.NewManager(0, session.MaxSessionsPerChannel), users, NewGUID()
}

// TestRAKPHappyPath exercises spec.md §8 scenario S4 end to end: Open
// Session, RAKP1->2, RAKP3->4, ending in an active session.
func TestRAKPHappyPath(t *testing.T) {
	mgr, users, guid := newTestHandshake(t)

	openReq := OpenSessionRequest{
		MessageTag:             7,
		MaxPrivLevel:           0, // 0 means administrator
		RemoteConsoleSessionID: 0x10000001,
		AuthAlgo:               cipher.AuthRAKPHMACSHA1,
		IntegrityAlgo:          cipher.IntegrityHMACSHA1_96,
		CryptAlgo:              cipher.CryptAESCBC128,
	}
	openResp, sess := OpenSession(mgr, openReq)
	require.Equal(t, StatusNoError, openResp.Status)
	require.Equal(t, ipmi.PrivilegeAdmin, openResp.MaxPrivLevel)
	require.NotNil(t, sess)
	require.NotZero(t, openResp.ManagedSystemSessionID)

	rcRandom := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	rakp1 := RAKP1{
		MessageTag:             8,
		ManagedSystemSessionID: openResp.ManagedSystemSessionID,
		RemoteConsoleRandom:    rcRandom,
		MaxPrivLevel:           ipmi.PrivilegeAdmin,
		UserName:               "admin",
	}
	rakp2, sess2 := ProcessRAKP1(mgr, users, guid, rakp1)
	require.Equal(t, StatusNoError, rakp2.Status)
	require.NotNil(t, sess2)
	require.Len(t, rakp2.KeyExchangeAuthCode, 20) // raw HMAC-SHA1

	// The console independently computes the same HMAC it expects the BMC
	// to have sent in RAKP2's auth code position, then sends its own HMAC
	// over the RAKP3 input using the same password-derived key; since
	// GenerateHMAC is a pure function of (UserKey, input), recomputing with
	// the session's own Auth object reproduces exactly what an honest
	// console would send.
	privByte := byte(ipmi.PrivilegeAdmin)
	userName := "admin"
	input := []byte{}
	input = append(input, sess2.Auth.BMCRandom[:]...)
	input = appendUint32(input, sess2.RemoteConsoleSessionID())
	input = append(input, privByte)
	input = append(input, byte(len(userName)))
	input = append(input, []byte(userName)...)
	correctCode := sess2.Auth.GenerateHMAC(input)

	rakp3 := RAKP3{
		MessageTag:             9,
		Status:                 StatusNoError,
		ManagedSystemSessionID: openResp.ManagedSystemSessionID,
		KeyExchangeAuthCode:    correctCode,
	}
	rakp4, sess4 := ProcessRAKP3(mgr, guid, cipher.IntegrityHMACSHA1_96, cipher.CryptAESCBC128, rakp3)
	require.Equal(t, StatusNoError, rakp4.Status)
	require.NotNil(t, sess4)
	require.Len(t, rakp4.ICV, 12) // HMAC-SHA1-96 truncation
	require.Equal(t, session.StateActive, sess4.State())
	require.NotNil(t, sess4.Integrity)
	require.NotNil(t, sess4.Crypt)
}

// TestRAKPMismatchedPassword exercises spec.md §8 scenario S5: a RAKP3
// carrying an HMAC computed with the wrong key is rejected with
// invalid-integrity-value and the session is torn down.
func TestRAKPMismatchedPassword(t *testing.T) {
	mgr, users, guid := newTestHandshake(t)

	openResp, _ := OpenSession(mgr, OpenSessionRequest{
		MessageTag:             1,
		MaxPrivLevel:           ipmi.PrivilegeAdmin,
		RemoteConsoleSessionID: 0x20000002,
		AuthAlgo:               cipher.AuthRAKPHMACSHA1,
		IntegrityAlgo:          cipher.IntegrityHMACSHA1_96,
		CryptAlgo:              cipher.CryptAESCBC128,
	})

	rakp1 := RAKP1{
		MessageTag:             2,
		ManagedSystemSessionID: openResp.ManagedSystemSessionID,
		RemoteConsoleRandom:    [16]byte{9, 9, 9},
		MaxPrivLevel:           ipmi.PrivilegeAdmin,
		UserName:               "admin",
	}
	_, sess := ProcessRAKP1(mgr, users, guid, rakp1)
	require.NotNil(t, sess)

	rakp3 := RAKP3{
		MessageTag:             3,
		Status:                 StatusNoError,
		ManagedSystemSessionID: openResp.ManagedSystemSessionID,
		KeyExchangeAuthCode:    []byte("totally-wrong-hmac-value-12"),
	}
	rakp4, sess4 := ProcessRAKP3(mgr, guid, cipher.IntegrityHMACSHA1_96, cipher.CryptAESCBC128, rakp3)
	require.Equal(t, StatusInvalidIntegrityValue, rakp4.Status)
	require.Nil(t, sess4)

	_, err := mgr.GetSession(openResp.ManagedSystemSessionID, session.ByBMCSessionID)
	require.NoError(t, err) // still present, but torn down
	again, err := mgr.GetSession(openResp.ManagedSystemSessionID, session.ByBMCSessionID)
	require.NoError(t, err)
	require.Equal(t, session.StateTeardownInProgress, again.State())
}

// TestProcessRAKP1KeyExchangeAuthCodeIncludesGUID is an independent,
// fixed-vector check of the RAKP2 Key Exchange Authentication Code: the
// input is built by hand here, per spec.md §4.3 ("remote-console session id
// || BMC session id || remote-console random || BMC random || BMC GUID ||
// requested-max-priv || user-name-length || user-name"), rather than by
// calling back into the same construction ProcessRAKP1 uses, so it actually
// catches a wrong-input regression instead of just re-asserting it.
func TestProcessRAKP1KeyExchangeAuthCodeIncludesGUID(t *testing.T) {
	mgr, users, guid := newTestHandshake(t)

	openResp, _ := OpenSession(mgr, OpenSessionRequest{
		MessageTag:             1,
		MaxPrivLevel:           ipmi.PrivilegeAdmin,
		RemoteConsoleSessionID: 0x30000003,
		AuthAlgo:               cipher.AuthRAKPHMACSHA1,
		IntegrityAlgo:          cipher.IntegrityHMACSHA1_96,
		CryptAlgo:              cipher.CryptAESCBC128,
	})

	rcRandom := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	rakp1 := RAKP1{
		MessageTag:             2,
		ManagedSystemSessionID: openResp.ManagedSystemSessionID,
		RemoteConsoleRandom:    rcRandom,
		MaxPrivLevel:           ipmi.PrivilegeAdmin,
		UserName:               "admin",
	}
	rakp2, sess := ProcessRAKP1(mgr, users, guid, rakp1)
	require.Equal(t, StatusNoError, rakp2.Status)
	require.NotNil(t, sess)

	var want []byte
	want = appendUint32(want, openResp.RemoteConsoleSessionID)
	want = appendUint32(want, sess.BMCSessionID())
	want = append(want, rcRandom[:]...)
	want = append(want, sess.Auth.BMCRandom[:]...)
	want = append(want, guid[:]...)
	want = append(want, byte(ipmi.PrivilegeAdmin))
	want = append(want, byte(len("admin")))
	want = append(want, []byte("admin")...)

	mac := hmac.New(sha1.New, []byte("correcthorsebatterystaple"))
	mac.Write(want)
	require.Equal(t, mac.Sum(nil), rakp2.KeyExchangeAuthCode)
}

// TestProcessRAKP1EnforcesUserPrivilege exercises spec.md §4.3/§4.5's
// min(channel-limit, user-limit, requested-max) rule: InMemoryUsers.
// ChannelPrivilegeLimit defaults every channel to the ADMINISTRATOR ceiling,
// so a user whose own configured privilege is below that (here, never
// configured for this channel at all, i.e. RESERVED) must still be rejected
// — if the per-user limit were silently ignored, as it was before this
// fix, the request would incorrectly succeed on the channel limit alone.
func TestProcessRAKP1EnforcesUserPrivilege(t *testing.T) {
	mgr := session.NewManager(0, session.MaxSessionsPerChannel)
	users := NewInMemoryUsers()
	users.AddUser("guest", 3, "hunter2", uint8(ipmi.PrivilegeReserved))
	guid := NewGUID()

	openResp, _ := OpenSession(mgr, OpenSessionRequest{
		MessageTag:             1,
		MaxPrivLevel:           ipmi.PrivilegeAdmin,
		RemoteConsoleSessionID: 0x40000004,
		AuthAlgo:               cipher.AuthRAKPHMACSHA1,
		IntegrityAlgo:          cipher.IntegrityHMACSHA1_96,
		CryptAlgo:              cipher.CryptAESCBC128,
	})

	rakp1 := RAKP1{
		MessageTag:             2,
		ManagedSystemSessionID: openResp.ManagedSystemSessionID,
		RemoteConsoleRandom:    [16]byte{1, 2, 3},
		MaxPrivLevel:           ipmi.PrivilegeAdmin, // within the channel ceiling, above the user's
		UserName:               "guest",
	}
	rakp2, sess := ProcessRAKP1(mgr, users, guid, rakp1)
	require.Equal(t, StatusUnauthorizedRolePriv, rakp2.Status)
	require.Nil(t, sess)
}

func TestOpenSessionRejectsUnsupportedAuthAlgo(t *testing.T) {
	mgr, _, _ := newTestHandshake(t)
	resp, sess := OpenSession(mgr, OpenSessionRequest{
		AuthAlgo:      cipher.AuthRAKPNone,
		IntegrityAlgo: cipher.IntegrityHMACSHA1_96,
		CryptAlgo:     cipher.CryptAESCBC128,
	})
	require.Equal(t, StatusInvalidAuthAlgo, resp.Status)
	require.Nil(t, sess)
}

func TestCloseSessionRejectsSessionZero(t *testing.T) {
	mgr, _, _ := newTestHandshake(t)
	cc := CloseSession(mgr, session.SessionZero, 0, ipmi.PrivilegeAdmin)
	require.Equal(t, ipmi.CCRequestDataInvalid, cc)
}

func TestSetSessionPrivilegeQueryReturnsCurrent(t *testing.T) {
	mgr, _, _ := newTestHandshake(t)
	sess, err := mgr.StartSession(1, ipmi.PrivilegeOperator, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)

	got, cc := SetSessionPrivilege(sess, ipmi.PrivilegeReserved)
	require.Equal(t, ipmi.CCNormal, cc)
	require.Equal(t, ipmi.PrivilegeUser, got) // sessions always start at USER
}

func TestSetSessionPrivilegeRejectsAboveCeiling(t *testing.T) {
	mgr, _, _ := newTestHandshake(t)
	sess, err := mgr.StartSession(1, ipmi.PrivilegeOperator, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)

	_, cc := SetSessionPrivilege(sess, ipmi.PrivilegeAdmin)
	require.Equal(t, ipmi.CCInsufficientPrivilege, cc)
}
