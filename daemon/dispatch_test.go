package daemon

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/frame"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/rakp"
	"github.com/openbmc-go/netipmid/session"
	"github.com/stretchr/testify/require"
)

func newTestServices(t *testing.T) *Services {
	t.Helper()
	users := rakp.NewInMemoryUsers()
	users.AddUser("admin", 2, "correcthorsebatterystaple", uint8(ipmi.PrivilegeAdmin))
	sessions := session.NewManager(0, session.MaxSessionsPerChannel)
	svc := NewServices(sessions, nil, users, rakp.NewGUID())
	return svc
}

func buildOpenSessionRequestBytes(tag uint8, maxPriv ipmi.Privilege, rcSessionID uint32, authAlgo cipher.AuthAlgorithm, intAlgo cipher.IntegrityAlgorithm, cryptAlgo cipher.CryptAlgorithm) []byte {
	b := make([]byte, 32)
	b[0] = tag
	b[1] = byte(maxPriv)
	binary.LittleEndian.PutUint32(b[4:8], rcSessionID)
	b[8+4] = byte(authAlgo)
	b[16+4] = byte(intAlgo)
	b[24+4] = byte(cryptAlgo)
	return b
}

func buildRAKP1Bytes(tag uint8, bmcSessionID uint32, rcRandom [16]byte, maxPriv ipmi.Privilege, userName string) []byte {
	b := make([]byte, 28+len(userName))
	b[0] = tag
	binary.LittleEndian.PutUint32(b[4:8], bmcSessionID)
	copy(b[8:24], rcRandom[:])
	b[24] = byte(maxPriv)
	b[27] = byte(len(userName))
	copy(b[28:], userName)
	return b
}

// buildInboundPacket builds a raw datagram as if a correctly-behaving
// remote console had sent it, reusing frame.Flatten's integrity/encryption
// machinery against the same session object the server holds — valid here
// because the test simulates both sides of a conversation that have
// already derived identical keys, not an adversarial client.
func buildInboundPacket(t *testing.T, payloadType ipmi.PayloadType, bmcSessionID uint32, payload []byte, sess *session.Session) []byte {
	t.Helper()
	msg := frame.NewMessage()
	msg.PayloadType = payloadType
	msg.RCSessionID = bmcSessionID
	msg.Payload = payload
	if sess != nil && sess.Integrity != nil {
		msg.IsAuthenticated = true
	}
	if sess != nil && sess.Crypt != nil {
		msg.IsEncrypted = true
	}
	out, err := frame.Flatten(msg, ipmi.AuthTypeRMCPPlus, sess)
	require.NoError(t, err)
	return out
}

var testPeer = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}

// TestDispatchFullHandshakeAndClose drives Open Session, RAKP1-4, Set
// Session Privilege, and Close Session entirely through HandleDatagram at
// the raw packet level.
func TestDispatchFullHandshakeAndClose(t *testing.T) {
	svc := newTestServices(t)

	openWire := buildInboundPacket(t, ipmi.PayloadOpenSessionRequest, session.SessionZero,
		buildOpenSessionRequestBytes(1, 0, 0xAAAA0001, cipher.AuthRAKPHMACSHA1, cipher.IntegrityHMACSHA1_96, cipher.CryptAESCBC128), nil)
	openRespWire := HandleDatagram(svc, openWire, testPeer)
	require.NotNil(t, openRespWire)

	openMsg, _, err := frame.Unflatten(openRespWire, svc.Sessions)
	require.NoError(t, err)
	require.Equal(t, ipmi.PayloadOpenSessionResponse, openMsg.PayloadType)
	require.Equal(t, byte(rakp.StatusNoError), openMsg.Payload[1])
	bmcSessionID := binary.LittleEndian.Uint32(openMsg.Payload[8:12])
	require.NotZero(t, bmcSessionID)

	addr, ok := svc.Peer(bmcSessionID)
	require.True(t, ok)
	require.Equal(t, testPeer, addr)

	rcRandom := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	rakp1Wire := buildInboundPacket(t, ipmi.PayloadRAKP1, bmcSessionID,
		buildRAKP1Bytes(2, bmcSessionID, rcRandom, ipmi.PrivilegeAdmin, "admin"), nil)
	rakp2Wire := HandleDatagram(svc, rakp1Wire, testPeer)
	require.NotNil(t, rakp2Wire)

	rakp2Msg, _, err := frame.Unflatten(rakp2Wire, svc.Sessions)
	require.NoError(t, err)
	require.Equal(t, ipmi.PayloadRAKP2, rakp2Msg.PayloadType)
	require.Equal(t, byte(rakp.StatusNoError), rakp2Msg.Payload[1])

	sess, err := svc.Sessions.GetSession(bmcSessionID, session.ByBMCSessionID)
	require.NoError(t, err)

	privByte := byte(ipmi.PrivilegeAdmin)
	input := []byte{}
	input = append(input, sess.Auth.BMCRandom[:]...)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], sess.RemoteConsoleSessionID())
	input = append(input, tmp[:]...)
	input = append(input, privByte, byte(len("admin")))
	input = append(input, []byte("admin")...)
	correctCode := sess.Auth.GenerateHMAC(input)

	rakp3Payload := make([]byte, 8+len(correctCode))
	rakp3Payload[0] = 3
	binary.LittleEndian.PutUint32(rakp3Payload[4:8], bmcSessionID)
	copy(rakp3Payload[8:], correctCode)
	rakp3Wire := buildInboundPacket(t, ipmi.PayloadRAKP3, bmcSessionID, rakp3Payload, nil)
	rakp4Wire := HandleDatagram(svc, rakp3Wire, testPeer)
	require.NotNil(t, rakp4Wire)

	rakp4Msg, _, err := frame.Unflatten(rakp4Wire, svc.Sessions)
	require.NoError(t, err)
	require.Equal(t, ipmi.PayloadRAKP4, rakp4Msg.PayloadType)
	require.Equal(t, byte(rakp.StatusNoError), rakp4Msg.Payload[1])
	require.Equal(t, session.StateActive, sess.State())
	require.NotNil(t, sess.Integrity)
	require.NotNil(t, sess.Crypt)

	// Set Session Privilege Level, now fully authenticated/encrypted.
	setPrivReq := ipmi.LANRequest{RsAddr: ipmi.RequesterBMCAddress, NetFnLUN: ipmi.NetFnAppRequest << 2, RqAddr: ipmi.ResponderBMCAddress, Cmd: ipmi.CmdSetSessionPrivilegeLevel, Data: []byte{byte(ipmi.PrivilegeOperator)}}
	lanWire := wrapLANRequest(t, setPrivReq)
	ipmiWire := buildInboundPacket(t, ipmi.PayloadIPMI, bmcSessionID, lanWire, sess)
	privRespWire := HandleDatagram(svc, ipmiWire, testPeer)
	require.NotNil(t, privRespWire)

	privResp, err := ipmi.ParseLANRequest(decodeConsoleResponse(t, privRespWire, sess))
	require.NoError(t, err)
	require.Equal(t, byte(ipmi.CCNormal), privResp.Data[0])
	require.Equal(t, byte(ipmi.PrivilegeOperator), privResp.Data[1])

	// Close Session.
	closeData := make([]byte, 4)
	binary.LittleEndian.PutUint32(closeData, bmcSessionID)
	closeReq := ipmi.LANRequest{RsAddr: ipmi.RequesterBMCAddress, NetFnLUN: ipmi.NetFnAppRequest << 2, RqAddr: ipmi.ResponderBMCAddress, Cmd: ipmi.CmdCloseSession, Data: closeData}
	closeWire := buildInboundPacket(t, ipmi.PayloadIPMI, bmcSessionID, wrapLANRequest(t, closeReq), sess)
	closeRespWire := HandleDatagram(svc, closeWire, testPeer)
	require.NotNil(t, closeRespWire)

	closeMsg, _, err := frame.Unflatten(closeRespWire, svc.Sessions)
	require.NoError(t, err)
	closeResp, err := ipmi.ParseLANRequest(closeMsg.Payload)
	require.NoError(t, err)
	require.Equal(t, byte(ipmi.CCNormal), closeResp.Data[0])

	_, ok = svc.Peer(bmcSessionID)
	require.False(t, ok, "closing the session must forget its peer address")
}

// decodeConsoleResponse checks and decrypts an authenticated, encrypted
// response the BMC sent to the remote console. Its session header carries
// the console's session id, which the BMC's session table is not keyed by,
// so the AuthCode check and decryption run directly against sess.
func decodeConsoleResponse(t *testing.T, wire []byte, sess *session.Session) []byte {
	t.Helper()
	rest := wire[4:] // skip the RMCP header
	h, payload, err := ipmi.ParseIPMI20SessionHeader(rest)
	require.NoError(t, err)
	require.Equal(t, sess.RemoteConsoleSessionID(), h.SessionID)
	authLen := sess.Integrity.AuthCodeLength()
	require.True(t, sess.Integrity.VerifyAuthCode(rest[:len(rest)-authLen], rest[len(rest)-authLen:]))
	plain, err := sess.Crypt.Decrypt(payload)
	require.NoError(t, err)
	return plain
}

func wrapLANRequest(t *testing.T, req ipmi.LANRequest) []byte {
	t.Helper()
	head := []byte{req.RsAddr, req.NetFnLUN, 0, req.RqAddr, req.RqSeqLUN, req.Cmd}
	head[2] = ipmi.Checksum8(head[:2])
	out := append(head, req.Data...)
	out = append(out, ipmi.Checksum8(out[3:]))
	return out
}

func TestDispatchDropsMalformedPacket(t *testing.T) {
	svc := newTestServices(t)
	out := HandleDatagram(svc, []byte{0x06, 0x00, 0xFF}, testPeer)
	require.Nil(t, out)
}

func TestDispatchSOLReturnsNoDirectResponse(t *testing.T) {
	svc := newTestServices(t)
	openWire := buildInboundPacket(t, ipmi.PayloadOpenSessionRequest, session.SessionZero,
		buildOpenSessionRequestBytes(1, 0, 0xBBBB0001, cipher.AuthRAKPHMACSHA1, cipher.IntegrityHMACSHA1_96, cipher.CryptAESCBC128), nil)
	HandleDatagram(svc, openWire, testPeer)

	out := HandleDatagram(svc, buildInboundPacket(t, ipmi.PayloadSOL, session.SessionZero+1, []byte{0, 0, 0, 0}, nil), testPeer)
	require.Nil(t, out, "SOL payloads never get a direct reply")
}
