// Package frame assembles and disassembles RMCP+ packets: the outer RMCP
// header, the IPMI 1.5/2.0 session header dispatch, integrity pad/trailer
// verification and generation, and payload encryption/decryption. Grounded
// on the original's message.hpp and message_parsers.cpp.
package frame

import (
	"fmt"

	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/session"
)

// invalidSessionID is the sentinel the original stores in a freshly
// constructed Message before any session id is known.
const invalidSessionID = 0xBADBADFF

// Message is one inbound or outbound RMCP+ payload, independent of whether
// it arrived over an IPMI 1.5 or IPMI 2.0 session header. Mirrors
// message::Message.
type Message struct {
	IsEncrypted     bool
	IsAuthenticated bool
	PayloadType     ipmi.PayloadType
	RCSessionID     uint32
	BMCSessionID    uint32
	SessionSeqNum   uint32
	Payload         []byte
}

// NewMessage constructs an empty message with both session ids set to the
// original's MESSAGE_INVALID_SESSION_ID sentinel.
func NewMessage() *Message {
	return &Message{RCSessionID: invalidSessionID, BMCSessionID: invalidSessionID}
}

// ResponseType returns the payload type an outgoing response to this
// message must carry. During session setup, response payload types differ
// from the request's; once a session is established, responses echo the
// same payload type as the request. Mirrors Message's copy constructor
// special-casing.
func (m *Message) ResponseType() ipmi.PayloadType {
	switch m.PayloadType {
	case ipmi.PayloadOpenSessionRequest:
		return ipmi.PayloadOpenSessionResponse
	case ipmi.PayloadRAKP1:
		return ipmi.PayloadRAKP2
	case ipmi.PayloadRAKP3:
		return ipmi.PayloadRAKP4
	default:
		return m.PayloadType
	}
}

// Unflatten parses a raw datagram into a Message, dispatching on the session
// format byte that follows the RMCP header (0 selects IPMI 1.5, 6 selects
// IPMI 2.0/RMCP+). Mirrors message::parser::unflatten.
func Unflatten(pkt []byte, sessions *session.Manager) (*Message, uint8, error) {
	if _, err := ipmi.ParseRMCPHeader(pkt); err != nil {
		return nil, 0, err
	}
	rest := pkt[4:]
	if len(rest) < 1 {
		return nil, 0, ipmi.ErrShortPacket
	}
	switch rest[0] {
	case ipmi.AuthTypeIPMI15:
		msg, err := unflattenIPMI15(rest)
		return msg, ipmi.AuthTypeIPMI15, err
	case ipmi.AuthTypeRMCPPlus:
		msg, err := unflattenIPMI20(rest, sessions)
		return msg, ipmi.AuthTypeRMCPPlus, err
	default:
		return nil, 0, fmt.Errorf("frame: invalid session header format %#x", rest[0])
	}
}

// Flatten serializes an outgoing Message onto the wire, including the RMCP
// header, under the given session format, wrapping encryption and integrity
// around the payload when the session requires them. Mirrors
// message::parser::flatten.
func Flatten(msg *Message, authType uint8, sess *session.Session) ([]byte, error) {
	switch authType {
	case ipmi.AuthTypeIPMI15:
		return flattenIPMI15(msg), nil
	case ipmi.AuthTypeRMCPPlus:
		return flattenIPMI20(msg, sess)
	default:
		return nil, fmt.Errorf("frame: invalid session header format %#x", authType)
	}
}

func unflattenIPMI15(rest []byte) (*Message, error) {
	h, payload, err := ipmi.ParseIPMI15SessionHeader(rest)
	if err != nil {
		return nil, err
	}
	return &Message{
		PayloadType:   ipmi.PayloadIPMI,
		BMCSessionID:  h.SessionID,
		SessionSeqNum: h.SessionSeq,
		Payload:       append([]byte(nil), payload...),
	}, nil
}

func flattenIPMI15(msg *Message) []byte {
	h := ipmi.IPMI15SessionHeader{
		AuthType:   ipmi.AuthTypeIPMI15,
		SessionSeq: 0,
		SessionID:  msg.RCSessionID,
		PayloadLen: uint8(len(msg.Payload)),
	}
	out := ipmi.DefaultRMCPHeader().Marshal()
	out = append(out, h.Marshal()...)
	out = append(out, msg.Payload...)
	out = append(out, 0x00) // legacy pad trailer byte
	return out
}

func unflattenIPMI20(rest []byte, sessions *session.Manager) (*Message, error) {
	h, payload, err := ipmi.ParseIPMI20SessionHeader(rest)
	if err != nil {
		return nil, err
	}
	pt, encrypted, authenticated := ipmi.SplitPayloadTypeByte(h.PayloadTypeByte)

	msg := &Message{
		PayloadType:     pt,
		BMCSessionID:    h.SessionID,
		SessionSeqNum:   h.SessionSeq,
		IsEncrypted:     encrypted,
		IsAuthenticated: authenticated,
	}

	payloadLen := int(h.PayloadLen)

	if authenticated {
		sess, err := sessions.GetSession(h.SessionID, session.ByBMCSessionID)
		if err != nil || sess.Integrity == nil {
			return nil, fmt.Errorf("frame: packet integrity check failed: no integrity algorithm for session %#x", h.SessionID)
		}
		if err := verifyPacketIntegrity(rest, payloadLen, sess); err != nil {
			return nil, err
		}
	}

	if encrypted {
		sess, err := sessions.GetSession(h.SessionID, session.ByBMCSessionID)
		if err != nil || sess.Crypt == nil {
			return nil, fmt.Errorf("frame: no crypt algorithm for session %#x", h.SessionID)
		}
		plain, err := sess.Crypt.Decrypt(payload[:payloadLen])
		if err != nil {
			return nil, fmt.Errorf("frame: decrypt payload: %w", err)
		}
		msg.Payload = plain
	} else {
		msg.Payload = append([]byte(nil), payload[:payloadLen]...)
	}

	return msg, nil
}

func flattenIPMI20(msg *Message, sess *session.Session) ([]byte, error) {
	h := ipmi.IPMI20SessionHeader{
		AuthType:  ipmi.AuthTypeRMCPPlus,
		SessionID: msg.RCSessionID,
	}

	// Session zero, and a packet built without a session record, has no
	// outbound counter to advance and carries sequence number 0.
	if msg.RCSessionID == session.SessionZero || sess == nil {
		h.SessionSeq = 0
	} else {
		h.SessionSeq = sess.Sequence.Increment()
	}

	var payload []byte
	if msg.IsEncrypted {
		if sess == nil || sess.Crypt == nil {
			return nil, fmt.Errorf("frame: packet marked encrypted but session has no crypt algorithm")
		}
		enc, err := sess.Crypt.Encrypt(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("frame: encrypt payload: %w", err)
		}
		payload = enc
	} else {
		payload = msg.Payload
	}
	h.PayloadLen = uint16(len(payload))
	h.PayloadTypeByte = ipmi.MakePayloadTypeByte(msg.PayloadType, msg.IsEncrypted, msg.IsAuthenticated)

	out := ipmi.DefaultRMCPHeader().Marshal()
	out = append(out, h.Marshal()...)
	out = append(out, payload...)

	if msg.IsAuthenticated {
		if sess == nil || sess.Integrity == nil {
			return nil, fmt.Errorf("frame: packet marked authenticated but session has no integrity algorithm")
		}
		out = appendIntegrityData(out, len(payload), sess)
	}

	return out, nil
}

// integrityPadding computes the number of 0xFF pad bytes needed so the
// AuthCode field starts on a 4-byte boundary, per IPMI v2.0 §13.8.
func integrityPadding(payloadLen int) int {
	return 4 - ((payloadLen + 2) & 3)
}

// rmcpHeaderLen is the size of the outer RMCP header that precedes the
// session header in every packet built by Flatten. The AuthCode covers the
// session header onward, never the RMCP header itself (message_parsers.cpp,
// verifyPacketIntegrity).
const rmcpHeaderLen = 4

func appendIntegrityData(packet []byte, payloadLen int, sess *session.Session) []byte {
	padLen := integrityPadding(payloadLen)
	for i := 0; i < padLen; i++ {
		packet = append(packet, 0xFF)
	}
	packet = append(packet, byte(padLen), ipmi.RMCPClassIPMI)

	authCode := sess.Integrity.GenerateAuthCode(packet[rmcpHeaderLen:])
	return append(packet, authCode...)
}

func verifyPacketIntegrity(rest []byte, payloadLen int, sess *session.Session) error {
	padLen := integrityPadding(payloadLen)
	trailerPos := 12 + payloadLen + padLen // 12 == sizeof(SessionHeader_t)
	if len(rest) < trailerPos+2 {
		return fmt.Errorf("frame: %w: short trailer", ipmi.ErrBadIntegrityPad)
	}
	if int(rest[trailerPos]) != padLen {
		return fmt.Errorf("frame: %w: pad length mismatch", ipmi.ErrBadIntegrityPad)
	}

	authCodeStart := trailerPos + 2
	authCode := rest[authCodeStart:]
	if len(authCode) != sess.Integrity.AuthCodeLength() {
		return fmt.Errorf("frame: %w: auth code length mismatch", ipmi.ErrBadAuthCode)
	}

	// The covered range runs from the start of the session header (the
	// format byte) through the byte that immediately precedes the AuthCode
	// field — i.e. everything up to authCodeStart, relative to the RMCP
	// header that was already stripped off by the caller.
	covered := rest[:authCodeStart]
	if !sess.Integrity.VerifyAuthCode(covered, authCode) {
		return fmt.Errorf("frame: %w", ipmi.ErrBadAuthCode)
	}
	return nil
}
