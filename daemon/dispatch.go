package daemon

import (
	"encoding/binary"
	"net"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/frame"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/rakp"
	"github.com/openbmc-go/netipmid/session"
	"github.com/openbmc-go/netipmid/sol"
	log "github.com/sirupsen/logrus"
)

// HandleDatagram processes one inbound RMCP+ datagram start to finish:
// parsing, command dispatch, and response assembly. It never panics or
// returns an error to its caller — every failure this daemon cannot
// usefully answer (malformed packet, failed integrity check, unknown
// session, unsupported payload type) drops the packet, per spec.md §7:
// answering a bad AuthCode would hand an attacker a timing oracle, so the
// safe default is silence. An IPMI command the daemon does not handle is
// answered with the invalid-command completion code. A nil return means "send
// nothing"; this is also the normal case for SOL payloads, which the
// original's Message::createResponse never replies to directly either.
func HandleDatagram(svc *Services, pkt []byte, from *net.UDPAddr) []byte {
	msg, authType, err := frame.Unflatten(pkt, svc.Sessions)
	if err != nil {
		log.WithError(err).Debug("netipmid: dropping unparseable packet")
		return nil
	}

	resp := frame.NewMessage()
	resp.PayloadType = msg.ResponseType()
	resp.RCSessionID = session.SessionZero
	// A response mirrors its request's encryption/authentication status,
	// the same thing the original's Message copy constructor does when
	// createResponse builds the reply out of *this.
	resp.IsEncrypted = msg.IsEncrypted
	resp.IsAuthenticated = msg.IsAuthenticated

	var sess *session.Session

	switch msg.PayloadType {
	case ipmi.PayloadOpenSessionRequest:
		req, perr := rakp.ParseOpenSessionRequest(msg.Payload)
		if perr != nil {
			log.WithError(perr).Debug("netipmid: bad open session request")
			return nil
		}
		out, newSess := rakp.OpenSession(svc.Sessions, req)
		resp.Payload = out.Marshal()
		if newSess != nil {
			svc.SetPeer(newSess.BMCSessionID(), from)
		}

	case ipmi.PayloadRAKP1:
		req, perr := rakp.ParseRAKP1(msg.Payload)
		if perr != nil {
			log.WithError(perr).Debug("netipmid: bad RAKP1")
			return nil
		}
		out, _ := rakp.ProcessRAKP1(svc.Sessions, svc.Users, svc.GUID, req)
		resp.Payload = out.Marshal()

	case ipmi.PayloadRAKP3:
		req, perr := rakp.ParseRAKP3(msg.Payload)
		if perr != nil {
			log.WithError(perr).Debug("netipmid: bad RAKP3")
			return nil
		}
		integrityAlgo, cryptAlgo := negotiatedAlgos(svc, req.ManagedSystemSessionID)
		out, activated := rakp.ProcessRAKP3(svc.Sessions, svc.GUID, integrityAlgo, cryptAlgo, req)
		resp.Payload = out.Marshal()
		if activated != nil {
			svc.logSessionEvent("session_create", activated)
		}

	case ipmi.PayloadIPMI:
		lanReq, perr := ipmi.ParseLANRequest(msg.Payload)
		if perr != nil {
			log.WithError(perr).Debug("netipmid: bad LAN message")
			return nil
		}
		sess, _ = svc.Sessions.GetSession(msg.BMCSessionID, session.ByBMCSessionID)
		if sess == nil {
			return nil
		}
		sess.UpdateLastTransactionTime()
		resp.Payload = dispatchIPMICommand(svc, sess, lanReq)
		resp.RCSessionID = sess.RemoteConsoleSessionID()

	case ipmi.PayloadSOL:
		sess, _ = svc.Sessions.GetSession(msg.BMCSessionID, session.ByBMCSessionID)
		if sess != nil {
			sess.UpdateLastTransactionTime()
			handleSOLPayload(svc, msg.BMCSessionID, msg.Payload)
		}
		return nil

	default:
		log.WithField("payload_type", msg.PayloadType).Debug("netipmid: unsupported payload type")
		return nil
	}

	out, ferr := frame.Flatten(resp, authType, sess)
	if ferr != nil {
		log.WithError(ferr).Warn("netipmid: failed to build response")
		return nil
	}
	return out
}

// negotiatedAlgos recovers the integrity/crypt algorithms OpenSession
// stashed on the session's auth interface, for ProcessRAKP3 to install.
func negotiatedAlgos(svc *Services, bmcSessionID uint32) (integrityAlgo cipher.IntegrityAlgorithm, cryptAlgo cipher.CryptAlgorithm) {
	sess, err := svc.Sessions.GetSession(bmcSessionID, session.ByBMCSessionID)
	if err != nil || sess.Auth == nil {
		return 0, 0
	}
	return sess.Auth.IntegrityAlgo, sess.Auth.CryptAlgo
}

func dispatchIPMICommand(svc *Services, sess *session.Session, req ipmi.LANRequest) []byte {
	if req.NetFn() != ipmi.NetFnAppRequest {
		return ipmi.BuildLANResponse(req, ipmi.CCInvalidCommand, nil)
	}
	switch req.Cmd {
	case ipmi.CmdCloseSession:
		return handleCloseSession(svc, sess, req)
	case ipmi.CmdSetSessionPrivilegeLevel:
		return handleSetSessionPrivilege(sess, req)
	case ipmi.CmdActivatePayload:
		return handleActivatePayload(svc, sess, req)
	case ipmi.CmdDeactivatePayload:
		return handleDeactivatePayload(svc, sess, req)
	default:
		// Every other net-function/command belongs to the external host
		// command pipeline, out of scope here (spec.md §1).
		return ipmi.BuildLANResponse(req, ipmi.CCInvalidCommand, nil)
	}
}

func handleCloseSession(svc *Services, caller *session.Session, req ipmi.LANRequest) []byte {
	if len(req.Data) < 4 {
		return ipmi.BuildLANResponse(req, ipmi.CCRequestDataInvalid, nil)
	}
	targetID := binary.LittleEndian.Uint32(req.Data[0:4])
	var handle uint8
	if len(req.Data) >= 5 {
		handle = req.Data[4]
	}
	cc := rakp.CloseSession(svc.Sessions, targetID, handle, caller.CurrentPrivilege())
	if cc == ipmi.CCNormal {
		svc.ForgetPeer(targetID)
		svc.UnbindInstance(targetID)
		svc.logSessionEventByID("session_close", targetID)
	}
	return ipmi.BuildLANResponse(req, cc, nil)
}

func handleSetSessionPrivilege(sess *session.Session, req ipmi.LANRequest) []byte {
	if len(req.Data) < 1 {
		return ipmi.BuildLANResponse(req, ipmi.CCRequestDataInvalid, nil)
	}
	requested := ipmi.Privilege(req.Data[0] & ipmi.ReqMaxPrivMask)
	granted, cc := rakp.SetSessionPrivilege(sess, requested)
	return ipmi.BuildLANResponse(req, cc, []byte{byte(granted)})
}

// solActivationAuxLen is the size of the Activate/Deactivate Payload
// response's fixed auxiliary-data-plus-sizing block: 4 bytes of
// payload-type-specific auxiliary data (unused for SOL, left zero) + 2
// bytes each of inbound payload size, outbound payload size, payload UDP
// port, and payload VLAN number (0xFFFF = untagged). IPMI v2.0 §24.1.
const solActivationAuxLen = 12

func handleActivatePayload(svc *Services, sess *session.Session, req ipmi.LANRequest) []byte {
	if len(req.Data) < 2 {
		return ipmi.BuildLANResponse(req, ipmi.CCRequestDataInvalid, nil)
	}
	payloadType := ipmi.PayloadType(req.Data[0] & 0x3F)
	instance := req.Data[1] & 0x3F
	if payloadType != ipmi.PayloadSOL {
		return ipmi.BuildLANResponse(req, ipmi.CCParameterOutOfRange, nil)
	}

	if _, err := svc.SOL.StartPayloadInstance(instance, sess.BMCSessionID()); err != nil {
		return ipmi.BuildLANResponse(req, ipmi.CCUnspecifiedError, nil)
	}
	svc.BindInstance(sess.BMCSessionID(), instance)
	svc.SetActiveInstance(instance)

	out := make([]byte, solActivationAuxLen)
	binary.LittleEndian.PutUint16(out[4:6], sol.MaxPayloadSize)
	binary.LittleEndian.PutUint16(out[6:8], sol.MaxPayloadSize)
	binary.LittleEndian.PutUint16(out[8:10], 623)
	binary.LittleEndian.PutUint16(out[10:12], 0xFFFF)
	return ipmi.BuildLANResponse(req, ipmi.CCNormal, out)
}

func handleDeactivatePayload(svc *Services, sess *session.Session, req ipmi.LANRequest) []byte {
	if len(req.Data) < 2 {
		return ipmi.BuildLANResponse(req, ipmi.CCRequestDataInvalid, nil)
	}
	instance := req.Data[1] & 0x3F
	svc.SOL.StopPayloadInstance(instance)
	svc.UnbindInstance(sess.BMCSessionID())
	svc.ClearActiveInstance(instance)
	return ipmi.BuildLANResponse(req, ipmi.CCNormal, nil)
}

// handleSOLPayload feeds one inbound SOL packet to its owning Context. Any
// data it carries is written to the bridged host console; the Context's
// own Sender (Services.SendSOLPayload) transmits the ack/response, so this
// never contributes to HandleDatagram's return value.
func handleSOLPayload(svc *Services, bmcSessionID uint32, payload []byte) {
	instance, ok := svc.InstanceForSession(bmcSessionID)
	if !ok {
		log.WithField("bmc_session_id", bmcSessionID).Debug("netipmid: SOL packet for session with no bound instance")
		return
	}
	ctx, ok := svc.SOL.GetContext(instance)
	if !ok {
		return
	}
	p, ok := sol.ParsePayload(payload)
	if !ok {
		log.Debug("netipmid: short SOL payload, dropped")
		return
	}
	ctx.ProcessInboundPayload(p.PacketSeqNum, p.PacketAckSeqNum, p.AcceptedCharCount, p.NACK, p.Data, func(data []byte) error {
		if svc.HostConsole == nil {
			return nil
		}
		_, err := svc.HostConsole.Write(data)
		return err
	})
}
