// Package daemon wires the session, RAKP, SOL, and blob packages together
// into the shared collaborator bundle the dispatch loop and admin HTTP
// surface both operate on, and implements the dispatch loop itself. Mirrors
// the original's comm_module.cpp command table plus main.cpp's session
// creation glue, restructured around the Services struct called out in
// spec.md §9 Design Notes ("Global-singleton bundle") instead of the
// original's free functions reaching into process-wide singletons.
package daemon

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/openbmc-go/netipmid/blob"
	"github.com/openbmc-go/netipmid/frame"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/logs"
	"github.com/openbmc-go/netipmid/rakp"
	"github.com/openbmc-go/netipmid/session"
	"github.com/openbmc-go/netipmid/sol"
)

// Services bundles every collaborator the dispatch loop, the SOL sender,
// and the admin HTTP surface need. A single Services value is constructed
// at startup and passed by reference everywhere, rather than reached for
// through package-level globals.
type Services struct {
	Sessions *session.Manager
	SOL      *sol.Manager
	Blob     *blob.Handler
	Users    rakp.UserLookup
	GUID     rakp.GUID

	// AuditLog receives structured session lifecycle events (spec.md
	// §4.2): session create, close, and reap. Nil is a valid value (e.g.
	// in tests), in which case logSessionEvent/logSessionEventByID are
	// no-ops.
	AuditLog *logs.Writer

	// Conn is the UDP socket responses and outbound SOL packets are
	// written to. Set once by the cmd/netipmid entrypoint after the
	// listener is bound; nil in tests that never send SOL traffic.
	Conn *net.UDPConn

	// HostConsole is the stream the BMC's local console (the original's
	// abstract-namespace \0obmc-console socket) is bridged through.
	// Inbound SOL data is written here; a separate pump reads host output
	// back into the active instance's console buffer. Nil if no host
	// console is wired, e.g. under test.
	HostConsole io.ReadWriter

	peersMu sync.Mutex
	peers   map[uint32]*net.UDPAddr

	instMu          sync.Mutex
	sessionInstance map[uint32]uint8

	activeMu       sync.Mutex
	activeInstance uint8
	activeSet      bool
}

// NewServices constructs a Services with empty peer/instance tracking
// tables. SOL may be nil at construction time and filled in afterward,
// since sol.NewManager itself takes a Sender — satisfied by Services
// (see SendSOLPayload) — creating a short bootstrap ordering dependency
// the caller resolves by constructing Services first.
func NewServices(sessions *session.Manager, blobHandler *blob.Handler, users rakp.UserLookup, guid rakp.GUID) *Services {
	return &Services{
		Sessions:        sessions,
		Blob:            blobHandler,
		Users:           users,
		GUID:            guid,
		peers:           make(map[uint32]*net.UDPAddr),
		sessionInstance: make(map[uint32]uint8),
	}
}

// logSessionEvent records a session lifecycle audit event keyed off an
// already-resolved session. A nil AuditLog makes this a no-op so tests and
// stripped-down callers never need a dummy writer.
func (s *Services) logSessionEvent(kind string, sess *session.Session) {
	if s.AuditLog == nil || sess == nil {
		return
	}
	s.AuditLog.LogEvent(kind, map[string]interface{}{
		"bmc_session_id": sess.BMCSessionID(),
		"user_name":      sess.UserName(),
		"channel_num":    sess.ChannelNum(),
	})
}

// LogSessionReap is session.Manager's OnReap hook, exported so
// cmd/netipmid can wire `sessions.OnReap = svc.LogSessionReap` once both the
// session manager and the audit log exist.
func (s *Services) LogSessionReap(bmcSessionID uint32) {
	s.logSessionEventByID("session_reap", bmcSessionID)
}

// logSessionEventByID is logSessionEvent for call sites that only have the
// session id left to report by, e.g. after CloseSession has already torn
// the session record down.
func (s *Services) logSessionEventByID(kind string, bmcSessionID uint32) {
	if s.AuditLog == nil {
		return
	}
	s.AuditLog.LogEvent(kind, map[string]interface{}{"bmc_session_id": bmcSessionID})
}

// SetPeer records the UDP address a session's packets are answered to,
// captured from the Open Session Request datagram's source address —
// every later packet on that session, including timer-driven SOL sends
// that arrive with no fresh datagram to reply to, is addressed there.
func (s *Services) SetPeer(bmcSessionID uint32, addr *net.UDPAddr) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[bmcSessionID] = addr
}

// Peer returns the recorded address for a session, if any.
func (s *Services) Peer(bmcSessionID uint32) (*net.UDPAddr, bool) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	addr, ok := s.peers[bmcSessionID]
	return addr, ok
}

// ForgetPeer drops a session's recorded address, called on Close Session.
func (s *Services) ForgetPeer(bmcSessionID uint32) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	delete(s.peers, bmcSessionID)
}

// BindInstance and UnbindInstance record which SOL payload instance an
// Activate/Deactivate Payload exchange attached to a session, since the
// inbound SOL payload type carries only the session id, not the instance
// number.
func (s *Services) BindInstance(bmcSessionID uint32, instance uint8) {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	s.sessionInstance[bmcSessionID] = instance
}

func (s *Services) UnbindInstance(bmcSessionID uint32) {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	delete(s.sessionInstance, bmcSessionID)
}

func (s *Services) InstanceForSession(bmcSessionID uint32) (uint8, bool) {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	instance, ok := s.sessionInstance[bmcSessionID]
	return instance, ok
}

// SetActiveInstance and ClearActiveInstance track which payload instance
// the host console pump should attribute its reads to. This daemon only
// ever activates one SOL instance at a time in practice (channel 1), so a
// single slot is enough; ClearActiveInstance is a no-op if a different
// instance has since become active.
func (s *Services) SetActiveInstance(instance uint8) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.activeInstance = instance
	s.activeSet = true
}

func (s *Services) ClearActiveInstance(instance uint8) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.activeSet && s.activeInstance == instance {
		s.activeSet = false
	}
}

func (s *Services) ActiveInstance() (uint8, bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.activeInstance, s.activeSet
}

// SendSOLPayload implements sol.Sender: it flattens a SOL payload into a
// full RMCP+ frame under the owning session's negotiated integrity/crypt
// algorithms and writes it to the session's recorded peer address. This is
// how the accumulate/retry timers (cmd/netipmid's event loop) push SOL
// data the dispatch loop itself never triggered a reply for.
func (s *Services) SendSOLPayload(sessionID uint32, instance uint8, payload []byte) error {
	sess, err := s.Sessions.GetSession(sessionID, session.ByBMCSessionID)
	if err != nil {
		return fmt.Errorf("daemon: send SOL payload: %w", err)
	}
	addr, ok := s.Peer(sessionID)
	if !ok {
		return fmt.Errorf("daemon: send SOL payload: no known peer for session %#x", sessionID)
	}
	if s.Conn == nil {
		return fmt.Errorf("daemon: send SOL payload: no socket bound")
	}

	msg := frame.NewMessage()
	msg.PayloadType = ipmi.PayloadSOL
	msg.RCSessionID = sess.RemoteConsoleSessionID()
	msg.IsEncrypted = sess.Crypt != nil
	msg.IsAuthenticated = sess.Integrity != nil
	msg.Payload = payload

	out, err := frame.Flatten(msg, ipmi.AuthTypeRMCPPlus, sess)
	if err != nil {
		return fmt.Errorf("daemon: flatten SOL payload: %w", err)
	}
	_, err = s.Conn.WriteToUDP(out, addr)
	return err
}
