// Package session implements the RMCP+ Session record and Session Manager
// described in spec.md §3 and §4.2: session lifecycle, BMC/remote-console
// session id bookkeeping, session-handle allocation, and the reaper that
// evicts inactive sessions. Grounded on the original's session.hpp and
// sessions_manager.hpp/.cpp.
package session

import (
	"sync"
	"time"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/ipmi"
)

// State is the session lifecycle state, session::State in the original.
type State uint8

const (
	StateSetupInProgress State = iota
	StateActive
	StateTeardownInProgress
)

func (s State) String() string {
	switch s {
	case StateSetupInProgress:
		return "setup-in-progress"
	case StateActive:
		return "active"
	case StateTeardownInProgress:
		return "teardown-in-progress"
	default:
		return "unknown"
	}
}

// Activity timeouts, session::SESSION_SETUP_TIMEOUT /
// SESSION_INACTIVITY_TIMEOUT in the original.
const (
	SetupTimeout      = 5 * time.Second
	InactivityTimeout = 60 * time.Second
)

// SessionZero is the reserved pseudo-session id that carries pre-auth
// commands (Open Session Request, RAKP1, RAKP3) and never carries keys.
const SessionZero uint32 = 0

// SequenceNumbers tracks a session's independent inbound/outbound
// authenticated sequence counters. Both start at zero; the first
// transmitted packet carries sequence number 1 (Increment is called before
// use), matching session::SequenceNumbers in the original.
type SequenceNumbers struct {
	in  uint32
	out uint32
}

func (s *SequenceNumbers) Get(inbound bool) uint32 {
	if inbound {
		return s.in
	}
	return s.out
}

func (s *SequenceNumbers) Set(seq uint32, inbound bool) {
	if inbound {
		s.in = seq
	} else {
		s.out = seq
	}
}

// Increment advances the outbound sequence number and returns the new
// value, for use as the sequence number on the packet about to be sent.
func (s *SequenceNumbers) Increment() uint32 {
	s.out++
	return s.out
}

// Session is one established (or establishing) RMCP+ conversation. See
// spec.md §3 "Session" for the full attribute list and invariants.
type Session struct {
	mu sync.Mutex

	bmcSessionID       uint32
	remoteConsoleSessionID uint32
	sessionHandle      uint8

	userName   string
	userID     uint8
	channelNum uint8

	reqMaxPrivLevel ipmi.Privilege
	currentPriv     ipmi.Privilege

	state State

	Sequence SequenceNumbers

	Auth      *cipher.AuthInterface
	Integrity *cipher.IntegrityAlgo
	Crypt     *cipher.CryptAlgo

	lastTransaction time.Time
}

// NewSession constructs a session record in state setup-in-progress, as the
// Manager does immediately after allocating a BMC session id.
func NewSession(remoteConsoleSessionID, bmcSessionID uint32, reqMaxPriv ipmi.Privilege) *Session {
	return &Session{
		bmcSessionID:           bmcSessionID,
		remoteConsoleSessionID: remoteConsoleSessionID,
		reqMaxPrivLevel:        reqMaxPriv,
		currentPriv:            ipmi.PrivilegeUser, // always starts at USER, see spec.md §4.3
		state:                  StateSetupInProgress,
		lastTransaction:        time.Now(),
	}
}

func (s *Session) BMCSessionID() uint32 {
	return s.bmcSessionID
}

func (s *Session) RemoteConsoleSessionID() uint32 {
	return s.remoteConsoleSessionID
}

func (s *Session) Handle() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionHandle
}

func (s *Session) SetHandle(h uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionHandle = h
}

func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}

func (s *Session) SetUserName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userName = name
}

func (s *Session) UserID() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) SetUserID(id uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

func (s *Session) ChannelNum() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelNum
}

func (s *Session) SetChannelNum(ch uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelNum = ch
}

func (s *Session) ReqMaxPrivLevel() ipmi.Privilege {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqMaxPrivLevel
}

func (s *Session) CurrentPrivilege() ipmi.Privilege {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPriv
}

func (s *Session) SetCurrentPrivilege(p ipmi.Privilege) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPriv = p
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// UpdateLastTransactionTime records activity for the inactivity-timeout
// check in IsActive. Every handled request on a session must call this.
func (s *Session) UpdateLastTransactionTime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTransaction = time.Now()
}

// LastActivity returns the timestamp of the most recent transaction,
// for the admin surface's session listing.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTransaction
}

// IsActive mirrors Session::isSessionActive: whether the session should
// survive the reaper's sweep, based on its state and idle time.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idle := time.Since(s.lastTransaction)
	switch s.state {
	case StateSetupInProgress:
		return idle < SetupTimeout
	case StateActive:
		return idle < InactivityTimeout
	default:
		return false
	}
}
