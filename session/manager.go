package session

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/ipmi"
	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxSessionsPerChannel is the default configured cap on concurrent
// sessions per channel (spec.md §3, "at most N (config, default 15)").
const MaxSessionsPerChannel = 15

// multiInterfaceSessionIDMask clears the top two bits of a freshly
// generated BMC session id so the channel-instance id can be OR'd in,
// keeping ids unique across co-hosted channel daemons.
const multiInterfaceSessionIDMask = 0x3FFFFFFF

// multiInterfaceSessionHandleMask is the same idea for the 6-bit handle
// space: bits 6-7 of the handle byte carry the channel-instance id.
const multiInterfaceSessionHandleMask = 0x3F

var (
	metricActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netipmid_active_sessions",
		Help: "Number of sessions currently in the active state.",
	})
	metricSessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netipmid_sessions_created_total",
		Help: "Total number of sessions created.",
	})
	metricSessionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netipmid_sessions_reaped_total",
		Help: "Total number of sessions evicted by the reaper.",
	})
)

func init() {
	prometheus.MustRegister(metricActiveSessions, metricSessionsCreated, metricSessionsReaped)
}

// RetrieveOption selects which id Manager.GetSession matches against.
type RetrieveOption int

const (
	ByBMCSessionID RetrieveOption = iota
	ByRemoteConsoleSessionID
)

// Manager owns every live session for one channel-instance, mirroring
// session::Manager. It is the sole mutator of the session map; spec.md §5
// requires that mutation happen only from the event loop, so in this daemon
// every mutation comes from the single packet-handling goroutine. The admin
// HTTP handlers read sessions from their own goroutines, under mu.
type Manager struct {
	mu                 sync.Mutex
	sessions           map[uint32]*Session // keyed by BMC session id
	handles            [MaxSessionsPerChannel + 1]uint32 // index 0 reserved/invalid
	channelInstance    uint8
	maxSessionsPerChan int

	// OnReap, if set, is called for every session the reaper evicts, after
	// it has already been removed from the map. Used by the admin surface
	// to emit an audit event for reaps triggered outside a direct request
	// (the periodic Reap ticker), where there is no HTTP-handler-style call
	// site to log from directly.
	OnReap func(bmcSessionID uint32)
}

// NewManager creates a Manager for the given channel-instance id (the two
// bits folded into session ids/handles to keep multiple co-hosted channel
// daemons from colliding) and installs the reserved session-zero
// pseudo-session.
func NewManager(channelInstance uint8, maxSessionsPerChannel int) *Manager {
	if maxSessionsPerChannel <= 0 {
		maxSessionsPerChannel = MaxSessionsPerChannel
	}
	m := &Manager{
		sessions:           make(map[uint32]*Session),
		channelInstance:    channelInstance,
		maxSessionsPerChan: maxSessionsPerChannel,
	}
	zero := NewSession(0, 0, ipmi.PrivilegeUser)
	zero.SetState(StateActive)
	m.sessions[SessionZero] = zero
	return m
}

// StartSession creates a new session in state setup-in-progress, allocating
// a collision-free BMC session id and a session handle. Mirrors
// Manager::startSession, including the reaper sweep that always runs first.
func (m *Manager) StartSession(remoteConsoleSessionID uint32, priv ipmi.Privilege, authAlgo cipher.AuthAlgorithm) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanStaleEntriesLocked()

	active := len(m.sessions) - 1 // -1 for the session-zero pseudo-session
	if active >= m.maxSessionsPerChan {
		metricSessionsReaped.Add(0) // touch metric set so /metrics always shows it
		return nil, fmt.Errorf("session: insufficient resources, %d/%d sessions in use", active, m.maxSessionsPerChan)
	}

	bmcSessionID, err := m.allocateSessionIDLocked()
	if err != nil {
		return nil, err
	}

	handle, err := m.storeSessionHandleLocked(bmcSessionID)
	if err != nil {
		return nil, err
	}

	auth, err := cipher.NewAuthInterface(authAlgo)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	sess := NewSession(remoteConsoleSessionID, bmcSessionID, priv)
	sess.Auth = auth
	sess.SetHandle(handle)

	m.sessions[bmcSessionID] = sess
	metricSessionsCreated.Inc()
	log.WithFields(log.Fields{"bmc_session_id": bmcSessionID, "handle": handle}).Info("session created")
	return sess, nil
}

// allocateSessionIDLocked draws a random BMC session id, overwrites its top
// two bits with the channel-instance id, and retries on collision with a
// still-live session — Manager::startSession's do/while loop.
func (m *Manager) allocateSessionIDLocked() (uint32, error) {
	for attempt := 0; attempt < 1000; attempt++ {
		raw, err := cipher.RandomBytes(4)
		if err != nil {
			return 0, fmt.Errorf("session: generate session id: %w", err)
		}
		id := binary.LittleEndian.Uint32(raw)
		id &= multiInterfaceSessionIDMask
		id |= uint32(m.channelInstance) << 30
		if id == SessionZero {
			continue
		}
		if _, collide := m.sessions[id]; collide {
			continue
		}
		return id, nil
	}
	return 0, fmt.Errorf("session: could not allocate a collision-free session id")
}

// storeSessionHandleLocked assigns the next free 1..15 handle slot and
// folds in the channel-instance id in the top two bits, mirroring
// storeSessionHandle + the caller's `sessionHandle |= ipmiNetworkInstance << 6`.
func (m *Manager) storeSessionHandleLocked(bmcSessionID uint32) (uint8, error) {
	for i := 1; i <= m.maxSessionsPerChan && i < len(m.handles); i++ {
		if m.handles[i] == 0 {
			m.handles[i] = bmcSessionID
			handle := uint8(i) & multiInterfaceSessionHandleMask
			handle |= m.channelInstance << 6
			return handle, nil
		}
	}
	return 0, fmt.Errorf("session: no free session handle slots")
}

// StopSession marks a session for teardown rather than dropping it
// immediately, mirroring Manager::stopSession (the actual removal happens
// on the next reaper sweep once IsActive() goes false for a
// teardown-in-progress session).
func (m *Manager) StopSession(bmcSessionID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[bmcSessionID]
	if !ok {
		return false
	}
	sess.SetState(StateTeardownInProgress)
	return true
}

// GetSession looks up a session by BMC session id or remote-console
// session id, mirroring Manager::getSession's two RetrieveOptions.
func (m *Manager) GetSession(id uint32, option RetrieveOption) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch option {
	case ByBMCSessionID:
		if sess, ok := m.sessions[id]; ok {
			return sess, nil
		}
	case ByRemoteConsoleSessionID:
		for _, sess := range m.sessions {
			if sess.RemoteConsoleSessionID() == id {
				return sess, nil
			}
		}
	}
	return nil, fmt.Errorf("session: session id %#x not found", id)
}

// GetSessionByHandle resolves a short 6-bit handle to its owning session.
func (m *Manager) GetSessionByHandle(handle uint8) (*Session, error) {
	m.mu.Lock()
	idx := handle & multiInterfaceSessionHandleMask
	if int(idx) >= len(m.handles) {
		m.mu.Unlock()
		return nil, fmt.Errorf("session: handle %#x out of range", handle)
	}
	bmcSessionID := m.handles[idx]
	m.mu.Unlock()
	if bmcSessionID == 0 {
		return nil, fmt.Errorf("session: handle %#x not in use", handle)
	}
	return m.GetSession(bmcSessionID, ByBMCSessionID)
}

// IsSessionObjectMatched decides whether a Close Session request naming
// both a session id and a session handle refers to one real session. The
// original uses `||`, so a handle match alone suffices even against a wrong
// id — flagged in spec.md §9 as suspicious. This port deliberately fixes it
// to `&&` (see DESIGN.md, Open Question Decisions #2): both must agree when
// both are supplied.
func IsSessionObjectMatched(sess *Session, sessionID uint32, sessionHandle uint8) bool {
	idMatches := sessionID == 0 || sess.BMCSessionID() == sessionID
	handleMatches := sessionHandle == 0 || sess.Handle() == sessionHandle
	return idMatches && handleMatches
}

// cleanStaleEntriesLocked sweeps the session map and evicts any session
// whose IsActive() is false, mirroring Manager::cleanStaleEntries. Called
// at the top of every StartSession, matching the original's placement.
func (m *Manager) cleanStaleEntriesLocked() {
	for id, sess := range m.sessions {
		if id == SessionZero {
			continue
		}
		if !sess.IsActive() {
			m.releaseHandleLocked(sess.Handle())
			delete(m.sessions, id)
			metricSessionsReaped.Inc()
			log.WithField("bmc_session_id", id).Info("session reaped")
			if m.OnReap != nil {
				m.OnReap(id)
			}
		}
	}
}

func (m *Manager) releaseHandleLocked(handle uint8) {
	idx := handle & multiInterfaceSessionHandleMask
	if int(idx) < len(m.handles) {
		m.handles[idx] = 0
	}
}

// ActiveSessionCount returns the number of sessions currently in state
// active, mirroring Manager::getActiveSessionCount.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, sess := range m.sessions {
		if sess.State() == StateActive {
			count++
		}
	}
	metricActiveSessions.Set(float64(count))
	return count
}

// All returns a snapshot of every live session (including session zero),
// for the admin surface's session listing. Order is unspecified.
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// Reap runs the same sweep as cleanStaleEntriesLocked but is safe to call
// on its own schedule (e.g. a periodic ticker) rather than only piggy-backed
// on StartSession, which keeps idle sessions from lingering on a daemon
// that is not actively handling new Open Session Requests.
func (m *Manager) Reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanStaleEntriesLocked()
}
