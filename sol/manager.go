package sol

import (
	"fmt"
	"sync"
	"time"

	"github.com/openbmc-go/netipmid/ipmi"
	log "github.com/sirupsen/logrus"
)

// Manager owns every active SOL payload instance plus the SOL configuration
// parameters (spec.md §4.5). No Get/Set SOL Configuration Parameters command
// handler reads or writes these fields. Mirrors sol::Manager, generalized
// from a single-buffer, boost::asio
// design to a map of instances keyed by payload instance number so this
// daemon can host more than one concurrently.
type Manager struct {
	mu        sync.RWMutex
	instances map[uint8]*Context
	buffers   map[uint8]*ConsoleBuffer
	sender    Sender

	Progress          uint8
	Enable            bool
	ForceEncrypt      bool
	ForceAuth         bool
	MinPrivilege      ipmi.Privilege
	accumulateMillis  time.Duration
	SendThreshold     uint8
	RetryCount        uint8
	retryMillis       time.Duration
	Channel           uint8

	subMu       sync.RWMutex
	subscribers map[uint8][]chan []byte
}

// NewManager constructs a Manager with the original's documented defaults:
// SOL enabled, force encryption/authentication, minimum privilege USER,
// 100ms accumulate interval, send threshold 1, retry count 7, 100ms retry
// interval, channel 1.
func NewManager(sender Sender) *Manager {
	return &Manager{
		instances:        make(map[uint8]*Context),
		buffers:          make(map[uint8]*ConsoleBuffer),
		sender:           sender,
		Enable:           true,
		ForceEncrypt:     true,
		ForceAuth:        true,
		MinPrivilege:     ipmi.PrivilegeUser,
		accumulateMillis: 100 * time.Millisecond,
		SendThreshold:    1,
		RetryCount:       7,
		retryMillis:      100 * time.Millisecond,
		Channel:          1,
		subscribers:      make(map[uint8][]chan []byte),
	}
}

// AccumulateInterval and RetryInterval satisfy Context's timing interface.
func (m *Manager) AccumulateInterval() time.Duration { return m.accumulateMillis }
func (m *Manager) RetryInterval() time.Duration      { return m.retryMillis }

// SetTimings overrides the accumulate/retry intervals new Contexts (and the
// timing interface existing ones read from) use, for cmd/netipmid to apply
// the configured SOL timing parameters over NewManager's hardcoded
// defaults.
func (m *Manager) SetTimings(accumulate, retry time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accumulateMillis = accumulate
	m.retryMillis = retry
}

// StartPayloadInstance creates a new SOL context for the given payload
// instance and session, mirroring Manager::startPayloadInstance.
func (m *Manager) StartPayloadInstance(instance uint8, sessionID uint32) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.instances[instance]; exists {
		return nil, fmt.Errorf("sol: payload instance %d already active", instance)
	}
	buf := NewConsoleBuffer()
	ctx := NewContext(instance, sessionID, m.RetryCount, m.SendThreshold, buf, m.sender, m)
	m.instances[instance] = ctx
	m.buffers[instance] = buf
	log.WithFields(log.Fields{"instance": instance, "session_id": sessionID}).Info("sol payload instance started")
	return ctx, nil
}

// StopPayloadInstance tears down a payload instance's timers and discards
// its context, mirroring Manager::stopPayloadInstance.
func (m *Manager) StopPayloadInstance(instance uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx, ok := m.instances[instance]; ok {
		ctx.Close()
		delete(m.instances, instance)
		delete(m.buffers, instance)
		log.WithField("instance", instance).Info("sol payload instance stopped")
	}
	m.closeSubscribersLocked(instance)
}

// GetContext returns the active context for a payload instance, if any.
func (m *Manager) GetContext(instance uint8) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.instances[instance]
	return ctx, ok
}

// Instances returns a snapshot of every currently active payload context,
// for the event loop to build its per-instance accumulate/retry timer
// select set each iteration.
func (m *Manager) Instances() []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Context, 0, len(m.instances))
	for _, ctx := range m.instances {
		out = append(out, ctx)
	}
	return out
}

// WriteHostConsole appends host console bytes to the named instance's
// buffer and fans them out to any admin-surface subscribers (e.g. the
// status server's live console stream). The accumulate/retry timers pick
// the data up on their own schedule; this call does not send immediately.
func (m *Manager) WriteHostConsole(instance uint8, data []byte) {
	m.mu.RLock()
	buf, ok := m.buffers[instance]
	m.mu.RUnlock()
	if !ok {
		return
	}
	buf.Write(data)
	m.broadcast(instance, data)
}

// Subscribe registers a channel that receives every byte slice written to
// the named instance's console buffer, for the admin HTTP/SSE surface.
func (m *Manager) Subscribe(instance uint8) chan []byte {
	ch := make(chan []byte, 64)
	m.subMu.Lock()
	m.subscribers[instance] = append(m.subscribers[instance], ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(instance uint8, ch chan []byte) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	subs := m.subscribers[instance]
	for i, s := range subs {
		if s == ch {
			m.subscribers[instance] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) closeSubscribersLocked(instance uint8) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers[instance] {
		close(ch)
	}
	delete(m.subscribers, instance)
}

func (m *Manager) broadcast(instance uint8, data []byte) {
	m.subMu.RLock()
	subs := m.subscribers[instance]
	m.subMu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- data:
		default:
			// slow subscriber, drop rather than block the event loop
		}
	}
}
