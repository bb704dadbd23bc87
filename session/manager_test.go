package session

import (
	"testing"
	"time"

	"github.com/openbmc-go/netipmid/cipher"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(0, MaxSessionsPerChannel)
}

func TestSessionZeroAlwaysPresent(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.GetSession(SessionZero, ByBMCSessionID)
	require.NoError(t, err)
	require.Equal(t, StateActive, sess.State())
}

func TestStartSessionAllocatesUniqueIDAndHandle(t *testing.T) {
	m := newTestManager(t)
	a, err := m.StartSession(0x10000001, ipmi.PrivilegeAdmin, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)
	b, err := m.StartSession(0x10000002, ipmi.PrivilegeAdmin, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)

	require.NotEqual(t, a.BMCSessionID(), b.BMCSessionID())
	require.NotEqual(t, a.Handle(), b.Handle())
	require.NotZero(t, a.Handle())
	require.NotZero(t, b.Handle())
}

// TestStartSessionRejectsOverCap exercises spec.md §4.2's "insufficient
// resources" failure when the per-channel session cap is reached.
func TestStartSessionRejectsOverCap(t *testing.T) {
	m := NewManager(0, 2)
	_, err := m.StartSession(1, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)
	_, err = m.StartSession(2, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)
	_, err = m.StartSession(3, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.Error(t, err)
}

func TestGetSessionByRemoteConsoleID(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.StartSession(0xAABBCCDD, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)

	found, err := m.GetSession(0xAABBCCDD, ByRemoteConsoleSessionID)
	require.NoError(t, err)
	require.Equal(t, sess.BMCSessionID(), found.BMCSessionID())
}

func TestStopSessionMarksTeardown(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.StartSession(1, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)

	require.True(t, m.StopSession(sess.BMCSessionID()))
	require.Equal(t, StateTeardownInProgress, sess.State())
	require.False(t, m.StopSession(0xFFFFFFFF))
}

// TestReaperEvictsInactiveSetupSessions exercises spec.md §4.2's reaper:
// a session in setup-in-progress with no activity for > 5s is evicted, and
// its session handle slot is released.
func TestReaperEvictsInactiveSetupSessions(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.StartSession(42, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)
	handle := sess.Handle()

	// Force the session to look stale without sleeping in the test.
	sess.mu.Lock()
	sess.lastTransaction = time.Now().Add(-10 * time.Second)
	sess.mu.Unlock()

	m.Reap()

	_, err = m.GetSession(sess.BMCSessionID(), ByBMCSessionID)
	require.Error(t, err)

	// The handle slot must be free again for reuse.
	reused, err := m.GetSessionByHandle(handle)
	require.Error(t, err)
	require.Nil(t, reused)
}

func TestActiveSessionsSurviveReap(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.StartSession(1, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)
	sess.SetState(StateActive)
	sess.UpdateLastTransactionTime()

	m.Reap()

	_, err = m.GetSession(sess.BMCSessionID(), ByBMCSessionID)
	require.NoError(t, err)
}

func TestIsSessionObjectMatchedRequiresBoth(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.StartSession(1, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)

	require.True(t, IsSessionObjectMatched(sess, sess.BMCSessionID(), sess.Handle()))
	require.True(t, IsSessionObjectMatched(sess, 0, sess.Handle()))
	require.True(t, IsSessionObjectMatched(sess, sess.BMCSessionID(), 0))
	// A handle match with a wrong, explicit session id must not be
	// accepted — this is the `||` -> `&&` fix from DESIGN.md.
	require.False(t, IsSessionObjectMatched(sess, 0xDEADBEEF, sess.Handle()))
}

func TestActiveSessionCount(t *testing.T) {
	m := newTestManager(t)
	a, err := m.StartSession(1, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)
	_, err = m.StartSession(2, ipmi.PrivilegeUser, cipher.AuthRAKPHMACSHA1)
	require.NoError(t, err)

	require.Equal(t, 0, m.ActiveSessionCount())
	a.SetState(StateActive)
	require.Equal(t, 1, m.ActiveSessionCount())
}
