package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbmc-go/netipmid/daemon"
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/logs"
	"github.com/openbmc-go/netipmid/rakp"
	"github.com/openbmc-go/netipmid/session"
	"github.com/openbmc-go/netipmid/sol"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	users := rakp.NewInMemoryUsers()
	users.AddUser("admin", 2, "correcthorsebatterystaple", uint8(ipmi.PrivilegeAdmin))
	sessions := session.NewManager(0, session.MaxSessionsPerChannel)
	svc := daemon.NewServices(sessions, nil, users, rakp.NewGUID())
	svc.SOL = sol.NewManager(svc)
	auditLog := logs.NewWriter(t.TempDir(), 1)
	return New("127.0.0.1:0", svc, auditLog, "test")
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleListSessionsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Empty(t, out)
}

func TestHandleGetSessionNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/sessions/1234")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleBlobStateDisabled(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/blob/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var out BlobStateInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "disabled", out.State)
}

func TestHandleSOLStatusInactive(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/sol/3")
	require.Equal(t, http.StatusOK, rec.Code)

	var out SOLInstanceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.False(t, out.Active)
	require.Equal(t, uint8(3), out.Instance)
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":"test"}`, rec.Body.String())
}
