package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openbmc-go/netipmid/session"
)

// SessionInfo is the JSON shape returned by /sessions and /sessions/{id}.
type SessionInfo struct {
	BMCSessionID     uint32 `json:"bmc_session_id"`
	RemoteSessionID  uint32 `json:"remote_console_session_id"`
	Handle           uint8  `json:"handle"`
	UserName         string `json:"user_name"`
	ChannelNum       uint8  `json:"channel_num"`
	MaxPrivilege     uint8  `json:"requested_max_privilege"`
	CurrentPrivilege uint8  `json:"current_privilege"`
	State            string `json:"state"`
	Authenticated    bool   `json:"authenticated"`
	Encrypted        bool   `json:"encrypted"`
	LastActivity     string `json:"last_activity"`
}

func sessionInfo(sess *session.Session) SessionInfo {
	return SessionInfo{
		BMCSessionID:     sess.BMCSessionID(),
		RemoteSessionID:  sess.RemoteConsoleSessionID(),
		Handle:           sess.Handle(),
		UserName:         sess.UserName(),
		ChannelNum:       sess.ChannelNum(),
		MaxPrivilege:     uint8(sess.ReqMaxPrivLevel()),
		CurrentPrivilege: uint8(sess.CurrentPrivilege()),
		State:            sess.State().String(),
		Authenticated:    sess.Integrity != nil,
		Encrypted:        sess.Crypt != nil,
		LastActivity:     sess.LastActivity().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all := s.svc.Sessions.All()
	out := make([]SessionInfo, 0, len(all))
	for _, sess := range all {
		if sess.BMCSessionID() == session.SessionZero {
			continue
		}
		out = append(out, sessionInfo(sess))
	}
	writeJSON(w, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 0, 32)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	sess, err := s.svc.Sessions.GetSession(uint32(id), session.ByBMCSessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, sessionInfo(sess))
}

// SOLInstanceInfo is the JSON shape returned by /sol/{instance}.
type SOLInstanceInfo struct {
	Instance  uint8  `json:"instance"`
	SessionID uint32 `json:"session_id"`
	Active    bool   `json:"active"`
}

func (s *Server) handleSOLStatus(w http.ResponseWriter, r *http.Request) {
	instanceStr := mux.Vars(r)["instance"]
	instance, err := strconv.ParseUint(instanceStr, 0, 8)
	if err != nil {
		http.Error(w, "invalid payload instance", http.StatusBadRequest)
		return
	}
	ctx, ok := s.svc.SOL.GetContext(uint8(instance))
	if !ok {
		writeJSON(w, SOLInstanceInfo{Instance: uint8(instance), Active: false})
		return
	}
	writeJSON(w, SOLInstanceInfo{Instance: ctx.Instance, SessionID: ctx.SessionID, Active: true})
}

// BlobStateInfo is the JSON shape returned by /blob/state.
type BlobStateInfo struct {
	State   string   `json:"state"`
	BlobIDs []string `json:"blob_ids"`
}

func (s *Server) handleBlobState(w http.ResponseWriter, r *http.Request) {
	if s.svc.Blob == nil {
		writeJSON(w, BlobStateInfo{State: "disabled", BlobIDs: []string{}})
		return
	}
	writeJSON(w, BlobStateInfo{
		State:   s.svc.Blob.State().String(),
		BlobIDs: s.svc.Blob.GetBlobIDs(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
