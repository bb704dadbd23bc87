package rakp

import (
	"github.com/openbmc-go/netipmid/ipmi"
	"github.com/openbmc-go/netipmid/session"
)

// CloseSession closes a session identified either by BMC session id (when
// non-zero) or by 8-bit handle (session id zero, handle non-zero). The
// caller's current privilege must be at least as high as the session being
// closed; session id 0 can never be closed. Mirrors the Close Session
// command's logic in spec.md §4.3, using the `&&`-fixed
// session.IsSessionObjectMatched (DESIGN.md, Open Question Decisions #2).
func CloseSession(mgr *session.Manager, requestSessionID uint32, requestHandle uint8, callerPriv ipmi.Privilege) ipmi.CompletionCode {
	if requestSessionID == session.SessionZero && requestHandle == 0 {
		return ipmi.CCRequestDataInvalid
	}

	var target *session.Session
	var err error
	switch {
	case requestSessionID != session.SessionZero:
		target, err = mgr.GetSession(requestSessionID, session.ByBMCSessionID)
	default:
		target, err = mgr.GetSessionByHandle(requestHandle)
	}
	if err != nil {
		if requestHandle != 0 {
			return ipmi.CCInvalidSessionHandle
		}
		return ipmi.CCInvalidSessionID
	}

	if target.BMCSessionID() == session.SessionZero {
		return ipmi.CCInvalidSessionID
	}

	if !session.IsSessionObjectMatched(target, requestSessionID, requestHandle) {
		return ipmi.CCInvalidSessionID
	}

	if target.CurrentPrivilege() > callerPriv {
		return ipmi.CCInsufficientPrivilege
	}

	mgr.StopSession(target.BMCSessionID())
	return ipmi.CCNormal
}

// SetSessionPrivilege implements the Set Session Privilege Level command.
// A requested level of 0 is a query: it returns the session's current
// privilege unchanged. Any other requested level is floored against the
// session's privilege ceiling (min of channel limit, user limit, and the
// level requested at Open Session time, captured once as reqMaxPrivLevel);
// exceeding that ceiling is rejected rather than clamped.
func SetSessionPrivilege(sess *session.Session, requested ipmi.Privilege) (ipmi.Privilege, ipmi.CompletionCode) {
	if requested == ipmi.PrivilegeReserved {
		return sess.CurrentPrivilege(), ipmi.CCNormal
	}
	if requested > sess.ReqMaxPrivLevel() {
		return sess.CurrentPrivilege(), ipmi.CCInsufficientPrivilege
	}
	sess.SetCurrentPrivilege(requested)
	sess.UpdateLastTransactionTime()
	return requested, ipmi.CCNormal
}
