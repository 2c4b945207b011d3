package signal

import (
	"github.com/dkeye/Huddle/internal/core"
)

// sendSession tells the client who it is; it needs its id to address
// negotiation envelopes.
func (ctl *SignalWSController) sendSession(sid core.SessionID, conn *WsSignalConn) {
	info, ok := ctl.Orch.SessionInfo(sid)
	if !ok {
		return
	}
	ctl.sendEvent(conn, core.EventSession, info)
}
