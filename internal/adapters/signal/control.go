package signal

import "github.com/dkeye/Huddle/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendEvent(conn, core.EventPong, nil)
}
