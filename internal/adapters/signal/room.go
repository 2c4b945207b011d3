package signal

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, env core.Envelope) {
	var p core.JoinRequest
	if err := core.DecodeData(env, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join payload")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.Room)).Msg("join")
	ctl.Orch.JoinRoom(sid, p.Room, p.Name)
}

func (ctl *SignalWSController) handleChat(sid core.SessionID, env core.Envelope) {
	var p core.Chat
	if err := core.DecodeData(env, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad chat payload")
		return
	}
	if !ctl.chat.Allow(sid) {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("chat rate limited")
		return
	}
	ctl.Orch.RelayChat(sid, p.Room, p.Text)
}

func (ctl *SignalWSController) handleNegotiation(sid core.SessionID, env core.Envelope, frame []byte) {
	var msg core.Negotiation
	if err := core.DecodeData(env, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad negotiation payload")
		return
	}
	ctl.Orch.RelayNegotiation(sid, msg, frame)
}
