package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
)

// payloadField names the envelope field that carries msgType's payload.
func payloadField(msgType string) string {
	if msgType == domain.TypeICECandidate {
		return "candidate"
	}
	return msgType
}

// relay forwards an offer, answer or ice_candidate. With a target it goes to
// that client only; without one it goes to everyone else in the room.
func (o *Orchestrator) relay(s *session, env *domain.Envelope) {
	payload := env.Payload()
	if len(payload) == 0 || string(payload) == "null" {
		o.sendError(s, fmt.Sprintf("Missing %s field", payloadField(env.Type)))
		return
	}

	data, err := json.Marshal(domain.NewRelay(env.Type, payload, s.member.ClientID, s.member.Username))
	if err != nil {
		s.logger.Warn().Err(err).Str("type", env.Type).Msg("payload is not valid JSON")
		o.sendError(s, fmt.Sprintf("Invalid %s field", payloadField(env.Type)))
		return
	}

	if env.To != "" {
		target, ok := o.Registry.FindByClientID(s.roomID, env.To)
		if !ok {
			s.logger.Debug().Str("to", string(env.To)).Str("type", env.Type).Msg("relay target not found")
			o.sendError(s, fmt.Sprintf("Target client not found: %s", env.To))
			return
		}
		if err := target.Conn.TrySend(data); err != nil {
			o.onDropped(s.roomID, []core.Recipient{target})
			return
		}
		o.Metrics.Relayed(env.Type, "direct")
		s.logger.Debug().Str("to", string(env.To)).Str("type", env.Type).Msg("relayed")
		return
	}

	res := o.Registry.Broadcast(s.roomID, data, s.id)
	o.onDropped(s.roomID, res.Dropped)
	o.Metrics.Relayed(env.Type, "broadcast")
	s.logger.Debug().Str("type", env.Type).Int("recipients", res.SendTo).Msg("relayed")
}
