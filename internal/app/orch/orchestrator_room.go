package orch

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
)

func (o *Orchestrator) join(s *session) bool {
	existing, err := o.Registry.Join(s.id, s.roomID, s.member, s.peer)
	if err != nil {
		s.logger.Error().Err(err).Msg("join failed")
		o.close(s, core.CloseInternalError, "Join failed")
		return false
	}
	s.state = StateJoined

	if len(existing) > 0 {
		o.send(s, domain.UsersInRoom{
			Type:   domain.TypeUsersInRoom,
			RoomID: s.roomID,
			Users:  existing,
		})
	}
	o.broadcast(s.roomID, s.id, domain.Presence{
		Type:           domain.TypeUserJoined,
		RoomID:         s.roomID,
		ClientID:       s.member.ClientID,
		Username:       s.member.Username,
		ConnectedUsers: len(existing) + 1,
	})
	return true
}

// finish releases the connection exactly once, whatever path ended it.
func (o *Orchestrator) finish(s *session) {
	s.cleanup.Do(func() {
		defer s.peer.CloseWith(core.CloseNormal, "")
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("cleanup aborted")
			}
		}()
		s.state = StateClosed
		if d, ok := o.Registry.Leave(s.id); ok && d.Remaining > 0 {
			o.broadcast(d.RoomID, s.id, domain.Presence{
				Type:           domain.TypeUserLeft,
				RoomID:         d.RoomID,
				ClientID:       d.Member.ClientID,
				Username:       d.Member.Username,
				ConnectedUsers: d.Remaining,
			})
		}
		s.logger.Info().Msg("connection released")
	})
}

func (o *Orchestrator) broadcast(roomID domain.RoomID, exclude domain.ConnID, v any) core.PublishResult {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "orch").Err(err).Msg("encode broadcast")
		return core.PublishResult{}
	}
	res := o.Registry.Broadcast(roomID, data, exclude)
	o.onDropped(roomID, res.Dropped)
	return res
}

// onDropped applies the delivery policy to recipients whose queue refused a
// frame. Kicked peers run their own cleanup, which announces the departure.
func (o *Orchestrator) onDropped(roomID domain.RoomID, dropped []core.Recipient) {
	for _, r := range dropped {
		o.Metrics.Dropped()
		switch o.policy().OnDeliveryFailure(roomID, r) {
		case app.KickMember:
			log.Warn().
				Str("module", "orch").
				Str("room", string(roomID)).
				Str("conn", string(r.ConnID)).
				Str("client_id", string(r.Member.ClientID)).
				Msg("kicking unresponsive member")
			go r.Conn.Close()
		case app.NoAction:
		}
	}
}
