package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/metrics"
)

const DefaultAuthTimeout = 10 * time.Second

const authPrompt = "Authentication required. Send JWT token."

// Orchestrator routes every frame of a signaling connection: the auth
// handshake, room membership and relay of negotiation messages.
type Orchestrator struct {
	Registry    *app.Registry
	Policy      app.Policy
	Auth        core.Authenticator
	Admission   core.Admission
	Metrics     *metrics.Metrics
	AuthTimeout time.Duration
	// NewClientID is used when a client does not pick its own id.
	NewClientID func() domain.ClientID
}

// session is the per-connection state owned by the Serve goroutine.
type session struct {
	id      domain.ConnID
	roomID  domain.RoomID
	source  string
	peer    core.Peer
	member  domain.Member
	state   State
	logger  zerolog.Logger
	cleanup sync.Once
}

// Serve runs one connection until the peer goes away or is closed by the
// router. Membership is always released before Serve returns.
func (o *Orchestrator) Serve(ctx context.Context, peer core.Peer, connID domain.ConnID, roomID domain.RoomID, source string) {
	s := &session{
		id:     connID,
		roomID: roomID,
		source: source,
		peer:   peer,
		state:  StateConnected,
		logger: log.With().
			Str("module", "orch").
			Str("conn", string(connID)).
			Str("room", string(roomID)).
			Str("source", source).
			Logger(),
	}

	o.Metrics.SessionOpened()
	defer o.Metrics.SessionClosed()
	defer o.finish(s)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("state", s.state.String()).Msg("session aborted")
			if s.state < StateJoined {
				o.close(s, core.ClosePolicyViolation, "Authentication failed")
				return
			}
			o.close(s, core.CloseInternalError, "Internal server error")
		}
	}()

	s.logger.Info().Msg("connection accepted")

	if roomID == "" {
		o.close(s, core.ClosePolicyViolation, "Room id required")
		return
	}
	if !o.authenticate(ctx, s) {
		return
	}
	if !o.join(s) {
		return
	}
	o.loop(ctx, s)
}

func (o *Orchestrator) authenticate(ctx context.Context, s *session) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("authentication aborted")
			o.rejectAuth(s, "error", "Authentication failed")
			ok = false
		}
	}()

	o.send(s, domain.AuthRequired{Type: domain.TypeAuthRequired, Message: authPrompt})
	s.state = StateAuthenticating

	authCtx, cancel := context.WithTimeout(ctx, o.authTimeout())
	defer cancel()

	data, err := s.peer.Receive(authCtx)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(authCtx.Err(), context.DeadlineExceeded)
		if ctx.Err() == nil && timedOut {
			s.logger.Info().Msg("authentication timed out")
			o.close(s, core.ClosePolicyViolation, "Authentication timeout")
			return false
		}
		s.logger.Info().Err(err).Msg("disconnected before authentication")
		return false
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn().Err(err).Msg("malformed auth message")
		o.close(s, core.CloseProtocolError, "Malformed message")
		return false
	}
	if env.Type != domain.TypeAuthToken {
		s.logger.Warn().Str("type", env.Type).Msg("first message is not auth_token")
		o.close(s, core.ClosePolicyViolation, "Authentication required")
		return false
	}
	if env.Token == "" {
		o.rejectAuth(s, "missing_token", "Invalid token")
		return false
	}

	ident, err := o.Auth.Authenticate(ctx, env.Token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidToken):
		o.rejectAuth(s, "invalid_token", "Invalid token")
		return false
	case errors.Is(err, domain.ErrUserInactive):
		o.rejectAuth(s, "inactive_user", "User not found or inactive")
		return false
	default:
		s.logger.Error().Err(err).Msg("authenticator failed")
		o.rejectAuth(s, "error", "Authentication failed")
		return false
	}

	o.Admission.ClearFailures(s.source)

	clientID := env.RequestedClientID()
	if clientID == "" {
		clientID = o.newClientID()
	}
	s.member = domain.NewMember(clientID, ident.Username)
	s.logger = s.logger.With().Str("user", ident.Username).Str("client_id", string(clientID)).Logger()

	o.send(s, domain.AuthSuccess{
		Type:     domain.TypeAuthSuccess,
		User:     ident.Username,
		ClientID: clientID,
		Message:  "Authentication successful",
	})
	s.logger.Info().Msg("authenticated")
	return true
}

func (o *Orchestrator) rejectAuth(s *session, reason, message string) {
	o.Admission.RecordFailure(s.source)
	o.Metrics.AuthFailure(reason)
	s.logger.Warn().Str("reason", reason).Msg("authentication rejected")
	o.close(s, core.ClosePolicyViolation, message)
}

func (o *Orchestrator) loop(ctx context.Context, s *session) {
	for {
		data, err := s.peer.Receive(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("receive ended")
			return
		}
		if !o.Admission.AllowMessage(s.source) {
			s.logger.Warn().Msg("message rate exceeded")
			o.close(s, core.CloseTryAgainLater, "Rate limit exceeded")
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn().Err(err).Msg("malformed message")
			o.close(s, core.CloseProtocolError, "Malformed message")
			return
		}
		o.dispatch(s, &env)
	}
}

// dispatch handles one parsed message. A failure here is reported to the
// sender and never ends the connection.
func (o *Orchestrator) dispatch(s *session, env *domain.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("type", env.Type).Msg("message handler failed")
			o.sendError(s, "Internal server error")
		}
	}()

	switch env.Type {
	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		o.relay(s, env)
	case domain.TypePing:
		o.send(s, domain.Pong{Type: domain.TypePong})
	default:
		s.logger.Warn().Str("type", env.Type).Msg("unknown message type")
		o.sendError(s, fmt.Sprintf("Unknown message type: %s", env.Type))
	}
}

func (o *Orchestrator) send(s *session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode reply")
		return
	}
	if err := s.peer.TrySend(data); err != nil {
		s.logger.Debug().Err(err).Msg("reply not queued")
	}
}

func (o *Orchestrator) sendError(s *session, message string) {
	o.send(s, domain.Error{Type: domain.TypeError, Message: message})
}

func (o *Orchestrator) close(s *session, code core.CloseCode, reason string) {
	s.logger.Info().Int("code", int(code)).Str("reason", reason).Str("state", s.state.String()).Msg("closing connection")
	o.Metrics.Closed(int(code))
	s.peer.CloseWith(code, reason)
}

func (o *Orchestrator) authTimeout() time.Duration {
	if o.AuthTimeout > 0 {
		return o.AuthTimeout
	}
	return DefaultAuthTimeout
}

func (o *Orchestrator) newClientID() domain.ClientID {
	if o.NewClientID != nil {
		return o.NewClientID()
	}
	return domain.ClientID(uuid.NewString())
}

func (o *Orchestrator) policy() app.Policy {
	if o.Policy != nil {
		return o.Policy
	}
	return app.SimplePolicy{}
}
