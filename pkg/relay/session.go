package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/hub"
	"github.com/harun/chatrelay/pkg/logstore"
	"github.com/harun/chatrelay/pkg/protocol"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 10 * time.Second

	reasonIdle     = "Connection idle"
	reasonInternal = "Internal error"
)

// State is a session lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var errWrite = errors.New("write to client failed")

// Session is one client connection. It moves Connecting -> Joined ->
// Closing -> Closed, or straight from Connecting to Closed when the join is
// rejected.
type Session struct {
	ID string

	srv    *Server
	conn   *websocket.Conn
	query  url.Values
	logger atomic.Pointer[zerolog.Logger]

	state  atomic.Int32
	params JoinParams
	hub    *hub.Hub
	sub    *hub.Subscription

	writeMu      sync.Mutex
	closeOnce    sync.Once
	teardownOnce sync.Once
}

func newSession(id string, srv *Server, conn *websocket.Conn, query url.Values, logger zerolog.Logger) *Session {
	s := &Session{
		ID:    id,
		srv:   srv,
		conn:  conn,
		query: query,
	}
	s.logger.Store(&logger)
	return s
}

// log returns the session logger. run swaps in a channel and handle
// scoped logger after the join.
func (s *Session) log() *zerolog.Logger {
	return s.logger.Load()
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Params returns the validated join parameters. Empty before the join.
func (s *Session) Params() JoinParams {
	return s.params
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// run drives the session until the client goes away or the session is
// rejected. It returns once the session is Closed.
func (s *Session) run(ctx context.Context) {
	params, err := ParseJoinParams(s.query, s.srv.channels)
	if err != nil {
		s.reject(ctx, err)
		return
	}
	s.params = params

	ctx = tracing.WithHandle(tracing.WithChannel(ctx, params.Channel), params.Handle)
	joined := tracing.LoggerFromContext(ctx, s.srv.logger)
	s.logger.Store(&joined)

	h, err := s.srv.hubs.Get(params.Channel)
	if err != nil {
		s.reject(ctx, err)
		return
	}
	sub, err := h.Join(ctx, params.Handle)
	if err != nil {
		s.reject(ctx, err)
		return
	}
	s.hub = h
	s.sub = sub
	s.setState(StateJoined)

	s.log().Info().Msg("Session joined")
	observability.RecordSessionAudit(ctx, "join", params.Handle, params.Channel, "success", nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		s.stream(ctx)
	}()

	err = s.readLoop(ctx)
	s.teardown(ctx, cancel, streamDone, err)
}

// reject ends a session that never joined.
func (s *Session) reject(ctx context.Context, err error) {
	reason, code := closeReason(err)
	observability.RecordJoinRejection(reason)
	observability.RecordSessionAudit(ctx, "join", s.params.Handle, s.params.Channel, "rejected", map[string]interface{}{
		"reason": reason,
	})
	s.log().Warn().Err(err).Str("reason", reason).Msg("Join rejected")

	failure := protocol.Failure(reason)
	s.terminate(&failure, code, reason)
	s.setState(StateClosed)
}

// teardown leaves the hub exactly once and closes the transport.
func (s *Session) teardown(ctx context.Context, cancel context.CancelFunc, streamDone <-chan struct{}, cause error) {
	s.teardownOnce.Do(func() {
		s.setState(StateClosing)

		cancel()
		s.terminate(nil, websocket.CloseNormalClosure, "")
		<-streamDone

		if err := s.hub.Leave(ctx, s.sub); err != nil {
			s.log().Error().Err(err).Msg("Failed to record leave")
		}

		s.setState(StateClosed)

		status := "success"
		if cause != nil && !isClientClose(cause) {
			status = "error"
		}
		observability.RecordSessionAudit(ctx, "leave", s.params.Handle, s.params.Channel, status, nil)
		s.log().Info().AnErr("cause", cause).Msg("Session closed")
	})
}

// readLoop dispatches client frames until the transport or a frame fails.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		if s.srv.idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.idleTimeout))
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log().Info().Dur("idle_timeout", s.srv.idleTimeout).Msg("Closing idle connection")
				failure := protocol.Failure(reasonIdle)
				s.terminate(&failure, websocket.CloseGoingAway, reasonIdle)
				return err
			}
			if !isClientClose(err) {
				s.log().Debug().Err(err).Msg("Transport read ended")
			}
			return err
		}

		req, err := s.srv.codec.Decode(data)
		if err == nil {
			err = protocol.CheckHandle(req, s.params.Handle)
		}
		if err != nil {
			observability.RecordProtocolError()
			reason, code := closeReason(err)
			s.log().Warn().Err(err).Msg("Protocol error")
			failure := protocol.Failure(reason)
			s.terminate(&failure, code, reason)
			return err
		}

		if req.Type == protocol.TypeSystem {
			if req.IsKeepalive() {
				s.log().Debug().Msg("Keepalive")
			} else {
				s.log().Warn().Str("message", req.Message).Msg("Unexpected system message")
			}
			if err := s.send(protocol.Ack()); err != nil {
				return err
			}
			continue
		}

		if _, err := s.hub.Post(ctx, s.sub, req.Message); err != nil {
			if ctx.Err() != nil {
				return err
			}
			reason, code := closeReason(err)
			s.log().Error().Err(err).Msg("Failed to post message")
			failure := protocol.Failure(reason)
			s.terminate(&failure, code, reason)
			return err
		}
	}
}

// stream forwards bootstrap and live entries to the client.
func (s *Session) stream(ctx context.Context) {
	err := s.hub.Stream(ctx, s.sub, func(e logstore.Entry) error {
		return s.send(protocol.Chat(s.params.Channel, e.Line))
	})

	switch {
	case ctx.Err() != nil, errors.Is(err, hub.ErrSubscriptionClosed):
		return
	case errors.Is(err, errWrite):
		s.log().Debug().Err(err).Msg("Delivery stopped")
		s.terminate(nil, websocket.CloseAbnormalClosure, "")
	default:
		reason, code := closeReason(err)
		s.log().Warn().Err(err).Str("reason", reason).Msg("Delivery failed")
		failure := protocol.Failure(reason)
		s.terminate(&failure, code, reason)
	}
}

func (s *Session) send(env protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", errWrite, err)
	}
	return nil
}

// terminate sends an optional final frame, a close frame, and closes the
// transport. Only the first call has any effect.
func (s *Session) terminate(final *protocol.Envelope, code int, text string) {
	s.closeOnce.Do(func() {
		if final != nil {
			if err := s.send(*final); err != nil {
				s.log().Debug().Err(err).Msg("Failed to send final frame")
			}
		}

		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// closeReason maps an error to the client-facing reason and close code.
func closeReason(err error) (string, int) {
	var (
		verr *ValidationError
		perr *protocol.ProtocolError
	)

	switch {
	case errors.As(err, &verr):
		return verr.Reason, websocket.ClosePolicyViolation
	case errors.As(err, &perr):
		return perr.Reason, websocket.ClosePolicyViolation
	case errors.Is(err, hub.ErrUnknownChannel):
		return ReasonInvalidChannel, websocket.ClosePolicyViolation
	case errors.Is(err, hub.ErrDuplicateSession):
		return ReasonDuplicate, websocket.ClosePolicyViolation
	case hub.IsStorageError(err):
		return ReasonStorage, websocket.CloseInternalServerErr
	case errors.Is(err, hub.ErrHubClosed):
		return ReasonShutdown, websocket.CloseGoingAway
	case errors.Is(err, hub.ErrSlowSubscriber), errors.Is(err, hub.ErrNotJoined):
		return ReasonTooSlow, websocket.ClosePolicyViolation
	default:
		return reasonInternal, websocket.CloseInternalServerErr
	}
}

func isClientClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
