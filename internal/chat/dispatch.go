package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/codec"
	"github.com/DoyleJ11/chatduel/internal/session"
	"github.com/DoyleJ11/chatduel/internal/types"
)

// errLogout ends the read loop after a BYE has been answered.
var errLogout = errors.New("client logged out")

// handlerFunc processes one inbound message. A returned codec.ErrMalformed
// becomes a PARSE_ERROR reply; any other error ends the session.
type handlerFunc func(ctx context.Context, sess *session.Session, payload string) error

func (s *Server) routes() map[types.Command]handlerFunc {
	return map[types.Command]handlerFunc{
		types.CmdEnter:              s.handleEnter,
		types.CmdBye:                s.handleBye,
		types.CmdPong:               s.handlePong,
		types.CmdBroadcastReq:       s.handleBroadcast,
		types.CmdUserListReq:        s.handleUserList,
		types.CmdPrivateMsgReq:      s.handlePrivateMessage,
		types.CmdGameStartReq:       s.handleGameStart,
		types.CmdGameMove:           s.handleGameMove,
		types.CmdFileTransferReq:    s.handleFileTransferRequest,
		types.CmdFileTransferAccept: s.handleFileTransferAccept,
		types.CmdFileTransferReject: s.handleFileTransferReject,
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, msg codec.Message) error {
	cmd, known := msg.Command()
	h, routed := s.handlers[cmd]
	if !known || !routed {
		sess.Logger().Debug("unknown command", zap.String("keyword", msg.Keyword))
		return sess.Send(types.CmdUnknownCommand, nil)
	}

	err := h(ctx, sess, msg.Payload)
	if errors.Is(err, codec.ErrMalformed) {
		sess.Logger().Debug("unparseable payload", zap.String("command", string(cmd)), zap.Error(err))
		return sess.Send(types.CmdParseError, nil)
	}
	return err
}
