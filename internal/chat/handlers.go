package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/codec"
	"github.com/DoyleJ11/chatduel/internal/engine"
	"github.com/DoyleJ11/chatduel/internal/hub"
	"github.com/DoyleJ11/chatduel/internal/lobby"
	"github.com/DoyleJ11/chatduel/internal/session"
	"github.com/DoyleJ11/chatduel/internal/types"
	ptypes "github.com/DoyleJ11/chatduel/pkg/types"
)

func code(c types.Code) *types.Code { return types.CodePtr(c) }

func (s *Server) handleEnter(_ context.Context, sess *session.Session, payload string) error {
	var req ptypes.Enter
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	reject := func(c types.Code) error {
		return sess.Send(types.CmdEnterResp, ptypes.EnterResp{Status: types.StatusError, Code: code(c)})
	}
	if sess.Authenticated() {
		return reject(types.CodeAlreadyLoggedIn)
	}
	if !ValidUsername(req.Username) {
		return reject(types.CodeInvalidUsername)
	}
	if err := s.hub.Register(req.Username, sess); err != nil {
		if errors.Is(err, hub.ErrUsernameTaken) {
			return reject(types.CodeUserExists)
		}
		return err
	}
	if err := sess.Authenticate(req.Username); err != nil {
		s.hub.Unregister(req.Username, sess)
		return err
	}

	if err := sess.Send(types.CmdEnterResp, ptypes.EnterResp{Status: types.StatusOK}); err != nil {
		return err
	}
	s.hub.Broadcast(sess, types.CmdJoined, ptypes.Joined{Username: req.Username})
	sess.StartHeartbeat()
	sess.Logger().Info("user logged in")
	return nil
}

func (s *Server) handleBye(_ context.Context, sess *session.Session, _ string) error {
	if err := sess.Send(types.CmdByeResp, ptypes.ByeResp{Status: types.StatusOK}); err != nil {
		return err
	}
	return errLogout
}

func (s *Server) handlePong(_ context.Context, sess *session.Session, _ string) error {
	if err := sess.AckHeartbeat(); err != nil {
		if errors.Is(err, session.ErrUnexpectedAck) {
			return sess.Send(types.CmdPongError, ptypes.PongError{Code: types.CodePongWithoutPing})
		}
		return err
	}
	return nil
}

func (s *Server) handleBroadcast(_ context.Context, sess *session.Session, payload string) error {
	var req ptypes.BroadcastReq
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	name := sess.Username()
	if name == "" {
		return sess.Send(types.CmdBroadcastResp, ptypes.BroadcastResp{Status: types.StatusError, Code: code(types.CodeUnauthorized)})
	}
	if err := sess.Send(types.CmdBroadcastResp, ptypes.BroadcastResp{Status: types.StatusOK}); err != nil {
		return err
	}
	s.hub.Broadcast(sess, types.CmdBroadcast, ptypes.Broadcast{Username: name, Message: req.Message})
	return nil
}

func (s *Server) handleUserList(_ context.Context, sess *session.Session, _ string) error {
	name := sess.Username()
	if name == "" {
		return sess.Send(types.CmdUserListResp, ptypes.UserListResp{
			Status: types.StatusError,
			Users:  []string{},
			Code:   code(types.CodeUnauthorized),
		})
	}
	return sess.Send(types.CmdUserListResp, ptypes.UserListResp{Status: types.StatusOK, Users: s.hub.Usernames(name)})
}

func (s *Server) handlePrivateMessage(_ context.Context, sess *session.Session, payload string) error {
	var req ptypes.PrivateMessageReq
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	reject := func(c types.Code) error {
		return sess.Send(types.CmdPrivateMsgResp, ptypes.PrivateMessageResp{Status: types.StatusError, Code: code(c)})
	}
	name := sess.Username()
	if name == "" {
		return reject(types.CodeUnauthorized)
	}
	recipient, found := s.hub.Lookup(req.Recipient)
	if !found {
		return reject(types.CodeNotFound)
	}

	if err := sess.Send(types.CmdPrivateMsgResp, ptypes.PrivateMessageResp{Status: types.StatusOK}); err != nil {
		return err
	}
	s.deliver(recipient, types.CmdPrivateMsg, ptypes.PrivateMessage{Sender: name, Message: req.Message})
	return nil
}

func (s *Server) handleGameStart(ctx context.Context, sess *session.Session, payload string) error {
	var req ptypes.GameStartReq
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	err := s.games.RequestMatch(ctx, sess, req.Opponent)
	if err == nil {
		return nil
	}

	resp := ptypes.GameStartResp{Status: types.StatusError}
	var running *lobby.AlreadyRunningError
	switch {
	case errors.As(err, &running):
		resp.Code = code(types.CodeGameRunning)
		resp.UsernameA = running.UsernameA
		resp.UsernameB = running.UsernameB
	case errors.Is(err, lobby.ErrUnauthorized):
		resp.Code = code(types.CodeUnauthorized)
	case errors.Is(err, lobby.ErrOpponentNotFound):
		resp.Code = code(types.CodeNotFound)
	case errors.Is(err, lobby.ErrSelfChallenge):
		resp.Code = code(types.CodeSelfChallenge)
	default:
		return err
	}
	return sess.Send(types.CmdGameStartResp, resp)
}

func (s *Server) handleGameMove(ctx context.Context, sess *session.Session, payload string) error {
	var req ptypes.GameMove
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	reject := func(c types.Code) error {
		return sess.Send(types.CmdGameMoveResp, ptypes.GameMoveResp{Status: types.StatusError, Code: code(c)})
	}
	move, err := engine.ParseMove(req.MoveCode)
	if err != nil {
		return reject(types.CodeInvalidMove)
	}

	err = s.games.SubmitMove(ctx, sess, move)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lobby.ErrNoActiveGame):
		return reject(types.CodeNoActiveGame)
	case errors.Is(err, lobby.ErrNotParticipant):
		return reject(types.CodeNotParticipant)
	case errors.Is(err, lobby.ErrAlreadyMoved):
		return reject(types.CodeMoveAlreadyMade)
	default:
		return err
	}
}

func (s *Server) handleFileTransferRequest(_ context.Context, sess *session.Session, payload string) error {
	var req ptypes.FileTransferReq
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	reject := func(c types.Code) error {
		return sess.Send(types.CmdFileTransferResp, ptypes.FileTransferResp{Status: types.StatusError, Code: code(c)})
	}
	name := sess.Username()
	if name == "" {
		return reject(types.CodeUnauthorized)
	}
	receiver, found := s.hub.Lookup(req.ReceiverOrSender)
	if !found {
		return reject(types.CodeNotFound)
	}

	offer := req
	offer.ReceiverOrSender = name
	s.deliver(receiver, types.CmdFileTransferReq, offer)
	sess.Logger().Info("file offered",
		zap.String("receiver", req.ReceiverOrSender),
		zap.String("filename", req.Filename),
		zap.Int64("size", req.FileSize))
	return nil
}

func (s *Server) handleFileTransferAccept(_ context.Context, sess *session.Session, payload string) error {
	var req ptypes.FileTransferAccept
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	reject := func(c types.Code) error {
		return sess.Send(types.CmdFileTransferAcceptResp, ptypes.FileTransferAcceptResp{Status: types.StatusError, ErrorCode: code(c)})
	}
	if !sess.Authenticated() {
		return reject(types.CodeUnauthorized)
	}
	initiator, found := s.hub.Lookup(req.FileTransferInitiator)
	if !found {
		return reject(types.CodeNotFound)
	}

	if err := sess.Send(types.CmdFileTransferAcceptResp, ptypes.FileTransferAcceptResp{Status: types.StatusOK}); err != nil {
		return err
	}
	s.deliver(initiator, types.CmdFileTransferResp, ptypes.FileTransferResp{Status: types.StatusOK})

	id := s.newTransferID()
	s.deliver(initiator, types.CmdFileTransferInit, ptypes.FileTransferInit{UUID: id})
	if err := sess.Send(types.CmdFileTransferInit, ptypes.FileTransferInit{UUID: id}); err != nil {
		return err
	}
	sess.Logger().Info("file transfer accepted", zap.String("initiator", req.FileTransferInitiator), zap.String("transfer", id))
	return nil
}

func (s *Server) handleFileTransferReject(_ context.Context, sess *session.Session, payload string) error {
	var req ptypes.FileTransferReject
	if err := codec.Decode(payload, &req); err != nil {
		return err
	}

	reject := func(c types.Code) error {
		return sess.Send(types.CmdFileTransferRejectResp, ptypes.FileTransferRejectResp{Status: types.StatusError, ErrorCode: code(c)})
	}
	if !sess.Authenticated() {
		return reject(types.CodeUnauthorized)
	}
	initiator, found := s.hub.Lookup(req.FileTransferInitiator)
	if !found {
		return reject(types.CodeNotFound)
	}

	if err := sess.Send(types.CmdFileTransferRejectResp, ptypes.FileTransferRejectResp{Status: types.StatusOK}); err != nil {
		return err
	}
	s.deliver(initiator, types.CmdFileTransferResp, ptypes.FileTransferResp{Status: types.StatusError, Code: code(types.CodeTransferRejected)})
	return nil
}

// deliver writes to a session other than the caller's; failures belong to
// that session's own read loop.
func (s *Server) deliver(m hub.Member, cmd types.Command, payload any) {
	if err := m.Send(cmd, payload); err != nil {
		s.log.Debug("message not delivered",
			zap.String("command", string(cmd)),
			zap.String("user", m.Username()),
			zap.Error(err))
	}
}
