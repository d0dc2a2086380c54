package types

import "strings"

// Command is a protocol keyword. Keywords are written upper-case and
// matched case-insensitively on input.
type Command string

const (
	CmdReady     Command = "READY"
	CmdEnter     Command = "ENTER"
	CmdEnterResp Command = "ENTER_RESP"

	CmdBroadcastReq  Command = "BROADCAST_REQ"
	CmdBroadcastResp Command = "BROADCAST_RESP"
	CmdBroadcast     Command = "BROADCAST"
	CmdJoined        Command = "JOINED"
	CmdLeft          Command = "LEFT"

	CmdPing      Command = "PING"
	CmdPong      Command = "PONG"
	CmdHangup    Command = "HANGUP"
	CmdPongError Command = "PONG_ERROR"

	CmdBye     Command = "BYE"
	CmdByeResp Command = "BYE_RESP"

	CmdUnknownCommand Command = "UNKNOWN_COMMAND"
	CmdParseError     Command = "PARSE_ERROR"

	CmdUserListReq  Command = "USER_LIST_REQ"
	CmdUserListResp Command = "USER_LIST_RESP"

	CmdPrivateMsgReq  Command = "PRIVATE_MSG_REQ"
	CmdPrivateMsg     Command = "PRIVATE_MSG"
	CmdPrivateMsgResp Command = "PRIVATE_MSG_RESP"

	CmdGameStartReq     Command = "GAME_START_REQ"
	CmdGameStartResp    Command = "GAME_START_RESP"
	CmdGameNotification Command = "GAME_NOTIFICATION"
	CmdGameInvitation   Command = "GAME_INVITATION"
	CmdGameMove         Command = "GAME_MOVE"
	CmdGameMoveResp     Command = "GAME_MOVE_RESP"
	CmdGameResult       Command = "GAME_RESULT"
	CmdGameCancelled    Command = "GAME_CANCELLED"

	CmdFileTransferReq        Command = "FILE_TRANSFER_REQ"
	CmdFileTransferResp       Command = "FILE_TRANSFER_RESP"
	CmdFileTransferAccept     Command = "FILE_TRANSFER_ACCEPT"
	CmdFileTransferReject     Command = "FILE_TRANSFER_REJECT"
	CmdFileTransferAcceptResp Command = "FILE_TRANSFER_ACCEPT_RESP"
	CmdFileTransferRejectResp Command = "FILE_TRANSFER_REJECT_RESP"
	CmdFileTransferInit       Command = "FILE_TRANSFER_INIT"
)

var known = map[Command]struct{}{}

func init() {
	for _, c := range []Command{
		CmdReady, CmdEnter, CmdEnterResp,
		CmdBroadcastReq, CmdBroadcastResp, CmdBroadcast, CmdJoined, CmdLeft,
		CmdPing, CmdPong, CmdHangup, CmdPongError,
		CmdBye, CmdByeResp,
		CmdUnknownCommand, CmdParseError,
		CmdUserListReq, CmdUserListResp,
		CmdPrivateMsgReq, CmdPrivateMsg, CmdPrivateMsgResp,
		CmdGameStartReq, CmdGameStartResp, CmdGameNotification, CmdGameInvitation,
		CmdGameMove, CmdGameMoveResp, CmdGameResult, CmdGameCancelled,
		CmdFileTransferReq, CmdFileTransferResp, CmdFileTransferAccept, CmdFileTransferReject,
		CmdFileTransferAcceptResp, CmdFileTransferRejectResp, CmdFileTransferInit,
	} {
		known[c] = struct{}{}
	}
}

// ParseCommand maps a keyword in any letter case to its Command.
func ParseCommand(keyword string) (Command, bool) {
	c := Command(strings.ToUpper(keyword))
	_, ok := known[c]
	return c, ok
}

type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Code is a stable numeric reason carried by error replies and notices.
type Code int

const (
	// identity
	CodeUserExists      Code = 5000
	CodeInvalidUsername Code = 5001
	CodeAlreadyLoggedIn Code = 5002
	CodeUnauthorized    Code = 6000
	CodeNotFound        Code = 6004

	// heartbeat
	CodeNoPong          Code = 7000
	CodePongWithoutPing Code = 8000

	// game
	CodeGameRunning          Code = 9000
	CodeInvalidMove          Code = 9001
	CodeNoActiveGame         Code = 9002
	CodeNotParticipant       Code = 9003
	CodeMoveAlreadyMade      Code = 9004
	CodeOpponentDisconnected Code = 9005
	CodeMoveTimeout          Code = 9006
	CodeSelfChallenge        Code = 9007

	// file transfer
	CodeTransferRejected Code = 10000
)

// CodePtr is a convenience for optional code fields.
func CodePtr(c Code) *Code { return &c }
