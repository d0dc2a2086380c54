// Package types holds the JSON payload records carried after the keyword
// on each protocol line, plus the read-only views served by the admin API.
package types

import "github.com/DoyleJ11/chatduel/internal/types"

type (
	Status = types.Status
	Code   = types.Code
)

// Server -> Client on connect
type Ready struct {
	Version string `json:"version"`
}

// Login

type Enter struct {
	Username string `json:"username"`
}

type EnterResp struct {
	Status Status `json:"status"`
	Code   *Code  `json:"code,omitempty"`
}

// Chat

type BroadcastReq struct {
	Message string `json:"message"`
}

type BroadcastResp struct {
	Status Status `json:"status"`
	Code   *Code  `json:"code,omitempty"`
}

type Broadcast struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type Joined struct {
	Username string `json:"username"`
}

type Left struct {
	Username string `json:"username"`
}

type UserListResp struct {
	Status Status   `json:"status"`
	Users  []string `json:"users"`
	Code   *Code    `json:"code,omitempty"`
}

type PrivateMessageReq struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type PrivateMessageResp struct {
	Status Status `json:"status"`
	Code   *Code  `json:"code,omitempty"`
}

type PrivateMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Liveness and logout

type Hangup struct {
	ReasonCode Code `json:"reasonCode"`
}

type PongError struct {
	Code Code `json:"code"`
}

type ByeResp struct {
	Status Status `json:"status"`
}

// Game

type GameStartReq struct {
	Opponent string `json:"opponent"`
}

// GameStartResp names the running participants when Code is 9000.
type GameStartResp struct {
	Status    Status `json:"status"`
	Code      *Code  `json:"code,omitempty"`
	UsernameA string `json:"usernameA,omitempty"`
	UsernameB string `json:"usernameB,omitempty"`
}

type GameInvitation struct {
	Initiator string `json:"initiator"`
}

type GameNotification struct {
	Initiator string `json:"initiator"`
	Opponent  string `json:"opponent"`
}

type GameMove struct {
	MoveCode string `json:"moveCode"`
}

type GameMoveResp struct {
	Status Status `json:"status"`
	Code   *Code  `json:"code,omitempty"`
}

// GameResult has no winner on a draw.
type GameResult struct {
	Winner        *string `json:"winner,omitempty"`
	InitiatorMove string  `json:"initiatorMove"`
	OpponentMove  string  `json:"opponentMove"`
}

type GameCancelled struct {
	ErrorCode Code `json:"errorCode"`
}

// File transfer

// FileTransferReq names the receiver when sent by a client and the sender
// when forwarded by the server.
type FileTransferReq struct {
	ReceiverOrSender string `json:"receiverOrSender"`
	Filename         string `json:"filename"`
	FileSize         int64  `json:"fileSize"`
	Checksum         string `json:"checksum"`
}

type FileTransferResp struct {
	Status Status `json:"status"`
	Code   *Code  `json:"code,omitempty"`
}

type FileTransferAccept struct {
	FileTransferInitiator string `json:"fileTransferInitiator"`
}

type FileTransferReject struct {
	FileTransferInitiator string `json:"fileTransferInitiator"`
}

type FileTransferAcceptResp struct {
	Status    Status `json:"status"`
	ErrorCode *Code  `json:"errorCode,omitempty"`
}

type FileTransferRejectResp struct {
	Status    Status `json:"status"`
	ErrorCode *Code  `json:"errorCode,omitempty"`
}

type FileTransferInit struct {
	UUID string `json:"uuid"`
}
