package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/chatduel/internal/codec"
	"github.com/DoyleJ11/chatduel/internal/hub"
	"github.com/DoyleJ11/chatduel/internal/lobby"
	"github.com/DoyleJ11/chatduel/internal/types"
	ptypes "github.com/DoyleJ11/chatduel/pkg/types"
)

var testConfig = Config{
	Version:      "1.6.0",
	WriteTimeout: 2 * time.Second,
	PingInterval: time.Hour,
	PongTimeout:  time.Hour,
}

type testServer struct {
	addr   string
	hub    *hub.Hub
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, cfg Config, moveTimeout time.Duration) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := hub.NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	games := lobby.NewCoordinator(ctx, lobby.Config{MoveTimeout: moveTimeout, Lookup: Lookup(h), Logger: log})
	srv := NewServer(cfg, h, games, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{addr: ln.Addr().String(), hub: h, cancel: cancel, done: make(chan error, 1)}
	go func() { ts.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-ts.done)
		games.Stop()
	})
	return ts
}

type client struct {
	t     *testing.T
	name  string
	conn  net.Conn
	lines chan string
}

// connect dials the server and consumes the greeting. With autoPong the
// client answers every PING without surfacing it.
func connect(t *testing.T, addr string, autoPong bool) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{t: t, conn: conn, lines: make(chan string, 64)}
	go func() {
		defer close(c.lines)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if autoPong && line == "PING" {
				_, _ = conn.Write([]byte("PONG\n"))
				continue
			}
			c.lines <- line
		}
	}()

	var ready ptypes.Ready
	c.expect(types.CmdReady, &ready)
	assert.Equal(t, "1.6.0", ready.Version)
	return c
}

func (c *client) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) sendCmd(cmd types.Command, payload any) {
	c.t.Helper()
	line, err := codec.Encode(cmd, payload)
	require.NoError(c.t, err)
	_, err = c.conn.Write(line)
	require.NoError(c.t, err)
}

// expect reads the next line, checks its keyword and decodes the payload into v.
func (c *client) expect(cmd types.Command, v any) {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		require.True(c.t, ok, "%s: connection closed waiting for %s", c.name, cmd)
		m := codec.Parse(line)
		require.Equal(c.t, string(cmd), m.Keyword, "%s: got line %q", c.name, line)
		if v != nil {
			require.NoError(c.t, json.Unmarshal([]byte(m.Payload), v), "payload %q", m.Payload)
		}
	case <-time.After(2 * time.Second):
		c.t.Fatalf("%s: timed out waiting for %s", c.name, cmd)
	}
}

func (c *client) expectNothing(within time.Duration) {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		if ok {
			c.t.Fatalf("%s: expected silence, got %q", c.name, line)
		}
	case <-time.After(within):
	}
}

func (c *client) expectClosed() {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		require.False(c.t, ok, "%s: expected close, got %q", c.name, line)
	case <-time.After(2 * time.Second):
		c.t.Fatalf("%s: connection not closed", c.name)
	}
}

func (c *client) login(name string) {
	c.t.Helper()
	c.name = name
	c.sendCmd(types.CmdEnter, ptypes.Enter{Username: name})
	var resp ptypes.EnterResp
	c.expect(types.CmdEnterResp, &resp)
	require.Equal(c.t, types.StatusOK, resp.Status, "login %s", name)
	require.Nil(c.t, resp.Code)
}

// loginAll logs in clients in order and drains the JOINED notices.
func loginAll(t *testing.T, ts *testServer, names ...string) []*client {
	t.Helper()
	clients := make([]*client, 0, len(names))
	for _, n := range names {
		c := connect(t, ts.addr, false)
		c.login(n)
		for _, prev := range clients {
			var j ptypes.Joined
			prev.expect(types.CmdJoined, &j)
			assert.Equal(t, n, j.Username)
		}
		clients = append(clients, c)
	}
	return clients
}

func codeOf(t *testing.T, c *types.Code) types.Code {
	t.Helper()
	require.NotNil(t, c)
	return *c
}

func TestLogin_UsernameRules(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)

	cases := []struct {
		name     string
		username string
		wantOK   bool
	}{
		{name: "two chars", username: "my"},
		{name: "three chars", username: "mym", wantOK: true},
		{name: "fourteen chars", username: "abcdefghij_123", wantOK: true},
		{name: "fifteen chars", username: "abcdefghij_1234"},
		{name: "punctuation", username: "bad-name"},
		{name: "space", username: "bad name"},
		{name: "empty", username: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := connect(t, ts.addr, false)
			c.sendCmd(types.CmdEnter, ptypes.Enter{Username: tc.username})
			var resp ptypes.EnterResp
			c.expect(types.CmdEnterResp, &resp)
			if tc.wantOK {
				assert.Equal(t, types.StatusOK, resp.Status)
				c.sendCmd(types.CmdBye, nil)
				c.expect(types.CmdByeResp, nil)
				return
			}
			assert.Equal(t, types.StatusError, resp.Status)
			assert.Equal(t, types.CodeInvalidUsername, codeOf(t, resp.Code))
		})
	}
}

func TestLogin_DuplicateAndRelogin(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)

	first := connect(t, ts.addr, false)
	first.login("user1")

	// same session again
	first.sendCmd(types.CmdEnter, ptypes.Enter{Username: "user2"})
	var resp ptypes.EnterResp
	first.expect(types.CmdEnterResp, &resp)
	assert.Equal(t, types.CodeAlreadyLoggedIn, codeOf(t, resp.Code))

	second := connect(t, ts.addr, false)
	second.sendCmd(types.CmdEnter, ptypes.Enter{Username: "user1"})
	second.expect(types.CmdEnterResp, &resp)
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, types.CodeUserExists, codeOf(t, resp.Code))

	first.sendCmd(types.CmdBye, nil)
	var bye ptypes.ByeResp
	first.expect(types.CmdByeResp, &bye)
	assert.Equal(t, types.StatusOK, bye.Status)
	first.expectClosed()

	require.Eventually(t, func() bool { return ts.hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	second.login("user1")
}

func TestBroadcast_NotEchoedToSender(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	cs := loginAll(t, ts, "alice", "bob", "carol")
	alice, bob, carol := cs[0], cs[1], cs[2]

	alice.sendCmd(types.CmdBroadcastReq, ptypes.BroadcastReq{Message: "hello all"})
	var resp ptypes.BroadcastResp
	alice.expect(types.CmdBroadcastResp, &resp)
	assert.Equal(t, types.StatusOK, resp.Status)

	for _, c := range []*client{bob, carol} {
		var b ptypes.Broadcast
		c.expect(types.CmdBroadcast, &b)
		assert.Equal(t, ptypes.Broadcast{Username: "alice", Message: "hello all"}, b)
	}
	alice.expectNothing(100 * time.Millisecond)
}

func TestRequiresLogin(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	c := connect(t, ts.addr, false)

	c.sendCmd(types.CmdBroadcastReq, ptypes.BroadcastReq{Message: "hi"})
	var b ptypes.BroadcastResp
	c.expect(types.CmdBroadcastResp, &b)
	assert.Equal(t, types.CodeUnauthorized, codeOf(t, b.Code))

	c.sendCmd(types.CmdUserListReq, nil)
	var ul ptypes.UserListResp
	c.expect(types.CmdUserListResp, &ul)
	assert.Equal(t, types.CodeUnauthorized, codeOf(t, ul.Code))

	c.sendCmd(types.CmdPrivateMsgReq, ptypes.PrivateMessageReq{Recipient: "x", Message: "y"})
	var pm ptypes.PrivateMessageResp
	c.expect(types.CmdPrivateMsgResp, &pm)
	assert.Equal(t, types.CodeUnauthorized, codeOf(t, pm.Code))

	c.sendCmd(types.CmdGameStartReq, ptypes.GameStartReq{Opponent: "x"})
	var gs ptypes.GameStartResp
	c.expect(types.CmdGameStartResp, &gs)
	assert.Equal(t, types.CodeUnauthorized, codeOf(t, gs.Code))

	c.sendCmd(types.CmdFileTransferReq, ptypes.FileTransferReq{ReceiverOrSender: "x"})
	var ft ptypes.FileTransferResp
	c.expect(types.CmdFileTransferResp, &ft)
	assert.Equal(t, types.CodeUnauthorized, codeOf(t, ft.Code))

	c.sendCmd(types.CmdFileTransferAccept, ptypes.FileTransferAccept{FileTransferInitiator: "x"})
	var fa ptypes.FileTransferAcceptResp
	c.expect(types.CmdFileTransferAcceptResp, &fa)
	assert.Equal(t, types.CodeUnauthorized, codeOf(t, fa.ErrorCode))

	c.sendCmd(types.CmdFileTransferReject, ptypes.FileTransferReject{FileTransferInitiator: "x"})
	var fr ptypes.FileTransferRejectResp
	c.expect(types.CmdFileTransferRejectResp, &fr)
	assert.Equal(t, types.CodeUnauthorized, codeOf(t, fr.ErrorCode))
}

func TestProtocolErrorsKeepConnectionOpen(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	c := connect(t, ts.addr, false)

	c.send("DANCE")
	c.expect(types.CmdUnknownCommand, nil)

	c.send("READY {}")
	c.expect(types.CmdUnknownCommand, nil)

	c.send(`ENTER {"username":`)
	c.expect(types.CmdParseError, nil)

	c.send(`ENTER {"name":"alice"}`)
	c.expect(types.CmdParseError, nil)

	c.send(`enter {"username":"alice"}`)
	var resp ptypes.EnterResp
	c.expect(types.CmdEnterResp, &resp)
	assert.Equal(t, types.StatusOK, resp.Status)
}

func TestOversizedLineIsParseError(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	c := connect(t, ts.addr, false)

	c.send(`BROADCAST_REQ {"message":"` + strings.Repeat("x", codec.MaxLineSize) + `"}`)
	c.expect(types.CmdParseError, nil)

	c.login("alice")
	assert.Equal(t, 1, ts.hub.Len())
}

func TestFragmentedLineIsOneCommand(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	c := connect(t, ts.addr, false)

	for _, piece := range []string{"EN", "TER {\"user", "name\":\"fr", "ag\"}\r", "\n"} {
		_, err := c.conn.Write([]byte(piece))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	var resp ptypes.EnterResp
	c.expect(types.CmdEnterResp, &resp)
	assert.Equal(t, types.StatusOK, resp.Status)
	c.expectNothing(50 * time.Millisecond)
}

func TestUserListAndPrivateMessage(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	cs := loginAll(t, ts, "alice", "bob", "carol")
	alice, bob, carol := cs[0], cs[1], cs[2]

	bob.sendCmd(types.CmdUserListReq, nil)
	var ul ptypes.UserListResp
	bob.expect(types.CmdUserListResp, &ul)
	assert.Equal(t, types.StatusOK, ul.Status)
	assert.Equal(t, []string{"alice", "carol"}, ul.Users)

	alice.sendCmd(types.CmdPrivateMsgReq, ptypes.PrivateMessageReq{Recipient: "carol", Message: "psst"})
	var resp ptypes.PrivateMessageResp
	alice.expect(types.CmdPrivateMsgResp, &resp)
	assert.Equal(t, types.StatusOK, resp.Status)

	var pm ptypes.PrivateMessage
	carol.expect(types.CmdPrivateMsg, &pm)
	assert.Equal(t, ptypes.PrivateMessage{Sender: "alice", Message: "psst"}, pm)
	bob.expectNothing(100 * time.Millisecond)

	alice.sendCmd(types.CmdPrivateMsgReq, ptypes.PrivateMessageReq{Recipient: "zed", Message: "psst"})
	alice.expect(types.CmdPrivateMsgResp, &resp)
	assert.Equal(t, types.CodeNotFound, codeOf(t, resp.Code))
}

func TestPongWithoutPing(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	c := connect(t, ts.addr, false)
	c.login("alice")

	c.sendCmd(types.CmdPong, nil)
	var pe ptypes.PongError
	c.expect(types.CmdPongError, &pe)
	assert.Equal(t, types.CodePongWithoutPing, pe.Code)

	// still logged in
	c.sendCmd(types.CmdUserListReq, nil)
	var ul ptypes.UserListResp
	c.expect(types.CmdUserListResp, &ul)
	assert.Equal(t, types.StatusOK, ul.Status)
}

func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	cfg := testConfig
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 50 * time.Millisecond
	ts := startServer(t, cfg, time.Minute)

	bob := connect(t, ts.addr, true)
	bob.login("bob")

	alice := connect(t, ts.addr, false)
	alice.login("alice")
	var j ptypes.Joined
	bob.expect(types.CmdJoined, &j)

	alice.expect(types.CmdPing, nil)
	var h ptypes.Hangup
	alice.expect(types.CmdHangup, &h)
	assert.Equal(t, types.CodeNoPong, h.ReasonCode)
	alice.expectClosed()

	var left ptypes.Left
	bob.expect(types.CmdLeft, &left)
	assert.Equal(t, "alice", left.Username)

	// bob answers every probe and stays
	bob.expectNothing(200 * time.Millisecond)
	_, still := ts.hub.Lookup("bob")
	assert.True(t, still)
}

func TestGame_FullMatch(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	cs := loginAll(t, ts, "alice", "bob", "carol")
	alice, bob, carol := cs[0], cs[1], cs[2]

	alice.sendCmd(types.CmdGameStartReq, ptypes.GameStartReq{Opponent: "bob"})
	var start ptypes.GameStartResp
	alice.expect(types.CmdGameStartResp, &start)
	assert.Equal(t, types.StatusOK, start.Status)

	note := ptypes.GameNotification{Initiator: "alice", Opponent: "bob"}
	var n ptypes.GameNotification
	alice.expect(types.CmdGameNotification, &n)
	assert.Equal(t, note, n)

	var inv ptypes.GameInvitation
	bob.expect(types.CmdGameInvitation, &inv)
	assert.Equal(t, "alice", inv.Initiator)
	bob.expect(types.CmdGameNotification, &n)
	assert.Equal(t, note, n)

	carol.sendCmd(types.CmdGameStartReq, ptypes.GameStartReq{Opponent: "alice"})
	var busy ptypes.GameStartResp
	carol.expect(types.CmdGameStartResp, &busy)
	assert.Equal(t, types.CodeGameRunning, codeOf(t, busy.Code))
	assert.Equal(t, "alice", busy.UsernameA)
	assert.Equal(t, "bob", busy.UsernameB)

	carol.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "R"})
	var mv ptypes.GameMoveResp
	carol.expect(types.CmdGameMoveResp, &mv)
	assert.Equal(t, types.CodeNotParticipant, codeOf(t, mv.Code))

	alice.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "r"})
	alice.expect(types.CmdGameMoveResp, &mv)
	assert.Equal(t, types.StatusOK, mv.Status)

	alice.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "P"})
	alice.expect(types.CmdGameMoveResp, &mv)
	assert.Equal(t, types.CodeMoveAlreadyMade, codeOf(t, mv.Code))

	bob.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "S"})
	bob.expect(types.CmdGameMoveResp, &mv)
	assert.Equal(t, types.StatusOK, mv.Status)

	for _, c := range []*client{alice, bob} {
		var res ptypes.GameResult
		c.expect(types.CmdGameResult, &res)
		require.NotNil(t, res.Winner)
		assert.Equal(t, "alice", *res.Winner)
		assert.Equal(t, "R", res.InitiatorMove)
		assert.Equal(t, "S", res.OpponentMove)
	}
	carol.expectNothing(50 * time.Millisecond)
}

func TestGame_MoveErrorOrder(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	c := connect(t, ts.addr, false)
	c.login("alice")

	var mv ptypes.GameMoveResp
	c.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "X"})
	c.expect(types.CmdGameMoveResp, &mv)
	assert.Equal(t, types.CodeInvalidMove, codeOf(t, mv.Code))

	c.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "R"})
	c.expect(types.CmdGameMoveResp, &mv)
	assert.Equal(t, types.CodeNoActiveGame, codeOf(t, mv.Code))

	c.sendCmd(types.CmdGameStartReq, ptypes.GameStartReq{Opponent: "nobody"})
	var gs ptypes.GameStartResp
	c.expect(types.CmdGameStartResp, &gs)
	assert.Equal(t, types.CodeNotFound, codeOf(t, gs.Code))

	c.sendCmd(types.CmdGameStartReq, ptypes.GameStartReq{Opponent: "alice"})
	c.expect(types.CmdGameStartResp, &gs)
	assert.Equal(t, types.CodeSelfChallenge, codeOf(t, gs.Code))
}

func TestGame_DisconnectCancelsMatch(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	cs := loginAll(t, ts, "alice", "bob")
	alice, bob := cs[0], cs[1]

	alice.sendCmd(types.CmdGameStartReq, ptypes.GameStartReq{Opponent: "bob"})
	alice.expect(types.CmdGameStartResp, nil)
	alice.expect(types.CmdGameNotification, nil)
	bob.expect(types.CmdGameInvitation, nil)
	bob.expect(types.CmdGameNotification, nil)

	bob.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "P"})
	bob.expect(types.CmdGameMoveResp, nil)

	require.NoError(t, alice.conn.Close())

	var left ptypes.Left
	bob.expect(types.CmdLeft, &left)
	assert.Equal(t, "alice", left.Username)
	var gc ptypes.GameCancelled
	bob.expect(types.CmdGameCancelled, &gc)
	assert.Equal(t, types.CodeOpponentDisconnected, gc.ErrorCode)
	bob.expectNothing(100 * time.Millisecond)
}

func TestGame_TimeoutCancelsMatch(t *testing.T) {
	ts := startServer(t, testConfig, 100*time.Millisecond)
	cs := loginAll(t, ts, "alice", "bob")
	alice, bob := cs[0], cs[1]

	alice.sendCmd(types.CmdGameStartReq, ptypes.GameStartReq{Opponent: "bob"})
	alice.expect(types.CmdGameStartResp, nil)
	alice.expect(types.CmdGameNotification, nil)
	bob.expect(types.CmdGameInvitation, nil)
	bob.expect(types.CmdGameNotification, nil)

	alice.sendCmd(types.CmdGameMove, ptypes.GameMove{MoveCode: "S"})
	alice.expect(types.CmdGameMoveResp, nil)

	for _, c := range []*client{alice, bob} {
		var gc ptypes.GameCancelled
		c.expect(types.CmdGameCancelled, &gc)
		assert.Equal(t, types.CodeMoveTimeout, gc.ErrorCode)
	}
}

func TestFileTransfer_AcceptFlow(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	cs := loginAll(t, ts, "alice", "bob")
	alice, bob := cs[0], cs[1]

	offer := ptypes.FileTransferReq{ReceiverOrSender: "bob", Filename: "notes.txt", FileSize: 42, Checksum: "abc123"}
	alice.sendCmd(types.CmdFileTransferReq, offer)

	var got ptypes.FileTransferReq
	bob.expect(types.CmdFileTransferReq, &got)
	want := offer
	want.ReceiverOrSender = "alice"
	assert.Equal(t, want, got)

	bob.sendCmd(types.CmdFileTransferAccept, ptypes.FileTransferAccept{FileTransferInitiator: "alice"})
	var ar ptypes.FileTransferAcceptResp
	bob.expect(types.CmdFileTransferAcceptResp, &ar)
	assert.Equal(t, types.StatusOK, ar.Status)

	var fr ptypes.FileTransferResp
	alice.expect(types.CmdFileTransferResp, &fr)
	assert.Equal(t, types.StatusOK, fr.Status)

	var initA, initB ptypes.FileTransferInit
	alice.expect(types.CmdFileTransferInit, &initA)
	bob.expect(types.CmdFileTransferInit, &initB)
	assert.Len(t, initA.UUID, 36)
	assert.Equal(t, initA.UUID, initB.UUID)
}

func TestFileTransfer_RejectAndUnknownUsers(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	cs := loginAll(t, ts, "alice", "bob")
	alice, bob := cs[0], cs[1]

	alice.sendCmd(types.CmdFileTransferReq, ptypes.FileTransferReq{ReceiverOrSender: "zed", Filename: "a"})
	var fr ptypes.FileTransferResp
	alice.expect(types.CmdFileTransferResp, &fr)
	assert.Equal(t, types.CodeNotFound, codeOf(t, fr.Code))

	alice.sendCmd(types.CmdFileTransferReq, ptypes.FileTransferReq{ReceiverOrSender: "bob", Filename: "a"})
	bob.expect(types.CmdFileTransferReq, nil)

	bob.sendCmd(types.CmdFileTransferAccept, ptypes.FileTransferAccept{FileTransferInitiator: "zed"})
	var ar ptypes.FileTransferAcceptResp
	bob.expect(types.CmdFileTransferAcceptResp, &ar)
	assert.Equal(t, types.CodeNotFound, codeOf(t, ar.ErrorCode))

	bob.sendCmd(types.CmdFileTransferReject, ptypes.FileTransferReject{FileTransferInitiator: "alice"})
	var rr ptypes.FileTransferRejectResp
	bob.expect(types.CmdFileTransferRejectResp, &rr)
	assert.Equal(t, types.StatusOK, rr.Status)

	alice.expect(types.CmdFileTransferResp, &fr)
	assert.Equal(t, types.StatusError, fr.Status)
	assert.Equal(t, types.CodeTransferRejected, codeOf(t, fr.Code))
}

func TestShutdownClosesClients(t *testing.T) {
	ts := startServer(t, testConfig, time.Minute)
	c := connect(t, ts.addr, false)
	c.login("alice")

	ts.cancel()
	c.expectClosed()
}
