// Package session holds the per-connection state of a chat client.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/codec"
	"github.com/DoyleJ11/chatduel/internal/heartbeat"
	"github.com/DoyleJ11/chatduel/internal/types"
	ptypes "github.com/DoyleJ11/chatduel/pkg/types"
)

type State int

const (
	StateConnecting State = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	ErrNotReady             = errors.New("session not greeted")
	ErrClosed               = errors.New("session closed")
	ErrUnexpectedAck        = heartbeat.ErrUnexpectedAck
)

type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

type Session struct {
	id           string
	conn         net.Conn
	writeTimeout time.Duration
	log          *zap.Logger

	wmu sync.Mutex
	w   *bufio.Writer

	mu       sync.Mutex
	state    State
	username string

	hb        *heartbeat.Monitor
	closeOnce sync.Once
	closeErr  error
}

func New(conn net.Conn, opts Options, log *zap.Logger) *Session {
	s := &Session{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		w:            bufio.NewWriter(conn),
		state:        StateConnecting,
	}
	s.log = log.With(zap.String("session", s.id), zap.String("remote", conn.RemoteAddr().String()))
	s.hb = heartbeat.New(opts.PingInterval, opts.PongTimeout,
		func() error { return s.Send(types.CmdPing, nil) },
		s.hangup)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Logger() *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username is empty until the session authenticates.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// Greet sends the version greeting and moves the session to Unauthenticated.
func (s *Session) Greet(version string) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateUnauthenticated
	s.mu.Unlock()

	return s.Send(types.CmdReady, ptypes.Ready{Version: version})
}

// Authenticate binds a username. The caller must already hold the name in
// the registry.
func (s *Session) Authenticate(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnauthenticated:
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
	s.state = StateAuthenticated
	s.username = username
	s.log = s.log.With(zap.String("user", username))
	return nil
}

// MarkClosed moves the session to Closed exactly once and reports the
// identity it held. Later calls return "" and false.
func (s *Session) MarkClosed() (username string, wasAuthenticated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return "", false
	}
	wasAuthenticated = s.state == StateAuthenticated
	username = s.username
	s.state = StateClosed
	return username, wasAuthenticated
}

// Send writes one protocol line. Concurrent senders are serialized.
func (s *Session) Send(cmd types.Command, payload any) error {
	line, err := codec.Encode(cmd, payload)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", cmd, err)
	}
	return nil
}

func (s *Session) StartHeartbeat() { s.hb.Start() }
func (s *Session) StopHeartbeat() { s.hb.Stop() }

// AckHeartbeat handles a PONG.
func (s *Session) AckHeartbeat() error { return s.hb.Ack() }

// Close releases the socket. The read loop then observes an error and runs
// the usual teardown.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.hb.Stop()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) hangup() {
	log := s.Logger()
	log.Info("no heartbeat response, disconnecting")
	if err := s.Send(types.CmdHangup, ptypes.Hangup{ReasonCode: types.CodeNoPong}); err != nil {
		log.Debug("hangup notice not delivered", zap.Error(err))
	}
	_ = s.Close()
}
