// Package chat serves the line protocol: it owns the accept loop, one read
// loop per connection and the keyword dispatch table.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/codec"
	"github.com/DoyleJ11/chatduel/internal/hub"
	"github.com/DoyleJ11/chatduel/internal/lobby"
	"github.com/DoyleJ11/chatduel/internal/session"
	"github.com/DoyleJ11/chatduel/internal/types"
	ptypes "github.com/DoyleJ11/chatduel/pkg/types"
)

type Config struct {
	Version      string
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

type Server struct {
	cfg      Config
	hub      *hub.Hub
	games    *lobby.Coordinator
	log      *zap.Logger
	handlers map[types.Command]handlerFunc

	// newTransferID mints the identifier handed to both ends of an accepted file transfer.
	newTransferID func() string

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(cfg Config, h *hub.Hub, games *lobby.Coordinator, log *zap.Logger) *Server {
	s := &Server{
		cfg:           cfg,
		hub:           h,
		games:         games,
		log:           log,
		newTransferID: uuid.NewString,
		sessions:      make(map[*session.Session]struct{}),
	}
	s.handlers = s.routes()
	return s
}

// Lookup adapts the registry for the game coordinator.
func Lookup(h *hub.Hub) lobby.LookupFunc {
	return func(username string) (lobby.Participant, bool) {
		m, ok := h.Lookup(username)
		if !ok {
			return nil, false
		}
		return m, true
	}
}

// Serve accepts connections until ctx is cancelled. It closes every live
// session before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("chat listener started", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("accept: %w", aerr)
			}
			break
		}
		go s.ServeConn(ctx, conn)
	}

	s.Shutdown()
	return err
}

// ServeConn runs one client to completion. It is also the entry point for
// connections arriving through other transports.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	sess := session.New(conn, session.Options{
		WriteTimeout: s.cfg.WriteTimeout,
		PingInterval: s.cfg.PingInterval,
		PongTimeout:  s.cfg.PongTimeout,
	}, s.log)
	if !s.track(sess) {
		_ = conn.Close()
		return
	}
	defer s.untrack(sess)
	defer s.teardown(sess)

	sess.Logger().Debug("client connected")
	if err := sess.Greet(s.cfg.Version); err != nil {
		sess.Logger().Debug("greeting failed", zap.Error(err))
		return
	}

	r := codec.NewReader(conn)
	for {
		msg, err := r.Next()
		if errors.Is(err, codec.ErrLineTooLong) {
			sess.Logger().Debug("oversized line skipped")
			if err := sess.Send(types.CmdParseError, nil); err != nil {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				sess.Logger().Debug("read failed", zap.Error(err))
			}
			return
		}
		if err := s.dispatch(ctx, sess, msg); err != nil {
			if !errors.Is(err, errLogout) {
				sess.Logger().Debug("closing session", zap.Error(err))
			}
			return
		}
	}
}

// Shutdown closes every live session and waits for their read loops.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	live := make([]*session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		_ = sess.Close()
	}
	s.wg.Wait()
}

func (s *Server) track(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.wg.Done()
}

// teardown is the single exit path for a session: logout, I/O error and
// heartbeat hangup all end here.
func (s *Server) teardown(sess *session.Session) {
	name, wasAuthenticated := sess.MarkClosed()
	sess.StopHeartbeat()

	if wasAuthenticated {
		s.hub.Unregister(name, sess)
		s.hub.Broadcast(sess, types.CmdLeft, ptypes.Left{Username: name})
		s.games.Leave(sess)
		sess.Logger().Info("user left")
	}
	_ = sess.Close()
}
