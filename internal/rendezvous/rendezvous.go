// Package rendezvous pairs two raw TCP connections by transfer identifier
// and pipes the producer's bytes to the consumer.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// IDLength is the size of the identifier prefix, the length of a UUID in text form.
	IDLength = 36

	RoleProducer byte = 'S'
	RoleConsumer byte = 'R'

	DefaultHandshakeTimeout = 30 * time.Second
)

var (
	ErrBadRole       = errors.New("unknown role marker")
	ErrDuplicateRole = errors.New("role already connected for transfer")
	ErrRelayStarted  = errors.New("transfer already relaying")
)

type Config struct {
	// HandshakeTimeout bounds the wait for the identifier and role byte.
	HandshakeTimeout time.Duration
	// WaitTimeout closes a connection whose counterpart never arrives. Zero waits forever.
	WaitTimeout time.Duration
	Logger      *zap.Logger
}

type transfer struct {
	id       string
	producer net.Conn
	consumer net.Conn
	created  time.Time
	relaying bool
	wait     *time.Timer
}

type Service struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	transfers map[string]*transfer
	live      map[net.Conn]struct{}
	closed    bool

	wg sync.WaitGroup
}

func New(cfg Config) *Service {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		log:       cfg.Logger,
		transfers: make(map[string]*transfer),
		live:      make(map[net.Conn]struct{}),
	}
}

// Serve accepts until ctx is cancelled or the listener fails. On return
// every connection the service still holds has been closed.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("file transfer listener started", zap.String("addr", ln.Addr().String()))

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
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Handle(conn)
		}()
	}

	s.closeAll()
	s.wg.Wait()
	return err
}

// Handle reads the header of one connection and either parks it or runs
// the relay when it completes a pair.
func (s *Service) Handle(conn net.Conn) {
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))

	id, role, err := readHeader(conn, s.cfg.HandshakeTimeout)
	if err != nil {
		log.Warn("bad transfer handshake", zap.Error(err))
		s.release(conn)
		return
	}
	log = log.With(zap.String("transfer", id), zap.String("role", string(role)))

	t, err := s.attach(id, role, conn)
	if err != nil {
		log.Warn("transfer connection rejected", zap.Error(err))
		s.release(conn)
		return
	}
	if t == nil {
		log.Debug("waiting for counterpart")
		return
	}
	s.relay(t, log)
}

// Pending reports how many transfer entries exist.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func readHeader(conn net.Conn, timeout time.Duration) (string, byte, error) {
	var hdr [IDLength + 1]byte

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return "", 0, fmt.Errorf("read header: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	role := hdr[IDLength]
	if role != RoleProducer && role != RoleConsumer {
		return "", 0, fmt.Errorf("%w: %q", ErrBadRole, role)
	}
	return string(hdr[:IDLength]), role, nil
}

// attach stores conn under its role. It returns the transfer once both
// roles are present, nil while the counterpart is missing.
func (s *Service) attach(id string, role byte, conn net.Conn) (*transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.transfers[id]
	if t == nil {
		t = &transfer{id: id, created: time.Now()}
		s.transfers[id] = t
		if s.cfg.WaitTimeout > 0 {
			t.wait = time.AfterFunc(s.cfg.WaitTimeout, func() { s.abandon(t) })
		}
	}
	if t.relaying {
		return nil, ErrRelayStarted
	}

	slot := &t.consumer
	if role == RoleProducer {
		slot = &t.producer
	}
	if *slot != nil {
		return nil, ErrDuplicateRole
	}
	*slot = conn

	if t.producer == nil || t.consumer == nil {
		return nil, nil
	}
	t.relaying = true
	if t.wait != nil {
		t.wait.Stop()
	}
	return t, nil
}

func (s *Service) relay(t *transfer, log *zap.Logger) {
	start := time.Now()
	n, err := io.Copy(t.consumer, t.producer)

	s.mu.Lock()
	if s.transfers[t.id] == t {
		delete(s.transfers, t.id)
	}
	s.mu.Unlock()

	closeErr := multierr.Combine(s.release(t.producer), s.release(t.consumer))

	fields := []zap.Field{
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
		zap.Duration("paired_after", start.Sub(t.created)),
	}
	if err = multierr.Append(err, closeErr); err != nil {
		log.Warn("transfer ended with error", append(fields, zap.Error(err))...)
		return
	}
	log.Info("transfer complete", fields...)
}

// abandon drops an entry whose counterpart did not arrive in time.
func (s *Service) abandon(t *transfer) {
	s.mu.Lock()
	if s.transfers[t.id] != t || t.relaying {
		s.mu.Unlock()
		return
	}
	delete(s.transfers, t.id)
	s.mu.Unlock()

	s.log.Info("transfer counterpart never arrived", zap.String("transfer", t.id))
	if t.producer != nil {
		_ = s.release(t.producer)
	}
	if t.consumer != nil {
		_ = s.release(t.consumer)
	}
}

func (s *Service) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.live[conn] = struct{}{}
	return true
}

func (s *Service) release(conn net.Conn) error {
	s.mu.Lock()
	delete(s.live, conn)
	s.mu.Unlock()
	return conn.Close()
}

func (s *Service) closeAll() {
	s.mu.Lock()
	s.closed = true
	conns := make([]net.Conn, 0, len(s.live))
	for c := range s.live {
		conns = append(conns, c)
	}
	clear(s.live)
	for id, t := range s.transfers {
		if t.wait != nil {
			t.wait.Stop()
		}
		delete(s.transfers, id)
	}
	s.mu.Unlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	if err != nil {
		s.log.Debug("closing transfer connections", zap.Error(err))
	}
}
