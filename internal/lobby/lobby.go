// Package lobby owns the single global match. All match state lives in one
// goroutine; requests, moves, disconnects and timer fires are serialized
// through its inbox.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/engine"
	"github.com/DoyleJ11/chatduel/internal/store"
	"github.com/DoyleJ11/chatduel/internal/types"
	ptypes "github.com/DoyleJ11/chatduel/pkg/types"
)

const DefaultMoveTimeout = 60 * time.Second

var (
	ErrUnauthorized     = errors.New("requester not authenticated")
	ErrOpponentNotFound = errors.New("opponent not found")
	ErrSelfChallenge    = errors.New("cannot challenge yourself")
	ErrAlreadyRunning   = errors.New("match already running")
	ErrNoActiveGame     = errors.New("no active game")
	ErrNotParticipant   = errors.New("not a participant")
	ErrAlreadyMoved     = errors.New("move already made")
	ErrStopped          = errors.New("coordinator stopped")
)

// AlreadyRunningError names the players of the match in progress.
type AlreadyRunningError struct {
	UsernameA string
	UsernameB string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("match already running between %s and %s", e.UsernameA, e.UsernameB)
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// Participant is an authenticated session as seen by the coordinator.
type Participant interface {
	Username() string
	Send(cmd types.Command, payload any) error
}

// LookupFunc resolves a username to its live session.
type LookupFunc func(username string) (Participant, bool)

// Recorder receives every finished match.
type Recorder interface {
	SaveMatch(ctx context.Context, rec *store.MatchRecord) error
}

type Msg interface{ isLobbyMsg() }

type RequestMatch struct {
	Requester Participant
	Opponent  string
	Reply     chan error
}

func (RequestMatch) isLobbyMsg() {}

type SubmitMove struct {
	Participant Participant
	Move        engine.Move
	Reply       chan error
}

func (SubmitMove) isLobbyMsg() {}

// Leave reports a participant's disconnect.
type Leave struct{ Participant Participant }

func (Leave) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type moveTimeout struct{ gen uint64 }

func (moveTimeout) isLobbyMsg() {}

type View struct {
	Active    bool
	UsernameA string
	UsernameB string
	MovedA    bool
	MovedB    bool
	Deadline  time.Time
}

func (v View) MatchView() ptypes.MatchView {
	mv := ptypes.MatchView{
		Active:    v.Active,
		UsernameA: v.UsernameA,
		UsernameB: v.UsernameB,
		MovedA:    v.MovedA,
		MovedB:    v.MovedB,
	}
	if v.Active {
		d := v.Deadline
		mv.Deadline = &d
	}
	return mv
}

type match struct {
	a, b         Participant
	nameA, nameB string
	moveA, moveB engine.Move
	startedAt    time.Time
	deadline     time.Time
}

type Config struct {
	MoveTimeout time.Duration
	Lookup      LookupFunc
	Recorder    Recorder
	Logger      *zap.Logger
}

type Coordinator struct {
	inbox    chan Msg
	lookup   LookupFunc
	recorder Recorder
	timeout  time.Duration
	log      *zap.Logger

	match *match
	gen   uint64
	timer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(parent context.Context, cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = DefaultMoveTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Coordinator{
		inbox:    make(chan Msg, 64),
		lookup:   cfg.Lookup,
		recorder: cfg.Recorder,
		timeout:  cfg.MoveTimeout,
		log:      cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.loop()
	return c
}

// Expose the inbox so tests can inject messages directly.
func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

// Done is closed once the loop has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) RequestMatch(ctx context.Context, requester Participant, opponent string) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, RequestMatch{Requester: requester, Opponent: opponent, Reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

func (c *Coordinator) SubmitMove(ctx context.Context, p Participant, move engine.Move) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, SubmitMove{Participant: p, Move: move, Reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Leave is fire-and-forget; it is a no-op for non-participants.
func (c *Coordinator) Leave(p Participant) {
	_ = c.post(context.Background(), Leave{Participant: p})
}

func (c *Coordinator) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.post(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.done:
		return View{}, ErrStopped
	}
}

// Stop ends the loop and waits for it.
func (c *Coordinator) Stop() {
	c.cancel()
	<-c.done
}

func (c *Coordinator) post(ctx context.Context, m Msg) error {
	select {
	case c.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func (c *Coordinator) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func (c *Coordinator) loop() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case RequestMatch:
				msg.Reply <- c.requestMatch(msg.Requester, msg.Opponent)

			case SubmitMove:
				msg.Reply <- c.submitMove(msg.Participant, msg.Move)

			case Leave:
				c.leave(msg.Participant)

			case moveTimeout:
				c.expire(msg.gen)

			case GetState:
				msg.Reply <- c.view()

			case Shutdown:
				c.shutdown()
				c.cancel()
				return
			}
		}
	}
}

func (c *Coordinator) requestMatch(requester Participant, opponent string) error {
	name := requester.Username()
	if name == "" {
		return ErrUnauthorized
	}
	if cur, ok := c.lookup(name); !ok || cur != requester {
		return ErrUnauthorized
	}
	opp, ok := c.lookup(opponent)
	if !ok {
		return ErrOpponentNotFound
	}
	if c.match != nil {
		return &AlreadyRunningError{UsernameA: c.match.nameA, UsernameB: c.match.nameB}
	}
	if opp == requester {
		return ErrSelfChallenge
	}

	now := time.Now()
	c.gen++
	gen := c.gen
	c.match = &match{
		a:         requester,
		b:         opp,
		nameA:     name,
		nameB:     opponent,
		startedAt: now,
		deadline:  now.Add(c.timeout),
	}
	c.timer = time.AfterFunc(c.timeout, func() {
		select {
		case c.inbox <- moveTimeout{gen: gen}:
		case <-c.ctx.Done():
		}
	})

	c.log.Info("match started", zap.String("initiator", name), zap.String("opponent", opponent))

	c.deliver(requester, types.CmdGameStartResp, ptypes.GameStartResp{Status: types.StatusOK})
	c.deliver(opp, types.CmdGameInvitation, ptypes.GameInvitation{Initiator: name})
	note := ptypes.GameNotification{Initiator: name, Opponent: opponent}
	c.deliver(requester, types.CmdGameNotification, note)
	c.deliver(opp, types.CmdGameNotification, note)
	return nil
}

func (c *Coordinator) submitMove(p Participant, move engine.Move) error {
	m := c.match
	if m == nil {
		return ErrNoActiveGame
	}

	var slot *engine.Move
	switch p {
	case m.a:
		slot = &m.moveA
	case m.b:
		slot = &m.moveB
	default:
		return ErrNotParticipant
	}
	if *slot != "" {
		return ErrAlreadyMoved
	}
	*slot = move
	c.deliver(p, types.CmdGameMoveResp, ptypes.GameMoveResp{Status: types.StatusOK})

	if m.moveA == "" || m.moveB == "" {
		return nil
	}

	result := ptypes.GameResult{InitiatorMove: string(m.moveA), OpponentMove: string(m.moveB)}
	var winner string
	switch engine.Resolve(m.moveA, m.moveB) {
	case engine.FirstWins:
		winner = m.nameA
	case engine.SecondWins:
		winner = m.nameB
	}
	if winner != "" {
		result.Winner = &winner
	}

	c.log.Info("match resolved",
		zap.String("usernameA", m.nameA), zap.String("moveA", string(m.moveA)),
		zap.String("usernameB", m.nameB), zap.String("moveB", string(m.moveB)),
		zap.String("winner", winner))

	c.deliver(m.a, types.CmdGameResult, result)
	c.deliver(m.b, types.CmdGameResult, result)
	c.finish(store.OutcomeResolved, winner)
	return nil
}

func (c *Coordinator) leave(p Participant) {
	m := c.match
	if m == nil {
		return
	}
	var other Participant
	switch p {
	case m.a:
		other = m.b
	case m.b:
		other = m.a
	default:
		return
	}

	c.log.Info("match cancelled, participant left", zap.String("user", p.Username()))
	c.deliver(other, types.CmdGameCancelled, ptypes.GameCancelled{ErrorCode: types.CodeOpponentDisconnected})
	c.finish(store.OutcomeDisconnect, "")
}

func (c *Coordinator) expire(gen uint64) {
	m := c.match
	// stale fire from a match that already ended
	if m == nil || gen != c.gen {
		return
	}
	if m.moveA != "" && m.moveB != "" {
		return
	}

	c.log.Info("match cancelled, moves not submitted in time",
		zap.String("usernameA", m.nameA), zap.String("usernameB", m.nameB))
	cancelled := ptypes.GameCancelled{ErrorCode: types.CodeMoveTimeout}
	c.deliver(m.a, types.CmdGameCancelled, cancelled)
	c.deliver(m.b, types.CmdGameCancelled, cancelled)
	c.finish(store.OutcomeTimeout, "")
}

// finish records the match and resets the slot to idle.
func (c *Coordinator) finish(outcome store.Outcome, winner string) {
	m := c.match
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.match = nil
	c.gen++

	if c.recorder == nil {
		return
	}
	rec := &store.MatchRecord{
		PlayerA:   m.nameA,
		PlayerB:   m.nameB,
		MoveA:     string(m.moveA),
		MoveB:     string(m.moveB),
		Winner:    winner,
		Outcome:   outcome,
		StartedAt: m.startedAt,
		EndedAt:   time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.SaveMatch(ctx, rec); err != nil {
			c.log.Warn("failed to record match", zap.Error(err))
		}
	}()
}

func (c *Coordinator) view() View {
	m := c.match
	if m == nil {
		return View{}
	}
	return View{
		Active:    true,
		UsernameA: m.nameA,
		UsernameB: m.nameB,
		MovedA:    m.moveA != "",
		MovedB:    m.moveB != "",
		Deadline:  m.deadline,
	}
}

func (c *Coordinator) deliver(p Participant, cmd types.Command, payload any) {
	if err := p.Send(cmd, payload); err != nil {
		c.log.Debug("game message not delivered",
			zap.String("command", string(cmd)),
			zap.String("user", p.Username()),
			zap.Error(err))
	}
}

func (c *Coordinator) shutdown() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.match = nil
	c.gen++
}
