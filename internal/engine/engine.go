package engine

import (
	"errors"
	"strings"
)

var ErrInvalidMove = errors.New("invalid move")

type Move string

const (
	MoveRock     Move = "R"
	MovePaper    Move = "P"
	MoveScissors Move = "S"
)

// beats maps each move to the one it defeats.
var beats = map[Move]Move{
	MoveRock:     MoveScissors,
	MoveScissors: MovePaper,
	MovePaper:    MoveRock,
}

// ParseMove accepts a move code in either case.
func ParseMove(code string) (Move, error) {
	m := Move(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := beats[m]; !ok {
		return "", ErrInvalidMove
	}
	return m, nil
}

func (m Move) Beats(other Move) bool {
	return beats[m] == other
}

type Outcome int

const (
	Draw Outcome = iota
	FirstWins
	SecondWins
)

// Resolve compares two valid moves.
func Resolve(first, second Move) Outcome {
	switch {
	case first == second:
		return Draw
	case first.Beats(second):
		return FirstWins
	default:
		return SecondWins
	}
}
