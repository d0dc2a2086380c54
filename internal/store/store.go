// Package store keeps the history of finished matches.
package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	ptypes "github.com/DoyleJ11/chatduel/pkg/types"
)

type Outcome string

const (
	OutcomeResolved   Outcome = "resolved"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeDisconnect Outcome = "disconnect"
)

type MatchRecord struct {
	ID        uint      `gorm:"primaryKey"`
	PlayerA   string    `gorm:"size:14;not null"`
	PlayerB   string    `gorm:"size:14;not null"`
	MoveA     string    `gorm:"size:1"`
	MoveB     string    `gorm:"size:1"`
	Winner    string    `gorm:"size:14"`
	Outcome   Outcome   `gorm:"size:16;not null;index"`
	StartedAt time.Time `gorm:"not null"`
	EndedAt   time.Time `gorm:"not null;index"`
}

func (MatchRecord) TableName() string { return "match_records" }

func (r MatchRecord) View() ptypes.MatchRecordView {
	return ptypes.MatchRecordView{
		PlayerA:   r.PlayerA,
		PlayerB:   r.PlayerB,
		MoveA:     r.MoveA,
		MoveB:     r.MoveB,
		Winner:    r.Winner,
		Outcome:   string(r.Outcome),
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}

type Store interface {
	SaveMatch(ctx context.Context, rec *MatchRecord) error
	// RecentMatches returns up to limit records, newest first.
	RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error)
	Close() error
}

// Open returns a PostgreSQL store for a non-empty DSN and an in-memory one
// otherwise.
func Open(dsn string, log *zap.Logger) (Store, error) {
	if dsn == "" {
		log.Info("no database configured, keeping match history in memory")
		return NewMemory(0), nil
	}
	pg, err := OpenPostgres(dsn, log)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
