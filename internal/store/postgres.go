package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Postgres struct {
	db *gorm.DB
}

// gormWriter routes gorm's printf-style logging into zap.
type gormWriter struct{ s *zap.SugaredLogger }

func (w gormWriter) Printf(format string, args ...any) { w.s.Infof(format, args...) }

func OpenPostgres(dsn string, log *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(gormWriter{s: log.Named("gorm").Sugar()}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&MatchRecord{}); err != nil {
		return nil, fmt.Errorf("migrate match_records: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	if err := p.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	return nil
}

func (p *Postgres) RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	q := p.db.WithContext(ctx).Order("ended_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []MatchRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("recent matches: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
