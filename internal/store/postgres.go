package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres persists builds through gorm.
type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := db.WithContext(ctx).AutoMigrate(&Build{}); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("migrate builds: %w", err)
	}
	log.Info("build store ready", zap.String("driver", "postgres"))
	return p, nil
}

func (p *Postgres) Load(ctx context.Context, name string) (Build, error) {
	var b Build
	err := p.db.WithContext(ctx).First(&b, "player_name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Build{}, ErrNotFound
	}
	if err != nil {
		return Build{}, fmt.Errorf("load build %q: %w", name, err)
	}
	return b, nil
}

// Save upserts by player name.
func (p *Postgres) Save(ctx context.Context, b Build) error {
	if err := p.db.WithContext(ctx).Save(&b).Error; err != nil {
		return fmt.Errorf("save build %q: %w", b.PlayerName, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
