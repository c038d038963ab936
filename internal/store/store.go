package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/character"
)

var ErrNotFound = errors.New("build not found")

// Build is a player's saved character: build stats, resources and the
// selected character, keyed by player name.
type Build struct {
	PlayerName     string `gorm:"primaryKey;size:64"`
	CharacterIndex int
	Vitality       int
	Endurance      int
	Dexterity      int
	Intelligence   int
	CurrentHealth  float64
	MaxHealth      float64
	CurrentStamina float64
	MaxStamina     float64
	UpdatedAt      time.Time
}

// FromStats captures a live character for saving.
func FromStats(name string, s character.Stats) Build {
	return Build{
		PlayerName:     name,
		CharacterIndex: s.CharacterIndex,
		Vitality:       s.Vitality,
		Endurance:      s.Endurance,
		Dexterity:      s.Dexterity,
		Intelligence:   s.Intelligence,
		CurrentHealth:  s.CurrentHealth,
		MaxHealth:      s.MaxHealth,
		CurrentStamina: s.CurrentStamina,
		MaxStamina:     s.MaxStamina,
	}
}

// Stats seeds a newly spawned character from the saved build.
func (b Build) Stats() character.Stats {
	return character.Stats{
		CharacterIndex: b.CharacterIndex,
		Vitality:       b.Vitality,
		Endurance:      b.Endurance,
		Dexterity:      b.Dexterity,
		Intelligence:   b.Intelligence,
		CurrentHealth:  b.CurrentHealth,
		MaxHealth:      b.MaxHealth,
		CurrentStamina: b.CurrentStamina,
		MaxStamina:     b.MaxStamina,
	}
}

type Store interface {
	Load(ctx context.Context, playerName string) (Build, error)
	Save(ctx context.Context, b Build) error
	Close() error
}

// Open returns a postgres store for dsn, or an in-memory store when dsn is
// empty.
func Open(ctx context.Context, dsn string, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dsn == "" {
		log.Info("no database configured, builds are kept in memory")
		return NewMemory(), nil
	}
	p, err := OpenPostgres(ctx, dsn, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Memory keeps builds for the life of the process.
type Memory struct {
	mu     sync.Mutex
	builds map[string]Build
}

func NewMemory() *Memory {
	return &Memory{builds: make(map[string]Build)}
}

func (m *Memory) Load(ctx context.Context, name string) (Build, error) {
	if err := ctx.Err(); err != nil {
		return Build{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[name]
	if !ok {
		return Build{}, ErrNotFound
	}
	return b, nil
}

func (m *Memory) Save(ctx context.Context, b Build) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b.UpdatedAt = time.Now()
	m.builds[b.PlayerName] = b
	return nil
}

func (m *Memory) Close() error { return nil }
