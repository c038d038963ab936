package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Addr     string `env:"ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"LOG_DEV" envDefault:"false"`

	DatabaseURL  string        `env:"DATABASE_URL"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	Scene               string        `env:"WORLD_SCENE" envDefault:"world"`
	SpawnSpacing        float64       `env:"SPAWN_SPACING" envDefault:"3.0"`
	SpawnHeight         float64       `env:"SPAWN_HEIGHT" envDefault:"0"`
	LoadTimeout         time.Duration `env:"LOAD_TIMEOUT" envDefault:"30s"`
	RosterFallbackFirst bool          `env:"ROSTER_FALLBACK_FIRST" envDefault:"false"`

	ClientOutbox int     `env:"CLIENT_OUTBOX" envDefault:"64"`
	ClientRate   float64 `env:"CLIENT_RATE" envDefault:"60"`
	ClientBurst  int     `env:"CLIENT_BURST" envDefault:"120"`
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.SpawnSpacing < 0:
		return errors.New("SPAWN_SPACING must not be negative")
	case c.LoadTimeout <= 0:
		return errors.New("LOAD_TIMEOUT must be positive")
	case c.ClientOutbox < 1:
		return errors.New("CLIENT_OUTBOX must be at least 1")
	case c.ClientRate <= 0 || c.ClientBurst < 1:
		return errors.New("CLIENT_RATE and CLIENT_BURST must be positive")
	}
	return nil
}

// Logger builds the process logger.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
