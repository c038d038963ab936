package session

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/roster"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrInvalidTransition = errors.New("invalid session transition")
var ErrNotAllReady = errors.New("not every participant is ready")
var ErrNoRosterEntry = errors.New("no roster entry for client")

type State int

const (
	StateLobbyOpen State = iota
	StateStarting
	StateWorldLoading
	StateSpawning
	StateActive
)

func (s State) String() string {
	switch s {
	case StateLobbyOpen:
		return "lobby_open"
	case StateStarting:
		return "starting"
	case StateWorldLoading:
		return "world_loading"
	case StateSpawning:
		return "spawning"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Announcer signals peers during the handoff.
type Announcer interface {
	HideLobby()
	LoadWorld(scene string)
}

// Spawner instantiates one participant's character and binds its ownership.
type Spawner interface {
	Spawn(slot int, entry roster.Entry, res catalog.Resolution, pos types.Vec3) (*character.Character, error)
}

// Layout places spawn slots on a two-column grid.
type Layout struct {
	Spacing float64
	Height  float64
}

// Position is ((i mod 2) * spacing, height, floor(i/2) * spacing).
func (l Layout) Position(i int) types.Vec3 {
	return types.Vec3{
		X: float64(i%2) * l.Spacing,
		Y: l.Height,
		Z: float64(i/2) * l.Spacing,
	}
}

type Config struct {
	Scene  string
	Layout Layout
	// FallbackToFirst hands an unmatched client the first snapshot entry.
	// It can give a client another player's data and is off by default.
	FallbackToFirst bool
}

// Spawned is one successful spawn.
type Spawned struct {
	Slot      int
	Entry     roster.Entry
	Character *character.Character
}

// Sequencer drives a session from lobby to active world.
type Sequencer struct {
	cfg      Config
	chars    catalog.Characters
	announce Announcer
	spawner  Spawner
	log      *zap.Logger

	state    State
	snapshot roster.Snapshot
	loaded   map[types.ClientID]bool
}

func NewSequencer(cfg Config, chars catalog.Characters, announce Announcer, spawner Spawner, log *zap.Logger) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		cfg:      cfg,
		chars:    chars,
		announce: announce,
		spawner:  spawner,
		log:      log,
		state:    StateLobbyOpen,
	}
}

func (s *Sequencer) State() State              { return s.state }
func (s *Sequencer) Snapshot() roster.Snapshot { return s.snapshot }

// Start freezes the roster and asks every peer to load the world. The
// snapshot is taken before any teardown signal goes out.
func (s *Sequencer) Start(r *roster.Roster) (roster.Snapshot, error) {
	if s.state != StateLobbyOpen {
		return roster.Snapshot{}, fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.state)
	}
	if !r.AllReady() {
		return roster.Snapshot{}, ErrNotAllReady
	}
	s.state = StateStarting
	s.snapshot = r.Snapshot()
	s.loaded = make(map[types.ClientID]bool, s.snapshot.Len())

	s.announce.HideLobby()
	s.announce.LoadWorld(s.cfg.Scene)
	s.state = StateWorldLoading
	s.log.Info("session starting",
		zap.Int("participants", s.snapshot.Len()),
		zap.String("scene", s.cfg.Scene))
	return s.snapshot, nil
}

// ReportLoaded records one client's load completion and reports whether every
// snapshot participant has now loaded.
func (s *Sequencer) ReportLoaded(id types.ClientID) bool {
	if s.state != StateWorldLoading {
		return false
	}
	if s.snapshot.Contains(id) {
		s.loaded[id] = true
	}
	return len(s.loaded) == s.snapshot.Len()
}

// Loaded lists the clients that reported completion, in snapshot order.
func (s *Sequencer) Loaded() []types.ClientID {
	var out []types.ClientID
	for _, e := range s.snapshot.Entries() {
		if s.loaded[e.ClientID] {
			out = append(out, e.ClientID)
		}
	}
	return out
}

// LoadCompleted passes the load barrier and spawns one character per snapshot
// entry, in snapshot order. Per-participant failures are logged, skipped and
// returned combined; the sequence always ends Active.
func (s *Sequencer) LoadCompleted(done []types.ClientID) ([]Spawned, error) {
	if s.state != StateWorldLoading {
		return nil, fmt.Errorf("%w: spawn from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateSpawning

	finished := make(map[types.ClientID]bool, len(done))
	for _, id := range done {
		finished[id] = true
	}

	var errs error
	spawned := make([]Spawned, 0, s.snapshot.Len())
	for i := 0; i < s.snapshot.Len(); i++ {
		entry := s.snapshot.At(i)
		log := s.log.With(zap.Uint64("client_id", uint64(entry.ClientID)), zap.Int("slot", i))
		if !finished[entry.ClientID] {
			log.Info("spawning participant that did not report load completion")
		}

		res, err := s.chars.Resolve(entry.CharacterIndex)
		if err != nil {
			log.Error("skipping spawn: no descriptor", zap.Int("character_index", entry.CharacterIndex), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("client %d: %w", entry.ClientID, err))
			continue
		}
		if res.FellBack {
			log.Warn("character index unusable, using index 0", zap.Int("character_index", entry.CharacterIndex))
		}

		c, err := s.spawner.Spawn(i, entry, res, s.cfg.Layout.Position(i))
		if err != nil {
			log.Error("skipping spawn", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("client %d: %w", entry.ClientID, err))
			continue
		}
		spawned = append(spawned, Spawned{Slot: i, Entry: entry, Character: c})
	}

	s.state = StateActive
	s.log.Info("session active", zap.Int("spawned", len(spawned)), zap.Int("failed", len(multierr.Errors(errs))))
	return spawned, errs
}

// EntryFor finds a client's snapshot entry and spawn slot.
func (s *Sequencer) EntryFor(id types.ClientID) (roster.Entry, int, error) {
	if i := s.snapshot.IndexOf(id); i >= 0 {
		return s.snapshot.At(i), i, nil
	}
	if s.cfg.FallbackToFirst && s.snapshot.Len() > 0 {
		s.log.Warn("no roster entry for client, using first entry", zap.Uint64("client_id", uint64(id)))
		return s.snapshot.At(0), 0, nil
	}
	s.log.Warn("no roster entry for client", zap.Uint64("client_id", uint64(id)))
	return roster.Entry{}, -1, fmt.Errorf("%w: %d", ErrNoRosterEntry, id)
}
