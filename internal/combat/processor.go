package combat

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrUnresolved = errors.New("unresolved network id")

// Resolver finds live entities by network ID.
type Resolver interface {
	Lookup(id types.NetworkID) (*character.Character, bool)
}

// Processor applies relayed damage effects. Only the victim's owner changes
// health; every other peer sees the result through replication.
type Processor struct {
	log *zap.Logger
}

func NewProcessor(log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{log: log}
}

// Process resolves both entities and applies e on the victim's owner. It
// reports whether health changed. An unresolved ID drops the effect.
func (p *Processor) Process(e DamageEffect, r Resolver) (bool, error) {
	if _, ok := r.Lookup(e.AttackerID); !ok {
		p.log.Warn("dropping damage: attacker not found",
			zap.Uint64("attacker_id", uint64(e.AttackerID)),
			zap.Uint64("victim_id", uint64(e.VictimID)))
		return false, fmt.Errorf("%w: attacker %d", ErrUnresolved, e.AttackerID)
	}
	victim, ok := r.Lookup(e.VictimID)
	if !ok {
		p.log.Warn("dropping damage: victim not found",
			zap.Uint64("attacker_id", uint64(e.AttackerID)),
			zap.Uint64("victim_id", uint64(e.VictimID)))
		return false, fmt.Errorf("%w: victim %d", ErrUnresolved, e.VictimID)
	}
	if !victim.IsLocalOwner() || victim.IsDead() {
		return false, nil
	}

	amount := e.Total()
	applied, err := victim.TakeDamage(amount)
	if err != nil {
		return false, err
	}
	p.log.Debug("damage applied",
		zap.Uint64("attacker_id", uint64(e.AttackerID)),
		zap.Uint64("victim_id", uint64(e.VictimID)),
		zap.Int("amount", amount),
		zap.Float64("health", victim.Health()),
		zap.Bool("dead", victim.IsDead()))
	return applied, nil
}
