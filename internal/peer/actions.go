package peer

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/combat"
	"github.com/DoyleJ11/coop-session-server/internal/relay"
	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrDead = errors.New("character is dead")

// Locomotion is the owner-written movement state of one frame.
type Locomotion struct {
	Position       types.Vec3
	Rotation       types.Quat
	Horizontal     float64
	Vertical       float64
	MoveAmount     float64
	Sprinting      bool
	Jumping        bool
	ChargingAttack bool
}

// Move writes the owner's locomotion fields. Unchanged fields are not resent.
func (p *Peer) Move(entity types.NetworkID, l Locomotion) error {
	c, err := p.owned(entity)
	if err != nil {
		return err
	}
	writes := []struct {
		f replication.Field
		v replication.Value
	}{
		{replication.FieldPosition, replication.Vector(l.Position)},
		{replication.FieldRotation, replication.Rotation(l.Rotation)},
		{replication.FieldHorizontalMove, replication.Number(l.Horizontal)},
		{replication.FieldVerticalMove, replication.Number(l.Vertical)},
		{replication.FieldMoveAmount, replication.Number(l.MoveAmount)},
		{replication.FieldIsSprinting, replication.Bool(l.Sprinting)},
		{replication.FieldIsJumping, replication.Bool(l.Jumping)},
		{replication.FieldIsChargingAttack, replication.Bool(l.ChargingAttack)},
	}
	for _, w := range writes {
		if c.Vars().Get(w.f) == w.v {
			continue
		}
		if err := c.Vars().Write(w.f, w.v); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) Revive(entity types.NetworkID) error {
	c, err := p.owned(entity)
	if err != nil {
		return err
	}
	return c.Revive()
}

func (p *Peer) PlayActionAnimation(entity types.NetworkID, name string, rootMotion bool) error {
	if _, err := p.owned(entity); err != nil {
		return err
	}
	return p.dispatch.Emit(relay.NewActionAnimation(p.id, entity, relay.ActionAnimation{
		Animation: name, ApplyRootMotion: rootMotion,
	}))
}

func (p *Peer) PlayAttackAnimation(entity types.NetworkID, attack character.AttackType, name string, rootMotion bool) error {
	if _, err := p.owned(entity); err != nil {
		return err
	}
	return p.dispatch.Emit(relay.NewAttackAnimation(p.id, entity, relay.AttackAnimation{
		Attack: attack, Animation: name, ApplyRootMotion: rootMotion,
	}))
}

// AttemptAction performs a weapon action with an item. When the entity is not
// resolvable yet the action is re-checked once after the wiring retry delay
// and aborted if it still cannot run.
func (p *Peer) AttemptAction(entity types.NetworkID, actionID, itemID int) error {
	if _, ok := p.registry.Lookup(entity); ok {
		return p.performAction(entity, actionID, itemID)
	}
	p.sched.After(p.wiringRetry, func() {
		if err := p.performAction(entity, actionID, itemID); err != nil {
			p.log.Warn("aborting action",
				zap.Uint64("network_id", uint64(entity)),
				zap.Int("action_id", actionID),
				zap.Int("item_id", itemID),
				zap.Error(err))
		}
	})
	return ErrDeferred
}

func (p *Peer) performAction(entity types.NetworkID, actionID, itemID int) error {
	c, err := p.owned(entity)
	if err != nil {
		return err
	}
	if c.IsDead() {
		return ErrDead
	}
	action, err := p.cat.Actions.Lookup(actionID)
	if err != nil {
		return err
	}
	item, err := p.cat.Items.Lookup(itemID)
	if err != nil {
		return err
	}
	ok, err := c.ConsumeStamina(action.StaminaCost)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoStamina
	}

	attack := combat.NextAttack(c.LastAttack, action.Attack)
	s := &swing{item: item, attack: attack}
	s.hits.Begin(entity)
	p.swings[entity] = s

	err = p.dispatch.Emit(relay.NewWeaponAction(p.id, entity, relay.WeaponAction{ActionID: actionID, ItemID: itemID}))
	return multierr.Append(err, p.dispatch.Emit(relay.NewAttackAnimation(p.id, entity, relay.AttackAnimation{
		Attack: attack, Animation: string(attack),
	})))
}

// Swing runs this frame's contact test for the entity's current attack and
// requests damage for every new victim.
func (p *Peer) Swing(entity types.NetworkID, col combat.Collider) ([]combat.DamageEffect, error) {
	c, err := p.owned(entity)
	if err != nil {
		return nil, err
	}
	s, ok := p.swings[entity]
	if !ok || !s.hits.Active() {
		return nil, ErrNoSwing
	}

	var candidates []*character.Character
	for _, v := range p.registry.All() {
		if !v.IsDead() {
			candidates = append(candidates, v)
		}
	}

	var effects []combat.DamageEffect
	var errs error
	for _, v := range combat.Detect(&s.hits, col, candidates) {
		e := p.mods.Apply(combat.NewEffect(c, v, s.item, col.Center), s.attack)
		if err := p.AttemptDamage(v.ID(), e); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		effects = append(effects, e)
	}
	return effects, errs
}

// EndSwing closes the entity's attack instance.
func (p *Peer) EndSwing(entity types.NetworkID) {
	if s, ok := p.swings[entity]; ok {
		s.hits.End()
		delete(p.swings, entity)
	}
}

// AttemptDamage requests damage on victim. Only the attacking entity's owner
// may call it.
func (p *Peer) AttemptDamage(victim types.NetworkID, e combat.DamageEffect) error {
	if _, err := p.owned(e.AttackerID); err != nil {
		return err
	}
	if victim == e.AttackerID {
		return fmt.Errorf("%w: %d", ErrSelfDamage, victim)
	}
	e.VictimID = victim
	if _, ok := p.registry.Lookup(victim); !ok {
		p.log.Warn("dropping damage: victim not found",
			zap.Uint64("attacker_id", uint64(e.AttackerID)),
			zap.Uint64("victim_id", uint64(victim)))
		return fmt.Errorf("%w: victim %d", combat.ErrUnresolved, victim)
	}
	return p.dispatch.Emit(relay.NewDamage(p.id, e))
}

func (p *Peer) lookup(id types.NetworkID) (*character.Character, error) {
	c, ok := p.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", combat.ErrUnresolved, id)
	}
	return c, nil
}

func (p *Peer) applyActionAnimation(m relay.Message) error {
	c, err := p.lookup(m.Entity)
	if err != nil {
		return err
	}
	p.fx.Animation(c, m.Action.Animation, m.Action.ApplyRootMotion)
	return nil
}

func (p *Peer) applyAttackAnimation(m relay.Message) error {
	c, err := p.lookup(m.Entity)
	if err != nil {
		return err
	}
	c.RecordAttack(m.Attack.Attack)
	p.fx.Animation(c, m.Attack.Animation, m.Attack.ApplyRootMotion)
	return nil
}

func (p *Peer) applyWeaponAction(m relay.Message) error {
	c, err := p.lookup(m.Entity)
	if err != nil {
		return err
	}
	action, err := p.cat.Actions.Lookup(m.Weapon.ActionID)
	if err != nil {
		return err
	}
	item, err := p.cat.Items.Lookup(m.Weapon.ItemID)
	if err != nil {
		return err
	}
	p.fx.Weapon(c, action, item)
	return nil
}

func (p *Peer) applyDamage(m relay.Message) error {
	_, err := p.proc.Process(*m.Damage, p.registry)
	if errors.Is(err, combat.ErrUnresolved) {
		// Already logged by the processor.
		return nil
	}
	return err
}
