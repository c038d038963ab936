package character

import (
	"errors"

	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrNotOwner = errors.New("character not owned by this peer")

// AttackType names an attack for combo bookkeeping and damage modifiers.
type AttackType string

const (
	AttackNone      AttackType = ""
	AttackLight01   AttackType = "light_attack_01"
	AttackLight02   AttackType = "light_attack_02"
	AttackHeavy01   AttackType = "heavy_attack_01"
	AttackHeavy02   AttackType = "heavy_attack_02"
	AttackCharged01 AttackType = "charged_attack_01"
	AttackCharged02 AttackType = "charged_attack_02"
	AttackRunning   AttackType = "running_attack_01"
)

// Stats is the build and resource record a character is seeded from.
type Stats struct {
	CharacterIndex int
	Vitality       int
	Endurance      int
	Dexterity      int
	Intelligence   int
	CurrentHealth  float64
	MaxHealth      float64
	CurrentStamina float64
	MaxStamina     float64
}

// MaxHealthFor derives the health pool from vitality.
func MaxHealthFor(vitality int) float64 { return float64(vitality * 10) }

// MaxStaminaFor derives the stamina pool from endurance.
func MaxStaminaFor(endurance int) float64 { return float64(endurance * 10) }

// Character is one spawned participant as seen by one peer.
type Character struct {
	id    types.NetworkID
	owner types.ClientID
	vars  *replication.Set

	// LastAttack and CurrentAttack drive combo chaining on the owner and the
	// damage modifier on whoever detects the hit.
	LastAttack    AttackType
	CurrentAttack AttackType

	detach []func()
}

func New(id types.NetworkID, owner types.ClientID, holder replication.Holder, opts ...replication.Option) *Character {
	return &Character{
		id:    id,
		owner: owner,
		vars:  replication.NewSet(id, owner, holder, opts...),
	}
}

func (c *Character) ID() types.NetworkID    { return c.id }
func (c *Character) Owner() types.ClientID  { return c.owner }
func (c *Character) Vars() *replication.Set { return c.vars }

// IsLocalOwner reports whether the peer holding this copy owns the character.
func (c *Character) IsLocalOwner() bool { return c.vars.IsOwner() }

func (c *Character) Health() float64    { return c.vars.Number(replication.FieldCurrentHealth) }
func (c *Character) MaxHealth() float64 { return c.vars.Number(replication.FieldMaxHealth) }
func (c *Character) Stamina() float64   { return c.vars.Number(replication.FieldCurrentStamina) }
func (c *Character) IsDead() bool       { return c.vars.Flag(replication.FieldIsDead) }
func (c *Character) Position() types.Vec3 {
	return c.vars.Vector(replication.FieldPosition)
}

// Seed writes spawn-time values without replicating them. Pools left at zero
// are derived from the build stats.
func (c *Character) Seed(s Stats) {
	if s.MaxHealth <= 0 {
		s.MaxHealth = MaxHealthFor(s.Vitality)
	}
	if s.MaxStamina <= 0 {
		s.MaxStamina = MaxStaminaFor(s.Endurance)
	}
	if s.CurrentHealth <= 0 || s.CurrentHealth > s.MaxHealth {
		s.CurrentHealth = s.MaxHealth
	}
	if s.CurrentStamina <= 0 || s.CurrentStamina > s.MaxStamina {
		s.CurrentStamina = s.MaxStamina
	}
	seed := map[replication.Field]replication.Value{
		replication.FieldCharacterIndex: replication.Number(float64(s.CharacterIndex)),
		replication.FieldVitality:       replication.Number(float64(s.Vitality)),
		replication.FieldEndurance:      replication.Number(float64(s.Endurance)),
		replication.FieldDexterity:      replication.Number(float64(s.Dexterity)),
		replication.FieldIntelligence:   replication.Number(float64(s.Intelligence)),
		replication.FieldMaxHealth:      replication.Number(s.MaxHealth),
		replication.FieldCurrentHealth:  replication.Number(s.CurrentHealth),
		replication.FieldMaxStamina:     replication.Number(s.MaxStamina),
		replication.FieldCurrentStamina: replication.Number(s.CurrentStamina),
	}
	for f, v := range seed {
		// Kinds are fixed above, Seed cannot fail.
		_ = c.vars.Seed(f, v)
	}
}

// Stats reads the current build and resources back out, for saving.
func (c *Character) Stats() Stats {
	n := c.vars.Number
	return Stats{
		CharacterIndex: int(n(replication.FieldCharacterIndex)),
		Vitality:       int(n(replication.FieldVitality)),
		Endurance:      int(n(replication.FieldEndurance)),
		Dexterity:      int(n(replication.FieldDexterity)),
		Intelligence:   int(n(replication.FieldIntelligence)),
		CurrentHealth:  n(replication.FieldCurrentHealth),
		MaxHealth:      n(replication.FieldMaxHealth),
		CurrentStamina: n(replication.FieldCurrentStamina),
		MaxStamina:     n(replication.FieldMaxStamina),
	}
}

// RecordAttack updates combo bookkeeping.
func (c *Character) RecordAttack(t AttackType) {
	c.LastAttack = t
	c.CurrentAttack = t
}

// Attach subscribes fn for the lifetime of the character.
func (c *Character) Attach(f replication.Field, fn replication.ChangeFunc) {
	c.detach = append(c.detach, c.vars.OnChange(f, fn))
}

// Detach drops every subscription on the character. Safe to call twice.
func (c *Character) Detach() {
	for _, d := range c.detach {
		d()
	}
	c.detach = nil
	c.vars.DetachAll()
}
