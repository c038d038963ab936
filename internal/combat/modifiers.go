package combat

import "github.com/DoyleJ11/coop-session-server/internal/character"

// Modifiers maps an attack type to the multiplier applied to its damage.
type Modifiers map[character.AttackType]float64

func DefaultModifiers() Modifiers {
	return Modifiers{
		character.AttackLight01:   0.9,
		character.AttackLight02:   1.0,
		character.AttackHeavy01:   1.4,
		character.AttackHeavy02:   1.6,
		character.AttackCharged01: 2.0,
		character.AttackCharged02: 2.2,
		character.AttackRunning:   1.1,
	}
}

// For returns 1 for attack types without a modifier.
func (m Modifiers) For(t character.AttackType) float64 {
	if v, ok := m[t]; ok {
		return v
	}
	return 1
}

// Apply scales the effect by the modifier of t.
func (m Modifiers) Apply(e DamageEffect, t character.AttackType) DamageEffect {
	return e.Scaled(m.For(t))
}

// NextAttack chains the second swing of a combo when the previous attack was
// the first swing of the same family.
func NextAttack(last, requested character.AttackType) character.AttackType {
	switch {
	case requested == character.AttackLight01 && last == character.AttackLight01:
		return character.AttackLight02
	case requested == character.AttackHeavy01 && last == character.AttackHeavy01:
		return character.AttackHeavy02
	case requested == character.AttackCharged01 && last == character.AttackCharged01:
		return character.AttackCharged02
	}
	return requested
}
