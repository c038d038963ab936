package relay

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/combat"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrInvalidPayload = errors.New("payload does not match kind")

type Kind string

const (
	KindActionAnimation Kind = "action_animation"
	KindAttackAnimation Kind = "attack_animation"
	KindWeaponAction    Kind = "weapon_action"
	KindDamage          Kind = "damage"
)

type ActionAnimation struct {
	Animation       string `json:"animation" msgpack:"animation"`
	ApplyRootMotion bool   `json:"apply_root_motion,omitempty" msgpack:"apply_root_motion,omitempty"`
}

type AttackAnimation struct {
	Attack          character.AttackType `json:"attack" msgpack:"attack"`
	Animation       string               `json:"animation" msgpack:"animation"`
	ApplyRootMotion bool                 `json:"apply_root_motion,omitempty" msgpack:"apply_root_motion,omitempty"`
}

// WeaponAction references shared catalogs by ID instead of carrying values.
type WeaponAction struct {
	ActionID int `json:"action_id" msgpack:"action_id"`
	ItemID   int `json:"item_id" msgpack:"item_id"`
}

// Message is both the request an actor sends and the broadcast the server
// re-emits. Exactly one payload matching Kind is set.
type Message struct {
	ID     string          `json:"id" msgpack:"id"`
	Origin types.ClientID  `json:"origin" msgpack:"origin"`
	Kind   Kind            `json:"kind" msgpack:"kind"`
	Entity types.NetworkID `json:"entity" msgpack:"entity"`

	Action *ActionAnimation     `json:"action,omitempty" msgpack:"action,omitempty"`
	Attack *AttackAnimation     `json:"attack,omitempty" msgpack:"attack,omitempty"`
	Weapon *WeaponAction        `json:"weapon,omitempty" msgpack:"weapon,omitempty"`
	Damage *combat.DamageEffect `json:"damage,omitempty" msgpack:"damage,omitempty"`
}

func newMessage(origin types.ClientID, kind Kind, entity types.NetworkID) Message {
	return Message{ID: uuid.NewString(), Origin: origin, Kind: kind, Entity: entity}
}

func NewActionAnimation(origin types.ClientID, entity types.NetworkID, a ActionAnimation) Message {
	m := newMessage(origin, KindActionAnimation, entity)
	m.Action = &a
	return m
}

func NewAttackAnimation(origin types.ClientID, entity types.NetworkID, a AttackAnimation) Message {
	m := newMessage(origin, KindAttackAnimation, entity)
	m.Attack = &a
	return m
}

func NewWeaponAction(origin types.ClientID, entity types.NetworkID, w WeaponAction) Message {
	m := newMessage(origin, KindWeaponAction, entity)
	m.Weapon = &w
	return m
}

// NewDamage addresses the request to the attacking entity, whose owner is the
// only peer allowed to send it.
func NewDamage(origin types.ClientID, e combat.DamageEffect) Message {
	m := newMessage(origin, KindDamage, e.AttackerID)
	m.Damage = &e
	return m
}

// Validate checks that the message carries exactly the payload of its kind.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	set := 0
	for _, p := range []bool{m.Action != nil, m.Attack != nil, m.Weapon != nil, m.Damage != nil} {
		if p {
			set++
		}
	}
	ok := set == 1
	switch m.Kind {
	case KindActionAnimation:
		ok = ok && m.Action != nil
	case KindAttackAnimation:
		ok = ok && m.Attack != nil
	case KindWeaponAction:
		ok = ok && m.Weapon != nil
	case KindDamage:
		ok = ok && m.Damage != nil && m.Damage.AttackerID == m.Entity &&
			m.Damage.VictimID != m.Damage.AttackerID && m.Damage.Finite()
	default:
		ok = false
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPayload, m.Kind)
	}
	return nil
}
