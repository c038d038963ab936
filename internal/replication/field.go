package replication

import (
	"fmt"
	"math"

	"github.com/DoyleJ11/coop-session-server/internal/types"
)

// Field names one replicated variable of a character entity.
type Field uint8

const (
	FieldPosition Field = iota
	FieldRotation
	FieldHorizontalMove
	FieldVerticalMove
	FieldMoveAmount
	FieldIsSprinting
	FieldIsJumping
	FieldIsChargingAttack
	FieldCurrentHealth
	FieldMaxHealth
	FieldCurrentStamina
	FieldMaxStamina
	FieldVitality
	FieldEndurance
	FieldDexterity
	FieldIntelligence
	FieldIsDead
	FieldCharacterIndex

	fieldCount
)

// Authority says who may write a field. Everyone may read every field.
type Authority uint8

const (
	AuthorityOwner Authority = iota
	AuthorityServer
)

func (a Authority) String() string {
	if a == AuthorityServer {
		return "server"
	}
	return "owner"
}

type Kind uint8

const (
	KindNumber Kind = iota
	KindBool
	KindVector
	KindRotation
)

type fieldSpec struct {
	name       string
	kind       Kind
	authority  Authority
	continuous bool
}

var fieldSpecs = [fieldCount]fieldSpec{
	FieldPosition:         {"position", KindVector, AuthorityOwner, true},
	FieldRotation:         {"rotation", KindRotation, AuthorityOwner, true},
	FieldHorizontalMove:   {"horizontal_move", KindNumber, AuthorityOwner, false},
	FieldVerticalMove:     {"vertical_move", KindNumber, AuthorityOwner, false},
	FieldMoveAmount:       {"move_amount", KindNumber, AuthorityOwner, false},
	FieldIsSprinting:      {"is_sprinting", KindBool, AuthorityOwner, false},
	FieldIsJumping:        {"is_jumping", KindBool, AuthorityOwner, false},
	FieldIsChargingAttack: {"is_charging_attack", KindBool, AuthorityOwner, false},
	FieldCurrentHealth:    {"current_health", KindNumber, AuthorityOwner, false},
	FieldMaxHealth:        {"max_health", KindNumber, AuthorityOwner, false},
	FieldCurrentStamina:   {"current_stamina", KindNumber, AuthorityOwner, false},
	FieldMaxStamina:       {"max_stamina", KindNumber, AuthorityOwner, false},
	FieldVitality:         {"vitality", KindNumber, AuthorityOwner, false},
	FieldEndurance:        {"endurance", KindNumber, AuthorityOwner, false},
	FieldDexterity:        {"dexterity", KindNumber, AuthorityOwner, false},
	FieldIntelligence:     {"intelligence", KindNumber, AuthorityOwner, false},
	FieldIsDead:           {"is_dead", KindBool, AuthorityOwner, false},
	FieldCharacterIndex:   {"character_index", KindNumber, AuthorityServer, false},
}

func (f Field) Valid() bool { return f < fieldCount }

func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("field(%d)", uint8(f))
	}
	return fieldSpecs[f].name
}

func (f Field) Kind() Kind { return fieldSpecs[f].kind }

func (f Field) Authority() Authority { return fieldSpecs[f].authority }

// Continuous fields are smoothed on non-owner holders instead of snapped.
func (f Field) Continuous() bool { return fieldSpecs[f].continuous }

// Fields lists every field in declaration order.
func Fields() []Field {
	out := make([]Field, 0, fieldCount)
	for f := Field(0); f < fieldCount; f++ {
		out = append(out, f)
	}
	return out
}

// Value is a tagged union over the kinds a field can hold.
type Value struct {
	Kind Kind       `json:"k" msgpack:"k"`
	Num  float64    `json:"n,omitempty" msgpack:"n,omitempty"`
	Bool bool       `json:"b,omitempty" msgpack:"b,omitempty"`
	Vec  types.Vec3 `json:"v,omitempty" msgpack:"v,omitempty"`
	Rot  types.Quat `json:"r,omitempty" msgpack:"r,omitempty"`
}

func (v Value) finite() bool {
	switch v.Kind {
	case KindNumber:
		return !math.IsNaN(v.Num) && !math.IsInf(v.Num, 0)
	case KindVector:
		return v.Vec.Finite()
	case KindRotation:
		return v.Rot.Finite()
	}
	return true
}

func Number(n float64) Value      { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Vector(v types.Vec3) Value   { return Value{Kind: KindVector, Vec: v} }
func Rotation(q types.Quat) Value { return Value{Kind: KindRotation, Rot: q} }

func zeroValue(k Kind) Value {
	if k == KindRotation {
		return Rotation(types.IdentityQuat)
	}
	return Value{Kind: k}
}

func interpolate(from, to Value, t float64) Value {
	switch to.Kind {
	case KindVector:
		return Vector(from.Vec.Lerp(to.Vec, t))
	case KindRotation:
		return Rotation(from.Rot.Nlerp(to.Rot, t))
	default:
		return to
	}
}

// Update carries one field write from its writer to the other holders.
type Update struct {
	Entity types.NetworkID `json:"entity" msgpack:"entity"`
	Field  Field           `json:"field" msgpack:"field"`
	Seq    uint64          `json:"seq" msgpack:"seq"`
	Value  Value           `json:"value" msgpack:"value"`
}
