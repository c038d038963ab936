package combat

import (
	"math"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

// DamageEffect describes one hit. It is built by the attacker's owner, relayed
// by network ID and consumed once by the victim's owner.
type DamageEffect struct {
	AttackerID     types.NetworkID `json:"attacker_id" msgpack:"attacker_id"`
	VictimID       types.NetworkID `json:"victim_id" msgpack:"victim_id"`
	PhysicalDamage float64         `json:"physical_damage" msgpack:"physical_damage"`
	MagicDamage    float64         `json:"magic_damage" msgpack:"magic_damage"`
	FireDamage     float64         `json:"fire_damage" msgpack:"fire_damage"`
	HolyDamage     float64         `json:"holy_damage" msgpack:"holy_damage"`
	PoiseDamage    float64         `json:"poise_damage" msgpack:"poise_damage"`
	AngleHitFrom   float64         `json:"angle_hit_from" msgpack:"angle_hit_from"`
	ContactPoint   types.Vec3      `json:"contact_point" msgpack:"contact_point"`
}

// Scaled multiplies every damage component and poise by m.
func (e DamageEffect) Scaled(m float64) DamageEffect {
	e.PhysicalDamage *= m
	e.MagicDamage *= m
	e.FireDamage *= m
	e.HolyDamage *= m
	e.PoiseDamage *= m
	return e
}

// maxTotal caps a single hit so the conversion to int stays defined.
const maxTotal = math.MaxInt32

// Finite reports whether every numeric component is a real number.
func (e DamageEffect) Finite() bool {
	for _, x := range []float64{e.PhysicalDamage, e.MagicDamage, e.FireDamage, e.HolyDamage, e.PoiseDamage, e.AngleHitFrom} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return e.ContactPoint.Finite()
}

// Total is the health decrement of the hit. A hit is never a no-op.
func (e DamageEffect) Total() int {
	sum := e.PhysicalDamage + e.MagicDamage + e.FireDamage + e.HolyDamage
	switch {
	case math.IsNaN(sum):
		return 1
	case sum >= maxTotal:
		return maxTotal
	}
	return max(1, int(math.Round(sum)))
}

// NewEffect builds the unmodified effect of attacker hitting victim with item.
func NewEffect(attacker, victim *character.Character, item catalog.Item, contact types.Vec3) DamageEffect {
	return DamageEffect{
		AttackerID:     attacker.ID(),
		VictimID:       victim.ID(),
		PhysicalDamage: item.Physical,
		MagicDamage:    item.Magic,
		FireDamage:     item.Fire,
		HolyDamage:     item.Holy,
		PoiseDamage:    item.Poise,
		AngleHitFrom:   AngleHitFrom(attacker.Vars().Rotation(replication.FieldRotation), victim.Vars().Rotation(replication.FieldRotation)),
		ContactPoint:   contact,
	}
}

// AngleHitFrom is the signed yaw, in degrees, from the attacker's facing to
// the victim's facing.
func AngleHitFrom(attacker, victim types.Quat) float64 {
	a, v := forward(attacker), forward(victim)
	dot := a.X*v.X + a.Z*v.Z
	crossY := a.Z*v.X - a.X*v.Z
	return math.Atan2(crossY, dot) * 180 / math.Pi
}

func forward(q types.Quat) types.Vec3 {
	// Rotates (0,0,1) by q.
	return types.Vec3{
		X: 2 * (q.X*q.Z + q.W*q.Y),
		Y: 2 * (q.Y*q.Z - q.W*q.X),
		Z: 1 - 2*(q.X*q.X+q.Y*q.Y),
	}
}
