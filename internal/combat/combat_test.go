package combat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

type registry map[types.NetworkID]*character.Character

func (r registry) Lookup(id types.NetworkID) (*character.Character, bool) {
	c, ok := r[id]
	return c, ok
}

// spawn builds the copy of a character held by holder.
func spawn(id types.NetworkID, owner, holder types.ClientID) *character.Character {
	c := character.New(id, owner, replication.Holder{Client: holder})
	c.Seed(character.Stats{Vitality: 10, Endurance: 10})
	return c
}

func TestTotal_FloorRule(t *testing.T) {
	cases := []struct {
		name   string
		effect DamageEffect
		want   int
	}{
		{name: "zero damage still hits for 1", effect: DamageEffect{}, want: 1},
		{name: "negative sum floors to 1", effect: DamageEffect{PhysicalDamage: -20, MagicDamage: 5}, want: 1},
		{name: "components are summed", effect: DamageEffect{PhysicalDamage: 10, MagicDamage: 5, FireDamage: 2, HolyDamage: 3}, want: 20},
		{name: "rounds half away from zero", effect: DamageEffect{PhysicalDamage: 10.5}, want: 11},
		{name: "poise is not health damage", effect: DamageEffect{PhysicalDamage: 4, PoiseDamage: 100}, want: 4},
		{name: "NaN floors to 1", effect: DamageEffect{PhysicalDamage: math.NaN()}, want: 1},
		{name: "huge sum is capped", effect: DamageEffect{PhysicalDamage: 1e19}, want: math.MaxInt32},
		{name: "infinite sum is capped", effect: DamageEffect{MagicDamage: math.Inf(1)}, want: math.MaxInt32},
		{name: "negative infinity floors to 1", effect: DamageEffect{FireDamage: math.Inf(-1)}, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.effect.Total())
		})
	}
}

func TestModifiers_LightAttackScalesEveryComponent(t *testing.T) {
	e := DamageEffect{PhysicalDamage: 10, MagicDamage: 20, PoiseDamage: 30}
	got := DefaultModifiers().Apply(e, character.AttackLight01)

	assert.InDelta(t, 9.0, got.PhysicalDamage, 1e-9)
	assert.InDelta(t, 18.0, got.MagicDamage, 1e-9)
	assert.InDelta(t, 27.0, got.PoiseDamage, 1e-9)
	assert.Equal(t, 27, got.Total())
}

func TestModifiers_DistinctPerAttackType(t *testing.T) {
	m := DefaultModifiers()
	seen := map[float64]character.AttackType{}
	for at, v := range m {
		if other, dup := seen[v]; dup {
			t.Fatalf("%s and %s share modifier %v", at, other, v)
		}
		seen[v] = at
	}
	assert.Equal(t, 1.0, m.For(character.AttackNone))
}

func TestNextAttack(t *testing.T) {
	cases := []struct {
		last, requested, want character.AttackType
	}{
		{character.AttackNone, character.AttackLight01, character.AttackLight01},
		{character.AttackLight01, character.AttackLight01, character.AttackLight02},
		{character.AttackLight02, character.AttackLight01, character.AttackLight01},
		{character.AttackHeavy01, character.AttackHeavy01, character.AttackHeavy02},
		{character.AttackCharged01, character.AttackCharged01, character.AttackCharged02},
		{character.AttackLight01, character.AttackHeavy01, character.AttackHeavy01},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NextAttack(tc.last, tc.requested), "last=%s requested=%s", tc.last, tc.requested)
	}
}

func TestHitTracker_DedupesAndExcludesSelf(t *testing.T) {
	var h HitTracker
	assert.False(t, h.Register(2), "no instance open")

	h.Begin(1)
	assert.False(t, h.Register(1), "self hit")
	assert.True(t, h.Register(2))
	assert.False(t, h.Register(2), "same swing, same victim")
	assert.True(t, h.Register(3))

	h.Begin(1)
	assert.True(t, h.Register(2), "new swing may hit again")

	h.End()
	assert.False(t, h.Register(4))
}

func TestDetect_ContactPersistingAcrossFrames(t *testing.T) {
	attacker := spawn(1, 10, 10)
	near := spawn(2, 20, 10)
	far := spawn(3, 30, 10)
	require.NoError(t, far.Vars().Seed(replication.FieldPosition, replication.Vector(types.Vec3{X: 50})))

	col := Collider{Center: types.Vec3{Z: 0.5}, Radius: 1}
	candidates := []*character.Character{attacker, near, far}

	var h HitTracker
	h.Begin(attacker.ID())
	first := Detect(&h, col, candidates)
	second := Detect(&h, col, candidates)

	require.Len(t, first, 1)
	assert.Equal(t, near.ID(), first[0].ID())
	assert.Empty(t, second)
}

func TestProcess_OnlyVictimOwnerApplies(t *testing.T) {
	const attackerOwner, victimOwner, bystander = 10, 20, 30
	effect := DamageEffect{AttackerID: 1, VictimID: 2, PhysicalDamage: 25}

	peers := map[types.ClientID]registry{}
	for _, holder := range []types.ClientID{attackerOwner, victimOwner, bystander} {
		peers[holder] = registry{
			1: spawn(1, attackerOwner, holder),
			2: spawn(2, victimOwner, holder),
		}
	}

	p := NewProcessor(nil)
	applied := 0
	for holder, reg := range peers {
		ok, err := p.Process(effect, reg)
		require.NoError(t, err, "holder %d", holder)
		if ok {
			applied++
		}
	}

	assert.Equal(t, 1, applied)
	assert.Equal(t, 75.0, peers[victimOwner][2].Health())
	assert.Equal(t, 100.0, peers[bystander][2].Health(), "observers wait for replication")
}

func TestProcess_DeadVictimIgnoresDamage(t *testing.T) {
	reg := registry{1: spawn(1, 10, 20), 2: spawn(2, 20, 20)}
	p := NewProcessor(nil)

	ok, err := p.Process(DamageEffect{AttackerID: 1, VictimID: 2, PhysicalDamage: 500}, reg)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, reg[2].IsDead())

	ok, err = p.Process(DamageEffect{AttackerID: 1, VictimID: 2, PhysicalDamage: 5}, reg)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.0, reg[2].Health())
}

func TestProcess_UnresolvedVictimIsDroppedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewProcessor(zap.New(core))
	attacker := spawn(1, 10, 10)
	reg := registry{1: attacker}

	ok, err := p.Process(DamageEffect{AttackerID: 1, VictimID: 404, PhysicalDamage: 30}, reg)
	require.ErrorIs(t, err, ErrUnresolved)
	assert.False(t, ok)
	assert.Equal(t, 100.0, attacker.Health())
	assert.Equal(t, 1, logs.FilterMessage("dropping damage: victim not found").Len())
}

func TestNewEffect_FromItem(t *testing.T) {
	a, v := spawn(1, 10, 10), spawn(2, 20, 10)
	item := catalog.Item{Physical: 25, Magic: 3, Poise: 15}
	e := NewEffect(a, v, item, types.Vec3{X: 1})

	assert.Equal(t, types.NetworkID(1), e.AttackerID)
	assert.Equal(t, types.NetworkID(2), e.VictimID)
	assert.Equal(t, 28, e.Total())
	assert.InDelta(t, 0, e.AngleHitFrom, 1e-9)
}

func TestAngleHitFrom(t *testing.T) {
	yaw90 := types.Quat{Y: math.Sin(math.Pi / 4), W: math.Cos(math.Pi / 4)}
	assert.InDelta(t, 90, AngleHitFrom(types.IdentityQuat, yaw90), 1e-9)
	assert.InDelta(t, -90, AngleHitFrom(yaw90, types.IdentityQuat), 1e-9)
}
