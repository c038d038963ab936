package relay

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/coop-session-server/internal/combat"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

type owners map[types.NetworkID]types.ClientID

func (o owners) OwnerOf(id types.NetworkID) (types.ClientID, bool) {
	c, ok := o[id]
	return c, ok
}

type captureSender struct {
	sent []Message
	err  error
}

func (c *captureSender) SendRelay(m Message) error {
	c.sent = append(c.sent, m)
	return c.err
}

func TestRelay_FanOutAppliesOnceEverywhereButOrigin(t *testing.T) {
	const origin types.ClientID = 1
	peers := []types.ClientID{1, 2, 3, 4}

	applied := map[types.ClientID]int{}
	dispatchers := map[types.ClientID]*Dispatcher{}
	sender := &captureSender{}
	for _, id := range peers {
		id := id
		var s Sender
		if id == origin {
			s = sender
		}
		d := NewDispatcher(id, s, 16, nil)
		d.Handle(KindActionAnimation, func(Message) error { applied[id]++; return nil })
		dispatchers[id] = d
	}

	// Actor applies locally first, then requests.
	req := NewActionAnimation(origin, 10, ActionAnimation{Animation: "roll"})
	require.NoError(t, dispatchers[origin].Emit(req))
	require.Len(t, sender.sent, 1)

	server := NewRelay(owners{10: origin})
	bcast, err := server.Handle(origin, sender.sent[0])
	require.NoError(t, err)

	// At-least-once: every peer sees the broadcast twice.
	for i := 0; i < 2; i++ {
		for _, id := range peers {
			dispatchers[id].Deliver(bcast)
		}
	}

	for _, id := range peers {
		assert.Equal(t, 1, applied[id], "peer %d", id)
	}
}

func TestRelay_Handle_Rejections(t *testing.T) {
	r := NewRelay(owners{10: 1, 20: 2})

	cases := []struct {
		name    string
		sender  types.ClientID
		msg     Message
		wantErr error
	}{
		{
			name:   "owner action accepted",
			sender: 1,
			msg:    NewWeaponAction(1, 10, WeaponAction{ActionID: 1, ItemID: 100}),
		},
		{
			name:    "spoofed origin",
			sender:  2,
			msg:     NewWeaponAction(1, 10, WeaponAction{ActionID: 1}),
			wantErr: ErrOriginMismatch,
		},
		{
			name:    "not the entity owner",
			sender:  2,
			msg:     NewActionAnimation(2, 10, ActionAnimation{Animation: "roll"}),
			wantErr: ErrNotOwner,
		},
		{
			name:    "unknown entity",
			sender:  1,
			msg:     NewActionAnimation(1, 99, ActionAnimation{Animation: "roll"}),
			wantErr: ErrUnknownEntity,
		},
		{
			name:   "damage from attacker owner",
			sender: 1,
			msg:    NewDamage(1, combat.DamageEffect{AttackerID: 10, VictimID: 20, PhysicalDamage: 5}),
		},
		{
			name:    "damage sent by victim owner",
			sender:  2,
			msg:     NewDamage(2, combat.DamageEffect{AttackerID: 10, VictimID: 20}),
			wantErr: ErrNotOwner,
		},
		{
			name:    "damage naming unknown victim",
			sender:  1,
			msg:     NewDamage(1, combat.DamageEffect{AttackerID: 10, VictimID: 404}),
			wantErr: ErrUnknownEntity,
		},
		{
			name:    "damage to the attacker itself",
			sender:  1,
			msg:     NewDamage(1, combat.DamageEffect{AttackerID: 10, VictimID: 10, PhysicalDamage: 5}),
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "damage with a NaN component",
			sender:  1,
			msg:     NewDamage(1, combat.DamageEffect{AttackerID: 10, VictimID: 20, PhysicalDamage: math.NaN()}),
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "damage with an infinite contact point",
			sender:  1,
			msg:     NewDamage(1, combat.DamageEffect{AttackerID: 10, VictimID: 20, ContactPoint: types.Vec3{Y: math.Inf(-1)}}),
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "payload does not match kind",
			sender:  1,
			msg:     Message{ID: "x", Origin: 1, Kind: KindDamage, Entity: 10, Action: &ActionAnimation{}},
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := r.Handle(tc.sender, tc.msg)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.msg, out)
		})
	}
}

func TestDispatcher_EmitKeepsLocalEffectWhenSendFails(t *testing.T) {
	sender := &captureSender{err: errors.New("transport down")}
	d := NewDispatcher(1, sender, 0, nil)
	played := 0
	d.Handle(KindAttackAnimation, func(Message) error { played++; return nil })

	err := d.Emit(NewAttackAnimation(1, 10, AttackAnimation{Animation: "light_attack_01"}))
	require.Error(t, err)
	assert.Equal(t, 1, played)
}

func TestDispatcher_EmitWithoutHandler(t *testing.T) {
	d := NewDispatcher(1, nil, 0, nil)
	err := d.Emit(NewActionAnimation(1, 10, ActionAnimation{}))
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestDispatcher_HandlerErrorIsContained(t *testing.T) {
	d := NewDispatcher(2, nil, 0, nil)
	d.Handle(KindWeaponAction, func(Message) error { return errors.New("unknown item") })
	assert.True(t, d.Deliver(NewWeaponAction(1, 10, WeaponAction{ItemID: -1})))
}

func TestWindow_ForgetsOldest(t *testing.T) {
	w := newWindow(2)
	assert.True(t, w.add("a"))
	assert.True(t, w.add("b"))
	assert.False(t, w.add("a"))
	assert.True(t, w.add("c"))
	assert.True(t, w.add("a"), "a fell out of the window")
}
