package peer

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/combat"
	"github.com/DoyleJ11/coop-session-server/internal/protocol"
	"github.com/DoyleJ11/coop-session-server/internal/relay"
	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/session"
	"github.com/DoyleJ11/coop-session-server/internal/sim"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrDeferred = errors.New("entity not resolved yet, action deferred")
var ErrNoStamina = errors.New("not enough stamina")
var ErrNoSwing = errors.New("no attack in progress")
var ErrSelfDamage = errors.New("an entity cannot damage itself")

// DefaultWiringRetry is how many ticks an action on a not yet resolved entity
// waits before it is re-checked once and then aborted.
const DefaultWiringRetry = 3

// Sender hands frames to the transport. It must not block.
type Sender interface {
	Send(f protocol.Frame) error
}

// Effects is the presentation layer: animation, weapon visuals, lobby UI.
type Effects interface {
	Animation(c *character.Character, name string, rootMotion bool)
	Weapon(c *character.Character, action catalog.Action, item catalog.Item)
	Roster(v protocol.RosterView)
	LoadWorld(scene string)
}

// NopEffects discards every presentation call.
type NopEffects struct{}

func (NopEffects) Animation(*character.Character, string, bool)              {}
func (NopEffects) Weapon(*character.Character, catalog.Action, catalog.Item) {}
func (NopEffects) Roster(protocol.RosterView)                                {}
func (NopEffects) LoadWorld(string)                                          {}

type Option func(*Peer)

func WithLogger(log *zap.Logger) Option {
	return func(p *Peer) {
		if log != nil {
			p.log = log
		}
	}
}

func WithModifiers(m combat.Modifiers) Option {
	return func(p *Peer) { p.mods = m }
}

func WithSeenWindow(n int) Option {
	return func(p *Peer) { p.seenWindow = n }
}

func WithWiringRetry(ticks uint64) Option {
	return func(p *Peer) { p.wiringRetry = ticks }
}

func WithSmoothingWindow(d time.Duration) Option {
	return func(p *Peer) { p.smoothing = d }
}

// swing is the attack instance an owned character is currently performing.
type swing struct {
	hits   combat.HitTracker
	item   catalog.Item
	attack character.AttackType
}

// Peer is one client's view of the session. It is driven from a single
// simulation loop: HandleFrame, the action entry points and Tick must not be
// called concurrently.
type Peer struct {
	id   types.ClientID
	cat  catalog.Catalog
	send Sender
	fx   Effects
	log  *zap.Logger

	mods        combat.Modifiers
	seenWindow  int
	wiringRetry uint64
	smoothing   time.Duration

	registry *session.Registry
	dispatch *relay.Dispatcher
	proc     *combat.Processor
	sched    sim.Scheduler

	roster  protocol.RosterView
	phase   string
	scene   string
	lastErr *protocol.Error
	swings  map[types.NetworkID]*swing
}

func New(id types.ClientID, cat catalog.Catalog, send Sender, fx Effects, opts ...Option) *Peer {
	p := &Peer{
		id:          id,
		cat:         cat,
		send:        send,
		fx:          fx,
		log:         zap.NewNop(),
		mods:        combat.DefaultModifiers(),
		wiringRetry: DefaultWiringRetry,
		registry:    session.NewRegistry(),
		swings:      make(map[types.NetworkID]*swing),
	}
	if p.fx == nil {
		p.fx = NopEffects{}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.Uint64("client_id", uint64(id)))
	p.proc = combat.NewProcessor(p.log)
	p.dispatch = relay.NewDispatcher(id, relaySender{p}, p.seenWindow, p.log)
	p.dispatch.Handle(relay.KindActionAnimation, p.applyActionAnimation)
	p.dispatch.Handle(relay.KindAttackAnimation, p.applyAttackAnimation)
	p.dispatch.Handle(relay.KindWeaponAction, p.applyWeaponAction)
	p.dispatch.Handle(relay.KindDamage, p.applyDamage)
	return p
}

func (p *Peer) ID() types.ClientID          { return p.id }
func (p *Peer) Registry() *session.Registry { return p.registry }
func (p *Peer) Roster() protocol.RosterView { return p.roster }
func (p *Peer) Phase() string               { return p.phase }
func (p *Peer) Scene() string               { return p.scene }
func (p *Peer) LastError() *protocol.Error  { return p.lastErr }
func (p *Peer) Pending() int                { return p.sched.Pending() }

// Character returns the entity this peer controls, once spawned.
func (p *Peer) Character() (*character.Character, bool) { return p.registry.ByOwner(p.id) }

type relaySender struct{ p *Peer }

func (s relaySender) SendRelay(m relay.Message) error {
	return s.p.send.Send(protocol.Frame{Type: protocol.MsgRelay, Payload: m})
}

// Lobby requests. The server owns the roster; the mirror updates when the
// server broadcasts it back.

func (p *Peer) Submit(name string, ready bool, characterIndex int) error {
	return p.send.Send(protocol.Frame{Type: protocol.MsgSubmit, Payload: protocol.Submit{
		PlayerName: name, IsReady: ready, CharacterIndex: characterIndex,
	}})
}

func (p *Peer) SetReady(ready bool) error {
	return p.send.Send(protocol.Frame{Type: protocol.MsgSetReady, Payload: protocol.SetReady{IsReady: ready}})
}

func (p *Peer) Start() error {
	return p.send.Send(protocol.Frame{Type: protocol.MsgStart, Payload: protocol.Start{}})
}

// WorldLoaded reports this peer's load completion to the server barrier.
func (p *Peer) WorldLoaded() error {
	return p.send.Send(protocol.Frame{Type: protocol.MsgLoadComplete, Payload: protocol.LoadComplete{}})
}

// Tick runs due deferred tasks and advances smoothing.
func (p *Peer) Tick(dt time.Duration) {
	p.sched.Tick()
	for _, c := range p.registry.All() {
		c.Vars().Tick(dt)
	}
}

// HandleFrame applies one message from the server.
func (p *Peer) HandleFrame(f protocol.Frame) error {
	switch m := f.Payload.(type) {
	case protocol.Welcome:
	case protocol.RosterView:
		if m.Version < p.roster.Version {
			return nil
		}
		p.roster = m
		p.fx.Roster(m)
	case protocol.Phase:
		p.phase = m.State
	case protocol.HideLobby:
		p.roster = protocol.RosterView{Version: p.roster.Version}
	case protocol.LoadWorld:
		p.scene = m.Scene
		p.fx.LoadWorld(m.Scene)
	case protocol.Spawn:
		return p.spawn(m)
	case protocol.Despawn:
		p.despawn(m.Entity)
	case protocol.Updates:
		p.applyUpdates(m.Updates)
	case relay.Message:
		p.dispatch.Deliver(m)
	case protocol.Error:
		p.lastErr = &m
		p.log.Warn("server error", zap.String("code", m.Code), zap.String("message", m.Message))
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownType, f.Type)
	}
	return nil
}

func (p *Peer) spawn(m protocol.Spawn) error {
	if _, ok := p.registry.Lookup(m.Entity); ok {
		return nil
	}
	opts := []replication.Option{replication.WithSmoothingWindow(p.smoothing)}
	if m.Owner == p.id {
		opts = append(opts, replication.WithSink(p.sendUpdate))
	}
	c := character.New(m.Entity, m.Owner, replication.Holder{Client: p.id}, opts...)
	for _, u := range m.Updates {
		if err := c.Vars().Restore(u); err != nil {
			p.log.Warn("bad spawn state", zap.Uint64("network_id", uint64(m.Entity)), zap.Error(err))
		}
	}
	if err := p.registry.Add(c); err != nil {
		return err
	}
	p.log.Debug("spawned",
		zap.Uint64("network_id", uint64(m.Entity)),
		zap.Uint64("owner", uint64(m.Owner)),
		zap.Int("slot", m.Slot))
	return nil
}

func (p *Peer) despawn(id types.NetworkID) {
	if _, ok := p.registry.Remove(id); ok {
		delete(p.swings, id)
	}
}

func (p *Peer) sendUpdate(u replication.Update) {
	err := p.send.Send(protocol.Frame{Type: protocol.MsgUpdate, Payload: protocol.Updates{Updates: []replication.Update{u}}})
	if err != nil {
		p.log.Warn("update not sent", zap.Uint64("network_id", uint64(u.Entity)), zap.Stringer("field", u.Field), zap.Error(err))
	}
}

func (p *Peer) applyUpdates(us []replication.Update) {
	for _, u := range us {
		c, ok := p.registry.Lookup(u.Entity)
		if !ok {
			p.log.Debug("update for unknown entity", zap.Uint64("network_id", uint64(u.Entity)))
			continue
		}
		if c.IsLocalOwner() {
			continue
		}
		c.Vars().Apply(u)
	}
}

// owned resolves an entity this peer controls.
func (p *Peer) owned(id types.NetworkID) (*character.Character, error) {
	c, ok := p.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", combat.ErrUnresolved, id)
	}
	if !c.IsLocalOwner() {
		return nil, fmt.Errorf("%w: %d", character.ErrNotOwner, id)
	}
	return c, nil
}
