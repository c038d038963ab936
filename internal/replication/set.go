package replication

import (
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrNotAuthorized = errors.New("writer not authorized for field")
var ErrKindMismatch = errors.New("value kind does not match field")
var ErrUnknownField = errors.New("unknown field")
var ErrWrongEntity = errors.New("update addressed to another entity")
var ErrNonFinite = errors.New("value is not a finite number")

// DefaultSmoothingWindow bounds how long a non-owner takes to converge on a
// continuous field.
const DefaultSmoothingWindow = 100 * time.Millisecond

// Holder identifies the peer holding a copy of the set.
type Holder struct {
	Client types.ClientID
	Server bool
}

// ServerHolder is the server's identity as a holder.
var ServerHolder = Holder{Client: types.ServerClientID, Server: true}

// ChangeFunc observes a value change. It may be called more than once for the
// same logical change when the transport retransmits.
type ChangeFunc func(f Field, old, new Value)

// Sink receives updates produced by local writes.
type Sink func(Update)

type Option func(*Set)

func WithSink(sink Sink) Option {
	return func(s *Set) { s.sink = sink }
}

func WithSmoothingWindow(d time.Duration) Option {
	return func(s *Set) {
		if d > 0 {
			s.window = d
		}
	}
}

type subscription struct {
	id int
	fn ChangeFunc
}

type smoother struct {
	from, to, shown Value
	elapsed         time.Duration
}

// Set is the replicated state of one entity as seen by one holder. It is not
// safe for concurrent use; each peer mutates it from its simulation loop.
type Set struct {
	entity types.NetworkID
	owner  types.ClientID
	holder Holder

	values [fieldCount]Value
	seqs   [fieldCount]uint64
	smooth [fieldCount]*smoother

	subs    [fieldCount][]subscription
	nextSub int

	sink   Sink
	window time.Duration
}

func NewSet(entity types.NetworkID, owner types.ClientID, holder Holder, opts ...Option) *Set {
	s := &Set{
		entity: entity,
		owner:  owner,
		holder: holder,
		window: DefaultSmoothingWindow,
	}
	for f := Field(0); f < fieldCount; f++ {
		s.values[f] = zeroValue(f.Kind())
		if f.Continuous() {
			s.smooth[f] = &smoother{from: s.values[f], to: s.values[f], shown: s.values[f]}
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Set) Entity() types.NetworkID { return s.entity }
func (s *Set) Owner() types.ClientID   { return s.owner }
func (s *Set) Holder() Holder          { return s.holder }

// IsOwner reports whether the holder is the entity's owner.
func (s *Set) IsOwner() bool {
	if s.owner == types.ServerClientID {
		return s.holder.Server
	}
	return !s.holder.Server && s.holder.Client == s.owner
}

// CanWrite reports whether this holder is the field's writer.
func (s *Set) CanWrite(f Field) bool {
	return f.Valid() && s.allowed(s.holder, f)
}

func (s *Set) allowed(h Holder, f Field) bool {
	switch f.Authority() {
	case AuthorityServer:
		return h.Server
	default:
		if s.owner == types.ServerClientID {
			return h.Server
		}
		return !h.Server && h.Client == s.owner
	}
}

// Seed sets an initial value before the entity is published. It neither
// notifies nor replicates.
func (s *Set) Seed(f Field, v Value) error {
	if err := check(f, v); err != nil {
		return err
	}
	s.values[f] = v
	if sm := s.smooth[f]; sm != nil {
		*sm = smoother{from: v, to: v, shown: v}
	}
	return nil
}

// Restore installs a full-state update, sequence included, when the entity is
// first published to this holder. It neither notifies nor replicates.
func (s *Set) Restore(u Update) error {
	if u.Entity != s.entity {
		return ErrWrongEntity
	}
	if err := s.Seed(u.Field, u.Value); err != nil {
		return err
	}
	s.seqs[u.Field] = u.Seq
	return nil
}

// Write stores a value written by this holder and replicates it.
func (s *Set) Write(f Field, v Value) error {
	if err := check(f, v); err != nil {
		return err
	}
	if !s.allowed(s.holder, f) {
		return fmt.Errorf("%w: %s on entity %d", ErrNotAuthorized, f, s.entity)
	}
	s.seqs[f]++
	old := s.values[f]
	s.values[f] = v
	if sm := s.smooth[f]; sm != nil {
		*sm = smoother{from: v, to: v, shown: v}
	}
	if old != v {
		s.notify(f, old, v)
	}
	if s.sink != nil {
		s.sink(Update{Entity: s.entity, Field: f, Seq: s.seqs[f], Value: v})
	}
	return nil
}

// Authorize checks that sender may have produced u. The server calls it before
// applying and relaying an update.
func (s *Set) Authorize(sender Holder, u Update) error {
	if u.Entity != s.entity {
		return ErrWrongEntity
	}
	if err := check(u.Field, u.Value); err != nil {
		return err
	}
	if !s.allowed(sender, u.Field) {
		return fmt.Errorf("%w: client %d wrote %s on entity %d", ErrNotAuthorized, sender.Client, u.Field, s.entity)
	}
	return nil
}

// Apply takes a remote update. Updates at or below the current sequence of
// the field are ignored, which keeps per-field order and absorbs duplicates.
// It reports whether the update was accepted.
func (s *Set) Apply(u Update) bool {
	if u.Entity != s.entity || check(u.Field, u.Value) != nil {
		return false
	}
	f := u.Field
	if u.Seq <= s.seqs[f] {
		return false
	}
	s.seqs[f] = u.Seq
	old := s.values[f]
	s.values[f] = u.Value
	if sm := s.smooth[f]; sm != nil {
		if s.IsOwner() {
			*sm = smoother{from: u.Value, to: u.Value, shown: u.Value}
		} else {
			*sm = smoother{from: sm.shown, to: u.Value, shown: sm.shown}
		}
	}
	if old != u.Value {
		s.notify(f, old, u.Value)
	}
	return true
}

// Tick advances smoothing of continuous fields.
func (s *Set) Tick(dt time.Duration) {
	for _, sm := range s.smooth {
		if sm == nil || sm.shown == sm.to {
			continue
		}
		sm.elapsed += dt
		t := float64(sm.elapsed) / float64(s.window)
		if t >= 1 {
			sm.shown = sm.to
			continue
		}
		sm.shown = interpolate(sm.from, sm.to, t)
	}
}

func (s *Set) Get(f Field) Value           { return s.values[f] }
func (s *Set) Number(f Field) float64      { return s.values[f].Num }
func (s *Set) Flag(f Field) bool           { return s.values[f].Bool }
func (s *Set) Vector(f Field) types.Vec3   { return s.values[f].Vec }
func (s *Set) Rotation(f Field) types.Quat { return s.values[f].Rot }
func (s *Set) Seq(f Field) uint64          { return s.seqs[f] }

// Displayed returns the smoothed value of a continuous field, or the latest
// value for every other field.
func (s *Set) Displayed(f Field) Value {
	if sm := s.smooth[f]; sm != nil {
		return sm.shown
	}
	return s.values[f]
}

// Updates returns the full current state as updates, for late joiners.
func (s *Set) Updates() []Update {
	out := make([]Update, 0, fieldCount)
	for f := Field(0); f < fieldCount; f++ {
		out = append(out, Update{Entity: s.entity, Field: f, Seq: s.seqs[f], Value: s.values[f]})
	}
	return out
}

// OnChange subscribes fn to changes of f. The returned func detaches it.
func (s *Set) OnChange(f Field, fn ChangeFunc) (detach func()) {
	if !f.Valid() || fn == nil {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[f] = append(s.subs[f], subscription{id: id, fn: fn})
	return func() {
		subs := s.subs[f]
		for i := range subs {
			if subs[i].id == id {
				s.subs[f] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// DetachAll drops every subscription. Called on despawn.
func (s *Set) DetachAll() {
	for f := range s.subs {
		s.subs[f] = nil
	}
}

// Subscribers counts live subscriptions across fields.
func (s *Set) Subscribers() int {
	n := 0
	for _, subs := range s.subs {
		n += len(subs)
	}
	return n
}

func (s *Set) notify(f Field, old, v Value) {
	for _, sub := range s.subs[f] {
		sub.fn(f, old, v)
	}
}

func check(f Field, v Value) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownField, uint8(f))
	}
	if v.Kind != f.Kind() {
		return fmt.Errorf("%w: %s", ErrKindMismatch, f)
	}
	if !v.finite() {
		return fmt.Errorf("%w: %s", ErrNonFinite, f)
	}
	return nil
}
