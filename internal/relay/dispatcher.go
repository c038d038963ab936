package relay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrNoHandler = errors.New("no handler for kind")

// DefaultSeenWindow is how many recent message IDs a peer remembers.
const DefaultSeenWindow = 1024

// Handler applies a relayed effect locally. Handlers must tolerate being
// called for a message whose effect is already visible.
type Handler func(Message) error

// Sender delivers a request to the server. It must not block.
type Sender interface {
	SendRelay(Message) error
}

// Dispatcher is the peer side of the relay: it emits local actions and applies
// broadcasts from others at most once each.
type Dispatcher struct {
	local    types.ClientID
	send     Sender
	handlers map[Kind]Handler
	seen     *window
	log      *zap.Logger
}

func NewDispatcher(local types.ClientID, send Sender, seenWindow int, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if seenWindow <= 0 {
		seenWindow = DefaultSeenWindow
	}
	return &Dispatcher{
		local:    local,
		send:     send,
		handlers: make(map[Kind]Handler),
		seen:     newWindow(seenWindow),
		log:      log,
	}
}

func (d *Dispatcher) Handle(k Kind, h Handler) { d.handlers[k] = h }

// Emit applies m locally right away, then sends the request. The local
// effect stands even when the send fails.
func (d *Dispatcher) Emit(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	h, ok := d.handlers[m.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, m.Kind)
	}
	d.seen.add(m.ID)
	if err := h(m); err != nil {
		return err
	}
	if d.send == nil {
		return nil
	}
	return d.send.SendRelay(m)
}

// Deliver applies a broadcast unless it originated here or was already seen.
// It reports whether the handler ran.
func (d *Dispatcher) Deliver(m Message) bool {
	if m.Origin == d.local {
		return false
	}
	if err := m.Validate(); err != nil {
		d.log.Warn("dropping malformed relay", zap.String("id", m.ID), zap.Error(err))
		return false
	}
	if !d.seen.add(m.ID) {
		return false
	}
	h, ok := d.handlers[m.Kind]
	if !ok {
		d.log.Warn("no relay handler", zap.String("kind", string(m.Kind)))
		return false
	}
	if err := h(m); err != nil {
		d.log.Warn("relay handler failed",
			zap.String("id", m.ID),
			zap.String("kind", string(m.Kind)),
			zap.Uint64("entity", uint64(m.Entity)),
			zap.Error(err))
	}
	return true
}
