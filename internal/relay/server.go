package relay

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrOriginMismatch = errors.New("origin does not match sender")
var ErrUnknownEntity = errors.New("unknown entity")
var ErrNotOwner = errors.New("sender does not own entity")

// Ownership is the server's authoritative entity -> owner mapping.
type Ownership interface {
	OwnerOf(id types.NetworkID) (types.ClientID, bool)
}

// Relay validates requests on the server and turns them into broadcasts.
type Relay struct {
	owners Ownership
}

func NewRelay(owners Ownership) *Relay {
	return &Relay{owners: owners}
}

// Handle returns the broadcast for a request received from sender. The
// payload is forwarded unchanged; fan-out is the caller's job.
func (r *Relay) Handle(sender types.ClientID, m Message) (Message, error) {
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	if m.Origin != sender {
		return Message{}, fmt.Errorf("%w: origin %d, sender %d", ErrOriginMismatch, m.Origin, sender)
	}
	owner, ok := r.owners.OwnerOf(m.Entity)
	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownEntity, m.Entity)
	}
	if owner != sender {
		return Message{}, fmt.Errorf("%w: entity %d owned by %d", ErrNotOwner, m.Entity, owner)
	}
	if m.Kind == KindDamage {
		if _, ok := r.owners.OwnerOf(m.Damage.VictimID); !ok {
			return Message{}, fmt.Errorf("%w: victim %d", ErrUnknownEntity, m.Damage.VictimID)
		}
	}
	return m, nil
}
