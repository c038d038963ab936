package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

var ErrDuplicateEntity = errors.New("entity already registered")

// Registry is a peer's spawn registry: network ID -> live character.
type Registry struct {
	byID  map[types.NetworkID]*character.Character
	order []types.NetworkID
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[types.NetworkID]*character.Character)}
}

func (r *Registry) Add(c *character.Character) error {
	if _, ok := r.byID[c.ID()]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateEntity, c.ID())
	}
	r.byID[c.ID()] = c
	r.order = append(r.order, c.ID())
	return nil
}

func (r *Registry) Lookup(id types.NetworkID) (*character.Character, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// OwnerOf satisfies the relay's ownership lookup.
func (r *Registry) OwnerOf(id types.NetworkID) (types.ClientID, bool) {
	c, ok := r.byID[id]
	if !ok {
		return 0, false
	}
	return c.Owner(), true
}

// ByOwner returns the character controlled by client.
func (r *Registry) ByOwner(client types.ClientID) (*character.Character, bool) {
	for _, id := range r.order {
		if c := r.byID[id]; c.Owner() == client {
			return c, true
		}
	}
	return nil, false
}

// Remove despawns the entity and detaches every subscription tied to it.
func (r *Registry) Remove(id types.NetworkID) (*character.Character, bool) {
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	c.Detach()
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(x types.NetworkID) bool { return x == id })
	return c, true
}

// All returns live characters in spawn order.
func (r *Registry) All() []*character.Character {
	out := make([]*character.Character, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Clear despawns everything, detaching subscriptions.
func (r *Registry) Clear() {
	for _, id := range slices.Clone(r.order) {
		r.Remove(id)
	}
}
