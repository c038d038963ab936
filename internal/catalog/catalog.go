package catalog

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/coop-session-server/internal/character"
)

var ErrNoDescriptor = errors.New("no usable spawn descriptor")
var ErrUnknownItem = errors.New("unknown item")
var ErrUnknownAction = errors.New("unknown weapon action")

// Descriptor is the template a character entity is spawned from.
type Descriptor struct {
	Name   string
	Prefab string
	Stats  character.Stats
}

func (d *Descriptor) usable() bool { return d != nil && d.Prefab != "" }

// Resolution is the outcome of resolving a character index.
type Resolution struct {
	Descriptor Descriptor
	Index      int
	// FellBack is set when the requested index was unusable and index 0 was
	// used instead.
	FellBack bool
}

// Characters is the indexable spawn descriptor catalog. Nil slots are allowed
// and behave like out-of-range indexes.
type Characters struct {
	descriptors []*Descriptor
}

func NewCharacters(ds ...*Descriptor) Characters {
	return Characters{descriptors: ds}
}

func (c Characters) Len() int { return len(c.descriptors) }

// Resolve returns the descriptor at index, falling back to index 0 when the
// index is out of range or the slot is empty.
func (c Characters) Resolve(index int) (Resolution, error) {
	if d := c.at(index); d.usable() {
		return Resolution{Descriptor: *d, Index: index}, nil
	}
	if d := c.at(0); d.usable() {
		return Resolution{Descriptor: *d, Index: 0, FellBack: true}, nil
	}
	return Resolution{}, fmt.Errorf("%w: index %d and fallback 0", ErrNoDescriptor, index)
}

func (c Characters) at(i int) *Descriptor {
	if i < 0 || i >= len(c.descriptors) {
		return nil
	}
	return c.descriptors[i]
}

// Item is a weapon as listed in the shared item catalog. Items travel by ID.
type Item struct {
	ID       int
	Name     string
	Physical float64
	Magic    float64
	Fire     float64
	Holy     float64
	Poise    float64
}

// Action is a weapon action invoked with an item, such as a light swing.
type Action struct {
	ID          int
	Name        string
	Attack      character.AttackType
	StaminaCost float64
}

type Items map[int]Item

func (it Items) Lookup(id int) (Item, error) {
	i, ok := it[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	return i, nil
}

type Actions map[int]Action

func (a Actions) Lookup(id int) (Action, error) {
	act, ok := a[id]
	if !ok {
		return Action{}, fmt.Errorf("%w: %d", ErrUnknownAction, id)
	}
	return act, nil
}

// Catalog bundles the shared catalogs every peer loads identically.
type Catalog struct {
	Characters Characters
	Items      Items
	Actions    Actions
}
