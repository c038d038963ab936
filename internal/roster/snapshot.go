package roster

import (
	"slices"

	"github.com/DoyleJ11/coop-session-server/internal/types"
)

// Snapshot is an immutable copy of the roster taken when the host starts.
type Snapshot struct {
	entries []Entry
}

func (s Snapshot) Len() int { return len(s.entries) }

func (s Snapshot) At(i int) Entry { return s.entries[i] }

func (s Snapshot) Entries() []Entry { return slices.Clone(s.entries) }

// IndexOf returns the spawn slot of the client, or -1.
func (s Snapshot) IndexOf(id types.ClientID) int {
	return slices.IndexFunc(s.entries, func(e Entry) bool { return e.ClientID == id })
}

func (s Snapshot) Contains(id types.ClientID) bool { return s.IndexOf(id) >= 0 }
