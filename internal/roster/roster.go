package roster

import (
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/coop-session-server/internal/types"
)

// MaxNameBytes bounds a player name after normalization.
const MaxNameBytes = 64

type Entry struct {
	ClientID       types.ClientID `json:"client_id" msgpack:"client_id"`
	PlayerName     string         `json:"player_name" msgpack:"player_name"`
	IsReady        bool           `json:"is_ready" msgpack:"is_ready"`
	CharacterIndex int            `json:"character_index" msgpack:"character_index"`
}

// Roster is the server-owned lobby list. Order is insertion order and later
// decides spawn slots, so entries are never reordered in place.
type Roster struct {
	entries []Entry
}

func New() *Roster {
	return &Roster{}
}

// Submit inserts the client's entry or overwrites it in place.
func (r *Roster) Submit(id types.ClientID, name string, ready bool, characterIndex int) Entry {
	e := Entry{
		ClientID:       id,
		PlayerName:     NormalizeName(name),
		IsReady:        ready,
		CharacterIndex: characterIndex,
	}
	if i := r.indexOf(id); i >= 0 {
		r.entries[i] = e
		return e
	}
	r.entries = append(r.entries, e)
	return e
}

// SetReady reports false when the client has no entry.
func (r *Roster) SetReady(id types.ClientID, ready bool) bool {
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.entries[i].IsReady = ready
	return true
}

func (r *Roster) Remove(id types.ClientID) bool {
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.entries = slices.Delete(r.entries, i, i+1)
	return true
}

// AllReady is true iff the roster is non-empty and every entry is ready.
func (r *Roster) AllReady() bool {
	if len(r.entries) == 0 {
		return false
	}
	for _, e := range r.entries {
		if !e.IsReady {
			return false
		}
	}
	return true
}

func (r *Roster) Get(id types.ClientID) (Entry, bool) {
	i := r.indexOf(id)
	if i < 0 {
		return Entry{}, false
	}
	return r.entries[i], true
}

func (r *Roster) Len() int { return len(r.entries) }

// Entries returns a copy in insertion order.
func (r *Roster) Entries() []Entry {
	return slices.Clone(r.entries)
}

func (r *Roster) Clear() {
	r.entries = nil
}

// Snapshot freezes the current entries.
func (r *Roster) Snapshot() Snapshot {
	return Snapshot{entries: slices.Clone(r.entries)}
}

func (r *Roster) indexOf(id types.ClientID) int {
	return slices.IndexFunc(r.entries, func(e Entry) bool { return e.ClientID == id })
}

// NormalizeName trims, NFC-normalizes and truncates on a rune boundary.
func NormalizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if len(name) <= MaxNameBytes {
		return name
	}
	cut := MaxNameBytes
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
