package combat

import (
	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

// VictimRadius approximates a character's hurtbox.
const VictimRadius = 0.5

// Collider is the weapon's damage volume for the current frame.
type Collider struct {
	Center types.Vec3
	Radius float64
}

func (c Collider) Touches(p types.Vec3) bool {
	return p.Sub(c.Center).Len() <= c.Radius+VictimRadius
}

// HitTracker remembers which victims one attack instance already damaged, so
// a swing that stays in contact across frames lands once per victim.
type HitTracker struct {
	attacker types.NetworkID
	active   bool
	hit      map[types.NetworkID]struct{}
}

// Begin opens a new attack instance for attacker.
func (h *HitTracker) Begin(attacker types.NetworkID) {
	h.attacker = attacker
	h.active = true
	h.hit = make(map[types.NetworkID]struct{})
}

// End closes the instance; further registrations are refused.
func (h *HitTracker) End() {
	h.active = false
	h.hit = nil
}

func (h *HitTracker) Active() bool { return h.active }

// Register reports true the first time victim is hit in this instance.
// Self-hits are refused.
func (h *HitTracker) Register(victim types.NetworkID) bool {
	if !h.active || victim == h.attacker {
		return false
	}
	if _, seen := h.hit[victim]; seen {
		return false
	}
	h.hit[victim] = struct{}{}
	return true
}

// Detect runs the contact test of col against candidates and returns the new
// victims of the tracker's current instance.
func Detect(h *HitTracker, col Collider, candidates []*character.Character) []*character.Character {
	var victims []*character.Character
	for _, c := range candidates {
		if c == nil || !col.Touches(c.Position()) {
			continue
		}
		if h.Register(c.ID()) {
			victims = append(victims, c)
		}
	}
	return victims
}
