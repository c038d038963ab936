package character

import (
	"math"

	"github.com/DoyleJ11/coop-session-server/internal/replication"
)

// TakeDamage is the resolution path for a processed damage effect. It runs
// only on the owning peer and does nothing once the character is dead.
func (c *Character) TakeDamage(amount int) (bool, error) {
	if !c.IsLocalOwner() {
		return false, ErrNotOwner
	}
	if c.IsDead() || amount <= 0 {
		return false, nil
	}
	return c.setHealth(c.Health() - float64(amount))
}

// SetMaxHealth changes the pool and clamps the current value into it.
func (c *Character) SetMaxHealth(max float64) error {
	if !c.IsLocalOwner() {
		return ErrNotOwner
	}
	if max < 0 {
		max = 0
	}
	if err := c.vars.Write(replication.FieldMaxHealth, replication.Number(max)); err != nil {
		return err
	}
	if c.Health() > max {
		_, err := c.setHealth(max)
		return err
	}
	return nil
}

// Revive clears the death latch and refills health.
func (c *Character) Revive() error {
	if !c.IsLocalOwner() {
		return ErrNotOwner
	}
	if err := c.vars.Write(replication.FieldIsDead, replication.Bool(false)); err != nil {
		return err
	}
	_, err := c.setHealth(c.MaxHealth())
	return err
}

// ConsumeStamina spends stamina, reporting false when there was none left.
func (c *Character) ConsumeStamina(amount float64) (bool, error) {
	if !c.IsLocalOwner() {
		return false, ErrNotOwner
	}
	cur := c.Stamina()
	if cur <= 0 {
		return false, nil
	}
	next := math.Max(0, cur-amount)
	return true, c.vars.Write(replication.FieldCurrentStamina, replication.Number(next))
}

// setHealth is the only writer of FieldCurrentHealth. The value is clamped to
// [0, max]; crossing from above zero to zero latches isDead.
func (c *Character) setHealth(v float64) (bool, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false, nil
	}
	max := c.MaxHealth()
	v = math.Min(math.Max(v, 0), max)

	prev := c.Health()
	if v == prev {
		return false, nil
	}
	if err := c.vars.Write(replication.FieldCurrentHealth, replication.Number(v)); err != nil {
		return false, err
	}
	if prev > 0 && v <= 0 && !c.IsDead() {
		if err := c.vars.Write(replication.FieldIsDead, replication.Bool(true)); err != nil {
			return true, err
		}
	}
	return true, nil
}
