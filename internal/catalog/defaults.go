package catalog

import "github.com/DoyleJ11/coop-session-server/internal/character"

const (
	ActionLightAttack   = 1
	ActionHeavyAttack   = 2
	ActionChargedAttack = 3
	ActionRunningAttack = 4

	ItemUnarmed       = 0
	ItemStraightSword = 100
	ItemGreatAxe      = 101
	ItemSorcererStaff = 200
)

// Default returns the catalog shipped with the server.
func Default() Catalog {
	return Catalog{
		Characters: NewCharacters(
			&Descriptor{Name: "Knight", Prefab: "player_knight", Stats: character.Stats{Vitality: 12, Endurance: 11, Dexterity: 10, Intelligence: 9}},
			&Descriptor{Name: "Sorcerer", Prefab: "player_sorcerer", Stats: character.Stats{Vitality: 9, Endurance: 10, Dexterity: 11, Intelligence: 15}},
			&Descriptor{Name: "Cleric", Prefab: "player_cleric", Stats: character.Stats{Vitality: 11, Endurance: 10, Dexterity: 9, Intelligence: 12}},
			&Descriptor{Name: "Warrior", Prefab: "player_warrior", Stats: character.Stats{Vitality: 14, Endurance: 12, Dexterity: 13, Intelligence: 7}},
		),
		Items: Items{
			ItemUnarmed:       {ID: ItemUnarmed, Name: "Unarmed", Physical: 5, Poise: 5},
			ItemStraightSword: {ID: ItemStraightSword, Name: "Straight Sword", Physical: 25, Poise: 15},
			ItemGreatAxe:      {ID: ItemGreatAxe, Name: "Great Axe", Physical: 40, Poise: 35},
			ItemSorcererStaff: {ID: ItemSorcererStaff, Name: "Sorcerer Staff", Physical: 8, Magic: 30, Poise: 5},
		},
		Actions: Actions{
			ActionLightAttack:   {ID: ActionLightAttack, Name: "light_attack", Attack: character.AttackLight01, StaminaCost: 10},
			ActionHeavyAttack:   {ID: ActionHeavyAttack, Name: "heavy_attack", Attack: character.AttackHeavy01, StaminaCost: 20},
			ActionChargedAttack: {ID: ActionChargedAttack, Name: "charged_attack", Attack: character.AttackCharged01, StaminaCost: 30},
			ActionRunningAttack: {ID: ActionRunningAttack, Name: "running_attack", Attack: character.AttackRunning, StaminaCost: 15},
		},
	}
}
