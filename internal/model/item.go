package model

import "time"

// Attribute names used by the game collection.
const (
	AttrLevel           AttributeName = "level"
	AttrEnergy          AttributeName = "energy"
	AttrStrength        AttributeName = "strength"
	AttrStamina         AttributeName = "stamina"
	AttrZone            AttributeName = "zone"
	AttrElementAffinity AttributeName = "element_affinity"
	AttrExperience      AttributeName = "experience"
	AttrLootTier        AttributeName = "loot_tier"
	AttrGPSBonus        AttributeName = "gps_bonus"
	AttrWeatherAffinity AttributeName = "weather_affinity"
)

// GameSchema returns the attribute schema of a game collection.
func GameSchema(collection string) Schema {
	return NewSchema(collection, map[AttributeName]ValueKind{
		AttrLevel:           KindUint,
		AttrEnergy:          KindUint,
		AttrStrength:        KindUint,
		AttrStamina:         KindUint,
		AttrZone:            KindText,
		AttrElementAffinity: KindText,
		AttrExperience:      KindUint,
		AttrLootTier:        KindText,
		AttrGPSBonus:        KindText,
		AttrWeatherAffinity: KindText,
	})
}

// SnapshotAttributes is the fixed, ordered set captured by a snapshot.
var SnapshotAttributes = []AttributeName{
	AttrLevel,
	AttrEnergy,
	AttrStrength,
	AttrStamina,
	AttrZone,
	AttrElementAffinity,
	AttrLootTier,
}

// BaseAttributes is the initial attribute set written at item creation.
type BaseAttributes struct {
	Level           uint64 `json:"level"`
	Energy          uint64 `json:"energy"`
	Strength        uint64 `json:"strength"`
	Stamina         uint64 `json:"stamina"`
	Zone            string `json:"zone"`
	ElementAffinity string `json:"element_affinity"`
}

// DefaultBaseAttributes returns the attributes of a freshly minted item.
func DefaultBaseAttributes() BaseAttributes {
	return BaseAttributes{
		Level:    1,
		Energy:   100,
		Strength: 10,
		Stamina:  10,
	}
}

// ActionState is the per-item session state owned by the game engine.
type ActionState struct {
	Collection   string    `json:"collection"`
	ItemID       uint64    `json:"item_id"`
	LastActionAt time.Time `json:"last_action_at"`
	DailySteps   uint64    `json:"daily_steps"`
	QuestID      string    `json:"quest_id,omitempty"`
}
