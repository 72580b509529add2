package model

import (
	"time"

	"gorm.io/datatypes"
)

// Character holds the slice of player state the engine reads for requirement
// checks and reward snapshots. The full character sheet lives in the game
// service; this table is kept in sync by account events upstream.
type Character struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string         `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Level      int            `gorm:"default:1" json:"level"`
	Gold       int64          `gorm:"default:0" json:"gold"`
	FactionRep datatypes.JSON `json:"faction_rep"` // {"ashen_order": 120, ...}
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
