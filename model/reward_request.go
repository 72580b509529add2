package model

import (
	"time"

	"gorm.io/datatypes"
)

// RewardRequest is the settled, immutable reward payload for one completed
// instance. InstanceID doubles as the idempotency key: the unique index makes
// a second settlement for the same instance a read of this row, never a
// second emission.
type RewardRequest struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	InstanceID   string         `gorm:"uniqueIndex;size:36;not null" json:"instance_id"`
	CharacterID  int64          `gorm:"index:idx_reward_char;not null" json:"character_id"`
	Source       string         `gorm:"size:16;not null" json:"source"` // quest | challenge
	Payload      datatypes.JSON `json:"payload"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DispatchedAt *time.Time     `json:"dispatched_at"`
}
