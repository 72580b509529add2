package model

import (
	"time"

	"gorm.io/datatypes"
)

// InstanceStatus is the lifecycle state of a quest or challenge instance.
type InstanceStatus = string

const (
	StatusActive    InstanceStatus = "ACTIVE"
	StatusCompleted InstanceStatus = "COMPLETED"
	StatusFailed    InstanceStatus = "FAILED"
	StatusAbandoned InstanceStatus = "ABANDONED"
)

// Terminal reports whether a status admits no further transitions.
func Terminal(s InstanceStatus) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAbandoned
}

// QuestInstance is one character's attempt at a quest template.
// Progress maps objective id → ObjectiveProgress; Flags maps flag key → flag
// value (closed scalar, see engine/quest). Both become immutable once Status
// is terminal.
type QuestInstance struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	CharacterID  int64          `gorm:"index:idx_quest_char_tpl_status;not null" json:"character_id"`
	TemplateID   string         `gorm:"index:idx_quest_char_tpl_status;size:64;not null" json:"template_id"`
	Status       InstanceStatus `gorm:"index:idx_quest_char_tpl_status;size:16;not null" json:"status"`
	BranchNode   string         `gorm:"size:64" json:"branch_node"`
	DialogueNode string         `gorm:"size:64" json:"dialogue_node"`
	Progress     datatypes.JSON `json:"progress"`
	Flags        datatypes.JSON `json:"flags"`
	FailReason   string         `gorm:"size:32" json:"fail_reason,omitempty"`
	StartedAt    time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
}
