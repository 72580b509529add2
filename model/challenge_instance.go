package model

import (
	"time"

	"gorm.io/datatypes"
)

// ChallengeInstance is a period-scoped challenge issued to a character.
// PeriodKey pins the instance to one daily/weekly/seasonal window; the
// rollover sweep fails anything whose key no longer matches the current
// window.
type ChallengeInstance struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	CharacterID int64          `gorm:"index:idx_chal_char_status;not null" json:"character_id"`
	TemplateID  string         `gorm:"size:64;not null" json:"template_id"`
	Period      string         `gorm:"size:16;not null" json:"period"` // DAILY | WEEKLY | SEASONAL
	PeriodKey   string         `gorm:"index:idx_chal_period;size:16;not null" json:"period_key"`
	Status      InstanceStatus `gorm:"index:idx_chal_char_status;size:16;not null" json:"status"`
	Progress    datatypes.JSON `json:"progress"`
	Rerolls     int            `gorm:"default:0" json:"rerolls"`
	FailReason  string         `gorm:"size:32" json:"fail_reason,omitempty"`
	StartedAt   time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}
