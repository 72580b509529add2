package model

import (
	"time"

	"gorm.io/datatypes"
)

// TransitionLog journals every instance state transition for dashboards and
// incident forensics. Written asynchronously; never read on the hot path.
type TransitionLog struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID     string         `gorm:"index:idx_trans_trace;size:36" json:"trace_id"`
	InstanceID  string         `gorm:"index:idx_trans_instance;size:36;not null" json:"instance_id"`
	CharacterID int64          `gorm:"index:idx_trans_char" json:"character_id"`
	Source      string         `gorm:"size:16" json:"source"` // quest | challenge
	FromStatus  string         `gorm:"size:16" json:"from_status"`
	ToStatus    string         `gorm:"size:16" json:"to_status"`
	Reason      string         `gorm:"size:64" json:"reason"`
	Detail      datatypes.JSON `json:"detail"`
	CreatedAt   time.Time      `gorm:"index:idx_trans_created;autoCreateTime:milli" json:"created_at"`
}
