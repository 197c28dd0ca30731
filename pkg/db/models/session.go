package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// Session is one dining occupancy of a table. At most one open session per
// table is enforced by the ux_sessions_open_table partial unique index.
type Session struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	TableID     uuid.UUID                 `gorm:"column:table_id;type:uuid;not null;index"`
	ClientID    uuid.UUID                 `gorm:"column:client_id;type:uuid;not null"`
	Status      enums.SessionStatus       `gorm:"column:status;type:session_status;not null;default:'open'"`
	CloseReason *enums.SessionCloseReason `gorm:"column:close_reason;type:text"`
	OpenedAt    time.Time                 `gorm:"column:opened_at;not null"`
	ClosedAt    *time.Time                `gorm:"column:closed_at"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	if s.OpenedAt.IsZero() {
		s.OpenedAt = time.Now().UTC()
	}
	return nil
}
