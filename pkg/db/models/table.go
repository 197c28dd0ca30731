package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Table is a physical table provisioned by the admin surface. The lifecycle
// engine only reads it.
type Table struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Code        string    `gorm:"column:code;not null;uniqueIndex:ux_tables_code"`
	DisplayName string    `gorm:"column:display_name;not null"`
	Capacity    int       `gorm:"column:capacity;not null;default:2"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Table) TableName() string { return "dining_tables" }

func (t *Table) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
