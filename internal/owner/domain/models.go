package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Owner is an organization account that uploads invoices.
type Owner struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Username  string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"username"`
	Email     string       `gorm:"type:varchar(255)" json:"email"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Owner) TableName() string { return "owners" }
