package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Customer links an external Paddle customer identity to an application user.
// UserID is the Supabase user UUID and stays nil until the customer can be
// associated with a signed-up account (usually by email).
type Customer struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"customer_id" validate:"required"`
	Email      string    `gorm:"type:varchar(200);not null;index" json:"email" validate:"required,email"`
	UserID     *string   `gorm:"type:varchar(64);default:null;index" json:"user_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Customer) Validate() error {
	v := validator.New()

	return v.Struct(c)
}
