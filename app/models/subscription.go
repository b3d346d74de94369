package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPaused   = "paused"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPastDue  = "past_due"
)

// Subscription mirrors a Paddle subscription's lifecycle status. At most one
// row exists per subscription_id; a customer can accumulate historical rows
// and "current" is the most recently created active-like one.
type Subscription struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"subscription_id"`
	Status         string    `gorm:"type:varchar(32);not null;default:'active';index" json:"subscription_status"`
	PriceID        string    `gorm:"type:varchar(191);not null;default:''" json:"price_id"`
	ProductID      string    `gorm:"type:varchar(191);not null;default:''" json:"product_id"`
	CustomerID     string    `gorm:"type:varchar(191);not null;index" json:"customer_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// KnownSubscriptionStatus reports whether status is one of the enumerated
// lifecycle values. Events carrying anything else must not mutate state.
func KnownSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPaused,
		SubscriptionStatusCanceled, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
