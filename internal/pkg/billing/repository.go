package billing

import (
	"time"

	"github.com/subforge/subforge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing sync service. The
// service is the only writer of customer/subscription rows; route handlers
// read through it as well.
type Repository interface {
	UpsertCustomer(customer *models.Customer) error
	GetCustomerByEmail(email string) (*models.Customer, error)
	SetCustomerUser(customerID, userID string) error

	UpsertSubscription(sub *models.Subscription) error
	GetSubscriptionBySubscriptionID(subscriptionID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(subscriptionID, status string) (int64, error)
	LatestSubscriptionByCustomer(customerID string, statuses []string) (*models.Subscription, error)
	ListSubscriptionsByCustomer(customerID string) ([]models.Subscription, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertCustomer(customer *models.Customer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"email",
			"updated_at",
		}),
	}).Create(customer).Error; err != nil {
		return err
	}

	// Ensure ID and timestamps are populated after upsert.
	return r.db.Where("customer_id = ?", customer.CustomerID).First(customer).Error
}

func (r *gormRepository) GetCustomerByEmail(email string) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.Where("email = ?", email).Order("created_at DESC").First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) SetCustomerUser(customerID, userID string) error {
	return r.db.Model(&models.Customer{}).
		Where("customer_id = ?", customerID).
		Updates(map[string]interface{}{"user_id": userID, "updated_at": time.Now()}).Error
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"price_id",
			"product_id",
			"customer_id",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	return r.db.Where("subscription_id = ?", sub.SubscriptionID).First(sub).Error
}

func (r *gormRepository) GetSubscriptionBySubscriptionID(subscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.Where("subscription_id = ?", subscriptionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) UpdateSubscriptionStatus(subscriptionID, status string) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) LatestSubscriptionByCustomer(customerID string, statuses []string) (*models.Subscription, error) {
	var s models.Subscription
	q := r.db.Where("customer_id = ?", customerID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at DESC").First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) ListSubscriptionsByCustomer(customerID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("customer_id = ?", customerID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
