package entitlements

import (
	"strings"

	"github.com/subforge/subforge/app/models"
)

type Plan string

const (
	PlanFree         Plan = "free"
	PlanBasic        Plan = "basic"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// priceToPlan maps Paddle price IDs to the plan they grant. Keep in sync with
// the catalog configured in the Paddle dashboard.
var priceToPlan = map[string]Plan{
	"pri_01h9ztd4j58jrvwhbpdv99qpgq": PlanBasic,
	"pri_01h9ztdy6y4tm0vkrdataf3rbr": PlanProfessional,
	"pri_01h9zte7sz93y8r55v2x157swg": PlanEnterprise,
}

// PlanForPrice returns the plan a price grants, PlanFree for unknown prices.
func PlanForPrice(priceID string) Plan {
	if plan, ok := priceToPlan[strings.TrimSpace(priceID)]; ok {
		return plan
	}
	return PlanFree
}

// PlanForSubscription computes the effective plan. Only active and trialing
// subscriptions grant paid entitlements.
func PlanForSubscription(sub *models.Subscription) Plan {
	if sub == nil {
		return PlanFree
	}
	switch sub.Status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing:
		return PlanForPrice(sub.PriceID)
	default:
		return PlanFree
	}
}

// Features lists what a plan unlocks, used in API responses.
func Features(plan Plan) []string {
	switch plan {
	case PlanEnterprise:
		return []string{"api_access", "priority_support", "team_seats", "audit_log"}
	case PlanProfessional:
		return []string{"api_access", "priority_support", "team_seats"}
	case PlanBasic:
		return []string{"api_access"}
	default:
		return []string{}
	}
}
