package credit

import (
	"time"
)

// DeductRequest is the body of POST /credits/deduct and /credits/spend.
type DeductRequest struct {
	Amount   int      `json:"amount" validate:"required,min=1,max=1000000"`
	Reason   string   `json:"reason" validate:"required,max=500,safe_text"`
	Metadata Metadata `json:"metadata"`
}

// PurchaseBody is the body of POST /credits/purchases.
type PurchaseBody struct {
	ProductID     string `json:"product_id" validate:"required,max=200"`
	Platform      string `json:"platform" validate:"required,platform"`
	TransactionID string `json:"transaction_id" validate:"required,max=200"`
	Receipt       string `json:"receipt" validate:"required"`
}

// ReferralBody is the body of POST /credits/referrals.
type ReferralBody struct {
	ReferralCode string `json:"referral_code" validate:"required,min=4,max=32"`
	ReferralType string `json:"referral_type" validate:"omitempty,referral_type"`
}

// AdminAdjustRequest is the body of admin grant/deduct.
type AdminAdjustRequest struct {
	Amount int    `json:"amount" validate:"required,min=1,max=1000000"`
	Reason string `json:"reason" validate:"required,min=3,max=500,safe_text"`
}

// RefundRequest is the body of POST /admin/credits/transactions/{id}/refund.
type RefundRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500,safe_text"`
}

// UpdatePriceRequest is the body of PATCH /admin/credits/products/{id}/price.
type UpdatePriceRequest struct {
	Price          *float64 `json:"price" validate:"required,gte=0"`
	LocalizedPrice *string  `json:"localized_price" validate:"omitempty,max=50"`
}

// SetActiveRequest is the body of PATCH /admin/credits/products/{id}/active.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// CleanupRequest is the optional body of POST /admin/credits/maintenance/cleanup.
type CleanupRequest struct {
	RetentionHours int `json:"retention_hours" validate:"omitempty,min=1"`
}

// BalanceResponse is the user-facing balance view.
type BalanceResponse struct {
	Balance         int        `json:"balance"`
	LastUpdated     time.Time  `json:"last_updated"`
	LastFreeCredit  *time.Time `json:"last_free_credit,omitempty"`
	DailyStreakDays int        `json:"daily_streak_days"`
}

// BalanceResponseFrom maps a Balance to its response form.
func BalanceResponseFrom(b Balance) BalanceResponse {
	return BalanceResponse{
		Balance:         b.TotalCredits,
		LastUpdated:     b.LastUpdated,
		LastFreeCredit:  b.LastFreeCredit,
		DailyStreakDays: b.DailyStreakDays,
	}
}

// MutationResponse is returned by every balance-changing endpoint.
type MutationResponse struct {
	Transaction Transaction `json:"transaction"`
	Balance     int         `json:"balance"`
}

// ReferralResponse is returned by POST /credits/referrals.
type ReferralResponse struct {
	Referral      Referral `json:"referral"`
	CreditsEarned int      `json:"credits_earned"`
	Balance       int      `json:"balance"`
}

// ProductResponse adds the credited total to a product.
type ProductResponse struct {
	Product
	TotalCredits int `json:"total_credits"`
}

func productResponses(products []Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, ProductResponse{Product: p, TotalCredits: PurchaseCredits(p)})
	}
	return out
}
