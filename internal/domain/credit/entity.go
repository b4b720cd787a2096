package credit

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TransactionTypePurchase    TransactionType = "purchase"
	TransactionTypeDailyBonus  TransactionType = "daily_bonus"
	TransactionTypeReferral    TransactionType = "referral"
	TransactionTypeAdminGrant  TransactionType = "admin_grant"
	TransactionTypeAdminDeduct TransactionType = "admin_deduct"
	TransactionTypeRefund      TransactionType = "refund"
	TransactionTypeUsage       TransactionType = "usage"
	TransactionTypeExpiry      TransactionType = "expiry"
)

// TransactionTypes lists every valid type in display order.
var TransactionTypes = []TransactionType{
	TransactionTypePurchase,
	TransactionTypeDailyBonus,
	TransactionTypeReferral,
	TransactionTypeAdminGrant,
	TransactionTypeAdminDeduct,
	TransactionTypeRefund,
	TransactionTypeUsage,
	TransactionTypeExpiry,
}

func (t TransactionType) Valid() bool {
	for _, v := range TransactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the type is an administrative adjustment.
func (t TransactionType) IsAdmin() bool {
	return t == TransactionTypeAdminGrant || t == TransactionTypeAdminDeduct
}

// TransactionStatus is the lifecycle state of a ledger row.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
	StatusRefunded  TransactionStatus = "refunded"
)

// Platform is the store a product is sold through.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p Platform) Valid() bool {
	return p == PlatformIOS || p == PlatformAndroid || p == PlatformWeb
}

// ReferralType selects the payout split for a referral.
type ReferralType string

const (
	ReferralTypeSignup      ReferralType = "signup"
	ReferralTypePurchase    ReferralType = "purchase"
	ReferralTypeAchievement ReferralType = "achievement"
)

// Metadata is a free-form key/value bag stored as JSONB.
type Metadata map[string]interface{}

// Transaction is an immutable ledger entry. Once completed only Status may
// change, and only to refunded.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	Amount      int               `json:"amount"`
	Type        TransactionType   `json:"transaction_type"`
	ReferenceID *string           `json:"reference_id,omitempty"`
	Description *string           `json:"description,omitempty"`
	Metadata    Metadata          `json:"metadata"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Balance is the per-user running counter kept alongside the ledger.
type Balance struct {
	UserID          uuid.UUID  `json:"user_id"`
	TotalCredits    int        `json:"total_credits"`
	LastUpdated     time.Time  `json:"last_updated"`
	LastFreeCredit  *time.Time `json:"last_free_credit,omitempty"`
	DailyStreakDays int        `json:"daily_streak_days"`
}

// Product is a purchasable credit pack.
type Product struct {
	ID             uuid.UUID `json:"id"`
	ProductID      string    `json:"product_id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	Credits        int       `json:"credits"`
	BonusCredits   int       `json:"bonus_credits"`
	Price          float64   `json:"price"`
	Currency       string    `json:"currency"`
	LocalizedPrice *string   `json:"localized_price,omitempty"`
	Platform       Platform  `json:"platform"`
	IsPopular      bool      `json:"is_popular"`
	IsActive       bool      `json:"is_active"`
	SortOrder      int       `json:"sort_order"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DailyBonus is one claim record.
type DailyBonus struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	CreditsEarned int       `json:"credits_earned"`
	StreakDays    int       `json:"streak_days"`
	ClaimedAt     time.Time `json:"claimed_at"`
	NextBonusAt   time.Time `json:"next_bonus_at"`
}

// PurchaseReceipt records one processed store purchase. TransactionID is the
// idempotency key.
type PurchaseReceipt struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	ProductID     string    `json:"product_id"`
	Platform      Platform  `json:"platform"`
	ReceiptData   string    `json:"-"`
	IsVerified    bool      `json:"is_verified"`
	CreditsAdded  int       `json:"credits_added"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Referral records a processed referral. CreditsEarned is the referrer's
// share, RefereeCredits the referee's.
type Referral struct {
	ID             uuid.UUID    `json:"id"`
	ReferrerUserID uuid.UUID    `json:"referrer_user_id"`
	RefereeUserID  uuid.UUID    `json:"referee_user_id"`
	ReferralCode   string       `json:"referral_code"`
	ReferralType   ReferralType `json:"referral_type"`
	CreditsEarned  int          `json:"credits_earned"`
	RefereeCredits int          `json:"referee_credits"`
	ProcessedAt    time.Time    `json:"processed_at"`
}

// ReferralCode maps a shareable code to its owner.
type ReferralCode struct {
	UserID    uuid.UUID `json:"user_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// DailyBonusStatus describes whether a user can claim right now.
type DailyBonusStatus struct {
	CanClaim      bool       `json:"can_claim"`
	NextBonusAt   *time.Time `json:"next_bonus_at,omitempty"`
	CurrentStreak int        `json:"current_streak"`
	NextCredits   int        `json:"next_credits"`
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// SearchFilters provides admin-facing transaction filtering.
type SearchFilters struct {
	UserID      *uuid.UUID
	Type        *TransactionType
	Status      *TransactionStatus
	ReferenceID *string
	DateFrom    *time.Time
	DateTo      *time.Time
	Limit       int
	Offset      int
}

// LedgerEntry is one balance-affecting write: a completed ledger row plus
// the matching balance delta. RequireFunds turns the zero floor into a hard
// insufficient-credits failure.
type LedgerEntry struct {
	UserID       uuid.UUID
	Amount       int
	Type         TransactionType
	ReferenceID  *string
	Description  *string
	Metadata     Metadata
	RequireFunds bool
}

// BalanceDrift is a user whose counter disagrees with the ledger sum.
type BalanceDrift struct {
	UserID       uuid.UUID `json:"user_id"`
	TotalCredits int       `json:"total_credits"`
	LedgerSum    int       `json:"ledger_sum"`
}
