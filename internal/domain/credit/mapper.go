package credit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Row types mirror the snake_case schema. Everything crossing the storage
// boundary goes through the to*/from* functions below.

type transactionRow struct {
	ID              uuid.UUID      `db:"id"`
	UserID          uuid.UUID      `db:"user_id"`
	Amount          int            `db:"amount"`
	TransactionType string         `db:"transaction_type"`
	ReferenceID     sql.NullString `db:"reference_id"`
	Description     sql.NullString `db:"description"`
	Metadata        []byte         `db:"metadata"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type balanceRow struct {
	UserID          uuid.UUID    `db:"user_id"`
	TotalCredits    int          `db:"total_credits"`
	LastUpdated     time.Time    `db:"last_updated"`
	LastFreeCredit  sql.NullTime `db:"last_free_credit"`
	DailyStreakDays int          `db:"daily_streak_days"`
}

type productRow struct {
	ID             uuid.UUID      `db:"id"`
	ProductID      string         `db:"product_id"`
	Name           string         `db:"name"`
	Description    sql.NullString `db:"description"`
	Credits        int            `db:"credits"`
	BonusCredits   int            `db:"bonus_credits"`
	Price          float64        `db:"price"`
	Currency       string         `db:"currency"`
	LocalizedPrice sql.NullString `db:"localized_price"`
	Platform       string         `db:"platform"`
	IsPopular      bool           `db:"is_popular"`
	IsActive       bool           `db:"is_active"`
	SortOrder      int            `db:"sort_order"`
	Metadata       []byte         `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

type referralCodeRow struct {
	UserID    uuid.UUID `db:"user_id"`
	Code      string    `db:"code"`
	CreatedAt time.Time `db:"created_at"`
}

type driftRow struct {
	UserID       uuid.UUID `db:"user_id"`
	TotalCredits int       `db:"total_credits"`
	LedgerSum    int       `db:"ledger_sum"`
}

func toTransaction(r transactionRow) Transaction {
	return Transaction{
		ID:          r.ID,
		UserID:      r.UserID,
		Amount:      r.Amount,
		Type:        TransactionType(r.TransactionType),
		ReferenceID: nullStringPtr(r.ReferenceID),
		Description: nullStringPtr(r.Description),
		Metadata:    decodeMetadata(r.Metadata),
		Status:      TransactionStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toTransactions(rows []transactionRow) []Transaction {
	out := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTransaction(r))
	}
	return out
}

func toBalance(r balanceRow) Balance {
	b := Balance{
		UserID:          r.UserID,
		TotalCredits:    r.TotalCredits,
		LastUpdated:     r.LastUpdated,
		DailyStreakDays: r.DailyStreakDays,
	}
	if r.LastFreeCredit.Valid {
		t := r.LastFreeCredit.Time
		b.LastFreeCredit = &t
	}
	return b
}

func toProduct(r productRow) Product {
	return Product{
		ID:             r.ID,
		ProductID:      r.ProductID,
		Name:           r.Name,
		Description:    nullStringPtr(r.Description),
		Credits:        r.Credits,
		BonusCredits:   r.BonusCredits,
		Price:          r.Price,
		Currency:       r.Currency,
		LocalizedPrice: nullStringPtr(r.LocalizedPrice),
		Platform:       Platform(r.Platform),
		IsPopular:      r.IsPopular,
		IsActive:       r.IsActive,
		SortOrder:      r.SortOrder,
		Metadata:       decodeMetadata(r.Metadata),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toProducts(rows []productRow) []Product {
	out := make([]Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, toProduct(r))
	}
	return out
}

func toReferralCode(r referralCodeRow) ReferralCode {
	return ReferralCode{UserID: r.UserID, Code: r.Code, CreatedAt: r.CreatedAt}
}

func toDrift(rows []driftRow) []BalanceDrift {
	out := make([]BalanceDrift, 0, len(rows))
	for _, r := range rows {
		out = append(out, BalanceDrift{UserID: r.UserID, TotalCredits: r.TotalCredits, LedgerSum: r.LedgerSum})
	}
	return out
}

// encodeMetadata always yields a JSON object so the column never holds null.
func encodeMetadata(m Metadata) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func decodeMetadata(b []byte) Metadata {
	m := Metadata{}
	if len(b) == 0 {
		return m
	}
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return Metadata{}
	}
	return m
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
