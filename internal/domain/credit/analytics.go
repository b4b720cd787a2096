package credit

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// analyticsFetchLimit caps how many of the newest rows analytics reads.
// Results over a larger history are marked Truncated.
const analyticsFetchLimit = 1000

// AnalyticsRequest selects the window to aggregate. Nil bounds are open.
type AnalyticsRequest struct {
	UserID       uuid.UUID
	From         *time.Time
	To           *time.Time
	IncludeAdmin bool
}

// TypeTotals aggregates one transaction type.
type TypeTotals struct {
	Count  int `json:"count"`
	Amount int `json:"amount"`
}

// MonthTotals aggregates one calendar month (UTC), keyed "2006-01".
type MonthTotals struct {
	Month  string `json:"month"`
	Earned int    `json:"earned"`
	Spent  int    `json:"spent"`
	Count  int    `json:"count"`
}

// CreditAnalytics is the aggregate view over a user's ledger.
type CreditAnalytics struct {
	UserID           uuid.UUID                      `json:"user_id"`
	From             *time.Time                     `json:"from,omitempty"`
	To               *time.Time                     `json:"to,omitempty"`
	TotalEarned      int                            `json:"total_earned"`
	TotalSpent       int                            `json:"total_spent"`
	Net              int                            `json:"net"`
	TransactionCount int                            `json:"transaction_count"`
	ByType           map[TransactionType]TypeTotals `json:"by_type"`
	ByMonth          []MonthTotals                  `json:"by_month"`
	Truncated        bool                           `json:"truncated"`
}

// GetCreditAnalytics aggregates the newest transactions of a user.
func (s *Service) GetCreditAnalytics(ctx context.Context, req AnalyticsRequest) (CreditAnalytics, error) {
	if req.UserID == uuid.Nil {
		return CreditAnalytics{}, ErrInvalidUserID
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return CreditAnalytics{}, ErrInvalidDateRange
	}

	// One extra row tells a full page apart from a longer history.
	txs, err := s.repo.RecentTransactions(ctx, req.UserID, analyticsFetchLimit+1)
	if err != nil {
		return CreditAnalytics{}, err
	}

	truncated := len(txs) > analyticsFetchLimit
	if truncated {
		txs = txs[:analyticsFetchLimit]
	}

	result := AggregateTransactions(txs, req)
	result.Truncated = truncated
	return result, nil
}

// AggregateTransactions folds txs into totals. Only rows that moved the
// balance (completed, or completed then refunded) are counted.
func AggregateTransactions(txs []Transaction, req AnalyticsRequest) CreditAnalytics {
	out := CreditAnalytics{
		UserID: req.UserID,
		From:   req.From,
		To:     req.To,
		ByType: make(map[TransactionType]TypeTotals),
	}
	months := make(map[string]*MonthTotals)

	for _, tx := range txs {
		if tx.Status != StatusCompleted && tx.Status != StatusRefunded {
			continue
		}
		if !req.IncludeAdmin && tx.Type.IsAdmin() {
			continue
		}
		if req.From != nil && tx.CreatedAt.Before(*req.From) {
			continue
		}
		if req.To != nil && tx.CreatedAt.After(*req.To) {
			continue
		}

		out.TransactionCount++
		tt := out.ByType[tx.Type]
		tt.Count++
		tt.Amount += tx.Amount
		out.ByType[tx.Type] = tt

		key := tx.CreatedAt.UTC().Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &MonthTotals{Month: key}
			months[key] = m
		}
		m.Count++

		if tx.Amount >= 0 {
			out.TotalEarned += tx.Amount
			m.Earned += tx.Amount
		} else {
			out.TotalSpent += -tx.Amount
			m.Spent += -tx.Amount
		}
	}

	out.Net = out.TotalEarned - out.TotalSpent
	out.ByMonth = make([]MonthTotals, 0, len(months))
	for _, m := range months {
		out.ByMonth = append(out.ByMonth, *m)
	}
	sort.Slice(out.ByMonth, func(i, j int) bool { return out.ByMonth[i].Month < out.ByMonth[j].Month })

	return out
}
