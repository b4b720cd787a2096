package credit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/credits-api/internal/pkg/logger"
)

// Authorization for everything in this file is enforced by the admin router.

// UserCreditSummary is the admin view of one user.
type UserCreditSummary struct {
	Balance            Balance       `json:"balance"`
	RecentTransactions []Transaction `json:"recent_transactions"`
}

const adminSummaryRecent = 10

// GetUserSummary returns a user's balance and latest transactions.
func (s *Service) GetUserSummary(ctx context.Context, userID uuid.UUID) (UserCreditSummary, error) {
	bal, err := s.GetBalance(ctx, userID)
	if err != nil {
		return UserCreditSummary{}, err
	}
	recent, err := s.repo.RecentTransactions(ctx, userID, adminSummaryRecent)
	if err != nil {
		return UserCreditSummary{}, err
	}
	return UserCreditSummary{Balance: bal, RecentTransactions: recent}, nil
}

// AdminAddCredits grants credits on behalf of an administrator.
func (s *Service) AdminAddCredits(ctx context.Context, adminID, userID uuid.UUID, amount int, reason string) (Transaction, Balance, error) {
	return s.adminAdjust(ctx, adminID, userID, amount, TransactionTypeAdminGrant, reason)
}

// AdminDeductCredits removes credits on behalf of an administrator. Like
// DeductCredits the balance floors at zero.
func (s *Service) AdminDeductCredits(ctx context.Context, adminID, userID uuid.UUID, amount int, reason string) (Transaction, Balance, error) {
	return s.adminAdjust(ctx, adminID, userID, amount, TransactionTypeAdminDeduct, reason)
}

func (s *Service) adminAdjust(ctx context.Context, adminID, userID uuid.UUID, amount int, txType TransactionType, reason string) (Transaction, Balance, error) {
	if userID == uuid.Nil || adminID == uuid.Nil {
		return Transaction{}, Balance{}, ErrInvalidUserID
	}
	if amount <= 0 {
		return Transaction{}, Balance{}, ErrInvalidAmount
	}

	delta := amount
	if txType == TransactionTypeAdminDeduct {
		delta = -amount
	}

	txn, bal, err := s.apply(ctx, EventBalanceChanged, LedgerEntry{
		UserID:      userID,
		Amount:      delta,
		Type:        txType,
		Description: cleanText(reason),
		Metadata:    Metadata{"admin_id": adminID.String()},
	})
	if err != nil {
		return Transaction{}, Balance{}, err
	}

	logger.FromContext(ctx).Info().
		Str("admin_id", adminID.String()).
		Str("user_id", userID.String()).
		Int("amount", txn.Amount).
		Str("transaction_type", string(txType)).
		Msg("admin credit adjustment")
	return txn, bal, nil
}

// RefundTransaction reverses a completed transaction: the original moves to
// refunded and a compensating refund row restores the balance.
func (s *Service) RefundTransaction(ctx context.Context, adminID, transactionID uuid.UUID, reason string) (Transaction, Balance, error) {
	if adminID == uuid.Nil {
		return Transaction{}, Balance{}, ErrInvalidUserID
	}

	refund, bal, err := s.repo.RefundTransaction(ctx, transactionID, func(original Transaction) (LedgerEntry, error) {
		if original.Amount == 0 {
			return LedgerEntry{}, ErrTransactionNotRefundable
		}
		description := cleanText(reason)
		if description == nil {
			description = strPtr("Refund of " + string(original.Type))
		}
		return LedgerEntry{
			UserID:      original.UserID,
			Amount:      -original.Amount,
			Type:        TransactionTypeRefund,
			ReferenceID: strPtr(original.ID.String()),
			Description: description,
			Metadata: Metadata{
				"admin_id":                adminID.String(),
				"original_transaction_id": original.ID.String(),
				"original_type":           string(original.Type),
			},
		}, nil
	})
	if err != nil {
		return Transaction{}, Balance{}, err
	}

	s.logChange(ctx, refund, bal)
	s.publish(ctx, EventBalanceChanged, refund, bal)
	return refund, bal, nil
}

// RecalculateUserBalance resets a balance to its ledger sum.
func (s *Service) RecalculateUserBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	if userID == uuid.Nil {
		return Balance{}, ErrInvalidUserID
	}
	bal, err := s.repo.RecalculateUserBalance(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	logger.FromContext(ctx).Info().
		Str("user_id", userID.String()).
		Int("balance", bal.TotalCredits).
		Msg("balance recalculated")
	return bal, nil
}

// CleanupExpiredTransactions removes non-ledger rows older than retention.
func (s *Service) CleanupExpiredTransactions(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrInvalidDateRange
	}
	return s.repo.CleanupExpiredTransactions(ctx, s.now().Add(-retention))
}

// ScanBalanceDrift lists users whose counter disagrees with the ledger and,
// when fix is set, recalculates them.
func (s *Service) ScanBalanceDrift(ctx context.Context, limit int, fix bool) ([]BalanceDrift, error) {
	drift, err := s.repo.ListBalanceDrift(ctx, limit)
	if err != nil {
		return nil, err
	}
	if !fix {
		return drift, nil
	}

	for _, d := range drift {
		logger.FromContext(ctx).Warn().
			Str("user_id", d.UserID.String()).
			Int("total_credits", d.TotalCredits).
			Int("ledger_sum", d.LedgerSum).
			Msg("balance drift detected")
		if _, err := s.RecalculateUserBalance(ctx, d.UserID); err != nil {
			return drift, err
		}
	}
	return drift, nil
}

// ListProducts returns the active catalog for a platform.
func (s *Service) ListProducts(ctx context.Context, platform Platform) ([]Product, error) {
	if !platform.Valid() {
		return nil, ErrInvalidPlatform
	}
	if products, ok := s.cache.Get(ctx, platform); ok {
		return products, nil
	}

	products, err := s.repo.ListProducts(ctx, &platform, true)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, platform, products)
	return products, nil
}

// AdminUpdateProductPrice changes a product's price.
func (s *Service) AdminUpdateProductPrice(ctx context.Context, productID uuid.UUID, price float64, localizedPrice *string) (Product, error) {
	if price < 0 {
		return Product{}, ErrInvalidAmount
	}
	p, err := s.repo.UpdateProductPrice(ctx, productID, price, localizedPrice)
	if err != nil {
		return Product{}, err
	}
	s.cache.Invalidate(ctx)
	return p, nil
}

// AdminSetProductActive toggles whether a product is sold.
func (s *Service) AdminSetProductActive(ctx context.Context, productID uuid.UUID, active bool) (Product, error) {
	p, err := s.repo.SetProductActive(ctx, productID, active)
	if err != nil {
		return Product{}, err
	}
	s.cache.Invalidate(ctx)
	return p, nil
}

// UpsertProducts writes a catalog, keyed by (product_id, platform).
func (s *Service) UpsertProducts(ctx context.Context, products []Product) ([]Product, error) {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if !p.Platform.Valid() {
			return out, ErrInvalidPlatform
		}
		saved, err := s.repo.UpsertProduct(ctx, p)
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	s.cache.Invalidate(ctx)
	return out, nil
}
