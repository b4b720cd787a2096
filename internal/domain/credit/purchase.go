package credit

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mwork/credits-api/internal/pkg/logger"
	"github.com/mwork/credits-api/internal/pkg/storage"
)

// purchaseBonusPercent is the extra credit granted on every pack.
const purchaseBonusPercent = 10

// PurchaseRequest is a store purchase to be credited. TransactionID is the
// store's transaction identifier and the idempotency key.
type PurchaseRequest struct {
	UserID        uuid.UUID
	ProductID     string
	Platform      Platform
	TransactionID string
	Receipt       string
}

// PurchaseResult is returned by a successful purchase.
type PurchaseResult struct {
	Transaction  Transaction     `json:"transaction"`
	Balance      Balance         `json:"balance"`
	Receipt      PurchaseReceipt `json:"receipt"`
	CreditsAdded int             `json:"credits_added"`
}

// PurchaseCredits is what a pack is worth: base plus floor(base * 10%),
// where base includes the pack's own bonus credits.
func PurchaseCredits(p Product) int {
	base := p.Credits + p.BonusCredits
	return base + base*purchaseBonusPercent/100
}

// IsPurchaseProcessed reports whether a store transaction id has already
// been credited.
func (s *Service) IsPurchaseProcessed(ctx context.Context, transactionID string) (bool, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return false, ErrMissingField
	}
	return s.repo.IsPurchaseProcessed(ctx, transactionID)
}

// ProcessPurchase credits a verified store purchase exactly once per
// store transaction id.
func (s *Service) ProcessPurchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.UserID == uuid.Nil {
		return PurchaseResult{}, ErrInvalidUserID
	}
	if req.ProductID == "" || req.TransactionID == "" || strings.TrimSpace(req.Receipt) == "" {
		return PurchaseResult{}, ErrMissingField
	}
	if !req.Platform.Valid() {
		return PurchaseResult{}, ErrInvalidPlatform
	}

	product, err := s.repo.GetProductBySKU(ctx, req.ProductID, req.Platform)
	if err != nil {
		return PurchaseResult{}, err
	}
	if !product.IsActive {
		return PurchaseResult{}, ErrProductNotFound
	}

	ok, err := s.verifier.Verify(ctx, req.Receipt, req.Platform)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).
			Str("user_id", req.UserID.String()).
			Str("platform", string(req.Platform)).
			Msg("receipt verification error")
		return PurchaseResult{}, ErrVerificationFailed
	}
	if !ok {
		return PurchaseResult{}, ErrVerificationFailed
	}

	processed, err := s.repo.IsPurchaseProcessed(ctx, req.TransactionID)
	if err != nil {
		return PurchaseResult{}, err
	}
	if processed {
		return PurchaseResult{}, ErrPurchaseAlreadyProcessed
	}

	credits := PurchaseCredits(product)
	receipt := PurchaseReceipt{
		ID:            uuid.New(),
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		ProductID:     product.ProductID,
		Platform:      req.Platform,
		ReceiptData:   req.Receipt,
		IsVerified:    true,
		CreditsAdded:  credits,
		ProcessedAt:   s.now().UTC(),
	}

	txn, bal, err := s.repo.RecordPurchase(ctx, receipt, LedgerEntry{
		UserID:      req.UserID,
		Amount:      credits,
		Type:        TransactionTypePurchase,
		ReferenceID: strPtr(req.TransactionID),
		Description: strPtr("Purchased " + product.Name),
		Metadata: Metadata{
			"product_id":    product.ProductID,
			"platform":      string(req.Platform),
			"base_credits":  product.Credits + product.BonusCredits,
			"bonus_credits": credits - (product.Credits + product.BonusCredits),
		},
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	s.logChange(ctx, txn, bal)
	s.archiveReceipt(ctx, receipt)
	s.publish(ctx, EventPurchaseCompleted, txn, bal)

	return PurchaseResult{Transaction: txn, Balance: bal, Receipt: receipt, CreditsAdded: credits}, nil
}

// archiveReceipt keeps the raw receipt for disputes. The purchase is already
// committed, so failures are only logged.
func (s *Service) archiveReceipt(ctx context.Context, receipt PurchaseReceipt) {
	if s.archive == nil {
		return
	}
	key, err := storage.ReceiptKey(string(receipt.Platform), receipt.TransactionID)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("receipt not archived")
		return
	}
	// Receipts are write-once; a copy from an earlier attempt stays.
	if ok, err := s.archive.Exists(ctx, key); err == nil && ok {
		return
	}
	if err := s.archive.Put(ctx, key, []byte(receipt.ReceiptData), "text/plain"); err != nil {
		logger.FromContext(ctx).Warn().Err(err).
			Str("transaction_id", receipt.TransactionID).
			Msg("failed to archive receipt")
	}
}

// GetArchivedReceipt returns the raw receipt archived for a store purchase.
func (s *Service) GetArchivedReceipt(ctx context.Context, platform Platform, transactionID string) ([]byte, error) {
	if !platform.Valid() {
		return nil, ErrInvalidPlatform
	}
	if s.archive == nil {
		return nil, ErrReceiptNotArchived
	}
	key, err := storage.ReceiptKey(string(platform), transactionID)
	if err != nil {
		return nil, ErrMissingField
	}
	data, err := s.archive.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReceiptNotArchived
	}
	if err != nil {
		return nil, wrapInternal("get archived receipt", err)
	}
	return data, nil
}
