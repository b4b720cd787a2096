package credit

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mwork/credits-api/internal/pkg/logger"
	"github.com/mwork/credits-api/internal/pkg/sanitize"
	"github.com/mwork/credits-api/internal/pkg/storage"
)

const maxDescriptionLength = 500

// Service owns all credit arithmetic; the repository only persists what it
// is handed.
type Service struct {
	repo      Repository
	verifier  ReceiptVerifier
	cache     ProductCache
	archive   storage.Storage
	publisher EventPublisher
	now       func() time.Time
}

// NewService creates a new credit service
func NewService(repo Repository, verifier ReceiptVerifier) *Service {
	if verifier == nil {
		verifier = StubVerifier{Accept: true}
	}
	return &Service{
		repo:      repo,
		verifier:  verifier,
		cache:     noopCache{},
		publisher: noopPublisher{},
		now:       time.Now,
	}
}

// SetProductCache enables catalog caching.
func (s *Service) SetProductCache(cache ProductCache) {
	if cache != nil {
		s.cache = cache
	}
}

// SetReceiptArchive enables raw receipt archiving after purchases commit.
func (s *Service) SetReceiptArchive(archive storage.Storage) {
	s.archive = archive
}

// SetEventPublisher sets where balance events are pushed.
func (s *Service) SetEventPublisher(publisher EventPublisher) {
	if publisher != nil {
		s.publisher = publisher
	}
}

// GetBalance returns the balance, creating an empty one on first access.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	if userID == uuid.Nil {
		return Balance{}, ErrInvalidUserID
	}
	return s.repo.GetBalance(ctx, userID)
}

// DeductCredits debits a usage charge. The balance floors at zero; callers
// that must not overdraw use SpendCredits.
func (s *Service) DeductCredits(ctx context.Context, userID uuid.UUID, amount int, reason string, metadata Metadata) (Transaction, Balance, error) {
	return s.debit(ctx, userID, amount, reason, metadata, false)
}

// SpendCredits debits a usage charge and fails with ErrInsufficientCredits
// when the balance does not cover it.
func (s *Service) SpendCredits(ctx context.Context, userID uuid.UUID, amount int, reason string, metadata Metadata) (Transaction, Balance, error) {
	return s.debit(ctx, userID, amount, reason, metadata, true)
}

func (s *Service) debit(ctx context.Context, userID uuid.UUID, amount int, reason string, metadata Metadata, requireFunds bool) (Transaction, Balance, error) {
	if userID == uuid.Nil {
		return Transaction{}, Balance{}, ErrInvalidUserID
	}
	if amount <= 0 {
		return Transaction{}, Balance{}, ErrInvalidAmount
	}

	return s.apply(ctx, EventBalanceChanged, LedgerEntry{
		UserID:       userID,
		Amount:       -amount,
		Type:         TransactionTypeUsage,
		Description:  cleanText(reason),
		Metadata:     metadata,
		RequireFunds: requireFunds,
	})
}

// AddCredits credits a user. Only credit-side types are accepted.
func (s *Service) AddCredits(ctx context.Context, userID uuid.UUID, amount int, txType TransactionType, description string, metadata Metadata) (Transaction, Balance, error) {
	if userID == uuid.Nil {
		return Transaction{}, Balance{}, ErrInvalidUserID
	}
	if amount <= 0 {
		return Transaction{}, Balance{}, ErrInvalidAmount
	}
	switch txType {
	case TransactionTypePurchase, TransactionTypeDailyBonus, TransactionTypeReferral,
		TransactionTypeAdminGrant, TransactionTypeRefund:
	default:
		return Transaction{}, Balance{}, ErrInvalidTransactionType
	}

	return s.apply(ctx, EventBalanceChanged, LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: cleanText(description),
		Metadata:    metadata,
	})
}

func (s *Service) apply(ctx context.Context, event EventType, entry LedgerEntry) (Transaction, Balance, error) {
	txn, bal, err := s.repo.ApplyTransaction(ctx, entry)
	if err != nil {
		return Transaction{}, Balance{}, err
	}
	s.logChange(ctx, txn, bal)
	s.publish(ctx, event, txn, bal)
	return txn, bal, nil
}

// ListTransactions returns paginated transaction history for a user
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, int, error) {
	if userID == uuid.Nil {
		return nil, 0, ErrInvalidUserID
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, userID, Pagination{Limit: limit, Offset: offset})
}

// GetTransaction returns one of the caller's transactions. Another user's
// transaction is reported as not found.
func (s *Service) GetTransaction(ctx context.Context, userID, id uuid.UUID) (Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if txn.UserID != userID {
		return Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

// SearchTransactions returns filtered transactions (admin use)
func (s *Service) SearchTransactions(ctx context.Context, filters SearchFilters) ([]Transaction, error) {
	if filters.Type != nil && !filters.Type.Valid() {
		return nil, ErrInvalidTransactionType
	}
	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateTo.Before(*filters.DateFrom) {
		return nil, ErrInvalidDateRange
	}
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}
	return s.repo.SearchTransactions(ctx, filters)
}

func (s *Service) logChange(ctx context.Context, txn Transaction, bal Balance) {
	logger.FromContext(ctx).Info().
		Str("user_id", txn.UserID.String()).
		Str("transaction_id", txn.ID.String()).
		Int("amount", txn.Amount).
		Str("transaction_type", string(txn.Type)).
		Int("balance", bal.TotalCredits).
		Msg("credit balance changed")
}

// cleanText trims, strips script payloads and caps free text; empty input
// yields nil so the column stays NULL.
func cleanText(s string) *string {
	s = strings.TrimSpace(sanitize.SanitizeHTML(s))
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > maxDescriptionLength {
		s = string([]rune(s)[:maxDescriptionLength])
	}
	return &s
}

func strPtr(s string) *string {
	return &s
}
