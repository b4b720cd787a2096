package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	queryTimeout = 3 * time.Second

	uniqueViolation = "23505"
)

// Repository is the persistence contract of the credit domain. Every method
// that changes a balance runs in a single database transaction.
type Repository interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error)
	ApplyTransaction(ctx context.Context, entry LedgerEntry) (Transaction, Balance, error)

	RecordDailyBonus(ctx context.Context, claim BonusClaim) (Transaction, Balance, DailyBonus, error)

	IsPurchaseProcessed(ctx context.Context, transactionID string) (bool, error)
	RecordPurchase(ctx context.Context, receipt PurchaseReceipt, entry LedgerEntry) (Transaction, Balance, error)

	HasBeenReferred(ctx context.Context, refereeID uuid.UUID) (bool, error)
	RecordReferral(ctx context.Context, referral Referral, refereeEntry, referrerEntry LedgerEntry) (ReferralOutcome, error)
	GetReferralCode(ctx context.Context, userID uuid.UUID) (*ReferralCode, error)
	CreateReferralCode(ctx context.Context, userID uuid.UUID, code string) (ReferralCode, error)
	FindReferralCode(ctx context.Context, code string) (ReferralCode, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]Transaction, int, error)
	SearchTransactions(ctx context.Context, filters SearchFilters) ([]Transaction, error)
	RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error)
	RefundTransaction(ctx context.Context, id uuid.UUID, compensate func(original Transaction) (LedgerEntry, error)) (Transaction, Balance, error)

	ListProducts(ctx context.Context, platform *Platform, activeOnly bool) ([]Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductBySKU(ctx context.Context, sku string, platform Platform) (Product, error)
	UpsertProduct(ctx context.Context, p Product) (Product, error)
	UpdateProductPrice(ctx context.Context, id uuid.UUID, price float64, localizedPrice *string) (Product, error)
	SetProductActive(ctx context.Context, id uuid.UUID, active bool) (Product, error)

	CleanupExpiredTransactions(ctx context.Context, olderThan time.Time) (int64, error)
	RecalculateUserBalance(ctx context.Context, userID uuid.UUID) (Balance, error)
	ListBalanceDrift(ctx context.Context, limit int) ([]BalanceDrift, error)
}

// BonusClaim is a daily bonus write. ExpectedLastClaim is the
// last_free_credit value the eligibility check was made against; the write
// fails with ErrBonusNotAvailable if another claim landed in between.
type BonusClaim struct {
	Entry             LedgerEntry
	ExpectedLastClaim *time.Time
	ClaimedAt         time.Time
	NextBonusAt       time.Time
	StreakDays        int
}

// ReferralOutcome is the committed result of a referral payout.
type ReferralOutcome struct {
	Referral        Referral
	RefereeTx       Transaction
	RefereeBalance  Balance
	ReferrerTx      Transaction
	ReferrerBalance Balance
}

// PostgresRepository implements Repository on sqlx/lib/pq.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transactionColumns = `id, user_id, amount, transaction_type, reference_id, description, metadata, status, created_at, updated_at`

const balanceColumns = `user_id, total_credits, last_updated, last_free_credit, daily_streak_days`

const productColumns = `id, product_id, name, description, credits, bonus_credits, price, currency, localized_price,
	platform, is_popular, is_active, sort_order, metadata, created_at, updated_at`

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return wrapInternal("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapInternal("commit tx", err)
	}
	return nil
}

func (r *PostgresRepository) GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx2, `
		INSERT INTO credit_balances (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return Balance{}, wrapInternal("ensure balance", err)
	}

	var row balanceRow
	if err := r.db.GetContext(ctx2, &row, `SELECT `+balanceColumns+` FROM credit_balances WHERE user_id = $1`, userID); err != nil {
		return Balance{}, wrapInternal("get balance", err)
	}
	return toBalance(row), nil
}

func (r *PostgresRepository) ApplyTransaction(ctx context.Context, entry LedgerEntry) (Transaction, Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		txn Transaction
		bal Balance
	)
	err := r.withTx(ctx2, func(tx *sqlx.Tx) error {
		var err error
		txn, bal, err = r.applyTx(ctx2, tx, entry)
		return err
	})
	return txn, bal, err
}

// lockBalance returns the caller's balance row under FOR UPDATE, creating it
// first when missing.
func (r *PostgresRepository) lockBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (balanceRow, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return balanceRow{}, wrapInternal("ensure balance", err)
	}

	var row balanceRow
	if err := tx.GetContext(ctx, &row, `SELECT `+balanceColumns+` FROM credit_balances WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return balanceRow{}, wrapInternal("lock balance", err)
	}
	return row, nil
}

// applyTx applies entry inside tx. Debits never take the counter below
// zero: the ledger row records the delta actually applied and the requested
// amount goes into metadata when the two differ.
func (r *PostgresRepository) applyTx(ctx context.Context, tx *sqlx.Tx, entry LedgerEntry) (Transaction, Balance, error) {
	current, err := r.lockBalance(ctx, tx, entry.UserID)
	if err != nil {
		return Transaction{}, Balance{}, err
	}

	next := current.TotalCredits + entry.Amount
	if next < 0 {
		if entry.RequireFunds {
			return Transaction{}, Balance{}, ErrInsufficientCredits
		}
		next = 0
	}

	applied := next - current.TotalCredits
	if applied != entry.Amount {
		meta := Metadata{}
		for k, v := range entry.Metadata {
			meta[k] = v
		}
		meta["requested_amount"] = entry.Amount
		entry.Metadata = meta
	}
	entry.Amount = applied

	var row balanceRow
	if err := tx.GetContext(ctx, &row, `
		UPDATE credit_balances
		SET total_credits = $2, last_updated = NOW()
		WHERE user_id = $1
		RETURNING `+balanceColumns, entry.UserID, next); err != nil {
		return Transaction{}, Balance{}, wrapInternal("update balance", err)
	}

	txn, err := insertLedger(ctx, tx, entry, StatusCompleted)
	if err != nil {
		return Transaction{}, Balance{}, err
	}
	return txn, toBalance(row), nil
}

func insertLedger(ctx context.Context, tx *sqlx.Tx, entry LedgerEntry, status TransactionStatus) (Transaction, error) {
	if !entry.Type.Valid() {
		return Transaction{}, ErrInvalidTransactionType
	}

	var row transactionRow
	err := tx.GetContext(ctx, &row, `
		INSERT INTO credit_transactions (
			id, user_id, amount, transaction_type, reference_id, description, metadata, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transactionColumns,
		uuid.New(), entry.UserID, entry.Amount, string(entry.Type),
		toNullString(entry.ReferenceID), toNullString(entry.Description),
		encodeMetadata(entry.Metadata), string(status))
	if err != nil {
		return Transaction{}, wrapInternal("insert transaction", err)
	}
	return toTransaction(row), nil
}

func (r *PostgresRepository) RecordDailyBonus(ctx context.Context, claim BonusClaim) (Transaction, Balance, DailyBonus, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		txn   Transaction
		bal   Balance
		bonus DailyBonus
	)
	err := r.withTx(ctx2, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx2, `
			INSERT INTO credit_balances (user_id) VALUES ($1)
			ON CONFLICT (user_id) DO NOTHING
		`, claim.Entry.UserID); err != nil {
			return wrapInternal("ensure balance", err)
		}

		expected := sql.NullTime{}
		if claim.ExpectedLastClaim != nil {
			expected = sql.NullTime{Time: *claim.ExpectedLastClaim, Valid: true}
		}

		var row balanceRow
		err := tx.GetContext(ctx2, &row, `
			UPDATE credit_balances
			SET total_credits = total_credits + $2,
				last_free_credit = $3,
				daily_streak_days = $4,
				last_updated = NOW()
			WHERE user_id = $1 AND last_free_credit IS NOT DISTINCT FROM $5::timestamptz
			RETURNING `+balanceColumns,
			claim.Entry.UserID, claim.Entry.Amount, claim.ClaimedAt, claim.StreakDays, expected)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrBonusNotAvailable
			}
			return wrapInternal("claim daily bonus", err)
		}
		bal = toBalance(row)

		txn, err = insertLedger(ctx2, tx, claim.Entry, StatusCompleted)
		if err != nil {
			return err
		}

		bonus = DailyBonus{
			ID:            uuid.New(),
			UserID:        claim.Entry.UserID,
			CreditsEarned: claim.Entry.Amount,
			StreakDays:    claim.StreakDays,
			ClaimedAt:     claim.ClaimedAt,
			NextBonusAt:   claim.NextBonusAt,
		}
		if _, err := tx.ExecContext(ctx2, `
			INSERT INTO daily_bonuses (id, user_id, credits_earned, streak_days, claimed_at, next_bonus_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, bonus.ID, bonus.UserID, bonus.CreditsEarned, bonus.StreakDays, bonus.ClaimedAt, bonus.NextBonusAt); err != nil {
			return wrapInternal("insert daily bonus", err)
		}
		return nil
	})
	return txn, bal, bonus, err
}

func (r *PostgresRepository) IsPurchaseProcessed(ctx context.Context, transactionID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	if err := r.db.GetContext(ctx2, &exists, `
		SELECT EXISTS(SELECT 1 FROM purchase_receipts WHERE transaction_id = $1)
	`, transactionID); err != nil {
		return false, wrapInternal("check purchase", err)
	}
	return exists, nil
}

func (r *PostgresRepository) RecordPurchase(ctx context.Context, receipt PurchaseReceipt, entry LedgerEntry) (Transaction, Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		txn Transaction
		bal Balance
	)
	err := r.withTx(ctx2, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx2, `
			INSERT INTO purchase_receipts (
				id, user_id, transaction_id, product_id, platform, receipt_data, is_verified, credits_added, processed_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, receipt.ID, receipt.UserID, receipt.TransactionID, receipt.ProductID, string(receipt.Platform),
			receipt.ReceiptData, receipt.IsVerified, receipt.CreditsAdded, receipt.ProcessedAt); err != nil {
			if isUniqueViolation(err, "") {
				return ErrPurchaseAlreadyProcessed
			}
			return wrapInternal("insert receipt", err)
		}

		var err error
		txn, bal, err = r.applyTx(ctx2, tx, entry)
		return err
	})
	return txn, bal, err
}

func (r *PostgresRepository) HasBeenReferred(ctx context.Context, refereeID uuid.UUID) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	if err := r.db.GetContext(ctx2, &exists, `
		SELECT EXISTS(SELECT 1 FROM referrals WHERE referee_user_id = $1)
	`, refereeID); err != nil {
		return false, wrapInternal("check referral", err)
	}
	return exists, nil
}

func (r *PostgresRepository) RecordReferral(ctx context.Context, referral Referral, refereeEntry, referrerEntry LedgerEntry) (ReferralOutcome, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out := ReferralOutcome{Referral: referral}
	err := r.withTx(ctx2, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx2, `
			INSERT INTO referrals (
				id, referrer_user_id, referee_user_id, referral_code, referral_type, credits_earned, referee_credits, processed_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, referral.ID, referral.ReferrerUserID, referral.RefereeUserID, referral.ReferralCode,
			string(referral.ReferralType), referral.CreditsEarned, referral.RefereeCredits, referral.ProcessedAt); err != nil {
			if isUniqueViolation(err, "") {
				return ErrAlreadyReferred
			}
			return wrapInternal("insert referral", err)
		}

		// Lock balances in a stable order so two crossing referrals cannot deadlock.
		var err error
		if refereeEntry.UserID.String() < referrerEntry.UserID.String() {
			if out.RefereeTx, out.RefereeBalance, err = r.applyTx(ctx2, tx, refereeEntry); err != nil {
				return err
			}
			out.ReferrerTx, out.ReferrerBalance, err = r.applyTx(ctx2, tx, referrerEntry)
			return err
		}
		if out.ReferrerTx, out.ReferrerBalance, err = r.applyTx(ctx2, tx, referrerEntry); err != nil {
			return err
		}
		out.RefereeTx, out.RefereeBalance, err = r.applyTx(ctx2, tx, refereeEntry)
		return err
	})
	if err != nil {
		return ReferralOutcome{}, err
	}
	return out, nil
}

func (r *PostgresRepository) GetReferralCode(ctx context.Context, userID uuid.UUID) (*ReferralCode, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row referralCodeRow
	err := r.db.GetContext(ctx2, &row, `SELECT user_id, code, created_at FROM referral_codes WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapInternal("get referral code", err)
	}
	code := toReferralCode(row)
	return &code, nil
}

// errCodeTaken is returned when a freshly generated code collides with
// another user's code; the service retries with a new one.
var errCodeTaken = errors.New("referral code taken")

func (r *PostgresRepository) CreateReferralCode(ctx context.Context, userID uuid.UUID, code string) (ReferralCode, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx2, `
		INSERT INTO referral_codes (user_id, code) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, code); err != nil {
		if isUniqueViolation(err, "") {
			return ReferralCode{}, errCodeTaken
		}
		return ReferralCode{}, wrapInternal("create referral code", err)
	}

	// A concurrent request may have won the insert; return whichever row exists.
	var row referralCodeRow
	if err := r.db.GetContext(ctx2, &row, `SELECT user_id, code, created_at FROM referral_codes WHERE user_id = $1`, userID); err != nil {
		return ReferralCode{}, wrapInternal("read referral code", err)
	}
	return toReferralCode(row), nil
}

func (r *PostgresRepository) FindReferralCode(ctx context.Context, code string) (ReferralCode, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row referralCodeRow
	err := r.db.GetContext(ctx2, &row, `SELECT user_id, code, created_at FROM referral_codes WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReferralCode{}, ErrInvalidReferralCode
		}
		return ReferralCode{}, wrapInternal("find referral code", err)
	}
	return toReferralCode(row), nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row transactionRow
	err := r.db.GetContext(ctx2, &row, `SELECT `+transactionColumns+` FROM credit_transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, wrapInternal("get transaction", err)
	}
	return toTransaction(row), nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]Transaction, int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	var total int
	if err := r.db.GetContext(ctx2, &total, `SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`, userID); err != nil {
		return nil, 0, wrapInternal("count transactions", err)
	}

	rows := make([]transactionRow, 0)
	err := r.db.SelectContext(ctx2, &rows, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, pagination.Offset)
	if err != nil {
		return nil, 0, wrapInternal("list transactions", err)
	}

	return toTransactions(rows), total, nil
}

func (r *PostgresRepository) SearchTransactions(ctx context.Context, filters SearchFilters) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	base := `SELECT ` + transactionColumns + ` FROM credit_transactions WHERE 1=1`
	args := make([]interface{}, 0, 8)
	idx := 1

	if filters.UserID != nil {
		base += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, *filters.UserID)
		idx++
	}
	if filters.Type != nil && *filters.Type != "" {
		base += fmt.Sprintf(" AND transaction_type = $%d", idx)
		args = append(args, string(*filters.Type))
		idx++
	}
	if filters.Status != nil && *filters.Status != "" {
		base += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(*filters.Status))
		idx++
	}
	if filters.ReferenceID != nil && *filters.ReferenceID != "" {
		base += fmt.Sprintf(" AND reference_id = $%d", idx)
		args = append(args, *filters.ReferenceID)
		idx++
	}
	if filters.DateFrom != nil {
		base += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filters.DateFrom)
		idx++
	}
	if filters.DateTo != nil {
		base += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *filters.DateTo)
		idx++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	base = strings.TrimSpace(base) + fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, filters.Offset)

	rows := make([]transactionRow, 0)
	if err := r.db.SelectContext(ctx2, &rows, base, args...); err != nil {
		return nil, wrapInternal("search transactions", err)
	}
	return toTransactions(rows), nil
}

func (r *PostgresRepository) RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	return r.SearchTransactions(ctx, SearchFilters{UserID: &userID, Limit: limit})
}

func (r *PostgresRepository) RefundTransaction(ctx context.Context, id uuid.UUID, compensate func(original Transaction) (LedgerEntry, error)) (Transaction, Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		refund Transaction
		bal    Balance
	)
	err := r.withTx(ctx2, func(tx *sqlx.Tx) error {
		var row transactionRow
		if err := tx.GetContext(ctx2, &row, `
			SELECT `+transactionColumns+` FROM credit_transactions WHERE id = $1 FOR UPDATE
		`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return wrapInternal("lock transaction", err)
		}
		original := toTransaction(row)
		if original.Status != StatusCompleted || original.Type == TransactionTypeRefund {
			return ErrTransactionNotRefundable
		}

		entry, err := compensate(original)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx2, `
			UPDATE credit_transactions SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3
		`, id, string(StatusRefunded), string(StatusCompleted)); err != nil {
			return wrapInternal("mark refunded", err)
		}

		refund, bal, err = r.applyTx(ctx2, tx, entry)
		return err
	})
	return refund, bal, err
}

func (r *PostgresRepository) ListProducts(ctx context.Context, platform *Platform, activeOnly bool) ([]Product, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + productColumns + ` FROM credit_products WHERE 1=1`
	args := make([]interface{}, 0, 1)
	if platform != nil {
		args = append(args, string(*platform))
		query += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY sort_order ASC, credits ASC"

	rows := make([]productRow, 0)
	if err := r.db.SelectContext(ctx2, &rows, query, args...); err != nil {
		return nil, wrapInternal("list products", err)
	}
	return toProducts(rows), nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row productRow
	if err := r.db.GetContext(ctx2, &row, `SELECT `+productColumns+` FROM credit_products WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, wrapInternal("get product", err)
	}
	return toProduct(row), nil
}

func (r *PostgresRepository) GetProductBySKU(ctx context.Context, sku string, platform Platform) (Product, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row productRow
	err := r.db.GetContext(ctx2, &row, `
		SELECT `+productColumns+` FROM credit_products WHERE product_id = $1 AND platform = $2
	`, sku, string(platform))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, wrapInternal("get product by sku", err)
	}
	return toProduct(row), nil
}

func (r *PostgresRepository) UpsertProduct(ctx context.Context, p Product) (Product, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	var row productRow
	err := r.db.GetContext(ctx2, &row, `
		INSERT INTO credit_products (
			id, product_id, name, description, credits, bonus_credits, price, currency, localized_price,
			platform, is_popular, is_active, sort_order, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (product_id, platform) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			credits = EXCLUDED.credits,
			bonus_credits = EXCLUDED.bonus_credits,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			localized_price = EXCLUDED.localized_price,
			is_popular = EXCLUDED.is_popular,
			is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING `+productColumns,
		p.ID, p.ProductID, p.Name, toNullString(p.Description), p.Credits, p.BonusCredits, p.Price, p.Currency,
		toNullString(p.LocalizedPrice), string(p.Platform), p.IsPopular, p.IsActive, p.SortOrder, encodeMetadata(p.Metadata))
	if err != nil {
		return Product{}, wrapInternal("upsert product", err)
	}
	return toProduct(row), nil
}

func (r *PostgresRepository) UpdateProductPrice(ctx context.Context, id uuid.UUID, price float64, localizedPrice *string) (Product, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row productRow
	err := r.db.GetContext(ctx2, &row, `
		UPDATE credit_products
		SET price = $2, localized_price = COALESCE($3, localized_price), updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns, id, price, toNullString(localizedPrice))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, wrapInternal("update product price", err)
	}
	return toProduct(row), nil
}

func (r *PostgresRepository) SetProductActive(ctx context.Context, id uuid.UUID, active bool) (Product, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row productRow
	err := r.db.GetContext(ctx2, &row, `
		UPDATE credit_products SET is_active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns, id, active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, wrapInternal("set product active", err)
	}
	return toProduct(row), nil
}

// CleanupExpiredTransactions deletes rows that never affected a balance.
// Completed and refunded rows are the ledger and are never removed.
func (r *PostgresRepository) CleanupExpiredTransactions(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		DELETE FROM credit_transactions
		WHERE status IN ($1, $2, $3) AND created_at < $4
	`, string(StatusPending), string(StatusFailed), string(StatusCancelled), olderThan)
	if err != nil {
		return 0, wrapInternal("cleanup transactions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, wrapInternal("rows affected", err)
	}
	return n, nil
}

// RecalculateUserBalance resets the counter to the ledger sum, floored at zero.
func (r *PostgresRepository) RecalculateUserBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var bal Balance
	err := r.withTx(ctx2, func(tx *sqlx.Tx) error {
		if _, err := r.lockBalance(ctx2, tx, userID); err != nil {
			return err
		}

		var row balanceRow
		if err := tx.GetContext(ctx2, &row, `
			UPDATE credit_balances
			SET total_credits = GREATEST((
					SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
					WHERE user_id = $1 AND status IN ($2, $3)
				), 0),
				last_updated = NOW()
			WHERE user_id = $1
			RETURNING `+balanceColumns, userID, string(StatusCompleted), string(StatusRefunded)); err != nil {
			return wrapInternal("recalculate balance", err)
		}
		bal = toBalance(row)
		return nil
	})
	return bal, err
}

func (r *PostgresRepository) ListBalanceDrift(ctx context.Context, limit int) ([]BalanceDrift, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows := make([]driftRow, 0)
	err := r.db.SelectContext(ctx2, &rows, `
		SELECT b.user_id, b.total_credits, GREATEST(COALESCE(l.ledger_sum, 0), 0) AS ledger_sum
		FROM credit_balances b
		LEFT JOIN (
			SELECT user_id, SUM(amount) AS ledger_sum
			FROM credit_transactions
			WHERE status IN ($1, $2)
			GROUP BY user_id
		) l ON l.user_id = b.user_id
		WHERE b.total_credits <> GREATEST(COALESCE(l.ledger_sum, 0), 0)
		ORDER BY b.last_updated DESC
		LIMIT $3
	`, string(StatusCompleted), string(StatusRefunded), limit)
	if err != nil {
		return nil, wrapInternal("list balance drift", err)
	}
	return toDrift(rows), nil
}
