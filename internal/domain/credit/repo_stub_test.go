package credit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository used by service and handler tests.
type memRepo struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]*Balance
	txs       []Transaction
	receipts  map[string]PurchaseReceipt
	referrals map[uuid.UUID]Referral
	codes     map[uuid.UUID]ReferralCode
	products  map[uuid.UUID]Product
	bonuses   []DailyBonus

	// failApply makes the next write fail with the given error.
	failApply error
	clock     func() time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		balances:  make(map[uuid.UUID]*Balance),
		receipts:  make(map[string]PurchaseReceipt),
		referrals: make(map[uuid.UUID]Referral),
		codes:     make(map[uuid.UUID]ReferralCode),
		products:  make(map[uuid.UUID]Product),
		clock:     time.Now,
	}
}

func (m *memRepo) ensure(userID uuid.UUID) *Balance {
	b, ok := m.balances[userID]
	if !ok {
		b = &Balance{UserID: userID, LastUpdated: m.clock()}
		m.balances[userID] = b
	}
	return b
}

func (m *memRepo) setBalance(userID uuid.UUID, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(userID).TotalCredits = credits
}

func (m *memRepo) GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ensure(userID), nil
}

func (m *memRepo) applyLocked(entry LedgerEntry) (Transaction, Balance, error) {
	if m.failApply != nil {
		err := m.failApply
		m.failApply = nil
		return Transaction{}, Balance{}, err
	}
	if !entry.Type.Valid() {
		return Transaction{}, Balance{}, ErrInvalidTransactionType
	}
	b := m.ensure(entry.UserID)
	next := b.TotalCredits + entry.Amount
	if next < 0 {
		if entry.RequireFunds {
			return Transaction{}, Balance{}, ErrInsufficientCredits
		}
		next = 0
	}
	applied := next - b.TotalCredits
	meta := Metadata{}
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	if applied != entry.Amount {
		meta["requested_amount"] = entry.Amount
	}
	b.TotalCredits = next
	b.LastUpdated = m.clock()

	now := m.clock()
	txn := Transaction{
		ID:          uuid.New(),
		UserID:      entry.UserID,
		Amount:      applied,
		Type:        entry.Type,
		ReferenceID: entry.ReferenceID,
		Description: entry.Description,
		Metadata:    meta,
		Status:      StatusCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.txs = append(m.txs, txn)
	return txn, *b, nil
}

func (m *memRepo) ApplyTransaction(ctx context.Context, entry LedgerEntry) (Transaction, Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(entry)
}

func (m *memRepo) RecordDailyBonus(ctx context.Context, claim BonusClaim) (Transaction, Balance, DailyBonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.ensure(claim.Entry.UserID)
	switch {
	case b.LastFreeCredit == nil && claim.ExpectedLastClaim == nil:
	case b.LastFreeCredit != nil && claim.ExpectedLastClaim != nil && b.LastFreeCredit.Equal(*claim.ExpectedLastClaim):
	default:
		return Transaction{}, Balance{}, DailyBonus{}, ErrBonusNotAvailable
	}

	txn, _, err := m.applyLocked(claim.Entry)
	if err != nil {
		return Transaction{}, Balance{}, DailyBonus{}, err
	}
	claimed := claim.ClaimedAt
	b.LastFreeCredit = &claimed
	b.DailyStreakDays = claim.StreakDays

	bonus := DailyBonus{
		ID:            uuid.New(),
		UserID:        claim.Entry.UserID,
		CreditsEarned: claim.Entry.Amount,
		StreakDays:    claim.StreakDays,
		ClaimedAt:     claim.ClaimedAt,
		NextBonusAt:   claim.NextBonusAt,
	}
	m.bonuses = append(m.bonuses, bonus)
	return txn, *b, bonus, nil
}

func (m *memRepo) IsPurchaseProcessed(ctx context.Context, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.receipts[transactionID]
	return ok, nil
}

func (m *memRepo) RecordPurchase(ctx context.Context, receipt PurchaseReceipt, entry LedgerEntry) (Transaction, Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[receipt.TransactionID]; ok {
		return Transaction{}, Balance{}, ErrPurchaseAlreadyProcessed
	}
	txn, bal, err := m.applyLocked(entry)
	if err != nil {
		return Transaction{}, Balance{}, err
	}
	m.receipts[receipt.TransactionID] = receipt
	return txn, bal, nil
}

func (m *memRepo) HasBeenReferred(ctx context.Context, refereeID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.referrals[refereeID]
	return ok, nil
}

func (m *memRepo) RecordReferral(ctx context.Context, referral Referral, refereeEntry, referrerEntry LedgerEntry) (ReferralOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.referrals[referral.RefereeUserID]; ok {
		return ReferralOutcome{}, ErrAlreadyReferred
	}
	out := ReferralOutcome{Referral: referral}
	var err error
	if out.RefereeTx, out.RefereeBalance, err = m.applyLocked(refereeEntry); err != nil {
		return ReferralOutcome{}, err
	}
	if out.ReferrerTx, out.ReferrerBalance, err = m.applyLocked(referrerEntry); err != nil {
		return ReferralOutcome{}, err
	}
	m.referrals[referral.RefereeUserID] = referral
	return out, nil
}

func (m *memRepo) GetReferralCode(ctx context.Context, userID uuid.UUID) (*ReferralCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memRepo) CreateReferralCode(ctx context.Context, userID uuid.UUID, code string) (ReferralCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[userID]; ok {
		return c, nil
	}
	for _, c := range m.codes {
		if c.Code == code {
			return ReferralCode{}, errCodeTaken
		}
	}
	c := ReferralCode{UserID: userID, Code: code, CreatedAt: m.clock()}
	m.codes[userID] = c
	return c, nil
}

func (m *memRepo) FindReferralCode(ctx context.Context, code string) (ReferralCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.Code == code {
			return c, nil
		}
	}
	return ReferralCode{}, ErrInvalidReferralCode
}

func (m *memRepo) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.ID == id {
			return t, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (m *memRepo) newestFirst(match func(Transaction) bool) []Transaction {
	out := make([]Transaction, 0)
	for i := len(m.txs) - 1; i >= 0; i-- {
		if match(m.txs[i]) {
			out = append(out, m.txs[i])
		}
	}
	return out
}

func window(txs []Transaction, limit, offset int) []Transaction {
	if offset >= len(txs) {
		return []Transaction{}
	}
	end := offset + limit
	if end > len(txs) {
		end = len(txs)
	}
	return txs[offset:end]
}

func (m *memRepo) ListTransactions(ctx context.Context, userID uuid.UUID, p Pagination) ([]Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.newestFirst(func(t Transaction) bool { return t.UserID == userID })
	return window(all, p.Limit, p.Offset), len(all), nil
}

func (m *memRepo) SearchTransactions(ctx context.Context, f SearchFilters) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.newestFirst(func(t Transaction) bool {
		if f.UserID != nil && t.UserID != *f.UserID {
			return false
		}
		if f.Type != nil && t.Type != *f.Type {
			return false
		}
		if f.Status != nil && t.Status != *f.Status {
			return false
		}
		return true
	})
	return window(all, f.Limit, f.Offset), nil
}

func (m *memRepo) RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	return m.SearchTransactions(ctx, SearchFilters{UserID: &userID, Limit: limit})
}

func (m *memRepo) RefundTransaction(ctx context.Context, id uuid.UUID, compensate func(Transaction) (LedgerEntry, error)) (Transaction, Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.txs {
		if t.ID != id {
			continue
		}
		if t.Status != StatusCompleted || t.Type == TransactionTypeRefund {
			return Transaction{}, Balance{}, ErrTransactionNotRefundable
		}
		entry, err := compensate(t)
		if err != nil {
			return Transaction{}, Balance{}, err
		}
		m.txs[i].Status = StatusRefunded
		return m.applyLocked(entry)
	}
	return Transaction{}, Balance{}, ErrTransactionNotFound
}

func (m *memRepo) ListProducts(ctx context.Context, platform *Platform, activeOnly bool) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0)
	for _, p := range m.products {
		if platform != nil && p.Platform != *platform {
			continue
		}
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (m *memRepo) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *memRepo) GetProductBySKU(ctx context.Context, sku string, platform Platform) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ProductID == sku && p.Platform == platform {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (m *memRepo) UpsertProduct(ctx context.Context, p Product) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.products {
		if existing.ProductID == p.ProductID && existing.Platform == p.Platform {
			p.ID = id
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *memRepo) UpdateProductPrice(ctx context.Context, id uuid.UUID, price float64, localized *string) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	p.Price = price
	if localized != nil {
		p.LocalizedPrice = localized
	}
	m.products[id] = p
	return p, nil
}

func (m *memRepo) SetProductActive(ctx context.Context, id uuid.UUID, active bool) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	p.IsActive = active
	m.products[id] = p
	return p, nil
}

func (m *memRepo) CleanupExpiredTransactions(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.txs[:0]
	var deleted int64
	for _, t := range m.txs {
		stale := t.Status == StatusPending || t.Status == StatusFailed || t.Status == StatusCancelled
		if stale && t.CreatedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	m.txs = kept
	return deleted, nil
}

func (m *memRepo) ledgerSum(userID uuid.UUID) int {
	sum := 0
	for _, t := range m.txs {
		if t.UserID == userID && (t.Status == StatusCompleted || t.Status == StatusRefunded) {
			sum += t.Amount
		}
	}
	if sum < 0 {
		return 0
	}
	return sum
}

func (m *memRepo) RecalculateUserBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.ensure(userID)
	b.TotalCredits = m.ledgerSum(userID)
	return *b, nil
}

func (m *memRepo) ListBalanceDrift(ctx context.Context, limit int) ([]BalanceDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BalanceDrift, 0)
	for id, b := range m.balances {
		if sum := m.ledgerSum(id); sum != b.TotalCredits {
			out = append(out, BalanceDrift{UserID: id, TotalCredits: b.TotalCredits, LedgerSum: sum})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// fixedClock returns a controllable clock.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService() (*Service, *memRepo, *fixedClock) {
	clock := &fixedClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	repo.clock = clock.Now
	svc := NewService(repo, StubVerifier{Accept: true})
	svc.now = clock.Now
	return svc, repo, clock
}
