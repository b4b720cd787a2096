package credit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func tx(amount int, typ TransactionType, status TransactionStatus, at time.Time) Transaction {
	return Transaction{ID: uuid.New(), Amount: amount, Type: typ, Status: status, CreatedAt: at}
}

func TestAggregateTransactions(t *testing.T) {
	may := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	june := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

	txs := []Transaction{
		tx(110, TransactionTypePurchase, StatusCompleted, may),
		tx(10, TransactionTypeDailyBonus, StatusCompleted, may),
		tx(-30, TransactionTypeUsage, StatusCompleted, june),
		tx(50, TransactionTypeAdminGrant, StatusCompleted, june),
		tx(40, TransactionTypePurchase, StatusRefunded, june),
		tx(-40, TransactionTypeRefund, StatusCompleted, june),
		tx(999, TransactionTypePurchase, StatusPending, june),
		tx(999, TransactionTypePurchase, StatusFailed, june),
	}

	got := AggregateTransactions(txs, AnalyticsRequest{})
	if got.TotalEarned != 160 || got.TotalSpent != 70 || got.Net != 90 {
		t.Fatalf("earned=%d spent=%d net=%d", got.TotalEarned, got.TotalSpent, got.Net)
	}
	if got.TransactionCount != 5 {
		t.Fatalf("expected 5 counted rows, got %d", got.TransactionCount)
	}
	if _, ok := got.ByType[TransactionTypeAdminGrant]; ok {
		t.Fatal("admin rows counted without IncludeAdmin")
	}
	if p := got.ByType[TransactionTypePurchase]; p.Count != 2 || p.Amount != 150 {
		t.Fatalf("unexpected purchase totals: %+v", p)
	}
	if len(got.ByMonth) != 2 || got.ByMonth[0].Month != "2024-05" || got.ByMonth[1].Month != "2024-06" {
		t.Fatalf("unexpected months: %+v", got.ByMonth)
	}
	if got.ByMonth[1].Spent != 70 || got.ByMonth[1].Earned != 40 {
		t.Fatalf("unexpected june totals: %+v", got.ByMonth[1])
	}

	withAdmin := AggregateTransactions(txs, AnalyticsRequest{IncludeAdmin: true})
	if withAdmin.TotalEarned != 210 || withAdmin.TransactionCount != 6 {
		t.Fatalf("with admin: earned=%d count=%d", withAdmin.TotalEarned, withAdmin.TransactionCount)
	}
}

func TestAggregateTransactionsWindow(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		tx(10, TransactionTypeDailyBonus, StatusCompleted, base.Add(-time.Hour)),
		tx(12, TransactionTypeDailyBonus, StatusCompleted, base.Add(time.Hour)),
		tx(14, TransactionTypeDailyBonus, StatusCompleted, base.Add(72*time.Hour)),
	}
	from := base
	to := base.Add(48 * time.Hour)

	got := AggregateTransactions(txs, AnalyticsRequest{From: &from, To: &to})
	if got.TotalEarned != 12 || got.TransactionCount != 1 {
		t.Fatalf("earned=%d count=%d", got.TotalEarned, got.TransactionCount)
	}
}

func TestAggregateTransactionsEmpty(t *testing.T) {
	got := AggregateTransactions(nil, AnalyticsRequest{})
	if got.ByType == nil || got.ByMonth == nil {
		t.Fatal("empty aggregates should still have non-nil collections")
	}
	if got.Net != 0 || got.TransactionCount != 0 {
		t.Fatalf("unexpected totals: %+v", got)
	}
}

func TestGetCreditAnalyticsTruncated(t *testing.T) {
	svc, repo, _ := newTestService()
	userID := uuid.New()
	for i := 0; i < analyticsFetchLimit+5; i++ {
		_, _, err := repo.ApplyTransaction(context.Background(), LedgerEntry{UserID: userID, Amount: 1, Type: TransactionTypeDailyBonus})
		mustNoErr(t, err)
	}

	got, err := svc.GetCreditAnalytics(context.Background(), AnalyticsRequest{UserID: userID})
	mustNoErr(t, err)
	if !got.Truncated || got.TotalEarned != analyticsFetchLimit {
		t.Fatalf("truncated=%v earned=%d", got.Truncated, got.TotalEarned)
	}

	exact := uuid.New()
	for i := 0; i < analyticsFetchLimit; i++ {
		_, _, err := repo.ApplyTransaction(context.Background(), LedgerEntry{UserID: exact, Amount: 1, Type: TransactionTypeDailyBonus})
		mustNoErr(t, err)
	}
	got, err = svc.GetCreditAnalytics(context.Background(), AnalyticsRequest{UserID: exact})
	mustNoErr(t, err)
	if got.Truncated || got.TotalEarned != analyticsFetchLimit || got.TransactionCount != analyticsFetchLimit {
		t.Fatalf("full page without overflow: truncated=%v earned=%d count=%d", got.Truncated, got.TotalEarned, got.TransactionCount)
	}

	if _, err := svc.GetCreditAnalytics(context.Background(), AnalyticsRequest{}); err != ErrInvalidUserID {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}
