package credit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/credits-api/internal/pkg/logger"
)

const (
	dailyBonusBase         = 10
	dailyBonusPerStreakDay = 2
	dailyBonusStreakCap    = 14

	// DailyBonusWindow is the minimum gap between two claims.
	DailyBonusWindow = 20 * time.Hour
	// StreakResetAfter is how long a streak survives without a claim.
	StreakResetAfter = 48 * time.Hour
)

// DailyBonusCredits is the payout for a claim made with the given carried
// streak: 10 + min(streak*2, 14).
func DailyBonusCredits(streak int) int {
	if streak < 0 {
		streak = 0
	}
	extra := streak * dailyBonusPerStreakDay
	if extra > dailyBonusStreakCap {
		extra = dailyBonusStreakCap
	}
	return dailyBonusBase + extra
}

// carriedStreak is the streak a claim made at now builds on.
func carriedStreak(bal Balance, now time.Time) int {
	if bal.LastFreeCredit == nil || now.Sub(*bal.LastFreeCredit) > StreakResetAfter {
		return 0
	}
	return bal.DailyStreakDays
}

func canClaim(bal Balance, now time.Time) bool {
	return bal.LastFreeCredit == nil || now.Sub(*bal.LastFreeCredit) > DailyBonusWindow
}

// DailyBonusResult is returned by a successful claim.
type DailyBonusResult struct {
	Transaction Transaction `json:"transaction"`
	Balance     Balance     `json:"balance"`
	Bonus       DailyBonus  `json:"bonus"`
}

// GetDailyBonusStatus reports eligibility and what the next claim pays.
func (s *Service) GetDailyBonusStatus(ctx context.Context, userID uuid.UUID) (DailyBonusStatus, error) {
	bal, err := s.GetBalance(ctx, userID)
	if err != nil {
		return DailyBonusStatus{}, err
	}

	now := s.now()
	streak := carriedStreak(bal, now)
	status := DailyBonusStatus{
		CanClaim:      canClaim(bal, now),
		CurrentStreak: streak,
		NextCredits:   DailyBonusCredits(streak),
	}
	if bal.LastFreeCredit != nil {
		next := bal.LastFreeCredit.Add(DailyBonusWindow)
		status.NextBonusAt = &next
	}
	return status, nil
}

// ClaimDailyBonus pays the daily bonus. A concurrent second claim loses the
// optimistic check in the repository and gets ErrBonusNotAvailable.
func (s *Service) ClaimDailyBonus(ctx context.Context, userID uuid.UUID) (DailyBonusResult, error) {
	bal, err := s.GetBalance(ctx, userID)
	if err != nil {
		return DailyBonusResult{}, err
	}

	now := s.now().UTC()
	if !canClaim(bal, now) {
		return DailyBonusResult{}, ErrBonusNotAvailable
	}

	streak := carriedStreak(bal, now)
	credits := DailyBonusCredits(streak)
	newStreak := streak + 1

	txn, newBal, bonus, err := s.repo.RecordDailyBonus(ctx, BonusClaim{
		Entry: LedgerEntry{
			UserID:      userID,
			Amount:      credits,
			Type:        TransactionTypeDailyBonus,
			Description: strPtr("Daily bonus"),
			Metadata:    Metadata{"streak_days": newStreak},
		},
		ExpectedLastClaim: bal.LastFreeCredit,
		ClaimedAt:         now,
		NextBonusAt:       now.Add(DailyBonusWindow),
		StreakDays:        newStreak,
	})
	if err != nil {
		return DailyBonusResult{}, err
	}

	s.logChange(ctx, txn, newBal)
	logger.FromContext(ctx).Info().
		Str("user_id", userID.String()).
		Int("streak_days", newStreak).
		Int("credits", credits).
		Msg("daily bonus claimed")
	s.publish(ctx, EventDailyBonusClaimed, txn, newBal)

	return DailyBonusResult{Transaction: txn, Balance: newBal, Bonus: bonus}, nil
}
