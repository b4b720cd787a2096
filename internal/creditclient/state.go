// Package creditclient is a Go SDK for the user-facing credit routes. A
// Client talks HTTP and feeds a Store, a session-owned state container whose
// transitions are the pure Reduce function.
package creditclient

import (
	"github.com/mwork/credits-api/internal/domain/credit"
)

// State is the client-side view of one user's credits.
type State struct {
	Balance      *credit.BalanceResponse
	Transactions []credit.Transaction
	Total        int
	DailyBonus   *credit.DailyBonusStatus
	LastPurchase *credit.PurchaseResult
	LastError    *APIError
}

// Action is a state transition. The concrete types below are the only
// implementations.
type Action interface {
	isAction()
}

type (
	// BalanceLoaded replaces the balance.
	BalanceLoaded struct{ Balance credit.BalanceResponse }
	// TransactionsLoaded replaces the transaction page.
	TransactionsLoaded struct {
		Transactions []credit.Transaction
		Total        int
	}
	// DailyBonusLoaded replaces the daily bonus status.
	DailyBonusLoaded struct{ Status credit.DailyBonusStatus }
	// BonusClaimed applies a successful daily bonus claim.
	BonusClaimed struct{ Result credit.DailyBonusResult }
	// Debited applies a successful deduct or spend.
	Debited struct{ Result credit.MutationResponse }
	// PurchaseCompleted applies a successful purchase.
	PurchaseCompleted struct{ Result credit.PurchaseResult }
	// ReferralApplied applies a redeemed referral code.
	ReferralApplied struct{ Result credit.ReferralResponse }
	// Failed records the last error without touching the data.
	Failed struct{ Err *APIError }
	// Reset clears everything, e.g. on logout.
	Reset struct{}
)

func (BalanceLoaded) isAction()      {}
func (TransactionsLoaded) isAction() {}
func (DailyBonusLoaded) isAction()   {}
func (BonusClaimed) isAction()       {}
func (Debited) isAction()            {}
func (PurchaseCompleted) isAction()  {}
func (ReferralApplied) isAction()    {}
func (Failed) isAction()             {}
func (Reset) isAction()              {}

// Reduce returns the state after applying a. It never mutates s; slices are
// copied before they are changed.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case BalanceLoaded:
		b := a.Balance
		s.Balance = &b
		s.LastError = nil

	case TransactionsLoaded:
		s.Transactions = append([]credit.Transaction(nil), a.Transactions...)
		s.Total = a.Total
		s.LastError = nil

	case DailyBonusLoaded:
		st := a.Status
		s.DailyBonus = &st
		s.LastError = nil

	case BonusClaimed:
		b := credit.BalanceResponseFrom(a.Result.Balance)
		s.Balance = &b
		s = prepend(s, a.Result.Transaction)
		next := a.Result.Bonus.NextBonusAt
		s.DailyBonus = &credit.DailyBonusStatus{
			CanClaim:      false,
			NextBonusAt:   &next,
			CurrentStreak: a.Result.Bonus.StreakDays,
			NextCredits:   credit.DailyBonusCredits(a.Result.Bonus.StreakDays),
		}
		s.LastError = nil

	case Debited:
		s = withBalance(s, a.Result.Balance)
		s = prepend(s, a.Result.Transaction)
		s.LastError = nil

	case PurchaseCompleted:
		res := a.Result
		b := credit.BalanceResponseFrom(res.Balance)
		s.Balance = &b
		s = prepend(s, res.Transaction)
		s.LastPurchase = &res
		s.LastError = nil

	case ReferralApplied:
		s = withBalance(s, a.Result.Balance)
		s.LastError = nil

	case Failed:
		s.LastError = a.Err

	case Reset:
		return State{}
	}
	return s
}

func withBalance(s State, total int) State {
	var b credit.BalanceResponse
	if s.Balance != nil {
		b = *s.Balance
	}
	b.Balance = total
	s.Balance = &b
	return s
}

func prepend(s State, txn credit.Transaction) State {
	txs := make([]credit.Transaction, 0, len(s.Transactions)+1)
	txs = append(txs, txn)
	s.Transactions = append(txs, s.Transactions...)
	s.Total++
	return s
}
