package credit

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mwork/credits-api/internal/pkg/logger"
)

// ReferralReward is a referee/referrer payout pair.
type ReferralReward struct {
	Referee  int
	Referrer int
}

var referralRewards = map[ReferralType]ReferralReward{
	ReferralTypeSignup:      {Referee: 50, Referrer: 25},
	ReferralTypePurchase:    {Referee: 20, Referrer: 30},
	ReferralTypeAchievement: {Referee: 15, Referrer: 15},
}

// RewardFor returns the payout split for a referral type.
func RewardFor(t ReferralType) (ReferralReward, bool) {
	r, ok := referralRewards[t]
	return r, ok
}

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeAttempts = 5
)

// ReferralRequest is a referee redeeming a referrer's code.
type ReferralRequest struct {
	RefereeUserID uuid.UUID
	ReferralCode  string
	ReferralType  ReferralType
}

// NormalizeReferralCode upper-cases and trims a user-typed code.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newReferralCode() string {
	b := uuid.New()
	code := make([]byte, referralCodeLength)
	for i := range code {
		code[i] = referralCodeAlphabet[int(b[i])%len(referralCodeAlphabet)]
	}
	return string(code)
}

// ProcessReferral pays both sides of a referral. A referee can be referred
// only once, whatever code is presented.
func (s *Service) ProcessReferral(ctx context.Context, req ReferralRequest) (ReferralOutcome, error) {
	if req.RefereeUserID == uuid.Nil {
		return ReferralOutcome{}, ErrInvalidUserID
	}
	reward, ok := RewardFor(req.ReferralType)
	if !ok {
		return ReferralOutcome{}, ErrInvalidReferralType
	}

	referred, err := s.repo.HasBeenReferred(ctx, req.RefereeUserID)
	if err != nil {
		return ReferralOutcome{}, err
	}
	if referred {
		return ReferralOutcome{}, ErrAlreadyReferred
	}

	code := NormalizeReferralCode(req.ReferralCode)
	if code == "" {
		return ReferralOutcome{}, ErrInvalidReferralCode
	}
	owner, err := s.repo.FindReferralCode(ctx, code)
	if err != nil {
		return ReferralOutcome{}, err
	}
	if owner.UserID == req.RefereeUserID {
		return ReferralOutcome{}, ErrSelfReferral
	}

	referral := Referral{
		ID:             uuid.New(),
		ReferrerUserID: owner.UserID,
		RefereeUserID:  req.RefereeUserID,
		ReferralCode:   code,
		ReferralType:   req.ReferralType,
		CreditsEarned:  reward.Referrer,
		RefereeCredits: reward.Referee,
		ProcessedAt:    s.now().UTC(),
	}
	meta := Metadata{
		"referral_id":   referral.ID.String(),
		"referral_type": string(req.ReferralType),
	}

	out, err := s.repo.RecordReferral(ctx, referral,
		LedgerEntry{
			UserID:      req.RefereeUserID,
			Amount:      reward.Referee,
			Type:        TransactionTypeReferral,
			ReferenceID: strPtr(referral.ID.String()),
			Description: strPtr("Referral bonus"),
			Metadata:    withRole(meta, "referee"),
		},
		LedgerEntry{
			UserID:      owner.UserID,
			Amount:      reward.Referrer,
			Type:        TransactionTypeReferral,
			ReferenceID: strPtr(referral.ID.String()),
			Description: strPtr("Referral reward"),
			Metadata:    withRole(meta, "referrer"),
		},
	)
	if err != nil {
		return ReferralOutcome{}, err
	}

	s.logChange(ctx, out.RefereeTx, out.RefereeBalance)
	s.logChange(ctx, out.ReferrerTx, out.ReferrerBalance)
	s.publish(ctx, EventReferralRewarded, out.RefereeTx, out.RefereeBalance)
	s.publish(ctx, EventReferralRewarded, out.ReferrerTx, out.ReferrerBalance)

	return out, nil
}

func withRole(meta Metadata, role string) Metadata {
	out := make(Metadata, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["role"] = role
	return out
}

// GetReferralCode returns the user's code, creating one on first use.
func (s *Service) GetReferralCode(ctx context.Context, userID uuid.UUID) (ReferralCode, error) {
	if userID == uuid.Nil {
		return ReferralCode{}, ErrInvalidUserID
	}

	existing, err := s.repo.GetReferralCode(ctx, userID)
	if err != nil {
		return ReferralCode{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := s.repo.CreateReferralCode(ctx, userID, newReferralCode())
		if errors.Is(err, errCodeTaken) {
			continue
		}
		if err != nil {
			return ReferralCode{}, err
		}
		return code, nil
	}

	logger.FromContext(ctx).Error().Str("user_id", userID.String()).Msg("could not allocate a unique referral code")
	return ReferralCode{}, wrapInternal("create referral code", errCodeTaken)
}
