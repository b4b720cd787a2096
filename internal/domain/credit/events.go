package credit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/credits-api/internal/pkg/logger"
)

// EventType names a balance-affecting event pushed to clients.
type EventType string

const (
	EventBalanceChanged    EventType = "credits:balance_changed"
	EventDailyBonusClaimed EventType = "credits:daily_bonus_claimed"
	EventPurchaseCompleted EventType = "credits:purchase_completed"
	EventReferralRewarded  EventType = "credits:referral_rewarded"
)

// Event is emitted after a balance change has been committed.
type Event struct {
	Type            EventType       `json:"type"`
	UserID          uuid.UUID       `json:"user_id"`
	Balance         int             `json:"balance"`
	Delta           int             `json:"delta"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	TransactionType TransactionType `json:"transaction_type"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// EventPublisher delivers credit events. Publishing is best effort: a
// failure is logged and never rolls back the ledger write.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

type wsUserSender interface {
	SendToUserJSON(userID uuid.UUID, payload any) error
}

// WSPublisher pushes credit events to the user's websocket connections.
type WSPublisher struct {
	sender wsUserSender
}

// NewWSPublisher creates a WS-backed event publisher.
func NewWSPublisher(sender wsUserSender) *WSPublisher {
	return &WSPublisher{sender: sender}
}

func (p *WSPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.sender == nil {
		return nil
	}

	payload := map[string]interface{}{
		"type": string(event.Type),
		"data": event,
	}
	return p.sender.SendToUserJSON(event.UserID, payload)
}

func (s *Service) publish(ctx context.Context, eventType EventType, txn Transaction, bal Balance) {
	event := Event{
		Type:            eventType,
		UserID:          txn.UserID,
		Balance:         bal.TotalCredits,
		Delta:           txn.Amount,
		TransactionID:   txn.ID,
		TransactionType: txn.Type,
		OccurredAt:      s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.FromContext(ctx).Warn().Err(err).
			Str("user_id", txn.UserID.String()).
			Str("event", string(eventType)).
			Msg("failed to publish credit event")
	}
}
