package services

import (
	"context"

	"github.com/google/uuid"
)

// Notification kinds sent after a ledger mutation commits.
const (
	NotifyPurchaseCompleted = "purchase_completed"
	NotifySaleCompleted     = "sale_completed"
	NotifyPurchaseRefunded  = "purchase_refunded"
	NotifySaleRefunded      = "sale_refunded"
	NotifyPayoutRequested   = "payout_requested"
	NotifyPayoutCancelled   = "payout_cancelled"
	NotifyPayoutCompleted   = "payout_completed"
	NotifyPayoutFailed      = "payout_failed"
)

// Notifier hands a message off for asynchronous delivery. Delivery is
// at-most-once and best effort: implementations log failures and never return them.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind string, payload map[string]any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, uuid.UUID, string, map[string]any) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
