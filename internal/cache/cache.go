package cache

import (
	"context"
	"time"
)

// ReceiptCache keeps the provider's id for each delivered message so a
// later webhook (delivery report, inbound reply) can be correlated without
// a store round-trip. Best effort: a cache failure never fails the send.
type ReceiptCache interface {
	StoreReceipt(ctx context.Context, contactID, messageID int64, remoteMessageID string, sentAt time.Time) error
}
