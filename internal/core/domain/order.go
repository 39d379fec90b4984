package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Order is created exactly once per (UserID, ItemID) pair and never changes afterwards.
type Order struct {
	ID        int64
	UserID    string
	ItemID    string
	CreatedAt time.Time
}

// Queue entry field names, shared by the admission script and the consumers.
const (
	FieldOrderID = "id"
	FieldUserID  = "userId"
	FieldItemID  = "itemId"
)

// Fields encodes the order the way the admission step appends it to the stream.
func (o Order) Fields() map[string]string {
	return map[string]string{
		FieldOrderID: strconv.FormatInt(o.ID, 10),
		FieldUserID:  o.UserID,
		FieldItemID:  o.ItemID,
	}
}

// DecodeOrder rebuilds an order from a queue entry. CreatedAt comes from the
// timestamp bits of the id so that redeliveries produce identical rows.
func DecodeOrder(entry QueueEntry, epoch time.Time) (Order, error) {
	raw, ok := entry.Values[FieldOrderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: entry %s has no %q", ErrMalformedEntry, entry.ID, FieldOrderID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Order{}, fmt.Errorf("%w: entry %s has bad order id %q", ErrMalformedEntry, entry.ID, raw)
	}

	userID := entry.Values[FieldUserID]
	itemID := entry.Values[FieldItemID]
	if userID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: entry %s is missing user or item", ErrMalformedEntry, entry.ID)
	}

	return Order{
		ID:        id,
		UserID:    userID,
		ItemID:    itemID,
		CreatedAt: OrderTime(id, epoch),
	}, nil
}
