package domain

import "time"

// Item is a flash-sale listing. Stock is the authoritative remaining quantity;
// the cache copy used by the admission gate is only a fast-path guard.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	BeginAt   time.Time `json:"begin_at"`
	EndAt     time.Time `json:"end_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OnSale reports whether now falls inside the sale window.
func (i Item) OnSale(now time.Time) bool {
	return !now.Before(i.BeginAt) && now.Before(i.EndAt)
}
