package model

import (
	"fmt"
	"time"
)

// DateLayout is the storage format for calendar dates such as expiry dates.
const DateLayout = "2006-01-02"

type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusExpired  ItemStatus = "expired"
	ItemStatusConsumed ItemStatus = "consumed"
)

type GroceryCategory struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type GroceryItem struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	CategoryID      *int64     `json:"category_id"`
	Category        string     `json:"category"`
	Name            string     `json:"name"`
	Quantity        float64    `json:"quantity"`
	Price           float64    `json:"price"`
	MinQuantity     float64    `json:"min_quantity"`
	ExpiryDate      string     `json:"expiry_date,omitempty"`
	Status          ItemStatus `json:"status"`
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Expiry parses the stored expiry date as midnight in loc. It returns nil
// when the item has no expiry date.
func (i GroceryItem) Expiry(loc *time.Location) (*time.Time, error) {
	if i.ExpiryDate == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, i.ExpiryDate, loc)
	if err != nil {
		return nil, fmt.Errorf("parse expiry date %q: %w", i.ExpiryDate, err)
	}
	return &t, nil
}

// Value is the monetary value of the item's current quantity.
func (i GroceryItem) Value() float64 {
	return i.Quantity * i.Price
}
