// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// Record is one listing item as returned by the catalog search endpoint.
type Record struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	URL                string  `json:"url"`
	ImageURL           string  `json:"imageUrl"`
	ImageURLLarge      string  `json:"imageUrlLarge,omitempty"`
	CategoryID         int64   `json:"catId,omitempty"`
	Price              string  `json:"price"`
	PriceInt           int64   `json:"priceInt,omitempty"`
	OriginalPrice      string  `json:"original_price,omitempty"`
	DiscountPercentage float64 `json:"discountPercentage,omitempty"`
	CountReview        int     `json:"countReview"`
	Rating             float64 `json:"rating"`
	Preorder           bool    `json:"preorder"`
	Wishlist           bool    `json:"wishlist"`
	Shop               Shop    `json:"shop"`
}

// Shop is the seller block nested in every Record.
type Shop struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	Name         string `json:"name"`
	GoldMerchant bool   `json:"goldmerchant"`
	Official     bool   `json:"official"`
	Reputation   string `json:"reputation"`
	Location     string `json:"location"`
}

// Checkpoint marks the last page whose records were accepted by the publish channel.
// A nil Cursor means no cursor has been recorded yet.
type Checkpoint struct {
	Cursor *int `json:"cursor"`
	Page   int  `json:"page"`
}

// DefaultCheckpoint is returned by stores that hold no usable state.
func DefaultCheckpoint() Checkpoint {
	return Checkpoint{Page: 1}
}

// NewCheckpoint builds a Checkpoint with a recorded cursor.
func NewCheckpoint(cursor, page int) Checkpoint {
	return Checkpoint{Cursor: &cursor, Page: page}
}

// CursorOr returns the recorded cursor or def when none is recorded.
func (c Checkpoint) CursorOr(def int) int {
	if c.Cursor == nil {
		return def
	}
	return *c.Cursor
}

// FetchRequest addresses one page of the remote result set.
type FetchRequest struct {
	Category string
	Page     int
	Start    int
	Rows     int
}

// FetchPage is the decoded result of one fetch.
type FetchPage struct {
	Records []Record
	Total   int
}

// ParkedMessage is a queue message removed from redelivery after it could not be processed.
type ParkedMessage struct {
	MessageID string    `json:"message_id"`
	Payload   []byte    `json:"payload"`
	Attempt   int       `json:"attempt"`
	Reason    string    `json:"reason"`
	ParkedAt  time.Time `json:"parked_at"`
}
