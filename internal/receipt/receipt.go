package receipt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical rendering of a receipt date
const DateLayout = "2006-01-02"

// ErrNotFound is returned when a receipt does not exist
var ErrNotFound = errors.New("receipt not found")

// Status records whether a receipt was classified
type Status string

const (
	StatusClassified           Status = "classified"
	StatusClassificationFailed Status = "classification_failed"
)

// Item is a purchased entry on a receipt
type Item struct {
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// Receipt is a classified spending record
type Receipt struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Vendor      string          `json:"vendor"`
	Date        time.Time       `json:"date"`
	Category    string          `json:"category"` // empty when classification failed
	Status      Status          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Items       []Item          `json:"items"`
	Filename    string          `json:"filename"`
	ContentType string          `json:"content_type"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DateString renders the receipt date as YYYY-MM-DD
func (r *Receipt) DateString() string {
	return r.Date.Format(DateLayout)
}

// inRange reports whether date falls within [start, end] by calendar day.
// A zero bound is open.
func inRange(date, start, end time.Time) bool {
	day := date.Format(DateLayout)
	if !start.IsZero() && day < start.Format(DateLayout) {
		return false
	}
	if !end.IsZero() && day > end.Format(DateLayout) {
		return false
	}
	return true
}
