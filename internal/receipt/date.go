package receipt

import (
	"fmt"
	"strings"
	"time"
)

// DateFallback decides what happens to a receipt whose date cannot be read
type DateFallback string

const (
	// FallbackToday dates the receipt on the day it was processed
	FallbackToday DateFallback = "today"
	// FallbackReject skips the receipt
	FallbackReject DateFallback = "reject"
)

// ParseDateFallback validates a fallback policy name
func ParseDateFallback(s string) (DateFallback, error) {
	switch DateFallback(strings.ToLower(strings.TrimSpace(s))) {
	case FallbackToday, "":
		return FallbackToday, nil
	case FallbackReject:
		return FallbackReject, nil
	}
	return "", fmt.Errorf("unknown date fallback %q", s)
}

// DateError reports a receipt date that could not be read
type DateError struct {
	Raw string
}

func (e *DateError) Error() string {
	if e.Raw == "" {
		return "receipt has no date"
	}
	return fmt.Sprintf("unrecognized receipt date %q", e.Raw)
}

// Day-first numeric layouts are ambiguous with month-first ones and are
// only tried after them, so 03/04/2024 reads as March 4 while 26/10/2023
// still resolves.
var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"02-01-2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"02-Jan-06",
	"Mon, Jan 2, 2006",
	"02.01.2006",
	"2.1.2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
}

// ParseReceiptDate reads a receipt date in any supported layout and returns
// midnight UTC of that day
func ParseReceiptDate(raw string) (time.Time, error) {
	cleaned := strings.Join(strings.Fields(raw), " ")
	if cleaned == "" {
		return time.Time{}, &DateError{Raw: raw}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, &DateError{Raw: raw}
}

// resolveDate applies the fallback policy to an unreadable date
func resolveDate(raw string, now time.Time, fallback DateFallback) (time.Time, error) {
	date, err := ParseReceiptDate(raw)
	if err == nil {
		return date, nil
	}
	if fallback == FallbackReject {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
}
