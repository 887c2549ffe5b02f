package receipt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Summary periods
const (
	PeriodWeek       = "7"
	PeriodThirtyDays = "30"
	PeriodMonth      = "month"
	PeriodYear       = "year"
)

// Uncategorized groups receipts saved without a category
const Uncategorized = "Uncategorized"

// CategoryTotal is the spend for one category
type CategoryTotal struct {
	Category string          `json:"category"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
}

// Summary aggregates a user's spending over a period
type Summary struct {
	Period     string          `json:"period"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Count      int             `json:"count"`
	Total      decimal.Decimal `json:"total"`
	Categories []CategoryTotal `json:"categories"`
	Receipts   []*Receipt      `json:"receipts"`
}

// PeriodRange resolves a period name to its date range ending at now.
// Unknown periods are treated as the last 7 days.
func PeriodRange(period string, now time.Time) (string, time.Time, time.Time) {
	switch period {
	case PeriodThirtyDays:
		return period, now.AddDate(0, 0, -30), now
	case PeriodMonth:
		return period, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), now
	case PeriodYear:
		return period, time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), now
	default:
		return PeriodWeek, now.AddDate(0, 0, -7), now
	}
}

// Summarize totals a user's receipts per category over a period
func (s *Service) Summarize(ctx context.Context, userID string, period string) (*Summary, error) {
	period, start, end := PeriodRange(period, s.timeSource.Now())

	receipts, err := s.db.ListReceipts(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing receipts for summary: %w", err)
	}

	summary := &Summary{
		Period:   period,
		Start:    start,
		End:      end,
		Count:    len(receipts),
		Total:    decimal.Zero,
		Receipts: receipts,
	}

	totals := make(map[string]*CategoryTotal)
	for _, receipt := range receipts {
		category := receipt.Category
		if category == "" {
			category = Uncategorized
		}
		ct, ok := totals[category]
		if !ok {
			ct = &CategoryTotal{Category: category, Total: decimal.Zero}
			totals[category] = ct
		}
		ct.Count++
		ct.Total = ct.Total.Add(receipt.Total)
		summary.Total = summary.Total.Add(receipt.Total)
	}

	summary.Categories = make([]CategoryTotal, 0, len(totals))
	for _, ct := range totals {
		summary.Categories = append(summary.Categories, *ct)
	}
	// Largest spend first
	sort.Slice(summary.Categories, func(i, j int) bool {
		a, b := summary.Categories[i], summary.Categories[j]
		if cmp := a.Total.Cmp(b.Total); cmp != 0 {
			return cmp > 0
		}
		return a.Category < b.Category
	})

	return summary, nil
}
