package records

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Filter returns the records whose name or creator contains term,
// case-insensitively. An empty term returns every record.
func Filter(records []Record, term string) []Record {
	needle := strings.ToLower(strings.TrimSpace(term))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if needle == "" ||
			strings.Contains(strings.ToLower(rec.Name), needle) ||
			strings.Contains(strings.ToLower(rec.Creator), needle) {
			out = append(out, rec)
		}
	}
	return out
}

// Stats are the dashboard figures derived from a snapshot.
type Stats struct {
	TotalPayments       int             `json:"total_payments"`
	ActiveSubscriptions int             `json:"active_subscriptions"`
	VerifiedCount       int             `json:"verified_count"`
	PendingCount        int             `json:"pending_count"`
	AvgAmount           decimal.Decimal `json:"avg_amount"`
	SuccessRate         decimal.Decimal `json:"success_rate"`
}

// ComputeStats derives dashboard figures. Unverified records count toward the
// average with a zero amount; local previews never do.
func ComputeStats(records []Record) Stats {
	stats := Stats{
		TotalPayments: len(records),
		AvgAmount:     decimal.Zero,
		SuccessRate:   decimal.Zero,
	}
	if len(records) == 0 {
		return stats
	}

	total := decimal.Zero
	for _, rec := range records {
		if rec.PublicCondition > 0 {
			stats.ActiveSubscriptions++
		}
		if rec.IsVerified() {
			stats.VerifiedCount++
			if rec.ClearAmount != nil {
				total = total.Add(decimal.NewFromInt(*rec.ClearAmount))
			}
		} else {
			stats.PendingCount++
		}
	}

	count := decimal.NewFromInt(int64(len(records)))
	stats.AvgAmount = total.Div(count).Round(1)
	stats.SuccessRate = decimal.NewFromInt(int64(stats.VerifiedCount)).
		Mul(decimal.NewFromInt(100)).
		Div(count).
		Round(1)
	return stats
}
