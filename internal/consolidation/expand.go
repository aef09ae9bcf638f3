// Package consolidation turns a contract's validity interval into the
// per-month volume deltas that feed the monthly position aggregates.
package consolidation

import (
	"time"

	"EnergyLedger/internal/event"

	"github.com/shopspring/decimal"
)

// Channel selects which running total of a monthly position a delta feeds.
// Purchased and sold volume are never netted against each other here.
type Channel int

const (
	ChannelPurchased Channel = iota + 1
	ChannelSold
)

func (c Channel) String() string {
	switch c {
	case ChannelPurchased:
		return "purchased"
	case ChannelSold:
		return "sold"
	default:
		return "unknown"
	}
}

// ChannelFor maps a contract type to the channel its volume accumulates in.
func ChannelFor(t event.ContractType) (Channel, bool) {
	switch t {
	case event.ContractTypePurchase:
		return ChannelPurchased, true
	case event.ContractTypeSale:
		return ChannelSold, true
	default:
		return 0, false
	}
}

// Delta is one month's share of a contract.
type Delta struct {
	Year    int
	Month   time.Month
	Channel Channel
	Amount  decimal.Decimal
}

// Expand returns one delta per calendar month touched by [start, end), in
// chronological order. The cursor starts at start and steps one calendar
// month at a time; a month is emitted only while the cursor is strictly
// before end. An empty or inverted interval, or an unknown type, yields nil.
func Expand(t event.ContractType, volume decimal.Decimal, start, end time.Time) []Delta {
	ch, ok := ChannelFor(t)
	if !ok {
		return nil
	}

	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil
	}

	var deltas []Delta
	for k := 0; ; k++ {
		cursor := AddMonths(start, k)
		if !cursor.Before(end) {
			break
		}
		deltas = append(deltas, Delta{
			Year:    cursor.Year(),
			Month:   cursor.Month(),
			Channel: ch,
			Amount:  volume,
		})
	}
	return deltas
}

// AddMonths moves t forward by n calendar months, keeping the day of month
// where the target month has it and clamping to its last day otherwise
// (Jan 31 + 1 month = Feb 28/29). Stepping from the original t each time
// keeps Jan 31 + 2 months on Mar 31.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
