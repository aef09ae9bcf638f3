// Package position maintains the monthly position aggregates: one row per
// calendar month holding the running purchased and sold volume.
package position

import (
	"errors"
	"fmt"
	"time"

	"EnergyLedger/internal/consolidation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrDuplicateEvent   = errors.New("event already consolidated")
)

// Key identifies a monthly bucket. Unique across the store.
type Key struct {
	Year  int
	Month time.Month
}

func (k Key) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// MonthlyPosition is the per-month aggregate. Net position is derived from
// the two totals on every call and has no stored counterpart.
type MonthlyPosition struct {
	ID                   uuid.UUID
	Year                 int
	Month                time.Month
	TotalVolumePurchased decimal.Decimal
	TotalVolumeSold      decimal.Decimal
	UpdatedAt            time.Time
}

// NewMonthlyPosition returns a zeroed aggregate for the month.
func NewMonthlyPosition(year int, month time.Month) *MonthlyPosition {
	return &MonthlyPosition{
		ID:                   uuid.New(),
		Year:                 year,
		Month:                month,
		TotalVolumePurchased: decimal.Zero,
		TotalVolumeSold:      decimal.Zero,
	}
}

func (p *MonthlyPosition) Key() Key {
	return Key{Year: p.Year, Month: p.Month}
}

// NetPosition is purchased minus sold. Positive means net long.
func (p *MonthlyPosition) NetPosition() decimal.Decimal {
	return p.TotalVolumePurchased.Sub(p.TotalVolumeSold)
}

// Apply adds amount to the channel's running total.
func (p *MonthlyPosition) Apply(ch consolidation.Channel, amount decimal.Decimal) {
	switch ch {
	case consolidation.ChannelPurchased:
		p.TotalVolumePurchased = p.TotalVolumePurchased.Add(amount)
	case consolidation.ChannelSold:
		p.TotalVolumeSold = p.TotalVolumeSold.Add(amount)
	}
}

// Clone returns an independent copy.
func (p *MonthlyPosition) Clone() *MonthlyPosition {
	c := *p
	return &c
}
