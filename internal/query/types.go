package query

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionSummary is the external view of one monthly position.
// NetPosition is recomputed from the two totals for every summary.
type PositionSummary struct {
	ID                   uuid.UUID
	Year                 int
	Month                int
	TotalVolumePurchased decimal.Decimal
	TotalVolumeSold      decimal.Decimal
	NetPosition          decimal.Decimal
}

type positionSummaryJSON struct {
	ID                   uuid.UUID   `json:"Id"`
	Year                 int         `json:"Year"`
	Month                int         `json:"Month"`
	TotalVolumePurchased json.Number `json:"TotalVolumePurchased"`
	TotalVolumeSold      json.Number `json:"TotalVolumeSold"`
	NetPosition          json.Number `json:"NetPosition"`
}

// MarshalJSON writes volumes as JSON numbers.
func (s PositionSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionSummaryJSON{
		ID:                   s.ID,
		Year:                 s.Year,
		Month:                s.Month,
		TotalVolumePurchased: json.Number(s.TotalVolumePurchased.String()),
		TotalVolumeSold:      json.Number(s.TotalVolumeSold.String()),
		NetPosition:          json.Number(s.NetPosition.String()),
	})
}
