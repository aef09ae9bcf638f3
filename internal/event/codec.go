package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks payloads that can never be processed, no matter how
// often they are redelivered.
var ErrMalformed = errors.New("malformed event")

// --- JSON wire format ---
// Keys are PascalCase to match the contract registry's serializer; decimals
// travel as JSON numbers.

type contractCreatedJSON struct {
	EventID      string           `json:"EventId"`
	Timestamp    time.Time        `json:"Timestamp"`
	EventType    string           `json:"EventType"`
	ContractData contractDataJSON `json:"ContractData"`
}

type contractDataJSON struct {
	ContractID string      `json:"ContractId"`
	Type       string      `json:"Type"`
	VolumeMwm  json.Number `json:"VolumeMwm"`
	Price      json.Number `json:"Price"`
	StartDate  time.Time   `json:"StartDate"`
	EndDate    time.Time   `json:"EndDate"`
}

// EncodeContractCreated serializes e to its wire JSON.
func EncodeContractCreated(e ContractCreated) ([]byte, error) {
	d := e.ContractData
	return json.Marshal(contractCreatedJSON{
		EventID:   e.EventID.String(),
		Timestamp: e.Timestamp.UTC(),
		EventType: string(EventTypeContractCreated),
		ContractData: contractDataJSON{
			ContractID: d.ContractID.String(),
			Type:       string(d.Type),
			VolumeMwm:  json.Number(d.VolumeMwm.String()),
			Price:      json.Number(d.Price.String()),
			StartDate:  d.StartDate.UTC(),
			EndDate:    d.EndDate.UTC(),
		},
	})
}

// DecodeContractCreated parses and validates a wire payload. Every returned
// error wraps ErrMalformed.
func DecodeContractCreated(data []byte) (ContractCreated, error) {
	var j contractCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return ContractCreated{}, malformed("parse ContractCreated: %v", err)
	}

	if j.EventType != string(EventTypeContractCreated) {
		return ContractCreated{}, malformed("unexpected event type %q", j.EventType)
	}

	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return ContractCreated{}, malformed("parse EventId: %v", err)
	}
	contractID, err := uuid.Parse(j.ContractData.ContractID)
	if err != nil {
		return ContractCreated{}, malformed("parse ContractId: %v", err)
	}

	ctype, err := ParseContractType(j.ContractData.Type)
	if err != nil {
		return ContractCreated{}, malformed("parse Type %q: %v", j.ContractData.Type, err)
	}

	volume, err := decimal.NewFromString(j.ContractData.VolumeMwm.String())
	if err != nil {
		return ContractCreated{}, malformed("parse VolumeMwm: %v", err)
	}
	if volume.IsNegative() {
		return ContractCreated{}, malformed("negative VolumeMwm %s", volume)
	}
	volume = volume.Round(VolumeScale)

	price, err := decimal.NewFromString(j.ContractData.Price.String())
	if err != nil {
		return ContractCreated{}, malformed("parse Price: %v", err)
	}
	price = price.Round(PriceScale)

	if j.Timestamp.IsZero() {
		return ContractCreated{}, malformed("missing Timestamp")
	}

	if j.ContractData.StartDate.IsZero() || j.ContractData.EndDate.IsZero() {
		return ContractCreated{}, malformed("missing StartDate or EndDate")
	}

	return ContractCreated{
		EventID:   eventID,
		Timestamp: j.Timestamp.UTC(),
		ContractData: ContractData{
			ContractID: contractID,
			Type:       ctype,
			VolumeMwm:  volume,
			Price:      price,
			StartDate:  j.ContractData.StartDate.UTC(),
			EndDate:    j.ContractData.EndDate.UTC(),
		},
	}, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
