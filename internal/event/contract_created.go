package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContractData is the contract snapshot embedded in a ContractCreated event.
type ContractData struct {
	ContractID uuid.UUID
	Type       ContractType
	VolumeMwm  decimal.Decimal // MW-average
	Price      decimal.Decimal
	StartDate  time.Time // inclusive, UTC
	EndDate    time.Time // exclusive, UTC
}

// ContractCreated is published once per contract after it is committed to the
// contract store. Idempotency key: EventID.
type ContractCreated struct {
	EventID      uuid.UUID
	Timestamp    time.Time
	ContractData ContractData
}

// NewContractCreated builds an event around a copy of data. Dates are
// normalised to UTC so the consumer never sees local offsets.
func NewContractCreated(eventID uuid.UUID, now time.Time, data ContractData) ContractCreated {
	data.StartDate = data.StartDate.UTC()
	data.EndDate = data.EndDate.UTC()
	return ContractCreated{
		EventID:      eventID,
		Timestamp:    now.UTC(),
		ContractData: data,
	}
}

func (e *ContractCreated) IdempotencyKey() string {
	return e.EventID.String()
}

func (e *ContractCreated) EventType() EventType {
	return EventTypeContractCreated
}
