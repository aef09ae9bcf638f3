// Package contract is the contract registry: validation of new contracts,
// their storage, and the hand-off of every committed contract to the event
// publisher.
package contract

import (
	"EnergyLedger/internal/event"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatusActive is the status every contract is created with.
const StatusActive = "Ativo"

var (
	ErrContractNotFound  = errors.New("contract not found")
	ErrInvalidContract   = errors.New("invalid contract")
	ErrEventNotPublished = errors.New("contract event not published")
)

// Contract is an energy purchase or sale over a period.
type Contract struct {
	ID           uuid.UUID
	Counterparty string
	Type         event.ContractType
	VolumeMwm    decimal.Decimal // MW-average, 4 decimal places
	Price        decimal.Decimal // 2 decimal places
	StartDate    time.Time       // inclusive, UTC
	EndDate      time.Time       // exclusive, UTC
	CreatedAt    time.Time
	Status       string
}

// Snapshot copies the fields consolidation needs into an event payload.
func (c *Contract) Snapshot() event.ContractData {
	return event.ContractData{
		ContractID: c.ID,
		Type:       c.Type,
		VolumeMwm:  c.VolumeMwm,
		Price:      c.Price,
		StartDate:  c.StartDate,
		EndDate:    c.EndDate,
	}
}

// ValidationError lists every problem found in a CreateRequest.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	msg := "invalid contract"
	for i, p := range e.Problems {
		if i == 0 {
			msg += ": " + p
		} else {
			msg += "; " + p
		}
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidContract
}

// PublishError reports a contract that was stored but whose ContractCreated
// event never reached the broker.
type PublishError struct {
	ContractID uuid.UUID
	Err        error
}

func (e *PublishError) Error() string {
	return "contract " + e.ContractID.String() + " stored but event not published: " + e.Err.Error()
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrEventNotPublished, e.Err}
}
