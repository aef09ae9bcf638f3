package event

import (
	"errors"
	"strings"
)

// EventType discriminator carried in the EventType field of every payload.
type EventType string

const (
	EventTypeContractCreated EventType = "ContractCreated"
)

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType
}

// ContractType is the trade direction of an energy contract. The wire values
// are the ones the contract registry has always emitted.
type ContractType string

const (
	ContractTypePurchase ContractType = "Compra"
	ContractTypeSale     ContractType = "Venda"
)

// Decimal places kept for contract volumes and prices, matching the
// NUMERIC columns that store them.
const (
	VolumeScale int32 = 4
	PriceScale  int32 = 2
)

var ErrUnknownContractType = errors.New("unknown contract type")

// ParseContractType matches the wire value case-insensitively.
func ParseContractType(s string) (ContractType, error) {
	switch {
	case strings.EqualFold(s, string(ContractTypePurchase)):
		return ContractTypePurchase, nil
	case strings.EqualFold(s, string(ContractTypeSale)):
		return ContractTypeSale, nil
	default:
		return "", ErrUnknownContractType
	}
}

func (t ContractType) String() string {
	return string(t)
}
