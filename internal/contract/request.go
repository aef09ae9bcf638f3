package contract

import (
	"EnergyLedger/internal/event"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	minVolume = decimal.RequireFromString("0.1")
	minPrice  = decimal.RequireFromString("0.01")
)

// CreateRequest is the body of a contract creation. Decimals travel as JSON
// numbers and are kept as text until validated.
type CreateRequest struct {
	Counterparty string      `json:"Counterparty" validate:"required,max=100"`
	Type         string      `json:"Type" validate:"required"`
	VolumeMwm    json.Number `json:"VolumeMwm" validate:"required"`
	Price        json.Number `json:"Price" validate:"required"`
	StartDate    time.Time   `json:"StartDate" validate:"required"`
	EndDate      time.Time   `json:"EndDate" validate:"required,gtfield=StartDate"`
}

// parsed is a CreateRequest that passed validation.
type parsed struct {
	counterparty string
	typ          event.ContractType
	volume       decimal.Decimal
	price        decimal.Decimal
	start        time.Time
	end          time.Time
}

func (r CreateRequest) validate(v *validator.Validate) (parsed, error) {
	var problems []string

	if err := v.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return parsed{}, fmt.Errorf("validate request: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
	}

	out := parsed{
		counterparty: r.Counterparty,
		start:        r.StartDate.UTC(),
		end:          r.EndDate.UTC(),
	}

	if r.Type != "" {
		typ, err := event.ParseContractType(r.Type)
		if err != nil {
			problems = append(problems, fmt.Sprintf("Type must be %q or %q", event.ContractTypePurchase, event.ContractTypeSale))
		}
		out.typ = typ
	}
	if r.VolumeMwm != "" {
		vol, err := decimal.NewFromString(r.VolumeMwm.String())
		switch {
		case err != nil:
			problems = append(problems, "VolumeMwm must be a number")
		case vol.LessThan(minVolume):
			problems = append(problems, "VolumeMwm must be at least "+minVolume.String())
		}
		out.volume = vol.Round(event.VolumeScale)
	}
	if r.Price != "" {
		price, err := decimal.NewFromString(r.Price.String())
		switch {
		case err != nil:
			problems = append(problems, "Price must be a number")
		case price.LessThan(minPrice):
			problems = append(problems, "Price must be at least "+minPrice.String())
		}
		out.price = price.Round(event.PriceScale)
	}

	if len(problems) > 0 {
		return parsed{}, &ValidationError{Problems: problems}
	}
	return out, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
