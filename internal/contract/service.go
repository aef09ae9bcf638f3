package contract

import (
	"EnergyLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository persists contracts.
type Repository interface {
	Create(ctx context.Context, c *Contract) error
	Get(ctx context.Context, id uuid.UUID) (*Contract, error)
	List(ctx context.Context) ([]Contract, error)
}

// EventPublisher emits a ContractCreated event for a stored contract and
// returns the id of the event it built.
type EventPublisher interface {
	PublishContractCreated(ctx context.Context, c *Contract) (uuid.UUID, error)
}

// Service creates contracts and announces them to position consolidation.
type Service struct {
	repo      Repository
	publisher EventPublisher
	validate  *validator.Validate
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, publisher EventPublisher, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		validate:  validator.New(),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates req, stores the contract and publishes its
// ContractCreated event after the store commit.
//
// When the store succeeds but publishing fails the stored contract is
// returned together with a *PublishError: the contract exists, but its
// volume will be missing from monthly positions until it is republished.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Contract, error) {
	p, err := req.validate(s.validate)
	if err != nil {
		return nil, err
	}

	c := &Contract{
		ID:           uuid.New(),
		Counterparty: p.counterparty,
		Type:         p.typ,
		VolumeMwm:    p.volume,
		Price:        p.price,
		StartDate:    p.start,
		EndDate:      p.end,
		CreatedAt:    s.now().UTC(),
		Status:       StatusActive,
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("store contract: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ContractsCreated.Inc()
	}

	s.logger.Info().
		Str("contract_id", c.ID.String()).
		Str("type", c.Type.String()).
		Str("volume_mwm", c.VolumeMwm.String()).
		Time("start_date", c.StartDate).
		Time("end_date", c.EndDate).
		Msg("contract created")

	if err := s.announce(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

// Republish emits a fresh ContractCreated event for an existing contract.
// Consolidation ignores it if the contract was already applied.
func (s *Service) Republish(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}

	eventID, err := s.publisher.PublishContractCreated(ctx, c)
	if err != nil {
		s.alert(c, err)
		return uuid.Nil, &PublishError{ContractID: c.ID, Err: err}
	}

	s.logger.Info().
		Str("contract_id", c.ID.String()).
		Str("event_id", eventID.String()).
		Msg("contract event republished")
	return eventID, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Contract, error) {
	return s.repo.List(ctx)
}

func (s *Service) announce(ctx context.Context, c *Contract) error {
	if _, err := s.publisher.PublishContractCreated(ctx, c); err != nil {
		s.alert(c, err)
		return &PublishError{ContractID: c.ID, Err: err}
	}
	return nil
}

func (s *Service) alert(c *Contract, err error) {
	s.logger.Error().
		Err(err).
		Bool("alert", true).
		Str("contract_id", c.ID.String()).
		Msg("contract stored but ContractCreated not published; republish to restore positions")
}
