package contract

import (
	"EnergyLedger/internal/event"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// contractModel maps contracts.contracts.
type contractModel struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Counterparty string          `gorm:"column:counterparty;size:100;not null"`
	Type         string          `gorm:"column:type;size:20;not null"`
	VolumeMwm    decimal.Decimal `gorm:"column:volume_mwm;type:numeric(18,4);not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(18,2);not null"`
	StartDate    time.Time       `gorm:"column:start_date;not null"`
	EndDate      time.Time       `gorm:"column:end_date;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null"`
	Status       string          `gorm:"column:status;size:20;not null"`
}

func (contractModel) TableName() string {
	return "contracts.contracts"
}

func toModel(c *Contract) contractModel {
	return contractModel{
		ID:           c.ID,
		Counterparty: c.Counterparty,
		Type:         c.Type.String(),
		VolumeMwm:    c.VolumeMwm,
		Price:        c.Price,
		StartDate:    c.StartDate,
		EndDate:      c.EndDate,
		CreatedAt:    c.CreatedAt,
		Status:       c.Status,
	}
}

func (m contractModel) toDomain() (Contract, error) {
	typ, err := event.ParseContractType(m.Type)
	if err != nil {
		return Contract{}, fmt.Errorf("contract %s: %w", m.ID, err)
	}
	return Contract{
		ID:           m.ID,
		Counterparty: m.Counterparty,
		Type:         typ,
		VolumeMwm:    m.VolumeMwm,
		Price:        m.Price,
		StartDate:    m.StartDate.UTC(),
		EndDate:      m.EndDate.UTC(),
		CreatedAt:    m.CreatedAt.UTC(),
		Status:       m.Status,
	}, nil
}

// GormRepository stores contracts in Postgres through GORM.
type GormRepository struct {
	db *gorm.DB
}

// OpenGorm wraps an existing connection pool so the contract store shares
// it with the migrator.
func OpenGorm(sqlDB *sql.DB) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return db, nil
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, c *Contract) error {
	m := toModel(c)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert contract %s: %w", c.ID, err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*Contract, error) {
	var m contractModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}

	c, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns contracts oldest first.
func (r *GormRepository) List(ctx context.Context) ([]Contract, error) {
	var models []contractModel
	if err := r.db.WithContext(ctx).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}

	out := make([]Contract, 0, len(models))
	for _, m := range models {
		c, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
