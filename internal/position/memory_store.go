package position

import (
	"context"
	"errors"
	"sync"
	"time"

	"EnergyLedger/internal/observability"

	"github.com/google/uuid"
)

var (
	errUnitClosed    = errors.New("unit of work already finished")
	errAlreadyMarked = errors.New("unit of work already marked an event")
)

// MemoryStore is an in-process Store. Units of work record what they read and
// merge their deltas on commit, so a bucket created concurrently by another
// unit is folded in as an update rather than duplicated.
type MemoryStore struct {
	mu                 sync.Mutex
	rows               map[Key]*MonthlyPosition
	processedEvents    map[uuid.UUID]struct{}
	processedContracts map[uuid.UUID]struct{}
	pendingEvents      map[uuid.UUID]chan struct{} // closed when the owning unit finishes
	pendingContracts   map[uuid.UUID]chan struct{}
	metrics            *observability.Metrics
	now                func() time.Time
}

func NewMemoryStore(metrics *observability.Metrics) *MemoryStore {
	return &MemoryStore{
		rows:               make(map[Key]*MonthlyPosition),
		processedEvents:    make(map[uuid.UUID]struct{}),
		processedContracts: make(map[uuid.UUID]struct{}),
		pendingEvents:      make(map[uuid.UUID]chan struct{}),
		pendingContracts:   make(map[uuid.UUID]chan struct{}),
		metrics:            metrics,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryUnit{
		store:   s,
		working: make(map[Key]*MonthlyPosition),
		base:    make(map[Key]*MonthlyPosition),
	}, nil
}

func (s *MemoryStore) GetByMonth(ctx context.Context, year int, month time.Month) (*MonthlyPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.rows[Key{Year: year, Month: month}]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return p.Clone(), nil
}

// Len returns the number of stored monthly rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memoryUnit struct {
	store      *MemoryStore
	working    map[Key]*MonthlyPosition
	base       map[Key]*MonthlyPosition // nil value: created by this unit
	order      []Key
	eventID    uuid.UUID
	contractID uuid.UUID
	released   chan struct{}
	marked     bool
	done       bool
}

// MarkProcessed blocks while another unit holds the same event or contract,
// the way a conflicting insert waits on the row lock in Postgres. Only a
// committed holder makes this event a duplicate.
func (u *memoryUnit) MarkProcessed(ctx context.Context, eventID, contractID uuid.UUID) (bool, error) {
	if u.done {
		return false, errUnitClosed
	}
	if u.marked {
		return false, errAlreadyMarked
	}
	s := u.store
	for {
		s.mu.Lock()
		_, seenEvent := s.processedEvents[eventID]
		_, seenContract := s.processedContracts[contractID]
		if seenEvent || seenContract {
			s.mu.Unlock()
			return false, nil
		}

		wait := s.pendingEvents[eventID]
		if wait == nil {
			wait = s.pendingContracts[contractID]
		}
		if wait == nil {
			u.released = make(chan struct{})
			s.pendingEvents[eventID] = u.released
			s.pendingContracts[contractID] = u.released
			u.eventID, u.contractID, u.marked = eventID, contractID, true
			s.mu.Unlock()
			return true, nil
		}
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// release drops the pending claim and wakes waiters. Callers hold s.mu.
func (u *memoryUnit) release() {
	s := u.store
	delete(s.pendingEvents, u.eventID)
	delete(s.pendingContracts, u.contractID)
	close(u.released)
}

func (u *memoryUnit) GetOrCreate(ctx context.Context, year int, month time.Month) (*MonthlyPosition, error) {
	if u.done {
		return nil, errUnitClosed
	}
	key := Key{Year: year, Month: month}
	if p, ok := u.working[key]; ok {
		return p, nil
	}

	u.store.mu.Lock()
	existing, ok := u.store.rows[key]
	var p *MonthlyPosition
	if ok {
		u.base[key] = existing.Clone()
		p = existing.Clone()
	} else {
		u.base[key] = nil
		p = NewMonthlyPosition(year, month)
	}
	u.store.mu.Unlock()

	u.working[key] = p
	u.order = append(u.order, key)
	return p, nil
}

func (u *memoryUnit) Commit(ctx context.Context) error {
	if u.done {
		return errUnitClosed
	}
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, key := range u.order {
		p := u.working[key]
		base := u.base[key]

		current, exists := s.rows[key]
		if !exists {
			row := p.Clone()
			row.UpdatedAt = now
			s.rows[key] = row
			continue
		}

		if base == nil {
			// Another unit created the month after we looked.
			base = NewMonthlyPosition(key.Year, key.Month)
			if s.metrics != nil {
				s.metrics.PositionCreateConflicts.Inc()
			}
		}
		current.TotalVolumePurchased = current.TotalVolumePurchased.Add(p.TotalVolumePurchased.Sub(base.TotalVolumePurchased))
		current.TotalVolumeSold = current.TotalVolumeSold.Add(p.TotalVolumeSold.Sub(base.TotalVolumeSold))
		current.UpdatedAt = now
	}

	if u.marked {
		s.processedEvents[u.eventID] = struct{}{}
		s.processedContracts[u.contractID] = struct{}{}
		u.release()
	}
	u.done = true
	return nil
}

func (u *memoryUnit) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	if u.marked {
		s := u.store
		s.mu.Lock()
		u.release()
		s.mu.Unlock()
	}
	return nil
}
