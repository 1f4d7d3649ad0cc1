// Package memory is a mutex-serialised transactional store. It backs tests
// and STORAGE=memory local runs; a failed transaction restores the snapshot
// taken when it began.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

type quotaKey struct {
	poolID string
	userID string
}

type holdKey struct {
	poolID string
	key    string
}

type txKey struct{ s *Store }

type state struct {
	pools    map[string]domain.Pool
	quotas   map[quotaKey]int
	holds    map[string]domain.Hold
	holdKeys map[holdKey]string
	payments map[string]domain.PaymentRecord
	units    map[string]domain.Unit
	byOwner  map[string][]string
}

// Store implements every repository the engine needs over in-process maps.
type Store struct {
	mu sync.Mutex
	st state
}

func New() *Store {
	return &Store{st: state{
		pools:    make(map[string]domain.Pool),
		quotas:   make(map[quotaKey]int),
		holds:    make(map[string]domain.Hold),
		holdKeys: make(map[holdKey]string),
		payments: make(map[string]domain.PaymentRecord),
		units:    make(map[string]domain.Unit),
		byOwner:  make(map[string][]string),
	}}
}

// WithTx runs fn with the store locked. Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.st = snap
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	return ctx.Value(txKey{s}) != nil
}

func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (st state) clone() state {
	out := state{
		pools:    make(map[string]domain.Pool, len(st.pools)),
		quotas:   make(map[quotaKey]int, len(st.quotas)),
		holds:    make(map[string]domain.Hold, len(st.holds)),
		holdKeys: make(map[holdKey]string, len(st.holdKeys)),
		payments: make(map[string]domain.PaymentRecord, len(st.payments)),
		units:    make(map[string]domain.Unit, len(st.units)),
		byOwner:  make(map[string][]string, len(st.byOwner)),
	}
	for k, v := range st.pools {
		out.pools[k] = v
	}
	for k, v := range st.quotas {
		out.quotas[k] = v
	}
	for k, v := range st.holds {
		out.holds[k] = v
	}
	for k, v := range st.holdKeys {
		out.holdKeys[k] = v
	}
	for k, v := range st.payments {
		out.payments[k] = v
	}
	for k, v := range st.units {
		out.units[k] = v
	}
	for k, v := range st.byOwner {
		out.byOwner[k] = append([]string(nil), v...)
	}
	return out
}

// Pools

func (s *Store) CreatePool(ctx context.Context, pool domain.Pool) error {
	defer s.lock(ctx)()
	if _, ok := s.st.pools[pool.ID]; ok {
		return domain.ErrPoolAlreadyExists
	}
	if pool.ParentID != "" {
		if _, ok := s.st.pools[pool.ParentID]; !ok {
			return domain.ErrPoolNotFound
		}
	}
	s.st.pools[pool.ID] = pool
	return nil
}

func (s *Store) ListPools(ctx context.Context, parentID string) ([]domain.Pool, error) {
	defer s.lock(ctx)()
	var out []domain.Pool
	for _, p := range s.st.pools {
		if p.ParentID == parentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetPool(ctx context.Context, id string) (domain.Pool, error) {
	defer s.lock(ctx)()
	p, ok := s.st.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrPoolNotFound
	}
	return p, nil
}

func (s *Store) GetPoolForUpdate(ctx context.Context, id string) (domain.Pool, error) {
	return s.GetPool(ctx, id)
}

func (s *Store) SetCommittedUnits(ctx context.Context, poolID string, committed int) error {
	defer s.lock(ctx)()
	p, ok := s.st.pools[poolID]
	if !ok {
		return domain.ErrPoolNotFound
	}
	if committed < 0 || committed > p.TotalUnits {
		return domain.ErrInvalidCapacity
	}
	p.CommittedUnits = committed
	s.st.pools[poolID] = p
	return nil
}

func (s *Store) GetQuotaForUpdate(ctx context.Context, poolID, userID string) (domain.UserQuota, error) {
	defer s.lock(ctx)()
	return domain.UserQuota{
		PoolID:       poolID,
		UserID:       userID,
		UnitsClaimed: s.st.quotas[quotaKey{poolID, userID}],
	}, nil
}

func (s *Store) SaveQuota(ctx context.Context, q domain.UserQuota) error {
	defer s.lock(ctx)()
	if q.UnitsClaimed < 0 {
		return domain.ErrInvalidQuantity
	}
	s.st.quotas[quotaKey{q.PoolID, q.UserID}] = q.UnitsClaimed
	return nil
}

// Holds

func (s *Store) FindHoldByIdempotencyKey(ctx context.Context, poolID, key string) (*domain.Hold, error) {
	defer s.lock(ctx)()
	id, ok := s.st.holdKeys[holdKey{poolID, key}]
	if !ok {
		return nil, nil
	}
	h := s.st.holds[id]
	return &h, nil
}

func (s *Store) CreateHold(ctx context.Context, hold domain.Hold) error {
	defer s.lock(ctx)()
	k := holdKey{hold.PoolID, hold.IdempotencyKey}
	if _, ok := s.st.holdKeys[k]; ok {
		return domain.ErrIdempotencyConflict
	}
	if _, ok := s.st.pools[hold.PoolID]; !ok {
		return domain.ErrPoolNotFound
	}
	s.st.holds[hold.ID] = hold
	s.st.holdKeys[k] = hold.ID
	return nil
}

func (s *Store) GetHold(ctx context.Context, id string) (domain.Hold, error) {
	defer s.lock(ctx)()
	h, ok := s.st.holds[id]
	if !ok {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, nil
}

func (s *Store) GetHoldForUpdate(ctx context.Context, id string) (domain.Hold, error) {
	return s.GetHold(ctx, id)
}

// TransitionHold moves a hold from one status to another and reports
// whether the compare-and-set applied.
func (s *Store) TransitionHold(ctx context.Context, id string, from, to domain.HoldStatus, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	h, ok := s.st.holds[id]
	if !ok {
		return false, domain.ErrHoldNotFound
	}
	if h.Status != from {
		return false, nil
	}
	resolved := at
	h.Status = to
	h.ResolvedAt = &resolved
	s.st.holds[id] = h
	return true, nil
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	defer s.lock(ctx)()
	var out []domain.Hold
	for _, h := range s.st.holds {
		if h.DueForExpiry(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Payments

func (s *Store) GetPayment(ctx context.Context, id string) (domain.PaymentRecord, error) {
	defer s.lock(ctx)()
	p, ok := s.st.payments[id]
	if !ok {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id string) (domain.PaymentRecord, error) {
	return s.GetPayment(ctx, id)
}

// InsertPayment stores p unless a record with the same id exists.
func (s *Store) InsertPayment(ctx context.Context, p domain.PaymentRecord) (bool, error) {
	defer s.lock(ctx)()
	if _, ok := s.st.payments[p.ID]; ok {
		return false, nil
	}
	s.st.payments[p.ID] = clonePayment(p)
	return true, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p domain.PaymentRecord) error {
	defer s.lock(ctx)()
	if _, ok := s.st.payments[p.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	s.st.payments[p.ID] = clonePayment(p)
	return nil
}

// Units

func (s *Store) InsertUnits(ctx context.Context, units []domain.Unit) error {
	defer s.lock(ctx)()
	for _, u := range units {
		if _, ok := s.st.units[u.ID]; ok {
			return domain.ErrIdempotencyConflict
		}
	}
	for _, u := range units {
		s.st.units[u.ID] = cloneUnit(u)
		s.st.byOwner[u.OwnerID] = append(s.st.byOwner[u.OwnerID], u.ID)
	}
	return nil
}

// CountUnitsByOwner sums issued quantity per pool for one payment.
func (s *Store) CountUnitsByOwner(ctx context.Context, ownerID string) (map[string]int, error) {
	defer s.lock(ctx)()
	out := make(map[string]int)
	for _, id := range s.st.byOwner[ownerID] {
		u := s.st.units[id]
		out[u.PoolID] += u.Quantity
	}
	return out, nil
}

func (s *Store) ListUnitsByOwner(ctx context.Context, ownerID string) ([]domain.Unit, error) {
	defer s.lock(ctx)()
	ids := s.st.byOwner[ownerID]
	out := make([]domain.Unit, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneUnit(s.st.units[id]))
	}
	return out, nil
}

func (s *Store) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	defer s.lock(ctx)()
	u, ok := s.st.units[id]
	if !ok {
		return domain.Unit{}, domain.ErrUnitNotFound
	}
	return cloneUnit(u), nil
}

func (s *Store) GetUnitForUpdate(ctx context.Context, id string) (domain.Unit, error) {
	return s.GetUnit(ctx, id)
}

func (s *Store) TransitionUnit(ctx context.Context, id string, from, to domain.UnitState, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	u, ok := s.st.units[id]
	if !ok {
		return false, domain.ErrUnitNotFound
	}
	if u.State != from {
		return false, nil
	}
	consumed := at
	u.State = to
	u.ConsumedAt = &consumed
	s.st.units[id] = u
	return true, nil
}

func clonePayment(p domain.PaymentRecord) domain.PaymentRecord {
	p.Items = append([]domain.LineItem(nil), p.Items...)
	return p
}

func cloneUnit(u domain.Unit) domain.Unit {
	u.Items = append([]domain.LineItem(nil), u.Items...)
	return u
}
