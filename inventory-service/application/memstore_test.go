package application

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// memStore is an in-memory domain.Store whose transactions overlap freely.
// Each transaction buffers its writes and publishes them at commit, last
// writer wins, with no row locks and no isolation beyond that. Only the
// item locker keeps two holds on one item from overselling it. Writes made
// without the item lock held are recorded as violations.
type memStore struct {
	mu           sync.Mutex
	items        map[int64]domain.Item
	reservations map[int64]domain.Reservation
	nextItemID   int64
	nextResID    int64
	locks        *trackingLocker
	violations   []string

	// beforeInsert runs ahead of every reservation insert.
	beforeInsert func(r *domain.Reservation)
}

func newMemStore(locks *trackingLocker) *memStore {
	return &memStore{
		items:        map[int64]domain.Item{},
		reservations: map[int64]domain.Reservation{},
		locks:        locks,
	}
}

func (s *memStore) Begin(context.Context) (domain.Tx, error) {
	return &memTx{
		store:        s,
		items:        map[int64]domain.Item{},
		reservations: map[int64]*domain.Reservation{},
	}, nil
}

func (s *memStore) FindItem(_ context.Context, id int64) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *memStore) FindReservation(_ context.Context, kind string, transactionID uuid.UUID) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.Kind == kind && r.TransactionID == transactionID {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindExpiredReservations(_ context.Context, kind string, before time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []domain.Reservation
	for _, r := range s.reservations {
		if r.Kind == kind && r.Temporary && r.TemporaryAt.Before(before) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(a, b int) bool { return expired[a].ID < expired[b].ID })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// seedItem stores an item outside any transaction.
func (s *memStore) seedItem(item domain.Item) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextItemID++
	item.ID = s.nextItemID
	s.items[item.ID] = item
	return item
}

// seedHold commits a hold outside any transaction, taking the units from
// its item.
func (s *memStore) seedHold(r domain.Reservation) domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextResID++
	r.ID = s.nextResID
	s.reservations[r.ID] = r
	item := s.items[r.ItemID]
	item.Amount -= r.Amount
	s.items[r.ItemID] = item
	return r
}

// held sums the units reserved on each item.
func (s *memStore) held() map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := map[int64]int{}
	for _, r := range s.reservations {
		held[r.ItemID] += r.Amount
	}
	return held
}

func (s *memStore) reservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

func (s *memStore) amount(itemID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[itemID].Amount
}

func (s *memStore) recordedViolations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.violations...)
}

// requireLock must be called with s.mu held.
func (s *memStore) requireLock(itemID int64, op string) {
	if !s.locks.holds(itemID) {
		s.violations = append(s.violations, fmt.Sprintf("%s on item %d without its lock", op, itemID))
	}
}

type memTx struct {
	store        *memStore
	items        map[int64]domain.Item
	reservations map[int64]*domain.Reservation // nil marks a delete
	done         bool
}

var errTxDone = errors.New("transaction already finished")

func (t *memTx) InsertItem(_ context.Context, item *domain.Item) error {
	if t.done {
		return errTxDone
	}
	t.store.mu.Lock()
	t.store.nextItemID++
	item.ID = t.store.nextItemID
	t.store.mu.Unlock()
	t.items[item.ID] = *item
	return nil
}

func (t *memTx) item(id int64) (domain.Item, bool) {
	if item, ok := t.items[id]; ok {
		return item, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	item, ok := t.store.items[id]
	return item, ok
}

func (t *memTx) FindItems(_ context.Context, q domain.Query) ([]domain.Item, error) {
	if t.done {
		return nil, errTxDone
	}
	t.store.mu.Lock()
	ids := make([]int64, 0, len(t.store.items))
	for id := range t.store.items {
		ids = append(ids, id)
	}
	t.store.mu.Unlock()
	for id := range t.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	from, to := q.DayRange()
	var matches []domain.Item
	var last int64
	for _, id := range ids {
		if id == last {
			continue
		}
		last = id
		item, _ := t.item(id)
		if item.Kind != q.Kind || item.Origin != q.Origin {
			continue
		}
		if q.Destination != "" && item.Destination != q.Destination {
			continue
		}
		if item.StartsAt.Before(from) || !item.StartsAt.Before(to) || item.Amount < q.Units {
			continue
		}
		matches = append(matches, item)
	}
	return matches, nil
}

// LockItem reads the committed item and yields, so that a writer that
// skipped the item lock gets a chance to interleave.
func (t *memTx) LockItem(_ context.Context, id int64) (*domain.Item, error) {
	if t.done {
		return nil, errTxDone
	}
	item, ok := t.item(id)
	runtime.Gosched()
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (t *memTx) UpdateItemAmount(_ context.Context, item *domain.Item) error {
	if t.done {
		return errTxDone
	}
	t.store.mu.Lock()
	t.store.requireLock(item.ID, "update item")
	t.store.mu.Unlock()
	t.items[item.ID] = *item
	return nil
}

func (t *memTx) FindReservation(_ context.Context, kind string, transactionID uuid.UUID) (*domain.Reservation, error) {
	if t.done {
		return nil, errTxDone
	}
	for _, r := range t.reservations {
		if r != nil && r.Kind == kind && r.TransactionID == transactionID {
			found := *r
			return &found, nil
		}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, r := range t.store.reservations {
		if _, touched := t.reservations[id]; touched {
			continue
		}
		if r.Kind == kind && r.TransactionID == transactionID {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertReservation(_ context.Context, r *domain.Reservation) error {
	if t.done {
		return errTxDone
	}
	if hook := t.store.beforeInsert; hook != nil {
		hook(r)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.requireLock(r.ItemID, "insert reservation")
	if t.store.conflicts(r) {
		return errors.WithStack(domain.ErrDuplicateReservation)
	}
	t.store.nextResID++
	r.ID = t.store.nextResID
	stored := *r
	t.reservations[r.ID] = &stored
	return nil
}

// conflicts must be called with s.mu held.
func (s *memStore) conflicts(r *domain.Reservation) bool {
	for id, existing := range s.reservations {
		if id != r.ID && existing.Kind == r.Kind && existing.TransactionID == r.TransactionID {
			return true
		}
	}
	return false
}

func (t *memTx) UpdateReservation(_ context.Context, r *domain.Reservation) error {
	if t.done {
		return errTxDone
	}
	t.store.mu.Lock()
	t.store.requireLock(r.ItemID, "update reservation")
	t.store.mu.Unlock()
	stored := *r
	t.reservations[r.ID] = &stored
	return nil
}

func (t *memTx) DeleteReservation(_ context.Context, id int64) error {
	if t.done {
		return errTxDone
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.reservations[id]
	if pending := t.reservations[id]; pending != nil {
		r, ok = *pending, true
	}
	if !ok {
		return errors.Errorf("reservation %d not found", id)
	}
	t.store.requireLock(r.ItemID, "delete reservation")
	t.reservations[id] = nil
	return nil
}

// Commit publishes the buffered writes. Item locks must still be held so
// the next holder reads what was written.
func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	runtime.Gosched()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range t.reservations {
		if r != nil && s.conflicts(r) {
			return errors.WithStack(domain.ErrDuplicateReservation)
		}
	}

	for id, item := range t.items {
		if _, existed := s.items[id]; existed {
			s.requireLock(id, "commit item")
		}
		if item.Amount < 0 {
			s.violations = append(s.violations, fmt.Sprintf("item %d committed with amount %d", id, item.Amount))
		}
		s.items[id] = item
	}
	for id, r := range t.reservations {
		if r == nil {
			delete(s.reservations, id)
			continue
		}
		s.reservations[id] = *r
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	return nil
}

// trackingLocker wraps a real item locker and remembers which items are
// currently locked.
type trackingLocker struct {
	inner domain.ItemLocker
	mu    sync.Mutex
	held  map[int64]int
}

func newTrackingLocker(inner domain.ItemLocker) *trackingLocker {
	return &trackingLocker{inner: inner, held: map[int64]int{}}
}

func (l *trackingLocker) Lock(ctx context.Context, itemID int64) (func(), error) {
	unlock, err := l.inner.Lock(ctx, itemID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.held[itemID]++
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		l.held[itemID]--
		l.mu.Unlock()
		unlock()
	}, nil
}

func (l *trackingLocker) holds(itemID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[itemID] > 0
}
