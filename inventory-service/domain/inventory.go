package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidUnits         = errors.New("units must be positive")
	// ErrDuplicateReservation is returned by Tx.InsertReservation when the
	// kind already holds a reservation for the transaction.
	ErrDuplicateReservation = errors.New("reservation already exists")
)

// Item is a bookable inventory line: one flight, or one hotel's room pool on a
// given day. Amount is the capacity still free.
type Item struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	StartsAt    time.Time `json:"starts_at"`
	Amount      int       `json:"amount"`
}

// Reserve takes units out of the free capacity.
func (i *Item) Reserve(units int) error {
	if units <= 0 {
		return ErrInvalidUnits
	}
	if i.Amount < units {
		return ErrInsufficientCapacity
	}
	i.Amount -= units
	return nil
}

// Release gives units back to the free capacity.
func (i *Item) Release(units int) {
	i.Amount += units
}

// Fits reports whether the item can take units right now.
func (i *Item) Fits(units int) bool {
	return units > 0 && i.Amount >= units
}

// Reservation is the capacity held on an item for one saga transaction.
// Temporary holds become permanent on confirm; both are removed on
// compensation. A kind holds at most one reservation per transaction.
type Reservation struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	TransactionID uuid.UUID `json:"transaction_id"`
	ItemID        int64     `json:"item_id"`
	Amount        int       `json:"amount"`
	Temporary     bool      `json:"temporary"`
	TemporaryAt   time.Time `json:"temporary_at"`
}

// NewReservation creates a temporary hold.
func NewReservation(kind string, transactionID uuid.UUID, itemID int64, units int, at time.Time) *Reservation {
	return &Reservation{
		Kind:          kind,
		TransactionID: transactionID,
		ItemID:        itemID,
		Amount:        units,
		Temporary:     true,
		TemporaryAt:   at,
	}
}

// Confirm makes the hold permanent. It reports whether anything changed.
func (r *Reservation) Confirm() bool {
	if !r.Temporary {
		return false
	}
	r.Temporary = false
	return true
}

// Query selects the items a hold may be placed on.
type Query struct {
	Kind        string
	Origin      string
	Destination string
	Day         time.Time
	Units       int
}

// DayRange returns the half-open interval covering the query day in UTC.
func (q Query) DayRange() (time.Time, time.Time) {
	d := q.Day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// SelectionPolicy orders the candidate items a hold is attempted on.
type SelectionPolicy interface {
	Name() string
	Rank(candidates []Item) []Item
}

// FirstMatch tries candidates in ascending ID order.
type FirstMatch struct{}

func (FirstMatch) Name() string { return "first_match" }

func (FirstMatch) Rank(candidates []Item) []Item {
	ranked := append([]Item(nil), candidates...)
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].ID < ranked[b].ID })
	return ranked
}

// MostAvailable tries the item with the largest free capacity first.
type MostAvailable struct{}

func (MostAvailable) Name() string { return "most_available" }

func (MostAvailable) Rank(candidates []Item) []Item {
	ranked := append([]Item(nil), candidates...)
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Amount == ranked[b].Amount {
			return ranked[a].ID < ranked[b].ID
		}
		return ranked[a].Amount > ranked[b].Amount
	})
	return ranked
}

// SelectionPolicyByName resolves a configured policy name.
func SelectionPolicyByName(name string) (SelectionPolicy, error) {
	switch name {
	case "", FirstMatch{}.Name():
		return FirstMatch{}, nil
	case MostAvailable{}.Name():
		return MostAvailable{}, nil
	default:
		return nil, errors.Errorf("unknown selection policy %q", name)
	}
}

// Store opens storage transactions. Everything one reservation operation
// reads or writes goes through a single Tx. Reservation lookups are scoped
// to a kind so flight and hotel can share one database.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	FindItem(ctx context.Context, id int64) (*Item, error)
	FindReservation(ctx context.Context, kind string, transactionID uuid.UUID) (*Reservation, error)
	FindExpiredReservations(ctx context.Context, kind string, before time.Time, limit int) ([]Reservation, error)
}

// Tx is a unit of work against the inventory tables. Finders return nil, nil
// when nothing matches.
type Tx interface {
	InsertItem(ctx context.Context, item *Item) error
	FindItems(ctx context.Context, q Query) ([]Item, error)
	LockItem(ctx context.Context, id int64) (*Item, error)
	UpdateItemAmount(ctx context.Context, item *Item) error
	FindReservation(ctx context.Context, kind string, transactionID uuid.UUID) (*Reservation, error)
	InsertReservation(ctx context.Context, reservation *Reservation) error
	UpdateReservation(ctx context.Context, reservation *Reservation) error
	DeleteReservation(ctx context.Context, id int64) error
	Commit() error
	Rollback() error
}

// ItemLocker serializes every mutation of one item. unlock must be called
// exactly once when err is nil.
type ItemLocker interface {
	Lock(ctx context.Context, itemID int64) (unlock func(), err error)
}

// Decision is an Evaluator's verdict on a hold request.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionReject
)

// Evaluation is what an Evaluator is asked to judge.
type Evaluation struct {
	TransactionID uuid.UUID
	Query         Query
}

// Evaluator stands in for external availability or pricing checks that run
// before capacity is held.
type Evaluator interface {
	Evaluate(ctx context.Context, e Evaluation) (Decision, error)
}
