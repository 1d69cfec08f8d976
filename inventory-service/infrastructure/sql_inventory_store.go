package infrastructure

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ domain.Store = (*SQLInventoryStore)(nil)

// SQLInventoryStore implements domain.Store on top of sqlx. It runs on
// PostgreSQL (lib/pq or pgx) and SQLite. Timestamps are stored as unix
// milliseconds so both dialects compare them the same way.
type SQLInventoryStore struct {
	db        *sqlx.DB
	forUpdate bool
}

// NewSQLInventoryStore creates a new SQLInventoryStore
func NewSQLInventoryStore(db *sqlx.DB) *SQLInventoryStore {
	return &SQLInventoryStore{
		db:        db,
		forUpdate: isPostgres(db.DriverName()),
	}
}

// sqlItem represents an inventory item in database
type sqlItem struct {
	ID          int64  `db:"id"`
	Kind        string `db:"kind"`
	Origin      string `db:"origin"`
	Destination string `db:"destination"`
	StartsAt    int64  `db:"starts_at"`
	Amount      int    `db:"amount"`
}

// sqlReservation represents a reservation in database
type sqlReservation struct {
	ID            int64     `db:"id"`
	Kind          string    `db:"kind"`
	TransactionID uuid.UUID `db:"transaction_id"`
	ItemID        int64     `db:"item_id"`
	Amount        int       `db:"amount"`
	Temporary     bool      `db:"temporary"`
	TemporaryAt   int64     `db:"temporary_at"`
}

const (
	itemColumns        = `id, kind, origin, destination, starts_at, amount`
	reservationColumns = `id, kind, transaction_id, item_id, amount, temporary, temporary_at`
)

// Begin opens a transaction bound to ctx. Cancelling ctx rolls it back.
func (s *SQLInventoryStore) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	return &sqlInventoryTx{tx: tx, forUpdate: s.forUpdate}, nil
}

// FindItem finds an item by ID
func (s *SQLInventoryStore) FindItem(ctx context.Context, id int64) (*domain.Item, error) {
	return findItem(ctx, s.db, id, false)
}

// FindReservation finds the reservation kind holds for a saga transaction
func (s *SQLInventoryStore) FindReservation(ctx context.Context, kind string, transactionID uuid.UUID) (*domain.Reservation, error) {
	return findReservation(ctx, s.db, kind, transactionID)
}

// FindExpiredReservations lists the temporary holds of kind taken before
// the cutoff, oldest first.
func (s *SQLInventoryStore) FindExpiredReservations(ctx context.Context, kind string, before time.Time, limit int) ([]domain.Reservation, error) {
	query := s.db.Rebind(`
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE kind = ? AND temporary = ? AND temporary_at < ?
		ORDER BY temporary_at, id
		LIMIT ?`)

	var rows []sqlReservation
	if err := s.db.SelectContext(ctx, &rows, query, kind, true, toMillis(before), limit); err != nil {
		return nil, errors.Wrap(err, "failed to find expired reservations")
	}

	reservations := make([]domain.Reservation, len(rows))
	for i := range rows {
		reservations[i] = *reservationToDomain(&rows[i])
	}
	return reservations, nil
}

type sqlInventoryTx struct {
	tx        *sqlx.Tx
	forUpdate bool
}

// InsertItem inserts a new item and sets its ID
func (t *sqlInventoryTx) InsertItem(ctx context.Context, item *domain.Item) error {
	query := t.tx.Rebind(`
		INSERT INTO inventory_items (kind, origin, destination, starts_at, amount)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)

	row := itemToSQL(item)
	err := t.tx.QueryRowxContext(ctx, query, row.Kind, row.Origin, row.Destination, row.StartsAt, row.Amount).Scan(&item.ID)
	if err != nil {
		return errors.Wrap(err, "failed to insert item")
	}
	return nil
}

// FindItems lists the items matching q that still fit q.Units, by ID
func (t *sqlInventoryTx) FindItems(ctx context.Context, q domain.Query) ([]domain.Item, error) {
	from, to := q.DayRange()

	var sb strings.Builder
	sb.WriteString(`SELECT ` + itemColumns + ` FROM inventory_items WHERE kind = ? AND origin = ?`)
	args := []interface{}{q.Kind, q.Origin}
	if q.Destination != "" {
		sb.WriteString(` AND destination = ?`)
		args = append(args, q.Destination)
	}
	sb.WriteString(` AND starts_at >= ? AND starts_at < ? AND amount >= ? ORDER BY id`)
	args = append(args, toMillis(from), toMillis(to), q.Units)

	var rows []sqlItem
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(sb.String()), args...); err != nil {
		return nil, errors.Wrap(err, "failed to find items")
	}

	items := make([]domain.Item, len(rows))
	for i := range rows {
		items[i] = *itemToDomain(&rows[i])
	}
	return items, nil
}

// LockItem re-reads an item inside the transaction. On PostgreSQL the row
// stays locked until commit or rollback.
func (t *sqlInventoryTx) LockItem(ctx context.Context, id int64) (*domain.Item, error) {
	return findItem(ctx, t.tx, id, t.forUpdate)
}

// UpdateItemAmount persists the item's free capacity
func (t *sqlInventoryTx) UpdateItemAmount(ctx context.Context, item *domain.Item) error {
	query := t.tx.Rebind(`UPDATE inventory_items SET amount = ? WHERE id = ?`)

	res, err := t.tx.ExecContext(ctx, query, item.Amount, item.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update item amount")
	}
	return expectOneRow(res, "item")
}

// FindReservation finds the reservation kind holds for a saga transaction
func (t *sqlInventoryTx) FindReservation(ctx context.Context, kind string, transactionID uuid.UUID) (*domain.Reservation, error) {
	return findReservation(ctx, t.tx, kind, transactionID)
}

// InsertReservation inserts a reservation and sets its ID. A second
// reservation of the same kind for the transaction fails with
// domain.ErrDuplicateReservation.
func (t *sqlInventoryTx) InsertReservation(ctx context.Context, reservation *domain.Reservation) error {
	query := t.tx.Rebind(`
		INSERT INTO reservations (kind, transaction_id, item_id, amount, temporary, temporary_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)

	row := reservationToSQL(reservation)
	err := t.tx.QueryRowxContext(ctx, query,
		row.Kind, row.TransactionID, row.ItemID, row.Amount, row.Temporary, row.TemporaryAt,
	).Scan(&reservation.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.WithStack(domain.ErrDuplicateReservation)
		}
		return errors.Wrap(err, "failed to insert reservation")
	}
	return nil
}

// UpdateReservation persists the reservation's temporary flag
func (t *sqlInventoryTx) UpdateReservation(ctx context.Context, reservation *domain.Reservation) error {
	query := t.tx.Rebind(`UPDATE reservations SET temporary = ?, temporary_at = ? WHERE id = ?`)

	res, err := t.tx.ExecContext(ctx, query, reservation.Temporary, toMillis(reservation.TemporaryAt), reservation.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update reservation")
	}
	return expectOneRow(res, "reservation")
}

// DeleteReservation removes a reservation
func (t *sqlInventoryTx) DeleteReservation(ctx context.Context, id int64) error {
	query := t.tx.Rebind(`DELETE FROM reservations WHERE id = ?`)

	res, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete reservation")
	}
	return expectOneRow(res, "reservation")
}

func (t *sqlInventoryTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Rollback is safe to call after Commit.
func (t *sqlInventoryTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return errors.Wrap(err, "failed to roll back transaction")
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func findItem(ctx context.Context, q queryer, id int64, forUpdate bool) (*domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row sqlItem
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(query), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Item not found
		}
		return nil, errors.Wrap(err, "failed to find item")
	}
	return itemToDomain(&row), nil
}

func findReservation(ctx context.Context, q queryer, kind string, transactionID uuid.UUID) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE kind = ? AND transaction_id = ?`

	var row sqlReservation
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(query), kind, transactionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Reservation not found
		}
		return nil, errors.Wrap(err, "failed to find reservation")
	}
	return reservationToDomain(&row), nil
}

// isUniqueViolation recognizes a unique constraint failure from any of the
// supported drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to read affected %s rows", what)
	}
	if n != 1 {
		return errors.Errorf("expected one %s row to change, got %d", what, n)
	}
	return nil
}

func itemToSQL(item *domain.Item) *sqlItem {
	return &sqlItem{
		ID:          item.ID,
		Kind:        item.Kind,
		Origin:      item.Origin,
		Destination: item.Destination,
		StartsAt:    toMillis(item.StartsAt),
		Amount:      item.Amount,
	}
}

func itemToDomain(row *sqlItem) *domain.Item {
	return &domain.Item{
		ID:          row.ID,
		Kind:        row.Kind,
		Origin:      row.Origin,
		Destination: row.Destination,
		StartsAt:    fromMillis(row.StartsAt),
		Amount:      row.Amount,
	}
}

func reservationToSQL(r *domain.Reservation) *sqlReservation {
	return &sqlReservation{
		ID:            r.ID,
		Kind:          r.Kind,
		TransactionID: r.TransactionID,
		ItemID:        r.ItemID,
		Amount:        r.Amount,
		Temporary:     r.Temporary,
		TemporaryAt:   toMillis(r.TemporaryAt),
	}
}

func reservationToDomain(row *sqlReservation) *domain.Reservation {
	return &domain.Reservation{
		ID:            row.ID,
		Kind:          row.Kind,
		TransactionID: row.TransactionID,
		ItemID:        row.ItemID,
		Amount:        row.Amount,
		Temporary:     row.Temporary,
		TemporaryAt:   fromMillis(row.TemporaryAt),
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isPostgres(driverName string) bool {
	return driverName == "postgres" || driverName == "pgx"
}
