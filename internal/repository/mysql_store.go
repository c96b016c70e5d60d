package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

const (
	ticketCols = `id, raffle_id, number, status, cart_id, customer_id, updated_at`
	cartCols   = `id, user_id, status, created_at, updated_at`
	raffleCols = `id, association_id, name, ticket_price_cents, total_tickets, status, starts_at, ends_at, created_at`
)

// MySQLStore implements Store on InnoDB.  Transactions run at READ
// COMMITTED so that the only locks taken are the row locks requested with
// SELECT ... FOR UPDATE and those of the conditional UPDATE statements.
// The one-active-cart rule is enforced by a unique index on the generated
// column carts.active_user_id.
type MySQLStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewMySQLStore returns a MySQLStore bound to the provided database.
func NewMySQLStore(db *sql.DB, log *logrus.Logger) *MySQLStore {
	return &MySQLStore{db: db, log: log}
}

// DB exposes the underlying handle for health checks.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// WithTx implements Store.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		err = classify(err)
		if errors.Is(err, ErrRetryable) {
			s.log.WithError(err).Debug("transaction aborted by lock conflict")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

// GetRaffle implements Store.
func (s *MySQLStore) GetRaffle(ctx context.Context, id uint64) (model.Raffle, error) {
	return getRaffle(ctx, s.db, id)
}

// GetCart returns a cart together with the tickets currently reserved in
// it.  Carts in a terminal status hold no tickets.
func (s *MySQLStore) GetCart(ctx context.Context, id uint64) (model.Cart, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cartCols+` FROM carts WHERE id = ?`, id)
	c, err := scanCart(row)
	if err != nil {
		return model.Cart{}, err
	}
	if c.Tickets, err = cartTickets(ctx, s.db, id, false); err != nil {
		return model.Cart{}, err
	}
	return c, nil
}

// ActiveCartForUser implements Store.
func (s *MySQLStore) ActiveCartForUser(ctx context.Context, userID uint64) (model.Cart, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cartCols+` FROM carts WHERE active_user_id = ?`, userID)
	c, err := scanCart(row)
	if err != nil {
		return model.Cart{}, err
	}
	if c.Tickets, err = cartTickets(ctx, s.db, c.ID, false); err != nil {
		return model.Cart{}, err
	}
	return c, nil
}

// FindExpiredCarts implements Store.
func (s *MySQLStore) FindExpiredCarts(ctx context.Context, cutoff time.Time) ([]model.Cart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cartCols+` FROM carts
         WHERE status = 'ACTIVE' AND updated_at < ?
         ORDER BY updated_at, id`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, err
	}
	carts, err := scanCarts(rows)
	if err != nil {
		return nil, err
	}
	return carts, s.attachTickets(ctx, carts)
}

// AvailableTickets implements Store.
func (s *MySQLStore) AvailableTickets(ctx context.Context, raffleID uint64) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE raffle_id = ? AND status = 'AVAILABLE' ORDER BY number`,
		raffleID,
	)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

// SearchTickets implements Store.
func (s *MySQLStore) SearchTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error) {
	where := []string{"raffle_id = ?"}
	args := []interface{}{f.RaffleID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.NumberFrom > 0 {
		where = append(where, "number >= ?")
		args = append(args, f.NumberFrom)
	}
	if f.NumberTo > 0 {
		where = append(where, "number <= ?")
		args = append(args, f.NumberTo)
	}
	limit, offset := pageBounds(f.Limit, f.Offset)
	args = append(args, limit, offset)

	q := `SELECT ` + ticketCols + ` FROM tickets WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY number LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

// SearchCarts implements Store.
func (s *MySQLStore) SearchCarts(ctx context.Context, f CartFilter) ([]model.Cart, error) {
	where := []string{"1 = 1"}
	var args []interface{}
	if f.UserID > 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	limit, offset := pageBounds(f.Limit, f.Offset)
	args = append(args, limit, offset)

	q := `SELECT ` + cartCols + ` FROM carts WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	carts, err := scanCarts(rows)
	if err != nil {
		return nil, err
	}
	return carts, s.attachTickets(ctx, carts)
}

// attachTickets loads the reserved tickets of every cart with one query.
func (s *MySQLStore) attachTickets(ctx context.Context, carts []model.Cart) error {
	if len(carts) == 0 {
		return nil
	}
	ids := make([]uint64, len(carts))
	index := make(map[uint64]int, len(carts))
	for i, c := range carts {
		ids[i] = c.ID
		index[c.ID] = i
	}
	in, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketCols+` FROM tickets
         WHERE status = 'RESERVED' AND cart_id IN `+in+`
         ORDER BY updated_at, id`,
		args...,
	)
	if err != nil {
		return err
	}
	tickets, err := scanTickets(rows)
	if err != nil {
		return err
	}
	for _, t := range tickets {
		if t.CartID == nil {
			continue
		}
		i := index[*t.CartID]
		carts[i].Tickets = append(carts[i].Tickets, t)
	}
	return nil
}

// mysqlTx implements Tx over a *sql.Tx.
type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) GetRaffle(ctx context.Context, id uint64) (model.Raffle, error) {
	return getRaffle(ctx, t.tx, id)
}

func (t *mysqlTx) LockTickets(ctx context.Context, ids []uint64) ([]model.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE id IN `+in+` ORDER BY id FOR UPDATE`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

func (t *mysqlTx) ReserveTickets(ctx context.Context, cartID uint64, ids []uint64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := inClause(ids)
	args := append([]interface{}{cartID, now.UTC()}, idArgs...)
	return t.exec(ctx,
		`UPDATE tickets SET status = 'RESERVED', cart_id = ?, updated_at = ?
         WHERE status = 'AVAILABLE' AND id IN `+in,
		args...,
	)
}

func (t *mysqlTx) ReleaseTickets(ctx context.Context, ids []uint64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := inClause(ids)
	args := append([]interface{}{now.UTC()}, idArgs...)
	return t.exec(ctx,
		`UPDATE tickets SET status = 'AVAILABLE', cart_id = NULL, updated_at = ?
         WHERE status = 'RESERVED' AND id IN `+in,
		args...,
	)
}

func (t *mysqlTx) ReleaseCartTickets(ctx context.Context, cartID uint64, now time.Time) ([]uint64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id FROM tickets WHERE cart_id = ? AND status = 'RESERVED' ORDER BY id FOR UPDATE`,
		cartID,
	)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []uint64{}, nil
	}
	if _, err := t.ReleaseTickets(ctx, ids, now); err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *mysqlTx) SellTickets(ctx context.Context, ids []uint64, customerID uint64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := inClause(ids)
	args := append([]interface{}{customerID, now.UTC()}, idArgs...)
	return t.exec(ctx,
		`UPDATE tickets SET status = 'SOLD', cart_id = NULL, customer_id = ?, updated_at = ?
         WHERE status = 'RESERVED' AND id IN `+in,
		args...,
	)
}

func (t *mysqlTx) ActiveCartForUser(ctx context.Context, userID uint64) (model.Cart, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+cartCols+` FROM carts WHERE active_user_id = ? FOR UPDATE`, userID)
	return scanCart(row)
}

func (t *mysqlTx) LockCart(ctx context.Context, cartID uint64) (model.Cart, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+cartCols+` FROM carts WHERE id = ? FOR UPDATE`, cartID)
	return scanCart(row)
}

func (t *mysqlTx) CreateCart(ctx context.Context, userID uint64, now time.Time) (model.Cart, error) {
	now = now.UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO carts (user_id, status, created_at, updated_at) VALUES (?, 'ACTIVE', ?, ?)`,
		userID, now, now,
	)
	if err != nil {
		if isDuplicate(err) {
			return model.Cart{}, ErrActiveCartExists
		}
		return model.Cart{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Cart{}, err
	}
	return model.Cart{
		ID:        uint64(id),
		UserID:    userID,
		Status:    model.CartActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (t *mysqlTx) TouchCart(ctx context.Context, cartID uint64, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE carts SET updated_at = ? WHERE id = ?`, now.UTC(), cartID)
	return err
}

func (t *mysqlTx) UpdateCartStatus(ctx context.Context, cartID uint64, from, to model.CartStatus, now time.Time) (bool, error) {
	n, err := t.exec(ctx,
		`UPDATE carts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now.UTC(), cartID, string(from),
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *mysqlTx) DeleteCart(ctx context.Context, cartID uint64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM carts WHERE id = ?`, cartID)
	return err
}

func (t *mysqlTx) CartTickets(ctx context.Context, cartID uint64) ([]model.Ticket, error) {
	return cartTickets(ctx, t.tx, cartID, true)
}

func (t *mysqlTx) exec(ctx context.Context, q string, args ...interface{}) (int64, error) {
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getRaffle(ctx context.Context, q queryer, id uint64) (model.Raffle, error) {
	row := q.QueryRowContext(ctx, `SELECT `+raffleCols+` FROM raffles WHERE id = ?`, id)
	r, err := scanRaffle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Raffle{}, ErrNotFound
	}
	return r, err
}

func cartTickets(ctx context.Context, q queryer, cartID uint64, lock bool) ([]model.Ticket, error) {
	query := `SELECT ` + ticketCols + ` FROM tickets
              WHERE cart_id = ? AND status = 'RESERVED'
              ORDER BY updated_at, id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRaffle(s scanner) (model.Raffle, error) {
	var r model.Raffle
	var status string
	err := s.Scan(&r.ID, &r.AssociationID, &r.Name, &r.TicketPriceCents, &r.TotalTickets,
		&status, &r.StartsAt, &r.EndsAt, &r.CreatedAt)
	r.Status = model.RaffleStatus(status)
	return r, err
}

func scanCart(s scanner) (model.Cart, error) {
	var c model.Cart
	var status string
	err := s.Scan(&c.ID, &c.UserID, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Cart{}, ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	c.Status = model.CartStatus(status)
	return c, nil
}

func scanCarts(rows *sql.Rows) ([]model.Cart, error) {
	defer rows.Close()
	carts := []model.Cart{}
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, c)
	}
	return carts, rows.Err()
}

func scanTickets(rows *sql.Rows) ([]model.Ticket, error) {
	defer rows.Close()
	tickets := []model.Ticket{}
	for rows.Next() {
		var (
			t        model.Ticket
			status   string
			cart     sql.Null[uint64]
			customer sql.Null[uint64]
		)
		if err := rows.Scan(&t.ID, &t.RaffleID, &t.Number, &status, &cart, &customer, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = model.TicketStatus(status)
		if cart.Valid {
			v := cart.V
			t.CartID = &v
		}
		if customer.Valid {
			v := customer.V
			t.CustomerID = &v
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// inClause renders "(?, ?, ...)" for ids together with the matching args.
func inClause(ids []uint64) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, len(ids))
	b.WriteByte('(')
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
		args[i] = id
	}
	b.WriteByte(')')
	return b.String(), args
}
