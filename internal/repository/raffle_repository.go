package repository

// This file defines the raffle repository.  Creating a raffle also
// generates its ticket inventory: one AVAILABLE ticket per number from 1 to
// TotalTickets, inserted in batches inside the same transaction so that a
// raffle never exists with a partial inventory.

import (
	"context"      // context carries deadlines to DB operations
	"database/sql" // sql provides the DB handle and transactions
	"time"         // time stamps created rows

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// ticketBatchSize bounds the number of rows in one bulk INSERT.
const ticketBatchSize = 1000

// RaffleRepo encapsulates the queries related to raffles and their ticket
// inventory.  It implements RaffleStore.
type RaffleRepo struct {
	db *sql.DB // db is the underlying connection pool
}

// NewRaffleRepo constructs a RaffleRepo with the provided DB handle.
func NewRaffleRepo(db *sql.DB) *RaffleRepo {
	return &RaffleRepo{db: db}
}

// CreateRaffle inserts the raffle and its tickets in one transaction and
// returns the raffle with its ID populated.
func (r *RaffleRepo) CreateRaffle(ctx context.Context, rf model.Raffle) (model.Raffle, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Raffle{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if rf.CreatedAt.IsZero() {
		rf.CreatedAt = now
	}
	if rf.Status == "" {
		rf.Status = model.RaffleDraft
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO raffles (association_id, name, ticket_price_cents, total_tickets, status, starts_at, ends_at, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rf.AssociationID, rf.Name, rf.TicketPriceCents, rf.TotalTickets, string(rf.Status),
		rf.StartsAt.UTC(), rf.EndsAt.UTC(), rf.CreatedAt.UTC(),
	)
	if err != nil {
		return model.Raffle{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Raffle{}, err
	}
	rf.ID = uint64(id)

	// Build the INSERT with one placeholder group per ticket, flushing
	// every ticketBatchSize rows.
	for start := uint32(1); start <= rf.TotalTickets; start += ticketBatchSize {
		end := start + ticketBatchSize - 1
		if end > rf.TotalTickets {
			end = rf.TotalTickets
		}
		query := `INSERT INTO tickets (raffle_id, number, status, updated_at) VALUES `
		args := make([]interface{}, 0, int(end-start+1)*3)
		for n := start; n <= end; n++ {
			if n > start {
				query += ","
			}
			query += "(?, ?, 'AVAILABLE', ?)"
			args = append(args, rf.ID, n, now)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return model.Raffle{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Raffle{}, err
	}
	committed = true
	return rf, nil
}

// ListRaffles returns raffles ordered by ID.  An empty status lists all of
// them.
func (r *RaffleRepo) ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error) {
	q := `SELECT ` + raffleCols + ` FROM raffles`
	var args []interface{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Raffle{}
	for rows.Next() {
		rf, err := scanRaffle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}
