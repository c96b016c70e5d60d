package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// OrderRepo is the MySQL order finalizer.  Finalize writes the order and
// its payment in a transaction of its own; the caller's cart transaction
// is still open at that point, which is why orders.cart_id carries no
// foreign key (the check would wait on the locked cart row).
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns an OrderRepo bound to db.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// Finalize creates a COMPLETED order and its payment record.
func (r *OrderRepo) Finalize(ctx context.Context, h model.OrderHandoff) (model.OrderReceipt, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (cart_id, user_id, customer_id, total_amount_cents, status, created_at)
         VALUES (?, ?, ?, ?, 'COMPLETED', ?)`,
		h.CartID, h.UserID, h.CustomerID, h.TotalAmountCents, now,
	)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return model.OrderReceipt{}, err
	}

	ref := uuid.NewString()
	res, err = tx.ExecContext(ctx,
		`INSERT INTO payments (order_id, method, amount_cents, reference, created_at) VALUES (?, ?, ?, ?, ?)`,
		orderID, string(h.PaymentMethod), h.TotalAmountCents, ref, now,
	)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	paymentID, err := res.LastInsertId()
	if err != nil {
		return model.OrderReceipt{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.OrderReceipt{}, err
	}
	committed = true
	return model.OrderReceipt{
		OrderID:          uint64(orderID),
		PaymentID:        uint64(paymentID),
		PaymentReference: ref,
		TotalAmountCents: h.TotalAmountCents,
		CreatedAt:        now,
	}, nil
}

// Void marks a finalized order VOIDED.  It is used to compensate when the
// cart transaction fails to commit after finalization.
func (r *OrderRepo) Void(ctx context.Context, rc model.OrderReceipt) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = 'VOIDED' WHERE id = ? AND status = 'COMPLETED'`, rc.OrderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrder loads an order by ID.
func (r *OrderRepo) GetOrder(ctx context.Context, id uint64) (model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, cart_id, user_id, customer_id, total_amount_cents, status, created_at FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.CartID, &o.UserID, &o.CustomerID, &o.TotalAmountCents, &status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	o.Status = model.OrderStatus(status)
	return o, err
}

// MemoryOrders is the in-process order finalizer paired with MemoryStore.
// It keeps its own lock and never calls back into the store.
type MemoryOrders struct {
	mu       sync.Mutex
	orders   map[uint64]model.Order
	payments map[uint64]model.Payment
	nextID   uint64
}

// NewMemoryOrders returns an empty MemoryOrders.
func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{
		orders:   make(map[uint64]model.Order),
		payments: make(map[uint64]model.Payment),
	}
}

// Finalize records a COMPLETED order and its payment.
func (m *MemoryOrders) Finalize(ctx context.Context, h model.OrderHandoff) (model.OrderReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.nextID++
	o := model.Order{
		ID:               m.nextID,
		CartID:           h.CartID,
		UserID:           h.UserID,
		CustomerID:       h.CustomerID,
		TotalAmountCents: h.TotalAmountCents,
		Status:           model.OrderCompleted,
		CreatedAt:        now,
	}
	p := model.Payment{
		ID:          m.nextID,
		OrderID:     o.ID,
		Method:      h.PaymentMethod,
		AmountCents: h.TotalAmountCents,
		Reference:   uuid.NewString(),
		CreatedAt:   now,
	}
	m.orders[o.ID] = o
	m.payments[p.ID] = p
	return model.OrderReceipt{
		OrderID:          o.ID,
		PaymentID:        p.ID,
		PaymentReference: p.Reference,
		TotalAmountCents: o.TotalAmountCents,
		CreatedAt:        now,
	}, nil
}

// Void marks an order VOIDED.
func (m *MemoryOrders) Void(ctx context.Context, rc model.OrderReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[rc.OrderID]
	if !ok || o.Status != model.OrderCompleted {
		return ErrNotFound
	}
	o.Status = model.OrderVoided
	m.orders[o.ID] = o
	return nil
}

// GetOrder returns an order by ID.
func (m *MemoryOrders) GetOrder(ctx context.Context, id uint64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

// Orders returns every recorded order in ID order.
func (m *MemoryOrders) Orders() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0, len(m.orders))
	for id := uint64(1); id <= m.nextID; id++ {
		if o, ok := m.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}
