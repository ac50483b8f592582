package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mindcare/internal/model"
	"mindcare/internal/pricing"
)

// OrderService owns the order state machine: pending is the only
// non-terminal state, and every transition out of it happens here inside a
// single database transaction.
type OrderService struct {
	db      *sql.DB
	pricing *pricing.Service
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewOrderService(db *sql.DB, pricingSvc *pricing.Service, ttl time.Duration, log *zap.Logger) *OrderService {
	return &OrderService{
		db:      db,
		pricing: pricingSvc,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// CreateRegistrationOrder creates the one-time registration-fee order for
// a psychologist. The amount always comes from the pricing service, never
// from the caller.
func (s *OrderService) CreateRegistrationOrder(ctx context.Context, psychologist *model.User, currency, providerName string) (*model.Order, error) {
	if psychologist.Role != model.RolePsychologist {
		return nil, fmt.Errorf("user %s is not a psychologist", psychologist.ID)
	}

	amount, err := s.pricing.ServicePrice(pricing.ServiceRegistration)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:              uuid.New(),
		OrderType:       model.OrderTypeRegistration,
		UserID:          psychologist.ID,
		PsychologistID:  uuid.NullUUID{UUID: psychologist.ID, Valid: true},
		Amount:          amount,
		Currency:        currency,
		PaymentProvider: providerName,
		Status:          model.OrderPending,
		Description:     fmt.Sprintf("Registration fee for %s", psychologist.Email),
		Metadata: model.OrderMetadata{
			ServiceType:    pricing.ServiceRegistration,
			PsychologistID: psychologist.ID.String(),
		},
	}

	return s.create(ctx, order)
}

// CreateAppointmentOrder creates a booking order for a parent with a
// psychologist. The session type picks the rate.
func (s *OrderService) CreateAppointmentOrder(ctx context.Context, user, psychologist *model.User, sessionType, appointmentDate, currency, providerName string) (*model.Order, error) {
	amount, err := s.pricing.SessionPrice(sessionType)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:              uuid.New(),
		OrderType:       model.OrderTypeAppointment,
		UserID:          user.ID,
		PsychologistID:  uuid.NullUUID{UUID: psychologist.ID, Valid: true},
		Amount:          amount,
		Currency:        currency,
		PaymentProvider: providerName,
		Status:          model.OrderPending,
		Description:     fmt.Sprintf("%s with %s", sessionType, psychologist.Email),
		Metadata: model.OrderMetadata{
			ServiceType:      sessionType,
			SessionType:      sessionType,
			PsychologistID:   psychologist.ID.String(),
			PsychologistName: psychologist.Email,
			AppointmentDate:  appointmentDate,
		},
	}

	return s.create(ctx, order)
}

// create runs the duplicate-active-order check and the insert in one
// transaction, serialized per (user, order_type) through an advisory lock
// so two concurrent requests cannot both pass the check.
func (s *OrderService) create(ctx context.Context, order *model.Order) (*model.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	lockKey := order.UserID.String() + ":" + string(order.OrderType)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, fmt.Errorf("acquire order lock: %w", err)
	}

	now := s.now()

	// Normalize stale pending orders first: a pending order whose expiry
	// has passed is not blocking, and its stored status is flipped here
	// before the check so later read paths see 'expired'.
	if err := s.expireStaleLocked(ctx, tx, order.UserID, order.OrderType, now); err != nil {
		return nil, err
	}

	var blocking int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE user_id = $1 AND order_type = $2
		  AND (status = 'paid' OR (status = 'pending' AND expires_at > $3))
	`, order.UserID, order.OrderType, now).Scan(&blocking)
	if err != nil {
		return nil, fmt.Errorf("check active orders: %w", err)
	}
	if blocking > 0 {
		return nil, ErrDuplicateActiveOrder
	}

	expiresAt := now.Add(s.ttl)
	order.ExpiresAt = &expiresAt
	order.CreatedAt = now
	order.UpdatedAt = now

	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_type, user_id, psychologist_id, amount, currency,
		                    payment_provider, status, description, metadata, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, order.ID, order.OrderType, order.UserID, order.PsychologistID, order.Amount, order.Currency,
		order.PaymentProvider, order.Status, order.Description, metadata, order.ExpiresAt, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := insertTransaction(ctx, tx, &model.Transaction{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Type:        model.TxOrderCreated,
		Amount:      decimal.NewNullDecimal(order.Amount),
		Currency:    order.Currency,
		NewStatus:   string(model.OrderPending),
		Description: fmt.Sprintf("%s order created", order.OrderType),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_type", string(order.OrderType)),
		zap.String("amount", order.Amount.StringFixed(2)),
		zap.String("currency", order.Currency),
	)

	return order, nil
}

// expireStaleLocked flips pending orders whose expiry has passed, with an
// audit row per order. Runs inside the caller's transaction.
func (s *OrderService) expireStaleLocked(ctx context.Context, tx *sql.Tx, userID uuid.UUID, orderType model.OrderType, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		UPDATE orders SET status = 'expired', updated_at = $3
		WHERE user_id = $1 AND order_type = $2 AND status = 'pending' AND expires_at <= $3
		RETURNING id
	`, userID, orderType, now)
	if err != nil {
		return fmt.Errorf("expire stale orders: %w", err)
	}
	defer rows.Close()

	var expired []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan expired order: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration failed: %w", err)
	}

	for _, id := range expired {
		if err := insertTransaction(ctx, tx, &model.Transaction{
			ID:             uuid.New(),
			OrderID:        id,
			Type:           model.TxOrderExpired,
			PreviousStatus: string(model.OrderPending),
			NewStatus:      string(model.OrderExpired),
			Description:    "order expired due to timeout",
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *OrderService) OrderByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_type, user_id, psychologist_id, amount, currency, payment_provider,
		       status, description, metadata, expires_at, paid_at, created_at, updated_at
		FROM orders WHERE id = $1
	`, id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListByUser returns a user's orders, optionally filtered by type and
// status, newest first.
func (s *OrderService) ListByUser(ctx context.Context, userID uuid.UUID, orderType, status string) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_type, user_id, psychologist_id, amount, currency, payment_provider,
		       status, description, metadata, expires_at, paid_at, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		  AND ($2 = '' OR order_type = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
	`, userID, orderType, status)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return orders, nil
}

// ExpireOrder flips a pending order to expired. On an already-terminal
// order it returns ErrInvalidTransition, which callers treat as a no-op
// signal: the second call of an expire is not a failure.
func (s *OrderService) ExpireOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderPending {
		return order, ErrInvalidTransition
	}

	now := s.now()
	order.Status = model.OrderExpired
	order.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = 'expired', updated_at = $2 WHERE id = $1`, order.ID, now); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := insertTransaction(ctx, tx, &model.Transaction{
		ID:             uuid.New(),
		OrderID:        order.ID,
		Type:           model.TxOrderExpired,
		PreviousStatus: string(model.OrderPending),
		NewStatus:      string(model.OrderExpired),
		Description:    "order expired due to timeout",
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("order expired", zap.String("order_id", order.ID.String()))
	return order, nil
}

// CancelOrder cancels a pending order and records the reason in its
// metadata. A terminal order yields (false, nil) rather than an error so
// the caller's workflow is never crashed by a repeat cancel.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	if order.Status != model.OrderPending {
		s.log.Warn("cannot cancel order",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
		)
		return false, nil
	}

	now := s.now()
	order.Metadata.CancellationReason = reason
	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = 'cancelled', metadata = $2, updated_at = $3 WHERE id = $1`,
		order.ID, metadata, now,
	); err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}

	// The audit insert runs under a savepoint: a failed statement would
	// otherwise abort the whole transaction and take the cancellation
	// down with it at commit time.
	if _, err := tx.ExecContext(ctx, `SAVEPOINT cancel_audit`); err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}
	if err := insertTransaction(ctx, tx, &model.Transaction{
		ID:             uuid.New(),
		OrderID:        order.ID,
		Type:           model.TxStatusChange,
		PreviousStatus: string(model.OrderPending),
		NewStatus:      string(model.OrderCancelled),
		Description:    "order cancelled: " + reason,
	}); err != nil {
		s.log.Error("failed to record cancel audit", zap.String("order_id", order.ID.String()), zap.Error(err))
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT cancel_audit`); err != nil {
			return false, fmt.Errorf("rollback audit savepoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("order cancelled", zap.String("order_id", order.ID.String()), zap.String("reason", reason))
	return true, nil
}

// CleanupExpiredOrders is the sweep entry point: it normalizes up to limit
// stale pending orders to expired and returns how many were flipped.
func (s *OrderService) CleanupExpiredOrders(ctx context.Context, limit int) (int, error) {
	now := s.now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("query stale orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan stale order: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows iteration failed: %w", err)
	}

	expired := 0
	for _, id := range ids {
		if _, err := s.ExpireOrder(ctx, id); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue // someone else got there first
			}
			s.log.Error("failed to expire order", zap.String("order_id", id.String()), zap.Error(err))
			continue
		}
		expired++
	}

	return expired, nil
}

// lockOrder reads an order FOR UPDATE inside tx.
func lockOrder(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Order, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, order_type, user_id, psychologist_id, amount, currency, payment_provider,
		       status, description, metadata, expires_at, paid_at, created_at, updated_at
		FROM orders WHERE id = $1 FOR UPDATE
	`, id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		order    model.Order
		metadata []byte
	)
	err := row.Scan(
		&order.ID,
		&order.OrderType,
		&order.UserID,
		&order.PsychologistID,
		&order.Amount,
		&order.Currency,
		&order.PaymentProvider,
		&order.Status,
		&order.Description,
		&metadata,
		&order.ExpiresAt,
		&order.PaidAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &order.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &order, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, order_id, payment_id, type, amount, currency,
		                          previous_status, new_status, description, provider_reference)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''))
	`, t.ID, t.OrderID, t.PaymentID, t.Type, t.Amount, nullString(t.Currency),
		t.PreviousStatus, t.NewStatus, t.Description, t.ProviderReference)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
