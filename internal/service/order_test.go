package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pendingOrderRows(orderID, userID uuid.UUID, now time.Time) *sqlmock.Rows {
	expires := now.Add(time.Hour)
	return sqlmock.NewRows([]string{
		"id", "order_type", "user_id", "psychologist_id", "amount", "currency",
		"payment_provider", "status", "description", "metadata",
		"expires_at", "paid_at", "created_at", "updated_at",
	}).AddRow(
		orderID.String(), "appointment_booking", userID.String(), nil, "150.00", "USD",
		"stripe", "pending", "online_session", []byte(`{}`),
		expires, nil, now, now,
	)
}

// A failed audit insert aborts the surrounding Postgres transaction unless
// it is fenced off, which would roll the cancellation itself back at
// commit. The insert must run under a savepoint that is rolled back to on
// error, and the commit must still go through.
func TestCancelOrderSurvivesAuditFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orderID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, order_type, .+ FROM orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(orderID).
		WillReturnRows(pendingOrderRows(orderID, uuid.New(), now))
	mock.ExpectExec(`UPDATE orders SET status = 'cancelled'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SAVEPOINT cancel_audit`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO transactions`).
		WillReturnError(errors.New("audit table unavailable"))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT cancel_audit`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	svc := NewOrderService(db, nil, 24*time.Hour, zap.NewNop())

	cancelled, err := svc.CancelOrder(context.Background(), orderID, "changed plans")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderCommitsAuditOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orderID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, order_type, .+ FROM orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(orderID).
		WillReturnRows(pendingOrderRows(orderID, uuid.New(), now))
	mock.ExpectExec(`UPDATE orders SET status = 'cancelled'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SAVEPOINT cancel_audit`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewOrderService(db, nil, 24*time.Hour, zap.NewNop())

	cancelled, err := svc.CancelOrder(context.Background(), orderID, "changed plans")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderTerminalIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orderID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "order_type", "user_id", "psychologist_id", "amount", "currency",
		"payment_provider", "status", "description", "metadata",
		"expires_at", "paid_at", "created_at", "updated_at",
	}).AddRow(
		orderID.String(), "appointment_booking", uuid.NewString(), nil, "150.00", "USD",
		"stripe", "paid", "online_session", []byte(`{}`),
		now.Add(time.Hour), now, now, now,
	)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, order_type, .+ FROM orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(orderID).
		WillReturnRows(rows)
	mock.ExpectRollback()

	svc := NewOrderService(db, nil, 24*time.Hour, zap.NewNop())

	cancelled, err := svc.CancelOrder(context.Background(), orderID, "too late")
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
