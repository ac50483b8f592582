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
	"mindcare/internal/provider"
)

// PaymentService bridges orders to payment providers: it creates
// provider-side intents and reconciles provider status back onto the
// order state machine. Provider network calls always happen outside any
// database transaction.
type PaymentService struct {
	db        *sql.DB
	orders    *OrderService
	providers *provider.Registry
	log       *zap.Logger
	now       func() time.Time
}

func NewPaymentService(db *sql.DB, orders *OrderService, providers *provider.Registry, log *zap.Logger) *PaymentService {
	return &PaymentService{
		db:        db,
		orders:    orders,
		providers: providers,
		log:       log,
		now:       time.Now,
	}
}

type InitiateResult struct {
	OrderID          uuid.UUID       `json:"order_id"`
	PaymentID        uuid.UUID       `json:"payment_id"`
	Provider         string          `json:"provider"`
	ProviderIntentID string          `json:"payment_intent_id"`
	ClientSecret     string          `json:"client_secret,omitempty"`
	RedirectURL      string          `json:"redirect_url,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

// InitiatePayment creates a provider payment intent for a pending order.
// Expiry is re-derived from expires_at at call time; the stored status
// alone is never trusted. On provider failure the order stays pending and
// the caller may retry.
func (s *PaymentService) InitiatePayment(ctx context.Context, orderID uuid.UUID, successURL, cancelURL string) (*InitiateResult, error) {
	order, err := s.orders.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !order.CanBePaid(now) {
		if order.Status == model.OrderPending && order.IsExpired(now) {
			// Normalize the stale status while we're here.
			if _, err := s.orders.ExpireOrder(ctx, order.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
				s.log.Error("failed to normalize expired order", zap.String("order_id", order.ID.String()), zap.Error(err))
			}
		}
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotPayable, order.Status)
	}

	pp, err := s.providerFor(order)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"order_id":   order.ID.String(),
		"order_type": string(order.OrderType),
		"user_id":    order.UserID.String(),
		"amount":     order.Amount.StringFixed(2),
		"currency":   order.Currency,
	}
	if order.PsychologistID.Valid {
		metadata["psychologist_id"] = order.PsychologistID.UUID.String()
	}

	// External call first, with no locks held. Nothing local has been
	// touched yet, so a transport failure leaves the order untouched.
	intent, err := pp.CreatePaymentIntent(ctx, provider.IntentRequest{
		Amount:      order.Amount,
		Currency:    order.Currency,
		Metadata:    metadata,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		Description: order.Description,
	})
	if err != nil {
		s.log.Error("payment intent creation failed",
			zap.String("order_id", order.ID.String()),
			zap.String("provider", pp.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	payment := &model.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		ProviderIntentID: intent.ProviderIntentID,
		PaymentMethod:    pp.PaymentMethods()[0],
		Status:           model.PaymentProcessing,
		Amount:           order.Amount,
		Currency:         order.Currency,
		ProviderResponse: intent.ProviderData,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// The order may have been cancelled or expired while the provider
	// call was in flight; re-check under lock before persisting.
	locked, err := lockOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if !locked.CanBePaid(s.now()) {
		return nil, fmt.Errorf("%w: status changed to %s during payment initiation", ErrOrderNotPayable, locked.Status)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, provider_intent_id, payment_method, status, amount, currency, provider_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::jsonb))
	`, payment.ID, payment.OrderID, payment.ProviderIntentID, payment.PaymentMethod,
		payment.Status, payment.Amount, payment.Currency, nullJSON(payment.ProviderResponse)); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	if err := insertTransaction(ctx, tx, &model.Transaction{
		ID:                uuid.New(),
		OrderID:           order.ID,
		PaymentID:         uuid.NullUUID{UUID: payment.ID, Valid: true},
		Type:              model.TxPaymentInitiated,
		Amount:            decimal.NewNullDecimal(order.Amount),
		Currency:          order.Currency,
		Description:       fmt.Sprintf("payment initiated via %s", pp.Name()),
		ProviderReference: intent.ProviderIntentID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("payment initiated",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("provider", pp.Name()),
		zap.String("intent_id", intent.ProviderIntentID),
	)

	return &InitiateResult{
		OrderID:          order.ID,
		PaymentID:        payment.ID,
		Provider:         pp.Name(),
		ProviderIntentID: intent.ProviderIntentID,
		ClientSecret:     intent.ClientSecret,
		RedirectURL:      intent.RedirectURL,
		Amount:           order.Amount,
		Currency:         order.Currency,
	}, nil
}

// ReconcileResult reports what a provider status did to local state.
type ReconcileResult struct {
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentID     uuid.UUID           `json:"payment_id"`
	OrderStatus   model.OrderStatus   `json:"order_status"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	// Applied is true when the provider status changed the order.
	Applied bool `json:"applied"`
}

// ApplyProviderStatus maps a normalized provider status onto the order
// state machine. "succeeded" moves a pending order to paid. "failed" and
// "cancelled" only mark the payment attempt: the order deliberately stays
// pending so the caller can decide whether to retry or cancel. A success
// arriving for an order already in a different terminal state is a
// conflict, never an overwrite.
func (s *PaymentService) ApplyProviderStatus(ctx context.Context, intentID, status string, raw json.RawMessage) (*ReconcileResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payment, err := paymentByIntentID(ctx, tx, intentID)
	if err != nil {
		return nil, err
	}

	order, err := lockOrder(ctx, tx, payment.OrderID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		OrderStatus:   order.Status,
		PaymentStatus: payment.Status,
	}

	now := s.now()

	switch status {
	case provider.IntentSucceeded:
		if order.Status == model.OrderPaid {
			return result, tx.Commit() // already reconciled, idempotent
		}
		if order.Status != model.OrderPending {
			s.log.Warn("late provider confirmation rejected",
				zap.String("order_id", order.ID.String()),
				zap.String("order_status", string(order.Status)),
				zap.String("intent_id", intentID),
			)
			return result, fmt.Errorf("%w: order is %s", ErrConfirmationConflict, order.Status)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = 'paid', paid_at = $2, updated_at = $2 WHERE id = $1`,
			order.ID, now,
		); err != nil {
			return nil, fmt.Errorf("update order: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = 'succeeded', processed_at = $2, provider_response = COALESCE($3, provider_response), updated_at = $2 WHERE id = $1`,
			payment.ID, now, nullJSON(raw),
		); err != nil {
			return nil, fmt.Errorf("update payment: %w", err)
		}

		if err := insertTransaction(ctx, tx, &model.Transaction{
			ID:                uuid.New(),
			OrderID:           order.ID,
			PaymentID:         uuid.NullUUID{UUID: payment.ID, Valid: true},
			Type:              model.TxPaymentSucceeded,
			Amount:            decimal.NewNullDecimal(payment.Amount),
			Currency:          payment.Currency,
			PreviousStatus:    string(model.OrderPending),
			NewStatus:         string(model.OrderPaid),
			Description:       "payment confirmed by provider",
			ProviderReference: intentID,
		}); err != nil {
			return nil, err
		}

		// A paid registration order activates the psychologist account.
		if order.OrderType == model.OrderTypeRegistration && order.PsychologistID.Valid {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET verified = TRUE WHERE id = $1`,
				order.PsychologistID.UUID,
			); err != nil {
				return nil, fmt.Errorf("verify psychologist: %w", err)
			}
		}

		result.OrderStatus = model.OrderPaid
		result.PaymentStatus = model.PaymentSucceeded
		result.Applied = true

	case provider.IntentFailed, provider.IntentCancelled:
		reason := "provider reported " + status
		if _, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = 'failed', failure_reason = $2, processed_at = $3, updated_at = $3 WHERE id = $1`,
			payment.ID, reason, now,
		); err != nil {
			return nil, fmt.Errorf("update payment: %w", err)
		}

		if err := insertTransaction(ctx, tx, &model.Transaction{
			ID:                uuid.New(),
			OrderID:           order.ID,
			PaymentID:         uuid.NullUUID{UUID: payment.ID, Valid: true},
			Type:              model.TxPaymentFailed,
			Amount:            decimal.NewNullDecimal(payment.Amount),
			Currency:          payment.Currency,
			Description:       reason,
			ProviderReference: intentID,
		}); err != nil {
			return nil, err
		}

		// The order is left pending on purpose: a failed attempt is
		// retryable, and cancelling is the caller's explicit decision.
		result.PaymentStatus = model.PaymentFailed

	default:
		// processing and unknown statuses change nothing
		return result, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("provider status applied",
		zap.String("order_id", order.ID.String()),
		zap.String("intent_id", intentID),
		zap.String("provider_status", status),
		zap.Bool("applied", result.Applied),
	)

	return result, nil
}

// CheckPaymentStatus polls the provider for the latest payment attempt of
// an order and applies the result. Safe to call repeatedly.
func (s *PaymentService) CheckPaymentStatus(ctx context.Context, orderID uuid.UUID) (*ReconcileResult, error) {
	order, err := s.orders.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.LatestPaymentForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	pp, err := s.providerFor(order)
	if err != nil {
		return nil, err
	}

	// Read-only provider call, outside any transaction.
	status, err := pp.GetPaymentStatus(ctx, payment.ProviderIntentID)
	if err != nil {
		return nil, err
	}

	return s.ApplyProviderStatus(ctx, payment.ProviderIntentID, status.Status, status.ProviderData)
}

// ProcessWebhook verifies, records and applies a provider webhook event.
func (s *PaymentService) ProcessWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*ReconcileResult, error) {
	pp, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	if !pp.VerifyWebhookSignature(payload, signature) {
		return nil, fmt.Errorf("%w: webhook signature verification failed", provider.ErrProvider)
	}

	event, err := pp.ParseWebhookEvent(payload)
	if err != nil {
		return nil, err
	}
	if event.IntentID == "" {
		return nil, fmt.Errorf("%w: webhook event %s carries no payment intent", provider.ErrProvider, event.EventType)
	}

	s.recordWebhook(ctx, event)

	return s.ApplyProviderStatus(ctx, event.IntentID, event.Status, payload)
}

// recordWebhook writes the webhook_received audit row. Best effort: a
// failed audit write must not drop the event itself.
func (s *PaymentService) recordWebhook(ctx context.Context, event *provider.WebhookEvent) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Error("webhook audit begin tx failed", zap.Error(err))
		return
	}
	defer tx.Rollback()

	payment, err := paymentByIntentID(ctx, tx, event.IntentID)
	if err != nil {
		s.log.Warn("webhook for unknown payment intent",
			zap.String("intent_id", event.IntentID),
			zap.String("event_type", event.EventType),
		)
		return
	}

	if err := insertTransaction(ctx, tx, &model.Transaction{
		ID:                uuid.New(),
		OrderID:           payment.OrderID,
		PaymentID:         uuid.NullUUID{UUID: payment.ID, Valid: true},
		Type:              model.TxWebhookReceived,
		Description:       "webhook received: " + event.EventType,
		ProviderReference: event.EventID,
	}); err != nil {
		s.log.Error("webhook audit write failed", zap.Error(err))
		return
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("webhook audit commit failed", zap.Error(err))
	}
}

// StalePayments returns payments stuck in processing since before the
// cutoff, for the reconciliation sweep.
func (s *PaymentService) StalePayments(ctx context.Context, before time.Time, limit int) ([]model.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, provider_intent_id, payment_method, status, amount, currency,
		       provider_response, failure_reason, refunded_amount, processed_at, created_at, updated_at
		FROM payments
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return payments, nil
}

func (s *PaymentService) LatestPaymentForOrder(ctx context.Context, orderID uuid.UUID) (*model.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, provider_intent_id, payment_method, status, amount, currency,
		       provider_response, failure_reason, refunded_amount, processed_at, created_at, updated_at
		FROM payments WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID)

	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no payment attempts for order %s: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

// ReconcileByIntent re-polls the provider for one stuck payment, used by
// the background worker.
func (s *PaymentService) ReconcileByIntent(ctx context.Context, providerName, intentID string) (*ReconcileResult, error) {
	var (
		pp  provider.PaymentProvider
		err error
	)
	if providerName == "" {
		pp, err = s.providers.Default()
	} else {
		pp, err = s.providers.Get(providerName)
	}
	if err != nil {
		return nil, err
	}

	status, err := pp.GetPaymentStatus(ctx, intentID)
	if err != nil {
		return nil, err
	}

	return s.ApplyProviderStatus(ctx, intentID, status.Status, status.ProviderData)
}

func (s *PaymentService) providerFor(order *model.Order) (provider.PaymentProvider, error) {
	if order.PaymentProvider == "" {
		return s.providers.Default()
	}
	return s.providers.Get(order.PaymentProvider)
}

func paymentByIntentID(ctx context.Context, tx *sql.Tx, intentID string) (*model.Payment, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, order_id, provider_intent_id, payment_method, status, amount, currency,
		       provider_response, failure_reason, refunded_amount, processed_at, created_at, updated_at
		FROM payments WHERE provider_intent_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, intentID)

	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment intent %s: %w", intentID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.ProviderIntentID,
		&p.PaymentMethod,
		&p.Status,
		&p.Amount,
		&p.Currency,
		&p.ProviderResponse,
		&p.FailureReason,
		&p.RefundedAmount,
		&p.ProcessedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
