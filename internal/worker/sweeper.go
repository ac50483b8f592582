package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mindcare/internal/service"
)

// staleAfter is how long a payment may sit in processing before the
// sweep re-polls its provider.
const staleAfter = 5 * time.Minute

// Sweeper is the background reconciliation loop. Each tick it expires
// stale pending orders and re-polls the provider for payments stuck in
// processing, so webhooks are a fast path rather than a requirement.
type Sweeper struct {
	orderSvc   *service.OrderService
	paymentSvc *service.PaymentService
	interval   time.Duration
	batchSize  int
	log        *zap.Logger
}

func NewSweeper(orderSvc *service.OrderService, paymentSvc *service.PaymentService, interval time.Duration, batchSize int, log *zap.Logger) *Sweeper {
	return &Sweeper{
		orderSvc:   orderSvc,
		paymentSvc: paymentSvc,
		interval:   interval,
		batchSize:  batchSize,
		log:        log,
	}
}

func (w *Sweeper) Start(ctx context.Context) {
	w.log.Info("starting sweeper", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			w.sweepOrders(ctx)
			w.reconcilePayments(ctx)
		}
	}
}

func (w *Sweeper) sweepOrders(ctx context.Context) {
	expired, err := w.orderSvc.CleanupExpiredOrders(ctx, w.batchSize)
	if err != nil {
		w.log.Error("order expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		w.log.Info("expired stale orders", zap.Int("count", expired))
	}
}

func (w *Sweeper) reconcilePayments(ctx context.Context) {
	cutoff := time.Now().Add(-staleAfter)
	payments, err := w.paymentSvc.StalePayments(ctx, cutoff, w.batchSize)
	if err != nil {
		w.log.Error("stale payment query failed", zap.Error(err))
		return
	}

	for _, p := range payments {
		order, err := w.orderSvc.OrderByID(ctx, p.OrderID)
		if err != nil {
			w.log.Error("failed to load order for stale payment",
				zap.String("payment_id", p.ID.String()), zap.Error(err))
			continue
		}

		res, err := w.paymentSvc.ReconcileByIntent(ctx, order.PaymentProvider, p.ProviderIntentID)
		if err != nil {
			w.log.Warn("payment reconciliation failed",
				zap.String("intent_id", p.ProviderIntentID),
				zap.Error(err),
			)
			continue
		}
		if res.Applied {
			w.log.Info("stale payment reconciled",
				zap.String("order_id", res.OrderID.String()),
				zap.String("order_status", string(res.OrderStatus)),
			)
		}
	}
}
