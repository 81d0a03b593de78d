package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	striperefund "github.com/stripe/stripe-go/v79/refund"

	"github.com/expertmeet/expertmeet/libs/db"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

// PendingLister feeds the reconciler bookings whose refunds have not
// been confirmed.
type PendingLister interface {
	ListRefundPending(ctx context.Context, limit int) ([]*model.Booking, error)
}

// Settler applies a confirmed refund. The booking service implements
// it idempotently, so webhook and reconciler can both report the same
// settlement.
type Settler interface {
	SettleRefund(ctx context.Context, txnID string, amountCents int64) (*model.Booking, error)
}

// RefundReconciler is the backstop behind the Stripe webhook: it polls
// REFUND_PENDING bookings and asks Stripe whether their refunds
// actually landed. Without it, a lost webhook leaves a payment pending
// forever.
type RefundReconciler struct {
	pool        *db.Pool
	lister      PendingLister
	settler     Settler
	logger      *slog.Logger
	stripeKey   string
	batchSize   int
	advisoryKey int64
}

type RefundReconcilerConfig struct {
	StripeSecretKey string
	BatchSize       int
	AdvisoryLockKey int64
}

func NewRefundReconciler(pool *db.Pool, lister PendingLister, settler Settler, logger *slog.Logger, cfg RefundReconcilerConfig) *RefundReconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable default; override via env when several instances run.
		lockKey = 7391002
	}
	return &RefundReconciler{
		pool:        pool,
		lister:      lister,
		settler:     settler,
		logger:      logger,
		stripeKey:   strings.TrimSpace(cfg.StripeSecretKey),
		batchSize:   bs,
		advisoryKey: lockKey,
	}
}

func (r *RefundReconciler) Run(ctx context.Context, interval time.Duration) {
	if r.stripeKey == "" {
		r.logger.Warn("refund reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election: only the instance holding the
	// advisory lock reconciles.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("refund reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("refund reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("refund reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	stripe.Key = r.stripeKey
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *RefundReconciler) reconcileOnce(ctx context.Context) {
	pending, err := r.lister.ListRefundPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("refund reconcile: failed to list pending refunds", "err", err)
		return
	}

	for _, b := range pending {
		if ctx.Err() != nil {
			return
		}
		txnID := strings.TrimSpace(b.Payment.TxnID)
		if txnID == "" {
			continue
		}

		settled, amount, err := r.settledAmount(txnID)
		if err != nil {
			r.logger.Warn("refund reconcile: failed to list refunds", "err", err, "txn_id", txnID, "booking_id", b.ID)
			continue
		}
		if !settled {
			continue
		}

		if _, err := r.settler.SettleRefund(ctx, txnID, amount); err != nil {
			r.logger.Warn("refund reconcile: settle failed", "err", err, "txn_id", txnID, "booking_id", b.ID)
			continue
		}
		r.logger.Info("refund reconciled", "txn_id", txnID, "booking_id", b.ID, "amount_cents", amount)
	}
}

// settledAmount sums the succeeded refunds Stripe reports for the
// payment intent.
func (r *RefundReconciler) settledAmount(txnID string) (bool, int64, error) {
	params := &stripe.RefundListParams{PaymentIntent: stripe.String(txnID)}
	iter := striperefund.List(params)

	var total int64
	found := false
	for iter.Next() {
		rf := iter.Refund()
		if rf.Status != stripe.RefundStatusSucceeded {
			continue
		}
		total += rf.Amount
		found = true
	}
	if err := iter.Err(); err != nil {
		return false, 0, err
	}
	return found, total, nil
}
