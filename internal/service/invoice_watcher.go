package service

import (
	"context"
	"sync"
	"time"

	"ln-ledger/config"
	"ln-ledger/internal/core/domain"
	"ln-ledger/internal/core/ports"
	"ln-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// InvoiceWatcher reconciles pending ledger rows against the node backend.
// The backend is the source of truth for everything external: a crash
// between a successful payment and the local settlement is repaired here
// on the next tick.
type InvoiceWatcher struct {
	txRepo  ports.TransactionRepository
	backend ports.LightningBackend
	engine  *WalletService
	cfg     config.LightningConfig
	log     zerolog.Logger
}

// NewInvoiceWatcher creates a new InvoiceWatcher.
func NewInvoiceWatcher(
	txRepo ports.TransactionRepository,
	backend ports.LightningBackend,
	engine *WalletService,
	cfg config.LightningConfig,
	log zerolog.Logger,
) *InvoiceWatcher {
	return &InvoiceWatcher{
		txRepo:  txRepo,
		backend: backend,
		engine:  engine,
		cfg:     cfg,
		log:     log,
	}
}

// Run drives the reconciliation loop until ctx is cancelled. Errors never
// escape a tick; everything is logged and retried on the next one.
func (w *InvoiceWatcher) Run(ctx context.Context) error {
	w.log.Info().
		Dur("interval", w.cfg.CheckInterval).
		Dur("grace", w.cfg.EffectiveInflightGrace()).
		Msg("invoice watcher started")

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("invoice watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.checkPending(ctx)
		}
	}
}

// checkPending fans out one bounded check per pending row and joins them
// all before the tick ends.
func (w *InvoiceWatcher) checkPending(ctx context.Context) {
	pending, err := w.txRepo.GetPending(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to load pending transactions")
		return
	}
	if len(pending) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range pending {
		txn := &pending[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, w.cfg.CheckInterval)
			defer cancel()
			w.check(checkCtx, txn)
		}()
	}
	wg.Wait()
}

func (w *InvoiceWatcher) check(ctx context.Context, txn *domain.Transaction) {
	if txn.IsInvoice() {
		w.checkInvoice(ctx, txn)
	} else {
		w.checkPayment(ctx, txn)
	}
}

// checkInvoice reconciles an inbound invoice row. An invoice the backend
// no longer knows is gone for good and invalidates the row.
func (w *InvoiceWatcher) checkInvoice(ctx context.Context, txn *domain.Transaction) {
	state, err := w.backend.GetInvoice(ctx, txn.InvoiceID)
	if err != nil {
		if apperror.IsBackendCode(err, apperror.BackendCodeInvoiceNotFound) {
			w.log.Info().
				Str("transaction_id", txn.ID).
				Str("invoice_id", txn.InvoiceID).
				Msg("invoice unknown to backend, invalidating")
			w.terminal(ctx, txn, w.engine.Invalidate)
			return
		}
		w.log.Warn().Err(err).
			Str("transaction_id", txn.ID).
			Str("invoice_id", txn.InvoiceID).
			Msg("invoice check failed, will retry")
		return
	}

	switch state.Status {
	case ports.InvoiceStatusPaid:
		// Zero-amount invoices take the received amount as the amount.
		amount := state.AmountReceivedMsat
		if state.AmountMsat != nil {
			amount = *state.AmountMsat
		}
		fee := amount - state.AmountReceivedMsat
		paidAt := time.Now().UTC()
		if state.PaidAt != nil {
			paidAt = *state.PaidAt
		}
		if err := w.engine.Settle(ctx, txn, amount, state.AmountReceivedMsat, &fee, paidAt, state.Preimage); err != nil {
			w.log.Error().Err(err).
				Str("transaction_id", txn.ID).
				Msg("failed to settle paid invoice")
			return
		}
		w.log.Info().
			Str("transaction_id", txn.ID).
			Str("invoice_id", txn.InvoiceID).
			Int64("amount_msat", state.AmountReceivedMsat).
			Msg("invoice settled")
	case ports.InvoiceStatusExpired:
		w.terminal(ctx, txn, w.engine.Expire)
	}
}

// checkPayment reconciles an outbound payment row. A payment the backend
// does not know yet may still be in flight in the request path, so rows
// younger than the grace window are left alone.
func (w *InvoiceWatcher) checkPayment(ctx context.Context, txn *domain.Transaction) {
	state, err := w.backend.GetPayment(ctx, txn.PaymentHash)
	if err != nil {
		if apperror.IsBackendCode(err, apperror.BackendCodePaymentNotFound) {
			if time.Since(txn.CreatedAt) < w.cfg.EffectiveInflightGrace() {
				w.log.Debug().
					Str("transaction_id", txn.ID).
					Str("payment_hash", txn.PaymentHash).
					Msg("payment not known to backend yet, within grace window")
				return
			}
			w.log.Info().
				Str("transaction_id", txn.ID).
				Str("payment_hash", txn.PaymentHash).
				Msg("payment unknown to backend past grace window, invalidating")
			w.terminal(ctx, txn, w.engine.Invalidate)
			return
		}
		w.log.Warn().Err(err).
			Str("transaction_id", txn.ID).
			Str("payment_hash", txn.PaymentHash).
			Msg("payment check failed, will retry")
		return
	}

	switch state.Status {
	case ports.PaymentStatusComplete:
		fee := state.FeeAmountMsat
		paidAt := time.Now().UTC()
		if state.CreatedAt != nil {
			paidAt = *state.CreatedAt
		}
		if err := w.engine.Settle(ctx, txn,
			state.TotalAmountMsat-state.FeeAmountMsat, -state.TotalAmountMsat,
			&fee, paidAt, state.Preimage); err != nil {
			w.log.Error().Err(err).
				Str("transaction_id", txn.ID).
				Msg("failed to settle completed payment")
			return
		}
		w.log.Info().
			Str("transaction_id", txn.ID).
			Str("payment_hash", txn.PaymentHash).
			Int64("total_msat", state.TotalAmountMsat).
			Msg("payment settled")
	case ports.PaymentStatusFailed:
		// An explicit failure from the backend is authoritative, no grace.
		w.terminal(ctx, txn, w.engine.Invalidate)
	}
}

func (w *InvoiceWatcher) terminal(ctx context.Context, txn *domain.Transaction, transition func(context.Context, *domain.Transaction) error) {
	if err := transition(ctx, txn); err != nil {
		w.log.Error().Err(err).
			Str("transaction_id", txn.ID).
			Msg("failed to persist terminal transition")
	}
}
