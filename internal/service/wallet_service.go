package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"ln-ledger/config"
	"ln-ledger/internal/core/domain"
	"ln-ledger/internal/core/ports"
	"ln-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// Notification event names.
const (
	EventTransactionCreated     = "transaction-created"
	EventTransactionSettled     = "transaction-settled"
	EventTransactionCancelled   = "transaction-cancelled"
	EventTransactionExpired     = "transaction-expired"
	EventTransactionInvalidated = "transaction-invalidated"
)

// internalSettleAttempts bounds the retry loop around the atomic pair
// settlement on transient serialization failures.
const internalSettleAttempts = 3

// ReceiveRequest creates an inbound invoice on a wallet. AmountMsat zero
// means an any-amount invoice.
type ReceiveRequest struct {
	AmountMsat        int64
	Description       string
	DescriptionHashed bool
	PrivateRouteHints bool
	Expiry            time.Duration // zero = configured default
}

// SendOptions tunes an outbound payment. AmountMsat is required when the
// destination invoice carries no amount; MaxFeePercent zero falls back to
// the configured default.
type SendOptions struct {
	Description   string
	AmountMsat    *int64
	MaxFeePercent float64
}

// WalletService is the settlement engine: it creates and pays invoices,
// nets internal payments on the shared node, and drives every transaction
// state transition through the domain's idempotent setters.
type WalletService struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	transactor ports.DBTransactor
	backend    ports.LightningBackend
	decoder    ports.PaymentRequestDecoder
	resolver   ports.AddressResolver
	notifier   ports.TransactionNotifier
	cfg        config.LightningConfig
	log        zerolog.Logger
}

// NewWalletService creates a new WalletService.
func NewWalletService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	transactor ports.DBTransactor,
	backend ports.LightningBackend,
	decoder ports.PaymentRequestDecoder,
	resolver ports.AddressResolver,
	notifier ports.TransactionNotifier,
	cfg config.LightningConfig,
	log zerolog.Logger,
) *WalletService {
	return &WalletService{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		transactor: transactor,
		backend:    backend,
		decoder:    decoder,
		resolver:   resolver,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

// Receive creates an inbound invoice on the node and records the unpaid
// ledger row. Backend errors propagate unchanged.
func (s *WalletService) Receive(ctx context.Context, wallet *domain.Wallet, req ReceiveRequest) (*domain.Transaction, error) {
	if req.AmountMsat < 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	expiry := req.Expiry
	if expiry <= 0 {
		expiry = s.cfg.InvoiceExpiry
	}

	invoice, err := s.backend.CreateInvoice(ctx, ports.CreateInvoiceRequest{
		AmountMsat:        req.AmountMsat,
		Description:       req.Description,
		DescriptionHashed: req.DescriptionHashed,
		Expiry:            expiry,
		PrivateRouteHints: req.PrivateRouteHints,
	})
	if err != nil {
		return nil, err
	}

	pr, err := s.decoder.Decode(invoice.PaymentRequest)
	if err != nil {
		return nil, fmt.Errorf("decode created invoice: %w", err)
	}

	txn := &domain.Transaction{
		ID:             uuid.NewString(),
		WalletID:       wallet.ID,
		InvoiceID:      invoice.ID,
		Amount:         req.AmountMsat,
		Description:    req.Description,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    pr.PaymentHash,
		CreatedAt:      time.Now().UTC(),
		ExpiresAt:      invoice.ExpiresAt,
	}
	if err := s.txRepo.Create(ctx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist invoice: %w", err))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID).
		Str("invoice_id", invoice.ID).
		Int64("amount_msat", req.AmountMsat).
		Msg("invoice created")
	s.notify(ctx, txn, EventTransactionCreated)
	return txn, nil
}

// Send pays a destination from a wallet. The destination may be a BOLT11
// payment request, an LNURL string or a Lightning Address; payments to
// invoices issued by this ledger are netted internally without touching
// the node.
func (s *WalletService) Send(ctx context.Context, wallet *domain.Wallet, destination string, opts SendOptions) (*domain.Transaction, error) {
	if opts.AmountMsat != nil && *opts.AmountMsat < 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	pr, err := s.resolveDestination(ctx, destination, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if pr.IsExpired(now) {
		return nil, apperror.ErrPaymentRequestExpired(pr.ExpiresAt.Format(time.RFC3339))
	}

	amountMsat := pr.AmountMsat
	if amountMsat == 0 {
		if opts.AmountMsat == nil || *opts.AmountMsat == 0 {
			return nil, apperror.ErrAmountRequired()
		}
		amountMsat = *opts.AmountMsat
	}

	match, err := s.ValidatePaymentRequest(ctx, pr.Raw)
	if err != nil {
		return nil, err
	}

	balance, err := s.walletRepo.GetBalance(ctx, wallet.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("wallet balance: %w", err))
	}

	// Only a match that is an invoice issued by this ledger can be netted
	// internally. A matched row without an invoice ID is another wallet's
	// in-flight outbound payment to the same request; crediting it would
	// invent funds it never received, so that case routes via the node.
	if match != nil && match.IsInvoice() {
		if balance < amountMsat {
			return nil, apperror.ErrInsufficientBalance(balance, amountMsat)
		}
		return s.sendInternal(ctx, wallet, pr, match, amountMsat, opts.Description)
	}

	maxFeePercent := opts.MaxFeePercent
	if maxFeePercent <= 0 {
		maxFeePercent = s.cfg.MaxFeePercent
	}
	feeReserve := int64(math.Round(float64(amountMsat) * maxFeePercent / 100))
	if balance < amountMsat+feeReserve {
		return nil, apperror.ErrInsufficientBalanceWithReserve(balance, amountMsat, feeReserve)
	}
	return s.sendExternal(ctx, wallet, pr, amountMsat, maxFeePercent, feeReserve, opts)
}

// resolveDestination turns the raw destination into a decoded payment
// request, resolving LNURL / Lightning Address destinations when the
// string is not directly parseable.
func (s *WalletService) resolveDestination(ctx context.Context, destination string, opts SendOptions) (*domain.PaymentRequest, error) {
	dest := cleanupDestination(destination)

	pr, err := s.decoder.Decode(dest)
	if err == nil {
		return pr, nil
	}
	if !apperror.Is(err, "PRQ_004") {
		return nil, err
	}

	// Not a BOLT11 string. The LNURL-pay callback needs the amount up front.
	if opts.AmountMsat == nil || *opts.AmountMsat == 0 {
		return nil, apperror.ErrAmountRequired()
	}
	bolt11, err := s.resolver.Resolve(ctx, dest, *opts.AmountMsat, opts.Description)
	if err != nil {
		return nil, err
	}
	return s.decoder.Decode(bolt11)
}

// cleanupDestination strips wrapping a wallet QR scan or URI handler may
// have added: a lightning= query parameter and the lightning: scheme.
func cleanupDestination(destination string) string {
	dest := strings.TrimSpace(destination)
	if i := strings.Index(strings.ToLower(dest), "lightning="); i >= 0 {
		dest = dest[i+len("lightning="):]
		if j := strings.IndexByte(dest, '&'); j >= 0 {
			dest = dest[:j]
		}
	}
	if len(dest) >= 10 && strings.EqualFold(dest[:10], "lightning:") {
		dest = dest[10:]
	}
	return strings.TrimSpace(dest)
}

// sendInternal settles the outbound row and the matched inbound invoice
// row in one database transaction. Both setters run once, before the
// bounded retry loop, so a retried commit never double-applies them and
// the client-generated row ID makes the re-insert safe.
func (s *WalletService) sendInternal(ctx context.Context, wallet *domain.Wallet, pr *domain.PaymentRequest, match *domain.Transaction, amountMsat int64, description string) (*domain.Transaction, error) {
	now := time.Now().UTC()
	outbound := &domain.Transaction{
		ID:             uuid.NewString(),
		WalletID:       wallet.ID,
		Amount:         amountMsat,
		Description:    description,
		PaymentRequest: pr.Raw,
		PaymentHash:    pr.PaymentHash,
		CreatedAt:      now,
		ExpiresAt:      pr.ExpiresAt,
	}
	outbound.SetSettled(amountMsat, -amountMsat, nil, now, "")
	if !match.SetSettled(amountMsat, amountMsat, nil, now, "") {
		return nil, apperror.ErrPaymentRequestSettled()
	}

	var lastErr error
	for attempt := 1; attempt <= internalSettleAttempts; attempt++ {
		lastErr = s.settlePair(ctx, outbound, match)
		if lastErr == nil {
			break
		}
		if !isTransient(lastErr) {
			return nil, apperror.InternalError(fmt.Errorf("internal settlement: %w", lastErr))
		}
		s.log.Warn().Err(lastErr).
			Int("attempt", attempt).
			Str("transaction_id", outbound.ID).
			Msg("transient failure settling internal pair, retrying")
	}
	if lastErr != nil {
		return nil, apperror.InternalError(fmt.Errorf("internal settlement retries exhausted: %w", lastErr))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID).
		Str("transaction_id", outbound.ID).
		Str("matched_id", match.ID).
		Int64("amount_msat", amountMsat).
		Msg("internal payment settled")
	s.notify(ctx, outbound, EventTransactionSettled)
	s.notify(ctx, match, EventTransactionSettled)
	return outbound, nil
}

func (s *WalletService) settlePair(ctx context.Context, outbound, match *domain.Transaction) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.CreateTx(ctx, tx, outbound); err != nil {
		return err
	}
	if err := s.txRepo.UpdateTx(ctx, tx, match); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isTransient reports whether the database error is a serialization or
// deadlock failure worth retrying.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// sendExternal routes the payment through the node. The pending row is
// persisted before the backend call so the liability is on the ledger
// even if the process dies mid-payment; a timed-out call leaves the row
// pending for the invoice watcher to resolve. The row carries a negative
// provisional settled amount of amount plus the fee reserve, so the
// reserved funds are held against the derived balance while the payment
// is in flight; settlement replaces the hold with the actual totals and
// invalidation releases it.
func (s *WalletService) sendExternal(ctx context.Context, wallet *domain.Wallet, pr *domain.PaymentRequest, amountMsat int64, maxFeePercent float64, feeReserve int64, opts SendOptions) (*domain.Transaction, error) {
	now := time.Now().UTC()
	held := -(amountMsat + feeReserve)
	reserve := feeReserve
	pending := &domain.Transaction{
		ID:             uuid.NewString(),
		WalletID:       wallet.ID,
		Amount:         amountMsat,
		AmountSettled:  &held,
		RoutingFee:     &reserve,
		Description:    opts.Description,
		PaymentRequest: pr.Raw,
		PaymentHash:    pr.PaymentHash,
		CreatedAt:      now,
		ExpiresAt:      pr.ExpiresAt,
		ExplicitStatus: domain.StatusPending,
	}
	if err := s.txRepo.Create(ctx, pending); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist pending payment: %w", err))
	}
	s.notify(ctx, pending, EventTransactionCreated)

	payReq := ports.PayInvoiceRequest{
		PaymentRequest: pr.Raw,
		MaxFeePercent:  maxFeePercent,
	}
	if !pr.HasAmount() {
		payReq.AmountMsat = opts.AmountMsat
	}

	payCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	result, err := s.backend.PayInvoice(payCtx, payReq)
	if err != nil {
		if apperror.IsBackendCode(err, apperror.BackendCodeNoRoute, apperror.BackendCodeGeneric) {
			// The payment was never attempted: no liability incurred.
			if delErr := s.txRepo.Delete(ctx, pending.ID); delErr != nil {
				s.log.Error().Err(delErr).
					Str("transaction_id", pending.ID).
					Msg("failed to discard unattempted payment row")
			}
			return nil, err
		}
		// Timeout or transport failure: the payment may still be in flight
		// inside the node, so the watcher owns this row now.
		s.log.Warn().Err(err).
			Str("wallet_id", wallet.ID).
			Str("transaction_id", pending.ID).
			Str("payment_hash", pr.PaymentHash).
			Msg("external payment unresolved, leaving row pending")
		return pending, nil
	}

	settledAt := time.Now().UTC()
	fee := result.FeeAmountMsat
	if err := s.Settle(ctx, pending,
		result.TotalAmountMsat-result.FeeAmountMsat, -result.TotalAmountMsat,
		&fee, settledAt, result.Preimage); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("wallet_id", wallet.ID).
		Str("transaction_id", pending.ID).
		Int64("total_msat", result.TotalAmountMsat).
		Int64("fee_msat", result.FeeAmountMsat).
		Msg("external payment settled")
	return pending, nil
}

// ValidatePaymentRequest looks up a ledger row with the exact payment
// request string and rejects requests that are already terminal. Returns
// the matching row, nil when the invoice was not issued by this ledger.
func (s *WalletService) ValidatePaymentRequest(ctx context.Context, paymentRequest string) (*domain.Transaction, error) {
	match, err := s.txRepo.Get(ctx, ports.TransactionQuery{PaymentRequest: paymentRequest})
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup payment request: %w", err))
	}
	if match == nil {
		return nil, nil
	}
	switch match.Status() {
	case domain.StatusExpired:
		return nil, apperror.ErrPaymentRequestExpired(match.ExpiresAt.Format(time.RFC3339))
	case domain.StatusSettled:
		return nil, apperror.ErrPaymentRequestSettled()
	case domain.StatusPaid:
		return nil, apperror.ErrPaymentRequestPaid()
	}
	return match, nil
}

// ValidateDescriptionHash checks a decoded payment request against the
// LNURL-pay metadata it must commit to.
func (s *WalletService) ValidateDescriptionHash(pr *domain.PaymentRequest, metadata string) error {
	if !pr.VerifyDescriptionHash(metadata) {
		return apperror.ErrDescriptionHashMismatch()
	}
	return nil
}

// Settle finalizes a transaction's amounts. A row that is already settled
// stays untouched, which makes the request path and the watcher safe to
// race on the same row.
func (s *WalletService) Settle(ctx context.Context, txn *domain.Transaction, amount, amountSettled int64, routingFee *int64, date time.Time, preimage string) error {
	if !txn.SetSettled(amount, amountSettled, routingFee, date, preimage) {
		return nil
	}
	if err := s.txRepo.Update(ctx, txn); err != nil {
		return apperror.InternalError(fmt.Errorf("persist settlement: %w", err))
	}
	s.notify(ctx, txn, EventTransactionSettled)
	return nil
}

// Cancel marks a transaction cancelled; a no-op when it cannot terminate.
func (s *WalletService) Cancel(ctx context.Context, txn *domain.Transaction) error {
	if !txn.SetCancelled() {
		return nil
	}
	if err := s.txRepo.Update(ctx, txn); err != nil {
		return apperror.InternalError(fmt.Errorf("persist cancellation: %w", err))
	}
	s.notify(ctx, txn, EventTransactionCancelled)
	return nil
}

// Expire marks a transaction expired; a no-op when it cannot terminate.
func (s *WalletService) Expire(ctx context.Context, txn *domain.Transaction) error {
	if !txn.SetExpired() {
		return nil
	}
	if err := s.txRepo.Update(ctx, txn); err != nil {
		return apperror.InternalError(fmt.Errorf("persist expiry: %w", err))
	}
	s.notify(ctx, txn, EventTransactionExpired)
	return nil
}

// Invalidate marks a transaction invalid; a no-op when it cannot terminate.
func (s *WalletService) Invalidate(ctx context.Context, txn *domain.Transaction) error {
	if !txn.SetInvalid() {
		return nil
	}
	if err := s.txRepo.Update(ctx, txn); err != nil {
		return apperror.InternalError(fmt.Errorf("persist invalidation: %w", err))
	}
	s.notify(ctx, txn, EventTransactionInvalidated)
	return nil
}

// CancelInvoice cancels the ledger row created for a backend invoice.
// Unknown invoice IDs are a no-op.
func (s *WalletService) CancelInvoice(ctx context.Context, invoiceID string) error {
	txn, err := s.txRepo.Get(ctx, ports.TransactionQuery{InvoiceID: invoiceID})
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lookup invoice: %w", err))
	}
	if txn == nil {
		return nil
	}
	return s.Cancel(ctx, txn)
}

// IsPaid reports whether a payment hash has been paid, checking the
// ledger first and falling back to the node for hashes it never saw.
func (s *WalletService) IsPaid(ctx context.Context, paymentHash string) (bool, error) {
	txn, err := s.txRepo.Get(ctx, ports.TransactionQuery{PaymentHash: paymentHash})
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("lookup payment hash: %w", err))
	}
	if txn != nil {
		return txn.IsPaid(), nil
	}

	state, err := s.backend.GetPayment(ctx, paymentHash)
	if err != nil {
		if apperror.IsBackendCode(err, apperror.BackendCodePaymentNotFound) {
			return false, nil
		}
		return false, err
	}
	return state.Status == ports.PaymentStatusComplete, nil
}

// notify publishes a transaction event. Delivery is best-effort: a
// failed publish is logged and never fails the operation.
func (s *WalletService) notify(ctx context.Context, txn *domain.Transaction, event string) {
	if err := s.notifier.Publish(ctx, domain.NewTransactionEvent(txn, event)); err != nil {
		s.log.Warn().Err(err).
			Str("transaction_id", txn.ID).
			Str("event", event).
			Msg("failed to publish transaction event")
	}
}
