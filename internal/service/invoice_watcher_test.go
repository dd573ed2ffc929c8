package service

import (
	"context"
	"testing"
	"time"

	"ln-ledger/config"
	"ln-ledger/internal/core/domain"
	"ln-ledger/internal/core/ports"
	"ln-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupWatcher(t *testing.T) (*InvoiceWatcher, *walletTestDeps) {
	d := setupWalletService(t)
	cfg := config.LightningConfig{
		SendTimeout:   21 * time.Second,
		CheckInterval: 5 * time.Second,
		MaxFeePercent: 3.0,
	}
	w := NewInvoiceWatcher(d.txRepo, d.backend, d.svc, cfg, zerolog.Nop())
	return w, d
}

func pendingInvoice(age time.Duration) *domain.Transaction {
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:             "tx1",
		WalletID:       "w1",
		InvoiceID:      "inv1",
		Amount:         1000,
		PaymentRequest: "lnbc1...",
		PaymentHash:    "hash1",
		CreatedAt:      now.Add(-age),
		ExpiresAt:      now.Add(time.Hour),
	}
}

func pendingPayment(age time.Duration) *domain.Transaction {
	now := time.Now().UTC()
	held := int64(-1030)
	reserve := int64(30)
	return &domain.Transaction{
		ID:             "tx2",
		WalletID:       "w1",
		Amount:         1000,
		AmountSettled:  &held,
		RoutingFee:     &reserve,
		PaymentRequest: "lnbc1...",
		PaymentHash:    "hash2",
		CreatedAt:      now.Add(-age),
		ExpiresAt:      now.Add(time.Hour),
		ExplicitStatus: domain.StatusPending,
	}
}

func TestInvoiceWatcher_InvoicePaid(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingInvoice(time.Minute)
	paidAt := time.Now().UTC().Add(-time.Second)
	amount := int64(1000)

	d.backend.EXPECT().GetInvoice(ctx, "inv1").Return(&ports.InvoiceState{
		ID:                 "inv1",
		Status:             ports.InvoiceStatusPaid,
		AmountMsat:         &amount,
		AmountReceivedMsat: 1000,
		PaidAt:             &paidAt,
		Preimage:           "pre1",
	}, nil)
	d.txRepo.EXPECT().Update(ctx, txn).Return(nil)

	w.check(ctx, txn)

	assert.Equal(t, domain.StatusSettled, txn.Status())
	require.NotNil(t, txn.AmountSettled)
	assert.Equal(t, int64(1000), *txn.AmountSettled)
	require.NotNil(t, txn.PaidAt)
	assert.Equal(t, paidAt, *txn.PaidAt)
	assert.Equal(t, "pre1", txn.Preimage)
}

func TestInvoiceWatcher_ZeroAmountInvoiceTakesReceivedAmount(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingInvoice(time.Minute)
	txn.Amount = 0

	d.backend.EXPECT().GetInvoice(ctx, "inv1").Return(&ports.InvoiceState{
		ID:                 "inv1",
		Status:             ports.InvoiceStatusPaid,
		AmountMsat:         nil,
		AmountReceivedMsat: 800,
	}, nil)
	d.txRepo.EXPECT().Update(ctx, txn).Return(nil)

	w.check(ctx, txn)

	assert.Equal(t, int64(800), txn.Amount)
	require.NotNil(t, txn.AmountSettled)
	assert.Equal(t, int64(800), *txn.AmountSettled)
	require.NotNil(t, txn.RoutingFee)
	assert.Equal(t, int64(0), *txn.RoutingFee)
}

func TestInvoiceWatcher_InvoiceNotFoundInvalidates(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingInvoice(time.Minute)

	d.backend.EXPECT().GetInvoice(ctx, "inv1").
		Return(nil, apperror.NewBackendError(apperror.BackendCodeInvoiceNotFound, "gone"))
	d.txRepo.EXPECT().Update(ctx, txn).Return(nil)

	w.check(ctx, txn)
	assert.Equal(t, domain.StatusInvalid, txn.Status())
}

func TestInvoiceWatcher_InvoiceExpired(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingInvoice(time.Minute)

	d.backend.EXPECT().GetInvoice(ctx, "inv1").Return(&ports.InvoiceState{
		ID:     "inv1",
		Status: ports.InvoiceStatusExpired,
	}, nil)
	d.txRepo.EXPECT().Update(ctx, txn).Return(nil)

	w.check(ctx, txn)
	assert.Equal(t, domain.StatusExpired, txn.Status())
}

func TestInvoiceWatcher_InvoiceCheckFailureSkips(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingInvoice(time.Minute)

	d.backend.EXPECT().GetInvoice(ctx, "inv1").
		Return(nil, apperror.NewBackendError(apperror.BackendCodeGeneric, "flaky"))
	// No Update: transient failures retry next tick.

	w.check(ctx, txn)
	assert.Equal(t, domain.StatusUnpaid, txn.Status())
}

func TestInvoiceWatcher_PaymentComplete(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingPayment(time.Minute)
	createdAt := time.Now().UTC().Add(-30 * time.Second)

	d.backend.EXPECT().GetPayment(ctx, "hash2").Return(&ports.PaymentState{
		PaymentHash:     "hash2",
		Status:          ports.PaymentStatusComplete,
		TotalAmountMsat: 1002,
		FeeAmountMsat:   2,
		Preimage:        "pre2",
		CreatedAt:       &createdAt,
	}, nil)
	d.txRepo.EXPECT().Update(ctx, txn).Return(nil)

	w.check(ctx, txn)

	assert.Equal(t, domain.StatusSettled, txn.Status())
	assert.Equal(t, int64(1000), txn.Amount)
	require.NotNil(t, txn.AmountSettled)
	assert.Equal(t, int64(-1002), *txn.AmountSettled)
	require.NotNil(t, txn.RoutingFee)
	assert.Equal(t, int64(2), *txn.RoutingFee)
	assert.Equal(t, "pre2", txn.Preimage)
}

func TestInvoiceWatcher_PaymentFailedInvalidates(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingPayment(time.Second)

	d.backend.EXPECT().GetPayment(ctx, "hash2").Return(&ports.PaymentState{
		PaymentHash: "hash2",
		Status:      ports.PaymentStatusFailed,
	}, nil)
	// Explicit failure invalidates even inside the grace window.
	d.txRepo.EXPECT().Update(ctx, txn).Return(nil)

	w.check(ctx, txn)
	assert.Equal(t, domain.StatusInvalid, txn.Status())
}

func TestInvoiceWatcher_PaymentMissingWithinGraceUntouched(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingPayment(time.Second)

	d.backend.EXPECT().GetPayment(ctx, "hash2").
		Return(nil, apperror.NewBackendError(apperror.BackendCodePaymentNotFound, "unknown"))
	// No Update: the request path may still be attempting this payment.

	w.check(ctx, txn)
	assert.Equal(t, domain.StatusPending, txn.Status())
}

func TestInvoiceWatcher_PaymentMissingPastGraceInvalidates(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	// Grace window is send_timeout + check_interval = 26s.
	txn := pendingPayment(time.Minute)

	d.backend.EXPECT().GetPayment(ctx, "hash2").
		Return(nil, apperror.NewBackendError(apperror.BackendCodePaymentNotFound, "unknown"))
	d.txRepo.EXPECT().Update(ctx, txn).Return(nil)

	w.check(ctx, txn)
	assert.Equal(t, domain.StatusInvalid, txn.Status())
	// Invalidation releases the in-flight hold.
	assert.Nil(t, txn.AmountSettled)
	assert.Nil(t, txn.RoutingFee)
}

func TestInvoiceWatcher_PaymentPendingUntouched(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := pendingPayment(time.Minute)

	d.backend.EXPECT().GetPayment(ctx, "hash2").Return(&ports.PaymentState{
		PaymentHash: "hash2",
		Status:      ports.PaymentStatusPending,
	}, nil)

	w.check(ctx, txn)
	assert.Equal(t, domain.StatusPending, txn.Status())
}

func TestInvoiceWatcher_CheckPendingFansOut(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	invoice := pendingInvoice(time.Minute)
	payment := pendingPayment(time.Minute)

	d.txRepo.EXPECT().GetPending(ctx).Return([]domain.Transaction{*invoice, *payment}, nil)
	d.backend.EXPECT().GetInvoice(gomock.Any(), "inv1").Return(&ports.InvoiceState{
		ID:     "inv1",
		Status: ports.InvoiceStatusUnpaid,
	}, nil)
	d.backend.EXPECT().GetPayment(gomock.Any(), "hash2").Return(&ports.PaymentState{
		PaymentHash: "hash2",
		Status:      ports.PaymentStatusPending,
	}, nil)

	w.checkPending(ctx)
}

func TestInvoiceWatcher_GetPendingFailureSkipsTick(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.txRepo.EXPECT().GetPending(ctx).Return(nil, assert.AnError)

	w.checkPending(ctx)
}

func TestInvoiceWatcher_RunStopsOnCancel(t *testing.T) {
	w, d := setupWatcher(t)
	defer d.ctrl.Finish()

	d.txRepo.EXPECT().GetPending(gomock.Any()).Return(nil, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
