package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ln-ledger/internal/core/domain"
	"ln-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `t.id, t.wallet_id, t.invoice_id, t.amount, t.amount_settled, t.routing_fee,
		t.description, t.payment_request, t.payment_hash, t.preimage, t.created_at, t.expires_at, t.paid_at, t.explicit_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionRow(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var explicitStatus string
	err := row.Scan(
		&t.ID, &t.WalletID, &t.InvoiceID, &t.Amount, &t.AmountSettled, &t.RoutingFee,
		&t.Description, &t.PaymentRequest, &t.PaymentHash, &t.Preimage,
		&t.CreatedAt, &t.ExpiresAt, &t.PaidAt, &explicitStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.ExplicitStatus = domain.Status(explicitStatus)
	return t, nil
}

const insertTransactionSQL = `INSERT INTO transactions (id, wallet_id, invoice_id, amount, amount_settled, routing_fee,
		description, payment_request, payment_hash, preimage, created_at, expires_at, paid_at, explicit_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func insertTransaction(ctx context.Context, ex executor, t *domain.Transaction) error {
	_, err := ex.Exec(ctx, insertTransactionSQL,
		t.ID, t.WalletID, t.InvoiceID, t.Amount, t.AmountSettled, t.RoutingFee,
		t.Description, t.PaymentRequest, t.PaymentHash, t.Preimage,
		t.CreatedAt, t.ExpiresAt, t.PaidAt, string(t.ExplicitStatus),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

const updateTransactionSQL = `UPDATE transactions SET amount = $1, amount_settled = $2, routing_fee = $3,
		preimage = $4, paid_at = $5, explicit_status = $6 WHERE id = $7`

func updateTransaction(ctx context.Context, ex executor, t *domain.Transaction) error {
	tag, err := ex.Exec(ctx, updateTransactionSQL,
		t.Amount, t.AmountSettled, t.RoutingFee, t.Preimage, t.PaidAt, string(t.ExplicitStatus), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", t.ID)
	}
	return nil
}

// Create inserts a new transaction row.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	return insertTransaction(ctx, r.pool, t)
}

// CreateTx inserts a new transaction row inside a database transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	return insertTransaction(ctx, tx, t)
}

// Update persists the mutable fields of a transaction row.
func (r *TransactionRepo) Update(ctx context.Context, t *domain.Transaction) error {
	return updateTransaction(ctx, r.pool, t)
}

// UpdateTx persists the mutable fields inside a database transaction.
func (r *TransactionRepo) UpdateTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	return updateTransaction(ctx, tx, t)
}

// Delete removes a transaction row. Used only to discard preliminary
// pending rows whose external payment never got attempted.
func (r *TransactionRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// Get fetches a single transaction matching the query.
// Returns nil, nil when nothing matches.
func (r *TransactionRepo) Get(ctx context.Context, query ports.TransactionQuery) (*domain.Transaction, error) {
	var conditions []string
	var args []any
	next := func(arg any) string {
		args = append(args, arg)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.TransactionID != "" {
		conditions = append(conditions, "t.id = "+next(query.TransactionID))
	}
	if query.InvoiceID != "" {
		conditions = append(conditions, "t.invoice_id = "+next(query.InvoiceID))
	} else if query.HasInvoiceID {
		conditions = append(conditions, "t.invoice_id <> ''")
	}
	if query.PaymentRequest != "" {
		conditions = append(conditions, "t.payment_request = "+next(query.PaymentRequest))
	}
	if query.PaymentHash != "" {
		conditions = append(conditions, "t.payment_hash = "+next(query.PaymentHash))
	}
	if query.WalletID != "" {
		conditions = append(conditions, "t.wallet_id = "+next(query.WalletID))
	}
	if query.UserID != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM wallets w WHERE w.id = t.wallet_id AND w.user_id = %s AND NOT w.soft_deleted)",
			next(query.UserID)))
	}
	if len(conditions) == 0 {
		return nil, fmt.Errorf("empty transaction query")
	}

	sql := "SELECT " + transactionColumns + " FROM transactions t WHERE " + strings.Join(conditions, " AND ")
	t, err := scanTransactionRow(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// List fetches transactions matching the filter toggles. The toggles map
// onto the raw status fields the same way the derived status does.
func (r *TransactionRepo) List(ctx context.Context, query ports.TransactionsQuery) ([]domain.Transaction, error) {
	var conditions []string
	var args []any
	next := func(arg any) string {
		args = append(args, arg)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.WalletID != "" {
		conditions = append(conditions, "t.wallet_id = "+next(query.WalletID))
	}
	if query.UserID != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM wallets w WHERE w.id = t.wallet_id AND w.user_id = %s AND NOT w.soft_deleted)",
			next(query.UserID)))
	}
	if !query.IncludingPaid {
		conditions = append(conditions, "t.paid_at IS NULL")
	}
	if !query.IncludingPending {
		conditions = append(conditions, "t.paid_at IS NOT NULL")
	}
	if !query.IncludingCancelled {
		conditions = append(conditions, "t.explicit_status <> 'cancelled'")
	}
	if !query.IncludingInvalid {
		conditions = append(conditions, "t.explicit_status <> 'invalid'")
	}
	if !query.IncludingExpired {
		conditions = append(conditions, "t.explicit_status <> 'expired'")
	}
	switch query.Type {
	case domain.TransactionTypeInvoice:
		conditions = append(conditions, "t.invoice_id <> ''")
	case domain.TransactionTypePayment:
		conditions = append(conditions, "t.invoice_id = ''")
	}

	sql := "SELECT " + transactionColumns + " FROM transactions t"
	if len(conditions) > 0 {
		sql += " WHERE " + strings.Join(conditions, " AND ")
	}
	sql += " ORDER BY t.created_at"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, nil
}

// GetPending returns the rows the invoice watcher reconciles: nothing paid
// yet and no terminal override recorded.
func (r *TransactionRepo) GetPending(ctx context.Context) ([]domain.Transaction, error) {
	return r.List(ctx, ports.TransactionsQuery{
		IncludingPending:   true,
		IncludingPaid:      false,
		IncludingExpired:   false,
		IncludingCancelled: false,
		IncludingInvalid:   false,
	})
}
