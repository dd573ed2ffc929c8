package ports

import (
	"context"

	"ln-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WalletsQuery filters wallet reads. A wallet is visible to a caller only
// if the caller owns it or holds an access key for it; soft-deleted
// wallets are excluded unless explicitly requested.
type WalletsQuery struct {
	UserID              []string
	AccessKey           []string
	WalletID            []string
	IncludeTransactions bool
	IncludeAccessKeys   bool
	IncludeSoftDeleted  bool
}

// TransactionQuery selects a single transaction. Exactly-one-of semantics:
// the first non-empty selector wins, scoped by WalletID/UserID when set.
type TransactionQuery struct {
	UserID         string
	WalletID       string
	TransactionID  string
	InvoiceID      string
	HasInvoiceID   bool
	PaymentRequest string
	PaymentHash    string
}

// TransactionsQuery filters transaction lists. The Including* toggles
// mirror the status derivation: paid = settlement recorded, pending = no
// payment date yet, and the explicit override states.
type TransactionsQuery struct {
	UserID             string
	WalletID           string
	Type               domain.TransactionType
	IncludingPaid      bool
	IncludingPending   bool
	IncludingExpired   bool
	IncludingCancelled bool
	IncludingInvalid   bool
}

// WalletRepository defines persistence operations for wallets and their
// access keys.
type WalletRepository interface {
	Get(ctx context.Context, query WalletsQuery) (*domain.Wallet, error)
	List(ctx context.Context, query WalletsQuery) ([]domain.Wallet, error)
	// Upsert inserts or updates a wallet. The first insert also creates
	// the creator's admin access key.
	Upsert(ctx context.Context, wallet *domain.Wallet) error
	// Remove soft-deletes a wallet. Fails if the derived balance is not zero.
	Remove(ctx context.Context, wallet *domain.Wallet) error
	// GetBalance recomputes the wallet balance from its transactions.
	GetBalance(ctx context.Context, walletID string) (int64, error)
	UpsertAccessKey(ctx context.Context, walletID, userID string, level domain.AccessLevel) (*domain.AccessKey, error)
	DeleteAccessKey(ctx context.Context, walletID, key string) error
}

// TransactionRepository defines persistence operations for transactions.
// The *Tx variants run inside a caller-managed database transaction and
// are used for the atomic internal settlement.
type TransactionRepository interface {
	Create(ctx context.Context, txn *domain.Transaction) error
	CreateTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	Update(ctx context.Context, txn *domain.Transaction) error
	UpdateTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	// Delete removes a row. Only ever used for preliminary pending rows
	// whose external payment could not be attempted.
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, query TransactionQuery) (*domain.Transaction, error)
	List(ctx context.Context, query TransactionsQuery) ([]domain.Transaction, error)
	// GetPending returns the rows the invoice watcher must reconcile:
	// no payment date yet and not in a terminal override state.
	GetPending(ctx context.Context) ([]domain.Transaction, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
