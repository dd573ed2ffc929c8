package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ln-ledger/internal/core/domain"
	"ln-ledger/internal/core/ports"
	"ln-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

const walletColumns = "w.id, w.user_id, w.name, w.created_at, w.soft_deleted"

func buildWalletFilter(query ports.WalletsQuery) (string, []any) {
	var conditions []string
	var args []any
	next := func(arg any) string {
		args = append(args, arg)
		return fmt.Sprintf("$%d", len(args))
	}

	if !query.IncludeSoftDeleted {
		conditions = append(conditions, "NOT w.soft_deleted")
	}
	if len(query.UserID) > 0 {
		p := next(query.UserID)
		conditions = append(conditions, fmt.Sprintf(
			"(w.user_id = ANY(%s) OR EXISTS (SELECT 1 FROM access_keys ak WHERE ak.wallet_id = w.id AND ak.user_id = ANY(%s)))",
			p, p))
	}
	if len(query.AccessKey) > 0 {
		p := next(query.AccessKey)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM access_keys ak WHERE ak.wallet_id = w.id AND ak.key = ANY(%s))", p))
	}
	if len(query.WalletID) > 0 {
		conditions = append(conditions, fmt.Sprintf("w.id = ANY(%s)", next(query.WalletID)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// Get fetches a single wallet matching the query, with the caller's access
// level computed. Returns nil, nil when no visible wallet matches.
func (r *WalletRepo) Get(ctx context.Context, query ports.WalletsQuery) (*domain.Wallet, error) {
	wallets, err := r.List(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, nil
	}
	return &wallets[0], nil
}

// List fetches all wallets visible to the query's caller.
func (r *WalletRepo) List(ctx context.Context, query ports.WalletsQuery) ([]domain.Wallet, error) {
	where, args := buildWalletFilter(query)
	sql := "SELECT " + walletColumns + " FROM wallets w" + where + " ORDER BY w.created_at"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.CreatedAt, &w.SoftDeleted); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	// Access keys are needed both when asked for and to compute the
	// caller's access level.
	if query.IncludeAccessKeys || len(query.UserID) > 0 || len(query.AccessKey) > 0 {
		if err := r.loadAccessKeys(ctx, wallets); err != nil {
			return nil, err
		}
	}
	if query.IncludeTransactions {
		if err := r.loadTransactions(ctx, wallets); err != nil {
			return nil, err
		}
	}

	for i := range wallets {
		computeAccessLevel(&wallets[i], query)
	}
	return wallets, nil
}

// computeAccessLevel resolves the caller's level: an explicit grant wins,
// the owner is implicitly admin, anyone else never got here (filtered out).
func computeAccessLevel(w *domain.Wallet, query ports.WalletsQuery) {
	for _, ak := range w.AccessKeys {
		for _, userID := range query.UserID {
			if ak.UserID == userID {
				w.AccessLevel = ak.Level
				return
			}
		}
		for _, key := range query.AccessKey {
			if ak.Key == key {
				w.AccessLevel = ak.Level
				return
			}
		}
	}
	for _, userID := range query.UserID {
		if w.UserID == userID {
			w.AccessLevel = domain.AccessLevelAdmin
			return
		}
	}
}

func (r *WalletRepo) loadAccessKeys(ctx context.Context, wallets []domain.Wallet) error {
	ids := walletIDs(wallets)
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT key, wallet_id, user_id, level FROM access_keys WHERE wallet_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load access keys: %w", err)
	}
	defer rows.Close()

	byWallet := make(map[string][]domain.AccessKey)
	for rows.Next() {
		var ak domain.AccessKey
		var level string
		if err := rows.Scan(&ak.Key, &ak.WalletID, &ak.UserID, &level); err != nil {
			return fmt.Errorf("scan access key: %w", err)
		}
		ak.Level, _ = domain.ParseAccessLevel(level)
		byWallet[ak.WalletID] = append(byWallet[ak.WalletID], ak)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load access keys: %w", err)
	}
	for i := range wallets {
		wallets[i].AccessKeys = byWallet[wallets[i].ID]
	}
	return nil
}

func (r *WalletRepo) loadTransactions(ctx context.Context, wallets []domain.Wallet) error {
	ids := walletIDs(wallets)
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.wallet_id = ANY($1) ORDER BY t.created_at`, ids)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	byWallet := make(map[string][]domain.Transaction)
	for rows.Next() {
		txn, err := scanTransactionRow(rows)
		if err != nil {
			return err
		}
		byWallet[txn.WalletID] = append(byWallet[txn.WalletID], *txn)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	for i := range wallets {
		wallets[i].Transactions = byWallet[wallets[i].ID]
	}
	return nil
}

func walletIDs(wallets []domain.Wallet) []string {
	ids := make([]string, len(wallets))
	for i := range wallets {
		ids[i] = wallets[i].ID
	}
	return ids
}

// Upsert inserts or updates a wallet. A first insert assigns the ID and
// creates the creator's admin access key in the same database transaction.
func (r *WalletRepo) Upsert(ctx context.Context, w *domain.Wallet) error {
	if w.ID != "" {
		_, err := r.pool.Exec(ctx,
			`UPDATE wallets SET user_id = $1, name = $2, soft_deleted = $3 WHERE id = $4`,
			w.UserID, w.Name, w.SoftDeleted, w.ID)
		if err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		return nil
	}

	w.ID = uuid.NewString()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	adminKey := domain.AccessKey{
		Key:      domain.NewAccessKeyID(),
		WalletID: w.ID,
		UserID:   w.UserID,
		Level:    domain.AccessLevelAdmin,
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin wallet insert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO wallets (id, user_id, name, created_at, soft_deleted) VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.UserID, w.Name, w.CreatedAt, w.SoftDeleted)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO access_keys (key, wallet_id, user_id, level) VALUES ($1, $2, $3, $4)`,
		adminKey.Key, adminKey.WalletID, adminKey.UserID, adminKey.Level.String())
	if err != nil {
		return fmt.Errorf("insert admin access key: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit wallet insert: %w", err)
	}

	w.AccessKeys = append(w.AccessKeys, adminKey)
	return nil
}

// Remove soft-deletes a wallet. The wallet must have a zero derived
// balance; deletion with funds on the ledger is refused.
func (r *WalletRepo) Remove(ctx context.Context, w *domain.Wallet) error {
	balance, err := r.GetBalance(ctx, w.ID)
	if err != nil {
		return err
	}
	if balance != 0 {
		return apperror.ErrWalletHasBalance()
	}

	w.SoftDeleted = true
	return r.Upsert(ctx, w)
}

// GetBalance recomputes the wallet balance as the sum of settled amounts.
func (r *WalletRepo) GetBalance(ctx context.Context, walletID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_settled), 0) FROM transactions WHERE wallet_id = $1 AND amount_settled IS NOT NULL`,
		walletID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("wallet balance: %w", err)
	}
	return balance, nil
}

// UpsertAccessKey creates or updates the grant for (wallet, user), which is
// unique per pair.
func (r *WalletRepo) UpsertAccessKey(ctx context.Context, walletID, userID string, level domain.AccessLevel) (*domain.AccessKey, error) {
	ak := &domain.AccessKey{WalletID: walletID, UserID: userID, Level: level}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO access_keys (key, wallet_id, user_id, level) VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_id, user_id) DO UPDATE SET level = EXCLUDED.level
		RETURNING key`,
		domain.NewAccessKeyID(), walletID, userID, level.String()).Scan(&ak.Key)
	if err != nil {
		return nil, fmt.Errorf("upsert access key: %w", err)
	}
	return ak, nil
}

// DeleteAccessKey removes a grant by wallet and key.
func (r *WalletRepo) DeleteAccessKey(ctx context.Context, walletID, key string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM access_keys WHERE wallet_id = $1 AND key = $2`, walletID, key)
	if err != nil {
		return fmt.Errorf("delete access key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("access key not found: %s", key)
	}
	return nil
}
