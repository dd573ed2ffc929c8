package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// AccessLevel is an ordered capability level for a wallet grant.
// Higher levels include everything the lower ones allow.
type AccessLevel int

const (
	AccessLevelReadOnly AccessLevel = iota
	AccessLevelInvoice
	AccessLevelSend
	AccessLevelAdmin
)

// Allows reports whether the level covers the required capability.
func (l AccessLevel) Allows(required AccessLevel) bool {
	return l >= required
}

func (l AccessLevel) String() string {
	switch l {
	case AccessLevelReadOnly:
		return "read-only"
	case AccessLevelInvoice:
		return "invoice"
	case AccessLevelSend:
		return "send"
	case AccessLevelAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseAccessLevel maps the persisted string form back to a level.
func ParseAccessLevel(s string) (AccessLevel, bool) {
	switch s {
	case "read-only":
		return AccessLevelReadOnly, true
	case "invoice":
		return AccessLevelInvoice, true
	case "send":
		return AccessLevelSend, true
	case "admin":
		return AccessLevelAdmin, true
	default:
		return AccessLevelReadOnly, false
	}
}

// AccessKey grants a user a capability level on a wallet. Keys are unique
// per (wallet, user).
type AccessKey struct {
	Key      string      `json:"key"`
	WalletID string      `json:"walletId"`
	UserID   string      `json:"userId"`
	Level    AccessLevel `json:"level"`
}

// NewAccessKeyID generates the random 20-byte hex identifier used as the
// access key token.
func NewAccessKeyID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b)
}

// Wallet is a logical sub-wallet sharing the underlying node's liquidity.
type Wallet struct {
	ID           string        `json:"walletId"`
	UserID       string        `json:"userId"`
	Name         string        `json:"name"`
	CreatedAt    time.Time     `json:"createdAt"`
	SoftDeleted  bool          `json:"-"`
	Transactions []Transaction `json:"transactions,omitempty"`
	AccessKeys   []AccessKey   `json:"accessKeys,omitempty"`

	// AccessLevel is the caller's computed level for this wallet. It is
	// filled in per query and never persisted.
	AccessLevel AccessLevel `json:"accessLevel"`
}

// Balance sums the settled amounts of the loaded transactions. The balance
// is always derived; it is never stored as its own mutable field.
func (w *Wallet) Balance() int64 {
	var total int64
	for i := range w.Transactions {
		if w.Transactions[i].AmountSettled != nil {
			total += *w.Transactions[i].AmountSettled
		}
	}
	return total
}
