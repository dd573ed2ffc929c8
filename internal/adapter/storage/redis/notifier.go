package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"ln-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// TransactionChannel is the pub/sub channel transaction events go out on.
const TransactionChannel = "transaction_events"

// Notifier implements ports.TransactionNotifier over Redis pub/sub.
// Subscribers that are not listening at publish time miss the event;
// the ledger itself is the durable record.
type Notifier struct {
	client  *goredis.Client
	channel string
}

// NewNotifier creates a Redis-backed transaction notifier.
func NewNotifier(client *goredis.Client) *Notifier {
	return &Notifier{
		client:  client,
		channel: TransactionChannel,
	}
}

// Publish marshals the event and pushes it on the transaction channel.
func (n *Notifier) Publish(ctx context.Context, event domain.TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transaction event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish transaction event: %w", err)
	}
	return nil
}
