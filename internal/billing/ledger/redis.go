package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	claimKeyPrefix = "circular:stripe_event:claim:"
	doneKeyPrefix  = "circular:stripe_event:done:"

	// DefaultDoneTTL outlives Stripe's redelivery window (three days).
	DefaultDoneTTL = 7 * 24 * time.Hour
)

// RedisLedger shares the ledger between replicas.
type RedisLedger struct {
	client   *redis.Client
	claimTTL time.Duration
	doneTTL  time.Duration
}

// NewRedisLedger creates a new RedisLedger instance
func NewRedisLedger(client *redis.Client, claimTTL, doneTTL time.Duration) *RedisLedger {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	if doneTTL <= 0 {
		doneTTL = DefaultDoneTTL
	}
	return &RedisLedger{client: client, claimTTL: claimTTL, doneTTL: doneTTL}
}

func (l *RedisLedger) Claim(ctx context.Context, eventID, _ string) (Status, error) {
	exists, err := l.client.Exists(ctx, doneKeyPrefix+eventID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check processed event: %w", err)
	}
	if exists > 0 {
		return Duplicate, nil
	}

	// SetNX is atomic: only one replica wins the claim.
	acquired, err := l.client.SetNX(ctx, claimKeyPrefix+eventID, "1", l.claimTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to claim event: %w", err)
	}
	if !acquired {
		return InFlight, nil
	}
	return Claimed, nil
}

func (l *RedisLedger) Complete(ctx context.Context, eventID, outcome string) error {
	pipe := l.client.TxPipeline()
	pipe.Set(ctx, doneKeyPrefix+eventID, outcome, l.doneTTL)
	pipe.Del(ctx, claimKeyPrefix+eventID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete event: %w", err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, claimKeyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to release event: %w", err)
	}
	return nil
}
