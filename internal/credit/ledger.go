package credit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrInsufficient is returned when a debit would take a balance below zero.
var ErrInsufficient = errors.New("insufficient credits")

// Ledger tracks per-user generation credits. Debit reserves credits up
// front; Refund returns them when a submission never reaches the provider.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64) error
	Refund(ctx context.Context, userID string, amount int64) error
}

// RedisLedger keeps balances in Redis. The debit is a Lua script so the
// balance check and decrement are atomic.
type RedisLedger struct {
	redis *redis.Client
}

func NewRedisLedger(redisClient *redis.Client) *RedisLedger {
	return &RedisLedger{redis: redisClient}
}

var debitScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
	return -1
end
return redis.call('DECRBY', KEYS[1], amount)
`)

func creditKey(userID string) string {
	return "credits:" + userID
}

func (l *RedisLedger) Balance(ctx context.Context, userID string) (int64, error) {
	val, err := l.redis.Get(ctx, creditKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance: %w", err)
	}
	return balance, nil
}

func (l *RedisLedger) Debit(ctx context.Context, userID string, amount int64) error {
	res, err := debitScript.Run(ctx, l.redis, []string{creditKey(userID)}, amount).Int64()
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	if res < 0 {
		return ErrInsufficient
	}
	return nil
}

func (l *RedisLedger) Refund(ctx context.Context, userID string, amount int64) error {
	if err := l.redis.IncrBy(ctx, creditKey(userID), amount).Err(); err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	return nil
}

// UnlimitedLedger never rejects a debit. Used when credit enforcement
// is disabled and in tests.
type UnlimitedLedger struct{}

func NewUnlimitedLedger() *UnlimitedLedger { return &UnlimitedLedger{} }

func (UnlimitedLedger) Balance(context.Context, string) (int64, error) { return 1 << 30, nil }
func (UnlimitedLedger) Debit(context.Context, string, int64) error     { return nil }
func (UnlimitedLedger) Refund(context.Context, string, int64) error    { return nil }
