package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/apply_delta.lua
var applyDeltaScript string

//go:embed scripts/set_balance.lua
var setBalanceScript string

type Client struct {
	rdb         *redis.Client
	deltaScript *redis.Script
	setScript   *redis.Script
}

// Balance is the cached view of one SKU's ledger row.
type Balance struct {
	OnHand       int
	SoftReserved int
	HardLocked   int
}

// Free is the quantity available to new claims.
func (b Balance) Free() int {
	return b.OnHand - b.SoftReserved - b.HardLocked
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		deltaScript: redis.NewScript(applyDeltaScript),
		setScript:   redis.NewScript(setBalanceScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func balanceKey(sku string) string {
	return "balance:" + sku
}

// SetBalance overwrites the cached balance for a SKU.
func (c *Client) SetBalance(ctx context.Context, sku string, onHand, soft, hard int) error {
	_, err := c.setScript.Run(ctx, c.rdb, []string{balanceKey(sku)}, onHand, soft, hard).Result()
	if err != nil {
		return fmt.Errorf("set balance script failed: %w", err)
	}
	return nil
}

// ApplyDelta atomically shifts the cached balance and returns the new free
// quantity. Best-effort mirror of a committed ledger mutation.
func (c *Client) ApplyDelta(ctx context.Context, sku string, onHandDelta, softDelta, hardDelta int) (int, error) {
	result, err := c.deltaScript.Run(ctx, c.rdb, []string{balanceKey(sku)},
		onHandDelta, softDelta, hardDelta).Result()
	if err != nil {
		return 0, fmt.Errorf("apply delta script failed: %w", err)
	}

	free, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return int(free), nil
}

// GetBalance retrieves the cached balance for a SKU. The boolean is false
// when the SKU is not cached.
func (c *Client) GetBalance(ctx context.Context, sku string) (Balance, bool, error) {
	result, err := c.rdb.HGetAll(ctx, balanceKey(sku)).Result()
	if err != nil {
		return Balance{}, false, err
	}
	if len(result) == 0 {
		return Balance{}, false, nil
	}

	var bal Balance
	bal.OnHand, _ = strconv.Atoi(result["on_hand"])
	bal.SoftReserved, _ = strconv.Atoi(result["soft_reserved"])
	bal.HardLocked, _ = strconv.Atoi(result["hard_locked"])
	return bal, true, nil
}

// GetBalances retrieves cached balances for multiple SKUs in one pipeline.
// SKUs missing from the cache are absent from the result.
func (c *Client) GetBalances(ctx context.Context, skus []string) (map[string]Balance, error) {
	pipe := c.rdb.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(skus))
	for _, sku := range skus {
		cmds[sku] = pipe.HGetAll(ctx, balanceKey(sku))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]Balance, len(skus))
	for sku, cmd := range cmds {
		result, err := cmd.Result()
		if err != nil || len(result) == 0 {
			continue
		}
		var bal Balance
		bal.OnHand, _ = strconv.Atoi(result["on_hand"])
		bal.SoftReserved, _ = strconv.Atoi(result["soft_reserved"])
		bal.HardLocked, _ = strconv.Atoi(result["hard_locked"])
		out[sku] = bal
	}
	return out, nil
}
