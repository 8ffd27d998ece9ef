// Package redis implements store.Store on Redis.
//
// Layout per named map m:
//
//	{m}             hash  key -> value
//	{m}:versions    hash  key -> version counter (survives deletes)
//	{m}:coherence   channel for coherence events
//
// Lists and sorted sets live under {name}. Every key of one collection shares
// a hash tag, so the layout is cluster-safe.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/coherent/internal/util"
	"github.com/unkn0wn-root/coherent/store"
)

const (
	defaultHealthInterval = 5 * time.Second
	blockSlice            = time.Second // BLPOP granularity is whole seconds
)

// put bumps the version counter and stores the value in one step.
var putScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return v
`)

// delete bumps the version only when something was removed.
var deleteScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 1 then
  return redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
end
return 0
`)

type Options struct {
	// HealthInterval is how long a subscription may stay silent before it is
	// pinged. 0 => 5s.
	HealthInterval time.Duration
}

type Store struct {
	rdb    redis.UniversalClient
	health time.Duration
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client. Close closes it.
func New(client redis.UniversalClient, opts Options) *Store {
	h := opts.HealthInterval
	if h <= 0 {
		h = defaultHealthInterval
	}
	return &Store{rdb: client, health: h}
}

// Client exposes the underlying client.
func (s *Store) Client() redis.UniversalClient { return s.rdb }

func (s *Store) Close(context.Context) error { return s.rdb.Close() }

// wrap classifies err: server replies stay plain errors, everything else is a
// transport failure. Caller cancellation passes through untouched.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return store.Transport(op, err)
}

// ---- maps ----

func (s *Store) Get(ctx context.Context, mapName, key string) ([]byte, uint64, bool, error) {
	var val, ver *redis.StringCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		val = p.HGet(ctx, util.DataKey(mapName), key)
		ver = p.HGet(ctx, util.VersionKey(mapName), key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, wrap("get", err)
	}
	b, err := val.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, wrap("get", err)
	}
	v, err := parseVersion(ver.Val())
	if err != nil {
		return nil, 0, false, err
	}
	return b, v, true, nil
}

func (s *Store) GetMany(ctx context.Context, mapName string, keys []string) (map[string]store.Versioned, error) {
	out := make(map[string]store.Versioned, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var vals, vers *redis.SliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		vals = p.HMGet(ctx, util.DataKey(mapName), keys...)
		vers = p.HMGet(ctx, util.VersionKey(mapName), keys...)
		return nil
	})
	if err != nil {
		return nil, wrap("get_many", err)
	}
	vv, rv := vals.Val(), vers.Val()
	for i, k := range keys {
		if i >= len(vv) || vv[i] == nil {
			continue
		}
		raw, ok := vv[i].(string)
		if !ok {
			return nil, fmt.Errorf("redis get_many: unexpected value type %T for %q", vv[i], k)
		}
		var vs string
		if i < len(rv) {
			vs, _ = rv[i].(string)
		}
		ver, err := parseVersion(vs)
		if err != nil {
			return nil, err
		}
		out[k] = store.Versioned{Value: []byte(raw), Version: ver}
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, mapName, key string, value []byte) (uint64, error) {
	v, err := putScript.Run(ctx, s.rdb, []string{util.DataKey(mapName), util.VersionKey(mapName)}, key, value).Int64()
	if err != nil {
		return 0, wrap("put", err)
	}
	return uint64(v), nil
}

func (s *Store) Delete(ctx context.Context, mapName, key string) (bool, uint64, error) {
	v, err := deleteScript.Run(ctx, s.rdb, []string{util.DataKey(mapName), util.VersionKey(mapName)}, key).Int64()
	if err != nil {
		return false, 0, wrap("delete", err)
	}
	if v == 0 {
		return false, 0, nil
	}
	return true, uint64(v), nil
}

func (s *Store) Size(ctx context.Context, mapName string) (int64, error) {
	n, err := s.rdb.HLen(ctx, util.DataKey(mapName)).Result()
	return n, wrap("size", err)
}

// A value written outside Put has no counter yet; it reads as version 0.
func parseVersion(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis version parse: %w", err)
	}
	return v, nil
}

// ---- lists ----

func (s *Store) Push(ctx context.Context, list string, side store.Side, values ...[]byte) (int64, error) {
	if len(values) == 0 {
		return s.Len(ctx, list)
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	var (
		n   int64
		err error
	)
	if side == store.Front {
		n, err = s.rdb.LPush(ctx, util.DataKey(list), args...).Result()
	} else {
		n, err = s.rdb.RPush(ctx, util.DataKey(list), args...).Result()
	}
	return n, wrap("push", err)
}

func (s *Store) Pop(ctx context.Context, list string, side store.Side) ([]byte, bool, error) {
	var cmd *redis.StringCmd
	if side == store.Front {
		cmd = s.rdb.LPop(ctx, util.DataKey(list))
	} else {
		cmd = s.rdb.RPop(ctx, util.DataKey(list))
	}
	b, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("pop", err)
	}
	return b, true, nil
}

// BlockingPop issues BLPOP/BRPOP in slices of at most blockSlice. A slice is
// never aborted: it runs on a context detached from ctx, and ctx is only
// checked between slices. An element popped by the server is therefore always
// returned to the caller. Timeouts are honoured with whole-second precision.
func (s *Store) BlockingPop(ctx context.Context, list string, side store.Side, timeout time.Duration) ([]byte, bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	key := util.DataKey(list)
	bg := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		slice := blockSlice
		if !deadline.IsZero() {
			rem := time.Until(deadline)
			if rem <= 0 {
				return nil, false, nil
			}
			if rem < slice {
				slice = rem
			}
		}
		slice = slice.Round(time.Second)
		if slice < time.Second {
			slice = time.Second
		}

		var cmd *redis.StringSliceCmd
		if side == store.Front {
			cmd = s.rdb.BLPop(bg, slice, key)
		} else {
			cmd = s.rdb.BRPop(bg, slice, key)
		}
		res, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, wrap("blocking_pop", err)
		}
		if len(res) != 2 {
			return nil, false, fmt.Errorf("redis blocking_pop: unexpected reply length %d", len(res))
		}
		return []byte(res[1]), true, nil
	}
}

func (s *Store) Len(ctx context.Context, list string) (int64, error) {
	n, err := s.rdb.LLen(ctx, util.DataKey(list)).Result()
	return n, wrap("len", err)
}

func (s *Store) Range(ctx context.Context, list string, start, stop int64) ([][]byte, error) {
	res, err := s.rdb.LRange(ctx, util.DataKey(list), start, stop).Result()
	if err != nil {
		return nil, wrap("range", err)
	}
	out := make([][]byte, len(res))
	for i, v := range res {
		out[i] = []byte(v)
	}
	return out, nil
}

// ---- sorted sets ----

func (s *Store) Add(ctx context.Context, set string, member []byte, score float64) (bool, error) {
	n, err := s.rdb.ZAdd(ctx, util.DataKey(set), redis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return false, wrap("zadd", err)
	}
	return n == 1, nil
}

func (s *Store) IncrBy(ctx context.Context, set string, member []byte, delta float64) (float64, error) {
	v, err := s.rdb.ZIncrBy(ctx, util.DataKey(set), delta, string(member)).Result()
	return v, wrap("zincrby", err)
}

func (s *Store) RangeByRank(ctx context.Context, set string, start, stop int64) ([]store.ScoredEntry, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, util.DataKey(set), start, stop).Result()
	if err != nil {
		return nil, wrap("zrange", err)
	}
	out := make([]store.ScoredEntry, 0, len(zs))
	for _, z := range zs {
		m, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("redis zrange: unexpected member type %T", z.Member)
		}
		out = append(out, store.ScoredEntry{Member: []byte(m), Score: z.Score})
	}
	return out, nil
}

func (s *Store) Score(ctx context.Context, set string, member []byte) (float64, bool, error) {
	v, err := s.rdb.ZScore(ctx, util.DataKey(set), string(member)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("zscore", err)
	}
	return v, true, nil
}

func (s *Store) Rank(ctx context.Context, set string, member []byte) (int64, bool, error) {
	v, err := s.rdb.ZRank(ctx, util.DataKey(set), string(member)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("zrank", err)
	}
	return v, true, nil
}

func (s *Store) Remove(ctx context.Context, set string, member []byte) (bool, error) {
	n, err := s.rdb.ZRem(ctx, util.DataKey(set), string(member)).Result()
	if err != nil {
		return false, wrap("zrem", err)
	}
	return n == 1, nil
}

func (s *Store) Card(ctx context.Context, set string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, util.DataKey(set)).Result()
	return n, wrap("zcard", err)
}

// ---- pub/sub ----

func (s *Store) Publish(ctx context.Context, channel string, msg []byte) (int64, error) {
	n, err := s.rdb.Publish(ctx, channel, msg).Result()
	return n, wrap("publish", err)
}

func (s *Store) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	return NewSubscription(ctx, s.rdb.Subscribe(ctx, channel), s.health)
}
