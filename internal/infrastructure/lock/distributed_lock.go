package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 余额正确性由数据库的条件更新保证，这里的锁只用于串行化
// 同一个幂等键 / 同一张提现单上的并发重试，让后到的请求直接拿到前一次的结果。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本先比对 value 再删除，避免误删他人的锁

var (
	ErrLockFailed = errors.New("acquire distributed lock failed")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 过期时间，防止持有者崩溃后死锁
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// Locker：供 service 层使用的锁工厂
// ============================================================================

// RedisLocker 按 key 加锁，返回释放函数
type RedisLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:        client,
		expiration:    30 * time.Second,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    100,
	}
}

// Acquire 获取 key 对应的锁，token 用于标识持有者
func (r *RedisLocker) Acquire(ctx context.Context, key, token string) (func(), error) {
	l := NewDistributedLock(r.client, key, token, r.expiration)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 使用独立 context，调用方取消后仍能释放锁
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.Unlock(ctx)
	}, nil
}

// IdempotencyKey 同一用户同一幂等键的锁
func IdempotencyKey(scope string, userID int64, key string) string {
	return fmt.Sprintf("ledger:lock:%s:user:%d:%s", scope, userID, key)
}

// RedemptionKey 提现单审核锁
func RedemptionKey(requestID int64) string {
	return fmt.Sprintf("ledger:lock:redemption:%d", requestID)
}

// ReferralKey 同一被推荐人的奖励锁
func ReferralKey(refereeID int64) string {
	return fmt.Sprintf("ledger:lock:referral:%d", refereeID)
}
