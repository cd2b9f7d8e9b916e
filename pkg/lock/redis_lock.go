package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLock 单个 Redis 锁, value 为持有者令牌
type RedisLock struct {
	client     redis.UniversalClient
	key        string
	token      string
	expiration time.Duration
}

// Acquire 非阻塞获取
func (lock *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := lock.client.SetNX(ctx, lock.key, lock.token, lock.expiration).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", lock.key, err)
	}
	return ok, nil
}

// Release 只有持有者才能释放
func (lock *RedisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lock.client, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lock.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend 延长过期时间, 只有持有者才能延长
func (lock *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	n, err := extendScript.Run(ctx, lock.client, []string{lock.key}, lock.token, extension.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", lock.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// RedisLockerConfig Redis 锁配置
type RedisLockerConfig struct {
	KeyPrefix     string
	Expiration    time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

// RedisLocker 多实例部署下的事件锁
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisLockerConfig
}

// NewRedisLocker 创建 Redis 锁管理器
func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "eidos:bridge:lock:"
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 30 * time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 100
	}
	return &RedisLocker{client: client, cfg: cfg}
}

// NewLock 创建锁
func (l *RedisLocker) NewLock(key string) *RedisLock {
	return &RedisLock{
		client:     l.client,
		key:        l.cfg.KeyPrefix + key,
		token:      uuid.New().String(),
		expiration: l.cfg.Expiration,
	}
}

// WithLock 带重试获取锁后执行 fn, 重试耗尽返回 ErrLockAcquireFailed
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock := l.NewLock(key)

	for i := 0; ; i++ {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if i+1 >= l.cfg.MaxRetries {
			return ErrLockAcquireFailed
		}
		if err := waitFor(ctx, l.cfg.RetryInterval); err != nil {
			return err
		}
	}

	// 锁可能已过期, 释放失败忽略
	defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()

	return fn(ctx)
}
