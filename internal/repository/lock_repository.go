package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript 只在锁仍由自己持有时删除 key。
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// LockRepository 接口定义了跨进程的包锁标记操作，基于 Redis 实现。
type LockRepository interface {
	// Acquire 尝试获取锁，不等待。成功时返回用于释放的 token。
	Acquire(ctx context.Context, packageID uint, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, packageID uint, token string) error
}

type lockRepository struct {
	redisClient *redis.Client
}

// NewLockRepository 创建一个新的 LockRepository 实例。
func NewLockRepository(redisClient *redis.Client) LockRepository {
	return &lockRepository{redisClient: redisClient}
}

func (r *lockRepository) key(packageID uint) string {
	return "tbkb:package-lock:" + strconv.FormatUint(uint64(packageID), 10)
}

func (r *lockRepository) Acquire(ctx context.Context, packageID uint, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.redisClient.SetNX(ctx, r.key(packageID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *lockRepository) Release(ctx context.Context, packageID uint, token string) error {
	return releaseScript.Run(ctx, r.redisClient, []string{r.key(packageID)}, token).Err()
}
