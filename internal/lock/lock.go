// Package lock 提供包级别的互斥：同一时间只允许一次匹配运行，获取失败立即返回而不等待。
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/pkg/log"
)

var (
	// ErrLockContention 表示包正在被其它请求处理。
	ErrLockContention = errors.New("package is already being processed")
	// ErrPackageNotFound 表示包不存在。
	ErrPackageNotFound = errors.New("package not found")
	// ErrPackageNotEditable 表示包当前的状态不允许匹配。
	ErrPackageNotEditable = errors.New("package is not in an editable state")
)

var lockContentionTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tbkb_package_lock_contention_total",
		Help: "Number of package lock attempts rejected because the package was already locked",
	},
	[]string{"layer"},
)

const (
	pgLockNotAvailable = "55P03"
	mysqlLockNoWait    = 3572
)

// Func 在持有包锁的事务中执行，pkg 是加锁后重新读取的最新数据。
type Func func(tx *gorm.DB, pkg *model.Package) error

// PackageLocker 依次获取进程内锁、Redis 锁（可选）和数据库行锁，任何一层被占用都立即失败。
type PackageLocker struct {
	db    *gorm.DB
	guard repository.LockRepository
	ttl   time.Duration

	mu   sync.Mutex
	held map[uint]struct{} // 本进程中正在匹配的包，释放时删除
}

// NewPackageLocker 创建一个 PackageLocker，guard 为 nil 时不使用 Redis。
func NewPackageLocker(db *gorm.DB, guard repository.LockRepository, ttl time.Duration) *PackageLocker {
	return &PackageLocker{db: db, guard: guard, ttl: ttl, held: make(map[uint]struct{})}
}

// tryAcquire 在进程内占用包，已被占用时立即返回 false。
func (l *PackageLocker) tryAcquire(packageID uint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[packageID]; busy {
		return false
	}
	l.held[packageID] = struct{}{}
	return true
}

func (l *PackageLocker) release(packageID uint) {
	l.mu.Lock()
	delete(l.held, packageID)
	l.mu.Unlock()
}

// heldCount 返回本进程当前持有的包锁数量。
func (l *PackageLocker) heldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// WithLock 锁定一个可编辑的包并在同一个事务中执行 fn。
// fn 正常返回后包被标记为 MATCHED 并提交，fn 返回错误时整个事务回滚。
func (l *PackageLocker) WithLock(ctx context.Context, packageID uint, fn Func) error {
	if !l.tryAcquire(packageID) {
		lockContentionTotal.WithLabelValues("local").Inc()
		return ErrLockContention
	}
	defer l.release(packageID)

	if l.guard != nil {
		token, ok, err := l.guard.Acquire(ctx, packageID, l.ttl)
		if err != nil {
			return fmt.Errorf("acquire package lock: %w", err)
		}
		if !ok {
			lockContentionTotal.WithLabelValues("redis").Inc()
			return ErrLockContention
		}
		defer func() {
			if err := l.guard.Release(context.Background(), packageID, token); err != nil {
				log.Errorf("[WithLock] 释放包 %d 的 Redis 锁失败: %v", packageID, err)
			}
		}()
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		packages := repository.NewPackageRepository(tx)
		pkg, err := packages.LockEditable(packageID)
		if err != nil {
			return l.classify(tx, packageID, err)
		}

		if err := fn(tx, pkg); err != nil {
			return err
		}

		pkg.MatchingState = model.MatchingStateMatched
		return packages.UpdateMatchingState(pkg.ID, model.MatchingStateMatched)
	})
}

// classify 把加锁查询的错误转换为锁相关的错误。
func (l *PackageLocker) classify(tx *gorm.DB, packageID uint, err error) error {
	if IsLockNotAvailable(err) {
		lockContentionTotal.WithLabelValues("database").Inc()
		return ErrLockContention
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	var cnt int64
	if err := tx.Model(&model.Package{}).Where("id = ?", packageID).Count(&cnt).Error; err != nil {
		return err
	}
	if cnt == 0 {
		return ErrPackageNotFound
	}
	return ErrPackageNotEditable
}

// IsLockNotAvailable 判断数据库错误是否表示 NOWAIT 加锁失败。
func IsLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockNoWait
	}
	return false
}
