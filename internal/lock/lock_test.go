package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/internal/testutil"
)

func TestWithLockMarksPackageMatched(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, nil)
	// 包在调用方读取之后被修改，加锁后应看到最新数据
	require.NoError(t, db.Model(&model.Package{}).Where("id = ?", pkg.ID).Update("name", "renamed").Error)

	locker := NewPackageLocker(db, nil, time.Minute)
	var seen string
	err := locker.WithLock(context.Background(), pkg.ID, func(tx *gorm.DB, locked *model.Package) error {
		seen = locked.Name
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", seen)

	got := testutil.Reload[model.Package](t, db, pkg.ID)
	assert.Equal(t, model.MatchingStateMatched, got.MatchingState)
}

func TestWithLockRollsBackOnError(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, nil)
	boom := errors.New("boom")

	locker := NewPackageLocker(db, nil, time.Minute)
	err := locker.WithLock(context.Background(), pkg.ID, func(tx *gorm.DB, locked *model.Package) error {
		require.NoError(t, tx.Create(&model.Sample{NCBITaxonID: 1773, PackageID: &locked.ID}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var cnt int64
	require.NoError(t, db.Model(&model.Sample{}).Count(&cnt).Error)
	assert.Zero(t, cnt)
	assert.Equal(t, model.MatchingStateNeverMatched, testutil.Reload[model.Package](t, db, pkg.ID).MatchingState)
}

func TestWithLockRejectsConcurrentRuns(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, nil)
	locker := NewPackageLocker(db, nil, time.Minute)

	const n = 8
	start := make(chan struct{})
	release := make(chan struct{})
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			<-start
			results <- locker.WithLock(context.Background(), pkg.ID, func(tx *gorm.DB, _ *model.Package) error {
				<-release
				return nil
			})
		}()
	}
	close(start)

	// 持有锁的一方阻塞在 release 上，其余 n-1 个请求必须立即失败
	for i := 0; i < n-1; i++ {
		assert.ErrorIs(t, <-results, ErrLockContention)
	}
	close(release)
	assert.NoError(t, <-results)

	// 锁释放后可以再次获取
	assert.NoError(t, locker.WithLock(context.Background(), pkg.ID, func(*gorm.DB, *model.Package) error { return nil }))
}

func TestWithLockDoesNotBlockOtherPackages(t *testing.T) {
	db := testutil.NewDB(t)
	first := testutil.SeedPackage(t, db, nil)
	second := testutil.SeedPackage(t, db, nil)
	locker := NewPackageLocker(db, nil, time.Minute)

	err := locker.WithLock(context.Background(), first.ID, func(*gorm.DB, *model.Package) error {
		// 同一进程内对另一个包加锁只检查进程内锁
		require.True(t, locker.tryAcquire(second.ID))
		locker.release(second.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockReleasesLocalEntries(t *testing.T) {
	db := testutil.NewDB(t)
	locker := NewPackageLocker(db, nil, time.Minute)
	for i := 0; i < 5; i++ {
		pkg := testutil.SeedPackage(t, db, nil)
		require.NoError(t, locker.WithLock(context.Background(), pkg.ID, func(tx *gorm.DB, locked *model.Package) error {
			assert.Equal(t, 1, locker.heldCount())
			return nil
		}))
	}
	// 失败的运行同样释放
	pkg := testutil.SeedPackage(t, db, nil)
	err := locker.WithLock(context.Background(), pkg.ID, func(tx *gorm.DB, locked *model.Package) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, locker.heldCount())

	require.NoError(t, locker.WithLock(context.Background(), pkg.ID, func(tx *gorm.DB, locked *model.Package) error { return nil }))
	assert.Equal(t, 0, locker.heldCount())
}

func TestWithLockRequiresEditablePackage(t *testing.T) {
	db := testutil.NewDB(t)
	pending := testutil.SeedPackage(t, db, nil, func(p *model.Package) { p.State = model.PackageStatePending })
	rejected := testutil.SeedPackage(t, db, nil, func(p *model.Package) { p.State = model.PackageStateRejected })
	locker := NewPackageLocker(db, nil, time.Minute)
	noop := func(*gorm.DB, *model.Package) error { return nil }

	assert.ErrorIs(t, locker.WithLock(context.Background(), pending.ID, noop), ErrPackageNotEditable)
	assert.ErrorIs(t, locker.WithLock(context.Background(), 9999, noop), ErrPackageNotFound)
	assert.NoError(t, locker.WithLock(context.Background(), rejected.ID, noop))
}

func TestWithLockRedisGuardAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, nil)
	guard := repository.NewLockRepository(client)
	// 两个 locker 模拟两个进程，它们不共享进程内锁
	a := NewPackageLocker(db, guard, time.Minute)
	b := NewPackageLocker(db, guard, time.Minute)

	err := a.WithLock(context.Background(), pkg.ID, func(*gorm.DB, *model.Package) error {
		return b.WithLock(context.Background(), pkg.ID, func(*gorm.DB, *model.Package) error {
			t.Fatal("second process must not enter the critical section")
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrLockContention)

	// a 的事务回滚后 Redis 锁也已释放
	assert.False(t, mr.Exists(fmt.Sprintf("tbkb:package-lock:%d", pkg.ID)))
	assert.NoError(t, b.WithLock(context.Background(), pkg.ID, func(*gorm.DB, *model.Package) error { return nil }))
}

func TestWithLockRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, nil)
	mr.Close()

	locker := NewPackageLocker(db, repository.NewLockRepository(client), time.Minute)
	err := locker.WithLock(context.Background(), pkg.ID, func(*gorm.DB, *model.Package) error { return nil })
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockContention)
}

func TestIsLockNotAvailable(t *testing.T) {
	assert.True(t, IsLockNotAvailable(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsLockNotAvailable(fmt.Errorf("query: %w", &pgconn.PgError{Code: "55P03"})))
	assert.False(t, IsLockNotAvailable(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsLockNotAvailable(&mysql.MySQLError{Number: 3572}))
	assert.False(t, IsLockNotAvailable(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsLockNotAvailable(gorm.ErrRecordNotFound))
}
