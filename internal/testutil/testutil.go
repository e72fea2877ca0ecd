// Package testutil 提供测试用的内存数据库和数据构造函数。
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/pkg/database"
)

// NewDB 为每个测试创建一个独立的 SQLite 内存数据库并同步表结构。
func NewDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(tb, err)
	require.NoError(tb, database.Migrate(db))
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Ptr 返回值的指针。
func Ptr[T any](v T) *T {
	return &v
}

// SeedUser 创建一个用户。
func SeedUser(tb testing.TB, db *gorm.DB, username, role string) *model.User {
	tb.Helper()
	user := &model.User{Username: username, Email: username + "@example.org", Role: role}
	require.NoError(tb, db.Create(user).Error)
	return user
}

// SeedPackage 创建一个包及其统计记录，mutate 可以在保存前修改默认字段。
func SeedPackage(tb testing.TB, db *gorm.DB, owner *model.User, mutate ...func(p *model.Package)) *model.Package {
	tb.Helper()
	pkg := &model.Package{
		Name:           "package " + uuid.NewString()[:8],
		Origin:         model.PackageOriginTBKB,
		State:          model.PackageStateDraft,
		MatchingState:  model.MatchingStateNeverMatched,
		StateChangedOn: time.Now(),
	}
	if owner != nil {
		pkg.OwnerID = &owner.ID
	}
	for _, m := range mutate {
		m(pkg)
	}
	require.NoError(tb, db.Create(pkg).Error)
	require.NoError(tb, db.Create(&model.PackageStats{PackageID: pkg.ID}).Error)
	return pkg
}

// SeedAlias 创建一个别名，prefix 为空字符串表示没有 FASTQ 前缀。
func SeedAlias(tb testing.TB, db *gorm.DB, pkg *model.Package, name, prefix string, mutate ...func(a *model.SampleAlias)) *model.SampleAlias {
	tb.Helper()
	alias := &model.SampleAlias{
		PackageID: pkg.ID,
		Name:      name,
		Origin:    model.AliasOriginTBKB,
		Verdicts:  model.VerdictLog{},
	}
	if prefix != "" {
		alias.FastqPrefix = &prefix
	}
	for _, m := range mutate {
		m(alias)
	}
	require.NoError(tb, db.Create(alias).Error)
	return alias
}

// SeedSample 创建一个样本。
func SeedSample(tb testing.TB, db *gorm.DB, mutate ...func(s *model.Sample)) *model.Sample {
	tb.Helper()
	sample := &model.Sample{NCBITaxonID: 1773}
	for _, m := range mutate {
		m(sample)
	}
	require.NoError(tb, db.Create(sample).Error)
	return sample
}

// SeedFile 创建一个测序文件及其哈希，但不关联到任何包。
func SeedFile(tb testing.TB, db *gorm.DB, libraryName, location string, sampleID *uint) (*model.SequencingFile, *model.SequencingFileHash) {
	tb.Helper()
	path := "fastq/" + uuid.NewString() + ".fastq.gz"
	file := &model.SequencingFile{
		LibraryName:  libraryName,
		FilePath:     &path,
		DataLocation: location,
		SampleID:     sampleID,
	}
	require.NoError(tb, db.Create(file).Error)
	hash := &model.SequencingFileHash{
		SequencingFileID: file.ID,
		Algorithm:        "md5",
		Value:            strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	require.NoError(tb, db.Create(hash).Error)
	return file, hash
}

// SeedLink 把一个测序文件以指定的上传文件名关联到包。
func SeedLink(tb testing.TB, db *gorm.DB, pkg *model.Package, file *model.SequencingFile, hash *model.SequencingFileHash, filename string) *model.SequencingFileLink {
	tb.Helper()
	link := &model.SequencingFileLink{
		PackageID:            pkg.ID,
		SequencingFileID:     file.ID,
		SequencingFileHashID: hash.ID,
		Filename:             filename,
		Verdicts:             model.VerdictLog{},
	}
	require.NoError(tb, db.Omit("SequencingFile").Create(link).Error)
	return link
}

// SeedUpload 创建一个新上传的测序文件并以 filename 关联到包。
func SeedUpload(tb testing.TB, db *gorm.DB, pkg *model.Package, filename string) *model.SequencingFileLink {
	tb.Helper()
	file, hash := SeedFile(tb, db, "", model.DataLocationTBKB, nil)
	return SeedLink(tb, db, pkg, file, hash, filename)
}

// Reload 从数据库重新读取记录。
func Reload[T any](tb testing.TB, db *gorm.DB, id uint) *T {
	tb.Helper()
	var v T
	require.NoError(tb, db.First(&v, id).Error)
	return &v
}
