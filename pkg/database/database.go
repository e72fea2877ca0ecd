// Package database 负责初始化关系型数据库和 Redis 连接。
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/config"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/pkg/log"
)

var DB *gorm.DB

// Open 根据配置中的 driver 打开数据库连接，支持 mysql 和 postgres。
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql", "":
		dialector = mysql.Open(cfg.MySQL.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// InitDB 初始化全局数据库连接并同步表结构，失败时直接退出。
func InitDB(cfg config.DatabaseConfig) {
	db, err := Open(cfg)
	if err != nil {
		log.Fatal("failed to connect database", err)
	}
	if err := Migrate(db); err != nil {
		log.Fatal("failed to migrate database", err)
	}
	DB = db
	log.Infof("%s database connected successfully", db.Dialector.Name())
}

// Migrate 同步全部模型的表结构。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Package{},
		&model.PackageStats{},
		&model.Sample{},
		&model.SampleAlias{},
		&model.SequencingFile{},
		&model.SequencingFileHash{},
		&model.SequencingFileLink{},
		&model.MICTest{},
		&model.PDSTest{},
	)
}
