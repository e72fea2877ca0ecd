// Package main 提供 tbkbctl 命令行工具，用于数据库迁移、用户管理和签发测试令牌。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/config"
	"tbkb-submission-go/pkg/database"
	"tbkb-submission-go/pkg/log"
)

var (
	configPath string
	cfg        config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tbkbctl",
		Short:         "Administrative tool for the TB knowledge-base submission backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = loaded
			log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "Path to the configuration file")

	root.AddCommand(newMigrateCmd(), newUserCmd(), newTokenCmd())
	return root
}

// openDB 打开配置中的数据库，调用方负责关闭。
func openDB() (*gorm.DB, func(), error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, closeFn, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrating schema: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema migrated (%s)\n", db.Dialector.Name())
			return nil
		},
	}
}
