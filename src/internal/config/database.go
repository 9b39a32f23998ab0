package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// InitDB 初始化导出台账使用的 MySQL 连接池，数据库不存在时自动创建
func InitDB(ctx context.Context, cfg *AppConfig) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		return nil, fmt.Errorf("InitDB: config is nil")
	}

	dsn := cfg.GetDatabaseDSN(true)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("InitDB: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	err = db.PingContext(ctxPing)
	cancelPing()

	if err != nil {
		// 可能是数据库不存在，连到 server 根上建库后重连
		_ = db.Close()

		dbRoot, errRoot := sql.Open("mysql", cfg.GetDatabaseDSN(false))
		if errRoot != nil {
			return nil, fmt.Errorf("InitDB: %w", errRoot)
		}
		defer dbRoot.Close()

		createDBSQL := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.Database.Name)
		if _, errExec := dbRoot.ExecContext(ctx, createDBSQL); errExec != nil {
			return nil, fmt.Errorf("InitDB: create database %s: %w (first ping: %v)", cfg.Database.Name, errExec, err)
		}

		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("InitDB: %w", err)
		}
	}

	db.SetMaxOpenConns(cfg.Batch.Concurrency + 1)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("InitDB ping failed: %w", err)
	}

	return db, nil
}
