// Package testdb 为各包测试提供独立的 sqlite 数据库
package testdb

import (
	"path/filepath"
	"testing"

	"msmeconnect/internal/config"
	"msmeconnect/internal/infrastructure/database"
	"msmeconnect/internal/model"

	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// New 每个测试一个临时文件库，测试结束自动关闭
func New(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
		LogLevel:   "silent",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Shared 连接外部 MySQL / Postgres，多连接池下验证真实并发。
// 读取 LEDGER_TEST_DB_DRIVER / HOST / PORT / USER / PASSWORD / NAME，
// 未设置 LEDGER_TEST_DB_DRIVER 时跳过测试。每次调用前清空全部表。
func Shared(t testing.TB) *gorm.DB {
	t.Helper()

	v := viper.New()
	v.SetEnvPrefix("LEDGER_TEST_DB")
	v.AutomaticEnv()
	v.SetDefault("max_open_conns", 16)

	driver := v.GetString("driver")
	if driver == "" {
		t.Skip("LEDGER_TEST_DB_DRIVER is not set")
	}

	db, err := database.Open(&config.DatabaseConfig{
		Driver:       driver,
		Host:         v.GetString("host"),
		Port:         v.GetInt("port"),
		User:         v.GetString("user"),
		Password:     v.GetString("password"),
		Database:     v.GetString("name"),
		MaxOpenConns: v.GetInt("max_open_conns"),
		MaxIdleConns: v.GetInt("max_open_conns"),
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("open shared test db: %v", err)
	}

	for _, m := range model.All() {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			t.Fatalf("reset shared test db: %v", err)
		}
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
