package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagegate/internal/config"
	"imagegate/internal/entity"
	"imagegate/internal/model/sql"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DBTypeMySQL    = "mysql"
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// InitRepository opens the configured database, migrates the gateway
// tables and returns the gorm repository.
func InitRepository(cfg *config.Config) (Repository, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	return openRepository(dialector)
}

// OpenSQLite 打开指定路径的 SQLite 数据库并完成迁移
func OpenSQLite(filePath string) (Repository, error) {
	return InitRepository(&config.Config{DBType: DBTypeSQLite, DBPath: filePath})
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
	switch dbType {
	case DBTypeMySQL:
		dsn := cfg.DSNURL
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				cfg.DBUser, cfg.DBPassword, cfg.DBAddr, cfg.DBPort, cfg.DBName)
		}
		return mysql.Open(dsn), nil
	case DBTypePostgres:
		dsn := cfg.DSNURL
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
				cfg.DBAddr, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		}
		return postgres.Open(dsn), nil
	case DBTypeSQLite:
		path := cfg.DBPath
		if path == "" {
			path = "datas/imagegate.db"
		}
		// sqlite 只建文件，不建目录
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir %q: %w", dir, err)
			}
		}
		// 并发扣费时等待写锁
		return sqlite.Open(path + "?_busy_timeout=5000"), nil
	case "":
		return nil, fmt.Errorf("database type is not configured")
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
}

func openRepository(dialector gorm.Dialector) (Repository, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             5 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		DisableForeignKeyConstraintWhenMigrating: true,
		// duplicate keys surface as gorm.ErrDuplicatedKey
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialector.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&entity.DbUser{},
		&entity.DbProviderConfig{},
		&entity.DbImageResult{},
		&entity.DbCreditUsageLog{},
		&entity.DbUserDailyQuota{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return sql.NewGormRepository(db), nil
}
