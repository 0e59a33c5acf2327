package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stockhub/internal/pkg/logger"
)

// MySQLOptions 连接池参数
type MySQLOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenMySQL 打开 GORM 连接并完成建表，调用方无需再执行 Migrate
func OpenMySQL(opts MySQLOptions) (*gorm.DB, error) {
	return open(mysql.Open(opts.DSN), opts)
}

func open(dialector gorm.Dialector, opts MySQLOptions) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger()})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialector.Name())
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB from gorm")
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// NewGormLogger 把 GORM 的慢查询和错误日志输出到 zerolog
func NewGormLogger() gormlogger.Interface {
	return gormlogger.New(logger.L(), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate 创建事务日志、库存和流水表
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&TransactionLogModel{},
		&BlindBoxInventoryModel{},
		&CollectionInventoryModel{},
		&InventoryStreamModel{},
	)
	return errors.Wrap(err, "auto migrate inventory tables")
}

type txContextKey struct{}

// GormTransactor 以 GORM 事务实现 domain.Transactor，事务句柄通过 ctx 传递给仓储。
type GormTransactor struct {
	db   *gorm.DB
	opts *sql.TxOptions
}

// NewGormTransactor 创建事务器。MySQL 下使用 READ COMMITTED，
// 这样 CAS 失败后的重读能看到其他事务已提交的版本号。
func NewGormTransactor(db *gorm.DB, isolation sql.IsolationLevel) *GormTransactor {
	t := &GormTransactor{db: db}
	if isolation != sql.LevelDefault {
		t.opts = &sql.TxOptions{Isolation: isolation}
	}
	return t
}

func (t *GormTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	}, t.opts)
}

// conn 返回 ctx 中的事务句柄，没有事务时返回普通连接
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
