package main

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"stockhub/internal/pkg/bootstrap"
	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/metrics"
	"stockhub/internal/pkg/mq"
	"stockhub/internal/pkg/redis"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/domain/port"
	"stockhub/internal/service/inventory/infrastructure"
	"stockhub/internal/service/inventory/infrastructure/adapter"
	"stockhub/internal/service/inventory/infrastructure/memory"
	"stockhub/internal/service/inventory/infrastructure/rule"
	"stockhub/internal/service/inventory/interfaces"
	"stockhub/internal/zookeeper"
)

// storage 事务日志、两类库存仓储和本地事务
type storage struct {
	transactions domain.TransactionRepository
	blindBox     domain.InventoryRepository
	collection   domain.InventoryRepository
	transactor   domain.Transactor
}

func registerHandlers(appCtx *bootstrap.AppCtx) error {
	cfg := appCtx.Config
	ctx := context.Background()

	store, err := openStorage(appCtx)
	if err != nil {
		return err
	}

	// Redis 同时服务于锁和幂等标记，只在需要时连接
	var redisClient *redis.Client
	if cfg.App.Lock.Provider == "redis" || cfg.App.Storage.Driver != "memory" {
		redisClient, err = redis.NewClient(cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return err
		}
		appCtx.OnShutdown(func(context.Context) error { return redisClient.Close() })
	}

	locker, err := openLocker(appCtx, redisClient)
	if err != nil {
		return err
	}
	var guard port.IdempotencyGuard = memory.NewGuard()
	if redisClient != nil {
		guard = adapter.NewRedisIdempotencyAdapter(redisClient)
	}

	rules, err := rule.NewCELRuleEngine(cfg.App.Rules)
	if err != nil {
		return err
	}
	bootstrap.OnConfigChange(func(next *bootstrap.Config) {
		if err := rules.Reload(next.App.Rules); err != nil {
			logger.L().Error().Err(err).Msg("keeping previous purchase rules")
		}
	})

	m := metrics.NewTCCMetrics(prometheus.DefaultRegisterer)
	backends := application.Backends{
		BlindBox:   application.NewBlindBoxBackend(store.blindBox, cfg.App.TCC.CASMaxRetries, m),
		Collection: application.NewCollectionBackend(store.collection, cfg.App.TCC.CASMaxRetries, m),
	}

	var publisher port.InconsistencyPublisher = adapter.InconsistencyLogAdapter{}
	kafkaCfg := cfg.Infra.Kafka
	if kafkaCfg.Enabled() {
		alertWriter := mq.NewKafkaWriter(kafkaCfg.Brokers, kafkaCfg.AlertTopic)
		appCtx.OnShutdown(func(context.Context) error { return alertWriter.Close() })
		publisher = adapter.NewInconsistencyKafkaAdapter(alertWriter)
	}
	alerts := application.NewAlertService(guard, publisher, cfg.App.TCC.AlertDedupeTTL)

	coordinator := application.NewCoordinator(
		cfg.App.TCC.Scene,
		cfg.App.TCC.LockTTL,
		application.NewTransactionLog(store.transactions),
		backends,
		store.transactor,
		locker,
		rules,
		alerts,
		m,
		otel.Tracer(serviceName),
	)

	inventory := application.NewInventoryService(backends)
	seed, err := seedGoods(cfg.App.Seed)
	if err != nil {
		return err
	}
	if err := inventory.Seed(ctx, seed); err != nil {
		return err
	}

	interfaces.NewInventoryHandler(coordinator, inventory, metrics.Handler(prometheus.DefaultGatherer), appCtx.Draining).
		RegisterRoutes(appCtx.Mux)

	if kafkaCfg.Enabled() {
		wireKafka(appCtx, coordinator, guard)
	}
	return nil
}

func openStorage(appCtx *bootstrap.AppCtx) (*storage, error) {
	cfg := appCtx.Config
	if cfg.App.Storage.Driver == "memory" {
		logger.L().Warn().Msg("using in-memory storage, state is lost on restart")
		s := memory.NewStore()
		return &storage{
			transactions: s.Transactions(),
			blindBox:     s.Inventory(domain.GoodsTypeBlindBox),
			collection:   s.Inventory(domain.GoodsTypeCollection),
			transactor:   s,
		}, nil
	}

	db, err := infrastructure.OpenMySQL(infrastructure.MySQLOptions{
		DSN:             cfg.Infra.MySQL.DSN(),
		MaxOpenConns:    cfg.Infra.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.Infra.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.Infra.MySQL.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	appCtx.OnShutdown(func(context.Context) error { return closeDB(db) })

	blindBox, err := infrastructure.NewGormInventoryRepository(db, domain.GoodsTypeBlindBox)
	if err != nil {
		return nil, err
	}
	collection, err := infrastructure.NewGormInventoryRepository(db, domain.GoodsTypeCollection)
	if err != nil {
		return nil, err
	}
	return &storage{
		transactions: infrastructure.NewGormTransactionRepository(db),
		blindBox:     blindBox,
		collection:   collection,
		transactor:   infrastructure.NewGormTransactor(db, sql.LevelReadCommitted),
	}, nil
}

func openLocker(appCtx *bootstrap.AppCtx, redisClient *redis.Client) (port.DistributedLock, error) {
	cfg := appCtx.Config
	switch cfg.App.Lock.Provider {
	case "redis":
		return adapter.NewRedisLockAdapter(redisClient)
	case "zookeeper":
		if err := adapter.CheckLeaseTTL(cfg.App.TCC.LockTTL, cfg.Infra.Zookeeper.SessionTimeout); err != nil {
			logger.L().Warn().Err(err).Msg("tcc.lock_ttl has no effect on zookeeper locks")
		}
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, err
		}
		appCtx.OnShutdown(func(context.Context) error {
			conn.Close()
			return nil
		})
		leaseLock, err := zookeeper.NewLeaseLock(conn)
		if err != nil {
			return nil, err
		}
		return adapter.NewZookeeperLockAdapter(leaseLock), nil
	case "memory":
		return memory.NewLocker(), nil
	}
	return nil, errors.Errorf("unknown lock provider %q", cfg.App.Lock.Provider)
}

// wireKafka 指令消费者、回复发布者、失败重投和死信日志
func wireKafka(appCtx *bootstrap.AppCtx, tcc interfaces.TCCService, guard port.IdempotencyGuard) {
	cfg := appCtx.Config
	k := cfg.Infra.Kafka

	replyWriter := mq.NewKafkaWriter(k.Brokers, k.ReplyTopic)
	failureWriter := mq.NewKafkaWriter(k.Brokers, "")
	appCtx.OnShutdown(func(context.Context) error { return replyWriter.Close() })
	appCtx.OnShutdown(func(context.Context) error { return failureWriter.Close() })

	appCtx.AddWorker(interfaces.NewCommandConsumer(
		mq.NewKafkaReader(k.Brokers, k.CommandTopic, k.GroupID),
		tcc,
		guard,
		cfg.App.TCC.CommandDedupeTTL,
		adapter.NewReplyKafkaAdapter(replyWriter),
		mq.NewFailureHandler(failureWriter, k.DLTTopic, cfg.App.TCC.ConsumerMaxRetries),
	))
	appCtx.AddWorker(interfaces.NewDltConsumer(mq.NewKafkaReader(k.Brokers, k.DLTTopic, k.GroupID+"-dlt")))
}

func seedGoods(in []bootstrap.SeedGoods) ([]application.SeedGoods, error) {
	out := make([]application.SeedGoods, 0, len(in))
	for _, g := range in {
		goodsType, err := domain.ParseGoodsType(g.GoodsType)
		if err != nil {
			return nil, errors.Wrapf(err, "seed goods %s", g.GoodsID)
		}
		out = append(out, application.SeedGoods{
			GoodsType: goodsType,
			GoodsID:   g.GoodsID,
			Available: g.Available,
		})
	}
	return out, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
