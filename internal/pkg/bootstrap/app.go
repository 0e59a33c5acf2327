// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/nacos"
	"stockhub/internal/pkg/tracing"
)

// Worker 是随服务一起启动和关停的后台任务，例如 Kafka 消费者
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config *Config

	mu       sync.Mutex
	workers  []Worker
	closers  []func(ctx context.Context) error
	draining bool
}

// AddWorker 注册一个后台任务，在 HTTP 服务启动后运行
func (a *AppCtx) AddWorker(w Worker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workers = append(a.workers, w)
}

// OnShutdown 注册关停时的清理函数，按注册的逆序执行
func (a *AppCtx) OnShutdown(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Draining 在收到退出信号后返回 true，健康检查据此摘流
func (a *AppCtx) Draining() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draining
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx *AppCtx) error // 每个服务注册自己的路由和后台任务
}

// StartService 封装了微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	logger.Init(info.ServiceName, cfg.App.LogLevel, cfg.App.LogFormat)
	log := logger.L()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. Nacos: 配置中心 + 服务注册
	var namingClient *nacos.Client
	var ip string
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		if err := watchRemoteConfig(namingClient, cfg.Infra.Nacos.DataID); err != nil {
			log.Warn().Err(err).Msg("remote config unavailable, keeping local config")
		}
		cfg = GetCurrentConfig()
		if ip, err = nacos.OutboundIP(); err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
	}

	// 3. 业务路由与后台任务
	appCtx := &AppCtx{Mux: http.NewServeMux(), Nacos: namingClient, Config: cfg}
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to wire service")
		}
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           appCtx.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, w := range appCtx.workers {
		w := w
		g.Go(func() error { return w.Start(gctx) })
	}

	if namingClient != nil {
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 阻塞直到收到退出信号或某个组件失败
	<-gctx.Done()
	log.Info().Str("service", info.ServiceName).Msg("shutting down")
	appCtx.mu.Lock()
	appCtx.draining = true
	appCtx.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关停顺序: 注销 -> HTTP -> 后台任务 -> 资源 -> tracer
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("error deregistering from nacos")
		}
		defer namingClient.Close()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}
	for _, w := range appCtx.workers {
		w.Stop(shutdownCtx)
	}
	for i := len(appCtx.closers) - 1; i >= 0; i-- {
		if err := appCtx.closers[i](shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error releasing resource")
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down tracer provider")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("service", info.ServiceName).Msg("service stopped with error")
		return
	}
	log.Info().Str("service", info.ServiceName).Msg("service gracefully shut down")
}
