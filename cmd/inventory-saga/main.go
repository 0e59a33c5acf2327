// cmd/inventory-saga/main.go 以 saga 编排方的身份对库存服务执行一次完整的 TCC 流程
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"stockhub/internal/pkg/bootstrap"
	"stockhub/internal/pkg/httpclient"
	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/nacos"
	"stockhub/internal/pkg/tracing"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/client"
	"stockhub/internal/service/inventory/domain"
)

const serviceName = "inventory-saga"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		baseURL   = flag.String("url", "", "inventory service base url, discovered through nacos when empty")
		bizKey    = flag.String("biz-key", "", "business key, a random one is generated when empty")
		goodsType = flag.String("goods-type", "BLIND_BOX", "BLIND_BOX | COLLECTION")
		goodsID   = flag.String("goods-id", "bb-1001", "goods id")
		quantity  = flag.Int64("quantity", 1, "quantity to buy")
		cancel    = flag.Bool("cancel", false, "cancel after try instead of confirming")
		timeout   = flag.Duration("timeout", 10*time.Second, "overall timeout")
	)
	flag.Parse()

	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	logger.Init(serviceName, cfg.App.LogLevel, "console")
	log := logger.L()

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	defer tp.Shutdown(context.Background())

	gt, err := domain.ParseGoodsType(*goodsType)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid goods type")
	}
	if *bizKey == "" {
		*bizKey = "saga-" + uuid.NewString()
	}
	url := *baseURL
	if url == "" {
		url, err = discover(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("inventory service not found")
		}
	}

	ctx, done := context.WithTimeout(context.Background(), *timeout)
	defer done()
	ctx, span := otel.Tracer(serviceName).Start(ctx, "saga.buy-goods")
	defer span.End()

	c := client.New(httpclient.NewClient(otel.Tracer(serviceName)), client.Options{BaseURL: url})
	req := application.DecreaseRequest{BizKey: *bizKey, GoodsID: *goodsID, GoodsType: gt, Quantity: *quantity}

	result, err := c.Try(ctx, req)
	report("try", result, err)
	if err != nil || !result.Success || *cancel {
		// try 失败或超时时同样需要 cancel，服务端会做空回滚
		result, err = c.Cancel(ctx, req)
		report("cancel", result, err)
	} else {
		result, err = c.Confirm(ctx, req)
		report("confirm", result, err)
	}
	if err != nil || !result.Success {
		return 1
	}
	return 0
}

func discover(cfg *bootstrap.Config) (string, error) {
	if !cfg.Infra.Nacos.Enabled {
		return fmt.Sprintf("http://localhost:%d", cfg.App.Port), nil
	}
	nc, err := nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return "", err
	}
	defer nc.Close()
	host, port, err := nc.DiscoverServiceInstance(cfg.App.Name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", host, port), nil
}

func report(phase string, result *application.DecreaseResult, err error) {
	event := logger.L().Info().Str("phase", phase)
	if err != nil {
		event = logger.L().Error().Str("phase", phase).Err(err)
	} else if result != nil {
		event = event.Bool("success", result.Success).Str("code", string(result.Code)).Str("outcome", result.Outcome)
	}
	event.Msg("inventory call finished")
}
