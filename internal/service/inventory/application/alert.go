package application

import (
	"context"
	"time"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/domain/port"
)

// AlertService 把不一致事件投递出去，同一 (phase, scene, bizKey) 在 dedupeTTL 内只告警一次
type AlertService struct {
	guard     port.IdempotencyGuard
	publisher port.InconsistencyPublisher
	dedupeTTL time.Duration
}

func NewAlertService(guard port.IdempotencyGuard, publisher port.InconsistencyPublisher, dedupeTTL time.Duration) *AlertService {
	return &AlertService{guard: guard, publisher: publisher, dedupeTTL: dedupeTTL}
}

func (s *AlertService) Report(ctx context.Context, event *domain.InconsistencyEvent) error {
	key := "alert:" + event.Phase.String() + ":" + event.Scene + ":" + event.BizKey
	sent, err := RunOnce(ctx, s.guard, key, s.dedupeTTL, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, event)
	})
	if err != nil {
		return err
	}
	if !sent {
		logger.Ctx(ctx).Debug().Str("key", key).Msg("inconsistency already reported, skipping")
	}
	return nil
}
