// Package client 是 saga 编排方调用库存 TCC 接口的 HTTP 客户端。
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"stockhub/internal/pkg/httpclient"
	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/domain"
)

// ErrProtocolViolation 服务端返回 412: confirm 前没有 try，或 confirm 发生在 cancel 之后
var ErrProtocolViolation = errors.New("tcc protocol violation")

// StatusError 服务端返回的非业务结果，例如参数错误或库存不一致
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inventory service returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case "INVALID_REQUEST":
		return domain.ErrInvalidRequest
	case "PROTOCOL_VIOLATION":
		return ErrProtocolViolation
	case "GOODS_NOT_FOUND":
		return domain.ErrGoodsNotFound
	case "INCONSISTENT":
		return domain.ErrInventoryInconsistent
	}
	return nil
}

type Options struct {
	BaseURL     string
	MaxAttempts int           // 包含第一次调用
	Backoff     time.Duration // 首次重试等待时间，之后翻倍
}

// Client 对 LOCKED/BUSY 以及网络错误做退避重试，同一 bizKey 的重试由服务端保证幂等
type Client struct {
	http        *httpclient.Client
	baseURL     string
	maxAttempts int
	backoff     time.Duration
}

func New(hc *httpclient.Client, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	return &Client{
		http:        hc,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
	}
}

func (c *Client) Try(ctx context.Context, req application.DecreaseRequest) (*application.DecreaseResult, error) {
	return c.call(ctx, "/inventory/tcc/try", req)
}

func (c *Client) Confirm(ctx context.Context, req application.DecreaseRequest) (*application.DecreaseResult, error) {
	return c.call(ctx, "/inventory/tcc/confirm", req)
}

func (c *Client) Cancel(ctx context.Context, req application.DecreaseRequest) (*application.DecreaseResult, error) {
	return c.call(ctx, "/inventory/tcc/cancel", req)
}

func (c *Client) call(ctx context.Context, path string, req application.DecreaseRequest) (*application.DecreaseResult, error) {
	var (
		result  *application.DecreaseResult
		lastErr error
	)
	wait := c.backoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return result, errors.Wrap(ctx.Err(), "inventory call cancelled while backing off")
			case <-time.After(wait):
			}
			wait *= 2
		}

		var retry bool
		result, retry, lastErr = c.once(ctx, path, req)
		if !retry {
			return result, lastErr
		}
		logger.Ctx(ctx).Debug().
			Str("path", path).
			Str("biz_key", req.BizKey).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("inventory call will be retried")
	}
	return result, lastErr
}

// once 返回 retry=true 表示可以用同一个 bizKey 再试
func (c *Client) once(ctx context.Context, path string, req application.DecreaseRequest) (*application.DecreaseResult, bool, error) {
	// 错误响应 {success, code, message} 也能解码到 DecreaseResult
	var result application.DecreaseResult
	status, err := c.http.PostJSON(ctx, c.baseURL+path, req, &result)
	if err != nil {
		return nil, ctx.Err() == nil, errors.Wrapf(err, "call %s", path)
	}

	switch {
	case status == http.StatusOK, status == http.StatusUnprocessableEntity:
		return &result, false, nil
	case status == http.StatusConflict:
		return &result, true, nil
	}
	return nil, false, &StatusError{Status: status, Code: string(result.Code), Message: result.Message}
}
