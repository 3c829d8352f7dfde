package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/mq"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
	"kiosk/internal/service/order/infrastructure/adapter"
)

// MessageReader 是消费者所需的 kafka.Reader 子集，便于测试替换。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderTimeOutConsumerAdapter 监听超时任务主题，等到任务到期后交给应用服务处理。
type OrderTimeOutConsumerAdapter struct {
	reader  MessageReader
	dlt     mq.MessageWriter
	handler port.TimeoutHandler
	wg      sync.WaitGroup
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewOrderTimeOutConsumerAdapter(reader MessageReader, dlt mq.MessageWriter, handler port.TimeoutHandler) *OrderTimeOutConsumerAdapter {
	return &OrderTimeOutConsumerAdapter{
		reader:  reader,
		dlt:     dlt,
		handler: handler,
		sleep:   sleepCtx,
	}
}

// Start 开始监听。ctx 取消后循环退出。
func (a *OrderTimeOutConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Msg("timeout consumer started")
		for {
			// FetchMessage 不会自动提交 offset
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("timeout consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				if a.sleep(ctx, time.Second) != nil {
					return
				}
				continue
			}

			if err := a.processMessage(ctx, msg); err != nil {
				// 只有 ctx 取消会走到这里，不提交，重启后重新投递
				return
			}
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
			}
		}
	}()
	return nil
}

// Stop 关闭 reader 并等待循环退出。
func (a *OrderTimeOutConsumerAdapter) Stop(ctx context.Context) {
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("timeout consumer stopped")
}

// processMessage 等待到期后执行检查。返回错误表示被取消，消息未处理。
func (a *OrderTimeOutConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)

	var task domain.OrderTimeoutCheckEvent
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		a.deadLetter(msgCtx, msg, errors.Wrap(err, "unmarshal timeout task"))
		return nil
	}

	deliverAt := task.DeliverAt
	if raw := mq.Header(msg, adapter.HeaderDeliverAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			a.deadLetter(msgCtx, msg, errors.Wrap(err, "parse deliver-at header"))
			return nil
		}
		deliverAt = parsed
	}

	if wait := time.Until(deliverAt); wait > 0 {
		if err := a.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := a.handler(msgCtx, task); err != nil {
		logger.Ctx(msgCtx).Error().Err(err).
			Str("order_id", task.OrderID).
			Str("kind", string(task.Kind)).
			Msg("timeout check failed")
	}
	return nil
}

func (a *OrderTimeOutConsumerAdapter) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	logger.Ctx(ctx).Error().Err(cause).Str("key", string(msg.Key)).Msg("malformed timeout task")
	if a.dlt == nil {
		return
	}
	if err := mq.SendToDLT(ctx, a.dlt, msg, cause); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to send message to DLT")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
