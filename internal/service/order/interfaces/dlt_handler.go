package interfaces

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/mq"
)

// DltConsumerAdapter 监听死信主题并记录日志
type DltConsumerAdapter struct {
	reader MessageReader
	topic  string
	wg     sync.WaitGroup
}

func NewDltConsumerAdapter(reader MessageReader, topic string) *DltConsumerAdapter {
	return &DltConsumerAdapter{reader: reader, topic: topic}
}

func (a *DltConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("DLT consumer started")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("DLT consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read dead letter, retrying")
				if sleepCtx(ctx, time.Second) != nil {
					return
				}
				continue
			}

			logDeadLetter(ctx, msg)

			// 死信只需记录，记录完即提交
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit dead letter")
			}
		}
	}()
	return nil
}

func (a *DltConsumerAdapter) Stop(ctx context.Context) {
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("DLT consumer stopped")
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", mq.Header(msg, mq.HeaderOriginalTopic)).
		Str("original_partition", mq.Header(msg, mq.HeaderOriginalPartition)).
		Str("original_offset", mq.Header(msg, mq.HeaderOriginalOffset)).
		Str("exception_fqcn", mq.Header(msg, mq.HeaderExceptionFqcn)).
		Str("exception_message", mq.Header(msg, mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("dead letter message received")
}
