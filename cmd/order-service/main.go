// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"kiosk/internal/pkg/bootstrap"
	"kiosk/internal/pkg/config"
	"kiosk/internal/pkg/httpclient"
	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/mq"
	"kiosk/internal/pkg/push"
	"kiosk/internal/pkg/redis"
	"kiosk/internal/service/order/application"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
	"kiosk/internal/service/order/eventbus"
	"kiosk/internal/service/order/infrastructure"
	"kiosk/internal/service/order/infrastructure/adapter"
	"kiosk/internal/service/order/interfaces"
	"kiosk/internal/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("order-service", "info", false)
		logger.Ctx(context.Background()).Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Service.Name, cfg.Log.Level, cfg.Log.Pretty)

	if err := run(context.Background(), cfg); err != nil {
		logger.Ctx(context.Background()).Fatal().Err(err).Msg("order service exited")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var closers []bootstrap.Closer
	var workers []bootstrap.Worker

	tp, err := tracing.InitTracerProvider(cfg.Service.Name, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}
	closers = append(closers, tp.Shutdown)
	tracer := otel.Tracer(cfg.Service.Name)

	redisClient, err := redis.NewClient(ctx, redis.Options{
		Addrs:    strings.Join(cfg.Redis.Addrs, ","),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	closers = append(closers, func(context.Context) error { return redisClient.Close() })

	repo, err := infrastructure.NewRedisOrderRepository(redisClient, infrastructure.WithPaymentTTL(cfg.Payments.SessionTTL))
	if err != nil {
		return err
	}
	catalog := adapter.NewCatalogRedisAdapter(redisClient)
	gateway := adapter.NewTossHTTPAdapter(httpclient.NewClient(tracer, cfg.Toss.Timeout), cfg.Toss.BaseURL, cfg.Toss.SecretKey)

	bus := eventbus.New()
	svc := application.NewOrderApplicationService(repo, repo, catalog, gateway, bus, tracer)

	// 调度器：启用 Kafka 时任务落到按类型划分的 topic，否则使用进程内定时器
	var scheduler port.DelayScheduler
	if cfg.Kafka.Enabled {
		kafkaScheduler := adapter.NewSchedulerKafkaAdapter(cfg.Kafka.Brokers)
		closers = append(closers, func(context.Context) error { return kafkaScheduler.Close() })
		scheduler = kafkaScheduler

		dltWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.DLTTopic)
		closers = append(closers, func(context.Context) error { return dltWriter.Close() })

		for _, kind := range []domain.TimeoutKind{domain.TimeoutAutoAccept, domain.TimeoutPaymentExpiry} {
			reader := mq.NewKafkaReader(cfg.Kafka.Brokers, adapter.TimeoutTopic(kind), cfg.Kafka.GroupID)
			consumer := interfaces.NewOrderTimeOutConsumerAdapter(reader, dltWriter, svc.HandleTimeoutCheck)
			workers = append(workers, consumer.Start)
			closers = append(closers, func(ctx context.Context) error {
				consumer.Stop(ctx)
				return nil
			})
		}

		dltConsumer := interfaces.NewDltConsumerAdapter(
			mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.DLTTopic, cfg.Kafka.GroupID+"-dlt"),
			cfg.Kafka.DLTTopic,
		)
		workers = append(workers, dltConsumer.Start)
		closers = append(closers, func(ctx context.Context) error {
			dltConsumer.Stop(ctx)
			return nil
		})

		eventWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
		closers = append(closers, func(context.Context) error { return eventWriter.Close() })
		adapter.NewEventKafkaAdapter(eventWriter, cfg.Service.Name).Register(bus)
	} else {
		timerScheduler := adapter.NewSchedulerTimerAdapter()
		timerScheduler.Start(svc.HandleTimeoutCheck)
		closers = append(closers, func(context.Context) error {
			timerScheduler.Stop()
			return nil
		})
		scheduler = timerScheduler
	}

	acceptance, err := application.NewAcceptancePolicy(cfg.Acceptance.Policy, scheduler, cfg.Timeouts.AutoAccept)
	if err != nil {
		return err
	}
	application.NewRoutines(scheduler, acceptance, cfg.Timeouts.PaymentExpiry).Register(bus)

	hub := push.NewHub()
	workers = append(workers, func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})
	application.NewNotifications(adapter.NewNotificationWSAdapter(hub)).Register(bus)

	// 总线上排队中的事件在依赖关闭前处理完
	closers = append(closers, func(context.Context) error {
		bus.Wait()
		return nil
	})

	handler := interfaces.NewOrderHandler(svc,
		interfaces.WithSocket(http.HandlerFunc(hub.ServeWS)),
		interfaces.WithRateLimiter(interfaces.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)),
		interfaces.WithRequestTimeout(cfg.HTTP.RequestTimeout),
	)

	return bootstrap.Run(ctx, bootstrap.AppInfo{
		ServiceName: cfg.Service.Name,
		Server:      &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()},
		Workers:     workers,
		Closers:     closers,
	})
}
