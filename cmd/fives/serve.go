package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/controller"
	"github.com/gartstein/fives/internal/fives/events"
	"github.com/gartstein/fives/internal/fives/handlers"
	"github.com/gartstein/fives/internal/fives/metrics"
	"github.com/gartstein/fives/internal/fives/notify"
	"github.com/gartstein/fives/internal/fives/session"
	"github.com/gartstein/fives/internal/fives/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC sync service and the background sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	l, err := a.openLocal(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.Error("Failed to close cache", zap.Error(err))
		}
	}()

	m := metrics.New()
	m.SetBuildInfo(version, commit)

	var publisher syncer.Publisher
	var producer controller.EventProducer
	if cfg.Kafka.Enabled() {
		p, err := events.NewProducer(cfg.Kafka.Brokers, logger, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher, producer = p, p
	}

	var notifier controller.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewClient(cfg.Notify.WebhookURL, cfg.Notify.Token, cfg.Notify.Timeout, logger)
	}

	orch := l.orchestrator(a, publisher, m)
	l.sessions.OnChange(func(s *session.Session) {
		if s != nil {
			orch.Trigger()
		}
	})

	svc := controller.NewService(controller.Deps{
		Cache:    l.store,
		Queue:    l.queue,
		Remote:   l.remote,
		Syncer:   orch,
		Sessions: l.sessions,
		Producer: producer,
		Notifier: notifier,
		Origin:   cfg.Sync.Origin,
		Scale:    cfg.Scale,
	}, logger)

	interceptor := auth.NewAuthInterceptor(cfg.Auth.JWTSecret, handlers.TriggerSyncMethod, handlers.SetConnectivityMethod)
	server := handlers.NewServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, logger, grpc.UnaryInterceptor(interceptor.Unary()))
	server.RegisterGRPCHandler(handlers.NewSyncHandler(orch, logger))
	api := handlers.NewAPI(svc, l.sessions, orch, l.queue, logger)
	if err := server.RegisterHTTP(api, cfg.Auth.JWTSecret, m); err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled() {
		consumer := events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, cfg.Sync.Origin, logger)
		consumer.RegisterHandler(orch.HandleEvent)
		consumer.Start(ctx)
		defer func() {
			<-consumer.Done()
			consumer.Close()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()

	logger.Info("Service started",
		zap.String("version", version),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.Bool("kafka", cfg.Kafka.Enabled()))

	<-ctx.Done()
	server.Stop()
	wg.Wait()
	svc.Wait()
	logger.Info("Service stopped")
	return nil
}
