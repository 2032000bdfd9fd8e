package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"energy-ledger-go/internal/common"
	"energy-ledger-go/internal/httpapi"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/mq"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideServices builds the engine components and closes the store on stop.
func ProvideServices(lc fx.Lifecycle, cfg *models.Config) (*common.Services, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			services.Close()
			return nil
		},
	})
	return services, nil
}

func ProvideHTTPServer(cfg *models.Config, services *common.Services) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.New(services.Engine).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func startHTTPServer(lc fx.Lifecycle, srv *http.Server, cfg *models.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			logger.Info("Shutting down HTTP server")
			return srv.Shutdown(shutdownCtx)
		},
	})
}

func startSweeper(lc fx.Lifecycle, services *common.Services) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			services.Market.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			services.Market.Stop()
			cancel()
			return nil
		},
	})
}

// startReadingConsumer feeds readings from RabbitMQ into the processor when AMQP_URL is set.
func startReadingConsumer(lc fx.Lifecycle, cfg *models.Config, services *common.Services, logger *zap.Logger) {
	if cfg.AMQP.URL == "" {
		logger.Info("AMQP_URL not set, reading consumer disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var (
		conn     *mq.Connection
		consumer *mq.Consumer
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var err error
			conn, err = mq.NewConnection(logger, cfg.AMQP.URL)
			if err != nil {
				return err
			}
			consumer, err = mq.NewConsumer(mq.ConsumerConfig{
				Connection: conn,
				Exchange:   cfg.AMQP.Exchange,
				Queue:      cfg.AMQP.Queue,
				RoutingKey: cfg.AMQP.RoutingKey,
				Prefetch:   cfg.AMQP.Prefetch,
				Logger:     logger.Named("readings"),
				Handler:    mq.ReadingHandler(services.Processor, logger.Named("readings")),
			})
			if err != nil {
				_ = conn.Close()
				return err
			}
			return consumer.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			if consumer != nil {
				if err := consumer.Close(); err != nil {
					logger.Warn("Failed to close consumer channel", zap.Error(err))
				}
			}
			if conn != nil {
				return conn.Close()
			}
			return nil
		},
	})
}
