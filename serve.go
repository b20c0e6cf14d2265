package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"utmrelay/internal/chat"
	"utmrelay/internal/config"
	"utmrelay/internal/db"
	"utmrelay/internal/http/handlers"
	appmw "utmrelay/internal/http/middleware"
	"utmrelay/internal/logging"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP endpoints, chat listener and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb := setup()
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return runServe(cfg, gdb)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides APP_LISTEN_ADDR)")
	return cmd
}

func runServe(cfg *config.Config, gdb *gorm.DB) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, gdb)

	db.StartRetentionWorker(ctx, a.store, cfg.AttributionRetention, cfg.RetentionInterval)
	a.relay.StartRedeliveryWorker(ctx, cfg.RedeliveryInterval)

	relayDone := make(chan struct{})
	if cfg.TelegramToken != "" {
		msgs, err := chat.NewTelegram(cfg.TelegramToken).Messages(ctx)
		if err != nil {
			return err
		}
		go func() {
			defer close(relayDone)
			if err := a.relay.Run(ctx, msgs); err != nil {
				logging.Error().Err(err).Msg("chat relay stopped")
			}
		}()
	} else {
		close(relayDone)
		logging.Warn().Msg("APP_TELEGRAM_TOKEN not set; chat listener disabled")
	}

	srv := &fasthttp.Server{
		Name:         "utmrelay",
		Handler:      routes(cfg, gdb, a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ForwardTimeout + 15*time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.ListenAddr).Str("version", Version).Msg("utmrelay listening")
		errc <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		stop()
		waitRelay(relayDone, 10*time.Second)
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.ShutdownWithContext(sctx)
	dl, _ := sctx.Deadline()
	waitRelay(relayDone, time.Until(dl))
	return err
}

// waitRelay blocks until the chat relay has finished its in-flight
// messages, or until timeout.
func waitRelay(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		logging.Warn().Msg("chat relay did not drain before shutdown deadline")
	}
}

func routes(cfg *config.Config, gdb *gorm.DB, a *app) fasthttp.RequestHandler {
	r := router.New()
	cors := appmw.CORS(cfg.AllowedOrigin)
	protect := appmw.BearerAuth(cfg.MetricsToken)

	r.GET("/healthz", handlers.Healthz(func(ctx context.Context) error { return db.Ping(ctx, gdb) }))
	r.GET("/metrics", protect(handlers.MetricsHandler(prometheus.DefaultGatherer)))

	ingest := cors(handlers.IngestHandler(a.store))
	r.POST("/frontend-utm-data", ingest)
	r.OPTIONS("/frontend-utm-data", ingest)

	createOrder := cors(handlers.CreateOrder(a.relay))
	r.POST("/criar-pedido", createOrder)
	r.OPTIONS("/criar-pedido", createOrder)
	r.GET("/marcar-venda", cors(handlers.MarkSale(a.relay)))

	if cfg.MetricsToken != "" {
		r.POST("/admin/redeliver", protect(handlers.Redeliver(a.relay)))
	} else {
		logging.Warn().Msg("APP_METRICS_TOKEN not set; admin routes disabled")
	}

	return appmw.RequestID(handlers.RequestLogger(r.Handler))
}
