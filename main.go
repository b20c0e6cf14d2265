package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"utmrelay/internal/config"
	"utmrelay/internal/correlate"
	"utmrelay/internal/db"
	"utmrelay/internal/logging"
	"utmrelay/internal/metrics"
	"utmrelay/internal/orders"
	"utmrelay/internal/parser"
	"utmrelay/internal/relay"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "utmrelay",
		Short:         "Relay approved-payment notifications to the order-tracking API with UTM attribution",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(redeliverCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads .env and the environment, configures logging and opens the
// database. Storage is required by every command, so failure is fatal.
func setup() (*config.Config, *gorm.DB) {
	_ = godotenv.Load()
	cfg := config.Load()

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metrics.Register()

	gdb, err := db.Connect(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect database")
	}
	return cfg, gdb
}

type app struct {
	ledger  *db.Ledger
	store   *db.AttributionStore
	senders *db.SenderTokens
	relay   *relay.Service
}

func newApp(cfg *config.Config, gdb *gorm.DB) *app {
	a := &app{
		ledger:  db.NewLedger(gdb).WithLease(cfg.ForwardTimeout + time.Minute),
		store:   db.NewAttributionStore(gdb),
		senders: db.NewSenderTokens(gdb),
	}
	client := orders.NewClient(cfg.OrdersAPIURL, cfg.OrdersAPIKey, cfg.ForwardTimeout)
	a.relay = relay.New(
		parser.Parser{Strict: cfg.StrictTransactionID},
		a.ledger,
		correlate.New(a.store, a.senders, cfg.CorrelationWindow),
		client,
		a.senders,
		relay.Settings{
			TargetChatID:  cfg.TargetChatID,
			Platform:      cfg.Platform,
			PaymentMethod: cfg.PaymentMethod,
			ProductName:   cfg.ProductName,
			MaxAttempts:   cfg.RedeliveryMaxAttempts,
			Concurrency:   cfg.MessageConcurrency,
		},
	)
	return a
}
