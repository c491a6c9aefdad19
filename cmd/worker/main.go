package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/config"
	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/logging"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/payment"
	"github.com/ariefcatur/go-shop-checkout.git/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
	"github.com/ariefcatur/go-shop-checkout.git/internal/statuscache"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.ServiceName + "-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer (sweep emits failure/release events)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	repo := &orders.Repo{DB: db}
	attempts := &orders.AttemptRepo{DB: db}
	ledger := &inventory.PGLedger{DB: db}

	gateway := payment.NewClient(cfg.GatewayBaseURL, payment.Signer{
		APIKey: cfg.GatewayAPIKey,
		Secret: cfg.GatewaySecret,
	})
	sweeper := &checkout.Service{
		Orders:   repo,
		Attempts: attempts,
		Ledger:   ledger,
		Gateway:  gateway,
		Catalog:  &catalog.PGCatalog{DB: db},
		Producer: prod,
		Log:      logger,
		Cfg: checkout.Config{
			ShippingFreeCents: cfg.ShippingFreeCents,
			ShippingFeeCents:  cfg.ShippingFeeCents,
			ChallengeTTL:      cfg.ChallengeTTL,
			AuthorizeRetries:  cfg.AuthorizeRetries,
			CallbackURL:       cfg.GatewayCallbackURL,
			Currency:          cfg.Currency,
			ServiceName:       cfg.ServiceName + "-worker",
		},
	}

	// challenge expiry sweep
	go func() {
		t := time.NewTicker(cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := sweeper.ExpireStale(ctx)
				if err != nil {
					logger.Error("expiry sweep", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("expired stale challenges", zap.Int("count", n))
				}
			}
		}
	}()

	// status cache projector
	proj := &statuscache.Projector{
		Orders:      repo,
		Redis:       rdb,
		Log:         logger,
		ServiceName: cfg.ServiceName + "-worker",
	}
	group := getenv("WORKER_GROUP", "checkout-worker")
	workers := mustAtoi(os.Getenv("WORKER_CONCURRENCY"), "8")
	topics := []string{
		orders.TopicCheckoutCompleted,
		orders.TopicPaymentFailed,
		orders.TopicOrderStatusChanged,
		orders.TopicStockReleased,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topics, workers)

	go func() {
		logger.Info("consumer started",
			zap.String("group", group), zap.Strings("topics", topics), zap.Int("workers", workers))
		if err := cons.Start(ctx, proj.HandleEvent); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down worker")
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop sweep and consumer
	prod.WaitClosed() // drain
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
