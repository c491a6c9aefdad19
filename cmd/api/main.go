package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/auth"
	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/config"
	"github.com/ariefcatur/go-shop-checkout.git/internal/httpx"
	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/logging"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/payment"
	"github.com/ariefcatur/go-shop-checkout.git/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.ServiceName)
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

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	// Persistence and domain wiring
	repo := &orders.Repo{DB: db}
	attempts := &orders.AttemptRepo{DB: db}
	ledger := &inventory.PGLedger{DB: db}
	cat := &catalog.PGCatalog{DB: db}

	gateway := payment.NewClient(cfg.GatewayBaseURL, payment.Signer{
		APIKey: cfg.GatewayAPIKey,
		Secret: cfg.GatewaySecret,
	})

	checkoutSvc := &checkout.Service{
		Orders:   repo,
		Attempts: attempts,
		Ledger:   ledger,
		Gateway:  gateway,
		Catalog:  cat,
		Producer: prod,
		Log:      logger,
		Cfg: checkout.Config{
			ShippingFreeCents: cfg.ShippingFreeCents,
			ShippingFeeCents:  cfg.ShippingFeeCents,
			ChallengeTTL:      cfg.ChallengeTTL,
			AuthorizeRetries:  cfg.AuthorizeRetries,
			CallbackURL:       cfg.GatewayCallbackURL,
			Currency:          cfg.Currency,
			ServiceName:       cfg.ServiceName,
		},
	}
	orderSvc := &orders.Service{
		Store:       repo,
		Ledger:      ledger,
		Producer:    prod,
		Log:         logger,
		ServiceName: cfg.ServiceName,
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{Svc: checkoutSvc, Redis: rdb, Verifier: verifier, Log: logger}).Register(router)
	(&httpx.OrdersHandler{Svc: orderSvc, Store: repo, Catalog: cat, Redis: rdb, Verifier: verifier, Log: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
