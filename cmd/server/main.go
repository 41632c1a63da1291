package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log" // Logging library
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4" // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/hotel-settlement/internal/config"   // Internal config loader
	"github.com/iliyamo/hotel-settlement/internal/database" // MySQL connection and schema
	"github.com/iliyamo/hotel-settlement/internal/handler"
	"github.com/iliyamo/hotel-settlement/internal/ledger"
	"github.com/iliyamo/hotel-settlement/internal/middleware"
	"github.com/iliyamo/hotel-settlement/internal/model"
	"github.com/iliyamo/hotel-settlement/internal/payment"
	"github.com/iliyamo/hotel-settlement/internal/queue"
	"github.com/iliyamo/hotel-settlement/internal/repository"
	"github.com/iliyamo/hotel-settlement/internal/repository/memory"
	"github.com/iliyamo/hotel-settlement/internal/router" // Internal router setup
	"github.com/iliyamo/hotel-settlement/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found; continuing with environment variables")
	}

	cfg := config.Load() // Load environment config
	payCfg := config.LoadPaymentConfig()
	settleCfg := config.LoadSettlementConfig()
	ledgerCfg := config.LoadLedgerConfig()
	rlCfg := config.LoadRateLimitConfig()
	redisCfg := config.LoadRedisConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db := openStore(ctx, cfg)
	if db != nil {
		defer db.Close()
	}

	rdb, err := config.NewRedisClient(redisCfg)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	var events service.EventPublisher
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitMQURL)
		defer pub.Close()
		events = pub
		go func() {
			if err := queue.StartAuditConsumer(ctx, cfg.RabbitMQURL); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("audit-consumer: stopped: %v", err)
			}
		}()
	}

	reservations := service.NewReservationService(store, ledgerCfg.Currencies, ledger.FlatTax{Rate: ledgerCfg.TaxRate}, events)
	statusStore := payment.NewRedisStatusStore(rdb, redisCfg.Prefix)
	gateway := payment.NewGateway(payCfg, statusStore)
	ingestor := payment.NewWebhookIngestor(statusStore, payCfg)
	orchestrator := payment.NewOrchestrator(statusStore, reservations, ledgerCfg.Currencies, settleCfg, payCfg)

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Printf("http: %s %s %d %s user=%s", v.Method, v.URI, v.Status, v.Latency, middleware.UserID(c))
			return nil
		},
	}))

	checks := map[string]handler.Pinger{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	if db != nil {
		checks["mysql"] = db.PingContext
	}
	router.RegisterRoutes(e, handler.NewHealthHandler(checks))
	router.RegisterReservations(e, handler.NewReservationHandler(reservations, reservations.Rooms()), cfg.JWTSecret)
	router.RegisterPayments(e,
		handler.NewPaymentHandler(reservations, gateway, ingestor, orchestrator, ledgerCfg.Currencies),
		router.PaymentGuards{
			JWTSecret: cfg.JWTSecret,
			Webhook:   middleware.WebhookAuth(payment.NewSigner(payCfg.ChecksumKey), payCfg.WebhookSecret),
			RateLimit: middleware.NewTokenBucket(rlCfg, rdb),
		},
	)

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.Printf("listening on %s (env=%s, store=%s, events=%t)", addr, cfg.Env, cfg.StoreDriver, cfg.EventsEnabled)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err) // Log and exit if server fails
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}

// openStore returns the reservation store for STORE_DRIVER. The sql.DB is
// nil for the memory driver.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, *sql.DB) {
	if cfg.StoreDriver == "memory" {
		log.Println("store: using in-memory reservations with a demo catalogue")
		return demoStore(), nil
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("mysql: %v", err)
		}
	}
	return repository.NewReservationRepo(db), db
}

// demoStore seeds one property with two room types for local runs.
func demoStore() *memory.Store {
	s := memory.New()
	s.AddRatePlan(model.RatePlan{ID: 1, RoomTypeID: 1, NightlyRate: 1_250_000, Currency: "VND"})
	s.AddRatePlan(model.RatePlan{ID: 2, RoomTypeID: 2, NightlyRate: 2_400_000, Currency: "VND"})
	s.AddRatePlan(model.RatePlan{ID: 3, RoomTypeID: 1, NightlyRate: 59.00, Currency: "USD"})
	for i, n := range []string{"101", "102", "103"} {
		s.AddRoom(model.Room{ID: uint64(101 + i), PropertyID: 1, RoomTypeID: 1, Number: n})
	}
	s.AddRoom(model.Room{ID: 201, PropertyID: 1, RoomTypeID: 2, Number: "201"})
	return s
}
