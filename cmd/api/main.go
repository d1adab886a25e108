package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/malipo-ke/malipo/broker"
	"github.com/malipo-ke/malipo/customer"
	"github.com/malipo-ke/malipo/db"
	"github.com/malipo-ke/malipo/gateway"
	"github.com/malipo-ke/malipo/payment"
	"github.com/malipo-ke/malipo/reconcile"
	"github.com/malipo-ke/malipo/subscription"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	production := "production" == env
	if production {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       !production,
	}); err != nil {
		log.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize backend connections
	dbHandle, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpNotifier, err := broker.NewAMQPNotifier(logger, os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpNotifier.Close()

	gatewayClient, err := gateway.NewClient(gateway.Options{
		BaseURL:        os.Getenv("GATEWAY_BASE_URL"),
		ConsumerKey:    os.Getenv("GATEWAY_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("GATEWAY_CONSUMER_SECRET"),
		ShortCode:      os.Getenv("GATEWAY_SHORTCODE"),
		Passkey:        os.Getenv("GATEWAY_PASSKEY"),
		CallbackURL:    os.Getenv("GATEWAY_CALLBACK_URL"),
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize gateway Client",
			zap.Error(err),
		)
	}

	customerManager, err := customer.NewManager(logger, dbHandle)
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
			zap.Error(err),
		)
	}

	paymentManager, err := payment.NewManager(payment.ManagerOptions{
		DB:     dbHandle,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize PaymentManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     dbHandle,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	activator, err := reconcile.NewActivator(reconcile.ActivatorOptions{
		CustomerStore:     customerManager,
		SubscriptionStore: subscriptionManager,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Activator",
			zap.Error(err),
		)
	}

	audit, err := reconcile.NewRedisAudit(logger, rdb)
	if err != nil {
		logger.Fatal("Cannot initialize RedisAudit",
			zap.Error(err),
		)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineOptions{
		Ledger:    paymentManager,
		Directory: customerManager,
		Activator: activator,
		Gateway:   gatewayClient,
		Notifier:  amqpNotifier,
		Audit:     audit,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize reconciliation Engine",
			zap.Error(err),
		)
	}

	paymentsRouter, err := reconcile.NewService(reconcile.Options{
		Engine:      engine,
		Logger:      logger,
		Development: !production,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Payments Service Router",
			zap.Error(err),
		)
	}

	customerRouter, err := customer.NewService(customer.Options{
		CustomerManager: customerManager,
		Subscriptions:   subscriptionManager,
		Notifier:        amqpNotifier,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Customer Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	rootRouter.Mount("/payments", paymentsRouter.Router())
	rootRouter.Mount("/customers", customerRouter.Router())

	rootRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pool, err := dbHandle.DB()
		if err == nil {
			err = pool.PingContext(r.Context())
		}
		if err != nil {
			http.Error(w, "database unreachable", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "OK")
	})

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	addr := os.Getenv("API_ADDR")
	if len(addr) == 0 {
		addr = ":3000"
	}

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    addr,
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API started",
		zap.String("Addr", addr),
	)

	<-c

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Cannot shutdown API server gracefully",
			zap.Error(err),
		)
	}
}
