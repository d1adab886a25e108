package main

import (
	"context"
	"log"
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
	"github.com/go-co-op/gocron/v2"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

const (
	trialSweepInterval   = 24 * time.Hour
	replayInterval       = time.Hour
	staleCancelInterval  = 6 * time.Hour
	staleCancelThreshold = 24 * time.Hour
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
			"component": "task",
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

	trialSweep, err := customer.NewSweepTask(customer.SweepTaskOptions{
		Expirer: customerManager,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize trial SweepTask",
			zap.Error(err),
		)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("Cannot initialize scheduler",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := scheduler.NewJob(
		gocron.DurationJob(trialSweepInterval),
		gocron.NewTask(func() {
			if err := trialSweep.RunOnce(ctx); err != nil {
				logger.Error("Trial expiry sweep failed",
					zap.Error(err),
				)
			}
		}),
		gocron.WithName("trial_expiry_sweep"),
	); err != nil {
		logger.Fatal("Cannot schedule trial expiry sweep",
			zap.Error(err),
		)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(replayInterval),
		gocron.NewTask(func() {
			replayed, err := engine.ReplayStalled(ctx)
			if err != nil {
				logger.Error("Stalled activation replay failed",
					zap.Error(err),
				)
				return
			}
			if replayed > 0 {
				logger.Info("Replayed stalled activations",
					zap.Int("Replayed", replayed),
				)
			}
		}),
		gocron.WithName("stalled_activation_replay"),
	); err != nil {
		logger.Fatal("Cannot schedule stalled activation replay",
			zap.Error(err),
		)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(staleCancelInterval),
		gocron.NewTask(func() {
			cancelled, err := paymentManager.CancelStale(ctx, time.Now().Add(-staleCancelThreshold))
			if err != nil {
				logger.Error("Stale payment cancellation failed",
					zap.Error(err),
				)
				return
			}
			if cancelled > 0 {
				logger.Info("Cancelled stale pending payments",
					zap.Int64("Cancelled", cancelled),
				)
			}
		}),
		gocron.WithName("stale_payment_cancel"),
	); err != nil {
		logger.Fatal("Cannot schedule stale payment cancellation",
			zap.Error(err),
		)
	}

	scheduler.Start()

	logger.Info("Task runner started")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	cancel()

	if err := scheduler.Shutdown(); err != nil {
		logger.Error("Cannot shutdown scheduler gracefully",
			zap.Error(err),
		)
	}
}
