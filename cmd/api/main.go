package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowgate/internal/audit"
	"flowgate/internal/config"
	"flowgate/internal/database"
	"flowgate/internal/flowconfig"
	"flowgate/internal/handlers/prediction"
	"flowgate/internal/limits"
	"flowgate/internal/middleware"
	upstream "flowgate/internal/prediction"
	"flowgate/internal/routers"
	"flowgate/internal/shared"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Local development only, real deployments set the environment directly
	_ = godotenv.Load()

	// Flags / ENV Variables
	writeDSN := flag.String("dsn", "", "Write vitess DSN")
	readDSN := flag.String("read-dsn", "", "Read vitess DSN")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	redisAddr := flag.String("redis-addr", "", "Redis host:port")
	debug := flag.Bool("debug", false, "Debug enabled")
	listenAddr := flag.String("listen-addr", ":80", "Address to serve on")
	configPath := flag.String("config", "", "Path to gateway limits yaml")
	backendURL := flag.String("backend-url", "", "Prediction backend base url")
	backendAPIKey := flag.String("backend-api-key", "", "System backend credential")
	encryptionKey := flag.String("credential-encryption-key", "", "Key for stored user credentials")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("invalid config: %s", err))
	}
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	// Write DB init
	writeDB, err := sql.Open("mysql", *writeDSN)
	if err != nil {
		panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
	}
	err = writeDB.Ping()
	if err != nil {
		panic(fmt.Sprintf("failed ping to sql db: %s", err))
	}

	// Read db init
	readDB, err := sql.Open("mysql", *readDSN)
	if err != nil {
		panic(fmt.Sprintf("failed initializing readSqlClient: %s", err))
	}
	err = readDB.Ping()
	if err != nil {
		panic(fmt.Sprintf("failed to ping read replica sql db: %s", err))
	}

	// Load Redis connection. Without one, limits stay in process.
	var redisClient *redis.Client
	if *redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
	} else {
		log.Warn("No redis address set, rate limits and idempotency keys are kept in process and are only correct for a single instance")
	}
	limitStore, closeLimitStore := limits.NewStore(redisClient)
	defer closeLimitStore()

	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if writeDB != nil {
			_ = writeDB.Close()
		}
		if readDB != nil {
			_ = readDB.Close()
		}
	}()

	var decryptor flowconfig.Decryptor
	if *encryptionKey != "" {
		decryptor, err = flowconfig.NewAESGCMDecryptor(*encryptionKey)
		if err != nil {
			panic(err)
		}
	} else {
		log.Warn("No credential encryption key set, stored user credentials will be ignored")
	}
	if *backendAPIKey == "" {
		log.Warn("No system backend credential set, users without their own key will get 503")
	}

	store := database.NewStore(writeDB, readDB)

	invoker, err := upstream.NewInvoker(upstream.Options{
		BaseURL:      cfg.Backend.URL,
		Timeout:      cfg.Backend.Timeout,
		MaxLineBytes: cfg.Backend.MaxLineBytes,
		PreviewChars: cfg.Audit.PreviewChars,
	}, store, log)
	if err != nil {
		panic(err)
	}

	predictionHandler := prediction.NewPredictionHandler(prediction.Dependencies{
		Limits:      cfg.Limits,
		RateLimiter: limits.NewRateLimiter(limitStore, cfg.RateLimit.Requests, cfg.RateLimit.Window),
		Idempotency: limits.NewIdempotencyTracker(limitStore, cfg.Idempotency.TTL),
		Resolver:    flowconfig.NewResolver(store, decryptor, *backendAPIKey, log),
		Invoker:     invoker,
		Audit:       audit.NewLogger(store, log, cfg.Audit.PreviewChars, cfg.Audit.WriteTimeout),
		Log:         log,
	})

	e := echo.New()
	e.HideBanner = true
	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if *metricsAPIKey == "" || apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	umw := middleware.NewUserMiddleware(middleware.NewUserManager(redisClient, readDB, log))
	routers.RegisterPredictionRoutes(base, predictionHandler, umw)

	go func() {
		if err := e.Start(*listenAddr); err != nil && err != http.ErrServerClosed {
			log.Errorw("Server stopped", "error", err)
			os.Exit(1)
		}
	}()
	log.Infow("Gateway started", "addr", *listenAddr, "backend", cfg.Backend.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Errorw("Failed graceful shutdown", "error", err)
	}
	start := time.Now()
	if err := predictionHandler.ShutDown(ctx); err != nil {
		log.Errorw("Dropped audit writes on shutdown", "error", err)
		return
	}
	log.Infow("Audit writes drained", "took", time.Since(start).String())
}
