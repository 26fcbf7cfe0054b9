package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "github.com/fjod/email-cart/internal/cache"
	"github.com/fjod/email-cart/internal/config"
	cartgrpc "github.com/fjod/email-cart/internal/grpc"
	h "github.com/fjod/email-cart/internal/http"
	"github.com/fjod/email-cart/internal/logger"
	"github.com/fjod/email-cart/internal/metrics"
	"github.com/fjod/email-cart/internal/publisher"
	"github.com/fjod/email-cart/internal/repository"
	s "github.com/fjod/email-cart/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const serviceName = "email-cart"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: serviceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("cart service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("cart service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Set up MongoDB connection
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	mongoDB, err := repository.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			log.Warn("mongo disconnect failed", "err", err)
		}
	}()

	repo := repository.NewMongoRepository(mongoDB)
	if err := repo.CreateIndexes(connectCtx, cfg.CartRetention); err != nil {
		return err
	}
	log.Info("connected to MongoDB", "db", cfg.MongoDBName, "retention", cfg.CartRetention.String())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srvMetrics := metrics.NewServerMetrics(reg, "cart")

	var cache c.CartCache = c.NopCache{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(connectCtx).Err(); err != nil {
			// the breaker keeps a dead cache off the request path
			log.Warn("redis ping failed, continuing", "addr", cfg.RedisAddr, "err", err)
		} else {
			log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
		}
		cache = c.NewBreakerCache(c.NewRedisCache(redisClient, cfg.CacheTTL), c.BreakerSettings{
			Name:          "redis-cart-cache",
			OnStateChange: srvMetrics.ObserveBreaker,
		})
	} else {
		log.Info("REDIS_ADDR not set, cart cache disabled")
	}

	var pub publisher.Publisher = publisher.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = publisher.NewKafkaPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...)
		log.Info("publishing cart events", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("publisher close failed", "err", err)
		}
	}()

	service := s.NewCartService(repo, cache, pub, log)
	defer service.Wait()

	limiter := h.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx, time.Minute)

	router := h.NewRouter(h.RouterConfig{
		Handler:        h.NewCartHandler(service, cfg.RequestTimeout, cfg.MaxRequestBodySize, log),
		Logger:         log,
		RateLimiter:    limiter,
		Metrics:        srvMetrics.Middleware,
		MetricsHandler: metrics.Handler(reg),
		AllowedOrigins: cfg.AllowedOrigins,
		ServiceName:    serviceName,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("cart service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var health *cartgrpc.HealthServer
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			return err
		}
		health = cartgrpc.NewHealthServer(service, 10*time.Second, log)
		go health.Watch(ctx)
		go func() {
			if err := health.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// Graceful shutdown
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info("shutting down cart service...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "err", err)
	}
	return runErr
}
