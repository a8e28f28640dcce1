package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geo-beacon/report-exporter/internal/config"
	"github.com/geo-beacon/report-exporter/internal/db"
	"github.com/geo-beacon/report-exporter/internal/export"
	exphttp "github.com/geo-beacon/report-exporter/internal/http"
	"github.com/geo-beacon/report-exporter/internal/metrics"
	"github.com/geo-beacon/report-exporter/internal/queue"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: report-exporter <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the export pipeline")
	fmt.Println("  migrate   Run database migrations")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// migrationsDir returns the path to the migrations directory relative to the binary.
func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func newS3Client(cfg config.S3Config) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
}

func needsS3(targets map[string]config.ExportTarget) bool {
	for _, t := range targets {
		if strings.HasPrefix(t.URL, "s3://") {
			return true
		}
	}
	return false
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting report-exporter",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.Int("export_targets", len(cfg.Export)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database.
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	// Connect to Redis.
	client, err := queue.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer client.Close()

	catalog := queue.NewCatalog(client, queue.CatalogOptions{
		IncomingBatch:    cfg.Queue.IncomingBatch,
		IncomingCompress: cfg.Queue.IncomingCompress,
		TTL:              cfg.Queue.TTLSeconds,
		MaxAge:           cfg.Queue.MaxAgeSeconds,
	})

	// Build the shared sink clients.
	env := export.SinkEnv{
		Logger:   logger.Named("export"),
		Internal: export.NewInternalSink(catalog, client, db.NewStore(pool), logger.Named("export.internal")),
	}
	if needsS3(cfg.Export) {
		s3Client, err := newS3Client(cfg.S3)
		if err != nil {
			logger.Fatal("failed to build object-store client", zap.Error(err))
		}
		env.S3 = s3Client
	}
	tlsCfg, err := cfg.Kafka.BuildTLSConfig()
	if err != nil {
		logger.Fatal("failed to build TLS config", zap.Error(err))
	}
	env.KafkaOpts = []kgo.Opt{kgo.ClientID(cfg.Kafka.ClientID)}
	if tlsCfg != nil {
		env.KafkaOpts = append(env.KafkaOpts, kgo.DialTLSConfig(tlsCfg))
	}
	if mech := cfg.Kafka.BuildSASLMechanism(); mech != nil {
		env.KafkaOpts = append(env.KafkaOpts, kgo.SASL(mech))
	}

	ttl := time.Duration(cfg.Queue.TTLSeconds) * time.Second
	maxAge := time.Duration(cfg.Queue.MaxAgeSeconds) * time.Second
	registry, err := export.NewRegistry(client, cfg.Export, ttl, maxAge, env)
	if err != nil {
		logger.Fatal("failed to build export registry", zap.Error(err))
	}
	defer registry.Close()

	runner := export.NewRunner(cfg.Jobs.Buffer, logger.Named("runner"))
	runner.Start(ctx, cfg.Jobs.Workers)

	uploader := export.NewUploader(registry, runner, logger.Named("uploader"))
	dispatcher := export.NewDispatcher(catalog.Incoming(), registry, client, runner, logger.Named("dispatcher"))
	scheduler := export.NewScheduler(registry, uploader, runner, logger.Named("scheduler"))
	monitor := export.NewMonitor(catalog, registry, logger.Named("monitor"))

	// Periodic triggers. Each tick is fire-and-forget: a saturated pool
	// drops the trigger and the next one catches up.
	var wg sync.WaitGroup
	trigger := func(intervalMs int, job export.Job) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runner.Submit(job)
				}
			}
		}()
	}
	trigger(cfg.Jobs.DispatchIntervalMs, export.Job{Name: "dispatch", Run: dispatcher.Run})
	trigger(cfg.Jobs.ScheduleIntervalMs, export.Job{Name: "schedule", Run: scheduler.Run})
	trigger(cfg.Jobs.MonitorIntervalMs, export.Job{Name: "monitor", Run: monitor.Run})

	// --- HTTP server ---
	httpServer := exphttp.NewServer(cfg.Service.HTTPListen, pool, exphttp.RedisPinger(client), logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("export pipeline started",
		zap.Int("workers", cfg.Jobs.Workers),
	)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown.
	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting HTTP traffic first.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the periodic triggers, then let queued jobs finish.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("pipeline stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some jobs may not have finished")
	}

	logger.Info("report-exporter stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running migrations",
		zap.String("dsn", redactDSN(cfg.Postgres.DSN)),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		// keyword=value format: redact the password=... portion
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
