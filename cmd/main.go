package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sitehost/internal/auth"
	"sitehost/internal/config"
	"sitehost/internal/handler"
	"sitehost/internal/logger"
	"sitehost/internal/repository"
	"sitehost/internal/service"
	"sitehost/internal/service/s3"
)

func connectWithRetry(cfg *config.DatabaseConfig, maxAttempts int, delay time.Duration, l *zap.Logger) (*sqlx.DB, error) {
	// Сначала подключаемся к системной базе postgres, она есть всегда
	sys := *cfg
	sys.Name = "postgres"
	pgDB, err := sqlx.Connect("postgres", sys.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	defer pgDB.Close()

	var exists bool
	err = pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)", cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		l.Info("database does not exist, creating", zap.String("name", cfg.Name))
		if _, err := pgDB.Exec(fmt.Sprintf("CREATE DATABASE %q", cfg.Name)); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	var db *sqlx.DB
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", cfg.GetDSN())
		if err == nil {
			return db, nil
		}

		l.Warn("failed to connect to database",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func runMigrations(cfg *config.DatabaseConfig, l *zap.Logger) error {
	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New(cfg.MigrationsPath, cfg.GetURL())
		if err == nil {
			break
		}
		l.Warn("failed to create migrate instance", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Second * 5)
	}

	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		l.Warn("found dirty migration state, forcing version", zap.Uint("version", version))
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// newLocker выбирает Redis, если он настроен и отвечает, иначе блокировки в памяти
func newLocker(ctx context.Context, cfg config.RedisConfig, l *zap.Logger) (service.Locker, func()) {
	if cfg.Addr == "" {
		l.Info("redis is not configured, using in-process locks")
		return service.NewMemoryLocker(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		l.Warn("redis is unavailable, using in-process locks", zap.String("addr", cfg.Addr), zap.Error(err))
		client.Close()
		return service.NewMemoryLocker(), func() {}
	}

	l.Info("using redis locks", zap.String("addr", cfg.Addr))
	return service.NewRedisLocker(client), func() { client.Close() }
}

func main() {
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(appConfig)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Sync()

	ctx := context.Background()

	db, err := connectWithRetry(&appConfig.Database, 5, time.Second*5, l)
	if err != nil {
		l.Fatal("failed to connect to database after retries", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(&appConfig.Database, l); err != nil {
		l.Fatal("failed to run migrations", zap.Error(err))
	}

	db.SetMaxOpenConns(appConfig.Database.MaxOpenConns)
	db.SetMaxIdleConns(appConfig.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		l.Fatal("failed to ping database", zap.Error(err))
	}

	s3Config, err := s3.NewConfig(".s3.env")
	if err != nil {
		l.Fatal("failed to load S3 config", zap.Error(err))
	}

	s3Client, err := s3.NewClient(s3Config, l)
	if err != nil {
		l.Fatal("failed to create S3 client", zap.Error(err))
	}

	authConfig, err := auth.NewConfig(".auth.env")
	if err != nil {
		l.Fatal("failed to load auth config", zap.Error(err))
	}
	verifier := auth.NewVerifier(authConfig)

	locker, closeLocker := newLocker(ctx, appConfig.Redis, l)
	defer closeLocker()

	// Репозитории
	templateRepo := repository.NewTemplateRepository(db)
	deploymentRepo := repository.NewDeploymentRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Сервисы
	metrics := service.NewMetricsService()
	recorder := service.NewMetadataRecorder(s3Client, templateRepo, l)
	deployOpts := service.DeployOptionsFromConfig(appConfig)
	deployService := service.NewDeployService(s3Client, templateRepo, deploymentRepo, userRepo, recorder, locker, metrics, deployOpts, l)
	templateService := service.NewTemplateService(s3Client, templateRepo, locker, deployOpts.LeaseTTL, l)
	fileManager := service.NewFileManager(s3Client, templateRepo, recorder, locker, deployOpts.LeaseTTL, l)

	if _, err := deployService.SweepStalePending(ctx); err != nil {
		l.Warn("failed to sweep stale deployments", zap.Error(err))
	}

	router := handler.NewRouter(handler.RouterConfig{
		Deploy:         handler.NewDeployHandler(deployService, verifier, appConfig.Deploy.MaxArchiveBytes, l),
		Templates:      handler.NewTemplateHandler(templateService, verifier, l),
		Files:          handler.NewFileHandler(fileManager, verifier, appConfig.Deploy.MaxArchiveBytes, l),
		Metrics:        metrics,
		Logger:         l,
		AllowedOrigins: appConfig.Server.AllowedOrigins,
		RequestTimeout: appConfig.Server.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		l.Info("starting HTTP server", zap.String("port", appConfig.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// Периодически закрываем записи, брошенные упавшими процессами
	sweepTicker := time.NewTicker(appConfig.Deploy.StalePendingAfter/2 + time.Minute)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sweepTicker.C:
				if _, err := deployService.SweepStalePending(ctx); err != nil {
					l.Warn("failed to sweep stale deployments", zap.Error(err))
				}
			case <-done:
				sweepTicker.Stop()
				return
			}
		}
	}()

	<-quit
	l.Info("shutting down server")
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	l.Info("server exited properly")
}
