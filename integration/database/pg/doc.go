// Package pg provides production-ready PostgreSQL connection management with
// migrations and health checking for the durable queue backend.
//
// This package wraps the pgx driver with retry logic, connection pool
// tuning, and integrated schema migration support using goose. Migrations
// are applied from an embedded filesystem, so deployed binaries carry their
// own schema.
//
// # Key Features
//
//   - Connect: Creates a connection pool with retry logic and connection verification
//   - Migrate: Applies schema migrations from an fs.FS using goose with pgx integration
//   - Healthcheck: Returns a health check function for monitoring connectivity
//   - Error classification functions for common PostgreSQL error patterns
//
// # Configuration
//
// All configuration is handled through the Config struct with environment
// variable mapping:
//
//	type Config struct {
//		ConnectionString  string        `env:"PG_CONN_URL,required"`
//		MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
//		MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
//		HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
//		MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
//		MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
//		RetryAttempts     int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval     time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
//		MigrationsPath    string        `env:"PG_MIGRATIONS_PATH" envDefault:"migrations"`
//		MigrationsTable   string        `env:"PG_MIGRATIONS_TABLE" envDefault:"schema_migrations"`
//	}
//
// # Usage Example
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal("failed to connect to postgres:", err)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, queue.Migrations, slog.Default()); err != nil {
//		log.Fatal("failed to apply migrations:", err)
//	}
//
//	store := queue.NewPostgresStore(pool)
//	svc, err := queue.NewService(store)
//
// # Error Handling
//
// Classification helpers keep persistence error checks consistent:
//
//	if pg.IsDuplicateKeyError(err) {
//		// unique constraint violation
//	}
//	if pg.IsNotFoundError(err) {
//		// no rows
//	}
package pg
