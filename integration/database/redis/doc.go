// Package redis provides production-ready Redis client initialization and
// health checking for the durable queue backend.
//
// This package wraps the go-redis client with connection validation, retry
// logic, and configuration suitable for reliable Redis connectivity. It
// validates the URL format, attempts connection with retries, and verifies
// connectivity with a ping operation before returning the client.
//
// # Configuration
//
// All configuration is handled through the Config struct with environment
// variable mapping:
//
//	type Config struct {
//		ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
//		RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
//		ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
//	}
//
// Both redis:// and rediss:// (TLS) URL schemes are supported.
//
// # Usage Example
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal("failed to connect to redis:", err)
//	}
//	defer client.Close()
//
//	store := queue.NewRedisStore(client)
//	svc, err := queue.NewService(store)
//
// The Healthcheck function integrates with readiness probes:
//
//	check := redis.Healthcheck(client)
//	if err := check(ctx); err != nil {
//		// not ready
//	}
package redis
