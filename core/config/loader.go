package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// typeCache stores one parsed configuration value per concrete type.
type typeCache struct {
	mu     sync.RWMutex
	values map[string]any
	onces  map[string]*sync.Once
}

var (
	cache = &typeCache{
		values: make(map[string]any),
		onces:  make(map[string]*sync.Once),
	}

	dotenvOnce sync.Once
)

// Load parses environment variables into the provided configuration struct.
// Each unique configuration type is parsed once per process; later calls for
// the same type return the cached value.
//
// A .env file in the working directory is loaded on first use when present.
//
// Example:
//
//	type QueueConfig struct {
//		RedisURL string `env:"REDIS_URL,required"`
//		Workers  int    `env:"QUEUE_WORKERS" envDefault:"4"`
//	}
//
//	var cfg QueueConfig
//	if err := config.Load(&cfg); err != nil {
//		// Handle error
//	}
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		// Missing .env file is fine; real environments set variables directly.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	typeName := getTypeName[T]()

	cache.mu.RLock()
	if cached, ok := cache.values[typeName]; ok {
		*v = cached.(T)
		cache.mu.RUnlock()
		return nil
	}
	cache.mu.RUnlock()

	cache.mu.Lock()
	once, exists := cache.onces[typeName]
	if !exists {
		once = new(sync.Once)
		cache.onces[typeName] = once
	}
	cache.mu.Unlock()

	var err error
	once.Do(func() {
		if parseErr := env.Parse(v); parseErr != nil {
			err = errors.Join(ErrParsingConfig, parseErr)
			return
		}

		cache.mu.Lock()
		cache.values[typeName] = *v // Store a copy to avoid external modifications
		cache.mu.Unlock()
	})

	if err != nil {
		return err
	}

	cache.mu.RLock()
	defer cache.mu.RUnlock()
	if cached, ok := cache.values[typeName]; ok {
		*v = cached.(T)
		return nil
	}

	// A concurrent Load for the same type failed inside once.Do.
	return ErrConfigNotLoaded
}

// MustLoad works like Load but panics if configuration loading fails.
// Useful for configurations the application cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// getTypeName returns a string identifier for the generic type T.
func getTypeName[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		// Handle interface types
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
