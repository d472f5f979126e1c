package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "PUBLIC_BASE_URL", "REQUEST_TIMEOUT_MS", "STORE_DRIVER", "REDIS_ADDR", "EVENTS_DRIVER", "KAFKA_BROKERS", "PROJECTOR_WORKERS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "none", cfg.EventsDriver)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 4, cfg.ProjectorWorkers)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example.com/")
	t.Setenv("REQUEST_TIMEOUT_MS", "250")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("EVENTS_DRIVER", "RabbitMQ")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("PROJECTOR_WORKERS", "-3")

	cfg := Load()

	assert.Equal(t, "https://shop.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "rabbitmq", cfg.EventsDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 4, cfg.ProjectorWorkers, "non-positive values fall back to the default")
}
