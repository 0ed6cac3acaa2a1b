package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"DATABASE_DRIVER", "DISPATCH_SHARDS", "LOCK_TTL", "KAFKA_BROKERS", "JOBS_ENABLED", "EVENT_QUEUE_SIZE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 16, cfg.DispatchShards)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 2, cfg.EvaluationAttempts)
	assert.Equal(t, 1024, cfg.EventQueueSize)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.True(t, cfg.JobsEnabled)
	assert.Equal(t, "0 3 * * *", cfg.GraphAuditSchedule)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DISPATCH_SHARDS", "4")
	t.Setenv("LOCK_TTL", "2s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("JOBS_ENABLED", "false")

	cfg := Load()
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, 4, cfg.DispatchShards)
	assert.Equal(t, 2*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.JobsEnabled)
}

func TestHelpers_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	t.Setenv("TEST_BOOL", "maybe")
	t.Setenv("TEST_DURATION", "soon")

	assert.Equal(t, 7, getEnvAsInt("TEST_INT", 7))
	assert.True(t, getEnvAsBool("TEST_BOOL", true))
	assert.Equal(t, time.Minute, getEnvAsDuration("TEST_DURATION", time.Minute))
	assert.Equal(t, []string{"x"}, getEnvAsSlice("TEST_UNSET_SLICE", []string{"x"}))
}
