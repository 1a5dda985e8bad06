package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/internal/platform/config"
)

func TestNewWithoutURLIsDisabled(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestApplyOverridesKeepsURLValuesForZeroFields(t *testing.T) {
	opts, err := redis.ParseURL("redis://localhost:6379/0?pool_size=7&dial_timeout=2s")
	require.NoError(t, err)

	applyOverrides(opts, config.RedisConfig{ReadTimeout: time.Second, MinIdleConns: 3})

	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
	assert.Equal(t, time.Second, opts.ReadTimeout)
	assert.Equal(t, 3, opts.MinIdleConns)
}
