/*
Copyright 2024 Junta Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	cnf := &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/junta"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	err := cnf.validateAndAddDefaults()
	require.NoError(t, err)

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "Junta Server", cnf.ProjectName)
	assert.Equal(t, 100, cnf.Collections.BatchSize)
	assert.Equal(t, 3, cnf.Collections.MaxAttempts)
	assert.Equal(t, "@every 1h", cnf.Collections.RunInterval)
	assert.Equal(t, "new:collection", cnf.Queue.CollectionQueue)
	assert.Equal(t, "new:webhook", cnf.Queue.WebhookQueue)
}

func TestMissingDataSource(t *testing.T) {
	cnf := &Configuration{Redis: RedisConfig{Dns: "localhost:6379"}}
	err := cnf.validateAndAddDefaults()
	assert.Error(t, err)
}

func TestMissingRedis(t *testing.T) {
	cnf := &Configuration{DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/junta"}}
	err := cnf.validateAndAddDefaults()
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("JUNTA_DATA_SOURCE_DNS", "postgres://env-host:5432/junta")
	os.Setenv("JUNTA_REDIS_DNS", "env-redis:6379")
	os.Setenv("JUNTA_COLLECTIONS_BATCH_SIZE", "25")
	defer func() {
		os.Unsetenv("JUNTA_DATA_SOURCE_DNS")
		os.Unsetenv("JUNTA_REDIS_DNS")
		os.Unsetenv("JUNTA_COLLECTIONS_BATCH_SIZE")
	}()

	err := loadConfigFromFile("does-not-exist.json")
	require.NoError(t, err)

	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host:5432/junta", cnf.DataSource.Dns)
	assert.Equal(t, "env-redis:6379", cnf.Redis.Dns)
	assert.Equal(t, 25, cnf.Collections.BatchSize)
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/junta"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	err := cnf.validateAndAddDefaults()
	require.NoError(t, err)
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
}
