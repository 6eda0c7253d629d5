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
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) Cache {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := newRedisCache([]string{mr.Addr()})
	require.NoError(t, err)
	return c
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	type poolSummary struct {
		PoolID       string `json:"pool_id"`
		CurrentRound int    `json:"current_round"`
	}

	in := poolSummary{PoolID: "pol_123", CurrentRound: 2}
	err := c.Set(ctx, "pool:pol_123", in, time.Minute)
	require.NoError(t, err)

	var out poolSummary
	err = c.Get(ctx, "pool:pol_123", &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGetMissIsNil(t *testing.T) {
	c := newTestCache(t)

	var out string
	err := c.Get(context.Background(), "does-not-exist", &out)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	var out string
	err := c.Get(ctx, "k", &out)
	assert.NoError(t, err)
	assert.Empty(t, out)
}
