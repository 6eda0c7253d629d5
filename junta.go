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

package junta

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/database"
	"github.com/juntapay/junta/gateway"
	redis_db "github.com/juntapay/junta/internal/redis-db"
)

// Junta represents the main struct for the Junta application.
type Junta struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	gateway    gateway.Gateway
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewJunta initializes a new instance of Junta with the provided database
// datasource. It fetches the configuration and initializes the Redis client,
// the task queue, and the payment gateway client.
func NewJunta(db database.IDataSource) (*Junta, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	gw := gateway.NewClient(configuration.Gateway)

	newJunta := &Junta{datasource: db, queue: newQueue, redis: redisClient.Client(), gateway: gw}
	return newJunta, nil
}

// NewJuntaWithDeps wires explicit dependencies. Tests and the worker
// bootstrap use it to swap the gateway or queue for controlled fakes.
func NewJuntaWithDeps(db database.IDataSource, gw gateway.Gateway, queue *Queue, redisClient redis.UniversalClient) *Junta {
	return &Junta{datasource: db, queue: queue, redis: redisClient, gateway: gw}
}
