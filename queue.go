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
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/juntapay/junta/config"
	redis_db "github.com/juntapay/junta/internal/redis-db"
	"github.com/juntapay/junta/model"
)

// Queue represents a queue for handling various tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// CollectionTaskPayload is the payload of a queued collection charge task.
type CollectionTaskPayload struct {
	CollectionID string `json:"collection_id"`
}

func redisOptionFromConf(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}, nil
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	queueOptions, err := redisOptionFromConf(conf)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueCollection enqueues one due collection for a charge attempt. The
// task ID is the collection's deterministic identity, so a record that is
// already queued cannot be queued a second time.
func (q *Queue) EnqueueCollection(ctx context.Context, collection *model.Collection) error {
	ctx, span := otel.Tracer("queue.collection").Start(ctx, "Adding collection to queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(CollectionTaskPayload{CollectionID: collection.CollectionID})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(collection.CollectionID),
		asynq.Queue(cfg.Queue.CollectionQueue),
	}
	task := asynq.NewTask(cfg.Queue.CollectionQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			log.Printf(" [*] Collection already queued: %s", collection.CollectionID)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued collection: %s", collection.CollectionID)
	return nil
}
