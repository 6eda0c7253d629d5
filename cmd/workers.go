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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/juntapay/junta"
	"github.com/juntapay/junta/config"
	redis_db "github.com/juntapay/junta/internal/redis-db"
)

// dispatchTask is the periodic task that promotes scheduled collections and
// fans the due ones out to the charge queue.
const dispatchTask = "collections:dispatch"

// processCollection charges one collection received from the Redis queue.
// The task payload carries only the collection ID; the record's own state
// decides whether a charge actually happens.
func (j *juntaInstance) processCollection(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("collection.worker").Start(ctx, "Process Collection From Redis Queue")
	defer span.End()

	var payload junta.CollectionTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	if err := j.junta.ProcessCollection(ctx, payload.CollectionID); err != nil {
		logrus.Infof("Collection %s pushed back for retry due to error: %v", payload.CollectionID, err)
		return err
	}

	log.Println(" [*] Collection Processed", payload.CollectionID)
	return nil
}

// dispatchDueCollections is the handler for the periodic dispatch task.
func (j *juntaInstance) dispatchDueCollections(ctx context.Context, _ *asynq.Task) error {
	dispatched, err := j.junta.DispatchDueCollections(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}
	log.Printf(" [*] Dispatched %d due collections", dispatched)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.CollectionQueue] = 3
	queues[cfg.Queue.WebhookQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(j *juntaInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.CollectionQueue, j.processCollection)
	mux.HandleFunc(dispatchTask, j.dispatchDueCollections)
	mux.HandleFunc(cfg.Queue.WebhookQueue, junta.ProcessWebhook)
}

// initializeScheduler registers the periodic dispatch task at the configured
// run interval.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		&asynq.SchedulerOpts{},
	)

	task := asynq.NewTask(dispatchTask, nil)
	if _, err := scheduler.Register(conf.Collections.RunInterval, task, asynq.Queue(conf.Queue.CollectionQueue)); err != nil {
		return nil, fmt.Errorf("error registering dispatch task: %v", err)
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command. Workers run the collection
// charge queue, the periodic dispatcher, and webhook delivery.
func workerCommands(j *juntaInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start junta workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(j, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
