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
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"JUNTA_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"JUNTA_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"JUNTA_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"JUNTA_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"JUNTA_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"JUNTA_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"JUNTA_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"JUNTA_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"JUNTA_REDIS_SKIP_TLS_VERIFY"`
}

// GatewayConfig holds the payment gateway connection settings. The endpoint is
// expected to expose off-session charge and payout operations over JSON.
type GatewayConfig struct {
	Endpoint      string `json:"endpoint" envconfig:"JUNTA_GATEWAY_ENDPOINT"`
	SecretKey     string `json:"secret_key" envconfig:"JUNTA_GATEWAY_SECRET_KEY"`
	TimeoutSec    int    `json:"timeout_sec" envconfig:"JUNTA_GATEWAY_TIMEOUT_SEC"`
	MaxElapsedSec int    `json:"max_elapsed_sec" envconfig:"JUNTA_GATEWAY_MAX_ELAPSED_SEC"`
}

// CollectionsConfig tunes the collection processor batch job.
type CollectionsConfig struct {
	BatchSize       int    `json:"batch_size" envconfig:"JUNTA_COLLECTIONS_BATCH_SIZE"`
	MaxAttempts     int    `json:"max_attempts" envconfig:"JUNTA_COLLECTIONS_MAX_ATTEMPTS"`
	RunInterval     string `json:"run_interval" envconfig:"JUNTA_COLLECTIONS_RUN_INTERVAL"`
	GraceHours      int    `json:"grace_hours" envconfig:"JUNTA_COLLECTIONS_GRACE_HOURS"`
	LeaseTimeoutSec int    `json:"lease_timeout_sec" envconfig:"JUNTA_COLLECTIONS_LEASE_TIMEOUT_SEC"`
}

type QueueConfig struct {
	CollectionQueue string `json:"collection_queue" envconfig:"JUNTA_QUEUE_COLLECTION"`
	WebhookQueue    string `json:"webhook_queue" envconfig:"JUNTA_QUEUE_WEBHOOK"`
	MonitoringPort  string `json:"monitoring_port" envconfig:"JUNTA_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"JUNTA_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"JUNTA_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"JUNTA_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string            `json:"project_name" envconfig:"JUNTA_PROJECT_NAME"`
	EnableTelemetry bool              `json:"enable_telemetry" envconfig:"JUNTA_ENABLE_TELEMETRY"`
	Server          ServerConfig      `json:"server"`
	DataSource      DataSourceConfig  `json:"data_source"`
	Redis           RedisConfig       `json:"redis"`
	Gateway         GatewayConfig     `json:"gateway"`
	Collections     CollectionsConfig `json:"collections"`
	Queue           QueueConfig       `json:"queue"`
	Notification    Notification      `json:"notification"`
	RateLimit       RateLimitConfig   `json:"rate_limit"`

	BackupDir          string `json:"backup_dir" envconfig:"JUNTA_BACKUP_DIR"`
	AwsAccessKeyId     string `json:"aws_access_key_id"`
	AwsSecretAccessKey string `json:"aws_secret_access_key"`
	S3BucketName       string `json:"s3_bucket_name"`
	S3Region           string `json:"s3_region"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("junta", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called junta.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Junta Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Gateway.Endpoint = strings.TrimSpace(cnf.Gateway.Endpoint)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Gateway.TimeoutSec == 0 {
		cnf.Gateway.TimeoutSec = 30
	}
	if cnf.Gateway.MaxElapsedSec == 0 {
		cnf.Gateway.MaxElapsedSec = 120
	}

	if cnf.Collections.BatchSize == 0 {
		cnf.Collections.BatchSize = 100
	}
	if cnf.Collections.MaxAttempts == 0 {
		cnf.Collections.MaxAttempts = 3
	}
	if cnf.Collections.RunInterval == "" {
		cnf.Collections.RunInterval = "@every 1h"
	}
	if cnf.Collections.GraceHours == 0 {
		cnf.Collections.GraceHours = 48
	}
	if cnf.Collections.LeaseTimeoutSec == 0 {
		cnf.Collections.LeaseTimeoutSec = 1800
	}

	if cnf.Queue.CollectionQueue == "" {
		cnf.Queue.CollectionQueue = "new:collection"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	if cnf.BackupDir == "" {
		cnf.BackupDir = "backups"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Collections.BatchSize == 0 {
		mockConfig.Collections.BatchSize = 100
	}
	if mockConfig.Collections.MaxAttempts == 0 {
		mockConfig.Collections.MaxAttempts = 3
	}
	if mockConfig.Collections.LeaseTimeoutSec == 0 {
		mockConfig.Collections.LeaseTimeoutSec = 1800
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
