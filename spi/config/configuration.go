/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"github.com/IBM/sarama"
	"os"
	"reflect"
	"strings"
	"time"
)

type CatalogType string

const (
	RestCatalog   CatalogType = "rest"
	MemoryCatalog CatalogType = "memory"
)

type ObjectStorageType string

const (
	S3Storage     ObjectStorageType = "s3"
	FileStorage   ObjectStorageType = "file"
	MemoryStorage ObjectStorageType = "memory"
)

type CheckpointStoreType string

const (
	FileCheckpointStore   CheckpointStoreType = "file"
	SqliteCheckpointStore CheckpointStoreType = "sqlite"
	RedisCheckpointStore  CheckpointStoreType = "redis"
	MemoryCheckpointStore CheckpointStoreType = "memory"
)

type StatusFeedType string

const (
	NoStatusFeed    StatusFeedType = "none"
	NatsStatusFeed  StatusFeedType = "nats"
	KafkaStatusFeed StatusFeedType = "kafka"
)

type WriteMode string

const (
	// AppendChangelog appends every net change of a batch as a row carrying
	// its change metadata columns.
	AppendChangelog WriteMode = "append"
	// MergeOnRead writes upserted rows as data files and replaced or deleted
	// keys as equality delete files.
	MergeOnRead WriteMode = "merge-on-read"
)

type Config struct {
	Logging    LoggerConfig          `toml:"logging"`
	Stats      StatsConfig           `toml:"stats"`
	Catalog    CatalogConfig         `toml:"catalog"`
	Storage    ObjectStorageConfig   `toml:"storage"`
	Checkpoint CheckpointStoreConfig `toml:"checkpoint"`
	StatusFeed StatusFeedConfig      `toml:"statusfeed"`
	Pipelines  []PipelineConfig      `toml:"pipelines"`
}

type StatsConfig struct {
	Enabled *bool              `toml:"enabled"`
	Address string             `toml:"address"`
	Runtime RuntimeStatsConfig `toml:"runtime"`
}

type RuntimeStatsConfig struct {
	Enabled *bool `toml:"enabled"`
}

type CatalogConfig struct {
	Type      CatalogType       `toml:"type"`
	Namespace string            `toml:"namespace"`
	Rest      RestCatalogConfig `toml:"rest"`
}

type RestCatalogConfig struct {
	URI        string        `toml:"uri"`
	Prefix     string        `toml:"prefix"`
	Warehouse  string        `toml:"warehouse"`
	Token      string        `toml:"token"`
	Credential string        `toml:"credential"`
	OAuth2URI  string        `toml:"oauth2uri"`
	Timeout    time.Duration `toml:"timeout"`
}

type ObjectStorageConfig struct {
	Type ObjectStorageType `toml:"type"`
	S3   S3StorageConfig   `toml:"s3"`
	File FileStorageConfig `toml:"file"`
}

type S3StorageConfig struct {
	Bucket string    `toml:"bucket"`
	Prefix string    `toml:"prefix"`
	Aws    AwsConfig `toml:"aws"`
}

type AwsConfig struct {
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyId     string `toml:"accesskeyid"`
	SecretAccessKey string `toml:"secretaccesskey"`
	SessionToken    string `toml:"sessiontoken"`
	ForcePathStyle  *bool  `toml:"forcepathstyle"`
}

type FileStorageConfig struct {
	Path string `toml:"path"`
}

type CheckpointStoreConfig struct {
	Type   CheckpointStoreType `toml:"type"`
	File   FileStorageConfig   `toml:"file"`
	Sqlite FileStorageConfig   `toml:"sqlite"`
	Redis  RedisConfig         `toml:"redis"`
}

type RedisConfig struct {
	Network  string             `toml:"network"`
	Address  string             `toml:"address"`
	Password string             `toml:"password"`
	Database int                `toml:"database"`
	Prefix   string             `toml:"prefix"`
	Retries  RedisRetryConfig   `toml:"retries"`
	Timeouts RedisTimeoutConfig `toml:"timeouts"`
	PoolSize int                `toml:"poolsize"`
}

type RedisRetryConfig struct {
	MaxAttempts int                     `toml:"maxattempts"`
	Backoff     RedisRetryBackoffConfig `toml:"backoff"`
}

type RedisRetryBackoffConfig struct {
	Min int `toml:"min"`
	Max int `toml:"max"`
}

type RedisTimeoutConfig struct {
	Dial  int `toml:"dial"`
	Read  int `toml:"read"`
	Write int `toml:"write"`
}

type StatusFeedConfig struct {
	Type  StatusFeedType `toml:"type"`
	Nats  NatsConfig     `toml:"nats"`
	Kafka KafkaConfig    `toml:"kafka"`
}

type NatsConfig struct {
	Address  string `toml:"address"`
	Subject  string `toml:"subject"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type KafkaSaslConfig struct {
	Enabled   bool                 `toml:"enabled"`
	User      string               `toml:"user"`
	Password  string               `toml:"password"`
	Mechanism sarama.SASLMechanism `toml:"mechanism"`
}

type KafkaConfig struct {
	Brokers    []string        `toml:"brokers"`
	Topic      string          `toml:"topic"`
	Idempotent bool            `toml:"idempotent"`
	Sasl       KafkaSaslConfig `toml:"sasl"`
}

type LoggerConfig struct {
	Level   string                     `toml:"level"`
	Outputs LoggerOutputConfig         `toml:"output"`
	Loggers map[string]SubLoggerConfig `toml:"loggers"`
}

type LoggerOutputConfig struct {
	Console LoggerConsoleConfig `toml:"console"`
	File    LoggerFileConfig    `toml:"file"`
}

type SubLoggerConfig struct {
	Level   *string            `toml:"level"`
	Outputs LoggerOutputConfig `toml:"output"`
}

type LoggerConsoleConfig struct {
	Enabled *bool `toml:"enabled"`
}

type LoggerFileConfig struct {
	Enabled     *bool          `toml:"enabled"`
	Path        string         `toml:"path"`
	Rotate      *bool          `toml:"rotate"`
	MaxSize     *string        `toml:"maxsize"`
	MaxDuration *time.Duration `toml:"maxduration"`
	Compress    bool           `toml:"compress"`
}

func GetOrDefault[V any](config *Config, canonicalProperty string, defaultValue V) V {
	if env, found := findEnvProperty(canonicalProperty, defaultValue); found {
		return env
	}

	properties := strings.Split(canonicalProperty, ".")

	element := reflect.ValueOf(*config)
	for _, property := range properties {
		if e, ok := findProperty(element, property); ok {
			element = e
		} else {
			return defaultValue
		}
	}

	if !element.IsZero() &&
		!(element.Kind() == reflect.Ptr && element.IsNil()) {

		if element.Kind() == reflect.Ptr {
			element = element.Elem()
		}

		return element.Convert(reflect.TypeOf(defaultValue)).Interface().(V)
	}
	return defaultValue
}

func findEnvProperty[V any](canonicalProperty string, defaultValue V) (V, bool) {
	t := reflect.TypeOf(defaultValue)

	envVarName := strings.ToUpper(canonicalProperty)
	envVarName = strings.ReplaceAll(envVarName, "_", "__")
	envVarName = strings.ReplaceAll(envVarName, ".", "_")
	if val, ok := os.LookupEnv(envVarName); ok {
		v := reflect.ValueOf(val)
		if !v.CanConvert(t) {
			return defaultValue, false
		}
		cv := v.Convert(t)
		if !cv.IsZero() &&
			!(cv.Kind() == reflect.Ptr && cv.IsNil()) {
			return cv.Interface().(V), true
		}
	}
	return defaultValue, false
}

func findProperty(element reflect.Value, property string) (reflect.Value, bool) {
	if element.Kind() == reflect.Ptr {
		if element.IsNil() {
			return reflect.Value{}, false
		}
		element = element.Elem()
	}
	if element.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}

	t := element.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" && !f.Anonymous {
			continue
		}

		if f.Tag.Get("toml") == property {
			return element.Field(i), true
		}
	}
	return reflect.Value{}, false
}
