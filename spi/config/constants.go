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

const (
	PropertyStatsEnabled        = "stats.enabled"
	PropertyStatsAddress        = "stats.address"
	PropertyRuntimeStatsEnabled = "stats.runtime.enabled"

	PropertyCatalogType           = "catalog.type"
	PropertyCatalogNamespace      = "catalog.namespace"
	PropertyRestCatalogUri        = "catalog.rest.uri"
	PropertyRestCatalogPrefix     = "catalog.rest.prefix"
	PropertyRestCatalogWarehouse  = "catalog.rest.warehouse"
	PropertyRestCatalogToken      = "catalog.rest.token"
	PropertyRestCatalogCredential = "catalog.rest.credential"
	PropertyRestCatalogOAuth2Uri  = "catalog.rest.oauth2uri"
	PropertyRestCatalogTimeout    = "catalog.rest.timeout"

	PropertyStorageType           = "storage.type"
	PropertyS3Bucket              = "storage.s3.bucket"
	PropertyS3Prefix              = "storage.s3.prefix"
	PropertyS3AwsRegion           = "storage.s3.aws.region"
	PropertyS3AwsEndpoint         = "storage.s3.aws.endpoint"
	PropertyS3AwsAccessKeyId      = "storage.s3.aws.accesskeyid"
	PropertyS3AwsSecretAccessKey  = "storage.s3.aws.secretaccesskey"
	PropertyS3AwsSessionToken     = "storage.s3.aws.sessiontoken"
	PropertyS3AwsForcePathStyle   = "storage.s3.aws.forcepathstyle"
	PropertyFileObjectStoragePath = "storage.file.path"

	PropertyCheckpointStoreType     = "checkpoint.type"
	PropertyFileCheckpointStorePath = "checkpoint.file.path"
	PropertySqliteCheckpointPath    = "checkpoint.sqlite.path"

	PropertyRedisNetwork           = "checkpoint.redis.network"
	PropertyRedisAddress           = "checkpoint.redis.address"
	PropertyRedisPassword          = "checkpoint.redis.password"
	PropertyRedisDatabase          = "checkpoint.redis.database"
	PropertyRedisPrefix            = "checkpoint.redis.prefix"
	PropertyRedisPoolsize          = "checkpoint.redis.poolsize"
	PropertyRedisRetriesMax        = "checkpoint.redis.retries.maxattempts"
	PropertyRedisRetriesBackoffMin = "checkpoint.redis.retries.backoff.min"
	PropertyRedisRetriesBackoffMax = "checkpoint.redis.retries.backoff.max"
	PropertyRedisTimeoutDial       = "checkpoint.redis.timeouts.dial"
	PropertyRedisTimeoutRead       = "checkpoint.redis.timeouts.read"
	PropertyRedisTimeoutWrite      = "checkpoint.redis.timeouts.write"

	PropertyStatusFeedType     = "statusfeed.type"
	PropertyNatsAddress        = "statusfeed.nats.address"
	PropertyNatsSubject        = "statusfeed.nats.subject"
	PropertyNatsUsername       = "statusfeed.nats.username"
	PropertyNatsPassword       = "statusfeed.nats.password"
	PropertyKafkaBrokers       = "statusfeed.kafka.brokers"
	PropertyKafkaTopic         = "statusfeed.kafka.topic"
	PropertyKafkaIdempotent    = "statusfeed.kafka.idempotent"
	PropertyKafkaSaslEnabled   = "statusfeed.kafka.sasl.enabled"
	PropertyKafkaSaslUser      = "statusfeed.kafka.sasl.user"
	PropertyKafkaSaslPassword  = "statusfeed.kafka.sasl.password"
	PropertyKafkaSaslMechanism = "statusfeed.kafka.sasl.mechanism"

	PropertyLoggingLevel          = "logging.level"
	PropertyLoggingConsoleEnabled = "logging.output.console.enabled"
	PropertyLoggingFileEnabled    = "logging.output.file.enabled"
	PropertyLoggingFilePath       = "logging.output.file.path"
)
