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

package redis

import (
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/go-redis/redis"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/checkpoint"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/samber/lo"
	"sort"
	"strconv"
	"strings"
	"time"
)

func init() {
	checkpoint.RegisterStore(spiconfig.RedisCheckpointStore, newRedisStore)
}

// redisStore keeps one hash per pipeline, the fields are the destination
// tables. Values are encoded as "<position>|<updated unix nanos>".
type redisStore struct {
	logger *logging.Logger
	prefix string
	client *redis.Client
}

func newRedisStore(
	config *spiconfig.Config,
) (checkpoint.Store, error) {

	options := &redis.Options{
		Network: spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisNetwork, "tcp",
		),
		Addr: spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisAddress, "localhost:6379",
		),
		Password: spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisPassword, "",
		),
		DB: spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisDatabase, 0,
		),
		MaxRetries: spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisRetriesMax, 0,
		),
		MinRetryBackoff: time.Duration(spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisRetriesBackoffMin, 8,
		)) * time.Microsecond,
		MaxRetryBackoff: time.Duration(spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisRetriesBackoffMax, 512,
		)) * time.Microsecond,
		DialTimeout: time.Duration(spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisTimeoutDial, 0,
		)) * time.Second,
		ReadTimeout: time.Duration(spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisTimeoutRead, 0,
		)) * time.Second,
		WriteTimeout: time.Duration(spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisTimeoutWrite, 0,
		)) * time.Second,
		PoolSize: spiconfig.GetOrDefault(
			config, spiconfig.PropertyRedisPoolsize, 0,
		),
	}

	prefix := spiconfig.GetOrDefault(config, spiconfig.PropertyRedisPrefix, "lakestream:checkpoints:")
	return NewRedisStore(options, prefix)
}

func NewRedisStore(
	options *redis.Options, prefix string,
) (checkpoint.Store, error) {

	logger, err := logging.NewLogger("RedisCheckpointStore")
	if err != nil {
		return nil, err
	}
	return &redisStore{
		logger: logger,
		prefix: prefix,
		client: redis.NewClient(options),
	}, nil
}

func (r *redisStore) Start() error {
	r.logger.Infof("Starting RedisCheckpointStore at %s", r.client.Options().Addr)
	if err := r.client.Ping().Err(); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (r *redisStore) Stop() error {
	r.logger.Infof("Stopping RedisCheckpointStore")
	return r.client.Close()
}

func (r *redisStore) Save(
	ctx context.Context, cp checkpoint.Checkpoint,
) error {

	value := fmt.Sprintf("%s|%d", cp.CommittedPosition, cp.UpdatedAt.UnixNano())
	if err := r.client.WithContext(ctx).HSet(r.key(cp.PipelineID), cp.DestinationTable, value).Err(); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (r *redisStore) Load(
	ctx context.Context, pipelineId, table string,
) (checkpoint.Checkpoint, bool, error) {

	value, err := r.client.WithContext(ctx).HGet(r.key(pipelineId), table).Result()
	if err != nil {
		if err == redis.Nil {
			return checkpoint.Checkpoint{}, false, nil
		}
		return checkpoint.Checkpoint{}, false, errors.Wrap(err, 0)
	}

	cp, err := decodeCheckpoint(pipelineId, table, value)
	if err != nil {
		return checkpoint.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (r *redisStore) List(
	ctx context.Context, pipelineId string,
) ([]checkpoint.Checkpoint, error) {

	values, err := r.client.WithContext(ctx).HGetAll(r.key(pipelineId)).Result()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	tables := lo.Keys(values)
	sort.Strings(tables)

	checkpoints := make([]checkpoint.Checkpoint, 0, len(tables))
	for _, table := range tables {
		cp, err := decodeCheckpoint(pipelineId, table, values[table])
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

func (r *redisStore) Delete(
	ctx context.Context, pipelineId string,
) error {

	if err := r.client.WithContext(ctx).Del(r.key(pipelineId)).Err(); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (r *redisStore) key(
	pipelineId string,
) string {

	return r.prefix + pipelineId
}

func decodeCheckpoint(
	pipelineId, table, value string,
) (checkpoint.Checkpoint, error) {

	rawPosition, rawUpdatedAt, found := strings.Cut(value, "|")
	if !found {
		return checkpoint.Checkpoint{}, errors.Errorf("illegal checkpoint value '%s' for %s/%s", value, pipelineId, table)
	}

	position, err := changes.ParsePosition(rawPosition)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	updatedAt, err := strconv.ParseInt(rawUpdatedAt, 10, 64)
	if err != nil {
		return checkpoint.Checkpoint{}, errors.Wrap(err, 0)
	}

	return checkpoint.Checkpoint{
		PipelineID:        pipelineId,
		DestinationTable:  table,
		CommittedPosition: position,
		UpdatedAt:         time.Unix(0, updatedAt).UTC(),
	}, nil
}
