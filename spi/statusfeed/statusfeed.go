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

package statusfeed

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/goccy/go-json"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/pipeline"
	"sync"
)

// Publisher announces pipeline state transitions to external consumers.
// Failing to publish never affects the pipeline itself.
type Publisher interface {
	Publish(ctx context.Context, state pipeline.State) error
	Close() error
}

// Provider defines the provider function for a status feed Publisher
type Provider func(config *config.Config) (Publisher, error)

var (
	registryMutex sync.Mutex
	providers     = make(map[config.StatusFeedType]Provider)
)

// RegisterPublisher registers a config.StatusFeedType to a
// Provider implementation which creates the Publisher when requested
func RegisterPublisher(name config.StatusFeedType, provider Provider) bool {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if _, present := providers[name]; !present {
		providers[name] = provider
		return true
	}
	return false
}

// NewPublisher instantiates a new instance of the requested
// Publisher when available, otherwise returns an error.
func NewPublisher(name config.StatusFeedType, c *config.Config) (Publisher, error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if p, present := providers[name]; present {
		return p(c)
	}
	return nil, errors.Errorf("StatusFeedType '%s' doesn't exist", name)
}

// Encode renders the state as the JSON document published by all feeds
func Encode(state pipeline.State) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return data, nil
}
