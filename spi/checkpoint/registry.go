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

package checkpoint

import (
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/spi/config"
	"sync"
)

// Provider defines the provider function for a checkpoint Store
type Provider func(config *config.Config) (Store, error)

var storeRegistry *registry

func init() {
	storeRegistry = &registry{
		mutex:     sync.Mutex{},
		providers: make(map[config.CheckpointStoreType]Provider),
	}
}

type registry struct {
	mutex     sync.Mutex
	providers map[config.CheckpointStoreType]Provider
}

// RegisterStore registers a config.CheckpointStoreType to a
// Provider implementation which creates the Store when requested
func RegisterStore(name config.CheckpointStoreType, provider Provider) bool {
	storeRegistry.mutex.Lock()
	defer storeRegistry.mutex.Unlock()
	if _, present := storeRegistry.providers[name]; !present {
		storeRegistry.providers[name] = provider
		return true
	}
	return false
}

// NewStore instantiates a new instance of the requested
// Store when available, otherwise returns an error.
func NewStore(name config.CheckpointStoreType, c *config.Config) (Store, error) {
	storeRegistry.mutex.Lock()
	defer storeRegistry.mutex.Unlock()
	if p, present := storeRegistry.providers[name]; present {
		return p(c)
	}
	return nil, errors.Errorf("CheckpointStoreType '%s' doesn't exist", name)
}
