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

package catalog

import (
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/objectstore"
	"sync"
)

// Provider creates a Catalog. Catalogs writing snapshot metadata
// themselves use the object store the data files are written to.
type Provider func(config *config.Config, store objectstore.Store) (Catalog, error)

var (
	registryMutex sync.Mutex
	providers     = make(map[config.CatalogType]Provider)
)

func RegisterCatalog(name config.CatalogType, provider Provider) bool {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if _, present := providers[name]; !present {
		providers[name] = provider
		return true
	}
	return false
}

func NewCatalog(name config.CatalogType, c *config.Config, store objectstore.Store) (Catalog, error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if p, present := providers[name]; present {
		return p(c, store)
	}
	return nil, errors.Errorf("CatalogType '%s' doesn't exist", name)
}
