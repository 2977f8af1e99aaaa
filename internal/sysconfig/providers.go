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

package sysconfig

import (
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/checkpoint"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/statusfeed"
)

type ObjectStoreProvider = func(config *spiconfig.Config) (objectstore.Store, error)

type CatalogProvider = func(config *spiconfig.Config, store objectstore.Store) (catalog.Catalog, error)

type CheckpointStoreProvider = func(config *spiconfig.Config) (checkpoint.Store, error)

type StatusFeedProvider = func(config *spiconfig.Config) (statusfeed.Publisher, error)
