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

package internal

import (
	_ "github.com/noctarius/lakestream/internal/catalogs/memory"
	_ "github.com/noctarius/lakestream/internal/catalogs/rest"
	"github.com/noctarius/lakestream/internal/checkpointing"
	_ "github.com/noctarius/lakestream/internal/checkpointstores/file"
	_ "github.com/noctarius/lakestream/internal/checkpointstores/memory"
	_ "github.com/noctarius/lakestream/internal/checkpointstores/redis"
	_ "github.com/noctarius/lakestream/internal/checkpointstores/sqlite"
	_ "github.com/noctarius/lakestream/internal/objectstores/local"
	_ "github.com/noctarius/lakestream/internal/objectstores/memory"
	_ "github.com/noctarius/lakestream/internal/objectstores/s3"
	"github.com/noctarius/lakestream/internal/stats"
	_ "github.com/noctarius/lakestream/internal/statusfeeds/kafka"
	_ "github.com/noctarius/lakestream/internal/statusfeeds/nats"
	_ "github.com/noctarius/lakestream/internal/statusfeeds/none"
	"github.com/noctarius/lakestream/internal/supervisor"
	"github.com/noctarius/lakestream/internal/sysconfig"
	"github.com/noctarius/lakestream/internal/sysconfig/defaultproviders"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/checkpoint"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/statusfeed"
	"github.com/noctarius/lakestream/spi/wiring"
)

var StaticModule = wiring.DefineModule(
	"Static", func(module wiring.Module) {
		module.Provide(stats.NewStatsService)

		module.Provide(func(store checkpoint.Store) (*checkpointing.Manager, error) {
			if err := store.Start(); err != nil {
				return nil, err
			}
			return checkpointing.NewManager(store, nil), nil
		})

		module.Provide(func() supervisor.SourceFactory {
			return supervisor.ReplicationSource
		})

		module.Provide(func(
			c *config.Config, lake catalog.Catalog, store objectstore.Store,
			checkpoints *checkpointing.Manager, sources supervisor.SourceFactory,
			feed statusfeed.Publisher, statsService *stats.Service,
		) *supervisor.Registry {

			return supervisor.NewRegistry(supervisor.Dependencies{
				Catalog:     lake,
				Store:       store,
				Checkpoints: checkpoints,
				Sources:     sources,
				Feed:        feed,
				Stats:       statsService,
				Namespace:   config.GetOrDefault(c, config.PropertyCatalogNamespace, ""),
			})
		})
	},
)

var DynamicModule = wiring.DefineModule(
	"Dynamic", func(module wiring.Module) {
		module.Provide(defaultproviders.DefaultObjectStoreProvider)
		module.Provide(defaultproviders.DefaultCatalogProvider)
		module.Provide(defaultproviders.DefaultCheckpointStoreProvider)
		module.Provide(defaultproviders.DefaultStatusFeedProvider)
	},
)

// overridesModule registers the providers set on the system config, they
// replace the defaults of the modules before.
func overridesModule(
	config *sysconfig.SystemConfig,
) wiring.Module {

	return wiring.DefineModule(
		"Overrides", func(module wiring.Module) {
			module.MayProvide(config.ObjectStoreProvider)
			module.MayProvide(config.CatalogProvider)
			module.MayProvide(config.CheckpointStoreProvider)
			module.MayProvide(config.StatusFeedProvider)
			if config.SourceFactory != nil {
				sources := config.SourceFactory
				module.Provide(func() supervisor.SourceFactory {
					return sources
				})
			}
		},
	)
}
