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
	"context"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/stats"
	"github.com/noctarius/lakestream/internal/supervisor"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/internal/sysconfig"
	"github.com/noctarius/lakestream/spi/catalog"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/statusfeed"
	"github.com/noctarius/lakestream/spi/wiring"
	"github.com/samber/lo"
)

// Worker is a lakestream process: the configured pipelines sharing one
// catalog, object store, checkpoint store and status feed.
type Worker struct {
	logger    *logging.Logger
	config    *sysconfig.SystemConfig
	container wiring.Container
	registry  *supervisor.Registry
	stats     *stats.Service
	catalog   catalog.Catalog
	feed      statusfeed.Publisher
}

func NewWorker(
	config *sysconfig.SystemConfig,
) (*Worker, error) {

	logger, err := logging.NewLogger("Worker")
	if err != nil {
		return nil, err
	}

	configModule := wiring.DefineModule("Config", func(module wiring.Module) {
		module.Provide(func() *spiconfig.Config {
			return config.Config
		})
	})

	container, err := wiring.NewContainer(configModule, StaticModule, DynamicModule, overridesModule(config))
	if err != nil {
		return nil, err
	}

	w := &Worker{
		logger:    logger,
		config:    config,
		container: container,
	}
	if err := container.Service(&w.registry); err != nil {
		return nil, err
	}
	if err := container.Service(&w.stats); err != nil {
		return nil, err
	}
	if err := container.Service(&w.catalog); err != nil {
		return nil, err
	}
	if err := container.Service(&w.feed); err != nil {
		return nil, err
	}

	for _, pipeline := range config.Pipelines {
		if _, err := w.registry.Create(pipeline); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Worker) Registry() *supervisor.Registry {
	return w.registry
}

// Start serves the metrics and control endpoints and starts every
// pipeline configured to start automatically. A pipeline failing to
// start does not prevent the others from starting.
func (w *Worker) Start(
	ctx context.Context,
) error {

	handler := supervisor.NewControlHandler(w.registry)
	w.stats.Handle("/pipelines", handler)
	w.stats.Handle("/pipelines/", handler)
	if err := w.stats.Start(); err != nil {
		return err
	}

	for _, pipeline := range w.config.Pipelines {
		if !lo.FromPtrOr(pipeline.WithDefaults().AutoStart, true) {
			w.logger.Infof("Pipeline %s is not started automatically", pipeline.Id)
			continue
		}
		if err := w.registry.Start(ctx, pipeline.Id); err != nil {
			w.logger.Errorf("Pipeline %s failed to start: %s", pipeline.Id, err)
		}
	}
	return nil
}

// Stop pauses all pipelines and shuts down the shared services
func (w *Worker) Stop(
	ctx context.Context,
) error {

	var result error
	if err := w.registry.Shutdown(ctx); err != nil {
		w.logger.Errorf("Failed to pause pipelines: %s", err)
		result = err
	}
	if err := w.feed.Close(); err != nil {
		w.logger.Warnf("Failed to close status feed: %s", err)
	}
	if closer, ok := w.catalog.(interface{ Close() }); ok {
		closer.Close()
	}
	if err := w.container.Shutdown(); err != nil {
		result = errors.Wrap(err, 0)
	}
	return result
}
