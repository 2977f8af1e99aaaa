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

package stats

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/version"
	"github.com/segmentio/stats/v4"
	"github.com/segmentio/stats/v4/procstats"
	"github.com/segmentio/stats/v4/prometheus"
	"io"
	"net/http"
	"time"
)

const defaultAddress = ":8081"

type Service struct {
	logger       *logging.Logger
	statsEnabled bool
	runtimeStats bool
	handler      *prometheus.Handler
	engine       *stats.Engine
	mux          *http.ServeMux
	server       *http.Server
	collector    io.Closer
}

func NewStatsService(
	c *config.Config,
) (*Service, error) {

	logger, err := logging.NewLogger("StatsService")
	if err != nil {
		return nil, err
	}

	statsHandler := &prometheus.Handler{
		TrimPrefix: version.BinName + ".",
	}

	statsEnabled := config.GetOrDefault(c, config.PropertyStatsEnabled, true)
	runtimeStatsEnabled := config.GetOrDefault(c, config.PropertyRuntimeStatsEnabled, true)
	address := config.GetOrDefault(c, config.PropertyStatsAddress, defaultAddress)

	engine := stats.NewEngine(version.BinName, statsHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", statsHandler.ServeHTTP)

	return &Service{
		logger:       logger,
		statsEnabled: statsEnabled,
		runtimeStats: runtimeStatsEnabled,
		handler:      statsHandler,
		engine:       engine,
		mux:          mux,
		server: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: time.Second * 10,
		},
	}, nil
}

// Handle mounts an additional read-only endpoint next to /metrics. It
// must be called before Start.
func (s *Service) Handle(
	pattern string, handler http.Handler,
) {

	s.mux.Handle(pattern, handler)
}

func (s *Service) Start() error {
	if !s.statsEnabled {
		return nil
	}
	if s.runtimeStats {
		s.collector = procstats.StartCollector(procstats.NewGoMetricsWith(s.engine))
	}
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Stats endpoint failed: %s", err)
		}
	}()
	s.logger.Infof("Serving metrics at %s/metrics", s.server.Addr)
	return nil
}

func (s *Service) Stop() error {
	if !s.statsEnabled {
		return nil
	}
	if s.collector != nil {
		_ = s.collector.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Shutdown is called by the wiring container
func (s *Service) Shutdown() error {
	return s.Stop()
}

func (s *Service) NewReporter(
	prefix string, tags ...stats.Tag,
) *Reporter {

	return &Reporter{
		statsEnabled: s.statsEnabled,
		engine:       s.engine.WithPrefix(prefix, tags...),
	}
}

// Reporter records the metrics of a single component. A nil reporter
// or a reporter of a disabled service drops all measures.
type Reporter struct {
	statsEnabled bool
	engine       *stats.Engine
}

func (r *Reporter) Incr(
	name string, tags ...stats.Tag,
) {

	if r == nil || !r.statsEnabled {
		return
	}
	r.engine.Incr(name, tags...)
}

func (r *Reporter) Add(
	name string, value any, tags ...stats.Tag,
) {

	if r == nil || !r.statsEnabled {
		return
	}
	r.engine.Add(name, value, tags...)
}

func (r *Reporter) Set(
	name string, value any, tags ...stats.Tag,
) {

	if r == nil || !r.statsEnabled {
		return
	}
	r.engine.Set(name, value, tags...)
}

func (r *Reporter) Observe(
	name string, value any, tags ...stats.Tag,
) {

	if r == nil || !r.statsEnabled {
		return
	}
	r.engine.Observe(name, value, tags...)
}

func Tag(
	name, value string,
) stats.Tag {

	return stats.T(name, value)
}
