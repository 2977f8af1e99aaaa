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

// Package none provides the default status feed, which only logs state
// transitions.
package none

import (
	"context"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/noctarius/lakestream/spi/statusfeed"
)

func init() {
	statusfeed.RegisterPublisher(spiconfig.NoStatusFeed, func(_ *spiconfig.Config) (statusfeed.Publisher, error) {
		return NewLoggingPublisher()
	})
}

type Publisher struct {
	logger *logging.Logger
}

func NewLoggingPublisher() (*Publisher, error) {
	logger, err := logging.NewLogger("StatusFeed")
	if err != nil {
		return nil, err
	}
	return &Publisher{
		logger: logger,
	}, nil
}

func (p *Publisher) Publish(
	_ context.Context, state pipeline.State,
) error {

	if state.LastError != "" {
		p.logger.Infof("Pipeline %s is %s: %s", state.PipelineID, state.Status, state.LastError)
		return nil
	}
	p.logger.Infof("Pipeline %s is %s", state.PipelineID, state.Status)
	return nil
}

func (p *Publisher) Close() error {
	return nil
}
