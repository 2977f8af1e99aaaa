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

package nats

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/nats-io/nats.go"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/noctarius/lakestream/spi/statusfeed"
	"github.com/noctarius/lakestream/spi/version"
	"time"
)

const defaultSubject = "lakestream.pipelines"

func init() {
	statusfeed.RegisterPublisher(spiconfig.NatsStatusFeed, newNatsPublisher)
}

// Publisher sends every pipeline state to the subject
// <subject>.<pipeline id>.
type Publisher struct {
	client  *nats.Conn
	subject string
}

func newNatsPublisher(
	c *spiconfig.Config,
) (statusfeed.Publisher, error) {

	address := spiconfig.GetOrDefault(c, spiconfig.PropertyNatsAddress, nats.DefaultURL)
	subject := spiconfig.GetOrDefault(c, spiconfig.PropertyNatsSubject, defaultSubject)
	username := spiconfig.GetOrDefault(c, spiconfig.PropertyNatsUsername, "")
	password := spiconfig.GetOrDefault(c, spiconfig.PropertyNatsPassword, "")

	options := []nats.Option{
		nats.Name(version.BinName),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(time.Second * 10),
		nats.ReconnectBufSize(1024 * 1024),
		nats.MaxReconnects(-1),
	}
	if username != "" {
		options = append(options, nats.UserInfo(username, password))
	}

	client, err := nats.Connect(address, options...)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return NewNatsPublisher(client, subject), nil
}

func NewNatsPublisher(
	client *nats.Conn, subject string,
) *Publisher {

	if subject == "" {
		subject = defaultSubject
	}
	return &Publisher{
		client:  client,
		subject: subject,
	}
}

func (p *Publisher) Publish(
	_ context.Context, state pipeline.State,
) error {

	data, err := statusfeed.Encode(state)
	if err != nil {
		return err
	}

	header := nats.Header{}
	header.Add("pipeline", state.PipelineID)
	header.Add("status", string(state.Status))

	if err := p.client.PublishMsg(&nats.Msg{
		Subject: subjectOf(p.subject, state.PipelineID),
		Header:  header,
		Data:    data,
	}); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Drain()
}

func subjectOf(
	subject, pipelineId string,
) string {

	return subject + "." + pipelineId
}
