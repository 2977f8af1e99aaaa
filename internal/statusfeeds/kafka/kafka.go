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

package kafka

import (
	"context"
	"github.com/IBM/sarama"
	"github.com/go-errors/errors"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/noctarius/lakestream/spi/statusfeed"
	"github.com/noctarius/lakestream/spi/version"
)

const defaultTopic = "lakestream.pipelines"

func init() {
	statusfeed.RegisterPublisher(spiconfig.KafkaStatusFeed, newKafkaPublisher)
}

// Publisher sends pipeline states keyed by pipeline id, the latest
// state of each pipeline survives topic compaction.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

func newKafkaPublisher(
	c *spiconfig.Config,
) (statusfeed.Publisher, error) {

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.ClientID = version.BinName
	kafkaConfig.Producer.Idempotent = spiconfig.GetOrDefault(c, spiconfig.PropertyKafkaIdempotent, false)
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	kafkaConfig.Producer.Retry.Max = 10
	if kafkaConfig.Producer.Idempotent {
		kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
		kafkaConfig.Net.MaxOpenRequests = 1
	}

	if spiconfig.GetOrDefault(c, spiconfig.PropertyKafkaSaslEnabled, false) {
		kafkaConfig.Net.SASL.Enable = true
		kafkaConfig.Net.SASL.User = spiconfig.GetOrDefault(
			c, spiconfig.PropertyKafkaSaslUser, "",
		)
		kafkaConfig.Net.SASL.Password = spiconfig.GetOrDefault(
			c, spiconfig.PropertyKafkaSaslPassword, "",
		)
		kafkaConfig.Net.SASL.Mechanism = spiconfig.GetOrDefault[sarama.SASLMechanism](
			c, spiconfig.PropertyKafkaSaslMechanism, sarama.SASLTypePlaintext,
		)
	}

	producer, err := sarama.NewSyncProducer(
		spiconfig.GetOrDefault(c, spiconfig.PropertyKafkaBrokers, []string{"localhost:9092"}), kafkaConfig,
	)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return NewKafkaPublisher(producer, spiconfig.GetOrDefault(c, spiconfig.PropertyKafkaTopic, defaultTopic)), nil
}

func NewKafkaPublisher(
	producer sarama.SyncProducer, topic string,
) *Publisher {

	if topic == "" {
		topic = defaultTopic
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *Publisher) Publish(
	_ context.Context, state pipeline.State,
) error {

	data, err := statusfeed.Encode(state)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(state.PipelineID),
		Value:     sarama.ByteEncoder(data),
		Timestamp: state.UpdatedAt,
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
