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
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/noctarius/lakestream/testsupport/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func Test_Subject_Per_Pipeline(t *testing.T) {
	assert.Equal(t, "lakestream.pipelines.orders", subjectOf(defaultSubject, "orders"))
	assert.Equal(t, "status.p1", subjectOf("status", "p1"))
}

func Test_Publish_State(t *testing.T) {
	containers.RequireIntegration(t)

	container, address, err := containers.SetupNatsContainer()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	client, err := nats.Connect(address)
	require.NoError(t, err)
	subscription, err := client.SubscribeSync(defaultSubject + ".*")
	require.NoError(t, err)

	publisherClient, err := nats.Connect(address)
	require.NoError(t, err)
	publisher := NewNatsPublisher(publisherClient, "")
	t.Cleanup(func() {
		_ = publisher.Close()
		client.Close()
	})

	require.NoError(t, publisher.Publish(context.Background(), pipeline.State{
		PipelineID: "orders",
		Status:     pipeline.Running,
	}))

	msg, err := subscription.NextMsg(time.Second * 10)
	require.NoError(t, err)
	assert.Equal(t, "lakestream.pipelines.orders", msg.Subject)
	assert.Equal(t, "running", msg.Header.Get("status"))

	var state pipeline.State
	require.NoError(t, json.Unmarshal(msg.Data, &state))
	assert.Equal(t, "orders", state.PipelineID)
	assert.Equal(t, pipeline.Running, state.Status)
}
