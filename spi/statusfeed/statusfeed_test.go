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

package statusfeed

import (
	"context"
	"github.com/goccy/go-json"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type recordingPublisher struct {
	states []pipeline.State
}

func (r *recordingPublisher) Publish(_ context.Context, state pipeline.State) error {
	r.states = append(r.states, state)
	return nil
}

func (r *recordingPublisher) Close() error {
	return nil
}

func Test_Encode_State(t *testing.T) {
	state := pipeline.State{
		PipelineID: "orders",
		Status:     pipeline.Failed,
		LastError:  "primary key changed",
		Lag:        1024,
		LagByTable: map[string]uint64{"orders": 1024},
		UpdatedAt:  time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}

	data, err := Encode(state)
	require.NoError(t, err)

	var document map[string]any
	require.NoError(t, json.Unmarshal(data, &document))
	assert.Equal(t, "orders", document["pipeline_id"])
	assert.Equal(t, "failed", document["status"])
	assert.Equal(t, "primary key changed", document["last_error"])
	assert.Equal(t, float64(1024), document["lag"])
	assert.Equal(t, "2026-10-14T12:00:00Z", document["updated_at"])
}

func Test_Registry(t *testing.T) {
	recorder := &recordingPublisher{}
	name := config.StatusFeedType("recording")
	assert.True(t, RegisterPublisher(name, func(_ *config.Config) (Publisher, error) {
		return recorder, nil
	}))
	assert.False(t, RegisterPublisher(name, func(_ *config.Config) (Publisher, error) {
		return nil, nil
	}))

	publisher, err := NewPublisher(name, &config.Config{})
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(context.Background(), pipeline.State{PipelineID: "p"}))
	assert.Len(t, recorder.states, 1)

	_, err = NewPublisher("unknown", &config.Config{})
	assert.ErrorContains(t, err, "doesn't exist")
}
