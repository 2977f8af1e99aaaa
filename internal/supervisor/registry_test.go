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

package supervisor

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/goccy/go-json"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newRegistry(
	t *testing.T,
) (*Registry, *fixture) {

	f := newFixture(nil)
	registry := NewRegistry(f.deps)
	t.Cleanup(func() {
		_ = registry.Shutdown(context.Background())
	})
	return registry, f
}

func Test_Registry_Lifecycle(t *testing.T) {
	registry, f := newRegistry(t)
	f.script.append(firstTransaction()...)
	ctx := context.Background()

	_, err := registry.Create(testConfig("p2"))
	require.NoError(t, err)
	_, err = registry.Create(testConfig("p1"))
	require.NoError(t, err)
	_, err = registry.Create(testConfig("p1"))
	assert.True(t, errors.Is(err, ErrPipelineExists))

	states := registry.List()
	require.Len(t, states, 2)
	assert.Equal(t, "p1", states[0].PipelineID)
	assert.Equal(t, "p2", states[1].PipelineID)

	require.NoError(t, registry.Start(ctx, "p1"))
	state, err := registry.Status("p1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.Running, state.Status)
	f.awaitRows(t, 2)

	assert.True(t, errors.Is(registry.Remove("p1"), ErrPipelineNotInactive))
	require.NoError(t, registry.Pause(ctx, "p1"))
	require.NoError(t, registry.Stop(ctx, "p1"))
	require.NoError(t, registry.Remove("p1"))

	_, err = registry.Status("p1")
	assert.True(t, errors.Is(err, ErrNoSuchPipeline))
	assert.True(t, errors.Is(registry.Start(ctx, "p1"), ErrNoSuchPipeline))
	assert.True(t, errors.Is(registry.Reset(ctx, "p2"), pipeline.ErrIllegalTransition))
}

func Test_Registry_Shutdown_Pauses_Running_Pipelines(t *testing.T) {
	registry, _ := newRegistry(t)
	ctx := context.Background()

	_, err := registry.Create(testConfig("p1"))
	require.NoError(t, err)
	_, err = registry.Create(testConfig("p2"))
	require.NoError(t, err)
	require.NoError(t, registry.Start(ctx, "p1"))

	require.NoError(t, registry.Shutdown(ctx))
	states := registry.List()
	assert.Equal(t, pipeline.Paused, states[0].Status)
	assert.Equal(t, pipeline.Idle, states[1].Status)
}

func Test_Control_Handler(t *testing.T) {
	registry, _ := newRegistry(t)
	_, err := registry.Create(testConfig("p1"))
	require.NoError(t, err)

	server := httptest.NewServer(NewControlHandler(registry))
	defer server.Close()

	response, err := http.Get(server.URL + "/pipelines")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	var states []pipeline.State
	require.NoError(t, json.NewDecoder(response.Body).Decode(&states))
	require.Len(t, states, 1)
	assert.Equal(t, pipeline.Idle, states[0].Status)

	post := func(path string) (int, pipeline.State) {
		response, err := http.Post(server.URL+path, "application/json", nil)
		require.NoError(t, err)
		defer response.Body.Close()
		var state pipeline.State
		_ = json.NewDecoder(response.Body).Decode(&state)
		return response.StatusCode, state
	}

	status, _ := post("/pipelines/p1/pause")
	assert.Equal(t, http.StatusConflict, status)

	status, state := post("/pipelines/p1/start")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, pipeline.Running, state.Status)

	status, state = post("/pipelines/p1/stop")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, pipeline.Idle, state.Status)

	status, _ = post("/pipelines/p1/explode")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = post("/pipelines/p9/start")
	assert.Equal(t, http.StatusNotFound, status)

	response, err = http.Get(server.URL + "/pipelines/p9")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}
