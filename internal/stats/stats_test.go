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
	"github.com/noctarius/lakestream/spi/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_Metrics_Endpoint_Serves_Reported_Values(t *testing.T) {
	service, err := NewStatsService(&config.Config{})
	require.NoError(t, err)

	reporter := service.NewReporter("pipeline", Tag("pipeline", "orders"))
	reporter.Set("lag", 4096)
	reporter.Incr("commits")

	server := httptest.NewServer(service.mux)
	defer server.Close()

	response, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Contains(t, string(body), "pipeline_lag")
	assert.Contains(t, string(body), "orders")
}

func Test_Handle_Mounts_Endpoint(t *testing.T) {
	service, err := NewStatsService(&config.Config{})
	require.NoError(t, err)
	service.Handle("/pipelines", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))

	recorder := httptest.NewRecorder()
	service.mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/pipelines", nil))
	assert.Equal(t, "[]", recorder.Body.String())
}

func Test_Nil_Reporter_Drops_Measures(t *testing.T) {
	var reporter *Reporter
	assert.NotPanics(t, func() {
		reporter.Incr("commits")
		reporter.Set("lag", 1)
	})
}
