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
	"net/http"
	"time"
)

const controlTimeout = time.Minute

type controlResponse struct {
	Error string `json:"error,omitempty"`
}

// NewControlHandler exposes the registry over HTTP:
//
//	GET  /pipelines              states of all pipelines
//	GET  /pipelines/{id}         state of a single pipeline
//	POST /pipelines/{id}/{op}    op is one of start, pause, stop, reset
func NewControlHandler(
	registry *Registry,
) http.Handler {

	operations := map[string]func(ctx context.Context, id string) error{
		"start": registry.Start,
		"pause": registry.Pause,
		"stop":  registry.Stop,
		"reset": registry.Reset,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /pipelines", func(w http.ResponseWriter, _ *http.Request) {
		writeJson(w, http.StatusOK, registry.List())
	})
	mux.HandleFunc("GET /pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		state, err := registry.Status(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJson(w, http.StatusOK, state)
	})
	mux.HandleFunc("POST /pipelines/{id}/{operation}", func(w http.ResponseWriter, r *http.Request) {
		operation, present := operations[r.PathValue("operation")]
		if !present {
			writeJson(w, http.StatusNotFound, controlResponse{Error: "unknown operation " + r.PathValue("operation")})
			return
		}

		// the start of a pipeline outlives the request
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), controlTimeout)
		defer cancel()

		id := r.PathValue("id")
		if err := operation(ctx, id); err != nil {
			writeError(w, err)
			return
		}
		state, err := registry.Status(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJson(w, http.StatusOK, state)
	})
	return mux
}

func writeError(
	w http.ResponseWriter, err error,
) {

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoSuchPipeline):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrIllegalTransition), errors.Is(err, ErrPipelineNotInactive):
		status = http.StatusConflict
	}
	writeJson(w, status, controlResponse{Error: err.Error()})
}

func writeJson(
	w http.ResponseWriter, status int, value any,
) {

	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
