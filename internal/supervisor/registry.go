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
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/samber/lo"
	"sort"
	"sync"
)

var (
	ErrNoSuchPipeline      = errors.Errorf("no such pipeline")
	ErrPipelineExists      = errors.Errorf("pipeline already exists")
	ErrPipelineNotInactive = errors.Errorf("pipeline must be idle or failed")
)

// Registry holds the pipelines of a worker process and is the operator
// facing control surface.
type Registry struct {
	deps      Dependencies
	mutex     sync.RWMutex
	pipelines map[string]*Supervisor
}

func NewRegistry(
	deps Dependencies,
) *Registry {

	return &Registry{
		deps:      deps,
		pipelines: make(map[string]*Supervisor),
	}
}

// Create registers a new idle pipeline
func (r *Registry) Create(
	config spiconfig.PipelineConfig,
) (*Supervisor, error) {

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, present := r.pipelines[config.Id]; present {
		return nil, errors.WrapPrefix(ErrPipelineExists, config.Id, 0)
	}
	supervisor, err := NewSupervisor(config, r.deps)
	if err != nil {
		return nil, err
	}
	r.pipelines[config.Id] = supervisor
	return supervisor, nil
}

func (r *Registry) Get(
	id string,
) (*Supervisor, error) {

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	supervisor, present := r.pipelines[id]
	if !present {
		return nil, errors.WrapPrefix(ErrNoSuchPipeline, id, 0)
	}
	return supervisor, nil
}

func (r *Registry) Start(
	ctx context.Context, id string,
) error {

	supervisor, err := r.Get(id)
	if err != nil {
		return err
	}
	return supervisor.Start(ctx)
}

func (r *Registry) Pause(
	ctx context.Context, id string,
) error {

	supervisor, err := r.Get(id)
	if err != nil {
		return err
	}
	return supervisor.Pause(ctx)
}

func (r *Registry) Stop(
	ctx context.Context, id string,
) error {

	supervisor, err := r.Get(id)
	if err != nil {
		return err
	}
	return supervisor.Stop(ctx)
}

func (r *Registry) Reset(
	ctx context.Context, id string,
) error {

	supervisor, err := r.Get(id)
	if err != nil {
		return err
	}
	return supervisor.Reset(ctx)
}

// Remove unregisters an idle or failed pipeline. Its checkpoints are
// kept, a pipeline created with the same id resumes from them.
func (r *Registry) Remove(
	id string,
) error {

	r.mutex.Lock()
	defer r.mutex.Unlock()

	supervisor, present := r.pipelines[id]
	if !present {
		return errors.WrapPrefix(ErrNoSuchPipeline, id, 0)
	}
	if status := supervisor.State().Status; status != pipeline.Idle && status != pipeline.Failed {
		return errors.WrapPrefix(ErrPipelineNotInactive, id+" is "+string(status), 0)
	}
	delete(r.pipelines, id)
	return nil
}

func (r *Registry) Status(
	id string,
) (pipeline.State, error) {

	supervisor, err := r.Get(id)
	if err != nil {
		return pipeline.State{}, err
	}
	return supervisor.State(), nil
}

// List returns the state of all pipelines ordered by id
func (r *Registry) List() []pipeline.State {
	r.mutex.RLock()
	states := lo.MapToSlice(r.pipelines, func(_ string, supervisor *Supervisor) pipeline.State {
		return supervisor.State()
	})
	r.mutex.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].PipelineID < states[j].PipelineID
	})
	return states
}

// Shutdown pauses all running pipelines, called when the worker process
// terminates. Buffered uncommitted events are redelivered on the next
// start.
func (r *Registry) Shutdown(
	ctx context.Context,
) error {

	r.mutex.RLock()
	supervisors := lo.Values(r.pipelines)
	r.mutex.RUnlock()

	var result error
	for _, supervisor := range supervisors {
		if supervisor.State().Status != pipeline.Running {
			continue
		}
		if err := supervisor.Pause(ctx); err != nil && !errors.Is(err, pipeline.ErrIllegalTransition) {
			result = err
		}
	}
	return result
}
