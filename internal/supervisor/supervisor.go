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

// Package supervisor runs replication pipelines. A pipeline is a reader
// stage feeding the per table buffer and one sequential worker per
// destination table committing batches, driven by a scheduler tick.
package supervisor

import (
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/batching"
	"github.com/noctarius/lakestream/internal/buffer"
	"github.com/noctarius/lakestream/internal/checkpointing"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/internal/replication"
	"github.com/noctarius/lakestream/internal/retry"
	"github.com/noctarius/lakestream/internal/schemamapping"
	"github.com/noctarius/lakestream/internal/stats"
	"github.com/noctarius/lakestream/internal/supporting"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/internal/tablewriter"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/changes"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/pipeline"
	"github.com/noctarius/lakestream/spi/statusfeed"
	"github.com/samber/lo"
	"sync"
	"time"
)

const publishTimeout = time.Second * 5

// Dependencies are the services shared by all pipelines of a worker
type Dependencies struct {
	Catalog     catalog.Catalog
	Store       objectstore.Store
	Checkpoints *checkpointing.Manager
	Sources     SourceFactory
	// Feed receives every state transition, nil disables publishing
	Feed statusfeed.Publisher
	// Stats is optional, without it no metrics are recorded
	Stats     *stats.Service
	Namespace string
	Clock     clock.Clock
}

// run holds the goroutines of one running period of a pipeline, from
// Start until Pause, Stop or a failure.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  sync.WaitGroup
	once   sync.Once
	done   chan struct{}

	mutex  sync.Mutex
	source Source
}

func newRun() *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// stop cancels all stages, the returned channel is closed once every
// stage returned. In-flight commits complete before that.
func (r *run) stop() <-chan struct{} {
	r.once.Do(func() {
		r.cancel()
		go func() {
			r.group.Wait()
			close(r.done)
		}()
	})
	return r.done
}

func (r *run) setSource(source Source) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.source = source
}

func (r *run) currentSource() Source {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.source
}

type Supervisor struct {
	logger    *logging.Logger
	config    spiconfig.PipelineConfig
	deps      Dependencies
	router    *replication.Router
	buffer    *buffer.Manager
	assembler *batching.Assembler
	schemas   *schemamapping.SchemaCache
	reporter  *stats.Reporter
	policy    retry.Policy
	initial   changes.Position
	sources   []string
	tables    []string
	workers   map[string]*tableWorker
	// readerRetry is only touched by the reader goroutine and while no
	// run is active.
	readerRetry *retry.State

	// control serializes operator transitions
	control sync.Mutex

	mutex     sync.Mutex
	state     pipeline.State
	run       *run
	committed map[string]changes.Position
	watermark changes.Position

	// gate is held shared while a worker processes a batch, the reader
	// holds it exclusively to reset the buffer after a stream failure.
	gate sync.RWMutex
}

func NewSupervisor(
	config spiconfig.PipelineConfig, deps Dependencies,
) (*Supervisor, error) {

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Catalog == nil || deps.Store == nil || deps.Checkpoints == nil {
		return nil, errors.Errorf("pipeline '%s' requires a catalog, an object store and checkpoints", config.Id)
	}
	if deps.Sources == nil {
		deps.Sources = ReplicationSource
	}
	if deps.Clock == nil {
		deps.Clock = clock.System
	}

	logger, err := logging.NewPipelineLogger("Supervisor", config.Id)
	if err != nil {
		return nil, err
	}

	router, err := replication.NewRouter(config.Tables)
	if err != nil {
		return nil, err
	}

	var initial changes.Position
	if config.Source.InitialPosition != "" {
		if initial, err = changes.ParsePosition(config.Source.InitialPosition); err != nil {
			return nil, err
		}
	}

	tableMaxBytes, err := spiconfig.ParseByteSize(config.Buffer.TableMaxBytes)
	if err != nil {
		return nil, err
	}
	buffers := buffer.NewManager(buffer.Options{
		TableCapacity: config.Buffer.TableCapacity,
		TableMaxBytes: tableMaxBytes,
		TotalCapacity: config.Buffer.TotalCapacity,
		Clock:         deps.Clock,
	})

	batchOptions, err := batching.OptionsFromConfig(config.Batch, deps.Clock)
	if err != nil {
		return nil, err
	}
	modes := lo.SliceToMap(config.Tables, func(table spiconfig.TableMappingConfig) (string, spiconfig.WriteMode) {
		return table.Destination, table.Mode
	})

	var reporter *stats.Reporter
	if deps.Stats != nil {
		reporter = deps.Stats.NewReporter("pipeline", stats.Tag("pipeline", config.Id))
	}

	policy := retry.PolicyFromConfig(config.Retry, deps.Clock)
	s := &Supervisor{
		logger:      logger,
		config:      config,
		deps:        deps,
		router:      router,
		buffer:      buffers,
		assembler:   batching.NewAssembler(buffers, batchOptions, modes),
		schemas:     schemamapping.NewSchemaCache(),
		reporter:    reporter,
		policy:      policy,
		initial:     initial,
		workers:     make(map[string]*tableWorker, len(config.Tables)),
		readerRetry: retry.NewState(policy),
		committed:   make(map[string]changes.Position),
		state: pipeline.State{
			PipelineID: config.Id,
			Status:     pipeline.Idle,
			UpdatedAt:  deps.Clock.Now(),
		},
	}

	for _, table := range config.Tables {
		writer, err := tablewriter.NewWriter(deps.Catalog, deps.Store, table.Destination, tablewriter.Options{
			PipelineId:        config.Id,
			Namespace:         deps.Namespace,
			Mode:              table.Mode,
			Buckets:           table.Buckets,
			MaxFileRows:       config.Batch.MaxFileRows,
			CommitMaxAttempts: config.Commit.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		worker, err := newTableWorker(s, table.Destination, writer)
		if err != nil {
			return nil, err
		}
		s.workers[table.Destination] = worker
		s.sources = append(s.sources, table.Source)
	}
	s.tables = supporting.SortedKeys(s.workers)
	return s, nil
}

func (s *Supervisor) Id() string {
	return s.config.Id
}

func (s *Supervisor) Config() spiconfig.PipelineConfig {
	return s.config
}

// State returns a copy of the externally visible pipeline state
func (s *Supervisor) State() pipeline.State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state.Clone()
}

// Start moves an idle or paused pipeline to running. It opens the change
// stream at the resume position derived from the checkpoints. A fatal
// error while opening fails the pipeline, a transient one is retried by
// the reader stage.
func (s *Supervisor) Start(
	ctx context.Context,
) error {

	s.control.Lock()
	defer s.control.Unlock()

	if err := s.checkTransition(pipeline.Running); err != nil {
		return err
	}

	s.logger.Infof("Starting pipeline")
	r := newRun()
	source, err := s.open(ctx)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mutex.Lock()
	s.run = r
	s.state.Status = pipeline.Running
	s.state.LastError = ""
	s.state.UpdatedAt = s.deps.Clock.Now()
	state := s.state.Clone()
	s.mutex.Unlock()
	s.publish(state)

	if err != nil && faults.IsFatal(err) {
		s.fail(r, err)
		return err
	}

	s.readerRetry.Succeeded()
	for _, table := range s.tables {
		worker := s.workers[table]
		r.group.Add(1)
		go worker.run(r)
	}
	r.group.Add(2)
	go s.readLoop(r, source, err)
	go s.tickLoop(r)
	return nil
}

// Pause stops reading at the next suspension point and waits for
// in-flight commits. Buffered events and checkpoints are kept, on resume
// the stream restarts at the checkpoint and redelivered events are
// discarded by position.
func (s *Supervisor) Pause(
	ctx context.Context,
) error {

	s.control.Lock()
	defer s.control.Unlock()

	if err := s.checkTransition(pipeline.Paused); err != nil {
		return err
	}
	if err := s.teardown(ctx); err != nil {
		return err
	}
	for _, table := range s.tables {
		s.buffer.Rewind(table)
	}
	s.dropPendingBatches()
	return s.transition(pipeline.Paused)
}

// Stop ends a running or paused pipeline in idle, dropping all buffered
// events. Checkpoints are kept.
func (s *Supervisor) Stop(
	ctx context.Context,
) error {

	s.control.Lock()
	defer s.control.Unlock()

	if err := s.checkTransition(pipeline.Idle); err != nil {
		return err
	}
	if err := s.teardown(ctx); err != nil {
		return err
	}
	s.clear()
	return s.transition(pipeline.Idle)
}

// Reset moves a failed pipeline back to idle after the operator fixed
// the cause of the failure.
func (s *Supervisor) Reset(
	ctx context.Context,
) error {

	s.control.Lock()
	defer s.control.Unlock()

	s.mutex.Lock()
	status := s.state.Status
	s.mutex.Unlock()
	if status != pipeline.Failed {
		return errors.WrapPrefix(pipeline.ErrIllegalTransition,
			fmt.Sprintf("pipeline %s: reset requires status %s, found %s", s.config.Id, pipeline.Failed, status), 0,
		)
	}
	if err := s.teardown(ctx); err != nil {
		return err
	}
	s.clear()
	for _, table := range s.tables {
		s.schemas.Invalidate(table)
	}
	return s.transition(pipeline.Idle)
}

func (s *Supervisor) checkTransition(
	to pipeline.Status,
) error {

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !pipeline.CanTransition(s.state.Status, to) {
		return errors.WrapPrefix(pipeline.ErrIllegalTransition,
			fmt.Sprintf("pipeline %s: %s -> %s", s.config.Id, s.state.Status, to), 0,
		)
	}
	return nil
}

func (s *Supervisor) transition(
	to pipeline.Status,
) error {

	s.mutex.Lock()
	if !pipeline.CanTransition(s.state.Status, to) {
		from := s.state.Status
		s.mutex.Unlock()
		return errors.WrapPrefix(pipeline.ErrIllegalTransition,
			fmt.Sprintf("pipeline %s: %s -> %s", s.config.Id, from, to), 0,
		)
	}
	s.state.Status = to
	if to == pipeline.Idle {
		s.state.LastError = ""
	}
	s.state.UpdatedAt = s.deps.Clock.Now()
	state := s.state.Clone()
	s.mutex.Unlock()

	s.logger.Infof("Pipeline is %s", to)
	s.publish(state)
	return nil
}

// teardown stops the active run and waits for its stages to return
func (s *Supervisor) teardown(
	ctx context.Context,
) error {

	s.mutex.Lock()
	r := s.run
	s.run = nil
	s.mutex.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-r.stop():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clear drops all volatile state, the next start reloads it from the
// checkpoints.
func (s *Supervisor) clear() {
	s.buffer.Reset()
	s.dropPendingBatches()
	s.readerRetry.Succeeded()
	for _, worker := range s.workers {
		worker.retry.Succeeded()
	}

	s.mutex.Lock()
	s.committed = make(map[string]changes.Position)
	s.watermark = changes.Position{}
	s.mutex.Unlock()
}

func (s *Supervisor) dropPendingBatches() {
	s.gate.Lock()
	defer s.gate.Unlock()
	for _, worker := range s.workers {
		worker.drop()
	}
}

// fail moves the pipeline to failed and stops the run. Failures of runs
// which were stopped in the meantime are ignored.
func (s *Supervisor) fail(
	r *run, err error,
) {

	s.mutex.Lock()
	if s.run != r || s.state.Status != pipeline.Running {
		s.mutex.Unlock()
		return
	}
	s.state.Status = pipeline.Failed
	s.state.LastError = err.Error()
	s.state.UpdatedAt = s.deps.Clock.Now()
	state := s.state.Clone()
	s.mutex.Unlock()

	s.logger.Errorf("Pipeline failed: %s", err)
	r.stop()
	s.publish(state)
}

// recover is the single decision point for stage errors. Transient
// errors are retried with backoff while the attempt budget lasts,
// everything else fails the pipeline. Returns true if the stage should
// retry.
func (s *Supervisor) recover(
	r *run, state *retry.State, stage string, err error,
) bool {

	if r.ctx.Err() != nil {
		return false
	}
	if faults.IsFatal(err) {
		s.fail(r, err)
		return false
	}
	if !state.Failed(err) {
		s.logger.Errorf("%s failed %d times, giving up", stage, state.Attempt())
		s.fail(r, err)
		return false
	}

	s.logger.Warnf("%s failed (attempt %d), retrying at %s: %s",
		stage, state.Attempt(), state.NextAttempt().Format(time.RFC3339Nano), err,
	)
	s.mutex.Lock()
	s.state.LastError = err.Error()
	s.mutex.Unlock()
	return true
}

// await blocks until the pending retry of the state is due
func (s *Supervisor) await(
	r *run, state *retry.State,
) bool {

	if state.Ready() {
		return r.ctx.Err() == nil
	}

	ticker := s.deps.Clock.NewTicker(s.config.Tick)
	defer ticker.Stop()
	for !state.Ready() {
		select {
		case <-r.ctx.Done():
			return false
		case <-ticker.C():
		}
	}
	return r.ctx.Err() == nil
}

func (s *Supervisor) publish(
	state pipeline.State,
) {

	s.reporter.Set("status", statusCode(state.Status))
	if s.deps.Feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.deps.Feed.Publish(ctx, state); err != nil {
		s.logger.Warnf("Failed to publish pipeline state: %s", err)
	}
}

func (s *Supervisor) setCommitted(
	table string, position changes.Position,
) {

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.committed[table] = position
}

// Committed returns the committed position of the destination table
func (s *Supervisor) Committed(
	table string,
) (changes.Position, bool) {

	s.mutex.Lock()
	defer s.mutex.Unlock()
	position, found := s.committed[table]
	return position, found
}

func statusCode(
	status pipeline.Status,
) int {

	switch status {
	case pipeline.Running:
		return 1
	case pipeline.Paused:
		return 2
	case pipeline.Failed:
		return 3
	}
	return 0
}
