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
	"github.com/noctarius/lakestream/internal/retry"
	"github.com/noctarius/lakestream/internal/schemamapping"
	"github.com/noctarius/lakestream/internal/stats"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/internal/tablewriter"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/tableschema"
)

// tableWorker commits the batches of a single destination table, one at
// a time and in position order.
type tableWorker struct {
	supervisor *Supervisor
	logger     *logging.Logger
	table      string
	writer     *tablewriter.Writer
	retry      *retry.State
	reporter   *stats.Reporter
	wake       chan struct{}
	// pending is the assembled batch which failed and is retried, written
	// is set once its snapshot is committed. Both are guarded by the
	// supervisor's gate.
	pending *changes.TableBatch
	written bool
}

func newTableWorker(
	s *Supervisor, table string, writer *tablewriter.Writer,
) (*tableWorker, error) {

	logger, err := logging.NewPipelineLogger("TableWorker", s.config.Id)
	if err != nil {
		return nil, err
	}

	var reporter *stats.Reporter
	if s.deps.Stats != nil {
		reporter = s.deps.Stats.NewReporter("table",
			stats.Tag("pipeline", s.config.Id), stats.Tag("table", table),
		)
	}

	return &tableWorker{
		supervisor: s,
		logger:     logger.Tagged(table),
		table:      table,
		writer:     writer,
		retry:      retry.NewState(s.policy),
		reporter:   reporter,
		wake:       make(chan struct{}, 1),
	}, nil
}

func (w *tableWorker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *tableWorker) run(
	r *run,
) {

	defer r.group.Done()
	s := w.supervisor

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-w.wake:
		}

		if !w.retry.Ready() {
			continue
		}
		if err := w.drain(r); err != nil {
			if !s.recover(r, w.retry, "Table "+w.table, err) {
				return
			}
		}
	}
}

// drain commits batches until no trigger fires anymore
func (w *tableWorker) drain(
	r *run,
) error {

	for r.ctx.Err() == nil {
		processed, err := w.step(r.ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
		w.retry.Succeeded()
	}
	return nil
}

func (w *tableWorker) step(
	ctx context.Context,
) (bool, error) {

	s := w.supervisor
	s.gate.RLock()
	defer s.gate.RUnlock()

	batch := w.pending
	if batch == nil {
		if batch = s.assembler.Assemble(w.table); batch == nil {
			return false, nil
		}
		w.pending = batch
	}
	if err := w.process(ctx, batch); err != nil {
		return false, err
	}
	w.drop()
	return true, nil
}

func (w *tableWorker) drop() {
	w.pending = nil
	w.written = false
}

// process applies a single batch. A started commit is not interrupted by
// a stopping run, the catalog and the checkpoint stay consistent.
func (w *tableWorker) process(
	ctx context.Context, batch *changes.TableBatch,
) error {

	s := w.supervisor
	commitCtx := context.WithoutCancel(ctx)

	if batch.IsSchemaChange() {
		if err := w.applySchema(commitCtx, batch); err != nil {
			return err
		}
	} else if !w.written {
		schema, err := w.schema(commitCtx)
		if err != nil {
			return err
		}
		if schema == nil {
			return faults.Schemaf("no schema known for %s before the first row change", w.table)
		}

		result, err := w.writer.Commit(commitCtx, batch, schema)
		w.reporter.Add("commit.conflicts", result.Conflicts)
		if err != nil {
			w.reporter.Incr("commit.failures")
			return err
		}
		w.reporter.Incr("commit.count")
		w.reporter.Add("commit.rows", batch.Rows())
		w.reporter.Add("commit.files", len(result.Files))
		w.reporter.Add("commit.collapsed", batch.SourceEvents-batch.Rows())
		w.written = true
	}

	if err := s.deps.Checkpoints.Advance(commitCtx, s.config.Id, w.table, batch.MaxPosition); err != nil {
		return err
	}
	s.setCommitted(w.table, batch.MaxPosition)
	s.buffer.Release(w.table, batch.MaxPosition)
	return nil
}

func (w *tableWorker) schema(
	ctx context.Context,
) (*tableschema.TableSchema, error) {

	return w.supervisor.schemas.GetOrLoad(w.table, func() (*tableschema.TableSchema, error) {
		return w.writer.CurrentSchema(ctx)
	})
}

func (w *tableWorker) applySchema(
	ctx context.Context, batch *changes.TableBatch,
) error {

	s := w.supervisor
	ddl, ok := batch.SchemaEvent()
	if !ok {
		return faults.Schemaf("schema batch of %s does not hold exactly one definition", w.table)
	}

	current, err := w.schema(ctx)
	if err != nil {
		return err
	}
	next, evolutions, err := schemamapping.Reconcile(ddl, current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if err := w.writer.ApplySchema(ctx, next); err != nil {
		return err
	}
	if err := s.schemas.Publish(w.table, next); err != nil {
		return err
	}

	if current == nil {
		w.logger.Infof("Created %s with schema version %d", w.table, next.SchemaID)
	}
	for _, evolution := range evolutions {
		w.logger.Infof("Evolved %s to schema version %d: %s", w.table, next.SchemaID, evolution)
	}
	w.reporter.Incr("schema.changes")
	return nil
}
