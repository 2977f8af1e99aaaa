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

package checkpoint

import (
	"context"
	"github.com/noctarius/lakestream/spi/changes"
	"time"
)

// WatermarkTable is the reserved table key holding the pipeline wide
// source watermark. Every source change at or below the watermark has
// either been committed or was filtered out.
const WatermarkTable = "*"

// Checkpoint is the durable record of the highest source position
// committed to a destination table by a pipeline.
type Checkpoint struct {
	PipelineID        string
	DestinationTable  string
	CommittedPosition changes.Position
	UpdatedAt         time.Time
}

// Store persists checkpoints. Save must be durable when it returns
// without error. Stores do not enforce monotonicity, the checkpoint
// manager does.
type Store interface {
	Start() error
	Stop() error
	Save(ctx context.Context, checkpoint Checkpoint) error
	Load(ctx context.Context, pipelineID, destinationTable string) (Checkpoint, bool, error)
	List(ctx context.Context, pipelineID string) ([]Checkpoint, error)
	Delete(ctx context.Context, pipelineID string) error
}
