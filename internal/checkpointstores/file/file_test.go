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

package file

import (
	"context"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func Test_File_Store_Survives_Restart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoints.bin")
	ctx := context.Background()
	updatedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Start())

	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{
		PipelineID: "p1", DestinationTable: "orders",
		CommittedPosition: changes.NewPosition(0x16B374D848, 12), UpdatedAt: updatedAt,
	}))
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{
		PipelineID: "p1", DestinationTable: checkpoint.WatermarkTable,
		CommittedPosition: changes.TransactionEnd(0x16B374D848), UpdatedAt: updatedAt,
	}))
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{
		PipelineID: "p2", DestinationTable: "orders",
		CommittedPosition: changes.NewPosition(1, 1), UpdatedAt: updatedAt,
	}))

	// Saves are durable without a clean stop
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Start())

	cp, found, err := reopened.Load(ctx, "p1", "orders")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, changes.NewPosition(0x16B374D848, 12), cp.CommittedPosition)
	assert.True(t, updatedAt.Equal(cp.UpdatedAt))

	checkpoints, err := reopened.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, checkpoint.WatermarkTable, checkpoints[0].DestinationTable)
	assert.Equal(t, "orders", checkpoints[1].DestinationTable)

	require.NoError(t, reopened.Delete(ctx, "p1"))
	checkpoints, err = reopened.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	_, found, err = reopened.Load(ctx, "p2", "orders")
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, reopened.Stop())
}

func Test_File_Store_Rejects_Corrupted_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.bin")
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0, 3, 0, 0}, 0666))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Error(t, store.Start())
}

func Test_File_Store_Path_Is_Directory(t *testing.T) {
	_, err := NewFileStore(t.TempDir())
	assert.Error(t, err)
}
