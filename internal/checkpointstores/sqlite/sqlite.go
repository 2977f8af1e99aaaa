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

package sqlite

import (
	"context"
	"database/sql"
	"github.com/go-errors/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/checkpoint"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"os"
	"path/filepath"
	"time"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS checkpoints (
    pipeline_id       TEXT    NOT NULL,
    destination_table TEXT    NOT NULL,
    lsn               INTEGER NOT NULL,
    seq               INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL,
    PRIMARY KEY (pipeline_id, destination_table)
)`

const upsertCheckpointStatement = `
INSERT INTO checkpoints (pipeline_id, destination_table, lsn, seq, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (pipeline_id, destination_table) DO UPDATE SET
    lsn = excluded.lsn,
    seq = excluded.seq,
    updated_at = excluded.updated_at`

const selectCheckpointQuery = `
SELECT lsn, seq, updated_at FROM checkpoints
WHERE pipeline_id = ? AND destination_table = ?`

const listCheckpointsQuery = `
SELECT destination_table, lsn, seq, updated_at FROM checkpoints
WHERE pipeline_id = ?
ORDER BY destination_table`

const deleteCheckpointsStatement = "DELETE FROM checkpoints WHERE pipeline_id = ?"

func init() {
	checkpoint.RegisterStore(spiconfig.SqliteCheckpointStore, newSqliteStore)
}

// sqliteStore persists checkpoints in a local SQLite database. LSNs are
// stored as signed integers, SQLite has no unsigned 64 bit type.
type sqliteStore struct {
	path   string
	logger *logging.Logger
	db     *sql.DB
}

func newSqliteStore(
	config *spiconfig.Config,
) (checkpoint.Store, error) {

	path := spiconfig.GetOrDefault(config, spiconfig.PropertySqliteCheckpointPath, "")
	if path == "" {
		return nil, errors.Errorf("SqliteCheckpointStore needs a path to be configured")
	}
	return NewSqliteStore(path)
}

func NewSqliteStore(
	path string,
) (checkpoint.Store, error) {

	logger, err := logging.NewLogger("SqliteCheckpointStore")
	if err != nil {
		return nil, err
	}
	return &sqliteStore{
		path:   path,
		logger: logger,
	}, nil
}

func (s *sqliteStore) Start() error {
	s.logger.Infof("Starting SqliteCheckpointStore at %s", s.path)
	if err := os.MkdirAll(filepath.Dir(s.path), 0777); err != nil {
		return errors.Wrap(err, 0)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, 0)
	}
	// A single writer connection keeps upserts serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableStatement); err != nil {
		_ = db.Close()
		return errors.Wrap(err, 0)
	}
	s.db = db
	return nil
}

func (s *sqliteStore) Stop() error {
	s.logger.Infof("Stopping SqliteCheckpointStore at %s", s.path)
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, 0)
	}
	s.db = nil
	return nil
}

func (s *sqliteStore) Save(
	ctx context.Context, cp checkpoint.Checkpoint,
) error {

	if _, err := s.db.ExecContext(ctx, upsertCheckpointStatement,
		cp.PipelineID, cp.DestinationTable,
		int64(cp.CommittedPosition.LSN), int64(cp.CommittedPosition.Seq), cp.UpdatedAt.UnixNano(),
	); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (s *sqliteStore) Load(
	ctx context.Context, pipelineId, table string,
) (checkpoint.Checkpoint, bool, error) {

	var lsn, seq, updatedAt int64
	if err := s.db.QueryRowContext(ctx, selectCheckpointQuery, pipelineId, table).Scan(
		&lsn, &seq, &updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpoint.Checkpoint{}, false, nil
		}
		return checkpoint.Checkpoint{}, false, errors.Wrap(err, 0)
	}
	return newCheckpoint(pipelineId, table, lsn, seq, updatedAt), true, nil
}

func (s *sqliteStore) List(
	ctx context.Context, pipelineId string,
) ([]checkpoint.Checkpoint, error) {

	rows, err := s.db.QueryContext(ctx, listCheckpointsQuery, pipelineId)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	defer rows.Close()

	checkpoints := make([]checkpoint.Checkpoint, 0)
	for rows.Next() {
		var table string
		var lsn, seq, updatedAt int64
		if err := rows.Scan(&table, &lsn, &seq, &updatedAt); err != nil {
			return nil, errors.Wrap(err, 0)
		}
		checkpoints = append(checkpoints, newCheckpoint(pipelineId, table, lsn, seq, updatedAt))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return checkpoints, nil
}

func (s *sqliteStore) Delete(
	ctx context.Context, pipelineId string,
) error {

	if _, err := s.db.ExecContext(ctx, deleteCheckpointsStatement, pipelineId); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func newCheckpoint(
	pipelineId, table string, lsn, seq, updatedAt int64,
) checkpoint.Checkpoint {

	return checkpoint.Checkpoint{
		PipelineID:        pipelineId,
		DestinationTable:  table,
		CommittedPosition: changes.NewPosition(changes.LSN(uint64(lsn)), uint32(seq)),
		UpdatedAt:         time.Unix(0, updatedAt).UTC(),
	}
}
