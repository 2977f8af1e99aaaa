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

package replication

import (
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/version"
	"github.com/samber/lo"
	"strings"
	"time"
)

const sideChannelTimeout = time.Second * 20

const readReplicationSlotQuery = `
SELECT plugin, slot_type, confirmed_flush_lsn::text
FROM pg_catalog.pg_replication_slots prs
WHERE slot_name = $1`

const checkExistingPublicationQuery = "SELECT true FROM pg_publication WHERE pubname = $1"

const publishedTablesQuery = `
SELECT schemaname || '.' || tablename
FROM pg_catalog.pg_publication_tables
WHERE pubname = $1`

const createPublicationQuery = "CREATE PUBLICATION %s FOR TABLE %s"

const addTableToPublicationQuery = "ALTER PUBLICATION %s ADD TABLE %s"

type replicationSlot struct {
	plugin            string
	slotType          string
	confirmedFlushLSN changes.LSN
}

// sideChannel runs catalog queries over a regular (non-replication)
// connection of the source database.
type sideChannel struct {
	logger     *logging.Logger
	connConfig *pgx.ConnConfig
}

func newSideChannel(
	logger *logging.Logger, connConfig *pgx.ConnConfig,
) *sideChannel {

	return &sideChannel{
		logger:     logger,
		connConfig: connConfig,
	}
}

// checkEnvironment verifies the server supports logical replication
func (sc *sideChannel) checkEnvironment(
	ctx context.Context,
) (version.PostgresVersion, error) {

	var serverVersion version.PostgresVersion
	err := sc.newSession(ctx, func(conn *pgx.Conn) error {
		var walLevel string
		if err := conn.QueryRow(ctx, "SHOW WAL_LEVEL").Scan(&walLevel); err != nil {
			return errors.Wrap(err, 0)
		}
		if strings.ToLower(walLevel) != "logical" {
			return errors.Errorf("wal_level must be 'logical' but is '%s'", walLevel)
		}

		var rawVersion string
		if err := conn.QueryRow(ctx, "SHOW SERVER_VERSION").Scan(&rawVersion); err != nil {
			return errors.Wrap(err, 0)
		}
		v, err := version.ParsePostgresVersion(rawVersion)
		if err != nil {
			return err
		}
		if v.Compare(version.PG_MIN_VERSION) < 0 {
			return errors.Errorf("PostgreSQL %s is not supported, minimum version is %s", v, version.PG_MIN_VERSION)
		}
		serverVersion = v
		return nil
	})
	return serverVersion, err
}

// ensurePublication makes sure the publication exists and publishes all
// given tables. Tables are added to an existing publication if missing.
func (sc *sideChannel) ensurePublication(
	ctx context.Context, publication string, tables []string,
) error {

	return sc.newSession(ctx, func(conn *pgx.Conn) error {
		found := false
		if err := conn.QueryRow(ctx, checkExistingPublicationQuery, publication).Scan(&found); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return errors.Wrap(err, 0)
			}
		}

		quotedTables := lo.Map(tables, func(table string, _ int) string {
			return quoteTableName(table)
		})

		if !found {
			sc.logger.Infof("Creating publication '%s' for tables %s", publication, strings.Join(tables, ", "))
			query := fmt.Sprintf(createPublicationQuery, pgx.Identifier{publication}.Sanitize(), strings.Join(quotedTables, ", "))
			if _, err := conn.Exec(ctx, query); err != nil {
				return errors.Wrap(err, 0)
			}
			return nil
		}

		rows, err := conn.Query(ctx, publishedTablesQuery, publication)
		if err != nil {
			return errors.Wrap(err, 0)
		}
		published, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return errors.Wrap(err, 0)
		}

		for i, table := range tables {
			if lo.Contains(published, table) {
				continue
			}
			sc.logger.Infof("Adding table %s to publication '%s'", table, publication)
			query := fmt.Sprintf(addTableToPublicationQuery, pgx.Identifier{publication}.Sanitize(), quotedTables[i])
			if _, err := conn.Exec(ctx, query); err != nil {
				return errors.Wrap(err, 0)
			}
		}
		return nil
	})
}

func (sc *sideChannel) readReplicationSlot(
	ctx context.Context, slotName string,
) (slot replicationSlot, found bool, err error) {

	err = sc.newSession(ctx, func(conn *pgx.Conn) error {
		var confirmedFlushLSN *string
		if err := conn.QueryRow(ctx, readReplicationSlotQuery, slotName).Scan(
			&slot.plugin, &slot.slotType, &confirmedFlushLSN,
		); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return errors.Wrap(err, 0)
		}

		found = true
		if confirmedFlushLSN != nil {
			lsn, err := pglogrepl.ParseLSN(*confirmedFlushLSN)
			if err != nil {
				return errors.Wrap(err, 0)
			}
			slot.confirmedFlushLSN = changes.LSN(lsn)
		}
		return nil
	})
	return slot, found, err
}

func (sc *sideChannel) newSession(
	ctx context.Context, fn func(conn *pgx.Conn) error,
) error {

	ctx, cancel := context.WithTimeout(ctx, sideChannelTimeout)
	defer cancel()

	conn, err := pgx.ConnectConfig(ctx, sc.connConfig)
	if err != nil {
		return errors.Errorf("unable to connect to database: %s", err)
	}
	defer conn.Close(context.Background())

	return fn(conn)
}

func quoteTableName(
	table string,
) string {

	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}
