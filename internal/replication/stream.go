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
	"github.com/go-errors/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	outputPlugin          = "pgoutput"
	standbyStatusInterval = time.Second * 10
)

type Options struct {
	PipelineId string
	Source     config.SourceConfig
	// Tables are the schema qualified source tables to replicate
	Tables []string
	// Accept limits decoding to mapped tables, nil accepts all tables
	Accept func(table string) bool
}

// Stream is an open logical replication stream. Next must only be called
// from a single goroutine, all other methods are safe for concurrent use.
type Stream struct {
	logger   *logging.Logger
	conn     *pgconn.PgConn
	decoder  *Decoder
	slotName string

	ready         []changes.ChangeEvent
	pendingCommit *changes.Position
	nextStatus    time.Time

	flushLSN   atomic.Uint64
	receiveLSN atomic.Uint64
	lastCommit atomic.Pointer[changes.Position]

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Open connects to the source database, verifies or prepares publication
// and replication slot, and starts replication at the resume position.
// With a zero resume position replication restarts at the slot's confirmed
// flush LSN or the server's current WAL position.
func Open(
	ctx context.Context, options Options, resume changes.Position,
) (*Stream, error) {

	logger, err := logging.NewPipelineLogger("ReplicationStream", options.PipelineId)
	if err != nil {
		return nil, err
	}

	connConfig, err := pgx.ParseConfig(options.Source.Connection)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if options.Source.Password != "" {
		connConfig.Password = options.Source.Password
	}

	sideChannel := newSideChannel(logger, connConfig)
	serverVersion, err := sideChannel.checkEnvironment(ctx)
	if err != nil {
		return nil, faults.Transient(err)
	}
	logger.Infof("Connected to PostgreSQL %s", serverVersion)

	if err := sideChannel.ensurePublication(ctx, options.Source.Publication, options.Tables); err != nil {
		return nil, faults.Transient(err)
	}

	replicationConfig := connConfig.Config.Copy()
	if replicationConfig.RuntimeParams == nil {
		replicationConfig.RuntimeParams = make(map[string]string)
	}
	replicationConfig.RuntimeParams["replication"] = "database"

	conn, err := pgconn.ConnectConfig(ctx, replicationConfig)
	if err != nil {
		return nil, faults.Transient(err)
	}

	stream := &Stream{
		logger:   logger,
		conn:     conn,
		decoder:  NewDecoder(logger, options.Accept),
		slotName: options.Source.ReplicationSlot.Name,
	}

	restartLSN, err := stream.prepare(ctx, sideChannel, options, resume)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	if err := pglogrepl.StartReplication(ctx, conn, stream.slotName, pglogrepl.LSN(restartLSN),
		pglogrepl.StartReplicationOptions{
			PluginArgs: []string{
				"proto_version '1'",
				"publication_names '" + options.Source.Publication + "'",
			},
		},
	); err != nil {
		_ = conn.Close(context.Background())
		return nil, faults.Transient(err)
	}

	// Never report LSN 0 to the server before the first acknowledgement
	stream.flushLSN.Store(uint64(restartLSN))
	stream.receiveLSN.Store(uint64(restartLSN))

	lastCommit := changes.Position{}
	if restartLSN > 0 {
		lastCommit = changes.TransactionEnd(restartLSN - 1)
	}
	if resume.After(lastCommit) {
		lastCommit = resume
	}
	stream.lastCommit.Store(&lastCommit)
	return stream, nil
}

func (s *Stream) prepare(
	ctx context.Context, sideChannel *sideChannel, options Options, resume changes.Position,
) (changes.LSN, error) {

	identification, err := pglogrepl.IdentifySystem(ctx, s.conn)
	if err != nil {
		return 0, faults.Transient(err)
	}
	s.logger.Infof("SystemId: %s, Timeline: %d, XLogPos: %s, DatabaseName: %s",
		identification.SystemID, identification.Timeline, identification.XLogPos, identification.DBName,
	)

	slot, found, err := sideChannel.readReplicationSlot(ctx, s.slotName)
	if err != nil {
		return 0, faults.Transient(err)
	}

	if !found {
		if options.Source.ReplicationSlot.Create == nil || !*options.Source.ReplicationSlot.Create {
			return 0, errors.Errorf("replication slot '%s' doesn't exist", s.slotName)
		}
		if _, err := pglogrepl.CreateReplicationSlot(ctx, s.conn, s.slotName, outputPlugin,
			pglogrepl.CreateReplicationSlotOptions{
				SnapshotAction: "NOEXPORT_SNAPSHOT",
			},
		); err != nil {
			return 0, faults.Transient(err)
		}
		s.logger.Infof("Created replication slot '%s'", s.slotName)
	} else {
		if slot.plugin != outputPlugin {
			return 0, errors.Errorf(
				"illegal plugin name found for existing replication slot '%s', expected %s but found %s",
				s.slotName, outputPlugin, slot.plugin,
			)
		}
		if slot.slotType != "logical" {
			return 0, errors.Errorf(
				"illegal slot type found for existing replication slot '%s', expected logical but found %s",
				s.slotName, slot.slotType,
			)
		}
	}

	switch {
	case !resume.IsZero():
		if resume.LSN < slot.confirmedFlushLSN {
			s.logger.Warnf(
				"Resume position %s is behind the confirmed flush LSN %s of slot '%s'",
				resume, slot.confirmedFlushLSN, s.slotName,
			)
		}
		s.logger.Infof("Restarting replication at checkpoint position: %s", resume)
		return resume.LSN, nil
	case slot.confirmedFlushLSN > 0:
		s.logger.Infof("Restarting replication at last confirmed flush LSN: %s", slot.confirmedFlushLSN)
		return slot.confirmedFlushLSN, nil
	default:
		s.logger.Infof("Starting replication at current LSN: %s", identification.XLogPos)
		return changes.LSN(identification.XLogPos), nil
	}
}

// Next returns the next change event in source order. It blocks until an
// event is available, the context is cancelled or the stream fails. After
// Close it returns io.EOF.
func (s *Stream) Next(
	ctx context.Context,
) (changes.ChangeEvent, error) {

	for {
		if len(s.ready) > 0 {
			event := s.ready[0]
			s.ready = s.ready[1:]
			return event, nil
		}

		// The caller handed over every event of the last transaction
		if s.pendingCommit != nil {
			s.lastCommit.Store(s.pendingCommit)
			s.pendingCommit = nil
		}

		if s.closed.Load() {
			return changes.ChangeEvent{}, io.EOF
		}

		if !time.Now().Before(s.nextStatus) {
			if err := s.sendStatusUpdate(ctx); err != nil {
				return changes.ChangeEvent{}, s.classify(ctx, err)
			}
		}

		receiveCtx, cancel := context.WithDeadline(ctx, s.nextStatus)
		raw, err := s.conn.ReceiveMessage(receiveCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && pgconn.Timeout(err) {
				continue
			}
			return changes.ChangeEvent{}, s.classify(ctx, err)
		}

		if err := s.handleMessage(raw); err != nil {
			return changes.ChangeEvent{}, err
		}
	}
}

func (s *Stream) handleMessage(
	raw pgproto3.BackendMessage,
) error {

	switch msg := raw.(type) {
	case *pgproto3.CopyData:
		if len(msg.Data) == 0 {
			return nil
		}
		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			keepalive, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return faults.Decode(err)
			}
			if keepalive.ReplyRequested {
				s.nextStatus = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return faults.Decode(err)
			}
			s.advanceReceived(changes.LSN(xld.WALStart) + changes.LSN(len(xld.WALData)))

			tx, err := s.decoder.DecodeWAL(xld.WALData)
			if err != nil {
				return err
			}
			if tx == nil {
				return nil
			}
			end := tx.LastPosition()
			if len(tx.Events) == 0 {
				s.lastCommit.Store(&end)
				return nil
			}
			s.ready = tx.Events
			s.pendingCommit = &end
		}

	case *pgproto3.ErrorResponse:
		return faults.Transient(pgconn.ErrorResponseToPgError(msg))

	case *pgproto3.CopyDone:
		s.closed.Store(true)
		return io.EOF
	}
	return nil
}

// Acknowledge reports a durable position to the server. Only WAL of
// transactions completely before the position is released by the slot.
func (s *Stream) Acknowledge(
	position changes.Position,
) {

	flushLSN := uint64(position.LSN)
	if position == changes.TransactionEnd(position.LSN) {
		flushLSN++
	}
	for {
		current := s.flushLSN.Load()
		if flushLSN <= current || s.flushLSN.CompareAndSwap(current, flushLSN) {
			return
		}
	}
}

// LastCommit returns the end position of the last transaction whose
// events were all handed out by Next.
func (s *Stream) LastCommit() changes.Position {
	return *s.lastCommit.Load()
}

// Received returns the highest WAL position received from the server
func (s *Stream) Received() changes.LSN {
	return changes.LSN(s.receiveLSN.Load())
}

// Close stops replication and closes the connection
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		if _, err := pglogrepl.SendStandbyCopyDone(ctx, s.conn); err != nil {
			if e, ok := err.(*pgconn.PgError); !ok || e.Code != pgerrcode.InternalError {
				s.logger.Debugf("Stopping replication failed: %s", err)
			}
		}
		if err := s.conn.Close(ctx); err != nil {
			s.closeErr = errors.Wrap(err, 0)
		}
		s.logger.Infof("Replication stream closed")
	})
	return s.closeErr
}

func (s *Stream) sendStatusUpdate(
	ctx context.Context,
) error {

	flushLSN := pglogrepl.LSN(s.flushLSN.Load())
	if err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn,
		pglogrepl.StandbyStatusUpdate{
			WALWritePosition: flushLSN,
			WALFlushPosition: flushLSN,
			WALApplyPosition: flushLSN,
		},
	); err != nil {
		return err
	}
	s.logger.Verbosef("Sent standby status update at %s", flushLSN)
	s.nextStatus = time.Now().Add(standbyStatusInterval)
	return nil
}

func (s *Stream) advanceReceived(
	lsn changes.LSN,
) {

	for {
		current := s.receiveLSN.Load()
		if uint64(lsn) <= current || s.receiveLSN.CompareAndSwap(current, uint64(lsn)) {
			return
		}
	}
}

func (s *Stream) classify(
	ctx context.Context, err error,
) error {

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.closed.Load() {
		return io.EOF
	}
	return faults.Transient(err)
}
