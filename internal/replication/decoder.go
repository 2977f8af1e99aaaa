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
	"github.com/jackc/pglogrepl"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/samber/lo"
	"time"
)

const keyColumnFlag = 1

// Transaction is a committed source transaction. Events carry their final
// positions, the commit LSN plus a sequence number in source order.
type Transaction struct {
	CommitLSN  changes.LSN
	XID        uint32
	CommitTime time.Time
	Events     []changes.ChangeEvent
}

// LastPosition returns the position that marks the transaction as fully
// seen, independent of how many of its events were filtered out.
func (t *Transaction) LastPosition() changes.Position {
	return changes.TransactionEnd(t.CommitLSN)
}

// Decoder turns pgoutput messages into change events. It does not perform
// any I/O and is not safe for concurrent use.
type Decoder struct {
	logger    *logging.Logger
	accept    func(table string) bool
	relations map[uint32]*changes.RelationDefinition
	announced map[string]*changes.RelationDefinition
	current   *transactionBuffer
	// DDL events announced outside a transaction are attached to the next one
	orphans []changes.ChangeEvent
}

type transactionBuffer struct {
	xid        uint32
	finalLSN   changes.LSN
	commitTime time.Time
	events     []changes.ChangeEvent
}

// NewDecoder creates a decoder surfacing only tables accepted by the given
// predicate. A nil predicate accepts every table.
func NewDecoder(
	logger *logging.Logger, accept func(table string) bool,
) *Decoder {

	if accept == nil {
		accept = func(string) bool { return true }
	}
	return &Decoder{
		logger:    logger,
		accept:    accept,
		relations: make(map[uint32]*changes.RelationDefinition),
		announced: make(map[string]*changes.RelationDefinition),
	}
}

// DecodeWAL parses the WAL payload of a XLogData message and decodes it
func (d *Decoder) DecodeWAL(
	data []byte,
) (*Transaction, error) {

	message, err := pglogrepl.Parse(data)
	if err != nil {
		return nil, faults.Decode(err)
	}
	return d.Decode(message)
}

// Decode consumes one logical replication message. A transaction is
// returned once its commit message was seen.
func (d *Decoder) Decode(
	message pglogrepl.Message,
) (*Transaction, error) {

	switch msg := message.(type) {
	case *pglogrepl.BeginMessage:
		return nil, d.onBegin(msg)
	case *pglogrepl.CommitMessage:
		return d.onCommit(msg)
	case *pglogrepl.RelationMessage:
		d.onRelation(msg)
		return nil, nil
	case *pglogrepl.InsertMessage:
		return nil, d.onRow(msg.RelationID, changes.Insert, nil, msg.Tuple)
	case *pglogrepl.UpdateMessage:
		return nil, d.onRow(msg.RelationID, changes.Update, msg.OldTuple, msg.NewTuple)
	case *pglogrepl.DeleteMessage:
		return nil, d.onRow(msg.RelationID, changes.Delete, msg.OldTuple, nil)
	case *pglogrepl.TruncateMessage:
		d.logger.Debugf("Ignoring truncate of %d relations", msg.RelationNum)
	case *pglogrepl.TypeMessage:
		d.logger.Debugf("Ignoring type message for %s.%s", msg.Namespace, msg.Name)
	case *pglogrepl.OriginMessage:
		d.logger.Debugf("Ignoring origin message %s", msg.Name)
	default:
		d.logger.Debugf("Ignoring message of type %s", message.Type())
	}
	return nil, nil
}

// InTransaction returns true while a begin message was seen without its
// matching commit.
func (d *Decoder) InTransaction() bool {
	return d.current != nil
}

// Reset drops a partially decoded transaction but keeps the known
// relations, used after the replication connection was re-established.
func (d *Decoder) Reset() {
	d.current = nil
}

func (d *Decoder) onBegin(
	msg *pglogrepl.BeginMessage,
) error {

	if d.current != nil {
		return faults.Decodef("begin of transaction %d while transaction %d is open", msg.Xid, d.current.xid)
	}
	d.current = &transactionBuffer{
		xid:        msg.Xid,
		finalLSN:   changes.LSN(msg.FinalLSN),
		commitTime: msg.CommitTime,
		events:     d.orphans,
	}
	d.orphans = nil
	return nil
}

func (d *Decoder) onCommit(
	msg *pglogrepl.CommitMessage,
) (*Transaction, error) {

	if d.current == nil {
		return nil, faults.Decodef("commit at %s without transaction", msg.CommitLSN)
	}
	tx := d.current
	d.current = nil

	commitLSN := changes.LSN(msg.CommitLSN)
	if tx.finalLSN != 0 && tx.finalLSN != commitLSN {
		return nil, faults.Decodef(
			"commit LSN %s of transaction %d doesn't match announced LSN %s", commitLSN, tx.xid, tx.finalLSN,
		)
	}

	for i := range tx.events {
		tx.events[i].Position = changes.NewPosition(commitLSN, uint32(i+1))
		tx.events[i].TransactionID = tx.xid
		tx.events[i].CommitTime = msg.CommitTime
	}
	return &Transaction{
		CommitLSN:  commitLSN,
		XID:        tx.xid,
		CommitTime: msg.CommitTime,
		Events:     tx.events,
	}, nil
}

func (d *Decoder) onRelation(
	msg *pglogrepl.RelationMessage,
) {

	relation := &changes.RelationDefinition{
		RelationID:      msg.RelationID,
		Namespace:       msg.Namespace,
		Name:            msg.RelationName,
		ReplicaIdentity: msg.ReplicaIdentity,
		Columns: lo.Map(msg.Columns, func(column *pglogrepl.RelationMessageColumn, _ int) changes.RelationColumn {
			primaryKey := column.Flags&keyColumnFlag != 0
			return changes.RelationColumn{
				Name:         column.Name,
				TypeOID:      column.DataType,
				TypeModifier: column.TypeModifier,
				PrimaryKey:   primaryKey,
				// pgoutput doesn't send nullability, key columns are never null
				Nullable: !primaryKey,
			}
		}),
	}
	d.relations[msg.RelationID] = relation

	table := relation.QualifiedName()
	if !d.accept(table) {
		return
	}
	if previous, ok := d.announced[table]; ok && previous.SameLayout(relation) {
		return
	}
	d.announced[table] = relation

	event := changes.ChangeEvent{
		SourceTable: table,
		Operation:   changes.DDL,
		KeyColumns:  relation.KeyColumns(),
		Relation:    relation,
	}
	if d.current == nil {
		d.orphans = append(d.orphans, event)
		return
	}
	d.current.events = append(d.current.events, event)
}

func (d *Decoder) onRow(
	relationId uint32, operation changes.Operation, before, after *pglogrepl.TupleData,
) error {

	if d.current == nil {
		return faults.Decodef("%s for relation %d outside of a transaction", operation, relationId)
	}

	relation, ok := d.relations[relationId]
	if !ok {
		return faults.Decodef("%s for unknown relation %d", operation, relationId)
	}

	table := relation.QualifiedName()
	if !d.accept(table) {
		return nil
	}

	beforeRow, _, err := decodeTuple(relation, before)
	if err != nil {
		return err
	}
	afterRow, unchanged, err := decodeTuple(relation, after)
	if err != nil {
		return err
	}

	d.current.events = append(d.current.events, changes.ChangeEvent{
		SourceTable: table,
		Operation:   operation,
		Before:      beforeRow,
		After:       afterRow,
		KeyColumns:  relation.KeyColumns(),
		Unchanged:   unchanged,
	})
	return nil
}
