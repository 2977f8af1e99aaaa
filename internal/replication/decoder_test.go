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
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var commitTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDecoder(t *testing.T, accept func(string) bool) *Decoder {
	logger, err := logging.NewLogger("DecoderTest")
	require.NoError(t, err)
	return NewDecoder(logger, accept)
}

func ordersRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:      16384,
		Namespace:       "public",
		RelationName:    "orders",
		ReplicaIdentity: 'd',
		Columns: []*pglogrepl.RelationMessageColumn{
			{Flags: 1, Name: "id", DataType: pgtype.Int8OID, TypeModifier: -1},
			{Flags: 0, Name: "amount", DataType: pgtype.NumericOID, TypeModifier: (10<<16 | 2) + 4},
			{Flags: 0, Name: "note", DataType: pgtype.TextOID, TypeModifier: -1},
		},
	}
}

type unchangedToast struct{}

func textTuple(values ...any) *pglogrepl.TupleData {
	columns := make([]*pglogrepl.TupleDataColumn, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case nil:
			columns = append(columns, &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeNull})
		case unchangedToast:
			columns = append(columns, &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeToast})
		case string:
			columns = append(columns, &pglogrepl.TupleDataColumn{
				DataType: pglogrepl.TupleDataTypeText, Length: uint32(len(v)), Data: []byte(v),
			})
		}
	}
	return &pglogrepl.TupleData{ColumnNum: uint16(len(columns)), Columns: columns}
}

func decodeAll(t *testing.T, decoder *Decoder, messages ...pglogrepl.Message) []*Transaction {
	transactions := make([]*Transaction, 0)
	for _, message := range messages {
		tx, err := decoder.Decode(message)
		require.NoError(t, err)
		if tx != nil {
			transactions = append(transactions, tx)
		}
	}
	return transactions
}

func Test_Decoder_Transaction_Positions(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	transactions := decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x1000, CommitTime: commitTime, Xid: 42},
		ordersRelation(),
		&pglogrepl.InsertMessage{RelationID: 16384, Tuple: textTuple("1", "10.50", "first")},
		&pglogrepl.UpdateMessage{RelationID: 16384, NewTuple: textTuple("1", "11.00", "second")},
		&pglogrepl.DeleteMessage{RelationID: 16384, OldTupleType: 'K', OldTuple: textTuple("1", nil, nil)},
		&pglogrepl.CommitMessage{CommitLSN: 0x1000, TransactionEndLSN: 0x1010, CommitTime: commitTime},
	)
	require.Len(t, transactions, 1)

	tx := transactions[0]
	assert.Equal(t, changes.LSN(0x1000), tx.CommitLSN)
	assert.Equal(t, uint32(42), tx.XID)
	assert.Equal(t, changes.TransactionEnd(0x1000), tx.LastPosition())
	require.Len(t, tx.Events, 4)

	ddl := tx.Events[0]
	assert.True(t, ddl.IsDDL())
	assert.Equal(t, "public.orders", ddl.SourceTable)
	require.NotNil(t, ddl.Relation)
	assert.Equal(t, []string{"id"}, ddl.Relation.KeyColumns())
	assert.False(t, ddl.Relation.Columns[0].Nullable)
	assert.True(t, ddl.Relation.Columns[1].Nullable)

	insert := tx.Events[1]
	assert.Equal(t, changes.Insert, insert.Operation)
	assert.Equal(t, changes.Row{"id": int64(1), "amount": "10.50", "note": "first"}, insert.After)
	assert.Nil(t, insert.Before)

	update := tx.Events[2]
	assert.Equal(t, changes.Update, update.Operation)
	assert.Nil(t, update.Before)
	assert.Equal(t, "second", update.After["note"])

	del := tx.Events[3]
	assert.Equal(t, changes.Delete, del.Operation)
	assert.Equal(t, int64(1), del.Before["id"])
	assert.Nil(t, del.After)

	for i, event := range tx.Events {
		assert.Equal(t, changes.NewPosition(0x1000, uint32(i+1)), event.Position)
		assert.Equal(t, uint32(42), event.TransactionID)
		assert.Equal(t, commitTime, event.CommitTime)
		assert.Equal(t, []string{"id"}, event.KeyColumns)
	}
}

func Test_Decoder_Relation_Announced_Once_Per_Layout(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	first := decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x10, Xid: 1},
		ordersRelation(),
		&pglogrepl.InsertMessage{RelationID: 16384, Tuple: textTuple("1", "1.00", "a")},
		&pglogrepl.CommitMessage{CommitLSN: 0x10},
	)
	second := decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x20, Xid: 2},
		ordersRelation(),
		&pglogrepl.InsertMessage{RelationID: 16384, Tuple: textTuple("2", "1.00", "b")},
		&pglogrepl.CommitMessage{CommitLSN: 0x20},
	)

	altered := ordersRelation()
	altered.Columns = append(altered.Columns, &pglogrepl.RelationMessageColumn{
		Name: "status", DataType: pgtype.TextOID, TypeModifier: -1,
	})
	third := decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x30, Xid: 3},
		altered,
		&pglogrepl.InsertMessage{RelationID: 16384, Tuple: textTuple("3", "1.00", "c", "new")},
		&pglogrepl.CommitMessage{CommitLSN: 0x30},
	)

	require.Len(t, first[0].Events, 2)
	require.Len(t, second[0].Events, 1)
	require.Len(t, third[0].Events, 2)
	assert.True(t, third[0].Events[0].IsDDL())
	assert.Len(t, third[0].Events[0].Relation.Columns, 4)
	assert.Equal(t, "new", third[0].Events[1].After["status"])
}

func Test_Decoder_Toast_And_Null_Values(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	transactions := decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x10, Xid: 1},
		ordersRelation(),
		&pglogrepl.UpdateMessage{
			RelationID: 16384,
			NewTuple:   textTuple("1", nil, unchangedToast{}),
		},
		&pglogrepl.CommitMessage{CommitLSN: 0x10},
	)

	update := transactions[0].Events[1]
	assert.Contains(t, update.After, "amount")
	assert.Nil(t, update.After["amount"])
	assert.NotContains(t, update.After, "note")
	assert.Equal(t, []string{"note"}, update.Unchanged)
	assert.True(t, update.IsUnchanged("note"))
}

func Test_Decoder_Skips_Unmapped_Tables(t *testing.T) {
	decoder := newTestDecoder(t, func(table string) bool {
		return table == "public.customers"
	})

	transactions := decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x10, Xid: 1},
		ordersRelation(),
		&pglogrepl.InsertMessage{RelationID: 16384, Tuple: textTuple("1", "1.00", "a")},
		&pglogrepl.CommitMessage{CommitLSN: 0x10},
	)

	require.Len(t, transactions, 1)
	assert.Empty(t, transactions[0].Events)
	assert.Equal(t, changes.TransactionEnd(0x10), transactions[0].LastPosition())
}

func Test_Decoder_Unknown_Relation_Is_Decode_Error(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	_, err := decoder.Decode(&pglogrepl.BeginMessage{FinalLSN: 0x10, Xid: 1})
	require.NoError(t, err)

	_, err = decoder.Decode(&pglogrepl.InsertMessage{RelationID: 99, Tuple: textTuple("1")})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindDecode))
}

func Test_Decoder_Illegal_Value_Is_Decode_Error(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x10, Xid: 1},
		ordersRelation(),
	)
	_, err := decoder.Decode(&pglogrepl.InsertMessage{RelationID: 16384, Tuple: textTuple("not a number", "1.00", "a")})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindDecode))
}

func Test_Decoder_Commit_Without_Begin(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	_, err := decoder.Decode(&pglogrepl.CommitMessage{CommitLSN: 0x10})
	assert.True(t, faults.Is(err, faults.KindDecode))

	_, err = decoder.Decode(&pglogrepl.BeginMessage{FinalLSN: 0x20, Xid: 2})
	require.NoError(t, err)
	assert.True(t, decoder.InTransaction())
	decoder.Reset()
	assert.False(t, decoder.InTransaction())
}

func Test_Decoder_Ignores_Truncate(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	transactions := decodeAll(t, decoder,
		&pglogrepl.BeginMessage{FinalLSN: 0x10, Xid: 1},
		ordersRelation(),
		&pglogrepl.TruncateMessage{RelationNum: 1, RelationIDs: []uint32{16384}},
		&pglogrepl.CommitMessage{CommitLSN: 0x10},
	)
	require.Len(t, transactions[0].Events, 1)
	assert.True(t, transactions[0].Events[0].IsDDL())
}

func Test_Decode_Values(t *testing.T) {
	value, err := decodeValue(pgtype.Int2OID, pgtype.TextFormatCode, []byte("7"))
	require.NoError(t, err)
	assert.Equal(t, int16(7), value)

	value, err = decodeValue(pgtype.Int4OID, pgtype.TextFormatCode, []byte("7"))
	require.NoError(t, err)
	assert.Equal(t, int32(7), value)

	value, err = decodeValue(pgtype.OIDOID, pgtype.TextFormatCode, []byte("12"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), value)

	value, err = decodeValue(pgtype.BoolOID, pgtype.TextFormatCode, []byte("t"))
	require.NoError(t, err)
	assert.Equal(t, true, value)

	value, err = decodeValue(pgtype.JSONBOID, pgtype.TextFormatCode, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, value)

	value, err = decodeValue(pgtype.TimeOID, pgtype.TextFormatCode, []byte("01:02:03"))
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, value)

	value, err = decodeValue(pgtype.TimestamptzOID, pgtype.TextFormatCode, []byte("2024-03-01 12:00:00+00"))
	require.NoError(t, err)
	assert.True(t, commitTime.Equal(value.(time.Time)))

	value, err = decodeValue(999999, pgtype.TextFormatCode, []byte("custom"))
	require.NoError(t, err)
	assert.Equal(t, "custom", value)
}
