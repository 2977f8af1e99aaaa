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

package changes

import (
	"encoding/binary"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/jackc/pgio"
	"github.com/jackc/pglogrepl"
	"strconv"
	"strings"
)

const positionBinarySize = 12

// LSN is a PostgreSQL write-ahead log location
type LSN uint64

func (l LSN) String() string {
	return pglogrepl.LSN(l).String()
}

func ParseLSN(value string) (LSN, error) {
	lsn, err := pglogrepl.ParseLSN(value)
	if err != nil {
		return 0, errors.Wrap(err, 0)
	}
	return LSN(lsn), nil
}

// Position is a totally ordered replication position. LSN is the commit
// location of the source transaction, Seq the ordinal of the change
// inside of it. Positions compare by LSN first and by Seq second.
type Position struct {
	LSN LSN
	Seq uint32
}

func NewPosition(lsn LSN, seq uint32) Position {
	return Position{LSN: lsn, Seq: seq}
}

// TransactionEnd returns the highest position inside the transaction
// committed at lsn.
func TransactionEnd(lsn LSN) Position {
	return Position{LSN: lsn, Seq: ^uint32(0)}
}

func (p Position) Compare(other Position) int {
	switch {
	case p.LSN < other.LSN:
		return -1
	case p.LSN > other.LSN:
		return 1
	case p.Seq < other.Seq:
		return -1
	case p.Seq > other.Seq:
		return 1
	}
	return 0
}

func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

func (p Position) Equal(other Position) bool {
	return p == other
}

// Previous returns the highest position ordered before p. The position
// before the first change of a transaction is the end of the previous
// LSN.
func (p Position) Previous() Position {
	switch {
	case p.Seq > 0:
		return Position{LSN: p.LSN, Seq: p.Seq - 1}
	case p.LSN > 0:
		return TransactionEnd(p.LSN - 1)
	}
	return Position{}
}

func (p Position) IsZero() bool {
	return p.LSN == 0 && p.Seq == 0
}

func (p Position) String() string {
	return fmt.Sprintf("%s#%d", p.LSN, p.Seq)
}

func (p Position) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, positionBinarySize)
	data = pgio.AppendUint64(data, uint64(p.LSN))
	data = pgio.AppendUint32(data, p.Seq)
	return data, nil
}

func (p *Position) UnmarshalBinary(data []byte) error {
	if len(data) != positionBinarySize {
		return errors.Errorf("illegal position length, expected %d bytes, got %d", positionBinarySize, len(data))
	}
	p.LSN = LSN(binary.BigEndian.Uint64(data[:8]))
	p.Seq = binary.BigEndian.Uint32(data[8:])
	return nil
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Position) UnmarshalText(text []byte) error {
	position, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*p = position
	return nil
}

// ParsePosition parses the string form of a position. A plain LSN without
// sequence number is accepted and refers to the first change at that LSN.
func ParsePosition(value string) (Position, error) {
	lsnPart, seqPart, hasSeq := strings.Cut(strings.TrimSpace(value), "#")
	lsn, err := ParseLSN(lsnPart)
	if err != nil {
		return Position{}, errors.Errorf("illegal position '%s' => %s", value, err.Error())
	}
	if !hasSeq {
		return Position{LSN: lsn}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 32)
	if err != nil {
		return Position{}, errors.Errorf("illegal position sequence in '%s' => %s", value, err.Error())
	}
	return Position{LSN: lsn, Seq: uint32(seq)}, nil
}

func MaxPosition(a, b Position) Position {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

func MinPosition(a, b Position) Position {
	if a.Compare(b) <= 0 {
		return a
	}
	return b
}
