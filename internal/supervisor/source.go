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
	"github.com/noctarius/lakestream/internal/replication"
	"github.com/noctarius/lakestream/spi/changes"
)

// Source is an open, ordered change stream of the source database
type Source interface {
	// Next blocks until the next change event is available
	Next(ctx context.Context) (changes.ChangeEvent, error)
	// Acknowledge releases source log up to the given durable position
	Acknowledge(position changes.Position)
	// LastCommit is the end of the last transaction completely handed out
	LastCommit() changes.Position
	// Received is the highest log position received from the source
	Received() changes.LSN
	Close() error
}

// SourceFactory opens a change stream restarting at the resume position
type SourceFactory func(
	ctx context.Context, options replication.Options, resume changes.Position,
) (Source, error)

// ReplicationSource opens a PostgreSQL logical replication stream
func ReplicationSource(
	ctx context.Context, options replication.Options, resume changes.Position,
) (Source, error) {

	stream, err := replication.Open(ctx, options, resume)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
