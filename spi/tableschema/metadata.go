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

package tableschema

import (
	"strings"
)

// Change metadata columns are appended to every destination table and
// describe which source change produced a row.
const (
	MetadataPrefix      = "_cdc_"
	OperationColumn     = "_cdc_op"
	PositionColumn      = "_cdc_position"
	LSNColumn           = "_cdc_lsn"
	TransactionIDColumn = "_cdc_txid"
	CommitTimeColumn    = "_cdc_commit_ts"
)

var metadataColumns = []Column{
	{Name: OperationColumn, Type: Primitive(String), Doc: "change operation"},
	{Name: PositionColumn, Type: Primitive(String), Doc: "source position of the change"},
	{Name: LSNColumn, Type: Primitive(Long), Doc: "commit lsn of the source transaction"},
	{Name: TransactionIDColumn, Type: Primitive(Long), Nullable: true, Doc: "source transaction id"},
	{Name: CommitTimeColumn, Type: Primitive(TimestampTz), Nullable: true, Doc: "source commit timestamp"},
}

// MetadataColumns returns the change metadata columns with ids starting
// at firstID.
func MetadataColumns(
	firstID int,
) []Column {

	columns := make([]Column, 0, len(metadataColumns))
	for i, column := range metadataColumns {
		column.ID = firstID + i
		columns = append(columns, column)
	}
	return columns
}

func IsMetadataColumn(
	name string,
) bool {

	return strings.HasPrefix(name, MetadataPrefix)
}
