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

package schemamapping

import (
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/containers"
	"github.com/noctarius/lakestream/spi/tableschema"
)

// SchemaCache holds the current published schema of each destination
// table of a pipeline.
type SchemaCache struct {
	schemas *containers.CasCache[string, *tableschema.TableSchema]
}

func NewSchemaCache() *SchemaCache {
	return &SchemaCache{
		schemas: containers.NewCasCache[string, *tableschema.TableSchema](),
	}
}

func (c *SchemaCache) Get(
	table string,
) (*tableschema.TableSchema, bool) {

	return c.schemas.Get(table)
}

// GetOrLoad returns the cached schema or loads it with the loader. A nil
// schema returned by the loader, an unknown table, is not cached.
func (c *SchemaCache) GetOrLoad(
	table string, loader func() (*tableschema.TableSchema, error),
) (*tableschema.TableSchema, error) {

	if schema, present := c.schemas.Get(table); present {
		return schema, nil
	}
	schema, err := loader()
	if err != nil || schema == nil {
		return nil, err
	}
	return c.schemas.GetOrCompute(table, func() (*tableschema.TableSchema, error) {
		return schema, nil
	})
}

// Publish replaces the current schema of the table. Versions only move
// forward, publishing an older or equal version fails.
func (c *SchemaCache) Publish(
	table string, schema *tableschema.TableSchema,
) error {

	_, err := c.schemas.Update(table, func(current *tableschema.TableSchema, present bool) (*tableschema.TableSchema, error) {
		if present && schema.SchemaID <= current.SchemaID {
			return nil, errors.Errorf(
				"schema version %d of %s is not newer than %d", schema.SchemaID, table, current.SchemaID,
			)
		}
		return schema, nil
	})
	return err
}

// Invalidate drops the cached schema, the next access reloads it
func (c *SchemaCache) Invalidate(
	table string,
) {

	c.schemas.Delete(table)
}
