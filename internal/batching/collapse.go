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

package batching

import (
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/samber/lo"
	"sort"
)

type netChange struct {
	existedBefore bool
	existsAfter   bool
	firstBefore   changes.Row
	keyRow        changes.Row
	lastAfter     changes.Row
	unchanged     []string
	last          changes.ChangeEvent
	order         int
}

// Collapse folds all changes of the same row into a single net change.
// Rows are identified by their key columns, events of tables without a
// key are passed through untouched. The result is ordered by the last
// change of each row, which keeps the relative order of rows intact.
//
// A row inserted and deleted inside the same batch vanishes, except if
// tombstones are requested. Then a delete carrying the key is kept,
// equality deletes of merge-on-read tables depend on it to remove
// copies written by earlier batches.
func Collapse(
	events []changes.ChangeEvent, tombstones bool,
) []changes.ChangeEvent {

	if len(events) < 2 && !tombstones {
		return events
	}

	nets := make(map[string]*netChange)
	keyless := make([]*netChange, 0)
	order := 0

	fold := func(key string, event changes.ChangeEvent) {
		order++
		net, present := nets[key]
		if !present {
			net = newNetChange(event)
			nets[key] = net
		} else {
			net.apply(event)
		}
		net.last = event
		net.order = order
	}

	for _, event := range splitKeyChanges(events) {
		key, ok := event.Key()
		if !ok {
			order++
			keyless = append(keyless, &netChange{last: event, order: order})
			continue
		}
		fold(key, event)
	}

	collapsed := append(lo.Values(nets), keyless...)
	sort.Slice(collapsed, func(i, j int) bool {
		return collapsed[i].order < collapsed[j].order
	})

	return lo.FilterMap(collapsed, func(net *netChange, _ int) (changes.ChangeEvent, bool) {
		if net.keyRow == nil {
			return net.last, true
		}
		return net.result(tombstones)
	})
}

// splitKeyChanges turns updates that changed the key columns into a
// delete of the old key and an insert of the new one.
func splitKeyChanges(
	events []changes.ChangeEvent,
) []changes.ChangeEvent {

	split := make([]changes.ChangeEvent, 0, len(events))
	for _, event := range events {
		if event.Operation != changes.Update || event.Before == nil {
			split = append(split, event)
			continue
		}
		key, keyOk := event.Key()
		previous, previousOk := event.PreviousKey()
		if !keyOk || !previousOk || key == previous {
			split = append(split, event)
			continue
		}

		deletion := event
		deletion.Operation = changes.Delete
		deletion.After = nil
		deletion.Unchanged = nil

		insertion := event
		insertion.Operation = changes.Insert
		insertion.Before = nil

		split = append(split, deletion, insertion)
	}
	return split
}

func newNetChange(
	event changes.ChangeEvent,
) *netChange {

	net := &netChange{}
	switch event.Operation {
	case changes.Insert:
		net.existsAfter = true
		net.lastAfter = event.After
		net.keyRow = keyRow(event.KeyColumns, event.After)
	case changes.Update:
		net.existedBefore = true
		net.existsAfter = true
		net.firstBefore = event.Before
		net.lastAfter = event.After
		net.unchanged = event.Unchanged
		net.keyRow = keyRow(event.KeyColumns, event.After)
	case changes.Delete:
		net.existedBefore = true
		net.firstBefore = event.Before
		net.keyRow = keyRow(event.KeyColumns, event.Before)
	}
	return net
}

func (n *netChange) apply(
	event changes.ChangeEvent,
) {

	switch event.Operation {
	case changes.Insert:
		n.existsAfter = true
		n.lastAfter = event.After
		n.unchanged = nil
	case changes.Update:
		after, unchanged := fillUnchanged(event, n.lastAfter, n.unchanged)
		n.existsAfter = true
		n.lastAfter = after
		n.unchanged = unchanged
	case changes.Delete:
		n.existsAfter = false
		n.lastAfter = nil
		n.unchanged = nil
	}
}

func (n *netChange) result(
	tombstones bool,
) (changes.ChangeEvent, bool) {

	event := n.last
	switch {
	case n.existedBefore && n.existsAfter:
		event.Operation = changes.Update
		event.Before = n.firstBefore
		event.After = n.lastAfter
		event.Unchanged = n.unchanged
	case n.existsAfter:
		event.Operation = changes.Insert
		event.Before = nil
		event.After = n.lastAfter
		event.Unchanged = n.unchanged
	case n.existedBefore || tombstones:
		event.Operation = changes.Delete
		event.Before = n.firstBefore
		if event.Before == nil {
			event.Before = n.keyRow
		}
		event.After = nil
		event.Unchanged = nil
	default:
		return changes.ChangeEvent{}, false
	}
	return event, true
}

// fillUnchanged replaces values the source did not send for an update
// with the latest known value of the same row in this batch.
func fillUnchanged(
	event changes.ChangeEvent, previous changes.Row, previousUnchanged []string,
) (changes.Row, []string) {

	if len(event.Unchanged) == 0 || previous == nil {
		return event.After, event.Unchanged
	}

	after := event.After.Clone()
	unchanged := make([]string, 0)
	for _, column := range event.Unchanged {
		value, present := previous[column]
		if !present || lo.Contains(previousUnchanged, column) {
			unchanged = append(unchanged, column)
			continue
		}
		after[column] = value
	}
	return after, unchanged
}

func keyRow(
	keyColumns []string, row changes.Row,
) changes.Row {

	if row == nil {
		return nil
	}
	key := make(changes.Row, len(keyColumns))
	for _, column := range keyColumns {
		key[column] = row[column]
	}
	return key
}
