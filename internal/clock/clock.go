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

package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and tickers. Every time based decision
// of the pipeline goes through a Clock so tests can control it.
type Clock interface {
	Now() time.Time
	NewTicker(period time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped. Ticks are dropped while the
// receiver lags behind.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTicker(
	period time.Duration,
) Ticker {

	return systemTicker{ticker: time.NewTicker(period)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t systemTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t systemTicker) Stop() {
	t.ticker.Stop()
}

// System is the wall clock
var System Clock = systemClock{}

// Manual is a Clock that only moves when told to. Its tickers fire while
// the clock is advanced past their next deadline.
type Manual struct {
	mutex   sync.Mutex
	now     time.Time
	tickers map[*manualTicker]struct{}
}

func NewManual(now time.Time) *Manual {
	return &Manual{
		now:     now,
		tickers: make(map[*manualTicker]struct{}),
	}
}

func (m *Manual) Now() time.Time {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.now
}

func (m *Manual) NewTicker(
	period time.Duration,
) Ticker {

	if period <= 0 {
		panic("non-positive interval for NewTicker")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	t := &manualTicker{
		clock:  m,
		period: period,
		next:   m.now.Add(period),
		c:      make(chan time.Time, 1),
	}
	m.tickers[t] = struct{}{}
	return t
}

// Tickers returns the number of running tickers
func (m *Manual) Tickers() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.tickers)
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = m.now.Add(d)
	m.fire()
	return m.now
}

func (m *Manual) Set(now time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = now
	m.fire()
}

func (m *Manual) fire() {
	for t := range m.tickers {
		if t.next.After(m.now) {
			continue
		}
		select {
		case t.c <- m.now:
		default:
		}
		for !t.next.After(m.now) {
			t.next = t.next.Add(t.period)
		}
	}
}

type manualTicker struct {
	clock  *Manual
	period time.Duration
	next   time.Time
	c      chan time.Time
}

func (t *manualTicker) C() <-chan time.Time {
	return t.c
}

func (t *manualTicker) Stop() {
	t.clock.mutex.Lock()
	defer t.clock.mutex.Unlock()
	delete(t.clock.tickers, t)
}
