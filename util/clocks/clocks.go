// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clocks provides a mockable way to measure time.
package clocks

import (
	"context"
	"sync"
	"time"
)

// Time is a convenient alias for time.Time.
type Time = time.Time

// A Source tells the passage of time. This package provides two sources:
// Wall and NewMock.
type Source interface {
	// Now returns the current time.
	Now() Time
	// SleepUntil blocks until at least the given time or a context error,
	// whichever comes first. If the context expires, SleepUntil returns the
	// context error; otherwise nil once Now() has reached 'wake'.
	SleepUntil(ctx context.Context, wake Time) error
}

type wallClock struct{}

// Wall is the normal clock, as provided by time.Now().
var Wall Source = wallClock{}

func (wallClock) Now() Time {
	return time.Now()
}

func (source wallClock) SleepUntil(ctx context.Context, wake Time) error {
	ctx, cancel := context.WithDeadline(ctx, wake)
	defer cancel()
	<-ctx.Done()
	if source.Now().Before(wake) {
		return ctx.Err()
	}
	return nil
}

// A Mock is a Source whose time only moves when Advance is called. Useful in
// unit tests of time-driven loops like the transaction-table sweeper.
type Mock struct {
	lock    sync.Mutex
	now     Time
	changed chan struct{}
}

// NewMock returns a Mock clock starting at an arbitrary fixed point.
func NewMock() *Mock {
	return &Mock{
		now:     time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		changed: make(chan struct{}),
	}
}

// Now implements Source.
func (m *Mock) Now() Time {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.now
}

// Advance moves the mock clock forward, waking any SleepUntil callers whose
// deadline has been reached.
func (m *Mock) Advance(d time.Duration) {
	m.lock.Lock()
	m.now = m.now.Add(d)
	close(m.changed)
	m.changed = make(chan struct{})
	m.lock.Unlock()
}

// SleepUntil implements Source.
func (m *Mock) SleepUntil(ctx context.Context, wake Time) error {
	for {
		m.lock.Lock()
		now := m.now
		changed := m.changed
		m.lock.Unlock()
		if !now.Before(wake) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
