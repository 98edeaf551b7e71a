// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock abstracts wall-clock time so that STH monotonicity, MMD
// and lease-expiry logic can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// TimeSource provides the current time. Production code uses System;
// tests use a Fake that only moves forward when told to.
type TimeSource interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// SecondsSince returns the number of seconds between start and ts.Now().
func SecondsSince(ts TimeSource, start time.Time) float64 {
	return ts.Now().Sub(start).Seconds()
}

// Fake is a manually-advanced clock for tests: leader-failover, MMD, and
// STH-monotonicity tests all need precise control over "now".
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake initialised to t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
