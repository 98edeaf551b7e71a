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

package ctlogerr

import (
	"context"
	"math/rand"
	"time"
)

// RetryOptions configures exponential backoff with jitter, bounded by the
// caller's context deadline.
type RetryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryOptions matches the cadence Transient errors in this log are
// expected to recover within (lease refresh, brief network blips).
var DefaultRetryOptions = RetryOptions{
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2,
}

// Retry calls fn until it succeeds, returns a non-Transient error, or ctx
// is done. Each retry sleeps for an exponentially growing, jittered
// backoff.
func Retry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	backoff := opts.InitialBackoff
	for {
		err := fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return DeadlineExceeded(err, "retry abandoned: %v", ctx.Err())
		case <-time.After(jitter(backoff)):
		}
		backoff = time.Duration(float64(backoff) * opts.Multiplier)
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d))) + d/2
}
