// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bulktransport

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the retries of a failed bulk request.
type RetryPolicy struct {
	// Count is the number of retries after the first attempt. Zero
	// disables retries.
	Count int

	// Delay is the wait before the first retry. Each following retry
	// waits twice as long as the previous one.
	Delay time.Duration
}

// Wait returns the backoff before the nth retry, counting from 1:
// Delay * 2^(n-1).
func (p RetryPolicy) Wait(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return p.Delay << (n - 1)
}

// Schedule returns the waits before each of the Count retries.
func (p RetryPolicy) Schedule() []time.Duration {
	waits := make([]time.Duration, 0, p.Count)
	for n := 1; n <= p.Count; n++ {
		waits = append(waits, p.Wait(n))
	}
	return waits
}

// State is a step in the delivery of one batch.
type State int

const (
	StatePending State = iota
	StateSending
	StateSuccess
	StateFailed
	StateWaitingBackoff
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateSending:
		return "Sending"
	case StateSuccess:
		return "Success"
	case StateFailed:
		return "Failed"
	case StateWaitingBackoff:
		return "WaitingBackoff"
	case StateExhausted:
		return "Exhausted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// RetryState tracks the attempts made for one batch.
//
//	Pending -> Sending -> Success
//	                   -> Failed -> WaitingBackoff -> Sending
//	                             -> Exhausted
//
// A failure moves to WaitingBackoff while fewer than Count retries have been
// made, and to Exhausted otherwise.
type RetryState struct {
	policy   RetryPolicy
	state    State
	attempts int
	retries  int
	elapsed  time.Duration
}

// NewRetryState returns a Pending RetryState governed by p.
func NewRetryState(p RetryPolicy) *RetryState {
	return &RetryState{policy: p}
}

// State returns the current state.
func (r *RetryState) State() State { return r.state }

// Attempts returns the number of send attempts started.
func (r *RetryState) Attempts() int { return r.attempts }

// Elapsed returns the total backoff scheduled so far.
func (r *RetryState) Elapsed() time.Duration { return r.elapsed }

// Send starts an attempt.
func (r *RetryState) Send() error {
	if r.state != StatePending && r.state != StateWaitingBackoff {
		return fmt.Errorf("cannot send in state %s", r.state)
	}
	r.state = StateSending
	r.attempts++
	return nil
}

// Succeed completes the current attempt successfully.
func (r *RetryState) Succeed() {
	if r.state == StateSending {
		r.state = StateSuccess
	}
}

// Fail completes the current attempt with a failure. It returns the wait
// before the next attempt and true, or false once retries are exhausted.
func (r *RetryState) Fail() (time.Duration, bool) {
	if r.state != StateSending {
		return 0, false
	}
	r.state = StateFailed
	if r.retries >= r.policy.Count {
		r.state = StateExhausted
		return 0, false
	}
	r.retries++
	wait := r.policy.Wait(r.retries)
	r.elapsed += wait
	r.state = StateWaitingBackoff
	return wait, true
}

// waitBackoff blocks the calling goroutine for d, or until ctx is done.
func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
