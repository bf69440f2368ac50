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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicySchedule(t *testing.T) {
	p := RetryPolicy{Count: 3, Delay: 1000 * time.Millisecond}
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond}, p.Schedule())
	assert.Equal(t, time.Duration(0), p.Wait(0))

	p = RetryPolicy{Count: 10, Delay: 60 * time.Second}
	assert.Equal(t, 512*time.Minute, p.Wait(10))

	assert.Empty(t, RetryPolicy{Count: 0, Delay: time.Second}.Schedule())
}

func TestRetryStateExhausts(t *testing.T) {
	r := NewRetryState(RetryPolicy{Count: 3, Delay: time.Second})
	assert.Equal(t, StatePending, r.State())

	var waits []time.Duration
	for {
		require.NoError(t, r.Send())
		assert.Equal(t, StateSending, r.State())
		wait, retry := r.Fail()
		if !retry {
			break
		}
		assert.Equal(t, StateWaitingBackoff, r.State())
		waits = append(waits, wait)
	}
	assert.Equal(t, StateExhausted, r.State())
	assert.Equal(t, 4, r.Attempts())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits)
	assert.Equal(t, 7*time.Second, r.Elapsed())
	assert.Error(t, r.Send())
}

func TestRetryStateNoRetries(t *testing.T) {
	r := NewRetryState(RetryPolicy{Count: 0, Delay: time.Second})
	require.NoError(t, r.Send())
	wait, retry := r.Fail()
	assert.False(t, retry)
	assert.Zero(t, wait)
	assert.Equal(t, StateExhausted, r.State())
	assert.Equal(t, 1, r.Attempts())
	assert.Zero(t, r.Elapsed())
}

func TestRetryStateSuccessAfterRetry(t *testing.T) {
	r := NewRetryState(RetryPolicy{Count: 2, Delay: time.Millisecond})
	require.NoError(t, r.Send())
	_, retry := r.Fail()
	require.True(t, retry)
	require.NoError(t, r.Send())
	r.Succeed()
	assert.Equal(t, StateSuccess, r.State())
	assert.Equal(t, 2, r.Attempts())
	assert.Error(t, r.Send())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "WaitingBackoff", StateWaitingBackoff.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestWaitBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := waitBackoff(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, waitBackoff(context.Background(), time.Millisecond))
}
