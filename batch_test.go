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

package bulktransport_test

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-bulktransport"
)

func events(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(`{"n":%d}`, i)
	}
	return out
}

func TestAccumulatorBatchSize(t *testing.T) {
	input := events(1250)
	acc := bulktransport.NewAccumulator(500, bulktransport.NewIndexNamer("logs", ""), nil)

	var sizes []int
	var flattened []string
	for batch := range acc.Batches(slices.Values(input)) {
		assert.Equal(t, "logs", batch.Index)
		sizes = append(sizes, len(batch.Events))
		flattened = append(flattened, batch.Events...)
	}
	assert.Equal(t, []int{500, 500, 250}, sizes)
	assert.Equal(t, input, flattened)
}

func TestAccumulatorExactMultiple(t *testing.T) {
	acc := bulktransport.NewAccumulator(500, bulktransport.NewIndexNamer("logs", ""), nil)
	var sizes []int
	for batch := range acc.Batches(slices.Values(events(1000))) {
		sizes = append(sizes, len(batch.Events))
	}
	assert.Equal(t, []int{500, 500}, sizes)
}

func TestAccumulatorEmpty(t *testing.T) {
	acc := bulktransport.NewAccumulator(500, bulktransport.NewIndexNamer("logs", ""), nil)
	for range acc.Batches(slices.Values([]string(nil))) {
		t.Fatal("unexpected batch")
	}
}

func TestAccumulatorPartitionChange(t *testing.T) {
	// The clock crosses midnight after the third event.
	times := []time.Time{
		time.Date(2024, 3, 9, 23, 59, 58, 0, time.UTC),
		time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 3, 9, 23, 59, 59, 999, time.UTC),
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 0, 0, 1, 0, time.UTC),
	}
	var calls int
	now := func() time.Time {
		ts := times[min(calls, len(times)-1)]
		calls++
		return ts
	}
	acc := bulktransport.NewAccumulator(500, bulktransport.NewIndexNamer("logs-", "2006.01.02"), now)

	var batches []bulktransport.Batch
	for batch := range acc.Batches(slices.Values(events(5))) {
		batches = append(batches, batch)
	}
	require.Len(t, batches, 2)
	assert.Equal(t, "logs-2024.03.09", batches[0].Index)
	assert.Equal(t, []string{`{"n":0}`, `{"n":1}`, `{"n":2}`}, batches[0].Events)
	assert.Equal(t, "logs-2024.03.10", batches[1].Index)
	assert.Equal(t, []string{`{"n":3}`, `{"n":4}`}, batches[1].Events)
}

func TestAccumulatorStopsEarly(t *testing.T) {
	var pulled int
	input := func(yield func(string) bool) {
		for _, e := range events(2000) {
			pulled++
			if !yield(e) {
				return
			}
		}
	}
	acc := bulktransport.NewAccumulator(500, bulktransport.NewIndexNamer("logs", ""), nil)
	for batch := range acc.Batches(input) {
		assert.Len(t, batch.Events, 500)
		break
	}
	assert.Equal(t, 500, pulled)
}

func TestIndexNamer(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))

	assert.Equal(t, "logs", bulktransport.NewIndexNamer("logs", "").Name(at))
	assert.False(t, bulktransport.NewIndexNamer("logs", "").Partitioned())

	daily := bulktransport.NewIndexNamer("logs-", "2006-01-02")
	assert.True(t, daily.Partitioned())
	// Names are rendered in UTC.
	assert.Equal(t, "logs-2024-03-10", daily.Name(at))
	assert.Equal(t, "logs-2024-03-10-01", bulktransport.NewIndexNamer("logs-", "2006-01-02-15").Name(at))
}

func TestHashID(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		bulktransport.HashID(nil),
	)
	a := bulktransport.HashID([]byte(`{"a":1}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, bulktransport.HashID([]byte(`{"a":1}`)))
	assert.NotEqual(t, a, bulktransport.HashID([]byte(`{"a": 1}`)))
	assert.NotEqual(t, a, bulktransport.HashID([]byte(`{"a":2}`)))
}
