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
	"iter"
	"time"
)

// Batch is an ordered group of serialized JSON documents sent in a single
// bulk request.
type Batch struct {
	// Index is the target index of every document in the batch. If empty,
	// Send resolves it when called.
	Index string

	// Events holds the documents, one JSON object each.
	Events []string
}

// Accumulator groups a sequence of events into batches.
//
// Batches hold at most the configured number of events and keep the input
// order. When index names are time partitioned, a batch is closed as soon
// as the next event falls into a different partition, so a batch never
// targets two indices.
type Accumulator struct {
	size  int
	namer IndexNamer
	now   func() time.Time
}

// NewAccumulator returns an Accumulator producing batches of at most size
// events. If now is nil, time.Now is used.
func NewAccumulator(size int, namer IndexNamer, now func() time.Time) *Accumulator {
	if size <= 0 {
		size = defaultBatchSize
	}
	if now == nil {
		now = time.Now
	}
	return &Accumulator{size: size, namer: namer, now: now}
}

// Batches returns a sequence of batches over events. Events are pulled
// lazily; a full batch is yielded before the next event is pulled.
func (a *Accumulator) Batches(events iter.Seq[string]) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		var current Batch
		for event := range events {
			index := a.index()
			if len(current.Events) > 0 && index != current.Index {
				if !yield(current) {
					return
				}
				current = Batch{}
			}
			if len(current.Events) == 0 {
				current.Index = index
				current.Events = make([]string, 0, min(a.size, 1024))
			}
			current.Events = append(current.Events, event)
			if len(current.Events) == a.size {
				if !yield(current) {
					return
				}
				current = Batch{}
			}
		}
		if len(current.Events) > 0 {
			yield(current)
		}
	}
}

func (a *Accumulator) index() string {
	if !a.namer.Partitioned() {
		return a.namer.Name(time.Time{})
	}
	return a.namer.Name(a.now())
}
