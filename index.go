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

import "time"

// IndexNamer computes the index name for a write.
type IndexNamer struct {
	base   string
	layout string
}

// NewIndexNamer returns an IndexNamer for base. If layout is non-empty, the
// UTC time rendered through it is appended to base.
func NewIndexNamer(base, layout string) IndexNamer {
	return IndexNamer{base: base, layout: layout}
}

// Partitioned reports whether names depend on time.
func (n IndexNamer) Partitioned() bool {
	return n.layout != ""
}

// Name returns the index name to use at t.
func (n IndexNamer) Name(t time.Time) string {
	if n.layout == "" {
		return n.base
	}
	return n.base + t.UTC().Format(n.layout)
}
