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

// Package bulktransport ships serialized JSON events into a self-hosted
// Elasticsearch cluster through the _bulk API.
//
// Events are grouped into batches of at most the configured batch size, one
// target index per batch, framed into a bulk request body and sent over
// HTTP(S). A failed bulk request is retried as a whole with exponential
// backoff; with content hash document ids, retried documents overwrite
// rather than duplicate what an earlier attempt already stored.
//
// The package does not discover cluster nodes, route documents, or query.
package bulktransport
