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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/elastic/go-bulktransport"
)

func TestTransportIntegration(t *testing.T) {
	switch strings.ToLower(os.Getenv("INTEGRATION_TESTS")) {
	case "1", "true":
	default:
		t.Skip("Skipping integration test, export INTEGRATION_TESTS=1 to run")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://localhost:9200"},
		Username:  "admin",
		Password:  "changeme",
	})
	require.NoError(t, err)

	index := "bulktransport-testing"
	deleteIndex := func() {
		resp, err := esapi.IndicesDeleteRequest{
			Index:             []string{index},
			IgnoreUnavailable: esapi.BoolPtr(true),
		}.Do(context.Background(), client)
		require.NoError(t, err)
		defer resp.Body.Close()
	}
	deleteIndex()
	defer deleteIndex()

	cfg, err := bulktransport.NewElasticsearchConfig("localhost", index, "_doc",
		bulktransport.WithBasicAuth("admin", "changeme"),
		bulktransport.WithGzip(),
		bulktransport.WithHashID(),
		bulktransport.WithRetry(2, 100*time.Millisecond),
	)
	require.NoError(t, err)
	tr, err := bulktransport.NewTransport(context.Background(), cfg, bulktransport.Options{MaxRequests: 2})
	require.NoError(t, err)
	defer tr.Close()

	const N = 1200
	docs := make([]string, N)
	for i := range docs {
		docs[i] = fmt.Sprintf(`{"@timestamp":%q,"n":%d}`, time.Now().UTC().Format(time.RFC3339Nano), i)
	}

	// Delivering the same documents twice overwrites them by content id.
	for range 2 {
		results, err := tr.Deliver(context.Background(), slices.Values(docs))
		require.NoError(t, err)
		assert.Len(t, results, 3)
	}

	// Check that docs are indexed.
	resp, err := esapi.IndicesRefreshRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	resp.Body.Close()

	var result struct {
		Count int
	}
	resp, err = esapi.CountRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, N, result.Count)
	assert.Equal(t, int64(2*N), tr.Stats().Indexed)
}
