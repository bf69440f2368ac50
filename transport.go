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
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var filterPath = []string{
	"errors",
	"items.*._index",
	"items.*.status",
	"items.*.error.type",
	"items.*.error.reason",
}

// Transport delivers batches of JSON documents to Elasticsearch through the
// _bulk API.
//
// A Transport is built once per configuration: credentials are resolved and
// the HTTP client is set up by NewTransport. It is safe for concurrent use;
// each Send runs its attempts and backoff waits on the calling goroutine and
// shares only read-only state with other calls.
type Transport struct {
	added                  atomic.Int64
	bulkRequests           atomic.Int64
	indexed                atomic.Int64
	failed                 atomic.Int64
	retried                atomic.Int64
	encodingFailed         atomic.Int64
	bytesTotal             atomic.Int64
	bytesUncompressedTotal atomic.Int64

	config    ElasticsearchConfig
	endpoint  Endpoint
	opts      Options
	client    *elastictransport.Client
	transport *http.Transport
	namer     IndexNamer
	policy    RetryPolicy
	metrics   metrics
	encoders  sync.Pool
	closed    atomic.Bool

	// wait sleeps between attempts.
	wait func(context.Context, time.Duration) error

	// tracer is an OTel tracer, and should not be confused with
	// `opts.Tracer` which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// Result reports the outcome of delivering one batch.
type Result struct {
	// Index is the index the batch was written to.
	Index string
	// Documents is the number of documents in the batch.
	Documents int
	// Attempts is the number of bulk requests made.
	Attempts int
	// Indexed is the number of documents acknowledged by Elasticsearch.
	Indexed int64
	// Err is nil if the batch was delivered.
	Err error
}

// Stats holds cumulative transport statistics.
type Stats struct {
	// Added holds the number of documents submitted for delivery.
	Added int64

	// BulkRequests holds the number of bulk requests made, including
	// retries.
	BulkRequests int64

	// Indexed holds the number of documents delivered.
	Indexed int64

	// Failed holds the number of documents in batches whose retries were
	// exhausted.
	Failed int64

	// Retried holds the number of bulk requests resent after a failure.
	Retried int64

	// EncodingFailed holds the number of documents in batches rejected
	// before sending because a document was not a valid JSON object.
	EncodingFailed int64

	// BytesTotal holds the number of bytes sent in bulk request bodies.
	BytesTotal int64

	// BytesUncompressedTotal holds the number of bytes sent in bulk
	// request bodies before compression.
	BytesUncompressedTotal int64
}

// NewTransport validates cfg, resolves its credentials with
// opts.KeyService, and returns a Transport ready to send.
//
// Configuration problems are returned as *ConfigError and credential
// problems as *CredentialError; no network activity happens before either
// check passes.
func NewTransport(ctx context.Context, cfg TransportConfig, opts Options) (*Transport, error) {
	var config ElasticsearchConfig
	switch c := cfg.(type) {
	case ElasticsearchConfig:
		config = c
	case *ElasticsearchConfig:
		if c == nil {
			return nil, errors.New("config is nil")
		}
		config = *c
	case nil:
		return nil, errors.New("config is nil")
	default:
		return nil, &ConfigError{Field: KindField, Reason: fmt.Sprintf("unsupported transport kind %q", cfg.Kind())}
	}

	endpoint, err := config.Resolve(ctx, opts.KeyService)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	ms, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, err
	}

	httpTransport := newHTTPTransport(endpoint, opts.MaxRequests)
	var rt http.RoundTripper = httpTransport
	if opts.Tracer != nil {
		rt = apmelasticsearch.WrapRoundTripper(rt)
	}
	client, err := elastictransport.New(elastictransport.Config{
		URLs:         []*url.URL{endpoint.URL},
		Username:     endpoint.Username,
		Password:     endpoint.password,
		Transport:    rt,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating elasticsearch client: %w", err)
	}

	t := &Transport{
		config:    config,
		endpoint:  endpoint,
		opts:      opts,
		client:    client,
		transport: httpTransport,
		namer:     NewIndexNamer(config.Index(), config.IndexTimeFormat()),
		policy:    RetryPolicy{Count: config.RetryCount(), Delay: config.RetryDelay()},
		metrics:   ms,
		wait:      waitBackoff,
	}
	t.encoders.New = func() any {
		return newBulkEncoder(endpoint.Gzip)
	}
	if opts.Tracer == nil && opts.TracerProvider != nil {
		t.tracer = opts.TracerProvider.Tracer("github.com/elastic/go-bulktransport")
	}
	opts.Logger.Debug("bulk transport created",
		zap.Stringer("endpoint", endpoint),
		zap.String("index", config.Index()),
		zap.Int("batch_size", config.BatchSize()),
		zap.Int("retry_count", config.RetryCount()),
	)
	return t, nil
}

func newHTTPTransport(e Endpoint, maxRequests int) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   e.Timeout,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   max(maxRequests, 2),
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   e.Timeout,
		ResponseHeaderTimeout: e.Timeout,
	}
	if e.Insecure() {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return t
}

// Close closes the transport. Sends in progress complete; later calls to
// Send return ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.transport.CloseIdleConnections()
	return nil
}

// Stats returns the transport statistics.
func (t *Transport) Stats() Stats {
	return Stats{
		Added:                  t.added.Load(),
		BulkRequests:           t.bulkRequests.Load(),
		Indexed:                t.indexed.Load(),
		Failed:                 t.failed.Load(),
		Retried:                t.retried.Load(),
		EncodingFailed:         t.encodingFailed.Load(),
		BytesTotal:             t.bytesTotal.Load(),
		BytesUncompressedTotal: t.bytesUncompressedTotal.Load(),
	}
}

// Deliver groups events into batches and sends them, keeping up to
// opts.MaxRequests bulk requests in flight. Events are pulled from the
// sequence only while a request slot is free.
//
// The results are in batch order. The returned error joins the errors of
// all failed batches.
func (t *Transport) Deliver(ctx context.Context, events iter.Seq[string]) ([]Result, error) {
	acc := NewAccumulator(t.config.BatchSize(), t.namer, t.opts.Now)

	var g errgroup.Group
	g.SetLimit(t.opts.MaxRequests)
	var pending []*Result
	var stopped bool
	for batch := range acc.Batches(events) {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		r := &Result{Index: batch.Index, Documents: len(batch.Events)}
		pending = append(pending, r)
		g.Go(func() error {
			*r, _ = t.Send(ctx, batch)
			return nil
		})
	}
	g.Wait()

	results := make([]Result, len(pending))
	var errs []error
	for i, r := range pending {
		results[i] = *r
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	if stopped {
		errs = append(errs, ctx.Err())
	}
	return results, errors.Join(errs...)
}

// Send delivers batch in one bulk request, retrying the whole request on
// failure according to the configured retry policy. It blocks until the
// batch is accepted or its retries are exhausted.
//
// If batch.Index is empty, the index name is computed at call time. The
// returned Result has its Err set to the returned error.
func (t *Transport) Send(ctx context.Context, batch Batch) (result Result, err error) {
	n := len(batch.Events)
	if t.closed.Load() {
		return Result{Index: batch.Index, Documents: n, Err: ErrClosed}, ErrClosed
	}
	if batch.Index == "" {
		batch.Index = t.namer.Name(t.opts.Now())
	}
	result = Result{Index: batch.Index, Documents: n}
	if n == 0 {
		return result, nil
	}
	if n > t.config.BatchSize() {
		err = fmt.Errorf("%w: %d documents, batch size is %d", ErrBatchTooLarge, n, t.config.BatchSize())
		result.Err = err
		return result, err
	}

	attrs := metric.WithAttributeSet(t.opts.MetricAttributes)
	t.added.Add(int64(n))
	t.metrics.docsAdded.Add(context.Background(), int64(n), attrs)

	ctx, logger, finish := t.startTrace(ctx, batch)
	defer func() { finish(result, err) }()
	logger = logger.With(zap.String("index", batch.Index), zap.Int("documents", n))

	enc := t.encoders.Get().(*bulkEncoder)
	defer t.encoders.Put(enc)
	if err = enc.encode(batch, t.config.Type(), t.config.UseHashID()); err != nil {
		t.encodingFailed.Add(int64(n))
		t.recordProcessed(int64(n), "EncodingFailed")
		logger.Error("failed to encode bulk request", zap.Error(err))
		result.Err = err
		return result, err
	}

	state := NewRetryState(t.policy)
	for state.Send() == nil {
		var resp bulkResponse
		resp, err = t.flush(ctx, enc, logger)
		if err == nil {
			state.Succeed()
			t.indexed.Add(resp.Indexed)
			t.recordProcessed(resp.Indexed, "Success")
			result.Attempts = state.Attempts()
			result.Indexed = resp.Indexed
			return result, nil
		}
		wait, retry := state.Fail()
		if !retry {
			break
		}
		logger.Warn("bulk request failed, retrying",
			zap.Error(err),
			zap.Int("attempt", state.Attempts()),
			zap.Duration("backoff", wait),
		)
		t.retried.Add(1)
		t.metrics.docsRetried.Add(context.Background(), int64(n), attrs)
		if werr := t.wait(ctx, wait); werr != nil {
			err = fmt.Errorf("%w; retry aborted: %w", err, werr)
			break
		}
	}

	result.Attempts = state.Attempts()
	err = &DeliveryFailure{Attempts: state.Attempts(), Err: err}
	result.Err = err
	t.failed.Add(int64(n))
	var statusAttrs []attribute.KeyValue
	var terr *TransportError
	if errors.As(err, &terr) && terr.StatusCode != 0 {
		statusAttrs = append(statusAttrs, semconv.HTTPResponseStatusCode(terr.StatusCode))
	}
	t.recordProcessed(int64(n), "Failed", statusAttrs...)
	logger.Error("bulk request failed, dropping batch", zap.Error(err), zap.Int("attempts", result.Attempts))
	return result, err
}

// flush executes one bulk request with the encoded body of enc. The
// configured timeout bounds the whole attempt, including reading the
// response body.
func (t *Transport) flush(ctx context.Context, enc *bulkEncoder, logger *zap.Logger) (bulkResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.endpoint.Timeout)
	defer cancel()

	attrs := metric.WithAttributeSet(t.opts.MetricAttributes)
	body := enc.Bytes()
	req := esapi.BulkRequest{
		Body:       bytes.NewReader(body),
		Header:     make(http.Header),
		FilterPath: filterPath,
	}
	if t.endpoint.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	t.bulkRequests.Add(1)
	t.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	start := time.Now()
	res, err := req.Do(ctx, t.client)
	t.metrics.flushDuration.Record(context.Background(), time.Since(start).Seconds(), attrs)
	if err != nil {
		return bulkResponse{}, &TransportError{Err: fmt.Errorf("failed to execute the request: %w", err)}
	}
	defer res.Body.Close()

	// Record the number of flushed bytes only once a response was
	// received. The body may not have been sent otherwise.
	t.bytesTotal.Add(int64(len(body)))
	t.metrics.bytesTotal.Add(context.Background(), int64(len(body)), attrs)
	t.bytesUncompressedTotal.Add(int64(enc.UncompressedLen()))
	t.metrics.bytesUncompressedTotal.Add(context.Background(), int64(enc.UncompressedLen()), attrs)

	if res.IsError() {
		return bulkResponse{}, &TransportError{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("flush failed: %s", res.String()),
		}
	}
	resp, err := decodeBulkResponse(res.Body)
	if err != nil {
		return resp, &TransportError{StatusCode: res.StatusCode, Err: err}
	}
	if resp.HasErrors || len(resp.FailedDocs) > 0 {
		logFailedDocs(logger, resp.FailedDocs)
		return resp, &TransportError{StatusCode: res.StatusCode, FailedDocs: resp.FailedDocs}
	}
	if items := resp.Indexed + int64(len(resp.FailedDocs)); items != int64(enc.Items()) {
		return resp, &TransportError{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("bulk response reported %d items for %d documents", items, enc.Items()),
		}
	}
	return resp, nil
}

// logFailedDocs logs one entry per distinct index and error.
func logFailedDocs(logger *zap.Logger, docs []BulkResponseItem) {
	failedCount := make(map[BulkResponseItem]int, len(docs))
	for _, info := range docs {
		info.Position = 0 // reset position so that the response item can be used as key in the map
		failedCount[info]++
	}
	for key, count := range failedCount {
		logger.Error(fmt.Sprintf("failed to index documents in '%s' (%s): %s",
			key.Index, key.Error.Type, key.Error.Reason,
		), zap.Int("failed", count), zap.Int("status", key.Status))
	}
}

func (t *Transport) recordProcessed(n int64, status string, extra ...attribute.KeyValue) {
	if n == 0 {
		return
	}
	t.metrics.docsProcessed.Add(
		context.Background(),
		n,
		metric.WithAttributeSet(t.opts.MetricAttributes),
		metric.WithAttributes(append(extra, attribute.String("status", status))...),
	)
}

// startTrace starts an APM transaction or an OTel span for one Send. The
// returned function ends it with the outcome of the Send.
func (t *Transport) startTrace(ctx context.Context, batch Batch) (context.Context, *zap.Logger, func(Result, error)) {
	logger := t.opts.Logger
	switch {
	case t.opts.Tracer != nil:
		tx := t.opts.Tracer.StartTransaction("bulktransport.send", "output")
		tx.Context.SetLabel("documents", len(batch.Events))
		tx.Context.SetLabel("index", batch.Index)
		ctx = apm.ContextWithTransaction(ctx, tx)
		logger = logger.With(apmzap.TraceContext(ctx)...)
		return ctx, logger, func(_ Result, err error) {
			if err != nil {
				tx.Outcome = "failure"
				e := t.opts.Tracer.NewError(err)
				e.SetTransaction(tx)
				e.Send()
			} else {
				tx.Outcome = "success"
			}
			tx.End()
		}
	case t.tracer != nil:
		var span trace.Span
		ctx, span = t.tracer.Start(ctx, "bulktransport.send", trace.WithAttributes(
			attribute.Int("documents", len(batch.Events)),
			attribute.String("index", batch.Index),
		))
		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
		return ctx, logger, func(r Result, err error) {
			span.SetAttributes(attribute.Int("attempts", r.Attempts))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "bulk request failed")
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
	}
	return ctx, logger, func(Result, error) {}
}
