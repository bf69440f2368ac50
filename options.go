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
	"time"

	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/elastic/go-bulktransport/credential"
)

// Options holds the runtime collaborators of a Transport.
type Options struct {
	// Logger holds an optional Logger to use for logging bulk requests.
	//
	// Exhausted batches and per-document failures are logged at error
	// level, retries at warn level. Credentials are never logged.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests
	// to Elasticsearch. Each Send is traced as a transaction, each request
	// attempt as a span. Error logs are also reported to the tracer.
	//
	// If Tracer is nil, requests will not be traced with APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. Each Send is
	// traced as a span. It is ignored when Tracer is set.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record transport metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// KeyService decrypts an encrypted password. It is required only when
	// the configured password is in the encrypted form.
	KeyService credential.KeyService

	// MaxRequests holds the maximum number of bulk requests Deliver keeps
	// in flight. Concurrent Send calls are not limited by it.
	//
	// If MaxRequests is less than or equal to zero, the default of 1 will
	// be used.
	MaxRequests int

	// Now returns the time used to compute time partitioned index names.
	//
	// If Now is nil, time.Now is used.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer != nil {
		o.Logger = o.Logger.WithOptions(zap.WrapCore((&apmzap.Core{Tracer: o.Tracer}).WrapCore))
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
	if o.MaxRequests <= 0 {
		o.MaxRequests = 1
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
