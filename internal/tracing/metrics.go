// Copyright 2025 Tom Barlow
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

package tracing

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/autoflow/pkg/automation"
)

// Metrics records run, step and language model measurements. It implements
// automation.Metrics.
type Metrics struct {
	runsTotal    metric.Int64Counter
	stepsTotal   metric.Int64Counter
	runDuration  metric.Float64Histogram
	stepDuration metric.Float64Histogram

	llmRequestsTotal metric.Int64Counter
	tokensTotal      metric.Int64Counter
	llmLatency       metric.Float64Histogram

	activeRuns atomic.Int64
	queueDepth atomic.Int64
}

var _ automation.Metrics = (*Metrics)(nil)

// NewMetrics registers the instruments on meterProvider.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("autoflow")
	m := &Metrics{}

	var err error
	if m.runsTotal, err = meter.Int64Counter(
		"autoflow_runs",
		metric.WithDescription("Automation runs by final status"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.stepsTotal, err = meter.Int64Counter(
		"autoflow_steps",
		metric.WithDescription("Steps executed by kind and status"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram(
		"autoflow_run_duration",
		metric.WithDescription("Automation run duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram(
		"autoflow_step_duration",
		metric.WithDescription("Step execution duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.llmRequestsTotal, err = meter.Int64Counter(
		"autoflow_llm_requests",
		metric.WithDescription("Language model requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.tokensTotal, err = meter.Int64Counter(
		"autoflow_llm_tokens",
		metric.WithDescription("Language model tokens processed"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, err
	}
	if m.llmLatency, err = meter.Float64Histogram(
		"autoflow_llm_latency",
		metric.WithDescription("Language model request latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if _, err = meter.Int64ObservableGauge(
		"autoflow_active_runs",
		metric.WithDescription("Runs currently executing"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.activeRuns.Load())
			return nil
		}),
	); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge(
		"autoflow_queue_depth",
		metric.WithDescription("Runs waiting for a worker slot"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.queueDepth.Load())
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RunCompleted implements automation.Metrics. The automation id is left off
// the series to keep cardinality bounded.
func (m *Metrics) RunCompleted(_ string, status automation.RunStatus, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	m.runsTotal.Add(context.Background(), 1, attrs)
	m.runDuration.Record(context.Background(), d.Seconds(), attrs)
}

// StepCompleted implements automation.Metrics.
func (m *Metrics) StepCompleted(kind automation.StepID, status automation.StepStatus, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", string(status)),
	)
	m.stepsTotal.Add(context.Background(), 1, attrs)
	m.stepDuration.Record(context.Background(), d.Seconds(), attrs)
}

// RecordLLMRequest records one completion call.
func (m *Metrics) RecordLLMRequest(ctx context.Context, model, status string, promptTokens, completionTokens int, latency time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.llmRequestsTotal.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, latency.Seconds(), attrs)
	if promptTokens > 0 {
		m.tokensTotal.Add(ctx, int64(promptTokens), metric.WithAttributes(
			attribute.String("model", model), attribute.String("type", "prompt")))
	}
	if completionTokens > 0 {
		m.tokensTotal.Add(ctx, int64(completionTokens), metric.WithAttributes(
			attribute.String("model", model), attribute.String("type", "completion")))
	}
}

// RunStarted and RunFinished track the active run gauge.
func (m *Metrics) RunStarted()  { m.activeRuns.Add(1) }
func (m *Metrics) RunFinished() { m.activeRuns.Add(-1) }

// Queued and Dequeued track runs waiting for a worker.
func (m *Metrics) Queued()   { m.queueDepth.Add(1) }
func (m *Metrics) Dequeued() { m.queueDepth.Add(-1) }

// ActiveRuns returns the active run gauge value.
func (m *Metrics) ActiveRuns() int64 { return m.activeRuns.Load() }
