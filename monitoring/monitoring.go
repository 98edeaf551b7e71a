// Copyright 2017 Google Inc. All Rights Reserved.
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

// Package monitoring provides metric-factory abstractions so that the
// sequencer, cluster controller and fetcher can emit counters, gauges and
// histograms without depending on a specific metrics backend. The
// concrete binding lives in monitoring/promhttp.
package monitoring

// Counter is a monotonically increasing value, labeled.
type Counter interface {
	Inc(labelVals ...string)
	Add(v float64, labelVals ...string)
}

// Gauge is a value that can go up or down, labeled.
type Gauge interface {
	Set(v float64, labelVals ...string)
}

// Histogram records observations into buckets, labeled.
type Histogram interface {
	Observe(v float64, labelVals ...string)
}

// MetricFactory creates named, labeled metrics.
type MetricFactory interface {
	NewCounter(name, help string, labelNames ...string) Counter
	NewGauge(name, help string, labelNames ...string) Gauge
	NewHistogram(name, help string, labelNames ...string) Histogram
}

// InertMetricFactory produces metrics that silently discard everything
// written to them. Used when no metrics backend is configured, matching
// the teacher's createSequencerMetrics(nil) fallback.
type InertMetricFactory struct{}

type inertMetric struct{}

func (inertMetric) Inc(...string)            {}
func (inertMetric) Add(float64, ...string)   {}
func (inertMetric) Set(float64, ...string)   {}
func (inertMetric) Observe(float64, ...string) {}

// NewCounter returns a no-op counter.
func (InertMetricFactory) NewCounter(_, _ string, _ ...string) Counter { return inertMetric{} }

// NewGauge returns a no-op gauge.
func (InertMetricFactory) NewGauge(_, _ string, _ ...string) Gauge { return inertMetric{} }

// NewHistogram returns a no-op histogram.
func (InertMetricFactory) NewHistogram(_, _ string, _ ...string) Histogram { return inertMetric{} }
