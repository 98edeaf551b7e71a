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

// Package promhttp binds the monitoring.MetricFactory abstraction to
// Prometheus, via github.com/prometheus/client_golang. Exposition (the
// HTTP /metrics endpoint) is left to the caller, as it is out of scope
// for this engine.
package promhttp

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openctlog/ctlog/monitoring"
)

// Factory creates Prometheus-backed metrics and registers them against a
// caller-supplied registerer.
type Factory struct {
	reg prometheus.Registerer
}

// NewFactory returns a Factory that registers metrics on reg.
func NewFactory(reg prometheus.Registerer) *Factory {
	return &Factory{reg: reg}
}

type counter struct{ v *prometheus.CounterVec }

func (c counter) Inc(labelVals ...string)          { c.v.WithLabelValues(labelVals...).Inc() }
func (c counter) Add(v float64, labelVals ...string) { c.v.WithLabelValues(labelVals...).Add(v) }

// NewCounter returns a Prometheus counter vector registered under name.
func (f *Factory) NewCounter(name, help string, labelNames ...string) monitoring.Counter {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
	f.reg.MustRegister(v)
	return counter{v}
}

type gauge struct{ v *prometheus.GaugeVec }

func (g gauge) Set(v float64, labelVals ...string) { g.v.WithLabelValues(labelVals...).Set(v) }

// NewGauge returns a Prometheus gauge vector registered under name.
func (f *Factory) NewGauge(name, help string, labelNames ...string) monitoring.Gauge {
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
	f.reg.MustRegister(v)
	return gauge{v}
}

type histogram struct{ v *prometheus.HistogramVec }

func (h histogram) Observe(v float64, labelVals ...string) {
	h.v.WithLabelValues(labelVals...).Observe(v)
}

// NewHistogram returns a Prometheus histogram vector registered under name.
func (f *Factory) NewHistogram(name, help string, labelNames ...string) monitoring.Histogram {
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help}, labelNames)
	f.reg.MustRegister(v)
	return histogram{v}
}
