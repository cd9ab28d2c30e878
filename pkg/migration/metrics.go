/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package migration

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job controller collectors.
type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "virtmig_jobs_total",
				Help: "Total number of migration jobs, labeled by terminal phase",
			},
			[]string{"phase"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "virtmig_job_duration_seconds",
				Help:    "Duration of migration jobs from dispatch to terminal phase",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
}

func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.jobsTotal)
	reg.MustRegister(m.jobDuration)
}

// JobsTotal exposes the counter, mostly for tests.
func (m *Metrics) JobsTotal() *prometheus.CounterVec {
	return m.jobsTotal
}

func (m *Metrics) observe(o *Outcome) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(string(o.Phase)).Inc()
	m.jobDuration.Observe(o.Duration.Seconds())
}
