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

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registry collectors.
type Metrics struct {
	releaseFailuresTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		releaseFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "virtmig_registry_release_failures_total",
				Help: "Total number of resources that failed to release during teardown",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.releaseFailuresTotal)
}

// ReleaseFailures exposes the counter, mostly for tests.
func (m *Metrics) ReleaseFailures() *prometheus.CounterVec {
	return m.releaseFailuresTotal
}

func (m *Metrics) releaseFailed(kind Kind) {
	if m == nil {
		return
	}
	m.releaseFailuresTotal.WithLabelValues(string(kind)).Inc()
}
