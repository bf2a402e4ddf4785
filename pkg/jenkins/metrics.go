/*
Copyright 2026 The Trendboard Authors.

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

package jenkins

import "github.com/prometheus/client_golang/prometheus"

var (
	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jenkins_requests",
		Help: "Number of Jenkins requests made.",
	}, []string{
		// http verb of the request
		"verb",
		// path of the request
		"handler",
		// http status code of the request
		"code",
	})
	requestRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jenkins_request_retries",
		Help: "Number of Jenkins request retries made.",
	})
	requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jenkins_request_latency",
		Help:    "Time for a request to roundtrip to Jenkins.",
		Buckets: prometheus.DefBuckets,
	}, []string{
		// http verb of the request
		"verb",
		// path of the request
		"handler",
	})
	pollCycle = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poll_cycle_seconds",
		Help:    "Time the poller takes to complete one discovery loop.",
		Buckets: prometheus.ExponentialBuckets(1, 3, 5),
	})
	jobsImported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_imported_total",
		Help: "Number of module jobs imported into the store.",
	})
)

func init() {
	prometheus.MustRegister(requests)
	prometheus.MustRegister(requestRetries)
	prometheus.MustRegister(requestLatency)
	prometheus.MustRegister(pollCycle)
	prometheus.MustRegister(jobsImported)
}

// ClientMetrics is a set of metrics gathered by the Jenkins client.
type ClientMetrics struct {
	Requests       *prometheus.CounterVec
	RequestRetries prometheus.Counter
	RequestLatency *prometheus.HistogramVec
}

// Metrics is a set of metrics gathered by the service. It includes
// client metrics and metrics related to the polling loop.
type Metrics struct {
	ClientMetrics *ClientMetrics
	PollCycle     prometheus.Histogram
	JobsImported  prometheus.Counter
}

// NewMetrics creates a new set of metrics for the service.
func NewMetrics() *Metrics {
	return &Metrics{
		ClientMetrics: &ClientMetrics{
			Requests:       requests,
			RequestRetries: requestRetries,
			RequestLatency: requestLatency,
		},
		PollCycle:    pollCycle,
		JobsImported: jobsImported,
	}
}
