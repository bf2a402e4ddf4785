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

// Package sse streams background-job logs to HTTP clients as
// server-sent events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/jobtrack"
)

const (
	// popTimeout bounds each wait while the job is still running.
	popTimeout = 500 * time.Millisecond

	// DefaultDrainTimeout is how long the drain phase waits for a
	// straggler message before giving up. Workers may push logs after
	// the coordinator marks the job terminal.
	DefaultDrainTimeout = time.Second

	// DefaultDrainPoll is the drain phase's per-attempt wait.
	DefaultDrainPoll = 50 * time.Millisecond
)

// Settings supplies the tunable drain parameters per stream.
type Settings interface {
	FloatSetting(key string, fallback float64) float64
}

// Streamer writes job logs to clients.
type Streamer struct {
	tracker  *jobtrack.Tracker
	settings Settings
	logger   *logrus.Entry
}

// New makes a Streamer. settings may be nil, keeping the defaults.
func New(tracker *jobtrack.Tracker, settings Settings, logger *logrus.Entry) *Streamer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Streamer{
		tracker:  tracker,
		settings: settings,
		logger:   logger.WithField("component", "sse"),
	}
}

func (s *Streamer) drainParams() (time.Duration, time.Duration) {
	timeout := DefaultDrainTimeout
	poll := DefaultDrainPoll
	if s.settings != nil {
		timeout = time.Duration(s.settings.FloatSetting("SSE_DRAIN_TIMEOUT_SECONDS", timeout.Seconds()) * float64(time.Second))
		poll = time.Duration(s.settings.FloatSetting("SSE_DRAIN_POLL_INTERVAL", poll.Seconds()) * float64(time.Second))
	}
	return timeout, poll
}

func writeMessage(w http.ResponseWriter, flusher http.Flusher, msg string) {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// Stream writes the job's log as an event stream until the job reaches
// a terminal status and the drain phase runs dry, then emits the final
// status and a complete event and removes the queue.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	job := s.tracker.Get(jobID)
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	logger := s.logger.WithField("job", jobID)

	for {
		job = s.tracker.Get(jobID)
		if job == nil || job.Terminal() {
			break
		}
		if msg, ok := s.tracker.PopLog(jobID, popTimeout); ok {
			writeMessage(w, flusher, msg)
		}
		select {
		case <-ctx.Done():
			logger.Debug("client disconnected")
			s.tracker.Remove(jobID)
			return
		default:
		}
	}

	// Drain: workers may still be pushing after the terminal
	// transition. Each received message resets the timer so bursty
	// arrivals keep the stream alive.
	drainTimeout, drainPoll := s.drainParams()
	lastMessage := time.Now()
	for {
		if msg, ok := s.tracker.PopLog(jobID, drainPoll); ok {
			writeMessage(w, flusher, msg)
			lastMessage = time.Now()
			continue
		}
		if time.Since(lastMessage) > drainTimeout {
			break
		}
		select {
		case <-ctx.Done():
			s.tracker.Remove(jobID)
			return
		default:
		}
	}

	final := map[string]string{"status": jobtrack.StatusCompleted}
	if job = s.tracker.Get(jobID); job != nil {
		final["status"] = job.Status
		if job.Error != "" {
			final["error"] = job.Error
		}
	}
	payload, _ := json.Marshal(final)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	fmt.Fprint(w, "event: complete\ndata: {}\n\n")
	flusher.Flush()

	s.tracker.Remove(jobID)
}
