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

package schedule

import (
	"testing"
	"time"
)

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		hours float64
		want  time.Duration
	}{
		{6, 6 * time.Hour},
		{0.5, 30 * time.Minute},
		{0, time.Hour},
		{-2, time.Hour},
	}
	for _, tc := range tests {
		if got := intervalDuration(tc.hours); got != tc.want {
			t.Errorf("intervalDuration(%v) = %v, want %v", tc.hours, got, tc.want)
		}
	}
}

func TestAddPollerIdempotentSpec(t *testing.T) {
	s := New(nil)
	if err := s.AddPoller(6, func() {}); err != nil {
		t.Fatal(err)
	}
	if !s.HasJob(PollerJobName) {
		t.Fatal("poller should be registered")
	}
	first := s.jobs[PollerJobName].entryID

	// Same interval keeps the existing entry.
	if err := s.AddPoller(6, func() {}); err != nil {
		t.Fatal(err)
	}
	if s.jobs[PollerJobName].entryID != first {
		t.Error("unchanged spec must not re-register the entry")
	}

	// A new interval replaces it.
	if err := s.AddPoller(12, func() {}); err != nil {
		t.Fatal(err)
	}
	if s.jobs[PollerJobName].entryID == first {
		t.Error("changed spec should re-register the entry")
	}
}

func TestUpdatePollingScheduleConverges(t *testing.T) {
	s := New(nil)
	if err := s.UpdatePollingSchedule(true, 6, func() {}); err != nil {
		t.Fatal(err)
	}
	if !s.HasJob(PollerJobName) {
		t.Fatal("enable should register the poller")
	}
	if err := s.UpdatePollingSchedule(false, 6, func() {}); err != nil {
		t.Fatal(err)
	}
	if s.HasJob(PollerJobName) {
		t.Error("disable should remove the poller")
	}
	// Disabling an absent job is a no-op, not an error.
	if err := s.UpdatePollingSchedule(false, 6, func() {}); err != nil {
		t.Errorf("second disable: %v", err)
	}
}

func TestPollerStatus(t *testing.T) {
	s := New(nil)
	st := s.PollerStatus()
	if st.Running || st.JobEnabled || st.NextRun != nil {
		t.Errorf("empty status: %+v", st)
	}

	if err := s.AddPoller(1, func() {}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()
	st = s.PollerStatus()
	if !st.Running || !st.JobEnabled {
		t.Errorf("started status: %+v", st)
	}
	if st.NextRun == nil || !st.NextRun.After(time.Now()) {
		t.Errorf("next run = %v, want a future time", st.NextRun)
	}
}

func TestOverlappingTickSkipped(t *testing.T) {
	s := New(nil)
	if err := s.AddPoller(1, func() {}); err != nil {
		t.Fatal(err)
	}
	if !s.tryBegin(PollerJobName) {
		t.Fatal("first begin should win")
	}
	if s.tryBegin(PollerJobName) {
		t.Error("second begin must be rejected while running")
	}
	s.end(PollerJobName)
	if !s.tryBegin(PollerJobName) {
		t.Error("begin should succeed again after end")
	}
}
