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

package analytics

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dataplane-ci/trendboard/pkg/model"
)

const (
	p = model.StatusPassed
	f = model.StatusFailed
	s = model.StatusSkipped
)

func TestClassifyStatuses(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     Classification
	}{
		{
			name:     "empty history",
			statuses: nil,
			want:     Classification{},
		},
		{
			name:     "always passing",
			statuses: []string{p, p, p},
			want:     Classification{LatestStatus: p, IsAlwaysPassing: true},
		},
		{
			name:     "always failing",
			statuses: []string{f, f},
			want:     Classification{LatestStatus: f, IsAlwaysFailing: true},
		},
		{
			name:     "single failure",
			statuses: []string{f},
			want:     Classification{LatestStatus: f, IsAlwaysFailing: true},
		},
		{
			name:     "regression",
			statuses: []string{p, p, f, f},
			want:     Classification{LatestStatus: f, IsRegression: true},
		},
		{
			// A pass after the first failure breaks the regression and
			// makes the history flaky instead.
			name:     "recovered then failing again",
			statuses: []string{p, f, p, f, f},
			want:     Classification{LatestStatus: f, IsFlaky: true},
		},
		{
			// One tail failure is too short for a regression; the last
			// two runs make it a new failure.
			name:     "new failure",
			statuses: []string{p, p, f},
			want:     Classification{LatestStatus: f, IsNewFailure: true},
		},
		{
			name:     "shortest regression",
			statuses: []string{p, f, f},
			want:     Classification{LatestStatus: f, IsRegression: true},
		},
		{
			name:     "recovered flake",
			statuses: []string{f, p},
			want:     Classification{LatestStatus: p, IsFlaky: true},
		},
		{
			// Skips count toward neither passes nor failures, so the
			// single failure after a skip is not flaky or new.
			name:     "skip then fail",
			statuses: []string{p, s, f},
			want:     Classification{LatestStatus: f},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyStatuses(tc.statuses)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("classification mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyOrdersJobsNumerically(t *testing.T) {
	// Job "9" predates job "10"; string ordering would invert them and
	// turn this regression into a flake.
	trend := TestTrend{
		FilePath:  "a.py",
		ClassName: "T",
		TestName:  "t1",
		ResultsByJob: map[string]string{
			"9":  p,
			"10": f,
			"11": f,
		},
	}
	got := Classify(&trend)
	if !got.IsRegression || got.LatestStatus != f {
		t.Errorf("expected regression with latest FAILED, got %+v", got)
	}
}
