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
	"github.com/dataplane-ci/trendboard/pkg/model"
)

// Classification is the verdict over one test's history.
type Classification struct {
	LatestStatus    string `json:"latest_status"`
	IsAlwaysPassing bool   `json:"is_always_passing"`
	IsAlwaysFailing bool   `json:"is_always_failing"`
	IsRegression    bool   `json:"is_regression"`
	IsFlaky         bool   `json:"is_flaky"`
	IsNewFailure    bool   `json:"is_new_failure"`
}

// Classify evaluates a trend over its jobs in ascending numeric job
// order.
func Classify(t *TestTrend) Classification {
	ids := t.SortedJobIDs()
	statuses := make([]string, 0, len(ids))
	for _, id := range ids {
		statuses = append(statuses, t.ResultsByJob[id])
	}
	return classifyStatuses(statuses)
}

func classifyStatuses(statuses []string) Classification {
	var c Classification
	if len(statuses) == 0 {
		return c
	}
	c.LatestStatus = statuses[len(statuses)-1]

	passes, fails := 0, 0
	for _, s := range statuses {
		switch s {
		case model.StatusPassed:
			passes++
		case model.StatusFailed:
			fails++
		}
	}
	c.IsAlwaysPassing = passes == len(statuses)
	c.IsAlwaysFailing = fails == len(statuses)
	c.IsRegression = isRegression(statuses, passes)
	c.IsFlaky = isFlaky(statuses, passes, fails, c.IsRegression)
	c.IsNewFailure = isNewFailure(statuses)
	return c
}

// isRegression requires a pass on record, at least two consecutive
// failures at the tail, and no pass after the first failure anywhere.
func isRegression(statuses []string, passes int) bool {
	if passes == 0 {
		return false
	}
	tailFails := 0
	for i := len(statuses) - 1; i >= 0 && statuses[i] == model.StatusFailed; i-- {
		tailFails++
	}
	if tailFails < 2 {
		return false
	}
	firstFail := -1
	for i, s := range statuses {
		if s == model.StatusFailed {
			firstFail = i
			break
		}
	}
	for i := firstFail + 1; i < len(statuses); i++ {
		if statuses[i] == model.StatusPassed {
			return false
		}
	}
	return true
}

// isFlaky requires both outcomes, failures beyond just the latest run
// (a single failure in the latest job is a new failure, not flake),
// and the history not being a regression.
func isFlaky(statuses []string, passes, fails int, regression bool) bool {
	if passes == 0 || fails == 0 || regression {
		return false
	}
	if fails == 1 && statuses[len(statuses)-1] == model.StatusFailed {
		return false
	}
	return true
}

// isNewFailure looks only at the last two runs of this test: a pass
// immediately followed by the latest failure.
func isNewFailure(statuses []string) bool {
	if len(statuses) < 2 {
		return false
	}
	prev := statuses[len(statuses)-2]
	cur := statuses[len(statuses)-1]
	return prev == model.StatusPassed && cur == model.StatusFailed
}
