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
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// PriorityStats is one priority bucket's aggregate, optionally with
// deltas against the previous parent build.
type PriorityStats struct {
	Priority string `json:"priority"`
	Stats
	AdjustedStats *AdjustedStats  `json:"adjusted_stats,omitempty"`
	Previous      *Stats          `json:"previous,omitempty"`
	Delta         *PriorityDeltas `json:"delta,omitempty"`
}

// PriorityDeltas are bucket-level changes between two parent builds.
type PriorityDeltas struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	PassRate float64 `json:"pass_rate"`
}

// PriorityOptions filter a priority breakdown.
type PriorityOptions struct {
	Compare      bool
	ExcludeFlaky bool
}

// CalculatePriorityStats breaks a parent build's results down by
// priority (P0..P3, then UNKNOWN). With Compare set, the previous
// parent build (by creation time) is aggregated the same way and
// embedded with deltas.
func (e *Engine) CalculatePriorityStats(release, module, parentJobID string, opts PriorityOptions) ([]PriorityStats, error) {
	jobs, err := e.jobsForModule(release, module, true)
	if err != nil {
		return nil, err
	}
	groups := parentGroups(jobs)
	var target *parentGroup
	for i := range groups {
		if groups[i].ParentID == parentJobID {
			target = &groups[i]
			break
		}
	}
	if target == nil {
		return nil, store.ErrNotFound
	}
	// The comparison baseline is the parent created before the target,
	// not the next lower id.
	previous := previousByCreation(groups, target)

	current, err := e.priorityBuckets(target, module)
	if err != nil {
		return nil, err
	}

	var prevBuckets map[string]Stats
	if opts.Compare && previous != nil {
		prevBuckets, err = e.priorityBuckets(previous, module)
		if err != nil {
			return nil, err
		}
	}

	var passedFlakyByPriority map[string]int
	if opts.ExcludeFlaky {
		passedFlakyByPriority, err = e.passedFlakyByPriority(release, module, target)
		if err != nil {
			return nil, err
		}
	}

	var out []PriorityStats
	for _, priority := range PriorityOrder {
		s, ok := current[priority]
		if !ok && prevBuckets[priority].Total == 0 {
			continue
		}
		ps := PriorityStats{Priority: priority, Stats: s}
		if passedFlakyByPriority != nil {
			adj := Adjust(s, passedFlakyByPriority[priority])
			ps.AdjustedStats = &adj
		}
		if prevBuckets != nil {
			prev := prevBuckets[priority]
			ps.Previous = &prev
			ps.Delta = &PriorityDeltas{
				Total:    s.Total - prev.Total,
				Passed:   s.Passed - prev.Passed,
				Failed:   s.Failed - prev.Failed,
				PassRate: round2(s.PassRate - prev.PassRate),
			}
		}
		out = append(out, ps)
	}
	return out, nil
}

// priorityBuckets aggregates one parent group by priority in a single
// grouped query.
func (e *Engine) priorityBuckets(group *parentGroup, module string) (map[string]Stats, error) {
	out := map[string]Stats{}
	ids := group.jobRowIDs()
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := e.store.DB().Table("test_results").
		Select("coalesce(priority, 'UNKNOWN'), status, count(*) as n").
		Where("job_id in (?)", ids).
		Where("testcase_module = ?", module).
		Group("coalesce(priority, 'UNKNOWN'), status").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var priority, status string
		var n int
		if err := rows.Scan(&priority, &status, &n); err != nil {
			return nil, err
		}
		s := out[priority]
		s.Total += n
		switch status {
		case model.StatusPassed:
			s.Passed += n
		case model.StatusFailed:
			s.Failed += n
		case model.StatusSkipped:
			s.Skipped += n
		}
		out[priority] = s
	}
	for key, s := range out {
		s.finish()
		out[key] = s
	}
	return out, nil
}

// passedFlakyByPriority counts the flaky passes of one parent group per
// priority bucket.
func (e *Engine) passedFlakyByPriority(release, module string, group *parentGroup) (map[string]int, error) {
	flaky, err := e.FlakyTestKeys(release, module, 0)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	if len(flaky) == 0 {
		return out, nil
	}
	rows, err := e.store.DB().Table("test_results").
		Select("coalesce(priority, 'UNKNOWN'), file_path, class_name, test_name").
		Where("job_id in (?)", group.jobRowIDs()).
		Where("status = ?", model.StatusPassed).
		Where("testcase_module = ?", module).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var priority, file, class, test string
		if err := rows.Scan(&priority, &file, &class, &test); err != nil {
			return nil, err
		}
		if flaky[file+"::"+class+"::"+test] {
			out[priority]++
		}
	}
	return out, nil
}
