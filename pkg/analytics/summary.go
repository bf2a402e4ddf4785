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
	"math"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// Priority buckets in display order. Tests without catalog priority
// fall into UNKNOWN.
var PriorityOrder = []string{"P0", "P1", "P2", "P3", "UNKNOWN"}

// DefaultFlakyWindow is the parent-build window flaky detection looks
// at when the setting is absent.
const DefaultFlakyWindow = 5

// Stats is the basic pass/fail aggregate.
type Stats struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"`
}

func (s *Stats) finish() {
	if s.Total > 0 {
		s.PassRate = round2(100 * float64(s.Passed) / float64(s.Total))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AdjustedStats is Stats with flaky passes removed from the numerator.
// Total is unchanged.
type AdjustedStats struct {
	Total                    int     `json:"total"`
	Passed                   int     `json:"passed"`
	Failed                   int     `json:"failed"`
	PassRate                 float64 `json:"pass_rate"`
	ExcludedPassedFlakyCount int     `json:"excluded_passed_flaky_count"`
}

// Adjust removes the flaky passes counted for this job group.
func Adjust(s Stats, passedFlaky int) AdjustedStats {
	adj := AdjustedStats{
		Total:                    s.Total,
		Passed:                   s.Passed - passedFlaky,
		Failed:                   s.Failed,
		ExcludedPassedFlakyCount: passedFlaky,
	}
	if adj.Total > 0 {
		adj.PassRate = round2(100 * float64(adj.Passed) / float64(adj.Total))
	}
	return adj
}

// SummaryOptions filter a module summary.
type SummaryOptions struct {
	Version      string
	ParentJobID  string
	Priorities   []string
	ExcludeFlaky bool
}

// ParentStats is one parent build's aggregate.
type ParentStats struct {
	ParentJobID string     `json:"parent_job_id"`
	ExecutedAt  *time.Time `json:"executed_at"`
	Stats
	AdjustedStats *AdjustedStats `json:"adjusted_stats,omitempty"`
}

// ModuleSummary is the summary endpoint payload.
type ModuleSummary struct {
	Release         string         `json:"release"`
	Module          string         `json:"module"`
	ParentJobID     string         `json:"parent_job_id"`
	Stats           Stats          `json:"stats"`
	AdjustedStats   *AdjustedStats `json:"adjusted_stats,omitempty"`
	RecentJobs      []ParentStats  `json:"recent_jobs"`
	PassRateHistory []float64      `json:"pass_rate_history"`
}

// CalculateModuleSummary aggregates the requested (or latest) parent
// build of a module, plus the last 10 parent builds as history.
// Aggregation filters by authoritative testcase module, not by the
// Jenkins job's module.
func (e *Engine) CalculateModuleSummary(release, module string, opts SummaryOptions) (*ModuleSummary, error) {
	jobs, err := e.jobsForModule(release, module, true)
	if err != nil {
		return nil, err
	}
	if opts.Version != "" {
		var filtered []jobRow
		for i := range jobs {
			if jobs[i].Version == opts.Version {
				filtered = append(filtered, jobs[i])
			}
		}
		jobs = filtered
	}
	groups := parentGroups(jobs)
	if len(groups) == 0 {
		return nil, store.ErrNotFound
	}

	target := &groups[0]
	if opts.ParentJobID != "" {
		target = nil
		for i := range groups {
			if groups[i].ParentID == opts.ParentJobID {
				target = &groups[i]
				break
			}
		}
		if target == nil {
			return nil, store.ErrNotFound
		}
	}

	recent := groups
	if len(recent) > 10 {
		recent = recent[:10]
	}

	statsByGroup, err := e.groupStats(recent, module, opts.Priorities)
	if err != nil {
		return nil, err
	}

	var passedFlaky map[string]int
	if opts.ExcludeFlaky {
		flaky, err := e.FlakyTestKeys(release, module, 0)
		if err != nil {
			return nil, err
		}
		groupIDs := map[string][]int{}
		for i := range recent {
			groupIDs[recent[i].ParentID] = recent[i].jobRowIDs()
		}
		passedFlaky, err = e.PassedFlakyCounts(groupIDs, module, flaky)
		if err != nil {
			return nil, err
		}
	}

	summary := &ModuleSummary{
		Release:     release,
		Module:      module,
		ParentJobID: target.ParentID,
		Stats:       statsByGroup[target.ParentID],
	}
	for i := range recent {
		g := &recent[i]
		ps := ParentStats{
			ParentJobID: g.ParentID,
			ExecutedAt:  g.latestExecuted(),
			Stats:       statsByGroup[g.ParentID],
		}
		if passedFlaky != nil {
			adj := Adjust(ps.Stats, passedFlaky[g.ParentID])
			ps.AdjustedStats = &adj
		}
		summary.RecentJobs = append(summary.RecentJobs, ps)
	}
	if passedFlaky != nil {
		adj := Adjust(summary.Stats, passedFlaky[target.ParentID])
		summary.AdjustedStats = &adj
	}
	// History reads oldest to newest.
	for i := len(summary.RecentJobs) - 1; i >= 0; i-- {
		if summary.RecentJobs[i].AdjustedStats != nil {
			summary.PassRateHistory = append(summary.PassRateHistory, summary.RecentJobs[i].AdjustedStats.PassRate)
		} else {
			summary.PassRateHistory = append(summary.PassRateHistory, summary.RecentJobs[i].PassRate)
		}
	}
	return summary, nil
}

// groupStats aggregates test results for several parent groups in one
// round trip: one query grouped by (job, status), folded onto groups in
// memory.
func (e *Engine) groupStats(groups []parentGroup, module string, priorities []string) (map[string]Stats, error) {
	var allIDs []int
	groupOf := map[int]string{}
	for i := range groups {
		for _, id := range groups[i].jobRowIDs() {
			allIDs = append(allIDs, id)
			groupOf[id] = groups[i].ParentID
		}
	}
	out := map[string]Stats{}
	if len(allIDs) == 0 {
		return out, nil
	}

	q := e.store.DB().Table("test_results").
		Select("job_id, status, count(*) as n").
		Where("job_id in (?)", allIDs).
		Where("testcase_module = ?", module)
	q = applyPriorityFilter(q, priorities)
	rows, err := q.Group("job_id, status").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var jobID, n int
		var status string
		if err := rows.Scan(&jobID, &status, &n); err != nil {
			return nil, err
		}
		key := groupOf[jobID]
		s := out[key]
		s.Total += n
		switch status {
		case model.StatusPassed:
			s.Passed += n
		case model.StatusFailed:
			s.Failed += n
		case model.StatusSkipped:
			s.Skipped += n
		}
		out[key] = s
	}
	for key, s := range out {
		s.finish()
		out[key] = s
	}
	return out, nil
}

func applyPriorityFilter(q *gorm.DB, priorities []string) *gorm.DB {
	if len(priorities) == 0 {
		return q
	}
	withUnknown := false
	var known []string
	for _, p := range priorities {
		if p == "UNKNOWN" {
			withUnknown = true
		} else {
			known = append(known, p)
		}
	}
	switch {
	case withUnknown && len(known) > 0:
		return q.Where("priority in (?) OR priority IS NULL", known)
	case withUnknown:
		return q.Where("priority IS NULL")
	default:
		return q.Where("priority in (?)", known)
	}
}

// FlakyTestKeys returns the set of flaky test keys over the detection
// window. window 0 reads FLAKY_DETECTION_JOB_WINDOW (default 5).
func (e *Engine) FlakyTestKeys(release, module string, window int) (map[string]bool, error) {
	if window <= 0 {
		window = e.store.IntSetting(store.SettingFlakyDetectionJobWindow, DefaultFlakyWindow)
	}
	trends, err := e.CalculateTestTrends(release, module, true, window)
	if err != nil {
		return nil, err
	}
	flaky := map[string]bool{}
	for i := range trends {
		if Classify(&trends[i]).IsFlaky {
			flaky[trends[i].TestKey()] = true
		}
	}
	return flaky, nil
}

// PassedFlakyCounts counts, per job group, the flaky tests that passed.
// One query fetches every passed key across all groups; the flaky
// intersection happens in memory.
func (e *Engine) PassedFlakyCounts(groupIDs map[string][]int, module string, flaky map[string]bool) (map[string]int, error) {
	out := map[string]int{}
	if len(flaky) == 0 || len(groupIDs) == 0 {
		return out, nil
	}
	var allIDs []int
	groupOf := map[int]string{}
	for key, ids := range groupIDs {
		for _, id := range ids {
			allIDs = append(allIDs, id)
			groupOf[id] = key
		}
	}
	rows, err := e.store.DB().Table("test_results").
		Select("job_id, file_path, class_name, test_name").
		Where("job_id in (?)", allIDs).
		Where("status = ?", model.StatusPassed).
		Where("testcase_module = ?", module).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var jobID int
		var file, class, test string
		if err := rows.Scan(&jobID, &file, &class, &test); err != nil {
			return nil, err
		}
		if flaky[file+"::"+class+"::"+test] {
			out[groupOf[jobID]]++
		}
	}
	return out, nil
}
