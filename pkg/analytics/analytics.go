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

// Package analytics computes trends, classifications and aggregates
// from stored test results. Queries are batched per group key; nothing
// in here issues one query per row.
package analytics

import (
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/store"
)

// Engine answers analytics queries against the store.
type Engine struct {
	store  *store.Store
	logger *logrus.Entry
}

// New makes an Engine. A nil logger falls back to the standard logger.
func New(st *store.Store, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{store: st, logger: logger.WithField("component", "analytics")}
}

// jobRow is a job joined with its module and release names.
type jobRow struct {
	ID          int
	JobID       string
	ParentJobID *string
	ModuleName  string
	Total       int
	Passed      int
	Failed      int
	Skipped     int
	PassRate    float64
	Version     string
	CreatedAt   time.Time
	ExecutedAt  *time.Time
}

// parentKey groups a job under its parent build; standalone jobs group
// under themselves.
func (j *jobRow) parentKey() string {
	if j.ParentJobID != nil && *j.ParentJobID != "" {
		return *j.ParentJobID
	}
	return j.JobID
}

// numericID sorts numeric-string job ids numerically; non-numeric ids
// sort lowest.
func numericID(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// jobsForModule selects the jobs of a release/module. The authoritative
// mode keeps any job that produced at least one result whose file path
// maps to the module; the legacy mode goes by the Jenkins module name.
func (e *Engine) jobsForModule(release, module string, useTestcaseModule bool) ([]jobRow, error) {
	q := e.store.DB().Table("jobs").
		Select("jobs.id, jobs.job_id, jobs.parent_job_id, modules.name as module_name, "+
			"jobs.total, jobs.passed, jobs.failed, jobs.skipped, jobs.pass_rate, "+
			"jobs.version, jobs.created_at, jobs.executed_at").
		Joins("JOIN modules ON modules.id = jobs.module_id").
		Joins("JOIN releases ON releases.id = modules.release_id").
		Where("releases.name = ?", release)
	if useTestcaseModule {
		q = q.Where("EXISTS (SELECT 1 FROM test_results WHERE test_results.job_id = jobs.id "+
			"AND test_results.testcase_module = ?)", module)
	} else {
		q = q.Where("modules.name = ?", module)
	}
	var rows []jobRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// jobsForRelease selects every job of a release.
func (e *Engine) jobsForRelease(release string) ([]jobRow, error) {
	var rows []jobRow
	err := e.store.DB().Table("jobs").
		Select("jobs.id, jobs.job_id, jobs.parent_job_id, modules.name as module_name, "+
			"jobs.total, jobs.passed, jobs.failed, jobs.skipped, jobs.pass_rate, "+
			"jobs.version, jobs.created_at, jobs.executed_at").
		Joins("JOIN modules ON modules.id = jobs.module_id").
		Joins("JOIN releases ON releases.id = modules.release_id").
		Where("releases.name = ?", release).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// limitToParents keeps the jobs whose parent key is among the top-N
// parents by descending numeric value. Every sub-job of a retained
// parent stays, so tests living in older sibling jobs remain visible.
func limitToParents(jobs []jobRow, jobLimit int) []jobRow {
	if jobLimit <= 0 {
		return jobs
	}
	seen := map[string]bool{}
	var parents []string
	for i := range jobs {
		key := jobs[i].parentKey()
		if !seen[key] {
			seen[key] = true
			parents = append(parents, key)
		}
	}
	sort.Slice(parents, func(i, j int) bool { return numericID(parents[i]) > numericID(parents[j]) })
	if len(parents) > jobLimit {
		parents = parents[:jobLimit]
	}
	keep := map[string]bool{}
	for _, p := range parents {
		keep[p] = true
	}
	var out []jobRow
	for i := range jobs {
		if keep[jobs[i].parentKey()] {
			out = append(out, jobs[i])
		}
	}
	return out
}

// parentGroups groups jobs by parent key, ordered by descending
// numeric parent id (newest first).
func parentGroups(jobs []jobRow) []parentGroup {
	byParent := map[string][]jobRow{}
	var keys []string
	for i := range jobs {
		key := jobs[i].parentKey()
		if _, ok := byParent[key]; !ok {
			keys = append(keys, key)
		}
		byParent[key] = append(byParent[key], jobs[i])
	}
	sort.Slice(keys, func(i, j int) bool { return numericID(keys[i]) > numericID(keys[j]) })
	groups := make([]parentGroup, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, parentGroup{ParentID: key, Jobs: byParent[key]})
	}
	return groups
}

type parentGroup struct {
	ParentID string
	Jobs     []jobRow
}

func (g *parentGroup) jobRowIDs() []int {
	ids := make([]int, 0, len(g.Jobs))
	for i := range g.Jobs {
		ids = append(ids, g.Jobs[i].ID)
	}
	return ids
}

// createdAt is the newest job creation time in the group.
func (g *parentGroup) createdAt() time.Time {
	var latest time.Time
	for i := range g.Jobs {
		if g.Jobs[i].CreatedAt.After(latest) {
			latest = g.Jobs[i].CreatedAt
		}
	}
	return latest
}

// previousByCreation picks the group created most recently before
// target. Backfilled old builds carry low parent ids but late creation
// times, so numeric id order is not a substitute. Ties fall back to
// numeric parent id order.
func previousByCreation(groups []parentGroup, target *parentGroup) *parentGroup {
	targetAt := target.createdAt()
	targetID := numericID(target.ParentID)
	var prev *parentGroup
	var prevAt time.Time
	for i := range groups {
		g := &groups[i]
		if g.ParentID == target.ParentID {
			continue
		}
		at := g.createdAt()
		if at.After(targetAt) || (at.Equal(targetAt) && numericID(g.ParentID) > targetID) {
			continue
		}
		if prev == nil || at.After(prevAt) || (at.Equal(prevAt) && numericID(g.ParentID) > numericID(prev.ParentID)) {
			prev, prevAt = g, at
		}
	}
	return prev
}

// latestExecuted returns the most recent execution time of the group.
func (g *parentGroup) latestExecuted() *time.Time {
	var latest *time.Time
	for i := range g.Jobs {
		t := g.Jobs[i].ExecutedAt
		if t == nil {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = t
		}
	}
	return latest
}
