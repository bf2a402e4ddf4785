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
	"sort"
	"time"
)

// Versions lists the distinct build versions seen in a release, newest
// first by string comparison of dotted numerics.
func (e *Engine) Versions(release string) ([]string, error) {
	rows, err := e.store.DB().Table("jobs").
		Select("DISTINCT jobs.version").
		Joins("JOIN modules ON modules.id = jobs.module_id").
		Joins("JOIN releases ON releases.id = modules.release_id").
		Where("releases.name = ?", release).
		Where("jobs.version <> ''").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// ParentJob is one parent build of a module, newest first.
type ParentJob struct {
	ParentJobID string     `json:"parent_job_id"`
	Version     string     `json:"version"`
	ExecutedAt  *time.Time `json:"executed_at"`
	SubJobs     int        `json:"sub_jobs"`
}

// ParentJobs lists the parent builds that produced results for a
// module, newest first.
func (e *Engine) ParentJobs(release, module string) ([]ParentJob, error) {
	jobs, err := e.jobsForModule(release, module, true)
	if err != nil {
		return nil, err
	}
	groups := parentGroups(jobs)
	out := make([]ParentJob, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		pj := ParentJob{
			ParentJobID: g.ParentID,
			ExecutedAt:  g.latestExecuted(),
			SubJobs:     len(g.Jobs),
		}
		for j := range g.Jobs {
			if g.Jobs[j].Version != "" {
				pj.Version = g.Jobs[j].Version
				break
			}
		}
		out = append(out, pj)
	}
	return out, nil
}
