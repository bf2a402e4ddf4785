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
)

// ModuleBreakdown is one module's slice of the all-modules summary.
type ModuleBreakdown struct {
	Module string `json:"module"`
	Stats
	ByPriority map[string]Stats `json:"by_priority"`
	FlakyTests []string         `json:"flaky_tests"`
}

// AllModulesSummary covers every testcase module seen in a release.
// Per-module totals sum to the release's parent-build totals because
// each result carries exactly one testcase_module.
type AllModulesSummary struct {
	Release    string            `json:"release"`
	Modules    []ModuleBreakdown `json:"modules"`
	Stats      Stats             `json:"stats"`
	ByPriority map[string]Stats  `json:"by_priority"`
	// FlakyTests is the union of flaky test keys across modules.
	FlakyTests []string `json:"flaky_tests"`
}

// TestcaseModules enumerates the distinct testcase_module values that
// produced results for a release.
func (e *Engine) TestcaseModules(release string) ([]string, error) {
	rows, err := e.store.DB().Table("test_results").
		Select("DISTINCT test_results.testcase_module").
		Joins("JOIN jobs ON jobs.id = test_results.job_id").
		Joins("JOIN modules ON modules.id = jobs.module_id").
		Joins("JOIN releases ON releases.id = modules.release_id").
		Where("releases.name = ?", release).
		Where("test_results.testcase_module IS NOT NULL").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// CalculateAllModulesSummary builds the per-module failure summary for
// every testcase module of a release and folds the totals, priority
// buckets and the flaky-key union on top.
func (e *Engine) CalculateAllModulesSummary(release string) (*AllModulesSummary, error) {
	modules, err := e.TestcaseModules(release)
	if err != nil {
		return nil, err
	}
	out := &AllModulesSummary{
		Release:    release,
		ByPriority: map[string]Stats{},
	}
	flakyUnion := map[string]bool{}
	for _, module := range modules {
		mb, err := e.moduleBreakdown(release, module)
		if err != nil {
			return nil, err
		}
		if mb == nil {
			continue
		}
		out.Modules = append(out.Modules, *mb)
		out.Stats.Total += mb.Total
		out.Stats.Passed += mb.Passed
		out.Stats.Failed += mb.Failed
		out.Stats.Skipped += mb.Skipped
		for priority, s := range mb.ByPriority {
			agg := out.ByPriority[priority]
			agg.Total += s.Total
			agg.Passed += s.Passed
			agg.Failed += s.Failed
			agg.Skipped += s.Skipped
			out.ByPriority[priority] = agg
		}
		for _, key := range mb.FlakyTests {
			flakyUnion[key] = true
		}
	}
	out.Stats.finish()
	for priority, s := range out.ByPriority {
		s.finish()
		out.ByPriority[priority] = s
	}
	for key := range flakyUnion {
		out.FlakyTests = append(out.FlakyTests, key)
	}
	sort.Strings(out.FlakyTests)
	return out, nil
}

// moduleBreakdown aggregates one module's latest parent build. Modules
// whose jobs predate result-level module attribution come back nil.
func (e *Engine) moduleBreakdown(release, module string) (*ModuleBreakdown, error) {
	jobs, err := e.jobsForModule(release, module, true)
	if err != nil {
		return nil, err
	}
	groups := parentGroups(jobs)
	if len(groups) == 0 {
		return nil, nil
	}
	target := &groups[0]

	buckets, err := e.priorityBuckets(target, module)
	if err != nil {
		return nil, err
	}
	mb := &ModuleBreakdown{Module: module, ByPriority: buckets}
	for _, s := range buckets {
		mb.Total += s.Total
		mb.Passed += s.Passed
		mb.Failed += s.Failed
		mb.Skipped += s.Skipped
	}
	mb.Stats.finish()

	flaky, err := e.FlakyTestKeys(release, module, 0)
	if err != nil {
		return nil, err
	}
	for key := range flaky {
		mb.FlakyTests = append(mb.FlakyTests, key)
	}
	sort.Strings(mb.FlakyTests)
	return mb, nil
}
