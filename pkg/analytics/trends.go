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

	"github.com/dataplane-ci/trendboard/pkg/model"
)

// RerunInfo carries the rerun flags of one result.
type RerunInfo struct {
	WasRerun         bool `json:"was_rerun"`
	RerunStillFailed bool `json:"rerun_still_failed"`
}

// TestTrend is the per-test history across the selected jobs.
type TestTrend struct {
	FilePath         string  `json:"file_path"`
	ClassName        string  `json:"class_name"`
	TestName         string  `json:"test_name"`
	Priority         *string `json:"priority"`
	TopologyMetadata *string `json:"topology_metadata"`
	TestState        *string `json:"test_state"`
	// ResultsByJob maps jenkins job id to status.
	ResultsByJob   map[string]string    `json:"results_by_job"`
	RerunInfoByJob map[string]RerunInfo `json:"rerun_info_by_job"`
	// JobModules maps jenkins job id to the Jenkins module it ran in.
	JobModules map[string]string `json:"job_modules"`
	// ParentJobIDs maps jenkins job id to its parent build id.
	ParentJobIDs map[string]string `json:"parent_job_ids"`
}

// TestKey is the composite logical key of the trend.
func (t *TestTrend) TestKey() string {
	return t.FilePath + "::" + t.ClassName + "::" + t.TestName
}

// SortedJobIDs returns the job ids the test appeared in, ascending
// numerically.
func (t *TestTrend) SortedJobIDs() []string {
	ids := make([]string, 0, len(t.ResultsByJob))
	for id := range t.ResultsByJob {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return numericID(ids[i]) < numericID(ids[j]) })
	return ids
}

// trendResultRow is one test result joined with its job identity.
type trendResultRow struct {
	FilePath         string
	ClassName        string
	TestName         string
	Status           string
	WasRerun         bool
	RerunStillFailed bool
	Priority         *string
	TopologyMetadata *string
	JobID            string
	ParentJobID      *string
	ModuleName       string
}

// CalculateTestTrends builds per-test trends for a release/module over
// a window of parent builds. jobLimit restricts to the newest N parent
// builds (0 means all); every sub-job of a retained parent is kept.
func (e *Engine) CalculateTestTrends(release, module string, useTestcaseModule bool, jobLimit int) ([]TestTrend, error) {
	jobs, err := e.jobsForModule(release, module, useTestcaseModule)
	if err != nil {
		return nil, err
	}
	jobs = limitToParents(jobs, jobLimit)
	if len(jobs) == 0 {
		return nil, nil
	}

	ids := make([]int, 0, len(jobs))
	for i := range jobs {
		ids = append(ids, jobs[i].ID)
	}

	q := e.store.DB().Table("test_results").
		Select("test_results.file_path, test_results.class_name, test_results.test_name, "+
			"test_results.status, test_results.was_rerun, test_results.rerun_still_failed, "+
			"test_results.priority, test_results.topology_metadata, "+
			"jobs.job_id, jobs.parent_job_id, modules.name as module_name").
		Joins("JOIN jobs ON jobs.id = test_results.job_id").
		Joins("JOIN modules ON modules.id = jobs.module_id").
		Where("test_results.job_id in (?)", ids)
	if useTestcaseModule {
		q = q.Where("test_results.testcase_module = ?", module)
	}
	var rows []trendResultRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	trends := map[string]*TestTrend{}
	var order []string
	for i := range rows {
		r := &rows[i]
		key := r.FilePath + "::" + r.ClassName + "::" + r.TestName
		t, ok := trends[key]
		if !ok {
			t = &TestTrend{
				FilePath:         r.FilePath,
				ClassName:        r.ClassName,
				TestName:         r.TestName,
				Priority:         r.Priority,
				TopologyMetadata: r.TopologyMetadata,
				ResultsByJob:     map[string]string{},
				RerunInfoByJob:   map[string]RerunInfo{},
				JobModules:       map[string]string{},
				ParentJobIDs:     map[string]string{},
			}
			trends[key] = t
			order = append(order, key)
		}
		if t.Priority == nil && r.Priority != nil {
			t.Priority = r.Priority
		}
		if t.TopologyMetadata == nil && r.TopologyMetadata != nil {
			t.TopologyMetadata = r.TopologyMetadata
		}
		t.ResultsByJob[r.JobID] = r.Status
		if r.WasRerun {
			t.RerunInfoByJob[r.JobID] = RerunInfo{WasRerun: true, RerunStillFailed: r.RerunStillFailed}
		}
		t.JobModules[r.JobID] = r.ModuleName
		if r.ParentJobID != nil {
			t.ParentJobIDs[r.JobID] = *r.ParentJobID
		} else {
			t.ParentJobIDs[r.JobID] = r.JobID
		}
	}

	if err := e.enrichTestState(trends); err != nil {
		return nil, err
	}

	out := make([]TestTrend, 0, len(order))
	for _, key := range order {
		out = append(out, *trends[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestKey() < out[j].TestKey() })
	return out, nil
}

// enrichTestState joins test_state from the metadata catalog on
// normalized test name, one query for the whole trend set.
func (e *Engine) enrichTestState(trends map[string]*TestTrend) error {
	names := map[string][]*TestTrend{}
	var list []string
	for _, t := range trends {
		n := model.NormalizeTestName(t.TestName)
		if _, ok := names[n]; !ok {
			list = append(list, n)
		}
		names[n] = append(names[n], t)
	}
	if len(list) == 0 {
		return nil
	}
	var rows []model.TestcaseMetadata
	if err := e.store.DB().Where("testcase_name in (?)", list).Find(&rows).Error; err != nil {
		return err
	}
	for i := range rows {
		for _, t := range names[rows[i].TestcaseName] {
			t.TestState = rows[i].TestState
			if t.Priority == nil {
				t.Priority = rows[i].Priority
			}
		}
	}
	return nil
}
