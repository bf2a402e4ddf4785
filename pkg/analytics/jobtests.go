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

// JobTestFilter narrows a job's test listing.
type JobTestFilter struct {
	Statuses   []string
	Priorities []string
	Search     string
	Skip       int
	Limit      int
}

// JobTest is one result row of a job listing.
type JobTest struct {
	TestKey          string  `json:"test_key"`
	FilePath         string  `json:"file_path"`
	ClassName        string  `json:"class_name"`
	TestName         string  `json:"test_name"`
	Status           string  `json:"status"`
	Topology         string  `json:"topology"`
	OrderIndex       int     `json:"order_index"`
	WasRerun         bool    `json:"was_rerun"`
	RerunStillFailed bool    `json:"rerun_still_failed"`
	FailureMessage   *string `json:"failure_message"`
	Priority         *string `json:"priority"`
	TopologyMetadata *string `json:"topology_metadata"`
}

// ListJobTests pages through one job's results with optional status,
// priority and substring filters. Returns the page and the filtered
// total.
func (e *Engine) ListJobTests(release, module, jenkinsJobID string, filter JobTestFilter) ([]JobTest, int, error) {
	jobs, err := e.jobsForModule(release, module, true)
	if err != nil {
		return nil, 0, err
	}
	rowID := 0
	for i := range jobs {
		if jobs[i].JobID == jenkinsJobID {
			rowID = jobs[i].ID
			break
		}
	}
	if rowID == 0 {
		return nil, 0, store.ErrNotFound
	}

	q := e.store.DB().Table("test_results").
		Where("job_id = ?", rowID).
		Where("testcase_module = ?", module)
	if len(filter.Statuses) > 0 {
		q = q.Where("status in (?)", filter.Statuses)
	}
	q = applyPriorityFilter(q, filter.Priorities)
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where("test_name LIKE ? OR class_name LIKE ? OR file_path LIKE ?", pattern, pattern, pattern)
	}

	total := 0
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = q.Order("order_index asc, id asc")
	if filter.Skip > 0 {
		q = q.Offset(filter.Skip)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []model.TestResult
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]JobTest, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		out = append(out, JobTest{
			TestKey:          r.TestKey(),
			FilePath:         r.FilePath,
			ClassName:        r.ClassName,
			TestName:         r.TestName,
			Status:           r.Status,
			Topology:         r.JenkinsTopology,
			OrderIndex:       r.OrderIndex,
			WasRerun:         r.WasRerun,
			RerunStillFailed: r.RerunStillFailed,
			FailureMessage:   r.FailureMessage,
			Priority:         r.Priority,
			TopologyMetadata: r.TopologyMetadata,
		})
	}
	return out, total, nil
}
