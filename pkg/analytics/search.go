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

	"github.com/jinzhu/gorm"

	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// TestcaseFilter narrows the catalog listing.
type TestcaseFilter struct {
	Query            string
	Priorities       []string
	Module           string
	AutomationStatus string
	TestState        string
	Component        string
	Skip             int
	Limit            int
}

// TestcaseDetail is one catalog entry joined with its mapped bugs and
// recent result history.
type TestcaseDetail struct {
	Metadata model.TestcaseMetadata `json:"metadata"`
	Bugs     []model.BugMetadata    `json:"bugs"`
	Recent   []TestcaseRun          `json:"recent_results"`
}

// TestcaseRun is one historical result of a catalog entry.
type TestcaseRun struct {
	// RELEASE is reserved in MySQL, hence the aliased column.
	Release  string  `gorm:"column:release_name" json:"release"`
	Module   string  `json:"module"`
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	TestName string  `json:"test_name"`
	Version  string  `json:"version"`
	Topology *string `json:"topology"`
}

// CatalogStatistics summarizes the testcase catalog.
type CatalogStatistics struct {
	Total              int            `json:"total"`
	ByPriority         map[string]int `json:"by_priority"`
	ByAutomationStatus map[string]int `json:"by_automation_status"`
	ByModule           map[string]int `json:"by_module"`
	WithBugs           int            `json:"with_bugs"`
}

func (e *Engine) testcaseQuery(filter TestcaseFilter) *gorm.DB {
	q := e.store.DB().Model(&model.TestcaseMetadata{})
	if filter.Query != "" {
		q = q.Where("testcase_name LIKE ?", "%"+filter.Query+"%")
	}
	if len(filter.Priorities) > 0 {
		q = applyPriorityFilter(q, filter.Priorities)
	}
	if filter.Module != "" {
		q = q.Where("module = ?", filter.Module)
	}
	if filter.AutomationStatus != "" {
		q = q.Where("automation_status = ?", filter.AutomationStatus)
	}
	if filter.TestState != "" {
		q = q.Where("test_state = ?", filter.TestState)
	}
	if filter.Component != "" {
		q = q.Where("component = ?", filter.Component)
	}
	return q
}

// SearchTestcases pages through the catalog with the given filters,
// returning the page and the filtered total.
func (e *Engine) SearchTestcases(filter TestcaseFilter) ([]model.TestcaseMetadata, int, error) {
	q := e.testcaseQuery(filter)
	total := 0
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q = q.Order("testcase_name asc")
	if filter.Skip > 0 {
		q = q.Offset(filter.Skip)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []model.TestcaseMetadata
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// GetTestcase loads one catalog entry by name with its mapped bugs and
// the most recent results joined on normalized test name.
func (e *Engine) GetTestcase(name string) (*TestcaseDetail, error) {
	var meta model.TestcaseMetadata
	err := e.store.DB().Where("testcase_name = ?", name).First(&meta).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	detail := &TestcaseDetail{Metadata: meta}

	var caseIDs []string
	if meta.TestCaseID != nil {
		caseIDs = append(caseIDs, *meta.TestCaseID)
	}
	if meta.TestrailID != nil {
		caseIDs = append(caseIDs, *meta.TestrailID)
	}
	if len(caseIDs) > 0 {
		err = e.store.DB().
			Joins("JOIN bug_testcase_mappings ON bug_testcase_mappings.bug_id = bug_metadata.id").
			Where("bug_testcase_mappings.case_id in (?)", caseIDs).
			Where("bug_metadata.is_active = ?", true).
			Find(&detail.Bugs).Error
		if err != nil {
			return nil, err
		}
	}

	nameExpr := model.NormalizedNameExpr("test_results.test_name")
	err = e.store.DB().Table("test_results").
		Select("releases.name as release_name, modules.name as module, jobs.job_id, "+
			"test_results.status, test_results.test_name, jobs.version, "+
			"test_results.topology_metadata as topology").
		Joins("JOIN jobs ON jobs.id = test_results.job_id").
		Joins("JOIN modules ON modules.id = jobs.module_id").
		Joins("JOIN releases ON releases.id = modules.release_id").
		Where(nameExpr+" = ?", name).
		Order("test_results.id desc").
		Limit(50).
		Scan(&detail.Recent).Error
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// AutocompleteTestcases returns up to limit catalog names matching the
// prefix.
func (e *Engine) AutocompleteTestcases(prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := e.store.DB().Model(&model.TestcaseMetadata{}).
		Select("testcase_name").
		Where("testcase_name LIKE ?", prefix+"%").
		Order("testcase_name asc").
		Limit(limit).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// CatalogStats aggregates the testcase catalog by priority, automation
// status and module.
func (e *Engine) CatalogStats() (*CatalogStatistics, error) {
	stats := &CatalogStatistics{
		ByPriority:         map[string]int{},
		ByAutomationStatus: map[string]int{},
		ByModule:           map[string]int{},
	}
	if err := e.store.DB().Model(&model.TestcaseMetadata{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := e.countGrouped("coalesce(priority, 'UNKNOWN')", stats.ByPriority); err != nil {
		return nil, err
	}
	if err := e.countGrouped("coalesce(automation_status, 'unknown')", stats.ByAutomationStatus); err != nil {
		return nil, err
	}
	if err := e.countGrouped("coalesce(module, 'unknown')", stats.ByModule); err != nil {
		return nil, err
	}
	err := e.store.DB().Model(&model.TestcaseMetadata{}).
		Where("test_case_id in (SELECT case_id FROM bug_testcase_mappings) "+
			"OR testrail_id in (SELECT case_id FROM bug_testcase_mappings)").
		Count(&stats.WithBugs).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (e *Engine) countGrouped(expr string, into map[string]int) error {
	rows, err := e.store.DB().Model(&model.TestcaseMetadata{}).
		Select(expr + ", count(*)").
		Group(expr).
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return nil
}

// FilteredTestcaseNames returns the sorted distinct names matching the
// filter, without pagination. Feeds bulk selection in clients.
func (e *Engine) FilteredTestcaseNames(filter TestcaseFilter) ([]string, error) {
	rows, _, err := e.SearchTestcases(filter)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for i := range rows {
		names = append(names, rows[i].TestcaseName)
	}
	sort.Strings(names)
	return names, nil
}
