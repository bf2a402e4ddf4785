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
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// BugBreakdown groups a parent build's bug impact per testcase module.
type BugBreakdown struct {
	Release     string            `json:"release"`
	ParentJobID string            `json:"parent_job_id"`
	Modules     []ModuleBugImpact `json:"modules"`
	// ByType counts distinct affected tests per bug type across the
	// whole parent build.
	ByType map[string]int `json:"by_type"`
}

// ModuleBugImpact is one module's bug counts in a parent build.
type ModuleBugImpact struct {
	Module string `json:"module"`
	// ByType maps bug type (VLEI, VLENG) to the number of distinct
	// affected tests in this module.
	ByType        map[string]int `json:"by_type"`
	AffectedTests int            `json:"affected_tests"`
	Bugs          int            `json:"bugs"`
}

// BugDetail is one bug with the tests it affects in a parent build.
type BugDetail struct {
	DefectID         string   `json:"defect_id"`
	BugType          string   `json:"bug_type"`
	URL              string   `json:"url"`
	Status           *string  `json:"status"`
	Summary          *string  `json:"summary"`
	Priority         *string  `json:"priority"`
	Assignee         *string  `json:"assignee"`
	Component        *string  `json:"component"`
	Resolution       *string  `json:"resolution"`
	AffectedVersions *string  `json:"affected_versions"`
	AffectedTests    []string `json:"affected_tests"`
}

// AffectedTest is one test result linked to a bug.
type AffectedTest struct {
	TestKey  string  `json:"test_key"`
	TestName string  `json:"test_name"`
	Module   *string `json:"module"`
	Status   string  `json:"status"`
	JobID    string  `json:"job_id"`
	Priority *string `json:"priority"`
}

// bugLinkRow joins a result in the parent build to a bug through the
// metadata catalog. One row per (result, bug) link.
type bugLinkRow struct {
	FilePath       string
	ClassName      string
	TestName       string
	Status         string
	Priority       *string
	TestcaseModule *string
	JenkinsJobID   string
	BugID          int
}

// bugLinks resolves the parent build's results against active bugs.
// The join goes TestResult -> TestcaseMetadata on normalized test name,
// then BugTestcaseMapping.case_id against either test_case_id or
// testrail_id, then BugMetadata.
func (e *Engine) bugLinks(release, parentJobID string) ([]bugLinkRow, map[int]model.BugMetadata, error) {
	jobs, err := e.jobsForRelease(release)
	if err != nil {
		return nil, nil, err
	}
	var ids []int
	for i := range jobs {
		if jobs[i].parentKey() == parentJobID {
			ids = append(ids, jobs[i].ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil, store.ErrNotFound
	}

	nameExpr := model.NormalizedNameExpr("test_results.test_name")
	var rows []bugLinkRow
	err = e.store.DB().Table("test_results").
		Select("test_results.file_path, test_results.class_name, test_results.test_name, "+
			"test_results.status, test_results.priority, test_results.testcase_module, "+
			"jobs.job_id as jenkins_job_id, bug_metadata.id as bug_id").
		Joins("JOIN jobs ON jobs.id = test_results.job_id").
		Joins("JOIN testcase_metadata ON testcase_metadata.testcase_name = "+nameExpr).
		Joins("JOIN bug_testcase_mappings ON bug_testcase_mappings.case_id = testcase_metadata.test_case_id "+
			"OR bug_testcase_mappings.case_id = testcase_metadata.testrail_id").
		Joins("JOIN bug_metadata ON bug_metadata.id = bug_testcase_mappings.bug_id").
		Where("test_results.job_id in (?)", ids).
		Where("bug_metadata.is_active = ?", true).
		Scan(&rows).Error
	if err != nil {
		return nil, nil, err
	}

	bugIDs := map[int]bool{}
	for i := range rows {
		bugIDs[rows[i].BugID] = true
	}
	bugs := map[int]model.BugMetadata{}
	if len(bugIDs) > 0 {
		var list []int
		for id := range bugIDs {
			list = append(list, id)
		}
		var metas []model.BugMetadata
		if err := e.store.DB().Where("id in (?)", list).Find(&metas).Error; err != nil {
			return nil, nil, err
		}
		for i := range metas {
			bugs[metas[i].ID] = metas[i]
		}
	}
	return rows, bugs, nil
}

// CalculateBugBreakdown groups bug impact by module and bug type for
// one parent build, counting distinct affected tests.
func (e *Engine) CalculateBugBreakdown(release, parentJobID string) (*BugBreakdown, error) {
	rows, bugs, err := e.bugLinks(release, parentJobID)
	if err != nil {
		return nil, err
	}
	out := &BugBreakdown{
		Release:     release,
		ParentJobID: parentJobID,
		ByType:      map[string]int{},
	}

	type moduleAgg struct {
		byType map[string]map[string]bool // bug type -> distinct test keys
		tests  map[string]bool
		bugs   map[int]bool
	}
	byModule := map[string]*moduleAgg{}
	globalByType := map[string]map[string]bool{}
	for i := range rows {
		r := &rows[i]
		moduleName := "unknown"
		if r.TestcaseModule != nil {
			moduleName = *r.TestcaseModule
		}
		agg, ok := byModule[moduleName]
		if !ok {
			agg = &moduleAgg{byType: map[string]map[string]bool{}, tests: map[string]bool{}, bugs: map[int]bool{}}
			byModule[moduleName] = agg
		}
		key := r.FilePath + "::" + r.ClassName + "::" + r.TestName
		bugType := bugs[r.BugID].BugType
		if agg.byType[bugType] == nil {
			agg.byType[bugType] = map[string]bool{}
		}
		agg.byType[bugType][key] = true
		agg.tests[key] = true
		agg.bugs[r.BugID] = true
		if globalByType[bugType] == nil {
			globalByType[bugType] = map[string]bool{}
		}
		globalByType[bugType][key] = true
	}

	var names []string
	for name := range byModule {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agg := byModule[name]
		impact := ModuleBugImpact{
			Module:        name,
			ByType:        map[string]int{},
			AffectedTests: len(agg.tests),
			Bugs:          len(agg.bugs),
		}
		for bugType, keys := range agg.byType {
			impact.ByType[bugType] = len(keys)
		}
		out.Modules = append(out.Modules, impact)
	}
	for bugType, keys := range globalByType {
		out.ByType[bugType] = len(keys)
	}
	return out, nil
}

// CalculateBugDetails lists each active bug affecting the parent build
// with its distinct affected test keys.
func (e *Engine) CalculateBugDetails(release, parentJobID string) ([]BugDetail, error) {
	rows, bugs, err := e.bugLinks(release, parentJobID)
	if err != nil {
		return nil, err
	}
	affected := map[int]map[string]bool{}
	for i := range rows {
		r := &rows[i]
		if affected[r.BugID] == nil {
			affected[r.BugID] = map[string]bool{}
		}
		affected[r.BugID][r.FilePath+"::"+r.ClassName+"::"+r.TestName] = true
	}
	var out []BugDetail
	for bugID, keys := range affected {
		meta := bugs[bugID]
		d := BugDetail{
			DefectID:         meta.DefectID,
			BugType:          meta.BugType,
			URL:              meta.URL,
			Status:           meta.Status,
			Summary:          meta.Summary,
			Priority:         meta.Priority,
			Assignee:         meta.Assignee,
			Component:        meta.Component,
			Resolution:       meta.Resolution,
			AffectedVersions: meta.AffectedVersions,
		}
		for key := range keys {
			d.AffectedTests = append(d.AffectedTests, key)
		}
		sort.Strings(d.AffectedTests)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DefectID < out[j].DefectID })
	return out, nil
}

// BugAffectedTests lists the results in a parent build linked to one
// bug, identified by defect id.
func (e *Engine) BugAffectedTests(release, parentJobID, defectID string) ([]AffectedTest, error) {
	rows, bugs, err := e.bugLinks(release, parentJobID)
	if err != nil {
		return nil, err
	}
	bugID := -1
	for id, meta := range bugs {
		if meta.DefectID == defectID {
			bugID = id
			break
		}
	}
	if bugID == -1 {
		return nil, store.ErrNotFound
	}
	seen := map[string]bool{}
	var out []AffectedTest
	for i := range rows {
		r := &rows[i]
		if r.BugID != bugID {
			continue
		}
		key := r.FilePath + "::" + r.ClassName + "::" + r.TestName
		dedup := key + "@" + r.JenkinsJobID
		if seen[dedup] {
			continue
		}
		seen[dedup] = true
		out = append(out, AffectedTest{
			TestKey:  key,
			TestName: r.TestName,
			Module:   r.TestcaseModule,
			Status:   r.Status,
			JobID:    r.JenkinsJobID,
			Priority: r.Priority,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TestKey != out[j].TestKey {
			return out[i].TestKey < out[j].TestKey
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}
