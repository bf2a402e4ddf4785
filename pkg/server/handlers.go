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

package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dataplane-ci/trendboard/pkg/analytics"
)

func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := s.store.Releases()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, releases)
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	modules, err := s.engine.TestcaseModules(vars["release"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	versions, err := s.engine.Versions(vars["release"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleParentJobs(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	jobs, err := s.engine.ParentJobs(vars["release"], vars["module"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	priorities, ok := csvParam(w, r, "priorities", validPriorities)
	if !ok {
		return
	}
	opts := analytics.SummaryOptions{
		Version:      r.URL.Query().Get("version"),
		ParentJobID:  r.URL.Query().Get("parent_job_id"),
		Priorities:   priorities,
		ExcludeFlaky: boolParam(r, "exclude_flaky"),
	}
	summary, err := s.engine.CalculateModuleSummary(vars["release"], vars["module"], opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAllModules(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	summary, err := s.engine.CalculateAllModulesSummary(vars["release"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePriorityStats(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	opts := analytics.PriorityOptions{
		Compare:      boolParam(r, "compare"),
		ExcludeFlaky: boolParam(r, "exclude_flaky"),
	}
	stats, err := s.engine.CalculatePriorityStats(vars["release"], vars["module"], vars["job"], opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// trendEntry is a trend joined with its classification, the shape the
// trends endpoint returns.
type trendEntry struct {
	analytics.TestTrend
	Classification analytics.Classification `json:"classification"`
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	jobLimit := intParam(r, "job_limit", 0)
	trends, err := s.engine.CalculateTestTrends(vars["release"], vars["module"], true, jobLimit)
	if err != nil {
		s.fail(w, err)
		return
	}

	onlyFlaky := boolParam(r, "flaky")
	onlyRegressions := boolParam(r, "regressions")
	onlyNewFailures := boolParam(r, "new_failures")
	filtered := onlyFlaky || onlyRegressions || onlyNewFailures

	out := make([]trendEntry, 0, len(trends))
	for i := range trends {
		c := analytics.Classify(&trends[i])
		if filtered {
			keep := (onlyFlaky && c.IsFlaky) ||
				(onlyRegressions && c.IsRegression) ||
				(onlyNewFailures && c.IsNewFailure)
			if !keep {
				continue
			}
		}
		out = append(out, trendEntry{TestTrend: trends[i], Classification: c})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJobTests(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	statuses, ok := csvParam(w, r, "statuses", validStatuses)
	if !ok {
		return
	}
	priorities, ok := csvParam(w, r, "priorities", validPriorities)
	if !ok {
		return
	}
	filter := analytics.JobTestFilter{
		Statuses:   statuses,
		Priorities: priorities,
		Search:     r.URL.Query().Get("search"),
		Skip:       intParam(r, "skip", 0),
		Limit:      intParam(r, "limit", 50),
	}
	tests, total, err := s.engine.ListJobTests(vars["release"], vars["module"], vars["job"], filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(tests, total, filter.Skip, filter.Limit))
}

func (s *Server) handleClusteredFailures(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	clusters, err := s.engine.ClusterJobFailures(vars["release"], vars["module"], vars["job"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clusters)
}

// bugQuery pulls the release/parent_job_id pair shared by the bug
// endpoints. Both are required; the release is pattern-checked.
func bugQuery(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	release := r.URL.Query().Get("release")
	parent := r.URL.Query().Get("parent_job_id")
	if release == "" || parent == "" {
		writeError(w, http.StatusBadRequest, "release and parent_job_id are required")
		return "", "", false
	}
	if !releasePathRE.MatchString(release) {
		writeError(w, http.StatusUnprocessableEntity, "release must look like 6.4")
		return "", "", false
	}
	return release, parent, true
}

func (s *Server) handleBugBreakdown(w http.ResponseWriter, r *http.Request) {
	release, parent, ok := bugQuery(w, r)
	if !ok {
		return
	}
	breakdown, err := s.engine.CalculateBugBreakdown(release, parent)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleBugDetails(w http.ResponseWriter, r *http.Request) {
	release, parent, ok := bugQuery(w, r)
	if !ok {
		return
	}
	details, err := s.engine.CalculateBugDetails(release, parent)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleBugAffectedTests(w http.ResponseWriter, r *http.Request) {
	release, parent, ok := bugQuery(w, r)
	if !ok {
		return
	}
	defect := r.URL.Query().Get("defect_id")
	if defect == "" {
		writeError(w, http.StatusBadRequest, "defect_id is required")
		return
	}
	tests, err := s.engine.BugAffectedTests(release, parent, defect)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tests)
}

func testcaseFilter(w http.ResponseWriter, r *http.Request) (analytics.TestcaseFilter, bool) {
	priorities, ok := csvParam(w, r, "priorities", validPriorities)
	if !ok {
		return analytics.TestcaseFilter{}, false
	}
	return analytics.TestcaseFilter{
		Query:            r.URL.Query().Get("q"),
		Priorities:       priorities,
		Module:           r.URL.Query().Get("module"),
		AutomationStatus: r.URL.Query().Get("automation_status"),
		TestState:        r.URL.Query().Get("test_state"),
		Component:        r.URL.Query().Get("component"),
		Skip:             intParam(r, "skip", 0),
		Limit:            intParam(r, "limit", 50),
	}, true
}

func (s *Server) handleSearchTestcases(w http.ResponseWriter, r *http.Request) {
	filter, ok := testcaseFilter(w, r)
	if !ok {
		return
	}
	rows, total, err := s.engine.SearchTestcases(filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(rows, total, filter.Skip, filter.Limit))
}

func (s *Server) handleGetTestcase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	detail, err := s.engine.GetTestcase(name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("q")
	names, err := s.engine.AutocompleteTestcases(prefix, intParam(r, "limit", 20))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSearchStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.CatalogStats()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFilteredTestcases(w http.ResponseWriter, r *http.Request) {
	filter, ok := testcaseFilter(w, r)
	if !ok {
		return
	}
	filter.Skip, filter.Limit = 0, 0
	names, err := s.engine.FilteredTestcaseNames(filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}
