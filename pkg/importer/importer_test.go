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

package importer

import (
	"testing"

	"github.com/jinzhu/gorm"

	"github.com/dataplane-ci/trendboard/pkg/logparse"
	"github.com/dataplane-ci/trendboard/pkg/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	config := model.SQLiteConfig{File: ":memory:"}
	db, err := config.CreateDatabase()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTestcaseModule(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data_plane/tests/routing/test_bgp.py", "routing"},
		{"data_plane/tests/business_policy/sub/test_x.py", "business_policy"},
		{"other/tests/routing/test_bgp.py", ""},
		{"data_plane/tests/", ""},
	}
	for _, tc := range tests {
		got := TestcaseModule(tc.path)
		if tc.want == "" {
			if got != nil {
				t.Errorf("TestcaseModule(%q) = %q, want nil", tc.path, *got)
			}
			continue
		}
		if got == nil || *got != tc.want {
			t.Errorf("TestcaseModule(%q) = %v, want %q", tc.path, got, tc.want)
		}
	}
}

func parsed(file, class, test, status string) *logparse.TestResult {
	return &logparse.TestResult{FilePath: file, ClassName: class, TestName: test, Status: status, Topology: "5s"}
}

func TestImportJob(t *testing.T) {
	db := testDB(t)
	im := New(nil)

	req := Request{
		ReleaseName: "6.4",
		ModuleName:  "routing",
		JobID:       "42",
		ParentJobID: "100",
		Version:     "6.4.0.1",
		Results: []*logparse.TestResult{
			parsed("data_plane/tests/routing/a.py", "T", "t1", logparse.StatusPassed),
			parsed("data_plane/tests/routing/a.py", "T", "t2", logparse.StatusError),
			parsed("data_plane/tests/routing/a.py", "T", "t3", logparse.StatusSkipped),
			parsed("data_plane/tests/routing/a.py", "T", "t4", logparse.StatusFailed),
		},
	}
	job, count, err := im.ImportJob(db, req)
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Fatalf("imported %d results, want 4", count)
	}
	if job.Total != 4 || job.Passed != 1 || job.Failed != 2 || job.Skipped != 1 {
		t.Errorf("job stats: %+v", job)
	}
	// Persisted pass rate divides by total, not by executed.
	if job.PassRate != 25 {
		t.Errorf("pass rate = %v, want 25", job.PassRate)
	}
	if job.ParentJobID == nil || *job.ParentJobID != "100" {
		t.Errorf("parent job id = %v", job.ParentJobID)
	}

	// ERROR folds to FAILED on insert.
	var rows []model.TestResult
	if err := db.Where("test_name = ?", "t2").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != model.StatusFailed {
		t.Fatalf("t2 should be persisted FAILED, got %+v", rows)
	}
	if rows[0].TestcaseModule == nil || *rows[0].TestcaseModule != "routing" {
		t.Errorf("testcase module = %v, want routing", rows[0].TestcaseModule)
	}
}

func TestImportJobSkipIfExists(t *testing.T) {
	db := testDB(t)
	im := New(nil)
	req := Request{
		ReleaseName:  "6.4",
		ModuleName:   "routing",
		JobID:        "42",
		Results:      []*logparse.TestResult{parsed("a.py", "T", "t1", logparse.StatusPassed)},
		SkipIfExists: true,
	}
	if _, _, err := im.ImportJob(db, req); err != nil {
		t.Fatal(err)
	}
	_, count, err := im.ImportJob(db, req)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("second import wrote %d results, want 0", count)
	}
	var total int
	db.Model(&model.TestResult{}).Count(&total)
	if total != 1 {
		t.Errorf("result rows = %d, want 1", total)
	}
}

func TestImportJobReimportReplaces(t *testing.T) {
	db := testDB(t)
	im := New(nil)
	req := Request{
		ReleaseName: "6.4",
		ModuleName:  "routing",
		JobID:       "42",
		Results: []*logparse.TestResult{
			parsed("a.py", "T", "t1", logparse.StatusFailed),
			parsed("a.py", "T", "t2", logparse.StatusFailed),
		},
	}
	if _, _, err := im.ImportJob(db, req); err != nil {
		t.Fatal(err)
	}

	req.Results = []*logparse.TestResult{parsed("a.py", "T", "t1", logparse.StatusPassed)}
	job, count, err := im.ImportJob(db, req)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 || job.Total != 1 || job.Passed != 1 {
		t.Errorf("re-import stats: count=%d job=%+v", count, job)
	}
	var total int
	db.Model(&model.TestResult{}).Where("job_id = ?", job.ID).Count(&total)
	if total != 1 {
		t.Errorf("old results should be replaced, have %d rows", total)
	}

	var jobs int
	db.Model(&model.Job{}).Count(&jobs)
	if jobs != 1 {
		t.Errorf("job rows = %d, want 1", jobs)
	}
}

func TestImportJobEnrichesFromMetadata(t *testing.T) {
	db := testDB(t)
	priority := "P1"
	topology := "5s"
	db.Create(&model.TestcaseMetadata{TestcaseName: "t1", Priority: &priority, Topology: &topology})

	im := New(nil)
	req := Request{
		ReleaseName: "6.4",
		ModuleName:  "routing",
		JobID:       "42",
		Results:     []*logparse.TestResult{parsed("a.py", "T", "t1[param]", logparse.StatusPassed)},
	}
	if _, _, err := im.ImportJob(db, req); err != nil {
		t.Fatal(err)
	}
	var row model.TestResult
	if err := db.First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Priority == nil || *row.Priority != "P1" {
		t.Errorf("priority = %v, want P1 via normalized name", row.Priority)
	}
	if row.TopologyMetadata == nil || *row.TopologyMetadata != "5s" {
		t.Errorf("topology metadata = %v, want 5s", row.TopologyMetadata)
	}
}
