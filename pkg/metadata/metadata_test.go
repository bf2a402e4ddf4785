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

package metadata

import (
	"strings"
	"testing"

	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

func testImporter(t *testing.T) (*Importer, *store.Store) {
	t.Helper()
	config := model.SQLiteConfig{File: ":memory:"}
	db, err := config.CreateDatabase()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db, nil)
	return New(st, nil), st
}

const catalogCSV = `testcase_name,priority,module,topology,test_state
test_advertise,P1,routing,5s,active
test_flows,P2,business_policy,1s,active
`

func TestSyncCreatesAndUpdates(t *testing.T) {
	im, st := testImporter(t)

	res, err := im.Sync(strings.NewReader(catalogCSV))
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || res.Created != 2 || res.Updated != 0 {
		t.Errorf("first sync: %+v", res)
	}

	// Re-running with one changed priority updates just that row and
	// records the field change.
	updated := strings.Replace(catalogCSV, "test_advertise,P1", "test_advertise,P0", 1)
	res, err = im.Sync(strings.NewReader(updated))
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || res.Created != 0 || res.Updated != 1 {
		t.Errorf("second sync: %+v", res)
	}

	var row model.TestcaseMetadata
	if err := st.DB().Where("testcase_name = ?", "test_advertise").First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Priority == nil || *row.Priority != "P0" {
		t.Errorf("priority = %v, want P0", row.Priority)
	}

	var changes []model.TestcaseMetadataChange
	if err := st.DB().Find(&changes).Error; err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	c := changes[0]
	if c.TestcaseName != "test_advertise" || c.Field != "priority" {
		t.Errorf("change row: %+v", c)
	}
	if c.OldValue == nil || *c.OldValue != "P1" || c.NewValue == nil || *c.NewValue != "P0" {
		t.Errorf("change values: %v -> %v", c.OldValue, c.NewValue)
	}

	// An identical third run touches nothing.
	res, err = im.Sync(strings.NewReader(updated))
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Updated != 0 {
		t.Errorf("no-op sync: %+v", res)
	}
}

func TestSyncRecordsAuditLog(t *testing.T) {
	im, _ := testImporter(t)
	if _, err := im.Sync(strings.NewReader(catalogCSV)); err != nil {
		t.Fatal(err)
	}
	logs, err := im.SyncLogs(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("sync logs = %d, want 1", len(logs))
	}
	log := logs[0]
	if log.Status != "success" || log.RowsTotal != 2 || log.RowsCreated != 2 {
		t.Errorf("sync log: %+v", log)
	}
	if log.CompletedAt == nil {
		t.Error("completed_at missing")
	}
}

func TestSyncSkipsShortAndUnnamedRows(t *testing.T) {
	im, _ := testImporter(t)
	csv := "testcase_name,priority,module,topology,test_state\n" +
		"short_row,P1\n" +
		",P1,routing,5s,active\n" +
		"test_ok,P1,routing,5s,active\n"
	res, err := im.Sync(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Created != 1 {
		t.Errorf("sync with bad rows: %+v", res)
	}
}

func TestSyncBackfillsResults(t *testing.T) {
	im, st := testImporter(t)

	release, _ := store.GetOrCreateRelease(st.DB(), "6.4")
	mod, _ := store.GetOrCreateModule(st.DB(), release.ID, "routing")
	job := model.Job{ModuleID: mod.ID, JobID: "1"}
	st.DB().Create(&job)
	// The parameterized name joins the catalog via its normalized form.
	bare := model.TestResult{JobID: job.ID, FilePath: "a.py", ClassName: "T", TestName: "test_advertise[ipv6]", Status: model.StatusPassed}
	st.DB().Create(&bare)
	kept := "P3"
	preset := model.TestResult{JobID: job.ID, FilePath: "a.py", ClassName: "T", TestName: "test_flows", Status: model.StatusPassed, Priority: &kept}
	st.DB().Create(&preset)

	if _, err := im.Sync(strings.NewReader(catalogCSV)); err != nil {
		t.Fatal(err)
	}

	var got model.TestResult
	if err := st.DB().First(&got, bare.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.Priority == nil || *got.Priority != "P1" {
		t.Errorf("backfilled priority = %v, want P1", got.Priority)
	}
	if got.TopologyMetadata == nil || *got.TopologyMetadata != "5s" {
		t.Errorf("backfilled topology = %v, want 5s", got.TopologyMetadata)
	}
	// Present values are never overwritten. A fresh destination keeps
	// the previous lookup's primary key out of the query.
	var untouched model.TestResult
	if err := st.DB().First(&untouched, preset.ID).Error; err != nil {
		t.Fatal(err)
	}
	if untouched.Priority == nil || *untouched.Priority != "P3" {
		t.Errorf("preset priority = %v, want P3 untouched", untouched.Priority)
	}
}
