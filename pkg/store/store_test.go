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

package store

import (
	"testing"

	"github.com/dataplane-ci/trendboard/pkg/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	config := model.SQLiteConfig{File: ":memory:"}
	db, err := config.CreateDatabase()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil)
}

func TestGetOrCreateRelease(t *testing.T) {
	s := testStore(t)
	first, err := GetOrCreateRelease(s.DB(), "6.4")
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsActive {
		t.Error("new releases should be active")
	}
	second, err := GetOrCreateRelease(s.DB(), "6.4")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same release, got ids %d and %d", first.ID, second.ID)
	}
	if _, err := s.FindRelease("9.9"); err != ErrNotFound {
		t.Errorf("missing release should be ErrNotFound, got %v", err)
	}
}

func TestAdvanceWatermark(t *testing.T) {
	s := testStore(t)
	active, _ := GetOrCreateRelease(s.DB(), "6.4")
	inactive, _ := GetOrCreateRelease(s.DB(), "6.3")
	s.DB().Model(inactive).Update("is_active", false)

	if err := AdvanceWatermark(s.DB(), 100); err != nil {
		t.Fatal(err)
	}
	// Lower builds never pull the watermark back.
	if err := AdvanceWatermark(s.DB(), 50); err != nil {
		t.Fatal(err)
	}

	got, _ := s.FindRelease("6.4")
	if got.LastProcessedBuild != 100 {
		t.Errorf("active watermark = %d, want 100", got.LastProcessedBuild)
	}
	got, _ = s.FindRelease("6.3")
	if got.LastProcessedBuild != 0 {
		t.Errorf("inactive watermark = %d, want 0", got.LastProcessedBuild)
	}
	_ = active
}

func TestDeleteReleaseCascades(t *testing.T) {
	s := testStore(t)
	release, _ := GetOrCreateRelease(s.DB(), "6.4")
	mod, _ := GetOrCreateModule(s.DB(), release.ID, "routing")
	job := model.Job{ModuleID: mod.ID, JobID: "42"}
	if err := s.DB().Create(&job).Error; err != nil {
		t.Fatal(err)
	}
	result := model.TestResult{JobID: job.ID, FilePath: "a.py", ClassName: "T", TestName: "t1", Status: model.StatusPassed}
	if err := s.DB().Create(&result).Error; err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRelease("6.4"); err != nil {
		t.Fatal(err)
	}
	var count int
	for _, m := range []interface{}{&model.Release{}, &model.Module{}, &model.Job{}, &model.TestResult{}} {
		if err := s.DB().Model(m).Count(&count).Error; err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("%T rows left after cascade: %d", m, count)
		}
	}
}

func TestDeleteDuplicateResults(t *testing.T) {
	s := testStore(t)
	release, _ := GetOrCreateRelease(s.DB(), "6.4")
	mod, _ := GetOrCreateModule(s.DB(), release.ID, "routing")
	job := model.Job{ModuleID: mod.ID, JobID: "42"}
	s.DB().Create(&job)
	for i := 0; i < 3; i++ {
		s.DB().Create(&model.TestResult{JobID: job.ID, FilePath: "a.py", ClassName: "T", TestName: "dup", Status: model.StatusPassed})
	}
	s.DB().Create(&model.TestResult{JobID: job.ID, FilePath: "a.py", ClassName: "T", TestName: "unique", Status: model.StatusFailed})

	removed, err := s.DeleteDuplicateResults(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	var rows []model.TestResult
	s.DB().Where("test_name = ?", "dup").Find(&rows)
	if len(rows) != 1 {
		t.Fatalf("expected 1 surviving dup row, got %d", len(rows))
	}
	// The newest row survives.
	var maxID int
	s.DB().Model(&model.TestResult{}).Select("MAX(id)").Where("test_name = ?", "dup").Row().Scan(&maxID)
	if rows[0].ID != maxID {
		t.Errorf("survivor id = %d, want max id %d", rows[0].ID, maxID)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	if got := s.BoolSetting(SettingAutoUpdateEnabled, true); !got {
		t.Error("missing bool setting should fall back to default")
	}
	if err := s.SetSetting(SettingAutoUpdateEnabled, false, ""); err != nil {
		t.Fatal(err)
	}
	if got := s.BoolSetting(SettingAutoUpdateEnabled, true); got {
		t.Error("stored bool setting should win over the default")
	}

	if err := s.SetSetting(SettingFlakyDetectionJobWindow, 8, ""); err != nil {
		t.Fatal(err)
	}
	if got := s.IntSetting(SettingFlakyDetectionJobWindow, 5); got != 8 {
		t.Errorf("int setting = %d, want 8", got)
	}

	// Overwrite, not duplicate.
	if err := s.SetSetting(SettingFlakyDetectionJobWindow, 3, ""); err != nil {
		t.Fatal(err)
	}
	settings, err := s.Settings()
	if err != nil {
		t.Fatal(err)
	}
	seen := 0
	for _, row := range settings {
		if row.Key == SettingFlakyDetectionJobWindow {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("expected one row for the key, got %d", seen)
	}
}

func TestMigrateLegacySettings(t *testing.T) {
	s := testStore(t)
	if err := s.SetSetting("POLLING_INTERVAL_MINUTES", 360, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.MigrateLegacySettings(); err != nil {
		t.Fatal(err)
	}
	if got := s.FloatSetting(SettingPollingIntervalHours, 0); got != 6 {
		t.Errorf("migrated interval = %v hours, want 6", got)
	}
	var v float64
	if err := s.GetSetting("POLLING_INTERVAL_MINUTES", &v); err != ErrNotFound {
		t.Errorf("legacy key should be gone, got %v", err)
	}
	// A second run is a no-op.
	if err := s.MigrateLegacySettings(); err != nil {
		t.Fatal(err)
	}
}
