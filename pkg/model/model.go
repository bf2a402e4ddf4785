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

// Package model holds the relational entities of the service. The schema
// fits into the ORM and is migrated with AutoMigrate at startup.
package model

import (
	"time"
)

// Test result statuses as persisted. ERROR only exists in the parser's
// intermediate records; the import boundary folds it to FAILED.
const (
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
	StatusError   = "ERROR"
)

// Bug tracker record types.
const (
	BugTypeVLEI  = "VLEI"
	BugTypeVLENG = "VLENG"
)

// Release is a product release line ("6.4"). Modules, jobs and test
// results hang off it and are removed with it.
type Release struct {
	ID                 int    `gorm:"primary_key"`
	Name               string `gorm:"unique_index;not null"`
	IsActive           bool   `gorm:"not null;default:true"`
	JenkinsJobURL      string
	LastProcessedBuild int
	GitBranch          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Modules []Module
}

// Module is a Jenkins-side module of a release. Analytics prefer the
// testcase module derived from file paths over this one.
type Module struct {
	ID        int    `gorm:"primary_key"`
	ReleaseID int    `gorm:"not null;unique_index:idx_release_module"`
	Name      string `gorm:"not null;unique_index:idx_release_module"`

	Jobs []Job
}

// Job is one module sub-job run. JobID and ParentJobID are numeric
// strings and sort numerically.
type Job struct {
	ID           int    `gorm:"primary_key"`
	ModuleID     int    `gorm:"not null;unique_index:idx_module_job"`
	JobID        string `gorm:"not null;unique_index:idx_module_job"`
	ParentJobID  *string
	Total        int
	Passed       int
	Failed       int
	Skipped      int
	PassRate     float64
	JenkinsURL   string
	Version      string
	CreatedAt    time.Time
	ExecutedAt   *time.Time
	DownloadedAt *time.Time

	TestResults []TestResult
}

// TestResult is a single test outcome inside a job. The logical key is
// FilePath::ClassName::TestName.
type TestResult struct {
	ID               int    `gorm:"primary_key"`
	JobID            int    `gorm:"not null;index:idx_result_job"`
	FilePath         string `gorm:"not null"`
	ClassName        string `gorm:"not null"`
	TestName         string `gorm:"not null"`
	Status           string `gorm:"not null;index:idx_result_status"`
	SetupIP          string
	JenkinsTopology  string
	OrderIndex       int
	WasRerun         bool
	RerunStillFailed bool
	FailureMessage   *string `gorm:"type:text"`
	Priority         *string
	TopologyMetadata *string
	TestcaseModule   *string `gorm:"index:idx_result_tc_module"`
	CreatedAt        time.Time
}

// TestKey returns the composite logical key for the result.
func (r *TestResult) TestKey() string {
	return r.FilePath + "::" + r.ClassName + "::" + r.TestName
}

// TestcaseMetadata is the per-testcase catalog row joined by normalized
// test name (parameter suffix stripped).
type TestcaseMetadata struct {
	ID               int    `gorm:"primary_key"`
	TestcaseName     string `gorm:"unique_index;not null"`
	TestCaseID       *string
	Priority         *string
	TestrailID       *string
	Component        *string
	AutomationStatus *string
	Module           *string
	TestState        *string
	TestClassName    *string
	TestPath         *string
	Topology         *string
}

// TableName pins the table; gorm's pluralizer would produce
// "testcase_metadatas".
func (TestcaseMetadata) TableName() string { return "testcase_metadata" }

// BugMetadata mirrors a bug-tracker record.
type BugMetadata struct {
	ID               int    `gorm:"primary_key"`
	DefectID         string `gorm:"unique_index;not null"`
	BugType          string `gorm:"not null"`
	URL              string
	Status           *string
	Summary          *string
	Priority         *string
	Assignee         *string
	Component        *string
	Resolution       *string
	AffectedVersions *string
	Labels           string `gorm:"type:text"` // JSON array
	IsActive         bool

	Mappings []BugTestcaseMapping `gorm:"foreignkey:BugID"`
}

func (BugMetadata) TableName() string { return "bug_metadata" }

// BugTestcaseMapping links a bug to a testcase by case id. CaseID joins
// either TestcaseMetadata.TestCaseID or TestrailID.
type BugTestcaseMapping struct {
	ID     int    `gorm:"primary_key"`
	BugID  int    `gorm:"not null;unique_index:idx_bug_case"`
	CaseID string `gorm:"not null;unique_index:idx_bug_case"`
}

// JenkinsPollingLog is an audit row for one polling cycle of a release.
type JenkinsPollingLog struct {
	ID             int    `gorm:"primary_key"`
	ReleaseName    string `gorm:"index"`
	Status         string `gorm:"not null"`
	BuildsFound    int
	JobsImported   int
	ErrorMessage   *string `gorm:"type:text"`
	StartedAt      time.Time
	CompletedAt    *time.Time
	LastBuildSeen  int
	TriggeredByJob string
}

// MetadataSyncLog is an audit row for one testcase-metadata sync.
type MetadataSyncLog struct {
	ID           int    `gorm:"primary_key"`
	Status       string `gorm:"not null"`
	RowsTotal    int
	RowsCreated  int
	RowsUpdated  int
	ErrorMessage *string `gorm:"type:text"`
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// TestcaseMetadataChange records a single field change made by a sync.
type TestcaseMetadataChange struct {
	ID           int    `gorm:"primary_key"`
	SyncLogID    int    `gorm:"index"`
	TestcaseName string `gorm:"not null"`
	Field        string `gorm:"not null"`
	OldValue     *string
	NewValue     *string
	CreatedAt    time.Time
}

// AppSetting is a key/value setting. Value holds JSON. The column is
// setting_key because KEY is reserved in MySQL.
type AppSetting struct {
	Key         string `gorm:"column:setting_key;primary_key"`
	Value       string `gorm:"type:text;not null"`
	Description string
	UpdatedAt   time.Time
}

// Entities lists every table in migration order.
func Entities() []interface{} {
	return []interface{}{
		&Release{},
		&Module{},
		&Job{},
		&TestResult{},
		&TestcaseMetadata{},
		&BugMetadata{},
		&BugTestcaseMapping{},
		&JenkinsPollingLog{},
		&MetadataSyncLog{},
		&TestcaseMetadataChange{},
		&AppSetting{},
	}
}
