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

// Package importer persists a parsed module job. Import is idempotent:
// a job that already carries results is skipped when the caller asks
// for it, and (module, job) uniqueness keeps crash-replays harmless.
package importer

import (
	"math"
	"regexp"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/logparse"
	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// testcaseModuleRE matches the repo layout tests live in. The captured
// segment is the authoritative module for analytics, independent of the
// Jenkins job the test ran under.
var testcaseModuleRE = regexp.MustCompile(`^data_plane/tests/([^/]+)/`)

// TestcaseModule derives the analytics module from a test file path.
// Paths outside the tests tree return nil.
func TestcaseModule(filePath string) *string {
	m := testcaseModuleRE.FindStringSubmatch(filePath)
	if m == nil {
		return nil
	}
	return &m[1]
}

// Request carries everything needed to import one module job.
type Request struct {
	ReleaseName  string
	ModuleName   string
	JobID        string
	ParentJobID  string
	JenkinsURL   string
	Version      string
	ExecutedAt   *time.Time
	Results      []*logparse.TestResult
	SkipIfExists bool
}

// Importer persists parsed jobs.
type Importer struct {
	logger *logrus.Entry
}

// New makes an Importer. A nil logger falls back to the standard
// logger.
func New(logger *logrus.Entry) *Importer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Importer{logger: logger.WithField("client", "importer")}
}

// ImportJob upserts release, module and job, then inserts the results.
// Runs on the caller's transaction; the caller commits. Returns the job
// and the number of results written.
func (im *Importer) ImportJob(tx *gorm.DB, req Request) (*model.Job, int, error) {
	release, err := store.GetOrCreateRelease(tx, req.ReleaseName)
	if err != nil {
		return nil, 0, err
	}
	mod, err := store.GetOrCreateModule(tx, release.ID, req.ModuleName)
	if err != nil {
		return nil, 0, err
	}

	job, err := store.FindJob(tx, mod.ID, req.JobID)
	if err != nil && err != store.ErrNotFound {
		return nil, 0, err
	}
	if job != nil && job.Total > 0 && req.SkipIfExists {
		im.logger.WithFields(logrus.Fields{
			"release": req.ReleaseName,
			"module":  req.ModuleName,
			"job":     req.JobID,
		}).Info("Job already imported, skipping.")
		return job, 0, nil
	}

	summary := logparse.Summarize(req.Results)
	passRate := 0.0
	if summary.Total > 0 {
		// Persisted statistic divides by total, unlike the parser's
		// executed-based summary.
		passRate = math.Round(100*float64(summary.Passed)/float64(summary.Total)*100) / 100
	}

	if job == nil {
		job = &model.Job{ModuleID: mod.ID, JobID: req.JobID}
	}
	job.JenkinsURL = req.JenkinsURL
	job.Version = req.Version
	job.ExecutedAt = req.ExecutedAt
	job.Total = summary.Total
	job.Passed = summary.Passed
	job.Failed = summary.Failed
	job.Skipped = summary.Skipped
	job.PassRate = passRate
	now := time.Now()
	job.DownloadedAt = &now
	if job.ID == 0 {
		if req.ParentJobID != "" {
			job.ParentJobID = &req.ParentJobID
		}
		if err := tx.Create(job).Error; err != nil {
			return nil, 0, err
		}
	} else {
		if req.ParentJobID != "" {
			job.ParentJobID = &req.ParentJobID
		}
		if err := tx.Save(job).Error; err != nil {
			return nil, 0, err
		}
		// Re-import replaces the old result set.
		if err := tx.Where("job_id = ?", job.ID).Delete(&model.TestResult{}).Error; err != nil {
			return nil, 0, err
		}
	}

	metadata, err := loadMetadata(tx, req.Results)
	if err != nil {
		return nil, 0, err
	}

	count := 0
	for _, r := range req.Results {
		row := resultRow(job.ID, r)
		if meta, ok := metadata[model.NormalizeTestName(r.TestName)]; ok {
			row.Priority = meta.Priority
			row.TopologyMetadata = meta.Topology
		}
		if err := tx.Create(row).Error; err != nil {
			return nil, 0, err
		}
		count++
	}
	return job, count, nil
}

// loadMetadata batch-fetches the metadata rows the results will join
// against, keyed by normalized test name. One query per import, not
// one per row.
func loadMetadata(tx *gorm.DB, results []*logparse.TestResult) (map[string]*model.TestcaseMetadata, error) {
	names := map[string]bool{}
	for _, r := range results {
		names[model.NormalizeTestName(r.TestName)] = true
	}
	if len(names) == 0 {
		return map[string]*model.TestcaseMetadata{}, nil
	}
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	var rows []model.TestcaseMetadata
	if err := tx.Where("testcase_name in (?)", list).Find(&rows).Error; err != nil {
		return nil, err
	}
	byName := make(map[string]*model.TestcaseMetadata, len(rows))
	for i := range rows {
		byName[rows[i].TestcaseName] = &rows[i]
	}
	return byName, nil
}

func resultRow(jobID int, r *logparse.TestResult) *model.TestResult {
	status := r.Status
	// ERROR only exists in parser records.
	if status == logparse.StatusError {
		status = model.StatusFailed
	}
	row := &model.TestResult{
		JobID:            jobID,
		FilePath:         r.FilePath,
		ClassName:        r.ClassName,
		TestName:         r.TestName,
		Status:           status,
		SetupIP:          r.SetupIP,
		JenkinsTopology:  r.Topology,
		OrderIndex:       r.OrderIndex,
		WasRerun:         r.WasRerun,
		RerunStillFailed: r.RerunStillFailed,
		TestcaseModule:   TestcaseModule(r.FilePath),
	}
	if r.Failure != nil {
		msg := r.Failure.FullMessage()
		row.FailureMessage = &msg
	}
	return row
}
