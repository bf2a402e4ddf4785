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

// Package store wraps the ORM with the operations the rest of the
// service needs: lazy upserts, watermark advancement, duplicate
// cleanup, and JSON settings.
package store

import (
	"errors"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/model"
)

// ErrNotFound is returned when a lookup misses. The HTTP surface maps
// it to 404.
var ErrNotFound = errors.New("not found")

// Store provides persistence operations on top of a gorm handle.
type Store struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// New makes a Store. A nil logger falls back to the standard logger.
func New(db *gorm.DB, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{db: db, logger: logger.WithField("client", "store")}
}

// DB exposes the underlying handle for query composition.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs f inside a transaction, rolling back on error.
func (s *Store) Transaction(f func(tx *gorm.DB) error) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// GetOrCreateRelease returns the release by name, creating an active
// one when missing.
func GetOrCreateRelease(db *gorm.DB, name string) (*model.Release, error) {
	var release model.Release
	query := db.Where("name = ?", name).First(&release)
	if query.RecordNotFound() {
		release = model.Release{Name: name, IsActive: true}
		if err := db.Create(&release).Error; err != nil {
			return nil, err
		}
		return &release, nil
	}
	if query.Error != nil {
		return nil, query.Error
	}
	return &release, nil
}

// GetOrCreateModule returns the module by (release, name), creating it
// when missing.
func GetOrCreateModule(db *gorm.DB, releaseID int, name string) (*model.Module, error) {
	var mod model.Module
	query := db.Where("release_id = ? AND name = ?", releaseID, name).First(&mod)
	if query.RecordNotFound() {
		mod = model.Module{ReleaseID: releaseID, Name: name}
		if err := db.Create(&mod).Error; err != nil {
			return nil, err
		}
		return &mod, nil
	}
	if query.Error != nil {
		return nil, query.Error
	}
	return &mod, nil
}

// FindRelease returns the release by name or ErrNotFound.
func (s *Store) FindRelease(name string) (*model.Release, error) {
	var release model.Release
	query := s.db.Where("name = ?", name).First(&release)
	if query.RecordNotFound() {
		return nil, ErrNotFound
	}
	if query.Error != nil {
		return nil, query.Error
	}
	return &release, nil
}

// FindModule returns the module by release name and module name.
func (s *Store) FindModule(releaseName, moduleName string) (*model.Module, error) {
	release, err := s.FindRelease(releaseName)
	if err != nil {
		return nil, err
	}
	var mod model.Module
	query := s.db.Where("release_id = ? AND name = ?", release.ID, moduleName).First(&mod)
	if query.RecordNotFound() {
		return nil, ErrNotFound
	}
	if query.Error != nil {
		return nil, query.Error
	}
	return &mod, nil
}

// FindJob returns the job by module id and jenkins job id.
func FindJob(db *gorm.DB, moduleID int, jobID string) (*model.Job, error) {
	var job model.Job
	query := db.Where("module_id = ? AND job_id = ?", moduleID, jobID).First(&job)
	if query.RecordNotFound() {
		return nil, ErrNotFound
	}
	if query.Error != nil {
		return nil, query.Error
	}
	return &job, nil
}

// ActiveReleases lists releases that the poller should follow.
func (s *Store) ActiveReleases() ([]model.Release, error) {
	var releases []model.Release
	if err := s.db.Where("is_active = ?", true).Order("name").Find(&releases).Error; err != nil {
		return nil, err
	}
	return releases, nil
}

// Releases lists every release, newest name first.
func (s *Store) Releases() ([]model.Release, error) {
	var releases []model.Release
	if err := s.db.Order("name desc").Find(&releases).Error; err != nil {
		return nil, err
	}
	return releases, nil
}

// DeleteRelease removes a release and cascades to its modules, jobs and
// test results. gorm does not emit FK cascades for us, so the children
// go explicitly, leaves first.
func (s *Store) DeleteRelease(name string) error {
	release, err := s.FindRelease(name)
	if err != nil {
		return err
	}
	return s.Transaction(func(tx *gorm.DB) error {
		var moduleIDs []int
		if err := tx.Model(&model.Module{}).Where("release_id = ?", release.ID).
			Pluck("id", &moduleIDs).Error; err != nil {
			return err
		}
		if len(moduleIDs) > 0 {
			var jobIDs []int
			if err := tx.Model(&model.Job{}).Where("module_id in (?)", moduleIDs).
				Pluck("id", &jobIDs).Error; err != nil {
				return err
			}
			if len(jobIDs) > 0 {
				if err := tx.Where("job_id in (?)", jobIDs).Delete(&model.TestResult{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id in (?)", jobIDs).Delete(&model.Job{}).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("id in (?)", moduleIDs).Delete(&model.Module{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(release).Error
	})
}

// AdvanceWatermark raises last_processed_build for every active
// release. The watermark never goes backwards.
func AdvanceWatermark(db *gorm.DB, build int) error {
	return db.Model(&model.Release{}).
		Where("is_active = ? AND last_processed_build < ?", true, build).
		Update("last_processed_build", build).Error
}

// DeleteDuplicateResults removes duplicate (job, file, class, test)
// rows keeping the highest id. Re-imports can race artifact repair and
// leave doubles behind.
func (s *Store) DeleteDuplicateResults(jobID int) (int, error) {
	rows, err := s.db.Raw(
		"SELECT id FROM test_results t WHERE t.job_id = ? AND t.id NOT IN ("+
			"SELECT max_id FROM (SELECT MAX(id) AS max_id FROM test_results "+
			"WHERE job_id = ? GROUP BY file_path, class_name, test_name) m)",
		jobID, jobID).Rows()
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.db.Where("id in (?)", ids).Delete(&model.TestResult{}).Error; err != nil {
		return 0, err
	}
	s.logger.WithField("job", jobID).Infof("Removed %d duplicate test results.", len(ids))
	return len(ids), nil
}

// RecordPollingLog writes a polling audit row.
func (s *Store) RecordPollingLog(log *model.JenkinsPollingLog) error {
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now()
	}
	return s.db.Create(log).Error
}

// PollingLogs returns audit rows, newest first.
func (s *Store) PollingLogs(limit, offset int) ([]model.JenkinsPollingLog, int, error) {
	var logs []model.JenkinsPollingLog
	var total int
	if err := s.db.Model(&model.JenkinsPollingLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := s.db.Order("id desc").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// MetadataSyncLogs returns catalog sync audit rows, newest first.
func (s *Store) MetadataSyncLogs(limit, offset int) ([]model.MetadataSyncLog, int, error) {
	var logs []model.MetadataSyncLog
	var total int
	if err := s.db.Model(&model.MetadataSyncLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := s.db.Order("id desc").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
