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

// Package metadata syncs the testcase catalog from a CSV export and
// backfills denormalized fields onto stored results.
package metadata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// Importer syncs TestcaseMetadata rows.
type Importer struct {
	store  *store.Store
	logger *logrus.Entry
}

// New makes an Importer.
func New(st *store.Store, logger *logrus.Entry) *Importer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Importer{store: st, logger: logger.WithField("component", "metadata")}
}

// Result summarizes one sync.
type Result struct {
	Total   int
	Created int
	Updated int
}

// csvRow is one catalog line keyed by header name.
type csvRow map[string]string

func (r csvRow) opt(key string) *string {
	v := strings.TrimSpace(r[key])
	if v == "" {
		return nil
	}
	return &v
}

// readCSV parses the export into header-keyed rows. Header names are
// lowercased; short rows are skipped with a warning.
func readCSV(rd io.Reader, logger *logrus.Entry) ([]csvRow, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read CSV header: %v", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	var rows []csvRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.WithError(err).Warn("Skipping malformed CSV line.")
			continue
		}
		if len(record) < len(header) {
			logger.Warnf("Skipping short CSV line with %d fields.", len(record))
			continue
		}
		row := csvRow{}
		for i, name := range header {
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SyncFile runs a full catalog sync from the CSV at path, recording an
// audit row and per-field change rows.
func (i *Importer) SyncFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return i.Sync(f)
}

// Sync upserts catalog rows from the CSV stream. Changed fields are
// recorded against the sync log for audit. After the upsert pass the
// denormalized priority and topology on results are backfilled.
func (i *Importer) Sync(rd io.Reader) (*Result, error) {
	log := &model.MetadataSyncLog{Status: "running", StartedAt: time.Now()}
	if err := i.store.DB().Create(log).Error; err != nil {
		return nil, err
	}

	res, err := i.sync(rd, log.ID)
	now := time.Now()
	log.CompletedAt = &now
	if err != nil {
		log.Status = "failed"
		msg := err.Error()
		log.ErrorMessage = &msg
	} else {
		log.Status = "success"
		log.RowsTotal = res.Total
		log.RowsCreated = res.Created
		log.RowsUpdated = res.Updated
	}
	if saveErr := i.store.DB().Save(log).Error; saveErr != nil {
		i.logger.WithError(saveErr).Error("Cannot update sync log.")
	}
	return res, err
}

func (i *Importer) sync(rd io.Reader, syncLogID int) (*Result, error) {
	rows, err := readCSV(rd, i.logger)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	err = i.store.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			name := strings.TrimSpace(row["testcase_name"])
			if name == "" {
				continue
			}
			res.Total++
			incoming := model.TestcaseMetadata{
				TestcaseName:     name,
				TestCaseID:       row.opt("test_case_id"),
				Priority:         row.opt("priority"),
				TestrailID:       row.opt("testrail_id"),
				Component:        row.opt("component"),
				AutomationStatus: row.opt("automation_status"),
				Module:           row.opt("module"),
				TestState:        row.opt("test_state"),
				TestClassName:    row.opt("test_class_name"),
				TestPath:         row.opt("test_path"),
				Topology:         row.opt("topology"),
			}
			created, updated, err := upsertTestcase(tx, &incoming, syncLogID)
			if err != nil {
				return fmt.Errorf("testcase %q: %v", name, err)
			}
			if created {
				res.Created++
			} else if updated {
				res.Updated++
			}
		}
		return i.Backfill(tx)
	})
	if err != nil {
		return res, err
	}
	i.logger.Infof("Catalog sync done: %d rows, %d created, %d updated.", res.Total, res.Created, res.Updated)
	return res, nil
}

// fieldDiffs lists the changed fields between two catalog rows.
func fieldDiffs(prev, next *model.TestcaseMetadata) map[string][2]*string {
	diff := map[string][2]*string{}
	compare := func(field string, a, b *string) {
		av, bv := "", ""
		if a != nil {
			av = *a
		}
		if b != nil {
			bv = *b
		}
		if av != bv {
			diff[field] = [2]*string{a, b}
		}
	}
	compare("test_case_id", prev.TestCaseID, next.TestCaseID)
	compare("priority", prev.Priority, next.Priority)
	compare("testrail_id", prev.TestrailID, next.TestrailID)
	compare("component", prev.Component, next.Component)
	compare("automation_status", prev.AutomationStatus, next.AutomationStatus)
	compare("module", prev.Module, next.Module)
	compare("test_state", prev.TestState, next.TestState)
	compare("test_class_name", prev.TestClassName, next.TestClassName)
	compare("test_path", prev.TestPath, next.TestPath)
	compare("topology", prev.Topology, next.Topology)
	return diff
}

func upsertTestcase(tx *gorm.DB, incoming *model.TestcaseMetadata, syncLogID int) (created, updated bool, err error) {
	var existing model.TestcaseMetadata
	if tx.Where("testcase_name = ?", incoming.TestcaseName).First(&existing).RecordNotFound() {
		return true, false, tx.Create(incoming).Error
	}
	diff := fieldDiffs(&existing, incoming)
	if len(diff) == 0 {
		return false, false, nil
	}
	incoming.ID = existing.ID
	if err := tx.Save(incoming).Error; err != nil {
		return false, false, err
	}
	for field, values := range diff {
		change := model.TestcaseMetadataChange{
			SyncLogID:    syncLogID,
			TestcaseName: incoming.TestcaseName,
			Field:        field,
			OldValue:     values[0],
			NewValue:     values[1],
			CreatedAt:    time.Now(),
		}
		if err := tx.Create(&change).Error; err != nil {
			return false, false, err
		}
	}
	return false, true, nil
}

// Backfill copies priority and topology from the catalog onto results
// that lack them, joining on the normalized test name. Two UPDATE
// statements, no per-row loops.
func (i *Importer) Backfill(tx *gorm.DB) error {
	nameExpr := model.NormalizedNameExpr("test_results.test_name")
	err := tx.Exec("UPDATE test_results SET priority = " +
		"(SELECT priority FROM testcase_metadata WHERE testcase_metadata.testcase_name = " + nameExpr + ") " +
		"WHERE priority IS NULL").Error
	if err != nil {
		return err
	}
	return tx.Exec("UPDATE test_results SET topology_metadata = " +
		"(SELECT topology FROM testcase_metadata WHERE testcase_metadata.testcase_name = " + nameExpr + ") " +
		"WHERE topology_metadata IS NULL").Error
}

// SyncLogs pages the audit trail, newest first.
func (i *Importer) SyncLogs(limit, offset int) ([]model.MetadataSyncLog, error) {
	var logs []model.MetadataSyncLog
	q := i.store.DB().Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
