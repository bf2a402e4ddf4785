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

// Package bugwatch refreshes bug metadata and testcase mappings from
// the bug tracker's JSON feed.
package bugwatch

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// feedBug is one bug record in the tracker feed.
type feedBug struct {
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
	Labels           []string `json:"labels"`
	TestcaseIDs      []string `json:"testcase_ids"`
}

// Updater refreshes the bug tables.
type Updater struct {
	feedURL string
	store   *store.Store
	client  *http.Client
	logger  *logrus.Entry
}

// New makes an Updater against the given feed URL.
func New(feedURL string, st *store.Store, logger *logrus.Entry) *Updater {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil
	return &Updater{
		feedURL: feedURL,
		store:   st,
		client:  rc.StandardClient(),
		logger:  logger.WithField("component", "bugwatch"),
	}
}

func (u *Updater) fetch() ([]feedBug, error) {
	resp, err := u.client.Get(u.feedURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return nil, fmt.Errorf("bug feed returned %d: %s", resp.StatusCode, string(body))
	}
	var bugs []feedBug
	if err := json.NewDecoder(resp.Body).Decode(&bugs); err != nil {
		return nil, fmt.Errorf("cannot decode bug feed: %v", err)
	}
	return bugs, nil
}

// Update fetches the feed and rewrites bug metadata and mappings.
// Bugs upsert by defect id; mappings are rebuilt wholesale so removed
// links never linger. Feed bugs mark active, everything else inactive.
func (u *Updater) Update() error {
	bugs, err := u.fetch()
	if err != nil {
		return err
	}
	u.logger.Infof("Refreshing %d bugs.", len(bugs))

	return u.store.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE bug_metadata SET is_active = ?", false).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.BugTestcaseMapping{}).Error; err != nil {
			return err
		}
		for i := range bugs {
			if err := upsertBug(tx, &bugs[i]); err != nil {
				return fmt.Errorf("bug %s: %v", bugs[i].DefectID, err)
			}
		}
		return nil
	})
}

func upsertBug(tx *gorm.DB, fb *feedBug) error {
	labels, err := json.Marshal(fb.Labels)
	if err != nil {
		return err
	}
	bug := model.BugMetadata{
		DefectID:         fb.DefectID,
		BugType:          fb.BugType,
		URL:              fb.URL,
		Status:           fb.Status,
		Summary:          fb.Summary,
		Priority:         fb.Priority,
		Assignee:         fb.Assignee,
		Component:        fb.Component,
		Resolution:       fb.Resolution,
		AffectedVersions: fb.AffectedVersions,
		Labels:           string(labels),
		IsActive:         true,
	}

	var existing model.BugMetadata
	if tx.Where("defect_id = ?", fb.DefectID).First(&existing).RecordNotFound() {
		if err := tx.Create(&bug).Error; err != nil {
			return err
		}
		existing = bug
	} else {
		bug.ID = existing.ID
		if err := tx.Save(&bug).Error; err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for _, caseID := range fb.TestcaseIDs {
		if caseID == "" || seen[caseID] {
			continue
		}
		seen[caseID] = true
		mapping := model.BugTestcaseMapping{BugID: existing.ID, CaseID: caseID}
		if err := tx.Create(&mapping).Error; err != nil {
			return err
		}
	}
	return nil
}
