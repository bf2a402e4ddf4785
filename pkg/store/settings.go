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
	"encoding/json"
	"time"

	"github.com/dataplane-ci/trendboard/pkg/model"
)

// Setting keys. Values are JSON-encoded in app_settings.
const (
	SettingAutoUpdateEnabled       = "AUTO_UPDATE_ENABLED"
	SettingPollingIntervalHours    = "POLLING_INTERVAL_HOURS"
	SettingMetadataSyncEnabled     = "METADATA_SYNC_ENABLED"
	SettingMetadataSyncInterval    = "METADATA_SYNC_INTERVAL_HOURS"
	SettingCleanupArtifacts        = "CLEANUP_ARTIFACTS_AFTER_IMPORT"
	SettingSSEDrainTimeoutSeconds  = "SSE_DRAIN_TIMEOUT_SECONDS"
	SettingSSEDrainPollInterval    = "SSE_DRAIN_POLL_INTERVAL"
	SettingFlakyDetectionJobWindow = "FLAKY_DETECTION_JOB_WINDOW"

	// Retired key, migrated to hours at startup.
	settingLegacyPollingMinutes = "POLLING_INTERVAL_MINUTES"
)

// GetSetting decodes the JSON value for key into out. Missing keys
// return ErrNotFound.
func (s *Store) GetSetting(key string, out interface{}) error {
	var setting model.AppSetting
	query := s.db.Where("setting_key = ?", key).First(&setting)
	if query.RecordNotFound() {
		return ErrNotFound
	}
	if query.Error != nil {
		return query.Error
	}
	return json.Unmarshal([]byte(setting.Value), out)
}

// SetSetting JSON-encodes value under key.
func (s *Store) SetSetting(key string, value interface{}, description string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	setting := model.AppSetting{Key: key, Value: string(raw), Description: description, UpdatedAt: time.Now()}
	var existing model.AppSetting
	if s.db.Where("setting_key = ?", key).First(&existing).RecordNotFound() {
		return s.db.Create(&setting).Error
	}
	return s.db.Model(&model.AppSetting{}).Where("setting_key = ?", key).
		Updates(map[string]interface{}{"value": setting.Value, "updated_at": setting.UpdatedAt}).Error
}

// Settings returns every setting row.
func (s *Store) Settings() ([]model.AppSetting, error) {
	var settings []model.AppSetting
	if err := s.db.Order("setting_key").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// BoolSetting reads a bool setting, falling back to def.
func (s *Store) BoolSetting(key string, def bool) bool {
	var v bool
	if err := s.GetSetting(key, &v); err != nil {
		return def
	}
	return v
}

// FloatSetting reads a numeric setting, falling back to def.
func (s *Store) FloatSetting(key string, def float64) float64 {
	var v float64
	if err := s.GetSetting(key, &v); err != nil {
		return def
	}
	return v
}

// IntSetting reads an integer setting, falling back to def.
func (s *Store) IntSetting(key string, def int) int {
	var v float64
	if err := s.GetSetting(key, &v); err != nil {
		return def
	}
	return int(v)
}

// MigrateLegacySettings converts POLLING_INTERVAL_MINUTES into
// POLLING_INTERVAL_HOURS once and drops the old key.
func (s *Store) MigrateLegacySettings() error {
	var minutes float64
	err := s.GetSetting(settingLegacyPollingMinutes, &minutes)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.SetSetting(SettingPollingIntervalHours, minutes/60, "Jenkins polling interval in hours"); err != nil {
		return err
	}
	if err := s.db.Where("setting_key = ?", settingLegacyPollingMinutes).Delete(&model.AppSetting{}).Error; err != nil {
		return err
	}
	s.logger.Infof("Migrated %s=%v to %s.", settingLegacyPollingMinutes, minutes, SettingPollingIntervalHours)
	return nil
}
