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

package model

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// SQLiteConfig opens a sqlite database. Tests use ":memory:".
type SQLiteConfig struct {
	File string
}

// CreateDatabase opens the database and migrates the schema.
func (config *SQLiteConfig) CreateDatabase() (*gorm.DB, error) {
	db, err := gorm.Open("sqlite3", config.File)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(Entities()...).Error; err != nil {
		return nil, err
	}

	return db, nil
}
