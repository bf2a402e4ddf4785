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

package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dataplane-ci/trendboard/pkg/jenkins"
)

const (
	orderPrefix  = "hapy/"
	junitPrefix  = "hapy/reports/junit/"
	rerootPrefix = "hapy/reports/"
)

// JobDir is where one module job's artifacts land on disk.
func JobDir(logsBase, release, module, jobID string) string {
	return filepath.Join(logsBase, release, module, jobID)
}

// DownloadArtifacts fetches a module build's run logs and junit XML
// into logsBase/<release>/<module>/<jobID>/. Junit files are re-rooted
// to drop the hapy/reports/ prefix so the tree starts at junit/.
// Returns the job directory.
func DownloadArtifacts(client *jenkins.Client, jobURL, logsBase, release, module, jobID string) (string, error) {
	paths, err := client.GetArtifactsList(jobURL)
	if err != nil {
		return "", err
	}
	dir := JobDir(logsBase, release, module, jobID)
	for _, rel := range paths {
		var dest string
		switch {
		case strings.HasPrefix(rel, junitPrefix) && strings.HasSuffix(strings.ToLower(rel), ".xml"):
			dest = filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(rel, rerootPrefix)))
		case strings.HasPrefix(rel, orderPrefix) && strings.HasSuffix(rel, ".order.txt"):
			dest = filepath.Join(dir, filepath.Base(rel))
		default:
			continue
		}
		if err := client.DownloadArtifact(jobURL, rel, dest); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// CleanupArtifacts deletes a job's artifact tree and prunes empty
// parents up to two levels (module, then release).
func CleanupArtifacts(logsBase, release, module, jobID string) error {
	dir := JobDir(logsBase, release, module, jobID)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	for i := 0; i < 2; i++ {
		// Remove fails on non-empty directories, which is the stop
		// condition.
		if err := os.Remove(parent); err != nil {
			break
		}
		parent = filepath.Dir(parent)
	}
	return nil
}
