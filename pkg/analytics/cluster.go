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

package analytics

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

var (
	// numbers, hex addresses, uuids and ip:port tokens vary per run and
	// must not split clusters.
	addrRE = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	uuidRE = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	ipRE   = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+(:\d+)?`)
	numRE  = regexp.MustCompile(`\b\d+\b`)
	wsRE   = regexp.MustCompile(`\s+`)

	// "path/to/file.py:123" style location in a traceback line.
	locationRE = regexp.MustCompile(`([\w./-]+\.\w+):(\d+)`)
)

// FailureSignature identifies a cluster of equivalent failures.
type FailureSignature struct {
	ErrorType         string `json:"error_type"`
	FilePath          string `json:"file_path"`
	LineNumber        string `json:"line_number"`
	NormalizedMessage string `json:"normalized_message"`
	Fingerprint       string `json:"fingerprint"`
}

// ClusteredFailure is one member of a cluster.
type ClusteredFailure struct {
	TestKey  string  `json:"test_key"`
	TestName string  `json:"test_name"`
	Message  string  `json:"message"`
	Topology string  `json:"topology"`
	Priority *string `json:"priority"`
}

// FailureCluster groups failures sharing a signature.
type FailureCluster struct {
	Signature FailureSignature `json:"signature"`
	// MatchType is exact when every member carries the identical raw
	// message, fuzzy when members matched only after normalization.
	MatchType  string             `json:"match_type"`
	Count      int                `json:"count"`
	Failures   []ClusteredFailure `json:"failures"`
	Topologies []string           `json:"topologies"`
	Priorities []string           `json:"priorities"`
}

// NormalizeFailureMessage strips tokens that vary between otherwise
// identical failures: addresses, uuids, ips, bare numbers, whitespace
// runs.
func NormalizeFailureMessage(msg string) string {
	msg = addrRE.ReplaceAllString(msg, "ADDR")
	msg = uuidRE.ReplaceAllString(msg, "UUID")
	msg = ipRE.ReplaceAllString(msg, "IP")
	msg = numRE.ReplaceAllString(msg, "N")
	msg = wsRE.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}

// errorType is the first token before ':' on the message's first line.
func errorType(msg string) string {
	line := msg
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if i := strings.IndexByte(line, ':'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "unknown"
	}
	return line
}

// failureLocation pulls the last file:line reference out of the
// message, the deepest traceback frame.
func failureLocation(msg string) (string, string) {
	matches := locationRE.FindAllStringSubmatch(msg, -1)
	if len(matches) == 0 {
		return "", ""
	}
	last := matches[len(matches)-1]
	return last[1], last[2]
}

// Signature computes the full failure signature for one message from a
// given test file.
func Signature(testFile, msg string) FailureSignature {
	sig := FailureSignature{
		ErrorType:         errorType(msg),
		NormalizedMessage: NormalizeFailureMessage(msg),
	}
	sig.FilePath, sig.LineNumber = failureLocation(msg)
	if sig.FilePath == "" {
		sig.FilePath = testFile
	}
	sum := sha1.Sum([]byte(sig.ErrorType + "\x00" + sig.FilePath + "\x00" + sig.LineNumber + "\x00" + sig.NormalizedMessage))
	sig.Fingerprint = hex.EncodeToString(sum[:])
	return sig
}

// ClusterJobFailures groups the failed results of one job by failure
// signature, largest cluster first.
func (e *Engine) ClusterJobFailures(release, module, jenkinsJobID string) ([]FailureCluster, error) {
	jobs, err := e.jobsForModule(release, module, true)
	if err != nil {
		return nil, err
	}
	rowID := 0
	for i := range jobs {
		if jobs[i].JobID == jenkinsJobID {
			rowID = jobs[i].ID
			break
		}
	}
	if rowID == 0 {
		return nil, store.ErrNotFound
	}

	var results []model.TestResult
	err = e.store.DB().
		Where("job_id = ?", rowID).
		Where("status = ?", model.StatusFailed).
		Where("testcase_module = ?", module).
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	type bucket struct {
		sig      FailureSignature
		failures []ClusteredFailure
		raw      map[string]bool
		topos    map[string]bool
		prios    map[string]bool
	}
	buckets := map[string]*bucket{}
	var order []string
	for i := range results {
		r := &results[i]
		msg := ""
		if r.FailureMessage != nil {
			msg = *r.FailureMessage
		}
		sig := Signature(r.FilePath, msg)
		b, ok := buckets[sig.Fingerprint]
		if !ok {
			b = &bucket{sig: sig, raw: map[string]bool{}, topos: map[string]bool{}, prios: map[string]bool{}}
			buckets[sig.Fingerprint] = b
			order = append(order, sig.Fingerprint)
		}
		b.raw[msg] = true
		b.topos[r.JenkinsTopology] = true
		if r.Priority != nil {
			b.prios[*r.Priority] = true
		}
		b.failures = append(b.failures, ClusteredFailure{
			TestKey:  r.TestKey(),
			TestName: r.TestName,
			Message:  msg,
			Topology: r.JenkinsTopology,
			Priority: r.Priority,
		})
	}

	out := make([]FailureCluster, 0, len(order))
	for _, fp := range order {
		b := buckets[fp]
		matchType := "exact"
		if len(b.raw) > 1 {
			matchType = "fuzzy"
		}
		c := FailureCluster{
			Signature: b.sig,
			MatchType: matchType,
			Count:     len(b.failures),
			Failures:  b.failures,
		}
		for t := range b.topos {
			c.Topologies = append(c.Topologies, t)
		}
		for p := range b.prios {
			c.Priorities = append(c.Priorities, p)
		}
		sort.Strings(c.Topologies)
		sort.Strings(c.Priorities)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}
