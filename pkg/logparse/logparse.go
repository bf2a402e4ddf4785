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

// Package logparse reads the run logs and JUnit trees a module job
// leaves behind and produces normalized test results. A job directory
// holds "<ts>_bp_<topology>.order.txt" main logs, optional
// "re_run_bp_<topology>.order.txt" rerun logs, and a junit/ tree.
package logparse

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Statuses as they appear in run logs. ERROR survives only in this
// package's records; importers fold it to FAILED.
const (
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
	StatusError   = "ERROR"
)

const orderSuffix = ".order.txt"
const rerunPrefix = "re_run_"

// TestResult is one parsed test outcome.
type TestResult struct {
	FilePath         string
	ClassName        string
	TestName         string
	Status           string
	SetupIP          string
	Topology         string
	OrderIndex       int
	WasRerun         bool
	RerunStillFailed bool
	Failure          *FailureInfo
}

// TestKey is the composite logical key of the result.
func (r *TestResult) TestKey() string {
	return r.FilePath + "::" + r.ClassName + "::" + r.TestName
}

// FailureInfo carries the JUnit <failure> or <error> attached to a
// result.
type FailureInfo struct {
	// Kind is "failure" or "error".
	Kind    string
	Message string
	Text    string
}

// FullMessage renders the failure as message and body separated by a
// blank line, trimmed.
func (f *FailureInfo) FullMessage() string {
	return strings.TrimSpace(strings.TrimSpace(f.Message) + "\n\n" + strings.TrimSpace(f.Text))
}

// Run-log lines look like:
//   [10.0.0.1]  PASSED a/b.py::TestClass::test_name[param]
var lineRE = regexp.MustCompile(`^\[([^\]]+)\]\s+(PASSED|FAILED|SKIPPED|ERROR)\s+(.+?)::(.+?)::(.+)$`)

// ParseLogLine parses a single run-log line. Lines that do not match
// the expected shape return nil.
func ParseLogLine(line, topology string) *TestResult {
	m := lineRE.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return nil
	}
	return &TestResult{
		SetupIP:   m[1],
		Status:    m[2],
		FilePath:  m[3],
		ClassName: m[4],
		TestName:  strings.TrimSpace(m[5]),
		Topology:  topology,
	}
}

// ExtractTopology pulls the topology label out of an order file name.
// "1700000000_bp_5s.order.txt" yields "5s"; rerun files replace the
// timestamp with the re_run_ prefix, so "re_run_bp_5s.order.txt" also
// yields "5s". Unknown shapes yield "unknown".
func ExtractTopology(filename string) string {
	name := strings.TrimSuffix(filepath.Base(filename), orderSuffix)
	fields := strings.Split(name, "_")
	idx := 2
	if strings.HasPrefix(name, rerunPrefix) {
		idx = 3
	}
	if idx >= len(fields) {
		return "unknown"
	}
	return fields[idx]
}

// ParseLogFile parses every matching line of one order file, assigning
// order indexes in file order.
func ParseLogFile(path, topology string) ([]*TestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var results []*TestResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		r := ParseLogLine(scanner.Text(), topology)
		if r == nil {
			continue
		}
		r.OrderIndex = len(results)
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Merge overlays rerun results onto the main run. Rerun entries mark
// was_rerun, record whether the rerun still failed, inherit the main
// run's order index when present, and replace the main entry. Merge is
// idempotent.
func Merge(main, rerun []*TestResult) []*TestResult {
	byKey := make(map[string]*TestResult, len(main))
	order := make([]string, 0, len(main))
	for _, r := range main {
		key := r.TestKey()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = r
	}
	next := len(main)
	for _, r := range rerun {
		key := r.TestKey()
		merged := *r
		merged.WasRerun = true
		merged.RerunStillFailed = r.Status == StatusFailed || r.Status == StatusError
		if prev, ok := byKey[key]; ok {
			merged.OrderIndex = prev.OrderIndex
		} else {
			merged.OrderIndex = next
			next++
			order = append(order, key)
		}
		byKey[key] = &merged
	}
	out := make([]*TestResult, 0, len(byKey))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// ParseJobDirectory parses every order file under dir, merging each
// topology's main run with its rerun, then overlays failure messages
// from the junit/ tree. A bad file is logged and skipped; the rest of
// the directory still parses.
func ParseJobDirectory(dir string, logger *logrus.Entry) ([]*TestResult, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type pair struct {
		main  []*TestResult
		rerun []*TestResult
	}
	byTopology := map[string]*pair{}
	var topologies []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, orderSuffix) {
			continue
		}
		topology := ExtractTopology(name)
		results, err := ParseLogFile(filepath.Join(dir, name), topology)
		if err != nil {
			logger.WithError(err).Warnf("Skipping unreadable log %s.", name)
			continue
		}
		p, ok := byTopology[topology]
		if !ok {
			p = &pair{}
			byTopology[topology] = p
			topologies = append(topologies, topology)
		}
		if strings.HasPrefix(name, rerunPrefix) {
			p.rerun = append(p.rerun, results...)
		} else {
			p.main = append(p.main, results...)
		}
	}
	sort.Strings(topologies)

	var all []*TestResult
	for _, topology := range topologies {
		p := byTopology[topology]
		all = append(all, Merge(p.main, p.rerun)...)
	}

	failures, err := ParseJUnitTree(filepath.Join(dir, "junit"), logger)
	if err != nil {
		logger.WithError(err).Warn("Skipping junit overlay.")
	} else {
		attachFailures(all, failures)
	}
	return all, nil
}

func attachFailures(results []*TestResult, failures map[string]*FailureInfo) {
	for _, r := range results {
		if f, ok := failures[r.TestKey()]; ok {
			r.Failure = f
		}
	}
}

// Summary aggregates a parsed job the way the parser reports it: the
// pass rate is over executed (non-skipped) tests. The persisted job
// statistic divides by total instead; both conventions are load-bearing.
type Summary struct {
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Executed int
	PassRate float64
}

// Summarize computes a Summary over parsed results.
func Summarize(results []*TestResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	s.Executed = s.Total - s.Skipped
	if s.Executed > 0 {
		s.PassRate = 100 * float64(s.Passed) / float64(s.Executed)
	}
	return s
}
