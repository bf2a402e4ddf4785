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

package logparse

import (
	"encoding/xml"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// junitTestSuite holds a <testsuite> element. Files may carry a
// <testsuites> wrapper or a bare suite; both shapes decode.
type junitTestSuite struct {
	XMLName xml.Name        `xml:"testsuite"`
	Name    string          `xml:"name,attr"`
	Cases   []junitTestCase `xml:"testcase"`
}

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	File      string        `xml:"file,attr"`
	Failure   *junitProblem `xml:"failure"`
	Error     *junitProblem `xml:"error"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// ParseJUnitTree walks every XML file under root and returns failure
// info keyed by test key. A missing tree is not an error; a malformed
// file is logged and skipped.
func ParseJUnitTree(root string, logger *logrus.Entry) (map[string]*FailureInfo, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	failures := map[string]*FailureInfo{}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return failures, nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".xml") {
			return nil
		}
		if err := parseJUnitFile(path, failures); err != nil {
			logger.WithError(err).Warnf("Skipping malformed junit file %s.", path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failures, nil
}

func parseJUnitFile(path string, failures map[string]*FailureInfo) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var suites []junitTestSuite
	var doc junitTestSuites
	if err := xml.Unmarshal(raw, &doc); err == nil {
		suites = doc.Suites
	} else {
		var suite junitTestSuite
		if err := xml.Unmarshal(raw, &suite); err != nil {
			return err
		}
		suites = []junitTestSuite{suite}
	}
	for _, suite := range suites {
		for _, tc := range suite.Cases {
			problem := tc.Failure
			kind := "failure"
			if problem == nil {
				problem = tc.Error
				kind = "error"
			}
			if problem == nil {
				continue
			}
			key := tc.File + "::" + classTail(tc.ClassName) + "::" + tc.Name
			failures[key] = &FailureInfo{
				Kind:    kind,
				Message: problem.Message,
				Text:    problem.Text,
			}
		}
	}
	return nil
}

// classTail keeps the final dotted component of a junit classname:
// "tests.business_policy.TestNat" becomes "TestNat".
func classTail(classname string) string {
	if i := strings.LastIndex(classname, "."); i >= 0 {
		return classname[i+1:]
	}
	return classname
}
