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
	"fmt"
	"strings"
)

// NormalizeTestName strips a parameterization suffix from a test name:
// "test_foo[ipv6]" becomes "test_foo". Metadata joins always use the
// normalized name; TestResult rows keep the parameterized one.
func NormalizeTestName(name string) string {
	if i := strings.Index(name, "["); i >= 0 {
		return name[:i]
	}
	return name
}

// NormalizedNameExpr returns the SQL counterpart of NormalizeTestName
// for the given column. instr/substr behave the same on MySQL and
// sqlite, which keeps backfills testable in memory.
func NormalizedNameExpr(column string) string {
	return fmt.Sprintf(
		"CASE WHEN instr(%s, '[') > 0 THEN substr(%s, 1, instr(%s, '[') - 1) ELSE %s END",
		column, column, column, column)
}
