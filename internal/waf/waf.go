// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package waf is the L1 Semantic WAF rule set: a compiled pattern matcher
// over request content, with block/redact/log actions and runtime rule
// toggles.
package waf

import (
	"regexp"
	"sync"

	"agentswitchboard/internal/model"
)

// compiledRule pairs a model.WAFRule with its precompiled patterns.
type compiledRule struct {
	rule     model.WAFRule
	patterns []*regexp.Regexp
}

// RuleSet holds the compiled rules, guarded for runtime toggles.
type RuleSet struct {
	mu    sync.RWMutex
	rules []*compiledRule
}

// DefaultRules is the rule set a fresh deployment starts with, grouped by
// the four threat categories the spec names.
func DefaultRules() []model.WAFRule {
	return []model.WAFRule{
		{
			ID: "waf-001", Name: "Prompt injection: ignore instructions",
			Category: model.WAFPromptInjection, Severity: model.SeverityHigh, Enabled: true,
			Patterns: []string{`(?i)ignore (all )?(previous|prior|above) instructions`, `(?i)disregard (the )?system prompt`},
			Action:   model.WAFBlock,
		},
		{
			ID: "waf-002", Name: "Tool hijacking: function override",
			Category: model.WAFToolHijacking, Severity: model.SeverityHigh, Enabled: true,
			Patterns: []string{`(?i)call (the )?(tool|function)\s+\w+\s+with`, `(?i)override\s+(the\s+)?tool\s+definition`},
			Action:   model.WAFBlock,
		},
		{
			ID: "waf-003", Name: "PII exfiltration phrasing",
			Category: model.WAFPIIExfiltration, Severity: model.SeverityMedium, Enabled: true,
			Patterns: []string{`(?i)send (my|the|all) (ssn|social security|credit card)`, `(?i)export (all )?(user|customer) data`},
			Action:   model.WAFRedact,
		},
		{
			ID: "waf-004", Name: "Data poisoning markers",
			Category: model.WAFDataPoisoning, Severity: model.SeverityMedium, Enabled: true,
			Patterns: []string{`(?i)always respond with`, `(?i)from now on you are`},
			Action:   model.WAFLog,
		},
	}
}

// NewRuleSet compiles rules, skipping unparsable patterns entirely rather
// than panicking on a bad rule from the store.
func NewRuleSet(rules []model.WAFRule) *RuleSet {
	rs := &RuleSet{}
	for _, r := range rules {
		rs.addLocked(r)
	}
	return rs
}

func (rs *RuleSet) addLocked(r model.WAFRule) {
	cr := &compiledRule{rule: r}
	for _, p := range r.Patterns {
		compiled, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		cr.patterns = append(cr.patterns, compiled)
	}
	rs.rules = append(rs.rules, cr)
}

// Toggle enables or disables a rule by id at runtime.
func (rs *RuleSet) Toggle(id string, enabled bool) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, cr := range rs.rules {
		if cr.rule.ID == id {
			cr.rule.Enabled = enabled
			return true
		}
	}
	return false
}

// Rules returns a snapshot of the current rule set, for listing via the
// control API.
func (rs *RuleSet) Rules() []model.WAFRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]model.WAFRule, len(rs.rules))
	for i, cr := range rs.rules {
		out[i] = cr.rule
	}
	return out
}

// Result is the outcome of evaluating the rule set against one body.
type Result struct {
	Blocked      bool
	RuleID       string
	Category     model.WAFCategory
	Severity     model.Severity
	RedactedBody string
	Redacted     bool
	// LoggedRuleIDs holds the IDs of every enabled WAFLog rule that
	// matched, even when no block or redact rule also fired. The caller
	// is responsible for actually recording/emitting these; Evaluate
	// only surfaces the match.
	LoggedRuleIDs []string
}

// Evaluate tries each enabled rule in order. At most one match per rule is
// recorded. A redact rule rewrites every match with "[REDACTED]" in a
// working copy of the body; a block rule terminates evaluation.
func (rs *RuleSet) Evaluate(body string) Result {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	working := body
	redacted := false
	var logged []string

	for _, cr := range rs.rules {
		if !cr.rule.Enabled {
			continue
		}
		for _, pattern := range cr.patterns {
			if !pattern.MatchString(working) {
				continue
			}
			switch cr.rule.Action {
			case model.WAFBlock:
				return Result{
					Blocked:       true,
					RuleID:        cr.rule.ID,
					Category:      cr.rule.Category,
					Severity:      cr.rule.Severity,
					LoggedRuleIDs: logged,
				}
			case model.WAFRedact:
				working = pattern.ReplaceAllString(working, "[REDACTED]")
				redacted = true
			case model.WAFLog:
				logged = append(logged, cr.rule.ID)
			}
			break
		}
	}

	return Result{RedactedBody: working, Redacted: redacted, LoggedRuleIDs: logged}
}
