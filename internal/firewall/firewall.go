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

// Package firewall is the Semantic Firewall: a layered pattern/intent
// classifier with shadow mode and a hot-reloadable policy. It is the
// per-request admission gate every proxied call passes through.
package firewall

import (
	"math"
	"strings"
	"time"

	"agentswitchboard/internal/model"
	"agentswitchboard/internal/waf"
)

// Decision is the firewall's evaluation contract result.
type Decision struct {
	Allowed        bool
	Action         model.ActionTaken
	Reason         string
	RiskScore      float64
	IntentCategory model.IntentCategory
	LatencyMS      float64
	IsShadowEvent  bool
	PolicyID       string
	RedactedBody   string
	LoggedWAFRules []string
}

// Firewall evaluates requests against the compiled rule set and the active
// policy snapshot.
type Firewall struct {
	rules      *waf.RuleSet
	policy     func(orgID string) *model.Policy
	shadowMode func() bool
}

// New wires a Firewall to a live WAF rule set and to the callbacks that
// read the current policy/shadow-mode snapshot (owned by internal/policy).
func New(rules *waf.RuleSet, policyFn func(orgID string) *model.Policy, shadowModeFn func() bool) *Firewall {
	return &Firewall{rules: rules, policy: policyFn, shadowMode: shadowModeFn}
}

// Evaluate runs the pipeline in order; the first stage producing a
// non-allow terminates it, except under shadow mode. Any internal error
// fails open to allowed/audited/risk 50. orgID selects which organisation's
// policy document governs this request.
func (f *Firewall) Evaluate(orgID, body, method, path string) (d Decision) {
	start := time.Now()
	defer func() {
		d.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
		if r := recover(); r != nil {
			d = Decision{Allowed: true, Action: model.ActionAudited, Reason: "evaluation error", RiskScore: 50,
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0}
		}
	}()

	policy := f.policy(orgID)
	policyID := ""
	if policy != nil {
		policyID = policy.PolicyID
	}
	shadow := f.shadowMode()
	if policy != nil && policy.ShadowMode {
		shadow = true
	}

	// Stage 1+2: PII bloom pre-filter, then confirmation.
	if bloomMightContainPII(body) {
		if reason := detectPII(body); reason != "" {
			return f.terminal(reason, 100, model.IntentUnknown, policyID, shadow, "")
		}
	}

	// Stage 3: dangerous pattern regex.
	if reason := detectDangerousPattern(body); reason != "" {
		return f.terminal(reason, 95, model.IntentUnknown, policyID, shadow, "")
	}

	// Stage 4: WAF rule evaluation.
	wafResult := f.rules.Evaluate(body)
	workingBody := body
	if wafResult.Redacted {
		workingBody = wafResult.RedactedBody
	}
	if wafResult.Blocked {
		score := wafResult.Severity.ScoreWeight() * 100
		d := f.terminal("waf:"+string(wafResult.Category), score, model.IntentUnknown, policyID, shadow, workingBody)
		d.LoggedWAFRules = wafResult.LoggedRuleIDs
		return d
	}

	// Stage 5: intent classification.
	category, confidence, weight := classifyIntent(workingBody)

	// Stage 6: policy check.
	if policy != nil && policy.Blocks(category) {
		d := f.terminal("blocked_intent:"+string(category), math.Min(100, (20+weight)*math.Max(confidence, 0.5)), category, policyID, shadow, workingBody)
		d.LoggedWAFRules = wafResult.LoggedRuleIDs
		return d
	}

	// Stage 7: risk score.
	risk := 20 + weight
	if strings.EqualFold(method, "DELETE") {
		risk += 20
	}
	if strings.Contains(strings.ToLower(path), "admin") {
		risk += 10
	}
	risk = math.Min(100, risk*math.Max(confidence, 1))

	action := model.ActionAllowed
	if risk > 70 {
		action = model.ActionAudited
	}

	return Decision{
		Allowed:        true,
		Action:         action,
		RiskScore:      risk,
		IntentCategory: category,
		IsShadowEvent:  false,
		PolicyID:       policyID,
		RedactedBody:   workingBody,
		LoggedWAFRules: wafResult.LoggedRuleIDs,
	}
}

// terminal builds a would-be-denial decision, downgrading to shadow_blocked
// under shadow mode without denying the caller.
func (f *Firewall) terminal(reason string, riskScore float64, category model.IntentCategory, policyID string, shadow bool, redactedBody string) Decision {
	if shadow {
		return Decision{
			Allowed: true, Action: model.ActionShadowBlocked, Reason: reason, RiskScore: riskScore,
			IntentCategory: category, IsShadowEvent: true, PolicyID: policyID, RedactedBody: redactedBody,
		}
	}
	return Decision{
		Allowed: false, Action: model.ActionBlocked, Reason: reason, RiskScore: riskScore,
		IntentCategory: category, IsShadowEvent: false, PolicyID: policyID, RedactedBody: redactedBody,
	}
}
