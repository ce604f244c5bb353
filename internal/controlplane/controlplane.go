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

// Package controlplane implements the ten mutating operations pushed from
// the control API: pause/resume of agents (individually or org-wide),
// token revocation, anomaly resolution, the global emergency-stop
// breaker, policy updates and WAF rule toggles. Every mutation applies to
// in-memory state and/or the persistent store first, then emits a
// fan-out event — callers never need to remember to do both.
package controlplane

import (
	"context"
	"fmt"

	"agentswitchboard/internal/fanout"
	"agentswitchboard/internal/model"
)

// AgentStore is the agent-status persistence dependency.
type AgentStore interface {
	SetAgentStatus(ctx context.Context, agentID string, status model.AgentStatus) error
	SetAllAgentsStatus(ctx context.Context, orgID string, status model.AgentStatus) error
	ResolveAnomaly(ctx context.Context, anomalyID, resolvedBy string) error
}

// EmergencyBreaker is the process-wide emergency-stop switch.
type EmergencyBreaker interface {
	TriggerEmergencyStop()
	ResetEmergencyStop()
}

// PolicyStore applies a policy update to the in-memory snapshot; the
// update is not persisted.
type PolicyStore interface {
	Update(orgID string, p *model.Policy)
}

// WAFToggler enables or disables a registered WAF rule by id.
type WAFToggler interface {
	Toggle(id string, enabled bool) bool
}

// Notifier broadcasts a control-plane event to live dashboard
// subscribers. Satisfied by *fanout.Fanout.
type Notifier interface {
	Emit(t fanout.EventType, payload interface{})
	EmitForOrg(orgID string, t fanout.EventType, payload interface{})
}

// ControlPlane wires the four mutation targets (agent store, emergency
// breaker, policy store, WAF rule set) to the fan-out notifier.
type ControlPlane struct {
	agents   AgentStore
	breaker  EmergencyBreaker
	policies PolicyStore
	waf      WAFToggler
	notify   Notifier
}

// New constructs a ControlPlane. No method nil-checks its dependencies:
// notify is used by every mutation, and each store or toggler must be
// non-nil if a mutation that uses it is called.
func New(agents AgentStore, breaker EmergencyBreaker, policies PolicyStore, waf WAFToggler, notify Notifier) *ControlPlane {
	return &ControlPlane{agents: agents, breaker: breaker, policies: policies, waf: waf, notify: notify}
}

// PauseAll pauses every agent in an organisation.
func (c *ControlPlane) PauseAll(ctx context.Context, orgID string) error {
	if err := c.agents.SetAllAgentsStatus(ctx, orgID, model.AgentPaused); err != nil {
		return fmt.Errorf("pause all: %w", err)
	}
	c.notify.EmitForOrg(orgID, fanout.EventGlobalPauseStatus, map[string]interface{}{"orgId": orgID, "paused": true})
	return nil
}

// ResumeAll resumes every agent in an organisation.
func (c *ControlPlane) ResumeAll(ctx context.Context, orgID string) error {
	if err := c.agents.SetAllAgentsStatus(ctx, orgID, model.AgentActive); err != nil {
		return fmt.Errorf("resume all: %w", err)
	}
	c.notify.EmitForOrg(orgID, fanout.EventGlobalPauseStatus, map[string]interface{}{"orgId": orgID, "paused": false})
	return nil
}

// PauseAgent pauses a single agent. A paused agent's requests never
// reach an upstream.
func (c *ControlPlane) PauseAgent(ctx context.Context, orgID, agentID string) error {
	if err := c.agents.SetAgentStatus(ctx, agentID, model.AgentPaused); err != nil {
		return fmt.Errorf("pause agent %s: %w", agentID, err)
	}
	c.notify.EmitForOrg(orgID, fanout.EventAgentStatus, map[string]interface{}{"agentId": agentID, "status": model.AgentPaused})
	return nil
}

// ResumeAgent restores a paused agent to active.
func (c *ControlPlane) ResumeAgent(ctx context.Context, orgID, agentID string) error {
	if err := c.agents.SetAgentStatus(ctx, agentID, model.AgentActive); err != nil {
		return fmt.Errorf("resume agent %s: %w", agentID, err)
	}
	c.notify.EmitForOrg(orgID, fanout.EventAgentStatus, map[string]interface{}{"agentId": agentID, "status": model.AgentActive})
	return nil
}

// RevokeToken revokes an agent's standing, a status distinct from
// paused. ResumeAll sets every agent in the organisation to active,
// revoked agents included.
func (c *ControlPlane) RevokeToken(ctx context.Context, orgID, agentID string) error {
	if err := c.agents.SetAgentStatus(ctx, agentID, model.AgentRevoked); err != nil {
		return fmt.Errorf("revoke agent %s: %w", agentID, err)
	}
	c.notify.EmitForOrg(orgID, fanout.EventAgentStatus, map[string]interface{}{"agentId": agentID, "status": model.AgentRevoked})
	return nil
}

// ResolveAnomaly marks an anomaly resolved, recording who resolved it.
func (c *ControlPlane) ResolveAnomaly(ctx context.Context, orgID, anomalyID, resolvedBy string) error {
	if err := c.agents.ResolveAnomaly(ctx, anomalyID, resolvedBy); err != nil {
		return fmt.Errorf("resolve anomaly %s: %w", anomalyID, err)
	}
	c.notify.EmitForOrg(orgID, fanout.EventAnomalyDetected, map[string]interface{}{"anomalyId": anomalyID, "status": model.AnomalyResolved})
	return nil
}

// EmergencyStop trips the global breaker: every /v1/* call short-circuits
// with a 503 until EmergencyReset is called. It is broadcast, not
// org-scoped — the breaker stops all traffic regardless of tenant.
func (c *ControlPlane) EmergencyStop() {
	c.breaker.TriggerEmergencyStop()
	c.notify.Emit(fanout.EventEmergencyStop, map[string]interface{}{"stopped": true})
}

// EmergencyReset clears the global breaker.
func (c *ControlPlane) EmergencyReset() {
	c.breaker.ResetEmergencyStop()
	c.notify.Emit(fanout.EventEmergencyStop, map[string]interface{}{"stopped": false})
}

// UpdatePolicy replaces an organisation's in-memory snapshot with p. The
// PUT policies handler merges a partial body onto the current policy
// before calling it.
func (c *ControlPlane) UpdatePolicy(orgID string, p *model.Policy) {
	c.policies.Update(orgID, p)
	c.notify.EmitForOrg(orgID, fanout.EventPolicyUpdated, map[string]interface{}{"orgId": orgID})
}

// ToggleWAFRule enables or disables a registered rule. It reports false
// if the rule id is unknown; no event is emitted in that case.
func (c *ControlPlane) ToggleWAFRule(orgID, ruleID string, enabled bool) bool {
	if !c.waf.Toggle(ruleID, enabled) {
		return false
	}
	c.notify.EmitForOrg(orgID, fanout.EventWAFRuleUpdated, map[string]interface{}{"ruleId": ruleID, "enabled": enabled})
	return true
}
