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

package controlplane

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"agentswitchboard/internal/fanout"
	"agentswitchboard/internal/model"
)

type stubAgentStore struct {
	mu            sync.Mutex
	statuses      map[string]model.AgentStatus
	orgStatus     map[string]model.AgentStatus
	resolved      map[string]string
	failNext      bool
}

func newStubAgentStore() *stubAgentStore {
	return &stubAgentStore{statuses: map[string]model.AgentStatus{}, orgStatus: map[string]model.AgentStatus{}, resolved: map[string]string{}}
}

func (s *stubAgentStore) SetAgentStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("store error")
	}
	s.statuses[agentID] = status
	return nil
}

func (s *stubAgentStore) SetAllAgentsStatus(ctx context.Context, orgID string, status model.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgStatus[orgID] = status
	return nil
}

func (s *stubAgentStore) ResolveAnomaly(ctx context.Context, anomalyID, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[anomalyID] = resolvedBy
	return nil
}

type stubBreaker struct {
	stopped bool
}

func (b *stubBreaker) TriggerEmergencyStop() { b.stopped = true }
func (b *stubBreaker) ResetEmergencyStop()   { b.stopped = false }

type stubPolicyStore struct {
	updated map[string]*model.Policy
}

func (s *stubPolicyStore) Update(orgID string, p *model.Policy) {
	if s.updated == nil {
		s.updated = map[string]*model.Policy{}
	}
	s.updated[orgID] = p
}

type stubWAF struct {
	known map[string]bool
	toggled map[string]bool
}

func (s *stubWAF) Toggle(id string, enabled bool) bool {
	if !s.known[id] {
		return false
	}
	if s.toggled == nil {
		s.toggled = map[string]bool{}
	}
	s.toggled[id] = enabled
	return true
}

type stubNotifier struct {
	mu     sync.Mutex
	events []fanout.EventType
}

func (n *stubNotifier) Emit(t fanout.EventType, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, t)
}

func (n *stubNotifier) EmitForOrg(orgID string, t fanout.EventType, payload interface{}) {
	n.Emit(t, payload)
}

func TestPauseAllUpdatesStoreAndEmits(t *testing.T) {
	agents := newStubAgentStore()
	notify := &stubNotifier{}
	cp := New(agents, &stubBreaker{}, &stubPolicyStore{}, &stubWAF{}, notify)

	require.NoError(t, cp.PauseAll(context.Background(), "org-1"))
	require.Equal(t, model.AgentPaused, agents.orgStatus["org-1"])
	require.Equal(t, []fanout.EventType{fanout.EventGlobalPauseStatus}, notify.events)
}

func TestResumeAllUpdatesStoreAndEmits(t *testing.T) {
	agents := newStubAgentStore()
	notify := &stubNotifier{}
	cp := New(agents, &stubBreaker{}, &stubPolicyStore{}, &stubWAF{}, notify)

	require.NoError(t, cp.ResumeAll(context.Background(), "org-1"))
	require.Equal(t, model.AgentActive, agents.orgStatus["org-1"])
	require.Len(t, notify.events, 1)
}

func TestPauseAgentPropagatesStoreError(t *testing.T) {
	agents := newStubAgentStore()
	agents.failNext = true
	notify := &stubNotifier{}
	cp := New(agents, &stubBreaker{}, &stubPolicyStore{}, &stubWAF{}, notify)

	err := cp.PauseAgent(context.Background(), "org-1", "agent-1")
	require.Error(t, err)
	require.Empty(t, notify.events)
}

func TestRevokeTokenSetsRevokedStatus(t *testing.T) {
	agents := newStubAgentStore()
	notify := &stubNotifier{}
	cp := New(agents, &stubBreaker{}, &stubPolicyStore{}, &stubWAF{}, notify)

	require.NoError(t, cp.RevokeToken(context.Background(), "org-1", "agent-1"))
	require.Equal(t, model.AgentRevoked, agents.statuses["agent-1"])
	require.Equal(t, []fanout.EventType{fanout.EventAgentStatus}, notify.events)
}

func TestResolveAnomalyRecordsResolver(t *testing.T) {
	agents := newStubAgentStore()
	notify := &stubNotifier{}
	cp := New(agents, &stubBreaker{}, &stubPolicyStore{}, &stubWAF{}, notify)

	require.NoError(t, cp.ResolveAnomaly(context.Background(), "org-1", "anom-1", "alice"))
	require.Equal(t, "alice", agents.resolved["anom-1"])
	require.Equal(t, []fanout.EventType{fanout.EventAnomalyDetected}, notify.events)
}

func TestEmergencyStopAndResetToggleBreaker(t *testing.T) {
	breaker := &stubBreaker{}
	notify := &stubNotifier{}
	cp := New(newStubAgentStore(), breaker, &stubPolicyStore{}, &stubWAF{}, notify)

	cp.EmergencyStop()
	require.True(t, breaker.stopped)
	cp.EmergencyReset()
	require.False(t, breaker.stopped)
	require.Equal(t, []fanout.EventType{fanout.EventEmergencyStop, fanout.EventEmergencyStop}, notify.events)
}

func TestUpdatePolicyAppliesAndEmits(t *testing.T) {
	policies := &stubPolicyStore{}
	notify := &stubNotifier{}
	cp := New(newStubAgentStore(), &stubBreaker{}, policies, &stubWAF{}, notify)

	p := &model.Policy{PolicyID: "org-1"}
	cp.UpdatePolicy("org-1", p)
	require.Same(t, p, policies.updated["org-1"])
	require.Equal(t, []fanout.EventType{fanout.EventPolicyUpdated}, notify.events)
}

func TestToggleWAFRuleUnknownIDReportsFalseAndNoEvent(t *testing.T) {
	notify := &stubNotifier{}
	cp := New(newStubAgentStore(), &stubBreaker{}, &stubPolicyStore{}, &stubWAF{known: map[string]bool{}}, notify)

	require.False(t, cp.ToggleWAFRule("org-1", "rule-x", true))
	require.Empty(t, notify.events)
}

func TestToggleWAFRuleKnownIDTogglesAndEmits(t *testing.T) {
	waf := &stubWAF{known: map[string]bool{"rule-1": true}}
	notify := &stubNotifier{}
	cp := New(newStubAgentStore(), &stubBreaker{}, &stubPolicyStore{}, waf, notify)

	require.True(t, cp.ToggleWAFRule("org-1", "rule-1", false))
	require.Equal(t, false, waf.toggled["rule-1"])
	require.Equal(t, []fanout.EventType{fanout.EventWAFRuleUpdated}, notify.events)
}
