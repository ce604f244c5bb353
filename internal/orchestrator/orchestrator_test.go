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

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentswitchboard/internal/cache"
	"agentswitchboard/internal/fanout"
	"agentswitchboard/internal/firewall"
	"agentswitchboard/internal/model"
	"agentswitchboard/internal/recorder"
	"agentswitchboard/internal/traffic"
)

type stubAuth struct {
	org *model.Organisation
	err error
}

func (s *stubAuth) Authenticate(ctx context.Context, token string) (*model.Organisation, error) {
	return s.org, s.err
}

type stubEmergency struct{ stopped bool }

func (s *stubEmergency) IsStopped() bool { return s.stopped }

type stubFirewall struct{ decision firewall.Decision }

func (s *stubFirewall) Evaluate(orgID, body, method, path string) firewall.Decision { return s.decision }

type stubTraffic struct {
	access   *traffic.AccessResult
	accessErr error
	released bool
}

func (s *stubTraffic) RequestAccess(ctx context.Context, agentID, resourceType, resourcePath string, isWrite bool) (*traffic.AccessResult, error) {
	return s.access, s.accessErr
}

func (s *stubTraffic) ReleaseAccess(ctx context.Context, agentID, resourceType, resourcePath string) (bool, error) {
	s.released = true
	return true, nil
}

type stubCache struct {
	result  *cache.Result
	hit     bool
	stored  bool
	hitCalls int
}

func (s *stubCache) Lookup(ctx context.Context, orgID, modelName, promptText string) (*cache.Result, bool) {
	return s.result, s.hit
}

func (s *stubCache) Store(ctx context.Context, orgID, modelName, promptText, responseText string, responseTokens int) {
	s.stored = true
}

func (s *stubCache) RecordHit(ctx context.Context, cacheID string, costSaved float64) { s.hitCalls++ }

type stubRecorder struct {
	recorded []recorder.Input
}

func (s *stubRecorder) Record(ctx context.Context, rc *recorder.Context, in recorder.Input) *model.Trace {
	s.recorded = append(s.recorded, in)
	return &model.Trace{TraceID: rc.TraceID}
}

type stubNotify struct {
	events []fanout.EventType
}

func (s *stubNotify) EmitForOrg(orgID string, t fanout.EventType, payload interface{}) {
	s.events = append(s.events, t)
}

type stubAgents struct {
	agent *model.Agent
	err   error
}

func (s *stubAgents) AgentByID(ctx context.Context, agentID string) (*model.Agent, error) {
	return s.agent, s.err
}

type stubForwarder struct {
	resp *UpstreamResponse
	err  error
}

func (s *stubForwarder) Forward(ctx context.Context, method, url string, header http.Header, body []byte) (*UpstreamResponse, error) {
	return s.resp, s.err
}

func baseDeps() Dependencies {
	return Dependencies{
		Auth:      &stubAuth{org: &model.Organisation{OrgID: "org-1", IsActive: true}},
		Emergency: &stubEmergency{},
		Firewall:  &stubFirewall{decision: firewall.Decision{Allowed: true, Action: model.ActionAllowed}},
		Traffic:   &stubTraffic{access: &traffic.AccessResult{Resolution: traffic.Granted}},
		Cache:     &stubCache{},
		Recorder:  &stubRecorder{},
		Notify:    &stubNotify{},
		Forwarder: &stubForwarder{resp: &UpstreamResponse{StatusCode: 200, Body: []byte(`{"ok":true}`)}},
		Upstreams: UpstreamTargets{OpenAI: "https://api.openai.com"},
	}
}

func newRequest(body string) *http.Request {
	r := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	r.Header.Set("X-Switchboard-Token", "tok-1")
	r.Header.Set("X-Agent-Id", "agent-1")
	return r
}

func TestEmergencyStopReturns503(t *testing.T) {
	deps := baseDeps()
	deps.Emergency = &stubEmergency{stopped: true}
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMissingTokenReturns401(t *testing.T) {
	o := New(baseDeps())
	r := newRequest("{}")
	r.Header.Del("X-Switchboard-Token")

	w := httptest.NewRecorder()
	o.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnknownTokenReturns401(t *testing.T) {
	deps := baseDeps()
	deps.Auth = &stubAuth{err: assert.AnError}
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPausedAgentReturns403AndNeverReachesForwarder(t *testing.T) {
	deps := baseDeps()
	deps.Agents = &stubAgents{agent: &model.Agent{AgentID: "agent-1", Status: model.AgentPaused}}
	forwarder := &stubForwarder{resp: &UpstreamResponse{StatusCode: 200, Body: []byte(`{"ok":true}`)}}
	deps.Forwarder = forwarder
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRevokedAgentReturns403(t *testing.T) {
	deps := baseDeps()
	deps.Agents = &stubAgents{agent: &model.Agent{AgentID: "agent-1", Status: model.AgentRevoked}}
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestActiveAgentIsNotBlocked(t *testing.T) {
	deps := baseDeps()
	deps.Agents = &stubAgents{agent: &model.Agent{AgentID: "agent-1", Status: model.AgentActive}}
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))

	require.Equal(t, http.StatusOK, w.Code)
}

func TestFirewallDenialReturns403AndEmitsEvent(t *testing.T) {
	deps := baseDeps()
	deps.Firewall = &stubFirewall{decision: firewall.Decision{Allowed: false, Action: model.ActionBlocked, Reason: "destructive intent"}}
	notify := &stubNotify{}
	deps.Notify = notify
	rec := &stubRecorder{}
	deps.Recorder = rec
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, []fanout.EventType{fanout.EventAgentBlocked}, notify.events)
	require.Len(t, rec.recorded, 1)
	require.Equal(t, model.ActionBlocked, rec.recorded[0].ActionTaken)
}

func TestResourceConflictReturns409(t *testing.T) {
	deps := baseDeps()
	deps.Traffic = &stubTraffic{access: &traffic.AccessResult{Resolution: traffic.Rejected}}
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest(`{"body":"delete from accounts"}`))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestCacheHitSkipsForwarderAndSetsHitHeader(t *testing.T) {
	deps := baseDeps()
	c := &stubCache{result: &cache.Result{CacheID: "cache-1", ResponseText: `{"cached":true}`}, hit: true}
	deps.Cache = c
	forwarder := &stubForwarder{}
	deps.Forwarder = forwarder
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest(`{"prompt":"hello"}`))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "HIT", w.Header().Get("X-Switchboard-Cache"))
	require.Equal(t, 1, c.hitCalls)
	require.Contains(t, w.Body.String(), "cached")
}

func TestCacheMissForwardsAndStores(t *testing.T) {
	deps := baseDeps()
	c := &stubCache{}
	deps.Cache = c
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest(`{"prompt":"hello"}`))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "MISS", w.Header().Get("X-Switchboard-Cache"))
	require.True(t, c.stored)
}

func TestUpstreamErrorReturns502(t *testing.T) {
	deps := baseDeps()
	deps.Forwarder = &stubForwarder{err: assert.AnError}
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSuccessfulRequestSetsResponseHeaders(t *testing.T) {
	deps := baseDeps()
	o := New(deps)

	w := httptest.NewRecorder()
	o.ServeHTTP(w, newRequest("{}"))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Switchboard-Trace-Id"))
	require.NotEmpty(t, w.Header().Get("X-Switchboard-Latency-Ms"))
	require.Equal(t, "MISS", w.Header().Get("X-Switchboard-Cache"))
}

func TestSelectUpstreamPicksProviderByAuthPrefix(t *testing.T) {
	targets := UpstreamTargets{OpenAI: "openai-base", Anthropic: "anthropic-base", Google: "google-base"}

	provider, base := SelectUpstream(targets, "sk-ant-abc123")
	require.Equal(t, "anthropic", provider)
	require.Equal(t, "anthropic-base", base)

	provider, base = SelectUpstream(targets, "AIzaSyXYZ")
	require.Equal(t, "google", provider)
	require.Equal(t, "google-base", base)

	provider, base = SelectUpstream(targets, "sk-proj-abc")
	require.Equal(t, "openai", provider)
	require.Equal(t, "openai-base", base)
}

func TestForwardableHeaderExcludesHopByHopAndSwitchboardHeaders(t *testing.T) {
	require.False(t, forwardableHeader("Connection"))
	require.False(t, forwardableHeader("X-Switchboard-Token"))
	require.False(t, forwardableHeader("Content-Length"))
	require.True(t, forwardableHeader("Authorization"))
}
