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

// Package orchestrator composes the firewall, traffic controller,
// semantic cache, flight recorder and worker sandbox into the single
// request pipeline that serves /v1/*: emergency-stop check, tenant
// lookup, body decode, agent-status check, pre-hooks, firewall decision,
// resource lock, cache lookup, upstream forward, post-hooks, trace,
// release, response.
package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentswitchboard/internal/cache"
	"agentswitchboard/internal/fanout"
	"agentswitchboard/internal/firewall"
	"agentswitchboard/internal/logger"
	"agentswitchboard/internal/model"
	"agentswitchboard/internal/recorder"
	"agentswitchboard/internal/traffic"
)

// Authenticator resolves the required X-Switchboard-Token header to an
// organisation. Satisfied by *auth.Authenticator.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Organisation, error)
}

// EmergencyChecker reports the orthogonal global emergency-stop flag.
// Satisfied by *traffic.Controller.
type EmergencyChecker interface {
	IsStopped() bool
}

// FirewallEvaluator is the semantic firewall's admission decision.
// Satisfied by *firewall.Firewall.
type FirewallEvaluator interface {
	Evaluate(orgID, body, method, path string) firewall.Decision
}

// AgentStatusChecker looks up an agent's lifecycle status so a paused or
// revoked agent's requests can be rejected before they reach an upstream.
// Satisfied by *timeseries.Store.
type AgentStatusChecker interface {
	AgentByID(ctx context.Context, agentID string) (*model.Agent, error)
}

// TrafficController resolves resource-level conflicts between
// concurrently writing agents. Satisfied by *traffic.Controller.
type TrafficController interface {
	RequestAccess(ctx context.Context, agentID, resourceType, resourcePath string, isWrite bool) (*traffic.AccessResult, error)
	ReleaseAccess(ctx context.Context, agentID, resourceType, resourcePath string) (bool, error)
}

// SemanticCache is the narrow cache dependency this pipeline needs.
// Satisfied by *cache.Cache.
type SemanticCache interface {
	Lookup(ctx context.Context, orgID, modelName, promptText string) (*cache.Result, bool)
	Store(ctx context.Context, orgID, modelName, promptText, responseText string, responseTokens int)
	RecordHit(ctx context.Context, cacheID string, costSaved float64)
}

// TraceRecorder is the flight recorder dependency. Satisfied by
// *recorder.Recorder.
type TraceRecorder interface {
	Record(ctx context.Context, rc *recorder.Context, in recorder.Input) *model.Trace
}

// HookRunner runs the worker sandbox's pre/post hook chains. Satisfied by
// *sandbox.Sandbox.
type HookRunner interface {
	RunPreRequest(ctx context.Context, req, env map[string]interface{}) (outReq, shortCircuit map[string]interface{}, didShortCircuit bool)
	RunPostResponse(ctx context.Context, req, resp, env map[string]interface{}) map[string]interface{}
}

// EventNotifier broadcasts request-lifecycle events to dashboard
// subscribers. Satisfied by *fanout.Fanout.
type EventNotifier interface {
	EmitForOrg(orgID string, t fanout.EventType, payload interface{})
}

// Dependencies bundles everything the Orchestrator needs to serve a
// request. Every field is required except Sandbox, which may be nil to
// skip the hook chains entirely, and Agents, which may be nil to skip
// the agent-status check (e.g. in tests that never set X-Agent-Id).
type Dependencies struct {
	Auth      Authenticator
	Agents    AgentStatusChecker
	Emergency EmergencyChecker
	Firewall  FirewallEvaluator
	Traffic   TrafficController
	Cache     SemanticCache
	Recorder  TraceRecorder
	Sandbox   HookRunner
	Notify    EventNotifier
	Forwarder Forwarder
	Upstreams UpstreamTargets
	Log       *logger.Logger
}

// Orchestrator serves the /v1/* reverse-proxy surface.
type Orchestrator struct {
	deps Dependencies
}

// New constructs an Orchestrator from its wired dependencies.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// requestEnvelope is the loose, schema-tolerant view of an inbound body
// used to extract a cache key and message history across the three
// upstream request shapes this proxy accepts.
type requestEnvelope struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	HumanPrompt string `json:"human_prompt"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func estimateTokensFromText(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / 4))
}

func writeJSONError(w http.ResponseWriter, status int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error": map[string]interface{}{"message": message, "type": errType, "code": code},
	}
	_ = json.NewEncoder(w).Encode(body)
}

// ServeHTTP implements the full pipeline documented for the proxy
// surface. The caller's full request path, /v1 prefix included, is
// appended to the selected upstream base URL verbatim.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if o.deps.Emergency != nil && o.deps.Emergency.IsStopped() {
		writeJSONError(w, http.StatusServiceUnavailable, "emergency", "EMERGENCY_STOP", "the switchboard is in emergency stop")
		return
	}

	token := r.Header.Get("X-Switchboard-Token")
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "validation", "MISSING_TOKEN", "X-Switchboard-Token header is required")
		return
	}
	org, err := o.deps.Auth.Authenticate(ctx, token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "validation", "INVALID_TOKEN", "unknown or inactive organisation token")
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation", "INVALID_BODY", "could not read request body")
		return
	}
	bodyStr := string(bodyBytes)

	agentID := r.Header.Get("X-Agent-Id")
	agentName := r.Header.Get("X-Agent-Name")
	agentFramework := r.Header.Get("X-Agent-Framework")

	if agentID != "" && o.deps.Agents != nil {
		agent, err := o.deps.Agents.AgentByID(ctx, agentID)
		if err != nil && o.deps.Log != nil {
			o.deps.Log.WarnErr(org.OrgID, agentID, "agent status lookup failed", err, nil)
		}
		if agent != nil && (agent.Status == model.AgentPaused || agent.Status == model.AgentRevoked) {
			writeJSONError(w, http.StatusForbidden, "agent_suspended", "AGENT_"+strings.ToUpper(string(agent.Status)),
				"agent is "+string(agent.Status)+" and cannot reach an upstream")
			return
		}
	}

	rc := recorder.CreateContext("")

	var env requestEnvelope
	_ = json.Unmarshal(bodyBytes, &env)

	// Pre-hooks: a script may short-circuit the entire pipeline with its
	// own response.
	if o.deps.Sandbox != nil {
		hookReq := map[string]interface{}{
			"method": r.Method, "path": r.URL.Path, "body": bodyStr, "orgId": org.OrgID, "agentId": agentID,
		}
		hookEnv := map[string]interface{}{"orgId": org.OrgID, "agentId": agentID}
		newReq, shortCircuit, did := o.deps.Sandbox.RunPreRequest(ctx, hookReq, hookEnv)
		if did {
			o.writeShortCircuitResponse(w, shortCircuit, rc, start)
			return
		}
		if newReq != nil {
			if b, ok := newReq["body"].(string); ok {
				bodyStr = b
				bodyBytes = []byte(b)
			}
		}
	}

	decision := o.deps.Firewall.Evaluate(org.OrgID, bodyStr, r.Method, r.URL.Path)
	if len(decision.LoggedWAFRules) > 0 && o.deps.Log != nil {
		o.deps.Log.Info(org.OrgID, agentID, "waf log rule matched", map[string]interface{}{"ruleIds": decision.LoggedWAFRules})
	}
	if !decision.Allowed {
		o.deps.Recorder.Record(ctx, rc, recorder.Input{
			OrgID: org.OrgID, AgentID: agentID, AgentName: agentName, AgentFramework: agentFramework,
			RequestType: r.Method, IntentCategory: decision.IntentCategory, RiskScore: decision.RiskScore,
			RequestBody: bodyBytes, PolicyApplied: decision.PolicyID, ActionTaken: decision.Action,
			BlockReason: decision.Reason, IsShadowEvent: decision.IsShadowEvent,
			ClientIP: r.RemoteAddr, UserAgent: r.UserAgent(),
		})
		o.deps.Notify.EmitForOrg(org.OrgID, fanout.EventAgentBlocked, map[string]interface{}{
			"agentId": agentID, "reason": decision.Reason,
		})
		writeJSONError(w, http.StatusForbidden, "policy_violation", "BLOCKED_BY_FIREWALL", decision.Reason)
		return
	}

	var lockedResource *struct{ resourceType, path string }
	if resourceType, path, found := traffic.ExtractResource(bodyStr); found {
		isWrite := traffic.IsWriteOperation(bodyStr, r.Method)
		access, err := o.deps.Traffic.RequestAccess(ctx, agentID, resourceType, path, isWrite)
		if err != nil {
			o.deps.Log.WarnErr(org.OrgID, agentID, "traffic access check failed", err, nil)
		} else {
			switch access.Resolution {
			case traffic.Rejected:
				writeJSONError(w, http.StatusConflict, "conflict_error", "RESOURCE_LOCKED", "resource is locked by another agent")
				return
			case traffic.Queued:
				wait := access.WaitMS
				if wait > 5000 {
					wait = 5000
				}
				time.Sleep(time.Duration(wait) * time.Millisecond)
			}
			lockedResource = &struct{ resourceType, path string }{resourceType, path}
		}
	}

	modelName := env.Model
	promptKey, hasKey := extractPromptKey(env)

	provider, baseURL := SelectUpstream(o.deps.Upstreams, r.Header.Get("Authorization"))

	var upstreamResp *UpstreamResponse
	cacheStatus := "MISS"
	var cacheHitID string

	if hasKey {
		if result, hit := o.deps.Cache.Lookup(ctx, org.OrgID, modelName, promptKey); hit {
			upstreamResp = &UpstreamResponse{StatusCode: http.StatusOK, Header: http.Header{"Content-Type": []string{"application/json"}}, Body: []byte(result.ResponseText)}
			cacheStatus = "HIT"
			cacheHitID = result.CacheID
		}
	}

	if upstreamResp == nil {
		upstreamResp, err = o.deps.Forwarder.Forward(ctx, r.Method, baseURL+r.URL.Path, r.Header, bodyBytes)
		if err != nil {
			if lockedResource != nil {
				_, _ = o.deps.Traffic.ReleaseAccess(ctx, agentID, lockedResource.resourceType, lockedResource.path)
			}
			writeJSONError(w, http.StatusBadGateway, "upstream", "PROXY_ERROR", "upstream request failed: "+err.Error())
			return
		}

		if hasKey {
			responseTokens := estimateTokensFromText(string(upstreamResp.Body))
			o.deps.Cache.Store(ctx, org.OrgID, modelName, promptKey, string(upstreamResp.Body), responseTokens)
		}
	} else {
		o.deps.Cache.RecordHit(ctx, cacheHitID, 0)
	}

	if o.deps.Sandbox != nil {
		hookReq := map[string]interface{}{"method": r.Method, "path": r.URL.Path, "body": bodyStr}
		hookResp := map[string]interface{}{"status": upstreamResp.StatusCode, "body": string(upstreamResp.Body)}
		hookEnv := map[string]interface{}{"orgId": org.OrgID, "agentId": agentID}
		modifiedResp := o.deps.Sandbox.RunPostResponse(ctx, hookReq, hookResp, hookEnv)
		if b, ok := modifiedResp["body"].(string); ok {
			upstreamResp.Body = []byte(b)
		}
	}

	outputTokens := estimateTokensFromText(string(upstreamResp.Body))
	o.deps.Recorder.Record(ctx, rc, recorder.Input{
		OrgID: org.OrgID, AgentID: agentID, AgentName: agentName, AgentFramework: agentFramework,
		RequestType: r.Method, IntentCategory: decision.IntentCategory, RiskScore: decision.RiskScore,
		ModelName: modelName, ModelProvider: provider, RequestBody: bodyBytes, ResponseBody: upstreamResp.Body,
		RequestMessages: toRecorderMessages(env), OutputTokens: outputTokens,
		PolicyApplied: decision.PolicyID, ActionTaken: decision.Action, IsShadowEvent: decision.IsShadowEvent,
		ClientIP: r.RemoteAddr, UserAgent: r.UserAgent(),
		CustomMetadata: map[string]interface{}{"cache": cacheStatus, "wafLogRules": decision.LoggedWAFRules},
	})

	if lockedResource != nil {
		_, _ = o.deps.Traffic.ReleaseAccess(ctx, agentID, lockedResource.resourceType, lockedResource.path)
	}

	for k, vs := range upstreamResp.Header {
		if !forwardableHeader(k) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Switchboard-Trace-Id", rc.TraceID)
	w.Header().Set("X-Switchboard-Latency-Ms", formatMillis(time.Since(start)))
	w.Header().Set("X-Switchboard-Risk-Score", formatFloat(decision.RiskScore))
	w.Header().Set("X-Switchboard-Cache", cacheStatus)
	w.WriteHeader(upstreamResp.StatusCode)
	_, _ = w.Write(upstreamResp.Body)
}

func (o *Orchestrator) writeShortCircuitResponse(w http.ResponseWriter, resp map[string]interface{}, rc *recorder.Context, start time.Time) {
	status := http.StatusOK
	if s, ok := resp["status"].(float64); ok {
		status = int(s)
	}
	body, _ := json.Marshal(resp["body"])
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Switchboard-Trace-Id", rc.TraceID)
	w.Header().Set("X-Switchboard-Latency-Ms", formatMillis(time.Since(start)))
	w.Header().Set("X-Switchboard-Cache", "MISS")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func extractPromptKey(env requestEnvelope) (string, bool) {
	msgs := make([]cache.Message, 0, len(env.Messages))
	for _, m := range env.Messages {
		msgs = append(msgs, cache.Message{Role: m.Role, Content: m.Content})
	}
	return cache.ExtractPromptKey(msgs, env.Prompt, env.HumanPrompt)
}

func toRecorderMessages(env requestEnvelope) []recorder.Message {
	msgs := make([]recorder.Message, 0, len(env.Messages))
	for _, m := range env.Messages {
		msgs = append(msgs, recorder.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func formatMillis(d time.Duration) string {
	return formatFloat(float64(d.Microseconds()) / 1000.0)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
