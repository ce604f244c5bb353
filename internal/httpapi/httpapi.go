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

// Package httpapi wires the proxy pipeline, the control API, and the
// event websocket into a single gorilla/mux router behind permissive
// CORS, mirroring how the teacher's orchestrator composes its router.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"agentswitchboard/internal/model"
)

// TraceStore is the read-only trace/agent query surface the control API
// reads from. Satisfied by *timeseries.Store.
type TraceStore interface {
	RecentTraces(ctx context.Context, orgID string, limit int) ([]*model.Trace, error)
	BlockedTraces(ctx context.Context, orgID string, limit int) ([]*model.Trace, error)
	ShadowTraces(ctx context.Context, orgID string, hours int) ([]*model.Trace, error)
	AgentsByOrg(ctx context.Context, orgID string) ([]*model.Agent, error)
}

// PolicyReader exposes the live policy snapshot. Satisfied by
// *policy.Loader.
type PolicyReader interface {
	PolicyFor(orgID string) *model.Policy
}

// WAFReader exposes the registered rule set. Satisfied by *waf.RuleSet.
type WAFReader interface {
	Rules() []model.WAFRule
}

// EmergencyStatus reports the global breaker. Satisfied by
// *traffic.Controller.
type EmergencyStatus interface {
	IsStopped() bool
}

// ControlPlane is the mutation surface. Satisfied by
// *controlplane.ControlPlane.
type ControlPlane interface {
	PauseAll(ctx context.Context, orgID string) error
	ResumeAll(ctx context.Context, orgID string) error
	PauseAgent(ctx context.Context, orgID, agentID string) error
	ResumeAgent(ctx context.Context, orgID, agentID string) error
	RevokeToken(ctx context.Context, orgID, agentID string) error
	ResolveAnomaly(ctx context.Context, orgID, anomalyID, resolvedBy string) error
	EmergencyStop()
	EmergencyReset()
	UpdatePolicy(orgID string, p *model.Policy)
	ToggleWAFRule(orgID, ruleID string, enabled bool) bool
}

// Deps bundles everything the router needs to serve all three surfaces:
// the /v1/* proxy, the /api control plane, and the /ws event channel.
type Deps struct {
	Proxy     http.Handler
	WS        http.HandlerFunc
	Traces    TraceStore
	Policies  PolicyReader
	WAF       WAFReader
	Emergency EmergencyStatus
	Control   ControlPlane
}

// NewRouter builds the full gorilla/mux router, wrapped in permissive
// CORS, matching the teacher's own router-setup shape.
func NewRouter(deps Deps) http.Handler {
	a := &api{deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.PathPrefix("/v1/").Handler(deps.Proxy)
	r.HandleFunc("/ws", deps.WS)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/burn-rate/{org}", a.burnRate).Methods("GET")
	apiRouter.HandleFunc("/agents/{org}", a.agents).Methods("GET")
	apiRouter.HandleFunc("/traces/{org}", a.traces).Methods("GET")
	apiRouter.HandleFunc("/traces/{org}/blocked", a.blockedTraces).Methods("GET")
	apiRouter.HandleFunc("/traces/{org}/shadow", a.shadowTraces).Methods("GET")
	apiRouter.HandleFunc("/shadow-savings/{org}", a.shadowSavings).Methods("GET")
	apiRouter.HandleFunc("/cache-stats/{org}", a.cacheStats).Methods("GET")
	apiRouter.HandleFunc("/policies/current", a.policiesCurrent).Methods("GET")
	apiRouter.HandleFunc("/policies", a.policiesUpdate).Methods("PUT")
	apiRouter.HandleFunc("/waf/rules", a.wafRules).Methods("GET")
	apiRouter.HandleFunc("/waf/rules/{id}", a.wafRuleToggle).Methods("PUT")
	apiRouter.HandleFunc("/control/status", a.controlStatus).Methods("GET")
	apiRouter.HandleFunc("/control/pause-all", a.controlMutation(mutationPauseAll)).Methods("POST")
	apiRouter.HandleFunc("/control/resume-all", a.controlMutation(mutationResumeAll)).Methods("POST")
	apiRouter.HandleFunc("/control/pause-agent", a.controlMutation(mutationPauseAgent)).Methods("POST")
	apiRouter.HandleFunc("/control/resume-agent", a.controlMutation(mutationResumeAgent)).Methods("POST")
	apiRouter.HandleFunc("/control/revoke-token", a.controlMutation(mutationRevokeToken)).Methods("POST")
	apiRouter.HandleFunc("/control/emergency-stop", a.controlMutation(mutationEmergencyStop)).Methods("POST")
	apiRouter.HandleFunc("/control/emergency-reset", a.controlMutation(mutationEmergencyReset)).Methods("POST")
	apiRouter.HandleFunc("/anomalies/{id}/resolve", a.resolveAnomaly).Methods("POST")

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return corsMiddleware.Handler(r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
