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

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"agentswitchboard/internal/model"
)

// api holds the router's dependencies; its methods are the individual
// control-API handlers.
type api struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]interface{}{"message": message}})
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (a *api) agents(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	agents, err := a.deps.Traces.AgentsByOrg(r.Context(), org)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (a *api) traces(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	limit := intQuery(r, "limit", 100)
	traces, err := a.deps.Traces.RecentTraces(r.Context(), org, limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, traces)
}

func (a *api) blockedTraces(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	traces, err := a.deps.Traces.BlockedTraces(r.Context(), org, 100)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, traces)
}

func (a *api) shadowTraces(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	hours := intQuery(r, "hours", 24)
	traces, err := a.deps.Traces.ShadowTraces(r.Context(), org, hours)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, traces)
}

// shadowSavings sums the cost of traces that shadow mode would have
// blocked — spend that was mitigated without the caller noticing.
func (a *api) shadowSavings(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	hours := intQuery(r, "hours", 24)
	traces, err := a.deps.Traces.ShadowTraces(r.Context(), org, hours)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var total float64
	for _, t := range traces {
		total += t.CostUSD
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shadowBlockedCount": len(traces),
		"totalMitigatedCost": total,
		"periodHours":        hours,
	})
}

// burnRate buckets the last hour of traces by minute, reporting the most
// recent minute's rate and a 60-minute history.
func (a *api) burnRate(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	traces, err := a.deps.Traces.RecentTraces(r.Context(), org, 5000)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type bucket struct {
		cost     float64
		requests int
	}
	now := time.Now().UTC()
	buckets := make(map[int]*bucket)
	for _, t := range traces {
		age := now.Sub(t.Timestamp)
		minute := int(age.Minutes())
		if minute < 0 || minute >= 60 {
			continue
		}
		b, ok := buckets[minute]
		if !ok {
			b = &bucket{}
			buckets[minute] = b
		}
		b.cost += t.CostUSD
		b.requests++
	}

	history := make([]map[string]interface{}, 0, 60)
	for minute := 59; minute >= 0; minute-- {
		b := buckets[minute]
		cost, requests := 0.0, 0
		if b != nil {
			cost, requests = b.cost, b.requests
		}
		history = append(history, map[string]interface{}{"minute": minute, "cost": cost, "requests": requests})
	}

	currentRate := 0.0
	if b, ok := buckets[0]; ok {
		currentRate = b.cost
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"currentRate":      currentRate,
		"hourlyProjection": currentRate * 60,
		"history":          history,
	})
}

// cacheStats derives a hit rate from the cache-status tag the
// orchestrator stamps onto each trace's custom metadata, since no
// durable per-org hit counter is queried here directly.
func (a *api) cacheStats(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	traces, err := a.deps.Traces.RecentTraces(r.Context(), org, 1000)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var hits, misses int
	for _, t := range traces {
		status, _ := t.CustomMetadata["cache"].(string)
		switch status {
		case "HIT":
			hits++
		case "MISS":
			misses++
		}
	}
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hits": hits, "misses": misses, "hitRate": hitRate,
	})
}

func (a *api) policiesCurrent(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	p := a.deps.Policies.PolicyFor(org)
	writeJSON(w, http.StatusOK, p)
}

func (a *api) policiesUpdate(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	if org == "" {
		writeAPIError(w, http.StatusBadRequest, "org query parameter is required")
		return
	}
	var p model.Policy
	if current := a.deps.Policies.PolicyFor(org); current != nil {
		p = *current
		p.BlockedIntents = append([]model.IntentCategory(nil), current.BlockedIntents...)
		p.Rules.AllowedModels = append([]string(nil), current.Rules.AllowedModels...)
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid policy body")
		return
	}
	a.deps.Control.UpdatePolicy(org, &p)
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": true})
}

func (a *api) wafRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.WAF.Rules())
}

func (a *api) wafRuleToggle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	org := r.URL.Query().Get("org")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !a.deps.Control.ToggleWAFRule(org, id, body.Enabled) {
		writeAPIError(w, http.StatusNotFound, "unknown rule id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": body.Enabled})
}

func (a *api) controlStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"emergencyStopped": a.deps.Emergency.IsStopped()})
}

type mutationKind int

const (
	mutationPauseAll mutationKind = iota
	mutationResumeAll
	mutationPauseAgent
	mutationResumeAgent
	mutationRevokeToken
	mutationEmergencyStop
	mutationEmergencyReset
)

type controlRequest struct {
	Org     string `json:"org"`
	AgentID string `json:"agentId"`
}

func (a *api) controlMutation(kind mutationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body controlRequest
		_ = json.NewDecoder(r.Body).Decode(&body)

		var err error
		switch kind {
		case mutationPauseAll:
			err = a.deps.Control.PauseAll(r.Context(), body.Org)
		case mutationResumeAll:
			err = a.deps.Control.ResumeAll(r.Context(), body.Org)
		case mutationPauseAgent:
			err = a.deps.Control.PauseAgent(r.Context(), body.Org, body.AgentID)
		case mutationResumeAgent:
			err = a.deps.Control.ResumeAgent(r.Context(), body.Org, body.AgentID)
		case mutationRevokeToken:
			err = a.deps.Control.RevokeToken(r.Context(), body.Org, body.AgentID)
		case mutationEmergencyStop:
			a.deps.Control.EmergencyStop()
		case mutationEmergencyReset:
			a.deps.Control.EmergencyReset()
		}
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	}
}

func (a *api) resolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Org        string `json:"org"`
		ResolvedBy string `json:"resolvedBy"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := a.deps.Control.ResolveAnomaly(r.Context(), body.Org, id, body.ResolvedBy); err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
