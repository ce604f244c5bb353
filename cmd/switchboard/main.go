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

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"agentswitchboard/internal/anomaly"
	"agentswitchboard/internal/auth"
	"agentswitchboard/internal/cache"
	"agentswitchboard/internal/config"
	"agentswitchboard/internal/controlplane"
	"agentswitchboard/internal/embed"
	"agentswitchboard/internal/fanout"
	"agentswitchboard/internal/firewall"
	"agentswitchboard/internal/httpapi"
	"agentswitchboard/internal/logger"
	"agentswitchboard/internal/orchestrator"
	"agentswitchboard/internal/policy"
	"agentswitchboard/internal/recorder"
	"agentswitchboard/internal/sandbox"
	"agentswitchboard/internal/store/kv"
	"agentswitchboard/internal/store/timeseries"
	"agentswitchboard/internal/traffic"
	"agentswitchboard/internal/waf"
)

// anomalyNotifier adapts *fanout.Fanout's typed EmitForOrg to the plain
// string event type the anomaly detector expects, so that package never
// needs to import fanout's event-type enum.
type anomalyNotifier struct {
	fo *fanout.Fanout
}

func (n anomalyNotifier) EmitForOrg(orgID string, eventType string, payload interface{}) {
	n.fo.EmitForOrg(orgID, fanout.EventType(eventType), payload)
}

func main() {
	log.SetOutput(os.Stdout)
	cfg := config.Load()
	log_ := logger.New("switchboard")

	kvStore, err := kv.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("connecting to redis: %v", err)
	}
	defer kvStore.Close()

	tsStore, err := timeseries.New(cfg.TimescaleURL)
	if err != nil {
		log.Fatalf("connecting to timescale: %v", err)
	}
	defer tsStore.Close()

	ruleSet := waf.NewRuleSet(waf.DefaultRules())
	policyLoader := policy.New(tsStore, cfg.PoliciesConfigPath, cfg.ShadowMode, log_)
	defer policyLoader.Close()

	trafficCtl := traffic.New(kvStore, cfg.LockTTLSeconds)
	if cfg.EmergencyStopEnabled {
		trafficCtl.TriggerEmergencyStop()
	}

	embedder := embed.New(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingEndpoint)
	semCache := cache.New(kvStore, tsStore, embedder, log_)

	rec := recorder.New(tsStore, log_)
	defer rec.Close()

	sbox := sandbox.New(log_)
	fo := fanout.New(log_)

	detector := anomaly.New(tsStore, anomalyNotifier{fo: fo}, log_)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	detector.Start(ctx)

	authn := auth.New(tsStore, cfg.JWTSecret)

	ctrl := controlplane.New(tsStore, trafficCtl, policyLoader, ruleSet, fo)

	firewallEngine := firewall.New(ruleSet, policyLoader.PolicyFor, policyLoader.ShadowMode)

	proxy := orchestrator.New(orchestrator.Dependencies{
		Auth:      authn,
		Agents:    tsStore,
		Emergency: trafficCtl,
		Firewall:  firewallEngine,
		Traffic:   trafficCtl,
		Cache:     semCache,
		Recorder:  rec,
		Sandbox:   sbox,
		Notify:    fo,
		Forwarder: orchestrator.NewHTTPForwarder(30 * time.Second),
		Upstreams: orchestrator.UpstreamTargets{
			OpenAI:    cfg.UpstreamOpenAI,
			Anthropic: cfg.UpstreamAnthropic,
			Google:    cfg.UpstreamGoogle,
		},
		Log: log_,
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Proxy:     proxy,
		WS:        fo.ServeWS,
		Traces:    tsStore,
		Policies:  policyLoader,
		WAF:       ruleSet,
		Emergency: trafficCtl,
		Control:   ctrl,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	log_.Info("", "", "switchboard listening", map[string]interface{}{"port": cfg.Port})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
