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

// Package main is the entry point for the AgentSwitchboard service.
//
// AgentSwitchboard is a reverse proxy standing between LLM clients and
// upstream providers (OpenAI-compatible, Anthropic, Google) that:
//   - Evaluates every request against a Semantic Firewall and WAF rule set
//   - Arbitrates concurrent resource access through a Traffic Controller
//   - Serves repeated prompts from a Semantic Cache (exact hash + ANN)
//   - Records every request as a trace in the Flight Recorder
//   - Runs configurable pre/post hooks in a Lua Worker Sandbox
//   - Fans out live events to subscribed dashboards over a websocket
//   - Exposes a Control Plane for pausing agents, tuning policy, and
//     tripping an emergency stop
//   - Flags per-agent token-volume anomalies on a periodic scan
//
// Usage:
//
//	./switchboard
//
// Environment Variables:
//
//	PORT                        - HTTP server port (default: 8080)
//	REDIS_URL                   - Redis connection string (KV store)
//	TIMESCALE_URL               - TimescaleDB/Postgres connection string
//	UPSTREAM_OPENAI             - OpenAI-compatible upstream base URL
//	UPSTREAM_ANTHROPIC          - Anthropic upstream base URL
//	UPSTREAM_GOOGLE             - Google Generative Language upstream base URL
//	FIREWALL_MAX_LATENCY_MS     - read into Config (default: 10); no component uses it
//	FIREWALL_BLOCK_DESTRUCTIVE  - read into Config (default: true); no component uses it
//	FIREWALL_BLOCK_PII          - read into Config (default: true); no component uses it
//	SHADOW_MODE                 - evaluate but never block (default: false)
//	POLICIES_CONFIG_PATH        - optional policy document to hot-reload
//	LOCK_TTL_SECONDS            - traffic controller resource lock TTL (default: 30)
//	MAX_QUEUE_DEPTH             - read into Config (default: 5); no component uses it
//	EMERGENCY_STOP_ENABLED      - start with the breaker already tripped
//	LOG_LEVEL                   - read into Config (default: info); no component uses it
//	JWT_SECRET                  - HMAC secret for agent-token verification
//	EMBEDDING_API_KEY           - OpenAI-compatible embeddings API key (optional)
//	EMBEDDING_MODEL             - embeddings model name (optional)
//	EMBEDDING_ENDPOINT          - embeddings endpoint override (optional)
//
// For more information, see https://docs.getaxonflow.com
package main
