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

package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "PORT", "FIREWALL_MAX_LATENCY_MS", "SHADOW_MODE", "LOCK_TTL_SECONDS",
		"MAX_QUEUE_DEPTH", "EMERGENCY_STOP_ENABLED", "UPSTREAM_OPENAI")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.UpstreamOpenAI != "https://api.openai.com" {
		t.Errorf("unexpected default openai upstream: %s", cfg.UpstreamOpenAI)
	}
	if cfg.FirewallMaxLatencyMS != 10 {
		t.Errorf("expected default firewall latency budget 10, got %d", cfg.FirewallMaxLatencyMS)
	}
	if cfg.ShadowMode {
		t.Error("expected shadow mode to default to false")
	}
	if cfg.LockTTLSeconds != 30 {
		t.Errorf("expected default lock ttl 30, got %d", cfg.LockTTLSeconds)
	}
	if cfg.MaxQueueDepth != 5 {
		t.Errorf("expected default max queue depth 5, got %d", cfg.MaxQueueDepth)
	}
	if cfg.EmergencyStopEnabled {
		t.Error("expected emergency stop to default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t, "PORT", "SHADOW_MODE", "LOCK_TTL_SECONDS")
	os.Setenv("PORT", "9090")
	os.Setenv("SHADOW_MODE", "true")
	os.Setenv("LOCK_TTL_SECONDS", "45")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("expected overridden port 9090, got %s", cfg.Port)
	}
	if !cfg.ShadowMode {
		t.Error("expected shadow mode true")
	}
	if cfg.LockTTLSeconds != 45 {
		t.Errorf("expected overridden lock ttl 45, got %d", cfg.LockTTLSeconds)
	}
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	clearEnv(t, "MAX_QUEUE_DEPTH")
	os.Setenv("MAX_QUEUE_DEPTH", "not-a-number")

	cfg := Load()
	if cfg.MaxQueueDepth != 5 {
		t.Errorf("expected fallback to default 5 on unparsable int, got %d", cfg.MaxQueueDepth)
	}
}
