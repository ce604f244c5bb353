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

// Package config parses the environment variables AgentSwitchboard starts
// from into a typed Config, applying the same defaults a fresh deployment
// gets when a variable is unset.
package config

import (
	"os"
	"strconv"
)

// Config is every environment-driven knob the switchboard reads at startup.
type Config struct {
	Port                  string
	RedisURL              string
	TimescaleURL          string
	UpstreamOpenAI        string
	UpstreamAnthropic     string
	UpstreamGoogle        string
	FirewallMaxLatencyMS  int
	FirewallBlockDestruct bool
	FirewallBlockPII      bool
	ShadowMode            bool
	PoliciesConfigPath    string
	LockTTLSeconds        int
	MaxQueueDepth         int
	EmergencyStopEnabled  bool
	LogLevel              string
	JWTSecret             string
	EmbeddingAPIKey       string
	EmbeddingModel        string
	EmbeddingEndpoint     string
}

// Load reads Config from the process environment, falling back to the
// spec's documented defaults for anything unset.
func Load() *Config {
	return &Config{
		Port:                  getEnv("PORT", "8080"),
		RedisURL:              getEnv("REDIS_URL", ""),
		TimescaleURL:          getEnv("TIMESCALE_URL", ""),
		UpstreamOpenAI:        getEnv("UPSTREAM_OPENAI", "https://api.openai.com"),
		UpstreamAnthropic:     getEnv("UPSTREAM_ANTHROPIC", "https://api.anthropic.com"),
		UpstreamGoogle:        getEnv("UPSTREAM_GOOGLE", "https://generativelanguage.googleapis.com"),
		FirewallMaxLatencyMS:  getEnvInt("FIREWALL_MAX_LATENCY_MS", 10),
		FirewallBlockDestruct: getEnvBool("FIREWALL_BLOCK_DESTRUCTIVE", true),
		FirewallBlockPII:      getEnvBool("FIREWALL_BLOCK_PII", true),
		ShadowMode:            getEnvBool("SHADOW_MODE", false),
		PoliciesConfigPath:    getEnv("POLICIES_CONFIG_PATH", ""),
		LockTTLSeconds:        getEnvInt("LOCK_TTL_SECONDS", 30),
		MaxQueueDepth:         getEnvInt("MAX_QUEUE_DEPTH", 5),
		EmergencyStopEnabled:  getEnvBool("EMERGENCY_STOP_ENABLED", false),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		EmbeddingAPIKey:       getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:        getEnv("EMBEDDING_MODEL", ""),
		EmbeddingEndpoint:     getEnv("EMBEDDING_ENDPOINT", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
