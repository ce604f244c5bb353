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

// Package kv is the L0 key/value store adapter: TTL strings, atomic
// set-if-absent, counters, pub/sub, backed by Redis.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store is the key/value adapter every upper layer (Traffic Controller
// locks, Semantic Cache shortcut, burn-rate counters) depends on.
type Store struct {
	client *redis.Client
}

// New dials Redis from a connection URL (redis://host:port/db).
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 100
	opts.MinIdleConns = 10

	client := redis.NewClient(opts)
	return &Store{client: client}, nil
}

// NewFromClient wraps an already-constructed client, used by tests against
// miniredis.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns a value and whether it existed.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores a value with an optional TTL (0 = no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetNX is the atomic set-if-absent primitive the Traffic Controller's
// resource lock acquisition is built on.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes a key, returning the number of keys removed.
func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	return s.client.Del(ctx, key).Result()
}

// TTL returns the remaining time-to-live of a key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

// Incr atomically increments a counter, used for burn-rate and rate-limit
// bookkeeping.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

// IncrByFloat atomically increments a float counter (burn-rate cost
// accumulation).
func (s *Store) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return s.client.IncrByFloat(ctx, key, delta).Result()
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.Expire(ctx, key, ttl).Result()
}

// compareAndDeleteScript performs the GET+compare+DEL as a single atomic
// step. A plain Get-then-Delete has a window between the two round trips
// where a different holder can SetNX a fresh lock on the same (expired)
// key; an unconditional Delete after that point would remove the new
// holder's lock instead of the stale caller's own. EVAL runs server-side
// and blocks other commands for its duration, closing that window.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// CompareAndDelete removes key only if its current value equals expected,
// used by lock release so a mismatched holder is a no-op.
func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Publish broadcasts a message on a channel, used by the Event Fan-out when
// running with multiple switchboard instances behind one Redis.
func (s *Store) Publish(ctx context.Context, channel, message string) error {
	return s.client.Publish(ctx, channel, message).Err()
}

// Subscribe returns a subscription to the given channels.
func (s *Store) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.client.Subscribe(ctx, channels...)
}
