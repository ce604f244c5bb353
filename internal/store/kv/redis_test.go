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

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client)
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Set(ctx, "cache:org1:gpt-4:abc123", "response body", time.Hour))

	val, found, err := s.Get(ctx, "cache:org1:gpt-4:abc123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "response body", val)
}

func TestSetNXGrantsOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.SetNX(ctx, "lock:abc", "agent-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "first SetNX should acquire the lock")

	ok, err = s.SetNX(ctx, "lock:abc", "agent-2", 30*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "second SetNX against a held key must fail")
}

func TestCompareAndDeleteRequiresHolderMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SetNX(ctx, "lock:abc", "agent-1", 30*time.Second)
	require.NoError(t, err)

	deleted, err := s.CompareAndDelete(ctx, "lock:abc", "agent-2")
	require.NoError(t, err)
	require.False(t, deleted, "mismatched holder must be a no-op")

	deleted, err = s.CompareAndDelete(ctx, "lock:abc", "agent-1")
	require.NoError(t, err)
	require.True(t, deleted)

	_, found, err := s.Get(ctx, "lock:abc")
	require.NoError(t, err)
	require.False(t, found)
}

func TestIncrByFloat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	total, err := s.IncrByFloat(ctx, "cost:org1:hour", 0.015)
	require.NoError(t, err)
	require.InDelta(t, 0.015, total, 1e-9)

	total, err = s.IncrByFloat(ctx, "cost:org1:hour", 0.02)
	require.NoError(t, err)
	require.InDelta(t, 0.035, total, 1e-9)
}

func TestExpireAndTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	ok, err := s.Expire(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, ttl > 0 && ttl <= 30*time.Second)
}
