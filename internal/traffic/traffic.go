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

// Package traffic is the Traffic Controller: resource extraction,
// distributed locking via the key/value store, and conflict resolution
// between concurrently writing agents.
package traffic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"agentswitchboard/internal/model"
)

// Resolution is the outcome of request_access.
type Resolution string

const (
	Granted  Resolution = "granted"
	Queued   Resolution = "queued"
	Rejected Resolution = "rejected"
)

// AccessResult is the full request_access contract result.
type AccessResult struct {
	Resolution Resolution
	Lock       *model.ResourceLock
	WaitMS     int
	Reason     string
}

// KVStore is the minimal lock-backing dependency.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// Controller owns resource extraction, locking, and the emergency-stop
// flag, backed by the key/value store for distributed lock state.
type Controller struct {
	kv             KVStore
	lockTTL        time.Duration
	emergencyStop  int32 // accessed atomically
}

// New constructs a Controller with the configured lock TTL default.
func New(kv KVStore, lockTTLSeconds int) *Controller {
	return &Controller{kv: kv, lockTTL: time.Duration(lockTTLSeconds) * time.Second}
}

var resourcePatterns = []struct {
	resourceType string
	pattern      *regexp.Regexp
}{
	{"database_table", regexp.MustCompile(`(?i)\b(?:from|into|update|table)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)},
	{"file", regexp.MustCompile(`(?i)(?:file|path)\s*[:=]\s*["']?([^\s"']+)`)},
	{"api_endpoint", regexp.MustCompile(`(?i)(?:url|endpoint)\s*[:=]\s*["']?(https?://[^\s"']+|/[^\s"']*)`)},
}

// ExtractResource applies regex heuristics in fixed order
// (database_table, file, api_endpoint) — first match wins.
func ExtractResource(body string) (resourceType, path string, found bool) {
	for _, rp := range resourcePatterns {
		m := rp.pattern.FindStringSubmatch(body)
		if len(m) >= 2 && m[1] != "" {
			return rp.resourceType, m[1], true
		}
	}
	return "", "", false
}

var writeVerbs = []string{"insert", "update", "delete", "upsert", "write", "create", "modify", "drop", "truncate"}

// IsWriteOperation: method in {POST,PUT,PATCH,DELETE} is always a write;
// otherwise a substring match on write verbs in the body decides.
func IsWriteOperation(body, method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	lower := strings.ToLower(body)
	for _, verb := range writeVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// resourceHash is the first 16 hex characters of SHA-256("type:path").
func resourceHash(resourceType, path string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", resourceType, path)))
	return hex.EncodeToString(sum[:])[:16]
}

func lockKey(hash string) string {
	return "lock:" + hash
}

// RequestAccess implements the resolution algorithm given an existing
// lock on the resource's hash.
func (c *Controller) RequestAccess(ctx context.Context, agentID, resourceType, resourcePath string, isWrite bool) (*AccessResult, error) {
	hash := resourceHash(resourceType, resourcePath)
	key := lockKey(hash)

	holder, found, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if !found {
		ok, err := c.kv.SetNX(ctx, key, agentID, c.lockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race to another concurrent acquirer; treat as a
			// fresh lock from that holder's perspective.
			return c.RequestAccess(ctx, agentID, resourceType, resourcePath, isWrite)
		}
		return &AccessResult{
			Resolution: Granted,
			Lock: &model.ResourceLock{
				ResourceHash: hash, HolderAgent: agentID, AcquiredAt: time.Now(),
				TTLSeconds: int(c.lockTTL.Seconds()),
			},
		}, nil
	}

	if holder == agentID {
		return &AccessResult{Resolution: Granted, Lock: &model.ResourceLock{ResourceHash: hash, HolderAgent: agentID}}, nil
	}

	if !isWrite {
		return &AccessResult{Resolution: Granted, Reason: "may see stale data"}, nil
	}

	ttl, err := c.kv.TTL(ctx, key)
	if err != nil {
		return nil, err
	}

	if ttl > 0 && ttl <= 5*time.Second {
		waitMS := int(ttl.Milliseconds()) + 100
		return &AccessResult{Resolution: Queued, WaitMS: waitMS}, nil
	}

	return &AccessResult{Resolution: Rejected}, nil
}

// ReleaseAccess requires holder identity match; a mismatch is a no-op that
// returns false.
func (c *Controller) ReleaseAccess(ctx context.Context, agentID, resourceType, resourcePath string) (bool, error) {
	hash := resourceHash(resourceType, resourcePath)
	return c.kv.CompareAndDelete(ctx, lockKey(hash), agentID)
}

// TriggerEmergencyStop sets the orthogonal in-memory emergency-stop flag.
func (c *Controller) TriggerEmergencyStop() {
	atomic.StoreInt32(&c.emergencyStop, 1)
}

// ResetEmergencyStop clears the flag.
func (c *Controller) ResetEmergencyStop() {
	atomic.StoreInt32(&c.emergencyStop, 0)
}

// IsStopped reports the current emergency-stop state.
func (c *Controller) IsStopped() bool {
	return atomic.LoadInt32(&c.emergencyStop) == 1
}
