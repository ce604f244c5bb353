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

// Package cache is the Semantic Cache: exact-hash KV lookup backed by an
// approximate-nearest-neighbour fallback over prompt embeddings, with TTL
// and best-effort hit accounting.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentswitchboard/internal/logger"
	"agentswitchboard/internal/model"
)

const (
	defaultTTL              = 24 * time.Hour
	defaultSimilarityThresh = 0.10
	promptTruncateLen       = 512
)

// Embedder is the injected embedding dependency: a pure function
// embed(text) -> unit vector of fixed dimension D, with a Ready() check.
// Lookup and Store consult Ready() on every call and skip the embedding
// path while it reports false; nothing blocks startup on it.
type Embedder interface {
	Ready() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KVStore is the exact-hash shortcut dependency.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// TimeSeriesStore is the durable row + ANN search dependency.
type TimeSeriesStore interface {
	UpsertCacheEntry(ctx context.Context, e *model.CacheEntry) error
	NearestCacheEntry(ctx context.Context, orgID, model string, embedding []float32, threshold float64) (*model.CacheEntry, float64, bool, error)
	RecordCacheHit(ctx context.Context, cacheID string, costSaved float64) error
}

// Result is what Lookup returns on a hit.
type Result struct {
	CacheID      string
	ResponseText string
	Similarity   float64
}

// Cache ties the two backing stores and the embedding pipeline together.
type Cache struct {
	kv          KVStore
	store       TimeSeriesStore
	embed       Embedder
	ttl         time.Duration
	threshold   float64
	log         *logger.Logger
}

// New constructs a Cache with spec defaults (TTL 24h, similarity threshold
// 0.10).
func New(kv KVStore, store TimeSeriesStore, embed Embedder, log *logger.Logger) *Cache {
	return &Cache{kv: kv, store: store, embed: embed, ttl: defaultTTL, threshold: defaultSimilarityThresh, log: log}
}

func promptHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func kvShortcutKey(orgID, model, hash string) string {
	return fmt.Sprintf("cache:%s:%s:%s", orgID, model, hash)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Lookup is fail-open on any internal error: a storage failure returns a
// miss, never propagates to the caller.
func (c *Cache) Lookup(ctx context.Context, orgID, modelName, promptText string) (*Result, bool) {
	hash := promptHash(promptText)

	if val, found, err := c.kv.Get(ctx, kvShortcutKey(orgID, modelName, hash)); err == nil && found {
		return &Result{ResponseText: val, Similarity: 1.0}, true
	} else if err != nil && c.log != nil {
		c.log.WarnErr(orgID, "", "cache kv lookup failed", err, nil)
	}

	if c.embed == nil || !c.embed.Ready() {
		return nil, false
	}

	embedding, err := c.embed.Embed(ctx, truncate(promptText, promptTruncateLen))
	if err != nil {
		if c.log != nil {
			c.log.WarnErr(orgID, "", "failed to compute prompt embedding", err, nil)
		}
		return nil, false
	}

	entry, dist, hit, err := c.store.NearestCacheEntry(ctx, orgID, modelName, embedding, c.threshold)
	if err != nil {
		if c.log != nil {
			c.log.WarnErr(orgID, "", "cache ANN lookup failed", err, nil)
		}
		return nil, false
	}
	if !hit {
		return nil, false
	}

	return &Result{CacheID: entry.CacheID, ResponseText: entry.ResponseText, Similarity: 1 - dist}, true
}

// Store writes the KV shortcut and, when the embedder is ready and the
// prompt embeds without error, the durable row, replacing on
// (org, model, prompt_hash) conflict. Without an embedding only the KV
// shortcut is written.
func (c *Cache) Store(ctx context.Context, orgID, modelName, promptText, responseText string, responseTokens int) {
	hash := promptHash(promptText)

	if err := c.kv.Set(ctx, kvShortcutKey(orgID, modelName, hash), responseText, c.ttl); err != nil {
		if c.log != nil {
			c.log.WarnErr(orgID, "", "cache kv store failed", err, nil)
		}
	}

	if c.embed == nil || !c.embed.Ready() {
		return
	}

	embedding, err := c.embed.Embed(ctx, truncate(promptText, promptTruncateLen))
	if err != nil {
		if c.log != nil {
			c.log.WarnErr(orgID, "", "failed to compute prompt embedding for store", err, nil)
		}
		return
	}

	entry := &model.CacheEntry{
		CacheID:         uuid.NewString(),
		OrgID:           orgID,
		Model:           modelName,
		PromptHash:      hash,
		PromptEmbedding: embedding,
		PromptText:      truncate(promptText, promptTruncateLen),
		ResponseText:    responseText,
		ResponseTokens:  responseTokens,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(c.ttl),
	}

	if err := c.store.UpsertCacheEntry(ctx, entry); err != nil && c.log != nil {
		c.log.WarnErr(orgID, "", "cache durable row write failed", err, nil)
	}
}

// RecordHit is best-effort: failure must not surface to the caller.
func (c *Cache) RecordHit(ctx context.Context, cacheID string, costSaved float64) {
	if cacheID == "" {
		return
	}
	if err := c.store.RecordCacheHit(ctx, cacheID, costSaved); err != nil && c.log != nil {
		c.log.WarnErr("", "", "cache hit accounting failed", err, map[string]interface{}{"cache_id": cacheID})
	}
}

// ExtractPromptKey derives a stable cache key text from an upstream
// request body so different schemas produce comparable keys. Returns
// ("", false) when the body has no cache-participating shape.
func ExtractPromptKey(messages []Message, legacyPrompt, humanPrompt string) (string, bool) {
	if len(messages) > 0 {
		parts := make([]string, 0, len(messages))
		for _, m := range messages {
			parts = append(parts, m.Role+":"+m.Content)
		}
		return strings.Join(parts, "|"), true
	}
	if legacyPrompt != "" {
		return legacyPrompt, true
	}
	if humanPrompt != "" {
		return humanPrompt, true
	}
	return "", false
}

// Message is the narrow accessor shape for an upstream chat message, used
// only to build the cache key.
type Message struct {
	Role    string
	Content string
}
