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

// Package timeseries is the L0 time-series store adapter: trace append,
// range queries, and the semantic cache's approximate-nearest-neighbour
// search, backed by a Postgres/Timescale instance with the pgvector
// extension.
package timeseries

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"agentswitchboard/internal/model"
)

// Store wraps the time-series-backed tables: agent_traces, organizations,
// agents, policies, anomalies, semantic_cache.
type Store struct {
	db *sql.DB
}

// New opens a connection pool against connURL and ensures the schema
// exists.
func New(connURL string) (*Store, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewFromDB wraps an already-open *sql.DB, used by tests against sqlmock.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS organizations (
			org_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_token TEXT UNIQUE NOT NULL,
			settings JSONB,
			daily_budget DOUBLE PRECISION,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT,
			framework TEXT,
			status TEXT DEFAULT 'active',
			rate_limit INTEGER,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS policies (
			policy_id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			document JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			anomaly_id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			details JSONB,
			detected_at TIMESTAMPTZ DEFAULT now(),
			status TEXT DEFAULT 'active',
			resolved_at TIMESTAMPTZ,
			resolved_by TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS agent_traces (
			trace_id TEXT PRIMARY KEY,
			span_id TEXT,
			parent_span_id TEXT,
			ts TIMESTAMPTZ NOT NULL DEFAULT now(),
			duration_ms DOUBLE PRECISION,
			org_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_name TEXT,
			agent_framework TEXT,
			request_type TEXT,
			intent_category TEXT,
			risk_score DOUBLE PRECISION,
			model_provider TEXT,
			model_name TEXT,
			input_tokens INTEGER,
			output_tokens INTEGER,
			cost_usd DOUBLE PRECISION,
			request_body BYTEA,
			response_body BYTEA,
			reasoning_steps JSONB,
			tool_calls JSONB,
			policy_applied TEXT,
			action_taken TEXT NOT NULL,
			block_reason TEXT,
			is_shadow_event BOOLEAN DEFAULT FALSE,
			client_ip TEXT,
			user_agent TEXT,
			custom_metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_traces_org_ts ON agent_traces (org_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_traces_agent_ts ON agent_traces (agent_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS semantic_cache (
			cache_id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			prompt_embedding vector(384),
			prompt_text TEXT,
			response_text TEXT,
			response_tokens INTEGER,
			hit_count INTEGER DEFAULT 0,
			cost_saved DOUBLE PRECISION DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			UNIQUE (org_id, model, prompt_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_semantic_cache_ann ON semantic_cache
			USING ivfflat (prompt_embedding vector_cosine_ops)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}
	return nil
}

// InsertTrace appends a trace row. Append-only: no update path exists.
func (s *Store) InsertTrace(ctx context.Context, t *model.Trace) error {
	reasoning, err := json.Marshal(t.ReasoningSteps)
	if err != nil {
		return fmt.Errorf("marshal reasoning steps: %w", err)
	}
	toolCalls, err := json.Marshal(t.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	metadata, err := json.Marshal(t.CustomMetadata)
	if err != nil {
		return fmt.Errorf("marshal custom metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_traces (
			trace_id, span_id, parent_span_id, ts, duration_ms, org_id, agent_id,
			agent_name, agent_framework, request_type, intent_category, risk_score,
			model_provider, model_name, input_tokens, output_tokens, cost_usd,
			request_body, response_body, reasoning_steps, tool_calls, policy_applied,
			action_taken, block_reason, is_shadow_event, client_ip, user_agent, custom_metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		ON CONFLICT (trace_id) DO NOTHING`,
		t.TraceID, t.SpanID, t.ParentSpanID, t.Timestamp, t.DurationMS, t.OrgID, t.AgentID,
		t.AgentName, t.AgentFramework, t.RequestType, string(t.IntentCategory), t.RiskScore,
		t.ModelProvider, t.ModelName, t.InputTokens, t.OutputTokens, t.CostUSD,
		t.RequestBody, t.ResponseBody, reasoning, toolCalls, t.PolicyApplied,
		string(t.ActionTaken), t.BlockReason, t.IsShadowEvent, t.ClientIP, t.UserAgent, metadata,
	)
	return err
}

// InsertTracesBatch writes many traces inside one transaction, the batch
// path the Flight Recorder's periodic flush uses.
func (s *Store) InsertTracesBatch(ctx context.Context, traces []*model.Trace) error {
	if len(traces) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO agent_traces (
			trace_id, span_id, parent_span_id, ts, duration_ms, org_id, agent_id,
			agent_name, agent_framework, request_type, intent_category, risk_score,
			model_provider, model_name, input_tokens, output_tokens, cost_usd,
			request_body, response_body, reasoning_steps, tool_calls, policy_applied,
			action_taken, block_reason, is_shadow_event, client_ip, user_agent, custom_metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		ON CONFLICT (trace_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range traces {
		reasoning, _ := json.Marshal(t.ReasoningSteps)
		toolCalls, _ := json.Marshal(t.ToolCalls)
		metadata, _ := json.Marshal(t.CustomMetadata)

		if _, err := stmt.ExecContext(ctx,
			t.TraceID, t.SpanID, t.ParentSpanID, t.Timestamp, t.DurationMS, t.OrgID, t.AgentID,
			t.AgentName, t.AgentFramework, t.RequestType, string(t.IntentCategory), t.RiskScore,
			t.ModelProvider, t.ModelName, t.InputTokens, t.OutputTokens, t.CostUSD,
			t.RequestBody, t.ResponseBody, reasoning, toolCalls, t.PolicyApplied,
			string(t.ActionTaken), t.BlockReason, t.IsShadowEvent, t.ClientIP, t.UserAgent, metadata,
		); err != nil {
			return fmt.Errorf("exec batch insert: %w", err)
		}
	}

	return tx.Commit()
}

// RecentTraces returns up to limit traces for an org, newest first.
func (s *Store) RecentTraces(ctx context.Context, orgID string, limit int) ([]*model.Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, span_id, parent_span_id, ts, duration_ms, org_id, agent_id,
			agent_name, agent_framework, request_type, intent_category, risk_score,
			model_provider, model_name, input_tokens, output_tokens, cost_usd,
			policy_applied, action_taken, block_reason, is_shadow_event, client_ip, user_agent
		FROM agent_traces WHERE org_id = $1 ORDER BY ts DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTraces(rows)
}

// BlockedTraces returns traces whose action_taken is 'blocked'.
func (s *Store) BlockedTraces(ctx context.Context, orgID string, limit int) ([]*model.Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, span_id, parent_span_id, ts, duration_ms, org_id, agent_id,
			agent_name, agent_framework, request_type, intent_category, risk_score,
			model_provider, model_name, input_tokens, output_tokens, cost_usd,
			policy_applied, action_taken, block_reason, is_shadow_event, client_ip, user_agent
		FROM agent_traces WHERE org_id = $1 AND action_taken = 'blocked'
		ORDER BY ts DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTraces(rows)
}

// ShadowTraces returns shadow_blocked traces within the last `hours`.
func (s *Store) ShadowTraces(ctx context.Context, orgID string, hours int) ([]*model.Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, span_id, parent_span_id, ts, duration_ms, org_id, agent_id,
			agent_name, agent_framework, request_type, intent_category, risk_score,
			model_provider, model_name, input_tokens, output_tokens, cost_usd,
			policy_applied, action_taken, block_reason, is_shadow_event, client_ip, user_agent
		FROM agent_traces
		WHERE org_id = $1 AND action_taken = 'shadow_blocked' AND ts > now() - ($2 || ' hours')::interval
		ORDER BY ts DESC`, orgID, hours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTraces(rows)
}

func scanTraces(rows *sql.Rows) ([]*model.Trace, error) {
	var traces []*model.Trace
	for rows.Next() {
		t := &model.Trace{}
		var intentCategory, actionTaken string
		if err := rows.Scan(
			&t.TraceID, &t.SpanID, &t.ParentSpanID, &t.Timestamp, &t.DurationMS, &t.OrgID, &t.AgentID,
			&t.AgentName, &t.AgentFramework, &t.RequestType, &intentCategory, &t.RiskScore,
			&t.ModelProvider, &t.ModelName, &t.InputTokens, &t.OutputTokens, &t.CostUSD,
			&t.PolicyApplied, &actionTaken, &t.BlockReason, &t.IsShadowEvent, &t.ClientIP, &t.UserAgent,
		); err != nil {
			return nil, err
		}
		t.IntentCategory = model.IntentCategory(intentCategory)
		t.ActionTaken = model.ActionTaken(actionTaken)
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// UpsertCacheEntry writes both the durable row and replaces on conflict,
// keyed (org_id, model, prompt_hash).
func (s *Store) UpsertCacheEntry(ctx context.Context, e *model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO semantic_cache (
			cache_id, org_id, model, prompt_hash, prompt_embedding, prompt_text,
			response_text, response_tokens, hit_count, cost_saved, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (org_id, model, prompt_hash) DO UPDATE SET
			cache_id = EXCLUDED.cache_id,
			prompt_embedding = EXCLUDED.prompt_embedding,
			prompt_text = EXCLUDED.prompt_text,
			response_text = EXCLUDED.response_text,
			response_tokens = EXCLUDED.response_tokens,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		e.CacheID, e.OrgID, e.Model, e.PromptHash, vectorLiteral(e.PromptEmbedding), e.PromptText,
		e.ResponseText, e.ResponseTokens, e.HitCount, e.CostSaved, e.CreatedAt, e.ExpiresAt,
	)
	return err
}

// NearestCacheEntry runs the ANN query: among non-expired entries for
// (org, model), the nearest by cosine distance, provided the distance is
// below threshold.
func (s *Store) NearestCacheEntry(ctx context.Context, orgID, model_ string, embedding []float32, threshold float64) (*model.CacheEntry, float64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cache_id, prompt_hash, prompt_text, response_text, response_tokens,
			hit_count, cost_saved, created_at, expires_at,
			prompt_embedding <=> $3 AS distance
		FROM semantic_cache
		WHERE org_id = $1 AND model = $2 AND expires_at > now()
		ORDER BY prompt_embedding <=> $3
		LIMIT 1`, orgID, model_, vectorLiteral(embedding))

	e := &model.CacheEntry{OrgID: orgID, Model: model_}
	var distance float64
	err := row.Scan(&e.CacheID, &e.PromptHash, &e.PromptText, &e.ResponseText, &e.ResponseTokens,
		&e.HitCount, &e.CostSaved, &e.CreatedAt, &e.ExpiresAt, &distance)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	if distance >= threshold {
		return nil, distance, false, nil
	}
	return e, distance, true, nil
}

// RecordCacheHit increments hit_count and accumulates cost_saved.
func (s *Store) RecordCacheHit(ctx context.Context, cacheID string, costSaved float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE semantic_cache SET hit_count = hit_count + 1, cost_saved = cost_saved + $2
		WHERE cache_id = $1`, cacheID, costSaved)
	return err
}

func vectorLiteral(v []float32) string {
	out := "["
	for i, f := range v {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%g", f)
	}
	return out + "]"
}

// UpsertAgent creates or refreshes an agent row, auto-created on first
// observed request.
func (s *Store) UpsertAgent(ctx context.Context, a *model.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, org_id, name, framework, status, rate_limit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), agents.name),
			framework = COALESCE(NULLIF(EXCLUDED.framework, ''), agents.framework)`,
		a.AgentID, a.OrgID, a.Name, a.Framework, string(a.Status), a.RateLimit, a.CreatedAt,
	)
	return err
}

// AgentByID fetches a single agent.
func (s *Store) AgentByID(ctx context.Context, agentID string) (*model.Agent, error) {
	a := &model.Agent{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, org_id, name, framework, status, rate_limit, created_at
		FROM agents WHERE agent_id = $1`, agentID).
		Scan(&a.AgentID, &a.OrgID, &a.Name, &a.Framework, &status, &a.RateLimit, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Status = model.AgentStatus(status)
	return a, nil
}

// AgentsByOrg lists every agent belonging to an organisation.
func (s *Store) AgentsByOrg(ctx context.Context, orgID string) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, org_id, name, framework, status, rate_limit, created_at
		FROM agents WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a := &model.Agent{}
		var status string
		if err := rows.Scan(&a.AgentID, &a.OrgID, &a.Name, &a.Framework, &status, &a.RateLimit, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = model.AgentStatus(status)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetAgentStatus is the Control Plane's pause/resume/revoke mutation.
func (s *Store) SetAgentStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET status = $2 WHERE agent_id = $1`, agentID, string(status))
	return err
}

// SetAllAgentsStatus applies a status to every agent in an org (pause-all /
// resume-all).
func (s *Store) SetAllAgentsStatus(ctx context.Context, orgID string, status model.AgentStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET status = $2 WHERE org_id = $1`, orgID, string(status))
	return err
}

// OrganisationByToken resolves the sole authentication input: an API
// token maps to at most one active organisation.
func (s *Store) OrganisationByToken(ctx context.Context, token string) (*model.Organisation, error) {
	o := &model.Organisation{}
	var settings []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, name, api_token, settings, daily_budget, is_active, created_at
		FROM organizations WHERE api_token = $1 AND is_active = TRUE`, token).
		Scan(&o.OrgID, &o.Name, &o.APIToken, &settings, &o.DailyBudget, &o.IsActive, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &o.Settings)
	}
	return o, nil
}

// PolicyForOrg returns the active policy document for an org, or nil if
// none has been persisted yet.
func (s *Store) PolicyForOrg(ctx context.Context, orgID string) (*model.Policy, error) {
	var document []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM policies WHERE org_id = $1
		ORDER BY version DESC LIMIT 1`, orgID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p model.Policy
	if err := json.Unmarshal(document, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPolicy writes a new policy version for an org.
func (s *Store) UpsertPolicy(ctx context.Context, orgID string, p *model.Policy) error {
	document, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (policy_id, org_id, version, document)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (policy_id) DO UPDATE SET document = EXCLUDED.document, version = EXCLUDED.version, updated_at = now()`,
		p.PolicyID, orgID, p.Version, document)
	return err
}

// InsertAnomaly records a newly detected anomaly.
func (s *Store) InsertAnomaly(ctx context.Context, a *model.Anomaly) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal anomaly details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anomalies (anomaly_id, org_id, agent_id, type, severity, details, detected_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (anomaly_id) DO NOTHING`,
		a.AnomalyID, a.OrgID, a.AgentID, a.Type, string(a.Severity), details, a.DetectedAt, string(a.Status))
	return err
}

// ResolveAnomaly marks an anomaly resolved by the given actor.
func (s *Store) ResolveAnomaly(ctx context.Context, anomalyID, resolvedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE anomalies SET status = 'resolved', resolved_at = now(), resolved_by = $2
		WHERE anomaly_id = $1`, anomalyID, resolvedBy)
	return err
}

// AnomalyTraceExists reports whether an anomaly event has already been
// raised for trace_id, the idempotence check the Anomaly Detector uses to
// dedupe across scans.
func (s *Store) AnomalyTraceExists(ctx context.Context, traceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM anomalies WHERE details->>'trace_id' = $1)`, traceID).Scan(&exists)
	return exists, err
}

// AgentTraceStats returns mean/stddev of total tokens per agent over the
// last 24h, restricted to agents with at least minTraces traces, feeding
// the Anomaly Detector's z-score computation.
type AgentTraceStats struct {
	AgentID string
	OrgID   string
	Mean    float64
	StdDev  float64
	Count   int
}

func (s *Store) AgentTraceStats(ctx context.Context, minTraces int) ([]AgentTraceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, org_id,
			AVG(input_tokens + output_tokens) AS mean,
			COALESCE(STDDEV_POP(input_tokens + output_tokens), 0) AS stddev,
			COUNT(*) AS cnt
		FROM agent_traces
		WHERE ts > now() - interval '24 hours'
		GROUP BY agent_id, org_id
		HAVING COUNT(*) >= $1`, minTraces)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentTraceStats
	for rows.Next() {
		var st AgentTraceStats
		if err := rows.Scan(&st.AgentID, &st.OrgID, &st.Mean, &st.StdDev, &st.Count); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecentAgentTraces returns traces for one agent in the last `minutes`,
// used by the Anomaly Detector's per-trace z-score sweep.
func (s *Store) RecentAgentTraces(ctx context.Context, agentID string, minutes int) ([]*model.Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, org_id, agent_id, input_tokens, output_tokens, ts
		FROM agent_traces
		WHERE agent_id = $1 AND ts > now() - ($2 || ' minutes')::interval`, agentID, minutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []*model.Trace
	for rows.Next() {
		t := &model.Trace{}
		if err := rows.Scan(&t.TraceID, &t.OrgID, &t.AgentID, &t.InputTokens, &t.OutputTokens, &t.Timestamp); err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}
