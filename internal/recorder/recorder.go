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

// Package recorder is the Flight Recorder: buffered, batched, at-least-once
// trace ingestion with cost derivation and reasoning extraction, bypassing
// the buffer entirely for denials so they land durably before the response
// reaches the caller.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentswitchboard/internal/logger"
	"agentswitchboard/internal/model"
)

const (
	flushInterval   = 1 * time.Second
	maxBatchSize    = 100
	reasoningMaxLen = 500
)

// Store is the durable trace + agent dependency.
type Store interface {
	InsertTrace(ctx context.Context, t *model.Trace) error
	InsertTracesBatch(ctx context.Context, traces []*model.Trace) error
	UpsertAgent(ctx context.Context, a *model.Agent) error
}

// Context carries the span identity and start time a caller obtains from
// CreateContext and threads through to Record.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	StartTime    time.Time
}

// Message is the narrow accessor used for reasoning-step extraction from
// the assistant's own prior turns in the request.
type Message struct {
	Role    string
	Content string
}

// toolCallEnvelope mirrors the OpenAI-compatible response shape far enough
// to pull response.choices[0].message.tool_calls without a full schema.
type toolCallEnvelope struct {
	Choices []struct {
		Message struct {
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Input is everything Record needs beyond the span context; fields the
// caller already knows (token counts, cost) may be left zero to trigger
// derivation.
type Input struct {
	OrgID          string
	AgentID        string
	AgentName      string
	AgentFramework string
	RequestType    string
	IntentCategory model.IntentCategory
	RiskScore      float64
	ModelProvider  string
	ModelName      string
	RequestBody    []byte
	ResponseBody   []byte
	RequestMessages []Message
	InputTokens    int
	OutputTokens   int
	PolicyApplied  string
	ActionTaken    model.ActionTaken
	BlockReason    string
	IsShadowEvent  bool
	ClientIP       string
	UserAgent      string
	CustomMetadata map[string]interface{}
}

// Recorder owns the in-memory flush buffer and the set of agents already
// upserted this process lifetime.
type Recorder struct {
	store Store
	log   *logger.Logger

	mu     sync.Mutex
	buffer []*model.Trace

	seenMu sync.Mutex
	seen   map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Recorder and starts its background flush loop.
func New(store Store, log *logger.Logger) *Recorder {
	r := &Recorder{store: store, log: log, seen: make(map[string]bool), stopCh: make(chan struct{})}
	r.wg.Add(1)
	go r.flushLoop()
	return r
}

// Close stops the flush loop, then flushes batches until the buffer is
// empty or a batch write fails.
func (r *Recorder) Close() {
	close(r.stopCh)
	r.wg.Wait()
	for {
		r.mu.Lock()
		before := len(r.buffer)
		r.mu.Unlock()
		if before == 0 {
			return
		}
		r.flush(context.Background())
		r.mu.Lock()
		after := len(r.buffer)
		r.mu.Unlock()
		if after >= before {
			return
		}
	}
}

// CreateContext starts a new span, optionally nested under parentSpan.
func CreateContext(parentSpan string) *Context {
	return &Context{TraceID: uuid.NewString(), SpanID: uuid.NewString(), ParentSpanID: parentSpan, StartTime: time.Now()}
}

func estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Role) + len(m.Content)
	}
	return int(math.Ceil(float64(total) / 4))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func extractReasoningSteps(messages []Message) []string {
	var steps []string
	for _, m := range messages {
		if m.Role == "assistant" {
			steps = append(steps, truncate(m.Content, reasoningMaxLen))
		}
	}
	return steps
}

func extractToolCalls(responseBody []byte) []model.ToolCall {
	if len(responseBody) == 0 {
		return nil
	}
	var env toolCallEnvelope
	if err := json.Unmarshal(responseBody, &env); err != nil || len(env.Choices) == 0 {
		return nil
	}
	var calls []model.ToolCall
	for _, tc := range env.Choices[0].Message.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return calls
}

func (r *Recorder) upsertAgentOnce(ctx context.Context, orgID, agentID, name, framework string) {
	if agentID == "" {
		return
	}
	r.seenMu.Lock()
	alreadySeen := r.seen[agentID]
	r.seenMu.Unlock()
	if alreadySeen {
		return
	}
	if err := r.store.UpsertAgent(ctx, &model.Agent{AgentID: agentID, OrgID: orgID, Name: name, Framework: framework, Status: model.AgentActive}); err != nil {
		if r.log != nil {
			r.log.WarnErr(orgID, agentID, "agent upsert on first sight failed", err, nil)
		}
		return
	}
	r.seenMu.Lock()
	r.seen[agentID] = true
	r.seenMu.Unlock()
}

// Record derives duration, token estimates, cost, reasoning steps, and tool
// calls, then writes the trace per the immediate/buffered policy: blocked
// and shadow_blocked traces are written synchronously so they are durable
// before the caller sees the denial; everything else buffers.
func (r *Recorder) Record(ctx context.Context, rc *Context, in Input) *model.Trace {
	inputTokens := in.InputTokens
	if inputTokens == 0 {
		inputTokens = estimateTokens(in.RequestMessages)
	}

	t := &model.Trace{
		TraceID:        rc.TraceID,
		SpanID:         rc.SpanID,
		ParentSpanID:   rc.ParentSpanID,
		Timestamp:      time.Now().UTC(),
		DurationMS:     float64(time.Since(rc.StartTime).Microseconds()) / 1000.0,
		OrgID:          in.OrgID,
		AgentID:        in.AgentID,
		AgentName:      in.AgentName,
		AgentFramework: in.AgentFramework,
		RequestType:    in.RequestType,
		IntentCategory: in.IntentCategory,
		RiskScore:      in.RiskScore,
		ModelProvider:  in.ModelProvider,
		ModelName:      in.ModelName,
		InputTokens:    inputTokens,
		OutputTokens:   in.OutputTokens,
		CostUSD:        deriveCost(in.ModelName, inputTokens, in.OutputTokens),
		RequestBody:    in.RequestBody,
		ResponseBody:   in.ResponseBody,
		ReasoningSteps: extractReasoningSteps(in.RequestMessages),
		ToolCalls:      extractToolCalls(in.ResponseBody),
		PolicyApplied:  in.PolicyApplied,
		ActionTaken:    in.ActionTaken,
		BlockReason:    in.BlockReason,
		IsShadowEvent:  in.IsShadowEvent,
		ClientIP:       in.ClientIP,
		UserAgent:      in.UserAgent,
		CustomMetadata: in.CustomMetadata,
	}

	r.upsertAgentOnce(ctx, in.OrgID, in.AgentID, in.AgentName, in.AgentFramework)

	if t.ActionTaken == model.ActionBlocked || t.ActionTaken == model.ActionShadowBlocked {
		if err := r.store.InsertTrace(ctx, t); err != nil && r.log != nil {
			r.log.WarnErr(in.OrgID, t.TraceID, "immediate trace write failed", err, nil)
		}
		return t
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, t)
	r.mu.Unlock()
	return t
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// flush writes up to maxBatchSize buffered traces. On failure the batch is
// re-prepended so ordering is preserved for the next attempt, at the cost
// of possible duplicate inserts under partial failure — acceptable since
// trace rows carry unique ids.
func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	n := maxBatchSize
	if n > len(r.buffer) {
		n = len(r.buffer)
	}
	batch := r.buffer[:n]
	r.buffer = r.buffer[n:]
	r.mu.Unlock()

	if err := r.store.InsertTracesBatch(ctx, batch); err != nil {
		if r.log != nil {
			r.log.WarnErr("", "", fmt.Sprintf("trace batch write failed (%d entries)", len(batch)), err, nil)
		}
		r.mu.Lock()
		r.buffer = append(batch, r.buffer...)
		r.mu.Unlock()
	}
}
