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

package anomaly

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"agentswitchboard/internal/model"
	"agentswitchboard/internal/store/timeseries"
)

type stubStore struct {
	mu         sync.Mutex
	stats      []timeseries.AgentTraceStats
	traces     map[string][]*model.Trace
	existing   map[string]bool
	inserted   []*model.Anomaly
}

func (s *stubStore) AgentTraceStats(ctx context.Context, minTraces int) ([]timeseries.AgentTraceStats, error) {
	return s.stats, nil
}

func (s *stubStore) RecentAgentTraces(ctx context.Context, agentID string, minutes int) ([]*model.Trace, error) {
	return s.traces[agentID], nil
}

func (s *stubStore) AnomalyTraceExists(ctx context.Context, traceID string) (bool, error) {
	return s.existing[traceID], nil
}

func (s *stubStore) InsertAnomaly(ctx context.Context, a *model.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, a)
	return nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *stubNotifier) EmitForOrg(orgID, eventType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func TestScanFlagsHighZScoreTrace(t *testing.T) {
	store := &stubStore{
		stats: []timeseries.AgentTraceStats{{AgentID: "agent-1", OrgID: "org-1", Mean: 100, StdDev: 10, Count: 20}},
		traces: map[string][]*model.Trace{
			"agent-1": {{TraceID: "t-1", InputTokens: 200, OutputTokens: 200}},
		},
		existing: map[string]bool{},
	}
	notifier := &stubNotifier{}
	d := New(store, notifier, nil)

	d.Scan(context.Background())

	require.Len(t, store.inserted, 1)
	require.Equal(t, model.SeverityCritical, store.inserted[0].Severity)
	require.Equal(t, []string{"anomaly_detected"}, notifier.events)
}

func TestScanSkipsTraceBelowThreshold(t *testing.T) {
	store := &stubStore{
		stats: []timeseries.AgentTraceStats{{AgentID: "agent-1", OrgID: "org-1", Mean: 100, StdDev: 50, Count: 20}},
		traces: map[string][]*model.Trace{
			"agent-1": {{TraceID: "t-1", InputTokens: 60, OutputTokens: 60}},
		},
		existing: map[string]bool{},
	}
	notifier := &stubNotifier{}
	d := New(store, notifier, nil)

	d.Scan(context.Background())
	require.Empty(t, store.inserted)
	require.Empty(t, notifier.events)
}

func TestScanAssignsHighSeverityBetweenThresholds(t *testing.T) {
	store := &stubStore{
		stats: []timeseries.AgentTraceStats{{AgentID: "agent-1", OrgID: "org-1", Mean: 100, StdDev: 10, Count: 20}},
		traces: map[string][]*model.Trace{
			"agent-1": {{TraceID: "t-1", InputTokens: 135, OutputTokens: 0}},
		},
		existing: map[string]bool{},
	}
	d := New(store, &stubNotifier{}, nil)
	d.Scan(context.Background())

	require.Len(t, store.inserted, 1)
	require.Equal(t, model.SeverityHigh, store.inserted[0].Severity)
}

func TestScanIsIdempotentPerTrace(t *testing.T) {
	store := &stubStore{
		stats: []timeseries.AgentTraceStats{{AgentID: "agent-1", OrgID: "org-1", Mean: 100, StdDev: 10, Count: 20}},
		traces: map[string][]*model.Trace{
			"agent-1": {{TraceID: "t-1", InputTokens: 300, OutputTokens: 0}},
		},
		existing: map[string]bool{"t-1": true},
	}
	notifier := &stubNotifier{}
	d := New(store, notifier, nil)

	d.Scan(context.Background())
	require.Empty(t, store.inserted)
	require.Empty(t, notifier.events)
}

func TestZScoreZeroStdDevIsZero(t *testing.T) {
	require.Equal(t, 0.0, zScore(500, 100, 0))
}

func TestStartStopDoesNotPanic(t *testing.T) {
	store := &stubStore{}
	d := New(store, &stubNotifier{}, nil)
	d.Start(context.Background())
	d.Stop()
}
