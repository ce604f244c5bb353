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

// Package anomaly is the Anomaly Detector: a periodic statistical scan
// over recent traces that flags per-agent token-volume outliers.
package anomaly

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"agentswitchboard/internal/logger"
	"agentswitchboard/internal/model"
	"agentswitchboard/internal/store/timeseries"
)

const (
	scanInterval      = 60 * time.Second
	minTraces         = 10
	recentWindowMins  = 5
	zScoreHighThresh  = 3.0
	zScoreCritThresh  = 5.0
)

// Store is the persistence dependency.
type Store interface {
	AgentTraceStats(ctx context.Context, minTraces int) ([]timeseries.AgentTraceStats, error)
	RecentAgentTraces(ctx context.Context, agentID string, minutes int) ([]*model.Trace, error)
	AnomalyTraceExists(ctx context.Context, traceID string) (bool, error)
	InsertAnomaly(ctx context.Context, a *model.Anomaly) error
}

// Notifier is the fan-out dependency; emitted on every new anomaly. The
// event type is passed through as a string so this package does not need
// to import the fan-out event-type enum; cmd/switchboard adapts its
// *fanout.Fanout to this interface when wiring the detector.
type Notifier interface {
	EmitForOrg(orgID string, eventType string, payload interface{})
}

// Detector owns the periodic scan loop.
type Detector struct {
	store    Store
	notify   Notifier
	log      *logger.Logger
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Detector with the spec's 60s scan interval.
func New(store Store, notify Notifier, log *logger.Logger) *Detector {
	return &Detector{store: store, notify: notify, log: log, interval: scanInterval, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start runs the scan loop until Stop is called.
func (d *Detector) Start(ctx context.Context) {
	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.scan(ctx)
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop ends the scan loop and waits for the in-flight scan to finish.
func (d *Detector) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func zScore(value, mean, stddev float64) float64 {
	if stddev == 0 {
		return 0
	}
	return math.Abs(value-mean) / stddev
}

func severityFor(z float64) model.Severity {
	if z > zScoreCritThresh {
		return model.SeverityCritical
	}
	return model.SeverityHigh
}

// Scan runs one pass immediately; exported so callers (and tests) don't
// have to wait out a real interval.
func (d *Detector) Scan(ctx context.Context) {
	d.scan(ctx)
}

func (d *Detector) scan(ctx context.Context) {
	stats, err := d.store.AgentTraceStats(ctx, minTraces)
	if err != nil {
		if d.log != nil {
			d.log.WarnErr("", "", "anomaly scan: failed to load agent trace stats", err, nil)
		}
		return
	}

	for _, st := range stats {
		traces, err := d.store.RecentAgentTraces(ctx, st.AgentID, recentWindowMins)
		if err != nil {
			if d.log != nil {
				d.log.WarnErr(st.OrgID, st.AgentID, "anomaly scan: failed to load recent traces", err, nil)
			}
			continue
		}

		for _, t := range traces {
			total := float64(t.InputTokens + t.OutputTokens)
			z := zScore(total, st.Mean, st.StdDev)
			if z <= zScoreHighThresh {
				continue
			}

			exists, err := d.store.AnomalyTraceExists(ctx, t.TraceID)
			if err != nil {
				if d.log != nil {
					d.log.WarnErr(st.OrgID, st.AgentID, "anomaly scan: dedupe check failed", err, nil)
				}
				continue
			}
			if exists {
				continue
			}

			a := &model.Anomaly{
				AnomalyID:  uuid.NewString(),
				OrgID:      st.OrgID,
				AgentID:    st.AgentID,
				Type:       "token_volume_outlier",
				Severity:   severityFor(z),
				Details:    map[string]interface{}{"trace_id": t.TraceID, "z_score": z, "total_tokens": total, "mean": st.Mean, "stddev": st.StdDev},
				DetectedAt: time.Now().UTC(),
				Status:     model.AnomalyActive,
			}

			if err := d.store.InsertAnomaly(ctx, a); err != nil {
				if d.log != nil {
					d.log.WarnErr(st.OrgID, st.AgentID, "anomaly scan: failed to persist anomaly", err, nil)
				}
				continue
			}

			if d.notify != nil {
				d.notify.EmitForOrg(st.OrgID, "anomaly_detected", a)
			}
		}
	}
}
