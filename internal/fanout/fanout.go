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

// Package fanout is the Event Fan-out: a guarded set of long-lived
// subscribers, each with an org filter and an interest set, fed by
// best-effort broadcast and served over a websocket event channel.
package fanout

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentswitchboard/internal/logger"
)

// EventType enumerates the fixed broadcastable event types.
type EventType string

const (
	EventAgentStatus        EventType = "agent_status"
	EventBurnRate           EventType = "burn_rate"
	EventAnomalyDetected    EventType = "anomaly_detected"
	EventTraceEvent         EventType = "trace_event"
	EventGlobalPauseStatus  EventType = "global_pause_status"
	EventAgentBlocked       EventType = "agent_blocked"
	EventPolicyUpdated      EventType = "policy_updated"
	EventWAFRuleUpdated     EventType = "waf_rule_updated"
	EventEmergencyStop      EventType = "emergency_stop"
)

// allEventTypes is the full catalogue, used to seed a subscriber with no
// explicit interest set (interpreted as "everything").
var allEventTypes = []EventType{
	EventAgentStatus, EventBurnRate, EventAnomalyDetected, EventTraceEvent,
	EventGlobalPauseStatus, EventAgentBlocked, EventPolicyUpdated,
	EventWAFRuleUpdated, EventEmergencyStop,
}

// Message is the wire shape pushed to subscribers.
type Message struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// subscribeRequest is the first client message on a new websocket
// connection.
type subscribeRequest struct {
	Action string      `json:"action"`
	OrgID  string      `json:"orgId"`
	Events []EventType `json:"events"`
}

type subscriber struct {
	orgID     string
	interests map[EventType]bool
	send      chan Message
	closed    bool
	mu        sync.Mutex
}

// interested reports whether this subscriber should receive an event of
// type t raised for orgID. An empty orgID marks a global event (e.g.
// emergency_stop) that is not scoped to any tenant, so it matches every
// subscriber regardless of that subscriber's own org filter.
func (s *subscriber) interested(orgID string, t EventType) bool {
	if orgID != "" && s.orgID != "" && s.orgID != orgID {
		return false
	}
	return s.interests[t]
}

// deliver drops the message rather than blocking when the subscriber's
// send buffer is full or already closed — broadcasts are best-effort.
func (s *subscriber) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- msg:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Fanout owns the guarded subscriber set.
type Fanout struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	log         *logger.Logger
	upgrader    websocket.Upgrader
}

// New constructs an empty Fanout.
func New(log *logger.Logger) *Fanout {
	return &Fanout{
		subscribers: make(map[*subscriber]struct{}),
		log:         log,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Emit broadcasts payload under the given type to every interested,
// non-closed subscriber. Best-effort: a full or closed subscriber channel
// is simply skipped.
func (f *Fanout) Emit(t EventType, payload interface{}) {
	msg := Message{Type: t, Payload: payload, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subscribers {
		if sub.interested("", t) {
			sub.deliver(msg)
		}
	}
}

// EmitForOrg broadcasts only to subscribers whose org filter matches (or
// is unset).
func (f *Fanout) EmitForOrg(orgID string, t EventType, payload interface{}) {
	msg := Message{Type: t, Payload: payload, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subscribers {
		if sub.interested(orgID, t) {
			sub.deliver(msg)
		}
	}
}

func interestSet(events []EventType) map[EventType]bool {
	if len(events) == 0 {
		events = allEventTypes
	}
	m := make(map[EventType]bool, len(events))
	for _, e := range events {
		m[e] = true
	}
	return m
}

func (f *Fanout) register(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[sub] = struct{}{}
}

func (f *Fanout) unregister(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, sub)
	sub.close()
}

// Subscribers reports the current subscriber count, for diagnostics.
func (f *Fanout) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// ServeWS upgrades an HTTP request to a websocket event channel. The first
// client message must be {action:"subscribe", orgId?, events?}; the server
// then pushes {type, payload, timestamp} for every matching event.
func (f *Fanout) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if f.log != nil {
			f.log.WarnErr("", "", "websocket upgrade failed", err, nil)
		}
		return
	}
	defer conn.Close()

	var req subscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	if req.Action != "subscribe" {
		return
	}

	sub := &subscriber{orgID: req.OrgID, interests: interestSet(req.Events), send: make(chan Message, 64)}
	f.register(sub)
	defer f.unregister(sub)

	// Drain and discard further client reads so the connection's read side
	// stays serviced; disconnect is detected via the read error.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
