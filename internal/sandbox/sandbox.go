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

// Package sandbox is the Worker Sandbox: bounded execution of registered
// Lua scripts on the pre-request and post-response hooks.
package sandbox

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"agentswitchboard/internal/logger"
)

// Trigger is when a script runs in the request lifecycle.
type Trigger string

const (
	PreRequest   Trigger = "pre_request"
	PostResponse Trigger = "post_response"
)

const execTimeout = 50 * time.Millisecond

// Script is a registered user script.
type Script struct {
	ID      string
	Trigger Trigger
	Order   int
	Enabled bool
	Code    string
}

// Sandbox owns the registered script set and runs them against deep copies
// of the request/response/env, skipping on timeout or error without
// propagating the failure.
type Sandbox struct {
	mu      sync.RWMutex
	scripts map[string]*Script
	log     *logger.Logger
}

// New constructs an empty Sandbox.
func New(log *logger.Logger) *Sandbox {
	return &Sandbox{scripts: make(map[string]*Script), log: log}
}

// Register adds or replaces a script by id.
func (s *Sandbox) Register(script *Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[script.ID] = script
}

// Deregister removes a script by id.
func (s *Sandbox) Deregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scripts, id)
}

// SetEnabled toggles a script's enabled flag; returns false if the id is
// unknown.
func (s *Sandbox) SetEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[id]
	if !ok {
		return false
	}
	sc.Enabled = enabled
	return true
}

func (s *Sandbox) ordered(trigger Trigger) []*Script {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Script
	for _, sc := range s.scripts {
		if sc.Enabled && sc.Trigger == trigger {
			cp := *sc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// deepCopy round-trips through JSON so the script can never alias the
// caller's live request/response/env maps.
func deepCopy(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{})
	_ = json.Unmarshal(raw, &out)
	return out
}

func toLuaValue(L *lua.LState, v interface{}) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, val := range t {
			L.SetField(tbl, k, toLuaValue(L, val))
		}
		return tbl
	case []interface{}:
		tbl := L.NewTable()
		for i, val := range t {
			L.RawSetInt(tbl, i+1, toLuaValue(L, val))
		}
		return tbl
	default:
		return lua.LNil
	}
}

func fromLuaValue(v lua.LValue) interface{} {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		if t.Len() > 0 {
			arr := make([]interface{}, 0, t.Len())
			t.ForEach(func(_, val lua.LValue) { arr = append(arr, fromLuaValue(val)) })
			return arr
		}
		m := make(map[string]interface{})
		t.ForEach(func(key, val lua.LValue) { m[key.String()] = fromLuaValue(val) })
		return m
	default:
		return nil
	}
}

// run executes one script with a 50ms hard timeout. Returns the possibly
// modified request/response and whether the script set modified=true.
// Any error, panic, or timeout is swallowed — the script is skipped.
func (s *Sandbox) run(parent context.Context, script *Script, req, resp, env map[string]interface{}) (outReq, outResp map[string]interface{}, modified bool) {
	outReq, outResp = req, resp

	ctx, cancel := context.WithTimeout(parent, execTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Warn("", "", "sandbox script panicked", map[string]interface{}{"script_id": script.ID, "panic": r})
			}
			modified = false
		}
	}()

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("request", toLuaValue(L, req))
	if resp != nil {
		L.SetGlobal("response", toLuaValue(L, resp))
	}
	L.SetGlobal("env", toLuaValue(L, env))
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.ToString(1)
		if s.log != nil {
			s.log.Info("", "", msg, map[string]interface{}{"script_id": script.ID})
		}
		return 0
	}))

	if err := L.DoString(script.Code); err != nil {
		if s.log != nil {
			s.log.WarnErr("", "", "sandbox script execution failed", err, map[string]interface{}{"script_id": script.ID})
		}
		return req, resp, false
	}

	if lua.LVAsBool(L.GetGlobal("modified")) {
		if v := L.GetGlobal("request"); v != lua.LNil {
			if m, ok := fromLuaValue(v).(map[string]interface{}); ok {
				outReq = m
			}
		}
		if v := L.GetGlobal("response"); v != lua.LNil {
			if m, ok := fromLuaValue(v).(map[string]interface{}); ok {
				outResp = m
			}
		}
		return outReq, outResp, true
	}

	return req, resp, false
}

// RunPreRequest runs all enabled pre_request scripts in order. If one sets
// a response, the pipeline short-circuits and that response is returned
// immediately without running later scripts.
func (s *Sandbox) RunPreRequest(ctx context.Context, req, env map[string]interface{}) (outReq map[string]interface{}, shortCircuit map[string]interface{}, didShortCircuit bool) {
	working := deepCopy(req)
	envCopy := deepCopy(env)

	for _, script := range s.ordered(PreRequest) {
		newReq, newResp, modified := s.run(ctx, script, working, nil, envCopy)
		if !modified {
			continue
		}
		working = newReq
		if newResp != nil {
			return working, newResp, true
		}
	}
	return working, nil, false
}

// RunPostResponse runs all enabled post_response scripts in order,
// threading the (possibly modified) response through each.
func (s *Sandbox) RunPostResponse(ctx context.Context, req, resp, env map[string]interface{}) map[string]interface{} {
	workingReq := deepCopy(req)
	workingResp := deepCopy(resp)
	envCopy := deepCopy(env)

	for _, script := range s.ordered(PostResponse) {
		_, newResp, modified := s.run(ctx, script, workingReq, workingResp, envCopy)
		if modified && newResp != nil {
			workingResp = newResp
		}
	}
	return workingResp
}
