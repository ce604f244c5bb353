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

// Package policy is the L1 Policy Loader: hot-reload of the policy
// document from a YAML file (watched with fsnotify) and from the
// time-series store, swapped atomically behind a sync.RWMutex the way
// the teacher's agent registry and dynamic policy engine do.
package policy

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"agentswitchboard/internal/logger"
	"agentswitchboard/internal/model"
)

// Store is the minimal persistence dependency the Loader needs: reading
// the current policy document for an org. Updates from the control API
// change only the Loader's in-memory snapshot and are not written back.
type Store interface {
	PolicyForOrg(ctx context.Context, orgID string) (*model.Policy, error)
}

// Loader owns the atomically-swapped policy snapshot per organisation. It
// starts from POLICIES_CONFIG_PATH if set, refreshes periodically from the
// store, and reloads the file on fsnotify change events.
type Loader struct {
	mu       sync.RWMutex
	policies map[string]*model.Policy
	fallback *model.Policy

	store      Store
	configPath string
	shadowEnv  bool
	log        *logger.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Loader. If configPath is non-empty, its contents seed
// the fallback policy and a watcher is started.
func New(store Store, configPath string, shadowEnv bool, log *logger.Logger) *Loader {
	l := &Loader{
		policies:   make(map[string]*model.Policy),
		store:      store,
		configPath: configPath,
		shadowEnv:  shadowEnv,
		log:        log,
		stopCh:     make(chan struct{}),
		fallback: &model.Policy{
			PolicyID:   "default",
			Version:    1,
			ShadowMode: shadowEnv,
			Rules: model.PolicyRules{
				BlockPII:         true,
				BlockDestructive: true,
			},
		},
	}

	if configPath != "" {
		if err := l.loadFromFile(); err != nil && log != nil {
			log.WarnErr("", "", "failed to load initial policy file", err, map[string]interface{}{"path": configPath})
		}
		l.startWatcher()
	}

	l.wg.Add(1)
	go l.reloadRoutine()

	return l
}

// Close stops the file watcher and periodic reload goroutine.
func (l *Loader) Close() {
	close(l.stopCh)
	if l.watcher != nil {
		l.watcher.Close()
	}
	l.wg.Wait()
}

// fileDocument is the on-disk shape of POLICIES_CONFIG_PATH: one policy per
// organisation, keyed by org_id.
type fileDocument struct {
	Policies map[string]model.Policy `yaml:"policies"`
}

func (l *Loader) loadFromFile() error {
	raw, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}

	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}

	l.mu.Lock()
	for orgID, p := range doc.Policies {
		copy := p
		l.policies[orgID] = &copy
	}
	l.mu.Unlock()
	return nil
}

func (l *Loader) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if l.log != nil {
			l.log.WarnErr("", "", "failed to start policy file watcher", err, nil)
		}
		return
	}
	if err := watcher.Add(l.configPath); err != nil {
		if l.log != nil {
			l.log.WarnErr("", "", "failed to watch policy file", err, map[string]interface{}{"path": l.configPath})
		}
		watcher.Close()
		return
	}
	l.watcher = watcher

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := l.loadFromFile(); err != nil && l.log != nil {
						l.log.WarnErr("", "", "failed to reload policy file on change", err, nil)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if l.log != nil {
					l.log.WarnErr("", "", "policy file watcher error", err, nil)
				}
			case <-l.stopCh:
				return
			}
		}
	}()
}

// reloadRoutine periodically refreshes every known org's policy from the
// store, mirroring dynamic_policy_engine's 30s ticker reload.
func (l *Loader) reloadRoutine() {
	defer l.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.refreshFromStore()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Loader) refreshFromStore() {
	if l.store == nil {
		return
	}
	l.mu.RLock()
	orgIDs := make([]string, 0, len(l.policies))
	for orgID := range l.policies {
		orgIDs = append(orgIDs, orgID)
	}
	l.mu.RUnlock()

	for _, orgID := range orgIDs {
		p, err := l.store.PolicyForOrg(context.Background(), orgID)
		if err != nil {
			if l.log != nil {
				l.log.WarnErr(orgID, "", "failed to refresh policy from store", err, nil)
			}
			continue
		}
		if p == nil {
			continue
		}
		l.mu.Lock()
		l.policies[orgID] = p
		l.mu.Unlock()
	}
}

// PolicyFor returns the current policy snapshot for an org, falling back
// to the process-wide default when no org-specific policy is loaded.
func (l *Loader) PolicyFor(orgID string) *model.Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.policies[orgID]; ok {
		return p
	}
	return l.fallback
}

// ShadowMode reports the environment-level shadow mode default, used when
// no org policy overrides it.
func (l *Loader) ShadowMode() bool {
	return l.shadowEnv
}

// Update atomically replaces an org's policy, the control API's
// update-policy mutation. Last-writer-wins, no version check (open
// question (c): concurrent PUT /policies is not serialised).
func (l *Loader) Update(orgID string, p *model.Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[orgID] = p
}
