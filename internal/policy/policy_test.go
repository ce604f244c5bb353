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

package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentswitchboard/internal/model"
)

type stubStore struct {
	policies map[string]*model.Policy
}

func (s *stubStore) PolicyForOrg(ctx context.Context, orgID string) (*model.Policy, error) {
	return s.policies[orgID], nil
}

func TestPolicyForFallsBackToDefault(t *testing.T) {
	l := New(nil, "", false, nil)
	defer l.Close()

	p := l.PolicyFor("org-unseen")
	require.Equal(t, "default", p.PolicyID)
}

func TestLoadFromFileSeedsPolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	content := `
policies:
  org-1:
    policy_id: pol-1
    version: 2
    shadow_mode: true
    blocked_intents: [destructive]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	l := New(nil, path, false, nil)
	defer l.Close()

	p := l.PolicyFor("org-1")
	require.Equal(t, "pol-1", p.PolicyID)
	require.True(t, p.ShadowMode)
	require.True(t, p.Blocks(model.IntentDestructive))
}

func TestFileWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies:\n  org-1:\n    policy_id: v1\n"), 0644))

	l := New(nil, path, false, nil)
	defer l.Close()
	require.Equal(t, "v1", l.PolicyFor("org-1").PolicyID)

	require.NoError(t, os.WriteFile(path, []byte("policies:\n  org-1:\n    policy_id: v2\n"), 0644))

	require.Eventually(t, func() bool {
		return l.PolicyFor("org-1").PolicyID == "v2"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUpdateIsLastWriterWins(t *testing.T) {
	l := New(nil, "", false, nil)
	defer l.Close()

	l.Update("org-1", &model.Policy{PolicyID: "a"})
	l.Update("org-1", &model.Policy{PolicyID: "b"})

	require.Equal(t, "b", l.PolicyFor("org-1").PolicyID)
}

func TestShadowModeReflectsEnvDefault(t *testing.T) {
	l := New(nil, "", true, nil)
	defer l.Close()
	require.True(t, l.ShadowMode())
}

var _ Store = (*stubStore)(nil)
