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

package firewall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"agentswitchboard/internal/model"
)

func TestClassifyIntentEmptyBodyIsUnknown(t *testing.T) {
	category, confidence, weight := classifyIntent("   ")
	require.Equal(t, model.IntentUnknown, category)
	require.Zero(t, confidence)
	require.Zero(t, weight)
}

func TestClassifyIntentPicksHighestScoringCategory(t *testing.T) {
	category, _, _ := classifyIntent("please delete this record")
	require.Equal(t, model.IntentDestructive, category)
}

// A single destructive keyword (1 x 1.5 = 1.5) ties exactly with three
// data_access keywords (3 x 0.5 = 1.5). The winner must not depend on Go's
// randomised map-iteration order, so this asserts the same outcome across
// many repeated calls on identical input.
func TestClassifyIntentTieBreakIsDeterministic(t *testing.T) {
	body := "delete, then select query fetch"

	first, firstConf, firstWeight := classifyIntent(body)
	for i := 0; i < 50; i++ {
		category, confidence, weight := classifyIntent(body)
		require.Equal(t, first, category)
		require.Equal(t, firstConf, confidence)
		require.Equal(t, firstWeight, weight)
	}
	require.Equal(t, model.IntentDestructive, first)
}
