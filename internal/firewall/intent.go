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
	"math"
	"strings"

	"agentswitchboard/internal/model"
)

// intentWeights is the fixed category/keyword-weight table from the
// external interface spec.
var intentWeights = map[model.IntentCategory]struct {
	Weight   float64
	Keywords []string
}{
	model.IntentDestructive:      {1.5, []string{"delete", "remove", "drop", "truncate", "destroy", "kill", "terminate"}},
	model.IntentDataAccess:       {0.5, []string{"select", "query", "fetch", "read", "get", "list", "search"}},
	model.IntentDataModification: {1.0, []string{"update", "insert", "upsert", "modify", "change", "set"}},
	model.IntentExternalCall:     {1.2, []string{"http", "api", "webhook", "curl", "fetch", "request", "post"}},
	model.IntentCodeExecution:    {1.4, []string{"exec", "eval", "run", "execute", "shell", "command", "script"}},
	model.IntentFileOperation:    {1.1, []string{"file", "write", "save", "upload", "download", "path", "directory"}},
}

// intentCategoryOrder fixes the tie-break order for classifyIntent: Go
// randomises map-iteration order, so ranging over intentWeights directly
// would let two categories with equal scores flip the winner between
// calls on identical input.
var intentCategoryOrder = []model.IntentCategory{
	model.IntentDestructive,
	model.IntentCodeExecution,
	model.IntentExternalCall,
	model.IntentFileOperation,
	model.IntentDataModification,
	model.IntentDataAccess,
}

// classifyIntent tokenises body once, scores each category by
// Σ matched_keyword × weight, and returns the winning category and the
// confidence min(0.95, max_score/5). Empty input yields unknown, 0.
func classifyIntent(body string) (model.IntentCategory, float64, float64) {
	if strings.TrimSpace(body) == "" {
		return model.IntentUnknown, 0, 0
	}

	lower := strings.ToLower(body)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	tokenSet := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok]++
	}

	var bestCategory model.IntentCategory = model.IntentUnknown
	var bestScore, bestWeight float64

	for _, category := range intentCategoryOrder {
		def := intentWeights[category]
		var matched float64
		for _, kw := range def.Keywords {
			if tokenSet[kw] > 0 {
				matched++
			}
		}
		score := matched * def.Weight
		if score > bestScore {
			bestScore = score
			bestCategory = category
			bestWeight = def.Weight
		}
	}

	if bestScore == 0 {
		return model.IntentUnknown, 0, 0
	}

	confidence := math.Min(0.95, bestScore/5)
	return bestCategory, confidence, bestWeight
}
